package ac3

import "testing"

// buildAC3Frame constructs a minimal legacy AC-3 syncframe header
// (fscod=0 48kHz, frmsizecod=0, bsid=8, bsmod=0, acmod=2 stereo, lfeon=0)
// padded with zero bytes out to the derived frame size.
func buildAC3Frame() []byte {
	frameSize := int(ac3FrameSizeTbl[0][0]) * 2 // frmsizecod=0, fscod=0
	buf := make([]byte, frameSize)
	buf[0], buf[1] = 0x0b, 0x77
	buf[2], buf[3] = 0, 0 // crc1
	// fscod(2)=00, frmsizecod(6)=000000
	buf[4] = 0x00
	// bsid(5)=01000, bsmod(3)=000
	buf[5] = 0x08 << 3
	// acmod(3)=010(stereo, no cmix/surmix), lfeon(1)=0, remaining padded
	buf[6] = 0x02 << 5
	return buf
}

func TestParseAC3Header(t *testing.T) {
	frame := buildAC3Frame()
	h, err := ParseAC3Header(frame)
	if err != nil {
		t.Fatalf("ParseAC3Header: %v", err)
	}
	if h.Fscod != 0 || h.Bsid != 8 || h.Acmod != 2 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.SampleRate != 48000 {
		t.Fatalf("SampleRate = %d, want 48000", h.SampleRate)
	}
	if h.Channels != 2 {
		t.Fatalf("Channels = %d, want 2", h.Channels)
	}
}

func TestPeekBsid_AC3Path(t *testing.T) {
	frame := buildAC3Frame()
	bsid, err := PeekBsid(frame)
	if err != nil {
		t.Fatalf("PeekBsid: %v", err)
	}
	if bsid != 8 {
		t.Fatalf("bsid = %d, want 8", bsid)
	}
}

func TestParseFrame_DispatchesAC3(t *testing.T) {
	frame := buildAC3Frame()
	f, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.IsEac3 {
		t.Fatalf("expected legacy AC-3 path")
	}
	if f.AC3.Bsid != 8 {
		t.Fatalf("Bsid = %d, want 8", f.AC3.Bsid)
	}
}

func TestBuildDac3RoundTrips(t *testing.T) {
	h := &AC3Header{Fscod: 0, Bsid: 8, Bsmod: 0, Acmod: 2, Lfeon: false}
	h.Bitrate = ac3BitrateTbl[0]
	dsi := BuildDac3(h)
	if len(dsi) != 3 {
		t.Fatalf("len(dsi) = %d, want 3", len(dsi))
	}
	if dsi[0]>>6 != h.Fscod {
		t.Fatalf("fscod mismatch in dsi[0]")
	}
}
