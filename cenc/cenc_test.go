package cenc

import (
	"bytes"
	"testing"

	mp4 "github.com/gomuxer/isomux"
)

func TestSplitNal(t *testing.T) {
	cases := []struct {
		size  uint32
		clear uint16
		enc   uint32
	}{
		{0, 0, 0},
		{111, 111, 0},
		{112, 96, 16},
		{125, 109, 16}, // 96 + (125 & 0xf) = 109
		{1000, 104, 896},
	}
	for _, c := range cases {
		clear, enc := SplitNal(c.size)
		if clear != c.clear || enc != c.enc {
			t.Errorf("SplitNal(%d) = (%d,%d), want (%d,%d)", c.size, clear, enc, c.clear, c.enc)
		}
		if uint32(clear)+enc != c.size {
			t.Errorf("SplitNal(%d): split does not cover the sample", c.size)
		}
	}
}

func TestBuildSampleInfo(t *testing.T) {
	info := BuildSampleInfo([]uint32{50, 200})
	if info == nil {
		t.Fatal("nil info for subsampled sample")
	}
	if info.ClearBytes[0] != 50 || info.EncBytes[0] != 0 {
		t.Fatalf("small NAL split = (%d,%d), want fully clear", info.ClearBytes[0], info.EncBytes[0])
	}
	if info.ClearBytes[1] != 96+8 || info.EncBytes[1] != 200-104 {
		t.Fatalf("large NAL split = (%d,%d)", info.ClearBytes[1], info.EncBytes[1])
	}
	if BuildSampleInfo(nil) != nil {
		t.Fatal("expected nil info for whole-sample encryption")
	}
}

func TestCTREncryptorRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 16)
	iv := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	enc, err := NewCTREncryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}

	plain := make([]byte, 300)
	for i := range plain {
		plain[i] = byte(i)
	}
	buf := append([]byte(nil), plain...)
	info := &SubsampleInfo{ClearBytes: []uint16{100}, EncBytes: []uint32{200}}
	if err := enc.Encrypt(buf, info); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:100], plain[:100]) {
		t.Fatal("clear range was modified")
	}
	if bytes.Equal(buf[100:], plain[100:]) {
		t.Fatal("encrypted range unchanged")
	}

	// CTR is symmetric: re-running with the same IV restores the plaintext.
	dec, err := NewCTREncryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.Encrypt(buf, info); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, plain) {
		t.Fatal("round trip did not restore plaintext")
	}
}

func TestCTREncryptorAdvanceIV(t *testing.T) {
	enc, err := NewCTREncryptor(bytes.Repeat([]byte{1}, 16), []byte{0, 0, 0, 0, 0, 0, 0, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	before := enc.CurrentIV()
	enc.AdvanceIV()
	after := enc.CurrentIV()
	if bytes.Equal(before, after) {
		t.Fatal("AdvanceIV did not change the IV")
	}
	want := []byte{0, 0, 0, 0, 0, 0, 1, 0}
	if !bytes.Equal(after, want) {
		t.Fatalf("IV after carry = %x, want %x", after, want)
	}
}

func TestBuildAuxBoxesCENC(t *testing.T) {
	opt := EncOptions{Style: StyleCENC, IVSize: 8, OriginalFormat: [4]byte{'a', 'v', 'c', '1'}}
	aux := FragmentAuxInfo{IVSize: 8, Entries: []mp4.SencEntry{
		{IV: make([]byte, 8), ClearBytes: []uint16{96}, EncBytes: []uint32{400}},
		{IV: make([]byte, 8), ClearBytes: []uint16{100}, EncBytes: []uint32{300}},
	}}
	boxes := BuildAuxBoxes(opt, aux)
	if len(boxes) != 3 {
		t.Fatalf("box count = %d, want saiz+saio+senc", len(boxes))
	}
	saiz, saio, senc := boxes[0], boxes[1], boxes[2]
	if saiz.Type != mp4.TypeSaiz || saio.Type != mp4.TypeSaio || senc.Type != mp4.TypeSenc {
		t.Fatalf("box types = %s %s %s", saiz.Type, saio.Type, senc.Type)
	}
	// Every sample has one subsample: 8 (IV) + 2 (count) + 6 per pair, constant.
	if saiz.Saiz.DefaultSampleInfoSize != 16 {
		t.Fatalf("default_sample_info_size = %d, want 16", saiz.Saiz.DefaultSampleInfoSize)
	}
	if len(saiz.Saiz.SampleInfoSizes) != 0 {
		t.Fatal("per-sample sizes present despite constant size")
	}
	if senc.Flags&0x2 == 0 {
		t.Fatal("senc missing subsample flag")
	}
	if len(saio.Saio.Offsets) != 1 {
		t.Fatalf("saio offsets = %d, want 1", len(saio.Saio.Offsets))
	}
}

func TestBuildAuxBoxesVariedSizes(t *testing.T) {
	opt := EncOptions{Style: StyleCENC, IVSize: 8}
	aux := FragmentAuxInfo{IVSize: 8, Entries: []mp4.SencEntry{
		{IV: make([]byte, 8), ClearBytes: []uint16{96}, EncBytes: []uint32{400}},
		{IV: make([]byte, 8), ClearBytes: []uint16{50, 96}, EncBytes: []uint32{0, 200}},
	}}
	boxes := BuildAuxBoxes(opt, aux)
	saiz := boxes[0].Saiz
	if saiz.DefaultSampleInfoSize != 0 {
		t.Fatalf("default_sample_info_size = %d, want 0 with varied sizes", saiz.DefaultSampleInfoSize)
	}
	if len(saiz.SampleInfoSizes) != 2 || saiz.SampleInfoSizes[0] != 16 || saiz.SampleInfoSizes[1] != 22 {
		t.Fatalf("sample info sizes = %v, want [16 22]", saiz.SampleInfoSizes)
	}
}

func TestBuildAuxBoxesPIFF(t *testing.T) {
	opt := EncOptions{Style: StylePIFF, IVSize: 8}
	aux := FragmentAuxInfo{IVSize: 8, Entries: []mp4.SencEntry{{IV: []byte{1, 2, 3, 4, 5, 6, 7, 8}}}}
	boxes := BuildAuxBoxes(opt, aux)
	if len(boxes) != 1 {
		t.Fatalf("box count = %d, want single uuid box", len(boxes))
	}
	if boxes[0].Type != mp4.TypeUUID {
		t.Fatalf("box type = %s, want uuid", boxes[0].Type)
	}
	raw := boxes[0].Raw
	if !bytes.Equal(raw[:16], piffSampleEncryptionUUID[:]) {
		t.Fatal("wrong PIFF extended type")
	}
	// version/flags (no subsamples), then sample_count, then the IV.
	if be.Uint32(raw[16:20]) != 0 {
		t.Fatalf("flags = %#x, want 0 without subsamples", be.Uint32(raw[16:20]))
	}
	if be.Uint32(raw[20:24]) != 1 {
		t.Fatalf("sample_count = %d", be.Uint32(raw[20:24]))
	}
	if !bytes.Equal(raw[24:32], aux.Entries[0].IV) {
		t.Fatal("IV not carried through")
	}
}

func TestBuildSinf(t *testing.T) {
	opt := EncOptions{Style: StyleCENC, IVSize: 16, OriginalFormat: [4]byte{'m', 'p', '4', 'a'}, KeyID: [16]byte{9}}
	sinf, err := BuildSinf(opt)
	if err != nil {
		t.Fatal(err)
	}
	if sinf.Type != mp4.TypeSinf || len(sinf.Children) != 3 {
		t.Fatalf("sinf shape = %s/%d children", sinf.Type, len(sinf.Children))
	}
	frma, schm, schi := sinf.Children[0], sinf.Children[1], sinf.Children[2]
	if frma.Type != mp4.TypeFrma || !bytes.Equal(frma.Raw, []byte("mp4a")) {
		t.Fatalf("frma = %s %q", frma.Type, frma.Raw)
	}
	if schm.Schm.SchemeType != [4]byte{'c', 'e', 'n', 'c'} || schm.Schm.SchemeVersion != 0x00010000 {
		t.Fatalf("schm = %+v", schm.Schm)
	}
	tenc := schi.Children[0]
	if tenc.Type != mp4.TypeTenc {
		t.Fatalf("schi child = %s, want tenc", tenc.Type)
	}
	if tenc.Tenc.DefaultPerSampleIVSize != 16 || tenc.Tenc.DefaultKID != opt.KeyID || tenc.Tenc.DefaultIsProtected != 1 {
		t.Fatalf("tenc = %+v", tenc.Tenc)
	}

	if _, err := BuildSinf(EncOptions{}); err == nil {
		t.Fatal("BuildSinf accepted an unset style")
	}
}

func TestParseSencRoundTrip(t *testing.T) {
	senc := &mp4.Box{Type: mp4.TypeSenc, Flags: 0x2, Senc: &mp4.Senc{IVSize: 8, Entries: []mp4.SencEntry{
		{IV: []byte{1, 2, 3, 4, 5, 6, 7, 8}, ClearBytes: []uint16{96}, EncBytes: []uint32{416}},
	}}}
	buf, err := mp4.Encode(senc)
	if err != nil {
		t.Fatal(err)
	}
	// Skip the 12-byte full-box header to get the raw body ParseSenc expects.
	parsed, err := mp4.ParseSenc(buf[12:], 0x2, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.Entries) != 1 {
		t.Fatalf("entries = %d", len(parsed.Entries))
	}
	e := parsed.Entries[0]
	if !bytes.Equal(e.IV, senc.Senc.Entries[0].IV) || e.ClearBytes[0] != 96 || e.EncBytes[0] != 416 {
		t.Fatalf("entry = %+v", e)
	}
}
