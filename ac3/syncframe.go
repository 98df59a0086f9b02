// Package ac3 implements the AC-3/E-AC-3 syncframe parser, substream
// matrix, and dac3/dec3 DSI assembly (spec §4.5).
package ac3

import (
	"errors"

	"github.com/gomuxer/isomux/bitio"
)

// ErrNoSync reports a lost AC-3/E-AC-3 resync (spec §7 SyncError,
// recoverable by the caller via a warning + continued scan).
var ErrNoSync = errors.New("ac3: sync lost")

// ErrShortFrame reports a truncated syncframe.
var ErrShortFrame = errors.New("ac3: truncated frame")

// fscod_2_freq_tbl maps fscod (2 bits) to sample rate (ATSC A/52 §5.3.1).
var fscod2FreqTbl = [4]uint32{48000, 44100, 32000, 0}

// ac3FrameSizeTbl[frmsizecod][fscod] gives the 16-bit-word frame size;
// byte size is ×2 (ATSC A/52 Table 5.18).
var ac3FrameSizeTbl = [38][3]uint16{
	{64, 69, 96}, {64, 70, 96}, {80, 87, 120}, {80, 88, 120},
	{96, 104, 144}, {96, 105, 144}, {112, 121, 168}, {112, 122, 168},
	{128, 139, 192}, {128, 140, 192}, {160, 174, 240}, {160, 175, 240},
	{192, 208, 288}, {192, 209, 288}, {224, 243, 336}, {224, 244, 336},
	{256, 278, 384}, {256, 279, 384}, {320, 348, 480}, {320, 349, 480},
	{384, 417, 576}, {384, 418, 576}, {448, 487, 672}, {448, 488, 672},
	{512, 557, 768}, {512, 558, 768}, {640, 696, 960}, {640, 697, 960},
	{768, 835, 1152}, {768, 836, 1152}, {896, 975, 1344}, {896, 976, 1344},
	{1024, 1114, 1536}, {1024, 1115, 1536}, {1152, 1253, 1728}, {1152, 1254, 1728},
	{1280, 1393, 1920}, {1280, 1394, 1920},
}

// ac3BitrateTbl[frmsizecod>>1] gives kbit/s (ATSC A/52 Table 5.18).
var ac3BitrateTbl = [19]uint32{
	32, 40, 48, 56, 64, 80, 96, 112, 128, 160,
	192, 224, 256, 320, 384, 448, 512, 576, 640,
}

// acmodChannels maps acmod (3 bits) to the nominal full-bandwidth channel
// count, excluding LFE (ATSC A/52 Table 5.8).
var acmodChannels = [8]uint8{2, 1, 2, 3, 3, 4, 4, 5}

// SyncInfo is the parsed common header (up through bsid) shared by AC-3
// and E-AC-3 detection (spec §4.5 step 2).
type SyncInfo struct {
	IsEac3 bool
	Bsid   uint8
}

// FindSync locates the next 0x0B77 (or byte-swapped 0x770B) syncword in
// buf starting at off, byte-swapping a little-endian run to big-endian in
// place. It returns the big-endian-normalized offset, or -1 if none found.
func FindSync(buf []byte, off int) int {
	for i := off; i+1 < len(buf); i++ {
		if buf[i] == 0x0b && buf[i+1] == 0x77 {
			return i
		}
		if buf[i] == 0x77 && buf[i+1] == 0x0b {
			for j := i; j+1 < len(buf); j += 2 {
				buf[j], buf[j+1] = buf[j+1], buf[j]
			}
			return i
		}
	}
	return -1
}

// PeekBsid reads bsid without committing to either codec path. bsid starts
// 40 bits after the start of the syncword in both layouts: legacy AC-3 puts
// it after crc1(16)+fscod(2)+frmsizecod(6), E-AC-3 after strmtyp(2)+
// substreamid(3)+frmsiz(11)+fscod(2)+numblkscod(2)+acmod(3)+lfeon(1), so
// one fixed offset serves both. ParseFrame uses this only to pick AC-3
// (bsid<=8) vs E-AC-3 (bsid in [11,16]) per spec §4.5 step 2.
func PeekBsid(buf []byte) (uint8, error) {
	if len(buf) < 7 {
		return 0, ErrShortFrame
	}
	r := bitio.NewReader(buf[2:])
	if err := r.SkipBits(16 + 2 + 6); err != nil { // crc1 + fscod + frmsizecod
		return 0, err
	}
	v, err := r.ReadBits(5)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

// AC3Header is a parsed legacy AC-3 syncframe header.
type AC3Header struct {
	Fscod      uint8
	Frmsizecod uint8
	Bsid       uint8
	Bsmod      uint8
	Acmod      uint8
	Lfeon      bool
	FrameSize  int // bytes
	SampleRate uint32
	Bitrate    uint32
	Channels   uint8
}

// ParseAC3Header parses a classic AC-3 syncframe starting at the syncword
// (spec §4.5 step 3).
func ParseAC3Header(buf []byte) (*AC3Header, error) {
	if len(buf) < 8 {
		return nil, ErrShortFrame
	}
	r := bitio.NewReader(buf)
	if _, err := r.ReadU16(); err != nil { // syncword
		return nil, err
	}
	if _, err := r.ReadU16(); err != nil { // crc1
		return nil, err
	}
	h := &AC3Header{}
	v, err := r.ReadBits(2)
	if err != nil {
		return nil, err
	}
	h.Fscod = uint8(v)
	v, err = r.ReadBits(6)
	if err != nil {
		return nil, err
	}
	h.Frmsizecod = uint8(v)
	v, err = r.ReadBits(5)
	if err != nil {
		return nil, err
	}
	h.Bsid = uint8(v)
	v, err = r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	h.Bsmod = uint8(v)
	v, err = r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	h.Acmod = uint8(v)

	if h.Acmod&0x1 != 0 && h.Acmod != 0x1 { // cmixlev present
		if err := r.SkipBits(2); err != nil {
			return nil, err
		}
	}
	if h.Acmod&0x4 != 0 { // surmixlev present
		if err := r.SkipBits(2); err != nil {
			return nil, err
		}
	}
	if h.Acmod == 0x2 { // dsurmod
		if err := r.SkipBits(2); err != nil {
			return nil, err
		}
	}
	lfeon, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	h.Lfeon = lfeon

	if int(h.Fscod) >= len(fscod2FreqTbl) || int(h.Frmsizecod) >= len(ac3FrameSizeTbl) {
		return nil, ErrShortFrame
	}
	h.SampleRate = fscod2FreqTbl[h.Fscod]
	h.FrameSize = int(ac3FrameSizeTbl[h.Frmsizecod][h.Fscod]) * 2
	h.Bitrate = ac3BitrateTbl[h.Frmsizecod>>1]
	h.Channels = acmodChannels[h.Acmod&0x7]
	if h.Lfeon {
		h.Channels++
	}
	if h.FrameSize > len(buf) {
		return nil, ErrShortFrame
	}
	return h, nil
}
