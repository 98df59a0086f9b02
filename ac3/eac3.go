package ac3

import "github.com/gomuxer/isomux/bitio"

// E-AC-3 stream types (ATSC A/52 Annex E strmtyp).
const (
	StrmtypIndependent    = 0
	StrmtypDependent      = 1
	StrmtypIndependentAlt = 2
)

// Custom channel-map bits, held with the first bitstream bit in bit 0
// (ATSC A/52 Annex E chanmap).
const (
	ChanmapL      = 0x0001
	ChanmapC      = 0x0002
	ChanmapR      = 0x0004
	ChanmapLs     = 0x0008
	ChanmapRs     = 0x0010
	ChanmapLcRc   = 0x0020
	ChanmapLrsRrs = 0x0040
	ChanmapCs     = 0x0080
	ChanmapTs     = 0x0100
	ChanmapLsdRsd = 0x0200
	ChanmapLwRw   = 0x0400
	ChanmapLvhRvh = 0x0800
	ChanmapCvh    = 0x1000
	ChanmapLFE2   = 0x4000
	ChanmapLFE    = 0x8000
)

// EAC3Header is a parsed E-AC-3 syncframe header (spec §4.5 step 4).
type EAC3Header struct {
	Strmtyp     uint8
	SubstreamID uint8
	Frmsiz      uint16
	FrameSize   int // bytes
	Fscod       uint8
	Fscod2      uint8
	Numblkscod  uint8
	NumBlocks   int
	Acmod       uint8
	Lfeon       bool
	Bsid        uint8

	ChanmapePresent bool
	Chanmap         uint16
	ChanLoc         uint16
}

var numblkscodToBlocks = [4]int{1, 2, 3, 6}

// ParseEAC3Header parses an E-AC-3 syncframe starting at the syncword
// (spec §4.5 step 4).
func ParseEAC3Header(buf []byte) (*EAC3Header, error) {
	if len(buf) < 8 {
		return nil, ErrShortFrame
	}
	r := bitio.NewReader(buf)
	if _, err := r.ReadU16(); err != nil { // syncword
		return nil, err
	}
	h := &EAC3Header{}
	v, err := r.ReadBits(2)
	if err != nil {
		return nil, err
	}
	h.Strmtyp = uint8(v)
	v, err = r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	h.SubstreamID = uint8(v)
	v, err = r.ReadBits(11)
	if err != nil {
		return nil, err
	}
	h.Frmsiz = uint16(v)
	h.FrameSize = (int(h.Frmsiz) + 1) * 2

	v, err = r.ReadBits(2)
	if err != nil {
		return nil, err
	}
	h.Fscod = uint8(v)
	if h.Fscod == 0x3 {
		v, err = r.ReadBits(2)
		if err != nil {
			return nil, err
		}
		h.Fscod2 = uint8(v)
		h.Numblkscod = 3 // numblkscod==3 (6 blocks) implied when fscod==3
	} else {
		v, err = r.ReadBits(2)
		if err != nil {
			return nil, err
		}
		h.Numblkscod = uint8(v)
	}
	h.NumBlocks = numblkscodToBlocks[h.Numblkscod&0x3]

	v, err = r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	h.Acmod = uint8(v)
	lfeon, err := r.ReadFlag()
	if err != nil {
		return nil, err
	}
	h.Lfeon = lfeon
	v, err = r.ReadBits(5)
	if err != nil {
		return nil, err
	}
	h.Bsid = uint8(v)

	if h.Strmtyp == StrmtypDependent {
		chanmape, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		h.ChanmapePresent = chanmape
		if chanmape {
			// chanmap is held with the first bitstream bit in bit 0 (L), so
			// the channel constants line up with Chanmap* below.
			var chanmap uint16
			for b := 0; b < 16; b++ {
				bit, err := r.ReadFlag()
				if err != nil {
					return nil, err
				}
				if bit {
					chanmap |= 1 << b
				}
			}
			h.Chanmap = chanmap
			// chan_loc drops L,C,R,Ls,Rs and the reserved bit; LFE rides on
			// lfeon instead (spec §4.5 step 4).
			h.ChanLoc = uint16((chanmap>>5)&0xFF) | uint16((chanmap>>6)&0x100)
		}
	}

	if h.FrameSize > len(buf) {
		return nil, ErrShortFrame
	}
	return h, nil
}

// SampleRate resolves the effective PCM sample rate, honoring the
// fscod==3 (reduced sample rate) escape.
func (h *EAC3Header) SampleRate() uint32 {
	if h.Fscod != 0x3 {
		return fscod2FreqTbl[h.Fscod]
	}
	var halfRates = [3]uint32{24000, 22050, 16000}
	if int(h.Fscod2) < len(halfRates) {
		return halfRates[h.Fscod2]
	}
	return 0
}

// Channels returns the full-bandwidth channel count (excluding LFE).
func (h *EAC3Header) Channels() uint8 {
	return acmodChannels[h.Acmod&0x7]
}
