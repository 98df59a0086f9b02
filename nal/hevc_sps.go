package nal

import "github.com/gomuxer/isomux/bitio"

// HEVC NAL unit types needed for AU-delimiting (ISO/IEC 23008-2 Table 7-1).
// HEVC NAL headers are 2 bytes; nal_unit_type occupies bits 1-6 of the
// first byte.
const (
	HevcNalTrailN    = 0
	HevcNalTrailR    = 1
	HevcNalIdrWRadl  = 19
	HevcNalIdrNLp    = 20
	HevcNalCra       = 21
	HevcNalVps       = 32
	HevcNalSps       = 33
	HevcNalPps       = 34
	HevcNalAud       = 35
	HevcNalSei       = 39
)

// ProfileTierLevel carries the common profile/tier/level syntax shared by
// VPS/SPS/PPS headers (ISO/IEC 23008-2 §7.3.3), parsed for general layer
// only (sub-layers are skipped, not needed for muxing).
type ProfileTierLevel struct {
	GeneralProfileSpace uint8
	GeneralTierFlag     bool
	GeneralProfileIdc   uint8
	GeneralLevelIdc     uint8
}

func parseProfileTierLevel(r *bitio.Reader, maxSubLayers uint32) (*ProfileTierLevel, error) {
	p := &ProfileTierLevel{}
	v, err := r.ReadBits(2)
	if err != nil {
		return nil, err
	}
	p.GeneralProfileSpace = uint8(v)
	if p.GeneralTierFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	v, err = r.ReadBits(5)
	if err != nil {
		return nil, err
	}
	p.GeneralProfileIdc = uint8(v)
	if err := r.SkipBits(32); err != nil { // general_profile_compatibility_flag[32]
		return nil, err
	}
	if err := r.SkipBits(4); err != nil { // progressive/interlaced/non-packed/frame-only
		return nil, err
	}
	if err := r.SkipBits(44); err != nil { // reserved_zero_43bits + general_inbld_flag
		return nil, err
	}
	v, err = r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	p.GeneralLevelIdc = uint8(v)

	subLayerProfilePresent := make([]bool, maxSubLayers-1)
	subLayerLevelPresent := make([]bool, maxSubLayers-1)
	for i := range subLayerProfilePresent {
		if subLayerProfilePresent[i], err = r.ReadFlag(); err != nil {
			return nil, err
		}
		if subLayerLevelPresent[i], err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if maxSubLayers > 1 {
		for i := maxSubLayers - 1; i < 8; i++ {
			if err := r.SkipBits(2); err != nil {
				return nil, err
			}
		}
	}
	for i := range subLayerProfilePresent {
		if subLayerProfilePresent[i] {
			if err := r.SkipBits(2 + 1 + 5 + 32 + 4 + 44); err != nil {
				return nil, err
			}
		}
		if subLayerLevelPresent[i] {
			if err := r.SkipBits(8); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// HevcSPS is a parsed HEVC sequence parameter set, limited to the fields
// the muxer needs (dimensions, chroma format, bit depth, general PTL); the
// full short-term/long-term reference-picture-set syntax is not needed to
// build an hvcC or derive output dimensions.
type HevcSPS struct {
	SpsID             uint32
	VpsID             uint32
	ChromaFormatIdc   uint32
	PicWidthLumaSamples  uint32
	PicHeightLumaSamples uint32
	BitDepthLumaMinus8   uint32
	BitDepthChromaMinus8 uint32
	GeneralPTL        *ProfileTierLevel

	ConformanceWindowFlag bool
	ConfWinLeftOffset     uint32
	ConfWinRightOffset    uint32
	ConfWinTopOffset      uint32
	ConfWinBottomOffset   uint32
}

// ParseHevcSPS parses an HEVC SPS RBSP (2-byte NAL header already
// stripped).
func ParseHevcSPS(rbsp []byte) (*HevcSPS, error) {
	r := bitio.NewReader(rbsp)
	s := &HevcSPS{}
	var err error
	v, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	s.VpsID = v
	maxSubLayersMinus1, err := r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	if _, err = r.ReadFlag(); err != nil { // temporal_id_nesting_flag
		return nil, err
	}
	if s.GeneralPTL, err = parseProfileTierLevel(r, maxSubLayersMinus1+1); err != nil {
		return nil, err
	}
	if s.SpsID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.ChromaFormatIdc, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.ChromaFormatIdc == 3 {
		if _, err = r.ReadFlag(); err != nil { // separate_colour_plane_flag
			return nil, err
		}
	}
	if s.PicWidthLumaSamples, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.PicHeightLumaSamples, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.ConformanceWindowFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.ConformanceWindowFlag {
		if s.ConfWinLeftOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.ConfWinRightOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.ConfWinTopOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.ConfWinBottomOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if s.BitDepthLumaMinus8, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.BitDepthChromaMinus8, err = r.ReadUE(); err != nil {
		return nil, err
	}
	// log2_max_pic_order_cnt_lsb_minus4 and the rest of the SPS (short-term
	// RPS, scaling lists, VUI) is not needed for muxer dimension/hvcC
	// purposes and is intentionally left unparsed.
	return s, nil
}

// OutputDimensions returns the cropped pixel dimensions honoring
// chroma_format_idc, mirroring the AVC frame-cropping derivation (spec
// §4.3) for HEVC's conformance window.
func (s *HevcSPS) OutputDimensions() (uint32, uint32) {
	w, h := s.PicWidthLumaSamples, s.PicHeightLumaSamples
	if !s.ConformanceWindowFlag {
		return w, h
	}
	subWidthC, subHeightC := uint32(1), uint32(1)
	switch s.ChromaFormatIdc {
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC, subHeightC = 2, 1
	}
	w -= subWidthC * (s.ConfWinLeftOffset + s.ConfWinRightOffset)
	h -= subHeightC * (s.ConfWinTopOffset + s.ConfWinBottomOffset)
	return w, h
}
