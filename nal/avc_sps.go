// Package nal implements AVC/HEVC NAL delimiting, SPS/PPS/VPS parsing, slice
// header parsing, access-unit boundary detection and POC derivation
// (spec §4.3).
package nal

import (
	"fmt"

	"github.com/gomuxer/isomux/bitio"
)

// Default scaling matrices, ISO/IEC 14496-10 Table 7-2. Standard constants,
// not implementation-specific.
var (
	Default4x4IntraList = []int32{6, 13, 13, 20, 20, 20, 38, 38, 38, 38, 32, 32, 32, 37, 37, 42}
	Default4x4InterList = []int32{10, 14, 14, 20, 20, 20, 24, 24, 24, 24, 27, 27, 27, 30, 30, 34}
	Default8x8IntraList = []int32{
		6, 10, 10, 13, 11, 13, 16, 16, 16, 16, 18, 18, 18, 18, 18, 23,
		23, 23, 23, 23, 23, 25, 25, 25, 25, 25, 25, 25, 27, 27, 27, 27,
		27, 27, 27, 27, 29, 29, 29, 29, 29, 29, 29, 31, 31, 31, 31, 31,
		31, 33, 33, 33, 33, 33, 36, 36, 36, 36, 38, 38, 38, 40, 40, 42,
	}
	Default8x8InterList = []int32{
		9, 13, 13, 15, 13, 15, 17, 17, 17, 17, 19, 19, 19, 19, 19, 21,
		21, 21, 21, 21, 21, 22, 22, 22, 22, 22, 22, 22, 24, 24, 24, 24,
		24, 24, 24, 24, 25, 25, 25, 25, 25, 25, 25, 27, 27, 27, 27, 27,
		27, 28, 28, 28, 28, 28, 30, 30, 30, 30, 32, 32, 32, 33, 33, 35,
	}
)

// VUIParameters carries video usability information, including the HRD
// tables needed to synthesize a default bit-rate/cpb-size when neither NAL
// nor VCL HRD is signaled (spec §4.3).
type VUIParameters struct {
	AspectRatioIDC uint8
	SARWidth       uint32
	SARHeight      uint32

	VideoFormat        uint8
	VideoFullRangeFlag bool
	ColorPrimaries     uint8
	TransferChar       uint8
	MatrixCoefficients uint8

	ChromaSampleLocTop    uint32
	ChromaSampleLocBottom uint32

	NumUnitsInTick   uint32
	TimeScale        uint32
	FixedFrameRate   bool

	NALHRD *HRDParameters
	VCLHRD *HRDParameters

	LowDelayHRDFlag bool
	PicStructPresentFlag bool

	MaxNumReorderFrames  uint32
	MaxDecFrameBuffering uint32
}

// HRDParameters is the E.1.2 hypothetical reference decoder syntax.
type HRDParameters struct {
	BitRateValueMinus1 []uint32
	CpbSizeValueMinus1 []uint32
	CbrFlag            []bool
	InitialCpbRemovalDelayLenMinus1 uint8
	CpbRemovalDelayLenMinus1        uint8
	DpbOutputDelayLenMinus1         uint8
	TimeOffsetLen                   uint8
}

// defaultHRDTable synthesizes a (bit_rate, cpb_size) pair from
// profile_idc/level_idc when no HRD parameters are signaled (spec §4.3).
// Values are the commonly cited Annex A MaxBR/MaxCPB levels; level 1b has
// no entry of its own.
var defaultHRDTable = map[uint8]struct{ maxBR, maxCPB uint32 }{
	10: {64_000, 175_000},
	11: {192_000, 500_000},
	12: {384_000, 1_000_000},
	13: {768_000, 2_000_000},
	20: {2_000_000, 2_000_000},
	21: {4_000_000, 4_000_000},
	22: {4_000_000, 4_000_000},
	30: {10_000_000, 10_000_000},
	31: {14_000_000, 14_000_000},
	32: {20_000_000, 20_000_000},
	40: {20_000_000, 25_000_000},
	41: {50_000_000, 62_500_000},
	42: {50_000_000, 62_500_000},
	50: {135_000_000, 135_000_000},
	51: {240_000_000, 240_000_000},
}

// DefaultHRD returns the synthesized (bit_rate, cpb_size) for levelIDC, or
// (0,0,false) if no table entry exists.
func DefaultHRD(levelIDC uint8) (maxBR, maxCPB uint32, ok bool) {
	e, ok := defaultHRDTable[levelIDC]
	return e.maxBR, e.maxCPB, ok
}

// SPS is a parsed sequence parameter set (ISO/IEC 14496-10 §7.3.2.1.1).
type SPS struct {
	ID uint32

	ProfileIdc         uint8
	ConstraintFlags    uint8
	LevelIdc           uint8
	ChromaFormatIdc    uint32
	SeparateColorPlane bool
	BitDepthLumaMinus8 uint32
	BitDepthChromaMinus8 uint32

	Log2MaxFrameNumMinus4 uint32
	PicOrderCntType       uint32

	// Mode 0.
	Log2MaxPicOrderCntLsbMinus4 uint32

	// Mode 1.
	DeltaPicOrderAlwaysZeroFlag bool
	OffsetForNonRefPic          int32
	OffsetForTopToBottomField   int32
	OffsetForRefFrame           []int32

	MaxNumRefFrames            uint32
	GapsInFrameNumValueAllowed bool

	PicWidthInMbsMinus1       uint32
	PicHeightInMapUnitsMinus1 uint32
	FrameMbsOnlyFlag          bool
	MbAdaptiveFrameFieldFlag  bool
	Direct8x8InferenceFlag    bool

	FrameCroppingFlag     bool
	FrameCropLeftOffset   uint32
	FrameCropRightOffset  uint32
	FrameCropTopOffset    uint32
	FrameCropBottomOffset uint32

	VUIParametersPresent bool
	VUI                  VUIParameters

	// PicWidthOut/PicHeightOut are the cropped output dimensions, derived
	// honoring chroma_format_idc (spec §4.3).
	PicWidthOut  uint32
	PicHeightOut uint32
}

var highProfilesWithScalingLists = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// ParseSPS parses an SPS RBSP (start-code and NAL header already stripped,
// emulation-prevention bytes already removed).
func ParseSPS(rbsp []byte) (*SPS, error) {
	r := bitio.NewReader(rbsp)
	s := &SPS{}

	var err error
	if s.ProfileIdc, err = readU8(r); err != nil {
		return nil, err
	}
	flags, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	s.ConstraintFlags = uint8(flags)
	if s.LevelIdc, err = readU8(r); err != nil {
		return nil, err
	}
	id, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	s.ID = id
	if s.ID > 31 {
		return nil, fmt.Errorf("nal: sps id %d out of range", s.ID)
	}

	s.ChromaFormatIdc = 1
	if highProfilesWithScalingLists[s.ProfileIdc] {
		if s.ChromaFormatIdc, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.ChromaFormatIdc == 3 {
			if s.SeparateColorPlane, err = r.ReadFlag(); err != nil {
				return nil, err
			}
		}
		if s.BitDepthLumaMinus8, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.BitDepthChromaMinus8, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if _, err = r.ReadFlag(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return nil, err
		}
		seqScalingMatrixPresent, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		if seqScalingMatrixPresent {
			max := 8
			if s.ChromaFormatIdc == 3 {
				max = 12
			}
			for i := 0; i < max; i++ {
				present, err := r.ReadFlag()
				if err != nil {
					return nil, err
				}
				if present {
					size := 16
					def := Default4x4IntraList
					if i >= 6 {
						size = 64
						def = Default8x8IntraList
					}
					if err := skipScalingList(r, size, def); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if s.Log2MaxFrameNumMinus4, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.PicOrderCntType, err = r.ReadUE(); err != nil {
		return nil, err
	}
	switch s.PicOrderCntType {
	case 0:
		if s.Log2MaxPicOrderCntLsbMinus4, err = r.ReadUE(); err != nil {
			return nil, err
		}
	case 1:
		if s.DeltaPicOrderAlwaysZeroFlag, err = r.ReadFlag(); err != nil {
			return nil, err
		}
		v, err := r.ReadSE()
		if err != nil {
			return nil, err
		}
		s.OffsetForNonRefPic = v
		if v, err = r.ReadSE(); err != nil {
			return nil, err
		}
		s.OffsetForTopToBottomField = v
		n, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		s.OffsetForRefFrame = make([]int32, n)
		for i := range s.OffsetForRefFrame {
			if s.OffsetForRefFrame[i], err = r.ReadSE(); err != nil {
				return nil, err
			}
		}
	case 2:
		// No additional fields.
	default:
		return nil, fmt.Errorf("nal: sps %d unknown pic_order_cnt_type %d", s.ID, s.PicOrderCntType)
	}

	if s.MaxNumRefFrames, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.GapsInFrameNumValueAllowed, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.PicWidthInMbsMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.PicHeightInMapUnitsMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if s.FrameMbsOnlyFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if !s.FrameMbsOnlyFlag {
		if s.MbAdaptiveFrameFieldFlag, err = r.ReadFlag(); err != nil {
			return nil, err
		}
	}
	if s.Direct8x8InferenceFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.FrameCroppingFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.FrameCroppingFlag {
		if s.FrameCropLeftOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.FrameCropRightOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.FrameCropTopOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
		if s.FrameCropBottomOffset, err = r.ReadUE(); err != nil {
			return nil, err
		}
	}
	if s.VUIParametersPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if s.VUIParametersPresent {
		if err := parseVUI(r, &s.VUI); err != nil {
			return nil, err
		}
	}

	computeCroppedDimensions(s)
	return s, nil
}

// cropUnit returns (cropUnitX, cropUnitY) per ISO/IEC 14496-10 Table 6-1,
// honoring chroma_format_idc and separate_colour_plane_flag.
func cropUnit(s *SPS) (uint32, uint32) {
	if s.SeparateColorPlane {
		return 1, 2 - boolToU32(s.FrameMbsOnlyFlag)
	}
	subWidthC, subHeightC := uint32(1), uint32(1)
	switch s.ChromaFormatIdc {
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC, subHeightC = 2, 1
	}
	if s.ChromaFormatIdc == 0 {
		return 1, 2 - boolToU32(s.FrameMbsOnlyFlag)
	}
	return subWidthC, subHeightC * (2 - boolToU32(s.FrameMbsOnlyFlag))
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func computeCroppedDimensions(s *SPS) {
	width := (s.PicWidthInMbsMinus1 + 1) * 16
	height := (2 - boolToU32(s.FrameMbsOnlyFlag)) * (s.PicHeightInMapUnitsMinus1 + 1) * 16
	s.PicWidthOut, s.PicHeightOut = width, height
	if s.FrameCroppingFlag {
		cropX, cropY := cropUnit(s)
		s.PicWidthOut -= cropX * (s.FrameCropLeftOffset + s.FrameCropRightOffset)
		s.PicHeightOut -= cropY * (s.FrameCropTopOffset + s.FrameCropBottomOffset)
	}
}

func skipScalingList(r *bitio.Reader, size int, _ []int32) error {
	lastScale, nextScale := int32(8), int32(8)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			delta, err := r.ReadSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

func parseVUI(r *bitio.Reader, v *VUIParameters) error {
	present, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if present {
		if v.AspectRatioIDC, err = readU8(r); err != nil {
			return err
		}
		if v.AspectRatioIDC == 255 { // EXTENDED_SAR
			if v.SARWidth, err = r.ReadBits(16); err != nil {
				return err
			}
			if v.SARHeight, err = r.ReadBits(16); err != nil {
				return err
			}
		}
	}
	overscanPresent, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if overscanPresent {
		if _, err = r.ReadFlag(); err != nil {
			return err
		}
	}
	videoSignalPresent, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if videoSignalPresent {
		vf, err := r.ReadBits(3)
		if err != nil {
			return err
		}
		v.VideoFormat = uint8(vf)
		if v.VideoFullRangeFlag, err = r.ReadFlag(); err != nil {
			return err
		}
		colorDescPresent, err := r.ReadFlag()
		if err != nil {
			return err
		}
		if colorDescPresent {
			if v.ColorPrimaries, err = readU8(r); err != nil {
				return err
			}
			if v.TransferChar, err = readU8(r); err != nil {
				return err
			}
			if v.MatrixCoefficients, err = readU8(r); err != nil {
				return err
			}
		}
	}
	chromaLocPresent, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if chromaLocPresent {
		if v.ChromaSampleLocTop, err = r.ReadUE(); err != nil {
			return err
		}
		if v.ChromaSampleLocBottom, err = r.ReadUE(); err != nil {
			return err
		}
	}
	timingPresent, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if timingPresent {
		if v.NumUnitsInTick, err = r.ReadBits(32); err != nil {
			return err
		}
		if v.TimeScale, err = r.ReadBits(32); err != nil {
			return err
		}
		if v.FixedFrameRate, err = r.ReadFlag(); err != nil {
			return err
		}
	}
	nalHrdPresent, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if nalHrdPresent {
		if v.NALHRD, err = parseHRD(r); err != nil {
			return err
		}
	}
	vclHrdPresent, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if vclHrdPresent {
		if v.VCLHRD, err = parseHRD(r); err != nil {
			return err
		}
	}
	if nalHrdPresent || vclHrdPresent {
		if v.LowDelayHRDFlag, err = r.ReadFlag(); err != nil {
			return err
		}
	}
	if v.PicStructPresentFlag, err = r.ReadFlag(); err != nil {
		return err
	}
	bitstreamRestriction, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if bitstreamRestriction {
		for i := 0; i < 5; i++ {
			if _, err := r.ReadUE(); err != nil {
				return err
			}
		}
		if v.MaxNumReorderFrames, err = r.ReadUE(); err != nil {
			return err
		}
		if v.MaxDecFrameBuffering, err = r.ReadUE(); err != nil {
			return err
		}
	}
	return nil
}

func parseHRD(r *bitio.Reader) (*HRDParameters, error) {
	h := &HRDParameters{}
	cpbCntMinus1, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	brs, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	_ = brs
	if _, err = r.ReadBits(4); err != nil { // cpb_size_scale
		return nil, err
	}
	for i := uint32(0); i <= cpbCntMinus1; i++ {
		v, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		h.BitRateValueMinus1 = append(h.BitRateValueMinus1, v)
		if v, err = r.ReadUE(); err != nil {
			return nil, err
		}
		h.CpbSizeValueMinus1 = append(h.CpbSizeValueMinus1, v)
		cbr, err := r.ReadFlag()
		if err != nil {
			return nil, err
		}
		h.CbrFlag = append(h.CbrFlag, cbr)
	}
	b, err := r.ReadBits(5)
	if err != nil {
		return nil, err
	}
	h.InitialCpbRemovalDelayLenMinus1 = uint8(b)
	if b, err = r.ReadBits(5); err != nil {
		return nil, err
	}
	h.CpbRemovalDelayLenMinus1 = uint8(b)
	if b, err = r.ReadBits(5); err != nil {
		return nil, err
	}
	h.DpbOutputDelayLenMinus1 = uint8(b)
	if b, err = r.ReadBits(5); err != nil {
		return nil, err
	}
	h.TimeOffsetLen = uint8(b)
	return h, nil
}

func readU8(r *bitio.Reader) (uint8, error) {
	v, err := r.ReadBits(8)
	return uint8(v), err
}

// PPS is a parsed picture parameter set (ISO/IEC 14496-10 §7.3.2.2).
type PPS struct {
	ID                                 uint32
	SPSID                              uint32
	EntropyCodingModeFlag              bool
	BottomFieldPicOrderInFramePresent  bool
	NumSliceGroupsMinus1               uint32
	NumRefIdxL0DefaultActiveMinus1     uint32
	NumRefIdxL1DefaultActiveMinus1     uint32
	WeightedPredFlag                   bool
	WeightedBipredIdc                  uint8
	PicInitQpMinus26                   int32
	RedundantPicCntPresentFlag         bool
}

// ParsePPS parses a PPS RBSP. Slice-group-map fields beyond
// num_slice_groups_minus1 are not needed by the AU-boundary/POC algorithms
// and are not parsed.
func ParsePPS(rbsp []byte) (*PPS, error) {
	r := bitio.NewReader(rbsp)
	p := &PPS{}
	var err error
	if p.ID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.ID > 255 {
		return nil, fmt.Errorf("nal: pps id %d out of range", p.ID)
	}
	if p.SPSID, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.EntropyCodingModeFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.BottomFieldPicOrderInFramePresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.NumSliceGroupsMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.NumRefIdxL0DefaultActiveMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.NumRefIdxL1DefaultActiveMinus1, err = r.ReadUE(); err != nil {
		return nil, err
	}
	if p.WeightedPredFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	wbp, err := r.ReadBits(2)
	if err != nil {
		return nil, err
	}
	p.WeightedBipredIdc = uint8(wbp)
	if p.PicInitQpMinus26, err = r.ReadSE(); err != nil {
		return nil, err
	}
	if _, err = r.ReadSE(); err != nil { // pic_init_qs_minus26
		return nil, err
	}
	if _, err = r.ReadSE(); err != nil { // chroma_qp_index_offset
		return nil, err
	}
	if _, err = r.ReadFlag(); err != nil { // deblocking_filter_control_present_flag
		return nil, err
	}
	if _, err = r.ReadFlag(); err != nil { // constrained_intra_pred_flag
		return nil, err
	}
	if p.RedundantPicCntPresentFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	return p, nil
}
