package nal

import (
	"fmt"

	"github.com/gomuxer/isomux/bitio"
)

// NAL unit types relevant to AU-boundary detection and slice parsing
// (ISO/IEC 14496-10 Table 7-1).
const (
	NalUnitTypeSliceNonIdr = 1
	NalUnitTypeSlicePartA  = 2
	NalUnitTypeSliceIdr    = 5
	NalUnitTypeSei         = 6
	NalUnitTypeSps         = 7
	NalUnitTypePps         = 8
	NalUnitTypeAud         = 9
	NalUnitTypeEndSeq      = 10
	NalUnitTypeEndStream   = 11
	NalUnitTypeFiller      = 12
	NalUnitTypeSpsExt      = 13
	NalUnitTypePrefix      = 14
	NalUnitTypeSubsetSps   = 15
	NalUnitTypeSliceExt    = 20
)

// SliceHeader holds the prefix fields needed for AU-boundary detection and
// POC derivation (spec §4.3 pass 1/2). It deliberately stops short of
// ref_pic_list/pred_weight_table, which neither algorithm needs.
type SliceHeader struct {
	FirstMbInSlice     uint32
	SliceType          uint32
	PpsID              uint32
	FrameNum           uint32
	FieldPicFlag       bool
	BottomFieldFlag    bool
	IdrPicID           uint32
	PicOrderCntLsb     uint32
	DeltaPicOrderCntBottom int32
	DeltaPicOrderCnt   [2]int32
	RedundantPicCnt    uint32

	NalRefIdc  uint8
	NalUnitType uint8
	IsIdr      bool
}

// ErrNoConfig reports a reference to an undefined SPS/PPS with no id-0
// fallback available (spec §7 NoConfigError).
var ErrNoConfig = fmt.Errorf("nal: no configuration (SPS/PPS id undefined, no id 0 fallback)")

// ErrEsError reports a malformed elementary-stream structure (spec §7
// EsError): bad exp-Golomb, unknown profile/level, impossible descriptor.
type ErrEsError struct{ Reason string }

func (e *ErrEsError) Error() string { return "nal: elementary stream error: " + e.Reason }

// Decoder holds AVC decode state across an entire elementary stream: SPS/PPS
// slots, the ping-pong slice-header pair, POC state, and the pending flag
// for MVC/3D dependent-representation delimiters (spec §4.3).
type Decoder struct {
	sps [32]*SPS
	pps [256]*PPS

	slices   [2]SliceHeader
	current  int // index into slices of the "previous" header
	haveSlice bool

	// POC state (mode 0).
	picOrderCntMsbPrev uint32
	picOrderCntLsbPrev uint32

	// POC state (mode 1/2).
	frameNumOffset uint32
	prevFrameNum   uint32

	// AU-boundary bookkeeping.
	lastWasVcl bool
	haveNal    bool
	// secondaryPending tracks whether an MVC/3D dependent-representation
	// delimiter is open; such a delimiter or an intervening subset-SPS must
	// not split an AU on its own (spec §4.3 pass 1 step 5).
	secondaryPending bool

	lastNalRefIdc  uint8
	lastNalUnitType uint8
}

// NewDecoder returns a Decoder with empty SPS/PPS slots.
func NewDecoder() *Decoder { return &Decoder{} }

// AddSPS activates sps at its own ID slot.
func (d *Decoder) AddSPS(sps *SPS) error {
	if sps.ID >= uint32(len(d.sps)) {
		return &ErrEsError{Reason: fmt.Sprintf("sps id %d out of range", sps.ID)}
	}
	d.sps[sps.ID] = sps
	return nil
}

// AddPPS activates pps at its own ID slot.
func (d *Decoder) AddPPS(pps *PPS) error {
	if pps.ID >= uint32(len(d.pps)) {
		return &ErrEsError{Reason: fmt.Sprintf("pps id %d out of range", pps.ID)}
	}
	d.pps[pps.ID] = pps
	return nil
}

// lookupPPS resolves a PPS id, falling back to id 0 with a diagnostic when
// the referenced id is undefined, per spec §4.3 error handling.
func (d *Decoder) lookupPPS(id uint32) (*PPS, error) {
	if id < uint32(len(d.pps)) && d.pps[id] != nil {
		return d.pps[id], nil
	}
	if d.pps[0] != nil {
		return d.pps[0], nil
	}
	return nil, ErrNoConfig
}

func (d *Decoder) lookupSPS(id uint32) (*SPS, error) {
	if id < uint32(len(d.sps)) && d.sps[id] != nil {
		return d.sps[id], nil
	}
	if d.sps[0] != nil {
		return d.sps[0], nil
	}
	return nil, ErrNoConfig
}

// ParseSliceHeaderPrefix parses the slice-header fields pass 1/pass 2 need
// from the already-unescaped RBSP of a VCL NAL (the nal_unit_header byte
// must already be stripped).
func (d *Decoder) ParseSliceHeaderPrefix(rbsp []byte, nalUnitType, nalRefIdc uint8) (*SliceHeader, error) {
	r := bitio.NewReader(rbsp)
	sh := &SliceHeader{NalUnitType: nalUnitType, NalRefIdc: nalRefIdc, IsIdr: nalUnitType == NalUnitTypeSliceIdr}

	var err error
	if sh.FirstMbInSlice, err = r.ReadUE(); err != nil {
		return nil, wrapEs(err)
	}
	if sh.SliceType, err = r.ReadUE(); err != nil {
		return nil, wrapEs(err)
	}
	if sh.PpsID, err = r.ReadUE(); err != nil {
		return nil, wrapEs(err)
	}
	pps, err := d.lookupPPS(sh.PpsID)
	if err != nil {
		return nil, err
	}
	sps, err := d.lookupSPS(pps.SPSID)
	if err != nil {
		return nil, err
	}

	if sps.SeparateColorPlane {
		if _, err := r.ReadBits(2); err != nil { // colour_plane_id
			return nil, wrapEs(err)
		}
	}
	fn, err := r.ReadBits(int(sps.Log2MaxFrameNumMinus4 + 4))
	if err != nil {
		return nil, wrapEs(err)
	}
	sh.FrameNum = fn

	if !sps.FrameMbsOnlyFlag {
		if sh.FieldPicFlag, err = r.ReadFlag(); err != nil {
			return nil, wrapEs(err)
		}
		if sh.FieldPicFlag {
			if sh.BottomFieldFlag, err = r.ReadFlag(); err != nil {
				return nil, wrapEs(err)
			}
		}
	}
	if sh.IsIdr {
		if sh.IdrPicID, err = r.ReadUE(); err != nil {
			return nil, wrapEs(err)
		}
	}
	if sps.PicOrderCntType == 0 {
		lsb, err := r.ReadBits(int(sps.Log2MaxPicOrderCntLsbMinus4 + 4))
		if err != nil {
			return nil, wrapEs(err)
		}
		sh.PicOrderCntLsb = lsb
		if pps.BottomFieldPicOrderInFramePresent && !sh.FieldPicFlag {
			if sh.DeltaPicOrderCntBottom, err = r.ReadSE(); err != nil {
				return nil, wrapEs(err)
			}
		}
	}
	if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZeroFlag {
		if sh.DeltaPicOrderCnt[0], err = r.ReadSE(); err != nil {
			return nil, wrapEs(err)
		}
		if pps.BottomFieldPicOrderInFramePresent && !sh.FieldPicFlag {
			if sh.DeltaPicOrderCnt[1], err = r.ReadSE(); err != nil {
				return nil, wrapEs(err)
			}
		}
	}
	if pps.RedundantPicCntPresentFlag {
		if sh.RedundantPicCnt, err = r.ReadUE(); err != nil {
			return nil, wrapEs(err)
		}
	}
	return sh, nil
}

func wrapEs(err error) error {
	return &ErrEsError{Reason: err.Error()}
}

// ParseNAL1 answers whether this NAL starts a new access unit, without
// committing any side effects (spec §4.3 pass 1). sh is nil for non-VCL
// NALs that don't need a slice header (everything but the VCL types).
func (d *Decoder) ParseNAL1(nalUnitType, nalRefIdc uint8, sh *SliceHeader) bool {
	startsAU := false
	switch nalUnitType {
	case NalUnitTypeAud:
		// An AUD opens an AU unless the previous NAL was also non-VCL (two
		// delimiters in a row do not double-split); the stream's very first
		// NAL always opens one.
		startsAU = !d.haveNal || d.lastWasVcl
	case NalUnitTypeSliceNonIdr, NalUnitTypeSlicePartA, NalUnitTypeSliceIdr:
		startsAU = d.isFirstSliceOfNewPicture(sh)
	case NalUnitTypeSliceExt:
		// MVC/dependent-representation delimiter: does not split an AU on
		// its own (spec §4.3 pass 1 step 5).
		d.secondaryPending = true
	case NalUnitTypeSubsetSps:
		// A subset-SPS intervening mid-AU must not spuriously split it.
		if !d.secondaryPending {
			startsAU = d.lastWasVcl
		}
	case NalUnitTypeSei, NalUnitTypeSps, NalUnitTypePps, NalUnitTypeSpsExt:
		startsAU = d.lastWasVcl
	default:
		startsAU = d.lastWasVcl
	}
	return startsAU
}

// isFirstSliceOfNewPicture implements the transition test of spec §4.3 pass
// 1 step 3: any of the listed fields differing from the previous slice
// header marks a new AU.
func (d *Decoder) isFirstSliceOfNewPicture(sh *SliceHeader) bool {
	if !d.haveSlice {
		return true
	}
	prev := &d.slices[d.current]
	if prev.FrameNum != sh.FrameNum {
		return true
	}
	if prev.PpsID != sh.PpsID {
		return true
	}
	if prev.FieldPicFlag != sh.FieldPicFlag {
		return true
	}
	if prev.FieldPicFlag && sh.FieldPicFlag && prev.BottomFieldFlag != sh.BottomFieldFlag {
		return true
	}
	if (prev.NalRefIdc == 0) != (sh.NalRefIdc == 0) {
		return true
	}
	if prev.PicOrderCntLsb != sh.PicOrderCntLsb || prev.DeltaPicOrderCntBottom != sh.DeltaPicOrderCntBottom {
		return true
	}
	if prev.DeltaPicOrderCnt != sh.DeltaPicOrderCnt {
		return true
	}
	if prev.IsIdr != sh.IsIdr {
		return true
	}
	if sh.IsIdr && prev.IdrPicID != sh.IdrPicID {
		return true
	}
	return false
}

// POCResult holds the derived picture-order counts for one access unit
// (spec §4.3 pass 2).
type POCResult struct {
	Top, Bottom, Poc int64
}

// ParseNAL2 commits side effects for a VCL NAL: swaps the slice ping-pong
// buffer if this is the first slice of a new picture, and computes POC per
// the active pic_order_cnt_type (spec §4.3 pass 2).
func (d *Decoder) ParseNAL2(sh *SliceHeader, isFirstSlice bool) (POCResult, error) {
	pps, err := d.lookupPPS(sh.PpsID)
	if err != nil {
		return POCResult{}, err
	}
	sps, err := d.lookupSPS(pps.SPSID)
	if err != nil {
		return POCResult{}, err
	}

	if isFirstSlice {
		d.current = 1 - d.current
		d.slices[d.current] = *sh
		d.haveSlice = true
	}

	var res POCResult
	switch sps.PicOrderCntType {
	case 0:
		res = d.pocMode0(sps, sh)
	case 1:
		res = d.pocMode1(sps, sh)
	case 2:
		res = d.pocMode2(sps, sh)
	}

	d.lastWasVcl = true
	d.haveNal = true
	d.lastNalRefIdc = sh.NalRefIdc
	d.lastNalUnitType = sh.NalUnitType
	if sh.NalUnitType != NalUnitTypeSliceExt {
		d.secondaryPending = false
	}
	return res, nil
}

// NonVclCommit updates AU-boundary state after a non-VCL NAL (spec §4.3).
func (d *Decoder) NonVclCommit(nalUnitType uint8) {
	d.lastWasVcl = false
	d.haveNal = true
	d.lastNalUnitType = nalUnitType
}

func (d *Decoder) pocMode0(sps *SPS, sh *SliceHeader) POCResult {
	maxPocLsb := uint32(1) << (sps.Log2MaxPicOrderCntLsbMinus4 + 4)

	if sh.IsIdr {
		d.picOrderCntMsbPrev = 0
		d.picOrderCntLsbPrev = 0
	}

	var picOrderCntMsb uint32
	lsbPrev, msbPrev := d.picOrderCntLsbPrev, d.picOrderCntMsbPrev
	switch {
	case sh.PicOrderCntLsb < lsbPrev && lsbPrev-sh.PicOrderCntLsb >= maxPocLsb/2:
		picOrderCntMsb = msbPrev + maxPocLsb
	case sh.PicOrderCntLsb > lsbPrev && sh.PicOrderCntLsb-lsbPrev > maxPocLsb/2:
		picOrderCntMsb = msbPrev - maxPocLsb
	default:
		picOrderCntMsb = msbPrev
	}

	top := int64(int32(picOrderCntMsb)) + int64(sh.PicOrderCntLsb)
	bottom := top
	if !sh.FieldPicFlag {
		bottom = top + int64(sh.DeltaPicOrderCntBottom)
	}

	var poc int64
	switch {
	case !sh.FieldPicFlag:
		poc = min64(top, bottom)
	case sh.BottomFieldFlag:
		poc = bottom
	default:
		poc = top
	}

	if sh.NalRefIdc != 0 {
		d.picOrderCntMsbPrev = picOrderCntMsb
		d.picOrderCntLsbPrev = sh.PicOrderCntLsb
	}

	return POCResult{Top: top, Bottom: bottom, Poc: poc}
}

func (d *Decoder) pocMode1(sps *SPS, sh *SliceHeader) POCResult {
	if sh.IsIdr {
		d.frameNumOffset = 0
	} else if d.prevFrameNum > sh.FrameNum {
		// frame_num wrapped; otherwise the offset carries over unchanged.
		d.frameNumOffset += 1 << (sps.Log2MaxFrameNumMinus4 + 4)
	}

	absFrameNum := uint32(0)
	if len(sps.OffsetForRefFrame) != 0 {
		absFrameNum = d.frameNumOffset + sh.FrameNum
	}
	if sh.NalRefIdc == 0 && absFrameNum > 0 {
		absFrameNum--
	}

	var expectedDeltaPerCycle int64
	for _, off := range sps.OffsetForRefFrame {
		expectedDeltaPerCycle += int64(off)
	}

	var expectedPoc int64
	if absFrameNum > 0 {
		cycleCnt := (absFrameNum - 1) / uint32(maxInt(1, len(sps.OffsetForRefFrame)))
		frameNumInCycle := (absFrameNum - 1) % uint32(maxInt(1, len(sps.OffsetForRefFrame)))
		expectedPoc = int64(cycleCnt) * expectedDeltaPerCycle
		for i := uint32(0); i <= frameNumInCycle && i < uint32(len(sps.OffsetForRefFrame)); i++ {
			expectedPoc += int64(sps.OffsetForRefFrame[i])
		}
	}
	if sh.NalRefIdc == 0 {
		expectedPoc += int64(sps.OffsetForNonRefPic)
	}

	top := expectedPoc + int64(sh.DeltaPicOrderCnt[0])
	bottom := top + int64(sps.OffsetForTopToBottomField)
	if !sh.FieldPicFlag {
		bottom += int64(sh.DeltaPicOrderCnt[1])
	}

	var poc int64
	switch {
	case !sh.FieldPicFlag:
		poc = min64(top, bottom)
	case sh.BottomFieldFlag:
		poc = bottom
	default:
		poc = top
	}

	d.prevFrameNum = sh.FrameNum
	return POCResult{Top: top, Bottom: bottom, Poc: poc}
}

func (d *Decoder) pocMode2(sps *SPS, sh *SliceHeader) POCResult {
	if sh.IsIdr {
		d.frameNumOffset = 0
	} else if d.prevFrameNum > sh.FrameNum {
		d.frameNumOffset += 1 << (sps.Log2MaxFrameNumMinus4 + 4)
	}

	var tmpPoc int64
	if sh.IsIdr {
		tmpPoc = 0
	} else {
		tmpPoc = 2 * int64(d.frameNumOffset+sh.FrameNum)
		if sh.NalRefIdc == 0 {
			tmpPoc--
		}
	}
	d.prevFrameNum = sh.FrameNum
	return POCResult{Top: tmpPoc, Bottom: tmpPoc, Poc: tmpPoc}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
