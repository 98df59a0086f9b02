package nal

// hvccArray is one NAL-unit-type bucket of an HEVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §8.3.3.1.2).
type hvccArray struct {
	nalUnitType uint8
	units       [][]byte
}

// BuildHvcC packs an HEVCDecoderConfigurationRecord from one active SPS (for
// its profile/tier/level and chroma/bit-depth fields) plus the VPS/SPS/PPS
// NAL unit lists (spec §4.5 "hvcC"). Profile compatibility and constraint
// flags are not retained by ParseHevcSPS, so this sets the single
// known-compatible bit for general_profile_idc and leaves the 48-bit
// constraint indicator at zero, a permissive but valid encoding.
func BuildHvcC(sps *HevcSPS, vpsList, spsList, ppsList [][]byte) []byte {
	ptl := sps.GeneralPTL
	buf := make([]byte, 0, 32)
	buf = append(buf, 1)

	profileByte := byte(ptl.GeneralProfileSpace&0x3)<<6 | byte(ptl.GeneralProfileIdc&0x1f)
	if ptl.GeneralTierFlag {
		profileByte |= 0x20
	}
	buf = append(buf, profileByte)

	var compat [4]byte
	compatFlags := uint32(1) << (31 - uint(ptl.GeneralProfileIdc&0x1f))
	compat[0] = byte(compatFlags >> 24)
	compat[1] = byte(compatFlags >> 16)
	compat[2] = byte(compatFlags >> 8)
	compat[3] = byte(compatFlags)
	buf = append(buf, compat[:]...)
	buf = append(buf, make([]byte, 6)...) // general_constraint_indicator_flags
	buf = append(buf, ptl.GeneralLevelIdc)

	buf = append(buf, 0xf0, 0x00) // reserved(4)=1111, min_spatial_segmentation_idc(12)=0
	buf = append(buf, 0xfc)       // reserved(6)=111111, parallelismType(2)=0
	buf = append(buf, 0xfc|byte(sps.ChromaFormatIdc&0x3))
	buf = append(buf, 0xf8|byte(sps.BitDepthLumaMinus8&0x7))
	buf = append(buf, 0xf8|byte(sps.BitDepthChromaMinus8&0x7))
	buf = append(buf, 0, 0) // avgFrameRate = 0 (unspecified)
	buf = append(buf, 0x03)

	arrays := []hvccArray{
		{HevcNalVps, vpsList},
		{HevcNalSps, spsList},
		{HevcNalPps, ppsList},
	}
	var nonEmpty []hvccArray
	for _, a := range arrays {
		if len(a.units) > 0 {
			nonEmpty = append(nonEmpty, a)
		}
	}
	buf = append(buf, byte(len(nonEmpty)))
	for _, a := range nonEmpty {
		buf = append(buf, 0x80|a.nalUnitType) // array_completeness=1, reserved=0
		buf = append(buf, byte(len(a.units)>>8), byte(len(a.units)))
		for _, u := range a.units {
			buf = append(buf, byte(len(u)>>8), byte(len(u)))
			buf = append(buf, u...)
		}
	}
	return buf
}
