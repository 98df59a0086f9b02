package nal

// highProfilesWithExt are the AVCProfileIndication values that carry the
// chroma/bit-depth extension fields at the tail of an
// AVCDecoderConfigurationRecord (ISO/IEC 14496-15 §5.3.3.1.2).
var highProfilesWithExt = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// BuildAvcC packs an AVCDecoderConfigurationRecord from one active SPS (for
// its profile/level/chroma fields) plus the full SPS/PPS NAL unit lists
// (spec §4.5 "avcC"). NAL units are stored exactly as they appear in the
// bitstream, including emulation-prevention bytes.
func BuildAvcC(sps *SPS, spsList, ppsList [][]byte) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, 1, sps.ProfileIdc, sps.ConstraintFlags, sps.LevelIdc)
	buf = append(buf, 0xfc|3) // lengthSizeMinusOne = 3 -> 4-byte NAL length

	buf = append(buf, 0xe0|byte(len(spsList)&0x1f))
	for _, s := range spsList {
		buf = append(buf, byte(len(s)>>8), byte(len(s)))
		buf = append(buf, s...)
	}
	buf = append(buf, byte(len(ppsList)))
	for _, p := range ppsList {
		buf = append(buf, byte(len(p)>>8), byte(len(p)))
		buf = append(buf, p...)
	}

	if highProfilesWithExt[sps.ProfileIdc] {
		buf = append(buf, 0xfc|byte(sps.ChromaFormatIdc&0x3))
		buf = append(buf, 0xf8|byte(sps.BitDepthLumaMinus8&0x7))
		buf = append(buf, 0xf8|byte(sps.BitDepthChromaMinus8&0x7))
		buf = append(buf, 0) // numOfSequenceParameterSetExt
	}
	return buf
}
