package nal

// Unescape removes RBSP emulation-prevention bytes (00 00 03 -> 00 00) from
// a NAL's payload (spec §4.3 pass 1 step 3).
func Unescape(nal []byte) []byte {
	out := make([]byte, 0, len(nal))
	zeroRun := 0
	for i := 0; i < len(nal); i++ {
		b := nal[i]
		if zeroRun >= 2 && b == 0x03 && i+1 < len(nal) && nal[i+1] <= 0x03 {
			zeroRun = 0
			continue
		}
		if b == 0 {
			zeroRun++
		} else {
			zeroRun = 0
		}
		out = append(out, b)
	}
	return out
}

// Unit is one delimited NAL unit as found by SplitUnits: its header fields
// and a slice into the source buffer (start code and header byte(s) already
// stripped, still escaped).
type Unit struct {
	NalUnitType uint8
	NalRefIdc   uint8
	Payload     []byte // escaped RBSP, header byte(s) stripped
	Pos         int64  // offset of the start code in the source buffer
	HeaderLen   int    // 1 for AVC, 2 for HEVC
}

// SplitUnits scans buf for Annex-B start codes (3- or 4-byte) and returns
// each delimited NAL unit with its AVC (1-byte) header already parsed.
func SplitUnits(buf []byte) []Unit {
	var units []Unit
	starts := findStartCodes(buf)
	for i, s := range starts {
		end := len(buf)
		if i+1 < len(starts) {
			end = starts[i+1].pos
		}
		payloadStart := s.pos + s.codeLen
		if payloadStart >= end {
			continue
		}
		header := buf[payloadStart]
		units = append(units, Unit{
			NalRefIdc:   (header >> 5) & 0x3,
			NalUnitType: header & 0x1f,
			Payload:     buf[payloadStart+1 : end],
			Pos:         int64(s.pos),
			HeaderLen:   1,
		})
	}
	return units
}

type startCode struct {
	pos     int
	codeLen int
}

func findStartCodes(buf []byte) []startCode {
	var out []startCode
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 {
			if buf[i+2] == 1 {
				out = append(out, startCode{pos: i, codeLen: 3})
				i += 2
				continue
			}
			if i+3 < len(buf) && buf[i+2] == 0 && buf[i+3] == 1 {
				out = append(out, startCode{pos: i, codeLen: 4})
				i += 3
				continue
			}
		}
	}
	return out
}

// IsVCL reports whether nalUnitType identifies a coded-slice NAL.
func IsVCL(nalUnitType uint8) bool {
	switch nalUnitType {
	case NalUnitTypeSliceNonIdr, NalUnitTypeSlicePartA, NalUnitTypeSliceIdr:
		return true
	}
	return false
}
