package fragment

import mp4 "github.com/gomuxer/isomux"

// SidxEntry is one fragment's contribution to a segment index (spec §4.9
// write_sidx_box): the moof+mdat pair's encoded size and presentation span.
type SidxEntry struct {
	ReferencedSize     uint32
	SubsegmentDuration uint32
	StartsWithSAP      bool
	SAPType            uint8
}

// BuildSidx assembles a segment index box for one reference track. Every
// fragment is required to open on a sync sample for sidx to stay valid, so
// StartsWithSAP/SAPType are carried straight through without re-deriving
// them here (spec §4.9: "a track participating in the sidx must therefore
// satisfy RequireFirstIsSync").
func BuildSidx(referenceID uint32, timescale uint32, earliestPresentationTime uint64, firstOffset uint64, entries []SidxEntry) *mp4.Box {
	sidx := &mp4.Sidx{
		ReferenceID:              referenceID,
		Timescale:                timescale,
		EarliestPresentationTime: earliestPresentationTime,
		FirstOffset:              firstOffset,
	}
	for _, e := range entries {
		startsWithSAP := uint8(0)
		if e.StartsWithSAP {
			startsWithSAP = 1
		}
		sidx.References = append(sidx.References, mp4.SidxReference{
			ReferenceType:      0,
			ReferencedSize:     e.ReferencedSize,
			SubsegmentDuration: e.SubsegmentDuration,
			StartsWithSAP:      startsWithSAP,
			SAPType:            e.SAPType,
		})
	}
	version := uint8(0)
	if earliestPresentationTime > 0xffffffff || firstOffset > 0xffffffff {
		version = 1
	}
	return &mp4.Box{Type: mp4.TypeSidx, Version: version, Sidx: sidx}
}
