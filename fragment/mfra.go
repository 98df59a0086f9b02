package fragment

import mp4 "github.com/gomuxer/isomux"

// TfraPoint is one random-access point for a track: the moof offset and
// in-fragment location of a sample a reader can seek to directly (spec
// §4.9 write_mfra_box).
type TfraPoint struct {
	Time         uint64
	MoofOffset   uint64
	TrafNumber   uint32
	TrunNumber   uint32
	SampleNumber uint32
}

// TrackTfra is one track's accumulated random-access points, in the order
// its tfra should appear in the mfra box.
type TrackTfra struct {
	TrackID uint32
	Points  []TfraPoint
}

// BuildMfra assembles the movie-fragment random-access box: one tfra per
// track plus a closing mfro giving the whole mfra's size, so a reader
// seeking from the end of file can locate it without a linear scan (spec
// §4.9). oneEntryPerTraf restricts each tfra to the fragment's first
// sample (used for all-RAP tracks, where every sample would otherwise
// qualify and the table would balloon).
func BuildMfra(tracks []TrackTfra, oneEntryPerTraf bool) *mp4.Box {
	children := make([]*mp4.Box, 0, len(tracks)+1)
	for _, t := range tracks {
		trackID, points := t.TrackID, t.Points
		if oneEntryPerTraf {
			var filtered []TfraPoint
			haveLast := false
			var lastOff uint64
			for _, p := range points {
				if haveLast && p.MoofOffset == lastOff {
					continue
				}
				filtered = append(filtered, p)
				lastOff, haveLast = p.MoofOffset, true
			}
			points = filtered
		}
		// Field-size codes are length-1: code 3 selects 4-byte
		// traf/trun/sample-number fields.
		tfra := &mp4.Tfra{TrackID: trackID, TrafNumberSize: 3, TrunNumberSize: 3, SampleNumberSize: 3}
		var maxTime, maxOffset uint64
		for _, p := range points {
			tfra.Entries = append(tfra.Entries, mp4.TfraEntry{
				Time:         p.Time,
				MoofOffset:   p.MoofOffset,
				TrafNumber:   p.TrafNumber,
				TrunNumber:   p.TrunNumber,
				SampleNumber: p.SampleNumber,
			})
			if p.Time > maxTime {
				maxTime = p.Time
			}
			if p.MoofOffset > maxOffset {
				maxOffset = p.MoofOffset
			}
		}
		version := uint8(0)
		if maxTime > 0xffffffff || maxOffset > 0xffffffff {
			version = 1
		}
		children = append(children, &mp4.Box{Type: mp4.TypeTfra, Version: version, Tfra: tfra})
	}

	mfra := mp4.NewContainer(mp4.TypeMfra, children...)
	mfroSize := uint32(mp4.EncodingLength(&mp4.Box{Type: mp4.TypeMfro, Mfro: &mp4.Mfro{}}))
	total := uint32(mp4.EncodingLength(mfra)) + mfroSize
	mfra.Children = append(mfra.Children, &mp4.Box{Type: mp4.TypeMfro, Mfro: &mp4.Mfro{Size: total}})
	return mfra
}
