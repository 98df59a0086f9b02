package track

import mp4 "github.com/gomuxer/isomux"

// BuildStts builds the time-to-sample box from the dts list, coalescing
// equal deltas into (count, sample_delta) rows and emitting a final row for
// the last sample using mediaDuration-lastDTS (spec §4.7).
func (t *Track) BuildStts() *mp4.Box {
	entries := t.dtsLst.Entries()
	stts := &mp4.Stts{}
	if len(entries) == 0 {
		return &mp4.Box{Type: mp4.TypeStts, Stts: stts}
	}
	appendDelta := func(d uint32) {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].Duration == d {
			stts.Entries[n-1].Count++
			return
		}
		stts.Entries = append(stts.Entries, mp4.STTSEntry{Count: 1, Duration: d})
	}
	for i := 1; i < len(entries); i++ {
		appendDelta(uint32(entries[i].Dts - entries[i-1].Dts))
	}
	// The last sample's delta comes from the accumulated media duration.
	appendDelta(uint32(t.mediaDuration - entries[len(entries)-1].Dts))
	return &mp4.Box{Type: mp4.TypeStts, Stts: stts}
}

// NeedsCtts reports whether any sample carried a non-zero composition
// offset; an all-zero table is omitted entirely.
func (t *Track) NeedsCtts() bool {
	for _, r := range t.ctsOffsetLst.Runs() {
		if r.Value != 0 {
			return true
		}
	}
	return false
}

// BuildCtts builds the composition-offset box, emitting each run verbatim.
// v1 enables signed (negative) offsets.
func (t *Track) BuildCtts(v1 bool) *mp4.Box {
	ctts := &mp4.Ctts{}
	for _, r := range t.ctsOffsetLst.Runs() {
		ctts.Entries = append(ctts.Entries, mp4.CTTSEntry{Count: r.Count, CompositionOffset: r.Value})
	}
	version := uint8(0)
	if v1 {
		version = 1
	}
	return &mp4.Box{Type: mp4.TypeCtts, Version: version, Ctts: ctts}
}

// BuildStss builds the sync-sample box (sample numbers, 1-based). Returns
// nil when AllRapSamples is true, per spec §4.7 (omit stss entirely).
func (t *Track) BuildStss() *mp4.Box {
	if t.AllRapSamples {
		return nil
	}
	entries := t.syncLst.Entries()
	stco := &mp4.Stco{Entries: make([]uint32, len(entries))}
	for i, e := range entries {
		stco.Entries[i] = e.SampleIndex + 1
	}
	return &mp4.Box{Type: mp4.TypeStss, Stco: stco}
}

// BuildStsz builds the sample-size box: fixed-size form when the size list
// has exactly one run, else explicit per-sample sizes (spec §4.7).
func (t *Track) BuildStsz() *mp4.Box {
	runs := t.sizeLst.Runs()
	stsz := &mp4.Stsz{}
	if len(runs) == 1 {
		stsz.SampleSize = runs[0].Value
		return &mp4.Box{Type: mp4.TypeStsz, Stsz: stsz}
	}
	stsz.Entries = t.expandedSizes()
	return &mp4.Box{Type: mp4.TypeStsz, Stsz: stsz}
}

// BuildStsc builds the sample-to-chunk box, emitting a row only when
// (samples_per_chunk, sample_description_index) differs from the previous
// chunk (spec §4.7).
func (t *Track) BuildStsc() *mp4.Box {
	stsc := &mp4.Stsc{}
	counts := t.ChunkSampleCounts()
	for i, c := range counts {
		if i > 0 && counts[i-1].SamplesPerChunk == c.SamplesPerChunk && counts[i-1].SampleDescriptionIndex == c.SampleDescriptionIndex {
			continue
		}
		stsc.Entries = append(stsc.Entries, mp4.STSCEntry{
			FirstChunk:          uint32(i + 1),
			SamplesPerChunk:     c.SamplesPerChunk,
			SampleDescriptionId: c.SampleDescriptionIndex,
		})
	}
	return &mp4.Box{Type: mp4.TypeStsc, Stsc: stsc}
}

// BuildStco builds stco (32-bit) or co64 (64-bit) depending on co64Mode, or
// automatically upgrading when any offset would not fit 32 bits.
func (t *Track) BuildStco(co64Mode bool) *mp4.Box {
	positions := t.ChunkPositions()
	upgrade := co64Mode
	if !upgrade {
		for _, p := range positions {
			if p > 0xffffffff {
				upgrade = true
				break
			}
		}
	}
	if upgrade {
		co64 := &mp4.Co64{Entries: make([]uint64, len(positions))}
		for i, p := range positions {
			co64.Entries[i] = uint64(p)
		}
		return &mp4.Box{Type: mp4.TypeCo64, Co64: co64}
	}
	stco := &mp4.Stco{Entries: make([]uint32, len(positions))}
	for i, p := range positions {
		stco.Entries[i] = uint32(p)
	}
	return &mp4.Box{Type: mp4.TypeStco, Stco: stco}
}

// BuildSdtp builds the sample-dependency-type box, or nil when no sdtp rows
// were recorded.
func (t *Track) BuildSdtp() *mp4.Box {
	if len(t.sdtpLst) == 0 {
		return nil
	}
	return &mp4.Box{Type: mp4.TypeSdtp, Sdtp: &mp4.Sdtp{Entries: t.SdtpBytes()}}
}

// BuildSubs builds the sub-sample-information box, or nil when no sample
// carried more than one subsample. The per-subsample rows recorded by Accept
// are regrouped into one entry per sample here; a (0,0) marker row becomes
// an entry with no subsample structure.
func (t *Track) BuildSubs() *mp4.Box {
	if !t.HasSubsamples() {
		return nil
	}
	subs := &mp4.Subs{}
	i := 0
	for i < len(t.subsLst) {
		entry := mp4.SubsEntry{SampleDelta: 1}
		if row := t.subsLst[i]; row.Size == 0 && row.NumSubsLeft == 0 {
			i++
		} else {
			for {
				r := t.subsLst[i]
				entry.SubsampleSizes = append(entry.SubsampleSizes, r.Size)
				i++
				if r.NumSubsLeft == 0 {
					break
				}
			}
		}
		subs.Entries = append(subs.Entries, entry)
	}
	return &mp4.Box{Type: mp4.TypeSubs, Subs: subs}
}

// SampleEntry describes one stsd entry this track wants written (spec §4.7).
// Box is the fully built sample-entry box (avc1/hev1/mp4a/ac-3/ec-3/tx3g/...)
// with its codec-specific children (avcC/hvcC/esds/dac3/dec3/pasp/colr/...)
// already attached.
type SampleEntry struct {
	Box *mp4.Box
}

// BuildStsd wraps the caller-supplied per-entry sample-entry boxes (one per
// stsdLst slot) into an stsd box (spec §4.7).
func BuildStsd(entries []SampleEntry) *mp4.Box {
	stsd := &mp4.Stsd{}
	for _, e := range entries {
		stsd.Entries = append(stsd.Entries, e.Box)
	}
	return &mp4.Box{Type: mp4.TypeStsd, Stsd: stsd}
}

// BuildStbl assembles the full sample table from the already-built pieces,
// omitting stss/sdtp/subs when BuildStss/BuildSdtp/BuildSubs returned nil.
func (t *Track) BuildStbl(stsd *mp4.Box, ctts1 bool, co64Mode bool) *mp4.Box {
	children := []*mp4.Box{stsd, t.BuildStts()}
	if t.NeedsCtts() {
		children = append(children, t.BuildCtts(ctts1))
	}
	if stss := t.BuildStss(); stss != nil {
		children = append(children, stss)
	}
	if sdtp := t.BuildSdtp(); sdtp != nil {
		children = append(children, sdtp)
	}
	children = append(children, t.BuildStsz(), t.BuildStsc(), t.BuildStco(co64Mode))
	if subs := t.BuildSubs(); subs != nil {
		children = append(children, subs)
	}
	return mp4.NewContainer(mp4.TypeStbl, children...)
}
