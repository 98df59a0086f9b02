// Package fragment implements fragment-boundary selection and the moof/mdat
// writers the fragmented-mux path needs (spec §4.9): a track's accepted
// samples are partitioned into contiguous [start,end) runs, each emitted as
// one moof+mdat pair, optionally indexed by a back-patched sidx and mfra.
package fragment

import (
	"errors"

	"github.com/gomuxer/isomux/container"
	"github.com/gomuxer/isomux/track"
)

// ErrFirstNotSync is returned by Partition when Options.RequireFirstIsSync
// is set and a fragment would otherwise have to open on a non-sync sample
// (spec §4.9 step 3).
var ErrFirstNotSync = errors.New("fragment: next sample is not a sync sample")

// Segment is one fragment's sample range, in a track's own sample indices.
type Segment struct {
	StartIdx, EndIdx int // [StartIdx, EndIdx)
	StartDTS, EndDTS uint64
}

// Options configures the partitioning algorithm (spec §4.9 create_fragment_lst).
type Options struct {
	// MinDuration/MaxDuration bound a fragment's length, in the track's
	// media timescale (spec calls these frag_range_min_ms/frag_range_max_ms
	// scaled to timescale units by the caller).
	MinDuration, MaxDuration uint64
	// RequireFirstIsSync rejects a fragment boundary that would leave the
	// next fragment opening on a non-sync sample.
	RequireFirstIsSync bool
}

// Partition implements create_fragment_lst (spec §4.9) for one track:
// starting at sample 0, repeatedly picks a fragment end that is sync-sample
// aligned when the track isn't all-sync, bounded by [MinDuration,MaxDuration]
// and clipped by the next pending sample-description change.
func Partition(tr *track.Track, opt Options) ([]Segment, error) {
	n := tr.SampleNum()
	if n == 0 {
		return nil, nil
	}

	sdBoundaries := tr.StsdStartIndices()
	sdPos := 0
	entries := tr.DtsEntries()

	var segs []Segment
	start := 0
	startDTS, _ := tr.DtsAt(0)

	for start < n {
		// If the opening sample is itself an SD boundary, advance past it
		// (spec §4.9 step 2: "If the opening sample is the one that
		// introduces the SD, advance past it").
		for sdPos < len(sdBoundaries) && sdBoundaries[sdPos] <= start {
			sdPos++
		}

		dtsMin := startDTS + opt.MinDuration
		dtsMax := startDTS + opt.MaxDuration
		if sdPos < len(sdBoundaries) {
			if sdDts, ok := tr.DtsAt(sdBoundaries[sdPos]); ok && sdDts <= dtsMax {
				dtsMax = sdDts
			}
		}

		endIdx, endDTS, err := pickFragmentEnd(tr, entries, start, n, dtsMin, dtsMax, opt.RequireFirstIsSync)
		if err != nil {
			return segs, err
		}
		// A sample-description boundary always ends the fragment even if it
		// falls before any sync-aligned candidate would.
		if sdPos < len(sdBoundaries) && sdBoundaries[sdPos] < endIdx {
			endIdx = sdBoundaries[sdPos]
			endDTS, _ = tr.DtsAt(endIdx)
		}
		if endIdx >= n {
			endIdx = n
			endDTS = tr.FirstDTS() + tr.MediaDuration()
		}

		segs = append(segs, Segment{StartIdx: start, EndIdx: endIdx, StartDTS: startDTS, EndDTS: endDTS})
		start = endIdx
		startDTS = endDTS
	}
	return segs, nil
}

// pickFragmentEnd implements spec §4.9 step 3: for tracks that are not all
// sync, take the last sync sample with dts in (dtsMin,dtsMax]; otherwise (or
// when none falls in range) fall back to the last sample with dts<=dtsMax.
func pickFragmentEnd(tr *track.Track, entries []container.IndexDtsEntry, start, n int, dtsMin, dtsMax uint64, requireFirstSync bool) (int, uint64, error) {
	if !tr.AllRapSamples {
		if end, dts, ok := lastSyncInRange(tr, start, n, dtsMin, dtsMax); ok {
			return end, dts, nil
		}
		if requireFirstSync && start < n && !tr.AllRapSamples && !tr.IsSyncAt(start) {
			return 0, 0, ErrFirstNotSync
		}
	}
	return lastSampleLE(entries, start, n, dtsMax)
}

// lastSyncInRange scans the sync-sample cursor from start forward, returning
// the last entry with dts in (lo,hi].
func lastSyncInRange(tr *track.Track, start, n int, lo, hi uint64) (int, uint64, bool) {
	c := tr.NewSyncCursor()
	mark := c.SaveMark()
	found := false
	var bestIdx int
	var bestDts uint64
	for {
		e, ok := c.Next()
		if !ok {
			break
		}
		if int(e.SampleIndex) < start {
			mark = c.SaveMark()
			continue
		}
		if e.Dts > hi {
			break
		}
		if e.Dts > lo {
			bestIdx, bestDts, found = int(e.SampleIndex), e.Dts, true
		}
	}
	c.GotoMark(mark)
	if !found {
		return 0, 0, false
	}
	// Fragments must make forward progress; a sync sample exactly at start
	// does not end the fragment.
	if bestIdx <= start {
		return 0, 0, false
	}
	return bestIdx, bestDts, true
}

// lastSampleLE finds the highest sample index in [start,n) whose dts is
// <= hi and returns it as the exclusive end, so that sample opens the next
// fragment (spec §4.9 step 3: "walk dts_lst and take any sample with
// dts <= dts_max as the end"). When that is the last sample the fragment
// runs to n; when it is start itself the end is start+1, so the walk
// always makes forward progress.
func lastSampleLE(entries []container.IndexDtsEntry, start, n int, hi uint64) (int, uint64, error) {
	last := start
	for i := start; i < n; i++ {
		if entries[i].Dts > hi {
			break
		}
		last = i
	}
	end := last
	if end <= start {
		end = start + 1
	}
	if last == n-1 || end >= n {
		return n, entries[n-1].Dts, nil
	}
	return end, entries[end].Dts, nil
}
