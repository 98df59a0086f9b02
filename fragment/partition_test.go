package fragment

import (
	"errors"
	"testing"

	"github.com/gomuxer/isomux/track"
)

// buildTrack accepts n samples of the given tick duration, marking every
// syncEvery-th sample (from 0) as sync; syncEvery 1 makes an all-RAP track.
func buildTrack(t *testing.T, n int, dur uint32, syncEvery int, timescale uint32) *track.Track {
	t.Helper()
	tr := track.NewTrack(1)
	for i := 0; i < n; i++ {
		s := track.Sample{DTS: uint64(i) * uint64(dur), CTS: uint64(i) * uint64(dur), Duration: dur, Size: 100, Pos: int64(i) * 100}
		if i%syncEvery != 0 {
			s.Flags |= track.SampleIsNonSyncSample
		}
		if err := tr.Accept(s, timescale); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Finalize(); err != nil {
		t.Fatal(err)
	}
	return tr
}

func checkContiguous(t *testing.T, segs []Segment, n int) {
	t.Helper()
	if len(segs) == 0 {
		t.Fatal("no segments")
	}
	if segs[0].StartIdx != 0 {
		t.Fatalf("first segment starts at %d", segs[0].StartIdx)
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].StartIdx != segs[i-1].EndIdx {
			t.Fatalf("segment %d not contiguous: %+v after %+v", i, segs[i], segs[i-1])
		}
	}
	if segs[len(segs)-1].EndIdx != n {
		t.Fatalf("last segment ends at %d, want %d", segs[len(segs)-1].EndIdx, n)
	}
}

func TestPartitionAllSync(t *testing.T) {
	tr := buildTrack(t, 10, 1024, 1, 48000)
	segs, err := Partition(tr, Options{MinDuration: 0, MaxDuration: 4 * 1024})
	if err != nil {
		t.Fatal(err)
	}
	checkContiguous(t, segs, 10)
	for i, seg := range segs[:len(segs)-1] {
		if got := seg.EndDTS - seg.StartDTS; got > 4*1024 {
			t.Fatalf("segment %d spans %d ticks, max is %d", i, got, 4*1024)
		}
	}
}

func TestPartitionSyncAligned(t *testing.T) {
	// Sync every 7th sample (IDR cadence), fragments bounded at 10 samples'
	// worth of ticks: each fragment must end on a sync boundary.
	tr := buildTrack(t, 21, 1000, 7, 30000)
	segs, err := Partition(tr, Options{MinDuration: 1000, MaxDuration: 10_000})
	if err != nil {
		t.Fatal(err)
	}
	checkContiguous(t, segs, 21)
	for i, seg := range segs[:len(segs)-1] {
		if !tr.IsSyncAt(seg.EndIdx) {
			t.Fatalf("segment %d ends at non-sync sample %d", i, seg.EndIdx)
		}
	}
}

func TestPartitionRequireFirstIsSync(t *testing.T) {
	// Sync only at sample 0; a 5-sample max window finds no later sync.
	tr := buildTrack(t, 20, 1000, 100, 30000)
	_, err := Partition(tr, Options{MaxDuration: 5000, RequireFirstIsSync: true})
	if !errors.Is(err, ErrFirstNotSync) {
		t.Fatalf("got %v, want ErrFirstNotSync", err)
	}
}

func TestPartitionFallbackWithoutSync(t *testing.T) {
	tr := buildTrack(t, 20, 1000, 100, 30000)
	segs, err := Partition(tr, Options{MaxDuration: 5000})
	if err != nil {
		t.Fatal(err)
	}
	checkContiguous(t, segs, 20)
	if len(segs) < 3 {
		t.Fatalf("got %d segments, want several bounded ones", len(segs))
	}
}

func TestPartitionSDChangeBoundary(t *testing.T) {
	// 100 samples of 40 ticks in a 1000-tick timescale; a sample-description
	// change at sample 75 (DTS 3000) must force a fragment boundary there
	// even though the 2000-tick max never lines up with it.
	tr := track.NewTrack(1)
	for i := 0; i < 100; i++ {
		s := track.Sample{DTS: uint64(i) * 40, CTS: uint64(i) * 40, Duration: 40, Size: 50, Pos: int64(i) * 50}
		if i == 75 {
			s.Flags |= track.NewSD
		}
		if err := tr.Accept(s, 1000); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Finalize(); err != nil {
		t.Fatal(err)
	}

	segs, err := Partition(tr, Options{MaxDuration: 2000})
	if err != nil {
		t.Fatal(err)
	}
	checkContiguous(t, segs, 100)
	found := false
	for _, seg := range segs {
		if seg.StartIdx == 75 {
			found = true
		}
		if seg.StartIdx < 75 && seg.EndIdx > 75 {
			t.Fatalf("segment %+v straddles the sample-description change", seg)
		}
	}
	if !found {
		t.Fatal("no fragment opens at the sample-description change")
	}
}
