package track

import (
	"errors"
	"testing"
)

func audioSample(dts uint64, dur, size uint32, pos int64) Sample {
	return Sample{DTS: dts, CTS: dts, Duration: dur, Size: size, Pos: pos}
}

func videoSample(dts, cts uint64, size uint32, sync bool) Sample {
	s := Sample{DTS: dts, CTS: cts, Duration: 1000, Size: size, FrameType: 1}
	if !sync {
		s.Flags |= SampleIsNonSyncSample
	}
	return s
}

func TestAcceptDerivesScalars(t *testing.T) {
	tr := NewTrack(1)
	for i := 0; i < 5; i++ {
		if err := tr.Accept(audioSample(uint64(i)*1024, 1024, 256, int64(i)*256), 48000); err != nil {
			t.Fatal(err)
		}
	}
	if got := tr.SampleNum(); got != 5 {
		t.Fatalf("SampleNum = %d, want 5", got)
	}
	if got := tr.MediaDuration(); got != 5*1024 {
		t.Fatalf("MediaDuration = %d, want %d", got, 5*1024)
	}
	if got := tr.TotalSize(); got != 5*256 {
		t.Fatalf("TotalSize = %d, want %d", got, 5*256)
	}
	if tr.MediaTimescale != 48000 {
		t.Fatalf("MediaTimescale = %d, want 48000", tr.MediaTimescale)
	}
}

func TestAcceptRejectsBackwardDTS(t *testing.T) {
	tr := NewTrack(1)
	if err := tr.Accept(audioSample(1000, 10, 1, 0), 1000); err != nil {
		t.Fatal(err)
	}
	err := tr.Accept(audioSample(500, 10, 1, 1), 1000)
	if !errors.Is(err, ErrSampleOrder) {
		t.Fatalf("got %v, want ErrSampleOrder", err)
	}
}

func TestSyncListSubsetOfDts(t *testing.T) {
	tr := NewTrack(1)
	for i := 0; i < 9; i++ {
		if err := tr.Accept(videoSample(uint64(i)*1000, uint64(i)*1000, 100, i%3 == 0), 90000); err != nil {
			t.Fatal(err)
		}
	}
	syncs := tr.SyncEntries()
	if len(syncs) != 3 {
		t.Fatalf("sync count = %d, want 3", len(syncs))
	}
	for _, e := range syncs {
		if !tr.IsSyncAt(int(e.SampleIndex)) {
			t.Fatalf("IsSyncAt(%d) = false for listed sync", e.SampleIndex)
		}
	}
	if tr.IsSyncAt(1) {
		t.Fatal("IsSyncAt(1) = true for non-sync sample")
	}
}

func TestStsdEntriesImplicitAndNewSD(t *testing.T) {
	tr := NewTrack(1)
	for i := 0; i < 6; i++ {
		s := audioSample(uint64(i)*1024, 1024, 100, int64(i)*100)
		if i == 4 {
			s.Flags |= NewSD
		}
		if err := tr.Accept(s, 48000); err != nil {
			t.Fatal(err)
		}
	}
	if got := tr.StsdCount(); got != 2 {
		t.Fatalf("StsdCount = %d, want 2", got)
	}
	if got := tr.StsdStartIndices(); len(got) != 1 || got[0] != 4 {
		t.Fatalf("StsdStartIndices = %v, want [4]", got)
	}
	// The NEW_SD sample must have opened a new chunk whose stsd index is 2.
	counts := tr.ChunkSampleCounts()
	last := counts[len(counts)-1]
	if last.SampleDescriptionIndex != 2 {
		t.Fatalf("last chunk sample_description_index = %d, want 2", last.SampleDescriptionIndex)
	}
	if counts[0].SampleDescriptionIndex != 1 {
		t.Fatalf("first chunk sample_description_index = %d, want 1", counts[0].SampleDescriptionIndex)
	}
}

func TestChunkBuilderMaxSize(t *testing.T) {
	tr := NewTrack(1)
	tr.SetMaxChunkSize(250)
	for i := 0; i < 4; i++ {
		if err := tr.Accept(audioSample(uint64(i)*1024, 1024, 100, int64(i)*100), 48000); err != nil {
			t.Fatal(err)
		}
	}
	// 100+100 fits under 250; a third 100 would exceed it.
	counts := tr.ChunkSampleCounts()
	if len(counts) != 2 || counts[0].SamplesPerChunk != 2 || counts[1].SamplesPerChunk != 2 {
		t.Fatalf("chunk layout = %+v, want two chunks of 2", counts)
	}
}

func TestChunkBuilderSpanTime(t *testing.T) {
	tr := NewTrack(1)
	tr.ChunkSpanTime = 2048
	for i := 0; i < 6; i++ {
		if err := tr.Accept(audioSample(uint64(i)*1024, 1024, 10, int64(i)*10), 48000); err != nil {
			t.Fatal(err)
		}
	}
	counts := tr.ChunkSampleCounts()
	if len(counts) != 3 {
		t.Fatalf("chunk count = %d, want 3 (2 samples per 2048-tick span)", len(counts))
	}
}

func TestSubsampleRows(t *testing.T) {
	tr := NewTrack(1)
	s := videoSample(0, 0, 300, true)
	s.SubsampleSizes = []uint32{100, 200}
	if err := tr.Accept(s, 90000); err != nil {
		t.Fatal(err)
	}
	if err := tr.Accept(videoSample(1000, 1000, 50, false), 90000); err != nil {
		t.Fatal(err)
	}
	if !tr.HasSubsamples() {
		t.Fatal("HasSubsamples = false")
	}
	if got := tr.SubsampleSizesAt(0); len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Fatalf("SubsampleSizesAt(0) = %v, want [100 200]", got)
	}
	if got := tr.SubsampleSizesAt(1); got != nil {
		t.Fatalf("SubsampleSizesAt(1) = %v, want nil", got)
	}
}

func TestFinalizeBooleans(t *testing.T) {
	tr := NewTrack(1)
	for i := 0; i < 4; i++ {
		if err := tr.Accept(audioSample(uint64(i)*1024, 1024, 256, int64(i)*256), 48000); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Finalize(); err != nil {
		t.Fatal(err)
	}
	if !tr.AllRapSamples || !tr.AllSameSizeSamples || !tr.NoCtsOffset {
		t.Fatalf("booleans = %v %v %v, want all true", tr.AllRapSamples, tr.AllSameSizeSamples, tr.NoCtsOffset)
	}
	if len(tr.EditList()) != 0 {
		t.Fatalf("edit list = %v, want empty for zero cts offsets", tr.EditList())
	}
}

func TestFinalizeEmptyTrack(t *testing.T) {
	tr := NewTrack(1)
	if err := tr.Finalize(); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("got %v, want ErrNoSamples", err)
	}
}

func TestFinalizeDefaultEditList(t *testing.T) {
	tr := NewTrack(1)
	// IPB-style reorder: cts leads dts by a varying offset.
	if err := tr.Accept(Sample{DTS: 0, CTS: 2000, Duration: 1000, Size: 10}, 90000); err != nil {
		t.Fatal(err)
	}
	if err := tr.Accept(Sample{DTS: 1000, CTS: 1000, Duration: 1000, Size: 10, Flags: SampleIsNonSyncSample}, 90000); err != nil {
		t.Fatal(err)
	}
	if err := tr.Accept(Sample{DTS: 2000, CTS: 4000, Duration: 1000, Size: 10, Flags: SampleIsNonSyncSample}, 90000); err != nil {
		t.Fatal(err)
	}
	if err := tr.Finalize(); err != nil {
		t.Fatal(err)
	}
	if tr.NoCtsOffset {
		t.Fatal("NoCtsOffset = true with non-zero offsets")
	}
	edits := tr.EditList()
	if len(edits) != 1 {
		t.Fatalf("edit list length = %d, want 1", len(edits))
	}
	if edits[0].Duration != tr.MediaDuration() {
		t.Fatalf("edit duration = %d, want %d", edits[0].Duration, tr.MediaDuration())
	}
	if edits[0].MediaTime != 2000 {
		t.Fatalf("edit media_time = %d, want first CTS 2000", edits[0].MediaTime)
	}
}

func TestCttsV1BaseSubtraction(t *testing.T) {
	tr := NewTrack(1)
	tr.Ctts1 = true
	if err := tr.Accept(Sample{DTS: 0, CTS: 2000, Duration: 1000, Size: 10}, 90000); err != nil {
		t.Fatal(err)
	}
	if err := tr.Accept(Sample{DTS: 1000, CTS: 1000, Duration: 1000, Size: 10}, 90000); err != nil {
		t.Fatal(err)
	}
	runs := tr.CtsOffsetRuns()
	// Base is the first sample's cts-dts (2000): offsets become 0 and -2000.
	if len(runs) != 2 || runs[0].Value != 0 || runs[1].Value != -2000 {
		t.Fatalf("cts offset runs = %+v, want [0 -2000]", runs)
	}
}

func TestSampleDurationAt(t *testing.T) {
	tr := NewTrack(1)
	dts := []uint64{0, 10, 30, 35}
	for i, d := range dts {
		dur := uint32(5)
		if err := tr.Accept(audioSample(d, dur, 1, int64(i)), 1000); err != nil {
			t.Fatal(err)
		}
	}
	// mediaDuration = 35 + 5 = 40.
	want := []uint32{10, 20, 5, 5}
	for i, w := range want {
		if got := tr.SampleDurationAt(i); got != w {
			t.Fatalf("SampleDurationAt(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestSampleFlagsAt(t *testing.T) {
	tr := NewTrack(1)
	s0 := videoSample(0, 0, 10, true)
	s0.SampleDependsOn = 2
	s1 := videoSample(1000, 1000, 10, false)
	s1.SampleDependsOn = 1
	s1.SampleIsDependedOn = 2
	for _, s := range []Sample{s0, s1} {
		if err := tr.Accept(s, 90000); err != nil {
			t.Fatal(err)
		}
	}
	f0 := tr.SampleFlagsAt(0)
	if f0&uint32(SampleIsNonSyncSample) != 0 {
		t.Fatal("sync sample carries non-sync flag")
	}
	if (f0>>24)&0x3 != 2 {
		t.Fatalf("sample_depends_on = %d, want 2", (f0>>24)&0x3)
	}
	f1 := tr.SampleFlagsAt(1)
	if f1&uint32(SampleIsNonSyncSample) == 0 {
		t.Fatal("non-sync sample missing non-sync flag")
	}
	if (f1>>22)&0x3 != 2 {
		t.Fatalf("sample_is_depended_on = %d, want 2", (f1>>22)&0x3)
	}
}

func TestFinalizeBitrate(t *testing.T) {
	tr := NewTrack(1)
	// 50 frames of 1024 ticks at 48 kHz, 400 bytes each: just over one
	// second of audio with a constant rate.
	for i := 0; i < 50; i++ {
		if err := tr.Accept(audioSample(uint64(i)*1024, 1024, 400, int64(i)*400), 48000); err != nil {
			t.Fatal(err)
		}
	}
	br := tr.FinalizeBitrate(48000)
	wantAvg := uint32(8 * 50 * 400 * 48000 / (50 * 1024))
	if br.Avg != wantAvg {
		t.Fatalf("Avg = %d, want %d", br.Avg, wantAvg)
	}
	if br.Max == 0 || br.Max > wantAvg {
		t.Fatalf("Max = %d, want in (0, %d] for constant-size frames", br.Max, wantAvg)
	}
}
