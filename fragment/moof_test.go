package fragment

import (
	"testing"

	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/track"
)

func defaultsFor(tr *track.Track) TrackDefaults {
	return TrackDefaults{
		TrackID:                tr.ID,
		SampleDescriptionIndex: 1,
		SampleDuration:         1000,
		SampleSize:             0,
		SampleFlags:            uint32(track.SampleIsNonSyncSample),
	}
}

func findChild(box *mp4.Box, t mp4.BoxType) *mp4.Box {
	for _, c := range box.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

func TestBuildMoofDataOffsetBaseIsMoof(t *testing.T) {
	tr := buildTrack(t, 4, 1000, 1, 30000)
	tf := TrackFragment{
		Track:    tr,
		Defaults: TrackDefaults{TrackID: 1, SampleDescriptionIndex: 1, SampleDuration: 1000, SampleFlags: 0},
		Segment:  Segment{StartIdx: 0, EndIdx: 4, StartDTS: 0, EndDTS: 4000},
	}
	moof, payloads, err := BuildMoof(1, []TrackFragment{tf}, FragOptions{DefaultBaseIsMoof: true}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if moof.Children[0].Mfhd.SequenceNumber != 1 {
		t.Fatalf("sequence number = %d", moof.Children[0].Mfhd.SequenceNumber)
	}
	traf := moof.Children[1]
	tfhd := findChild(traf, mp4.TypeTfhd)
	if tfhd.Flags&mp4.TfhdDefaultBaseIsMoof == 0 {
		t.Fatal("tfhd missing DEFAULT_BASE_IS_MOOF")
	}
	if tfhd.Tfhd.BaseDataOffset != nil {
		t.Fatal("tfhd carries base_data_offset in moof-base mode")
	}
	trun := findChild(traf, mp4.TypeTrun)
	wantOffset := int32(mp4.EncodingLength(moof)) + 8
	if trun.Trun.DataOffset != wantOffset {
		t.Fatalf("trun data_offset = %d, want moof size+mdat header = %d", trun.Trun.DataOffset, wantOffset)
	}
	if payloads[0].ByteSize != 400 {
		t.Fatalf("payload byte size = %d, want 400", payloads[0].ByteSize)
	}
	if len(payloads[0].Samples) != 4 {
		t.Fatalf("payload sample count = %d, want 4", len(payloads[0].Samples))
	}
}

func TestBuildMoofBaseDataOffsetMode(t *testing.T) {
	tr := buildTrack(t, 4, 1000, 1, 30000)
	tf := TrackFragment{
		Track:    tr,
		Defaults: TrackDefaults{TrackID: 1, SampleDescriptionIndex: 1, SampleDuration: 1000, SampleFlags: 0},
		Segment:  Segment{StartIdx: 0, EndIdx: 4, StartDTS: 0, EndDTS: 4000},
	}
	moof, _, err := BuildMoof(7, []TrackFragment{tf}, FragOptions{}, 8)
	if err != nil {
		t.Fatal(err)
	}
	traf := moof.Children[1]
	tfhd := findChild(traf, mp4.TypeTfhd)
	if tfhd.Flags&mp4.TfhdBaseDataOffsetPresent == 0 {
		t.Fatal("tfhd missing BASE_DATA_OFFSET")
	}
	if tfhd.Tfhd.BaseDataOffset == nil {
		t.Fatal("tfhd base_data_offset absent")
	}
	want := mp4.EncodingLength(moof) + 8
	if *tfhd.Tfhd.BaseDataOffset != want {
		t.Fatalf("base_data_offset = %d, want moof-relative payload start %d", *tfhd.Tfhd.BaseDataOffset, want)
	}
	trun := findChild(traf, mp4.TypeTrun)
	if trun.Trun.DataOffset != 0 {
		t.Fatalf("trun data_offset = %d, want 0 relative to base", trun.Trun.DataOffset)
	}
}

func TestBuildMoofTfdt(t *testing.T) {
	tr := buildTrack(t, 4, 1000, 1, 30000)
	tf := TrackFragment{
		Track:               tr,
		Defaults:            defaultsFor(tr),
		Segment:             Segment{StartIdx: 0, EndIdx: 4, StartDTS: 0, EndDTS: 4000},
		WriteTfdt:           true,
		BaseMediaDecodeTime: 0x1_0000_0001,
	}
	moof, _, err := BuildMoof(1, []TrackFragment{tf}, FragOptions{DefaultBaseIsMoof: true}, 8)
	if err != nil {
		t.Fatal(err)
	}
	tfdt := findChild(moof.Children[1], mp4.TypeTfdt)
	if tfdt == nil {
		t.Fatal("tfdt absent")
	}
	if tfdt.Version != 1 {
		t.Fatalf("tfdt version = %d, want 1 for 64-bit decode time", tfdt.Version)
	}
	if tfdt.Tfdt.BaseMediaDecodeTime != 0x1_0000_0001 {
		t.Fatalf("baseMediaDecodeTime = %#x", tfdt.Tfdt.BaseMediaDecodeTime)
	}
}

func TestTrunFlagCompression(t *testing.T) {
	// Sample 0 is sync, the rest are not: with non-sync defaults, only the
	// first sample's flags differ, so the run collapses to first_sample_flags.
	tr := buildTrack(t, 7, 1000, 7, 30000)
	tf := TrackFragment{
		Track:    tr,
		Defaults: defaultsFor(tr),
		Segment:  Segment{StartIdx: 0, EndIdx: 7, StartDTS: 0, EndDTS: 7000},
	}
	moof, _, err := BuildMoof(1, []TrackFragment{tf}, FragOptions{DefaultBaseIsMoof: true}, 8)
	if err != nil {
		t.Fatal(err)
	}
	trun := findChild(moof.Children[1], mp4.TypeTrun)
	if trun.Flags&mp4.TrunFirstSampleFlagsPresent == 0 {
		t.Fatal("trun missing FIRST_SAMPLE_FLAGS")
	}
	if trun.Flags&mp4.TrunSampleFlagsPresent != 0 {
		t.Fatal("trun carries per-sample flags when only the first differs")
	}
	if trun.Trun.FirstSampleFlags&uint32(track.SampleIsNonSyncSample) != 0 {
		t.Fatal("first sample flagged non-sync")
	}

	// All-sync track with all-sync defaults: no flag field at all.
	allSync := buildTrack(t, 4, 1000, 1, 30000)
	tf2 := TrackFragment{
		Track:    allSync,
		Defaults: TrackDefaults{TrackID: 1, SampleDescriptionIndex: 1, SampleDuration: 1000, SampleFlags: 0},
		Segment:  Segment{StartIdx: 0, EndIdx: 4, StartDTS: 0, EndDTS: 4000},
	}
	moof2, _, err := BuildMoof(2, []TrackFragment{tf2}, FragOptions{DefaultBaseIsMoof: true}, 8)
	if err != nil {
		t.Fatal(err)
	}
	trun2 := findChild(moof2.Children[1], mp4.TypeTrun)
	if trun2.Flags&(mp4.TrunFirstSampleFlagsPresent|mp4.TrunSampleFlagsPresent) != 0 {
		t.Fatalf("trun flags = %#x, want no sample-flag fields when all match defaults", trun2.Flags)
	}
}

func TestTrunSampleCountInvariant(t *testing.T) {
	tr := buildTrack(t, 9, 1000, 3, 30000)
	segs, err := Partition(tr, Options{MaxDuration: 3000})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for i, seg := range segs {
		tf := TrackFragment{Track: tr, Defaults: defaultsFor(tr), Segment: seg}
		moof, payloads, err := BuildMoof(uint32(i+1), []TrackFragment{tf}, FragOptions{DefaultBaseIsMoof: true}, 8)
		if err != nil {
			t.Fatal(err)
		}
		trun := findChild(moof.Children[1], mp4.TypeTrun)
		if len(trun.Trun.Entries) != seg.EndIdx-seg.StartIdx {
			t.Fatalf("fragment %d: trun entries %d != segment size %d", i, len(trun.Trun.Entries), seg.EndIdx-seg.StartIdx)
		}
		var sum uint64
		for _, e := range trun.Trun.Entries {
			sum += uint64(e.SampleSize)
		}
		if sum != payloads[0].ByteSize {
			t.Fatalf("fragment %d: trun sizes sum %d != payload byte size %d", i, sum, payloads[0].ByteSize)
		}
		total += len(trun.Trun.Entries)
	}
	if total != 9 {
		t.Fatalf("trun sample counts sum to %d, want 9", total)
	}
}

func TestBuildSidxVersion(t *testing.T) {
	small := BuildSidx(1, 48000, 100, 0, []SidxEntry{{ReferencedSize: 10, SubsegmentDuration: 1000, StartsWithSAP: true, SAPType: 1}})
	if small.Version != 0 {
		t.Fatalf("sidx version = %d, want 0", small.Version)
	}
	big := BuildSidx(1, 48000, 0x1_0000_0000, 0, []SidxEntry{{ReferencedSize: 10}})
	if big.Version != 1 {
		t.Fatalf("sidx version = %d, want 1 for 64-bit earliest time", big.Version)
	}
	if len(small.Sidx.References) != 1 || small.Sidx.References[0].StartsWithSAP != 1 {
		t.Fatalf("sidx references = %+v", small.Sidx.References)
	}
}

func TestBuildMfraMfroSize(t *testing.T) {
	mfra := BuildMfra([]TrackTfra{{
		TrackID: 1,
		Points: []TfraPoint{
			{Time: 0, MoofOffset: 1000, TrafNumber: 1, TrunNumber: 1, SampleNumber: 1},
			{Time: 3000, MoofOffset: 5000, TrafNumber: 1, TrunNumber: 1, SampleNumber: 1},
		},
	}}, false)
	total := mp4.EncodingLength(mfra)
	mfro := mfra.Children[len(mfra.Children)-1]
	if mfro.Type != mp4.TypeMfro {
		t.Fatalf("last child = %s, want mfro", mfro.Type)
	}
	if uint64(mfro.Mfro.Size) != total {
		t.Fatalf("mfro size = %d, want whole mfra %d", mfro.Mfro.Size, total)
	}
	tfra := mfra.Children[0]
	if len(tfra.Tfra.Entries) != 2 {
		t.Fatalf("tfra entries = %d", len(tfra.Tfra.Entries))
	}

	one := BuildMfra([]TrackTfra{{TrackID: 1, Points: []TfraPoint{{Time: 0}, {Time: 3000}}}}, true)
	if got := len(one.Children[0].Tfra.Entries); got != 1 {
		t.Fatalf("one-entry-per-traf tfra entries = %d, want 1", got)
	}
}
