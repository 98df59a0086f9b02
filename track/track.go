// Package track implements the mutable per-track sample accumulator (spec
// §4.6/§4.6.1): it accepts Sample values in DTS order, maintains every
// derived run-length/indexed list the sample-table encoder needs, and
// exposes a full view for classical mux plus a range view per fragment.
package track

import (
	"errors"
	"fmt"

	"github.com/gomuxer/isomux/container"
)

// SampleFlags mirrors the ISO/IEC 14496-12 sample_flags bitfield used by
// trun/tfhd defaults.
type SampleFlags uint32

const (
	SampleIsNonSyncSample SampleFlags = 1 << 16
	// NewSD marks a sample whose arrival forces a new stsd entry because the
	// parser reported a configuration change (spec §4.4 NEW_SD, §4.6 step 11).
	NewSD SampleFlags = 1 << 31
)

// Sample is one normalized access unit handed to a Track by a codec parser
// (spec §3).
type Sample struct {
	DTS, CTS uint64
	Duration uint32
	Size     uint32
	Pos      int64
	Flags    SampleFlags

	IsLeading           int8
	SampleDependsOn     int8
	SampleIsDependedOn  int8
	SampleHasRedundancy int8
	PicType             uint8
	DependencyLevel     uint8
	FrameType           uint8
	SubsampleSizes      []uint32
	AuxData             []byte
	AuxDataType         uint8

	Data []byte // present for push-mode parsers that own the bytes
}

// IsSync reports whether the sample is a random-access point.
func (s *Sample) IsSync() bool { return s.Flags&SampleIsNonSyncSample == 0 }

// DSI is a codec-specific decoder-config entry, identified by a
// four-character tag (spec §3). A parser owns an ordered, append-only list
// of these; each entry is stable once appended.
type DSI struct {
	Tag     [4]byte
	Payload []byte
}

// ErrSampleOrder reports a Sample arriving out of DTS order (spec invariant 1).
var ErrSampleOrder = errors.New("track: sample DTS not monotonically increasing")

// ErrNoSamples reports an empty track at mux finalization.
var ErrNoSamples = errors.New("track: no samples accepted")

// sdtpRow is one sdtp entry (spec §4.6 step 4): is_leading (2 bits),
// sample_depends_on (2), sample_is_depended_on (2), sample_has_redundancy
// (2) packed into a single byte by the sample-table encoder.
type sdtpRow struct {
	IsLeading           int8
	SampleDependsOn     int8
	SampleIsDependedOn  int8
	SampleHasRedundancy int8
}

// subsampleRow is one (size, num_subs_left) entry (spec §4.6 step 6).
type subsampleRow struct {
	Size        uint32
	NumSubsLeft uint32
}

// stsdEntry records where a new sample description begins (spec §4.6 step 11).
type stsdEntry struct {
	StartSampleIdx int
}

// chunkEntry accumulates one contiguous run of samples sharing a data
// position window (spec §4.6 step 11).
type chunkEntry struct {
	FirstSampleIdx int
	SampleCount    int
	Pos            int64
	StsdIdx        int
}

// Track accumulates one elementary stream's samples and all lists the
// sample-table encoder and fragmenter need.
type Track struct {
	ID             uint32
	MediaTimescale uint32
	ChunkSpanTime  uint32 // derived from the user's span-in-ms option, in media timescale units

	mediaDuration uint64
	firstDTS      uint64
	firstCTS      uint64
	haveFirstDTS  bool
	sampleNum     int
	lastDTS       uint64
	haveLastDTS   bool

	ctsOffsetV1Base int64
	Ctts1           bool // user opt-in to ctts version 1

	posLst       []int64
	sizeLst      container.CountValueList[uint32]
	sdtpLst      []sdtpRow
	trikLst      []struct{ PicType, DependencyLevel uint8 }
	frameTypeLst []uint8
	subsLst      []subsampleRow
	syncLst      container.IndexDtsList
	dtsLst       container.IndexDtsList
	ctsOffsetLst container.CountValueList[int32]

	stsdLst  []stsdEntry
	chunkLst []chunkEntry

	maxChunkSize uint32
	chunkDtsTop  uint64
	curChunk     *chunkEntry
	curChunkSize uint64

	editLst []ElstEntry

	totalSize uint64

	// derived booleans, computed at setup (spec §4.10 setup_muxer)
	AllRapSamples      bool
	AllSameSizeSamples bool
	NoCtsOffset        bool
}

// ElstEntry is one externally pushed edit (spec §4.6: add_to_track_edit_list).
type ElstEntry struct {
	Duration  uint64 // movie timescale
	MediaTime int64
}

// NewTrack returns an empty track with the given track ID. MediaTimescale is
// set on first Accept if still zero.
func NewTrack(id uint32) *Track {
	return &Track{ID: id, maxChunkSize: 1 << 20}
}

// SetMaxChunkSize overrides the default chunk-size threshold used by the
// chunk builder (spec §4.6 step 11).
func (t *Track) SetMaxChunkSize(n uint32) { t.maxChunkSize = n }

// Accept ingests one sample in DTS order, updating every derived list (spec
// §4.6 steps 1-12). initialMediaTimescale seeds MediaTimescale on the first
// call only.
func (t *Track) Accept(s Sample, initialMediaTimescale uint32) error {
	if t.MediaTimescale == 0 {
		t.MediaTimescale = initialMediaTimescale
	}
	if t.haveLastDTS && s.DTS < t.lastDTS {
		return fmt.Errorf("%w: got %d after %d", ErrSampleOrder, s.DTS, t.lastDTS)
	}
	idx := t.sampleNum

	t.posLst = append(t.posLst, s.Pos)
	t.sizeLst.Update(s.Size)

	if s.FrameType != 0 || len(t.sdtpLst) > 0 {
		t.sdtpLst = append(t.sdtpLst, sdtpRow{
			IsLeading:           s.IsLeading,
			SampleDependsOn:     s.SampleDependsOn,
			SampleIsDependedOn:  s.SampleIsDependedOn,
			SampleHasRedundancy: s.SampleHasRedundancy,
		})
	}

	t.trikLst = append(t.trikLst, struct{ PicType, DependencyLevel uint8 }{s.PicType, s.DependencyLevel})
	t.frameTypeLst = append(t.frameTypeLst, s.FrameType)

	if len(s.SubsampleSizes) > 1 {
		for i, sz := range s.SubsampleSizes {
			t.subsLst = append(t.subsLst, subsampleRow{Size: sz, NumSubsLeft: uint32(len(s.SubsampleSizes) - 1 - i)})
		}
	} else {
		t.subsLst = append(t.subsLst, subsampleRow{})
	}

	if s.IsSync() {
		t.syncLst.Append(uint32(idx), s.DTS)
	}
	t.dtsLst.Append(uint32(idx), s.DTS)

	if !t.haveFirstDTS {
		t.firstDTS = s.DTS
		t.firstCTS = s.CTS
		t.haveFirstDTS = true
		if t.Ctts1 {
			t.ctsOffsetV1Base = int64(s.CTS) - int64(s.DTS)
		}
	}
	offset := int64(s.CTS) - int64(s.DTS) - t.ctsOffsetV1Base
	t.ctsOffsetLst.Update(int32(offset))

	t.mediaDuration = (s.DTS + uint64(s.Duration)) - t.firstDTS
	t.lastDTS = s.DTS
	t.haveLastDTS = true
	t.totalSize += uint64(s.Size)

	t.updateChunk(idx, s)

	t.sampleNum++
	return nil
}

// updateChunk implements the chunk builder (spec §4.6 step 11).
func (t *Track) updateChunk(idx int, s Sample) {
	newSD := s.Flags&NewSD != 0
	// The first sample always opens the implicit first sample description;
	// NEW_SD on any later sample opens the next one.
	if len(t.stsdLst) == 0 {
		t.stsdLst = append(t.stsdLst, stsdEntry{StartSampleIdx: idx})
	} else if newSD {
		t.stsdLst = append(t.stsdLst, stsdEntry{StartSampleIdx: idx})
	}

	needNewChunk := t.curChunk == nil || newSD ||
		t.curChunkSize+uint64(s.Size) > uint64(t.maxChunkSize) ||
		(t.chunkDtsTop != 0 && s.DTS >= t.chunkDtsTop)

	if needNewChunk {
		stsdIdx := 0
		if n := len(t.stsdLst); n > 0 {
			stsdIdx = n - 1
		}
		t.chunkLst = append(t.chunkLst, chunkEntry{FirstSampleIdx: idx, Pos: s.Pos, StsdIdx: stsdIdx})
		t.curChunk = &t.chunkLst[len(t.chunkLst)-1]
		t.curChunkSize = 0
		if t.ChunkSpanTime != 0 {
			t.chunkDtsTop = s.DTS + uint64(t.ChunkSpanTime)
		}
	}
	t.curChunk.SampleCount++
	t.curChunkSize += uint64(s.Size)
}

// AddEditListEntry pushes one externally supplied edit (spec §4.6:
// add_to_track_edit_list). duration is already in movie timescale units.
func (t *Track) AddEditListEntry(duration uint64, mediaTime int64) {
	t.editLst = append(t.editLst, ElstEntry{Duration: duration, MediaTime: mediaTime})
}

// EditList returns the accumulated edit-list entries.
func (t *Track) EditList() []ElstEntry { return t.editLst }

// SampleNum returns the number of samples accepted so far.
func (t *Track) SampleNum() int { return t.sampleNum }

// MediaDuration returns the accumulated media-timescale duration.
func (t *Track) MediaDuration() uint64 { return t.mediaDuration }

// TotalSize returns the sum of all sample sizes accepted.
func (t *Track) TotalSize() uint64 { return t.totalSize }

// FirstDTS returns the first sample's DTS.
func (t *Track) FirstDTS() uint64 { return t.firstDTS }

// SizeRuns exposes the run-length-compressed size list for stsz/bitrate use.
func (t *Track) SizeRuns() []container.Run[uint32] { return t.sizeLst.Runs() }

// DtsEntries exposes the (sample_index, dts) list for stts/fragmenter use.
func (t *Track) DtsEntries() []container.IndexDtsEntry { return t.dtsLst.Entries() }

// SyncEntries exposes the sync-sample (sample_index, dts) list for
// stss/fragmenter use.
func (t *Track) SyncEntries() []container.IndexDtsEntry { return t.syncLst.Entries() }

// NewSyncCursor returns a fresh, independently-positioned cursor over the
// sync-sample list (spec §4.2/§4.9: fragmentation revisits ranges).
func (t *Track) NewSyncCursor() *container.DtsCursor { return container.NewDtsCursor(&t.syncLst) }

// NewDtsCursor returns a fresh cursor over the full dts list.
func (t *Track) NewDtsCursor() *container.DtsCursor { return container.NewDtsCursor(&t.dtsLst) }

// CtsOffsetRuns exposes the run-length-compressed cts-offset list.
func (t *Track) CtsOffsetRuns() []container.Run[int32] { return t.ctsOffsetLst.Runs() }

// ChunkCount returns the number of chunks the chunk builder produced.
func (t *Track) ChunkCount() int { return len(t.chunkLst) }

// ChunkPositions returns each chunk's first-sample byte position, for
// stco/co64 construction.
func (t *Track) ChunkPositions() []int64 {
	out := make([]int64, len(t.chunkLst))
	for i, c := range t.chunkLst {
		out[i] = c.Pos
	}
	return out
}

// ChunkSampleCount is one stsc row's fields (spec §4.7).
type ChunkSampleCount struct {
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// ChunkSampleCounts returns, per chunk, (samples_per_chunk, stsd_index+1)
// for stsc row coalescing (spec §4.7).
func (t *Track) ChunkSampleCounts() []ChunkSampleCount {
	out := make([]ChunkSampleCount, len(t.chunkLst))
	for i, c := range t.chunkLst {
		out[i] = ChunkSampleCount{SamplesPerChunk: uint32(c.SampleCount), SampleDescriptionIndex: uint32(c.StsdIdx + 1)}
	}
	return out
}

// SdtpBytes packs the accumulated sdtp rows into their wire form (2 bits
// per field, spec §4.7/§4.8).
func (t *Track) SdtpBytes() []byte {
	out := make([]byte, len(t.sdtpLst))
	for i, r := range t.sdtpLst {
		out[i] = byte(r.IsLeading&0x3)<<6 | byte(r.SampleDependsOn&0x3)<<4 |
			byte(r.SampleIsDependedOn&0x3)<<2 | byte(r.SampleHasRedundancy&0x3)
	}
	return out
}

// TrikEntry is one sample's trick-play classification (spec §4.7 "trik").
type TrikEntry struct {
	PicType         uint8
	DependencyLevel uint8
}

// TrikEntries returns the accumulated per-sample trick-play rows, or nil if
// no sample carried PicType/DependencyLevel information.
func (t *Track) TrikEntries() []TrikEntry {
	any := false
	for _, r := range t.trikLst {
		if r.PicType != 0 || r.DependencyLevel != 0 {
			any = true
			break
		}
	}
	if !any {
		return nil
	}
	out := make([]TrikEntry, len(t.trikLst))
	for i, r := range t.trikLst {
		out[i] = TrikEntry{PicType: r.PicType, DependencyLevel: r.DependencyLevel}
	}
	return out
}

// HasSubsamples reports whether any sample carried more than one subsample.
func (t *Track) HasSubsamples() bool {
	for _, row := range t.subsLst {
		if row.NumSubsLeft != 0 {
			return true
		}
	}
	return false
}

// NewStsdEntryAt records a new sample-description entry beginning at sample
// index idx (used by parsers when a configuration change is signaled out of
// band from Accept, e.g. mid-stream SPS change not carried on the Sample
// itself).
func (t *Track) NewStsdEntryAt(idx int) {
	t.stsdLst = append(t.stsdLst, stsdEntry{StartSampleIdx: idx})
}

// StsdCount returns the number of sample-description entries opened so far
// (always at least 1 once any sample has been accepted).
func (t *Track) StsdCount() int {
	if len(t.stsdLst) == 0 {
		return 1
	}
	return len(t.stsdLst)
}

// StsdStartIndices returns the 0-based sample index at which each
// sample-description entry after the first begins (spec §4.9 step 2: a
// fragment boundary is clipped by the next pending stsd_lst entry). The
// implicit first entry at sample 0 is never included.
func (t *Track) StsdStartIndices() []int {
	if len(t.stsdLst) == 0 {
		return nil
	}
	out := make([]int, 0, len(t.stsdLst))
	for _, e := range t.stsdLst {
		if e.StartSampleIdx == 0 {
			continue
		}
		out = append(out, e.StartSampleIdx)
	}
	return out
}

// IsSyncAt reports whether the sample at idx is a sync sample (binary
// search over the sorted sync-sample index list).
func (t *Track) IsSyncAt(idx int) bool {
	entries := t.syncLst.Entries()
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if int(entries[mid].SampleIndex) < idx {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(entries) && int(entries[lo].SampleIndex) == idx
}

// DtsAt returns the dts of the sample at idx, or false if out of range.
func (t *Track) DtsAt(idx int) (uint64, bool) {
	entries := t.dtsLst.Entries()
	if idx < 0 || idx >= len(entries) {
		return 0, false
	}
	return entries[idx].Dts, true
}

// SampleDurationAt returns the delta to the next sample's dts, or
// mediaDuration-dts for the last sample (spec §4.7 stts rule), used by the
// fragmenter to build trun sample_duration fields.
func (t *Track) SampleDurationAt(idx int) uint32 {
	entries := t.dtsLst.Entries()
	if idx < 0 || idx >= len(entries) {
		return 0
	}
	if idx == len(entries)-1 {
		return uint32(t.mediaDuration - entries[idx].Dts)
	}
	return uint32(entries[idx+1].Dts - entries[idx].Dts)
}

// ExpandedSizes materializes the run-length-compressed size list into a flat
// per-sample slice (spec §4.9 trun sample_size fields).
func (t *Track) ExpandedSizes() []uint32 { return t.expandedSizes() }

// ExpandedCtsOffsets materializes the run-length-compressed cts-offset list
// into a flat per-sample slice (spec §4.9 trun sample_composition_time_offset
// fields).
func (t *Track) ExpandedCtsOffsets() []int32 {
	out := make([]int32, 0, t.sampleNum)
	for _, r := range t.ctsOffsetLst.Runs() {
		for i := uint32(0); i < r.Count; i++ {
			out = append(out, r.Value)
		}
	}
	return out
}

// SampleFlagsAt derives the ISO/IEC 14496-12 §8.8.3 sample_flags bitfield
// for sample idx (spec §4.9 trun/tfhd default-flag compression). The
// dependency sub-fields are only populated when sdtpLst was recorded for
// every sample; otherwise only the sync bit is meaningful.
func (t *Track) SampleFlagsAt(idx int) uint32 {
	var flags uint32
	if !t.IsSyncAt(idx) {
		flags |= uint32(SampleIsNonSyncSample)
	}
	if len(t.sdtpLst) == t.sampleNum && idx >= 0 && idx < len(t.sdtpLst) {
		r := t.sdtpLst[idx]
		flags |= uint32(r.IsLeading&0x3) << 26
		flags |= uint32(r.SampleDependsOn&0x3) << 24
		flags |= uint32(r.SampleIsDependedOn&0x3) << 22
		flags |= uint32(r.SampleHasRedundancy&0x3) << 20
	}
	return flags
}

// PosAt returns the recorded source byte position of sample idx (spec §4.6
// step 2), used by the fragmenter/mdat writer to locate payload bytes.
func (t *Track) PosAt(idx int) (int64, bool) {
	if idx < 0 || idx >= len(t.posLst) {
		return 0, false
	}
	return t.posLst[idx], true
}

// SubsampleSizesAt returns the subsample sizes recorded for sample idx, or
// nil when the sample had a single (whole-sample) subsample row.
func (t *Track) SubsampleSizesAt(idx int) []uint32 {
	// subsLst rows are pushed per-subsample (spec §4.6 step 6): walk forward
	// accumulating rows until NumSubsLeft reaches 0.
	pos := 0
	for sample := 0; sample < idx; sample++ {
		for pos < len(t.subsLst) {
			left := t.subsLst[pos].NumSubsLeft
			pos++
			if left == 0 {
				break
			}
		}
	}
	var sizes []uint32
	for pos < len(t.subsLst) {
		row := t.subsLst[pos]
		pos++
		if row.Size == 0 && row.NumSubsLeft == 0 && len(sizes) == 0 {
			return nil
		}
		sizes = append(sizes, row.Size)
		if row.NumSubsLeft == 0 {
			break
		}
	}
	return sizes
}

// Finalize computes the derived booleans the muxer needs before writing the
// sample table (spec §4.10 setup_muxer).
func (t *Track) Finalize() error {
	if t.sampleNum == 0 {
		return ErrNoSamples
	}
	t.AllRapSamples = t.syncLst.Len() == t.sampleNum
	t.AllSameSizeSamples = t.sizeLst.NumRuns() <= 1
	t.NoCtsOffset = t.ctsOffsetLst.NumRuns() <= 1
	if t.NoCtsOffset {
		if v, ok := t.ctsOffsetLst.Last(); ok && v != 0 {
			t.NoCtsOffset = false
		}
	}
	if !t.NoCtsOffset && len(t.editLst) == 0 {
		// Build the default edit list the muxer needs when cts offsets are
		// non-zero and the caller supplied none: presentation starts at the
		// first sample's composition time (spec §4.10 setup_muxer).
		t.AddEditListEntry(t.mediaDuration, int64(t.firstCTS))
	}
	return nil
}
