package fragment

import (
	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/track"
)

// TrackDefaults mirrors one track's trex row (spec §4.9): the movie-level
// defaults a tfhd/trun run is allowed to omit per-sample fields against.
type TrackDefaults struct {
	TrackID                uint32
	SampleDescriptionIndex uint32
	SampleDuration         uint32
	SampleSize             uint32
	SampleFlags            uint32
}

// FragOptions configures moof/traf/trun assembly (spec §4.9/§9 FragOptions).
type FragOptions struct {
	// DefaultBaseIsMoof selects tfhd.DEFAULT_BASE_IS_MOOF; when false,
	// tfhd.BASE_DATA_OFFSET is set instead and BaseDataOffset carries the
	// absolute file offset of the first sample's moof.
	DefaultBaseIsMoof bool
	EmptyTfhd         bool // suppress tfhd defaults; they then appear in every trun row
	EmptyTrex         bool // suppress trex defaults; same effect from the other side
	ForceTrunV0       bool // disable trun version 1 even when Ctts1 is set
	Ctts1             bool
	WriteSdtp         bool
	WriteSubs         bool
}

// SampleRange is one sample's source byte location, for the mdat writer.
type SampleRange struct {
	Pos  int64
	Size uint32
}

// TrackFragment is one track's contribution to the fragment currently being
// emitted.
type TrackFragment struct {
	Track               *track.Track
	Defaults            TrackDefaults
	Segment             Segment
	SampleDescriptionIndex uint32 // 1-based; 0 means "use Defaults"
	WriteTfdt           bool
	BaseMediaDecodeTime uint64
}

// TrackPayload is the byte-copy plan the mdat writer needs for one track's
// run within the current fragment (spec §4.9 "mdat emission").
type TrackPayload struct {
	TrackID  uint32
	Samples  []SampleRange
	ByteSize uint64
}

// BuildMoof assembles one moof box (mfhd + one traf per track) and, for
// each track, the ordered sample byte-ranges the mdat writer must copy
// (spec §4.9 write_moof_box / mdat emission). mdatHeaderLen is 8 normally,
// 16 when the caller has determined the enclosing mdat needs a 64-bit
// largesize (spec §4.8).
func BuildMoof(sequenceNumber uint32, fragments []TrackFragment, opts FragOptions, mdatHeaderLen int) (*mp4.Box, []TrackPayload, error) {
	mfhd := &mp4.Box{Type: mp4.TypeMfhd, Mfhd: &mp4.Mfhd{SequenceNumber: sequenceNumber}}
	moof := mp4.NewContainer(mp4.TypeMoof, mfhd)

	payloads := make([]TrackPayload, len(fragments))
	for i, tf := range fragments {
		traf, payload, err := buildTraf(tf, opts)
		if err != nil {
			return nil, nil, err
		}
		moof.Children = append(moof.Children, traf)
		payloads[i] = payload
	}

	PatchDataOffsets(moof, payloads, opts, mdatHeaderLen)
	return moof, payloads, nil
}

// PatchDataOffsets fills each traf's trun data_offset (and, in
// BASE_DATA_OFFSET mode, the moof-relative tfhd base) from the moof's
// current encoded size. The payload bytes start right after the moof box and
// the mdat header, so both offset forms count from there; BaseDataOffset is
// kept moof-relative here and made absolute by the caller once the moof's
// file position is known. Callers that append boxes to a traf after
// BuildMoof (aux-info, trick-play) must call this again before encoding,
// since the appended boxes grow the moof.
func PatchDataOffsets(moof *mp4.Box, payloads []TrackPayload, opts FragOptions, mdatHeaderLen int) {
	cursor := int64(mp4.EncodingLength(moof)) + int64(mdatHeaderLen)
	for i := range payloads {
		traf := moof.Children[i+1] // mfhd is index 0
		if opts.DefaultBaseIsMoof {
			for _, c := range traf.Children {
				if c.Type == mp4.TypeTrun {
					c.Trun.DataOffset = int32(cursor)
				}
			}
		} else {
			base := uint64(cursor)
			for _, c := range traf.Children {
				switch c.Type {
				case mp4.TypeTfhd:
					c.Tfhd.BaseDataOffset = &base
				case mp4.TypeTrun:
					c.Trun.DataOffset = 0
				}
			}
		}
		cursor += int64(payloads[i].ByteSize)
	}
}

func buildTraf(tf TrackFragment, opts FragOptions) (*mp4.Box, TrackPayload, error) {
	tr := tf.Track
	start, end := tf.Segment.StartIdx, tf.Segment.EndIdx

	tfhdFlags := uint32(0)
	tfhd := &mp4.Tfhd{TrackId: tf.Defaults.TrackID}
	if opts.DefaultBaseIsMoof {
		tfhdFlags |= mp4.TfhdDefaultBaseIsMoof
	} else {
		tfhdFlags |= mp4.TfhdBaseDataOffsetPresent
		var zero uint64
		tfhd.BaseDataOffset = &zero
	}
	if tf.SampleDescriptionIndex != 0 && tf.SampleDescriptionIndex != tf.Defaults.SampleDescriptionIndex {
		tfhdFlags |= mp4.TfhdSampleDescriptionIndexPresent
		v := tf.SampleDescriptionIndex
		tfhd.SampleDescriptionIndex = &v
	}
	if !opts.EmptyTfhd {
		if tf.Defaults.SampleDuration != 0 {
			tfhdFlags |= mp4.TfhdDefaultSampleDurationPresent
			v := tf.Defaults.SampleDuration
			tfhd.DefaultSampleDuration = &v
		}
		if tf.Defaults.SampleSize != 0 {
			tfhdFlags |= mp4.TfhdDefaultSampleSizePresent
			v := tf.Defaults.SampleSize
			tfhd.DefaultSampleSize = &v
		}
		tfhdFlags |= mp4.TfhdDefaultSampleFlagsPresent
		f := tf.Defaults.SampleFlags
		tfhd.DefaultSampleFlags = &f
	}

	tfhdBox := &mp4.Box{Type: mp4.TypeTfhd, Flags: tfhdFlags, Tfhd: tfhd}
	children := []*mp4.Box{tfhdBox}

	if tf.WriteTfdt {
		version := uint8(0)
		if tf.BaseMediaDecodeTime > 0xffffffff {
			version = 1
		}
		children = append(children, &mp4.Box{Type: mp4.TypeTfdt, Version: version, Tfdt: &mp4.Tfdt{BaseMediaDecodeTime: tf.BaseMediaDecodeTime}})
	}

	trun, payload, err := buildTrun(tr, start, end, tf.Defaults, opts)
	if err != nil {
		return nil, TrackPayload{}, err
	}
	children = append(children, trun)

	if opts.WriteSdtp {
		if sdtp := sliceSdtp(tr, start, end); sdtp != nil {
			children = append(children, sdtp)
		}
	}
	if opts.WriteSubs {
		if subs := sliceSubs(tr, start, end); subs != nil {
			children = append(children, subs)
		}
	}

	payload.TrackID = tf.Defaults.TrackID
	return mp4.NewContainer(mp4.TypeTraf, children...), payload, nil
}

func buildTrun(tr *track.Track, start, end int, def TrackDefaults, opts FragOptions) (*mp4.Box, TrackPayload, error) {
	sizes := tr.ExpandedSizes()
	ctsOffsets := tr.ExpandedCtsOffsets()

	entries := make([]mp4.TrunEntry, 0, end-start)
	ranges := make([]SampleRange, 0, end-start)
	var totalSize uint64

	for i := start; i < end; i++ {
		dur := tr.SampleDurationAt(i)
		size := sizes[i]
		flags := tr.SampleFlagsAt(i)
		var cts int32
		if i < len(ctsOffsets) {
			cts = ctsOffsets[i]
		}
		entries = append(entries, mp4.TrunEntry{SampleDuration: dur, SampleSize: size, SampleFlags: flags, SampleCompositionTimeOffset: cts})

		pos, _ := tr.PosAt(i)
		ranges = append(ranges, SampleRange{Pos: pos, Size: size})
		totalSize += uint64(size)
	}

	// write_moof_box's sample_flags compression (spec §4.9): all samples
	// matching the trex default need no per-sample field at all; only the
	// first differing (typical for a leading non-sync sample after a sync
	// run) collapses into first_sample_flags; anything else needs the full
	// per-sample field.
	allMatchDefault := true
	onlyFirstDiffers := len(entries) > 0 && entries[0].SampleFlags != def.SampleFlags
	for i, e := range entries {
		if e.SampleFlags != def.SampleFlags {
			allMatchDefault = false
			if i != 0 {
				onlyFirstDiffers = false
			}
		}
	}
	firstFlags := uint32(0)
	if len(entries) > 0 {
		firstFlags = entries[0].SampleFlags
	}

	flags := uint32(mp4.TrunSampleDurationPresent | mp4.TrunSampleSizePresent | mp4.TrunDataOffsetPresent)
	runVersion := uint8(0)
	if opts.Ctts1 && !opts.ForceTrunV0 {
		runVersion = 1
		flags |= mp4.TrunSampleCompositionTimeOffsetPresent
	} else {
		for _, o := range ctsOffsets[start:end] {
			if o != 0 {
				flags |= mp4.TrunSampleCompositionTimeOffsetPresent
				break
			}
		}
	}

	trun := &mp4.Trun{Entries: entries}
	switch {
	case allMatchDefault:
		// no per-sample flags field written
	case onlyFirstDiffers:
		flags |= mp4.TrunFirstSampleFlagsPresent
		trun.FirstSampleFlags = firstFlags
	default:
		flags |= mp4.TrunSampleFlagsPresent
	}

	box := &mp4.Box{Type: mp4.TypeTrun, Version: runVersion, Flags: flags, Trun: trun}
	return box, TrackPayload{Samples: ranges, ByteSize: totalSize}, nil
}

// sliceSdtp builds an sdtp box for [start,end) when the track recorded an
// sdtp row for every sample (spec §4.9: "Append sdtp when requested").
func sliceSdtp(tr *track.Track, start, end int) *mp4.Box {
	full := tr.SdtpBytes()
	if len(full) != tr.SampleNum() || start >= len(full) {
		return nil
	}
	if end > len(full) {
		end = len(full)
	}
	return &mp4.Box{Type: mp4.TypeSdtp, Sdtp: &mp4.Sdtp{Entries: append([]byte(nil), full[start:end]...)}}
}

// sliceSubs builds a subs box covering [start,end), or nil if no sample in
// range carried more than one subsample.
func sliceSubs(tr *track.Track, start, end int) *mp4.Box {
	subs := &mp4.Subs{}
	any := false
	for i := start; i < end; i++ {
		sizes := tr.SubsampleSizesAt(i)
		entry := mp4.SubsEntry{SampleDelta: 1}
		if len(sizes) > 0 {
			any = true
			entry.SubsampleSizes = sizes
		}
		subs.Entries = append(subs.Entries, entry)
	}
	if !any {
		return nil
	}
	return &mp4.Box{Type: mp4.TypeSubs, Subs: subs}
}
