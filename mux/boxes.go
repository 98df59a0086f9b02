package mux

import (
	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/fragment"
	"github.com/gomuxer/isomux/track"
)

func identityMatrix() [36]byte {
	var m [36]byte
	be.PutUint32(m[0:4], 0x00010000)
	be.PutUint32(m[20:24], 0x00010000)
	be.PutUint32(m[32:36], 0x40000000)
	return m
}

func buildFtyp(t mp4.BoxType, brand [4]byte, compatibleBrands [][4]byte) *mp4.Box {
	return &mp4.Box{Type: t, Ftyp: &mp4.Ftyp{Brand: brand, CompatibleBrands: compatibleBrands}}
}

func buildMvhd(timescale uint32, duration uint64, nextTrackID uint32) *mp4.Box {
	return &mp4.Box{Type: mp4.TypeMvhd, Mvhd: &mp4.Mvhd{
		TimeScale:       timescale,
		Duration:        duration,
		PreferredRate:   [4]byte{0, 1, 0, 0},
		PreferredVolume: [2]byte{1, 0},
		Matrix:          identityMatrix(),
		NextTrackId:     nextTrackID,
	}}
}

func volumeFor(k MediaKind) uint16 {
	if k == MediaAudio {
		return 0x0100
	}
	return 0
}

func buildTkhd(ts *trackState, movieDuration uint64) *mp4.Box {
	return &mp4.Box{Type: mp4.TypeTkhd, Flags: 0x000007, Tkhd: &mp4.Tkhd{
		TrackId:        ts.cfg.ID,
		Duration:       movieDuration,
		AlternateGroup: ts.cfg.AlternateGroup,
		Volume:         volumeFor(ts.cfg.Kind),
		Matrix:         identityMatrix(),
		TrackWidth:     uint32(ts.cfg.Width) << 16,
		TrackHeight:    uint32(ts.cfg.Height) << 16,
	}}
}

func packLanguage(lang string) uint16 {
	if len(lang) != 3 {
		lang = "und"
	}
	return uint16(lang[0]-0x60)<<10 | uint16(lang[1]-0x60)<<5 | uint16(lang[2]-0x60)
}

func buildMdhd(tr *track.Track, language string) *mp4.Box {
	m := &mp4.Mdhd{TimeScale: tr.MediaTimescale, Duration: tr.MediaDuration(), Language: packLanguage(language)}
	version := uint8(0)
	if m.Duration > 0xffffffff {
		m.V1 = true
		version = 1
	}
	return &mp4.Box{Type: mp4.TypeMdhd, Version: version, Mdhd: m}
}

func handlerTypeFor(k MediaKind) [4]byte {
	switch k {
	case MediaVideo:
		return [4]byte{'v', 'i', 'd', 'e'}
	case MediaAudio:
		return [4]byte{'s', 'o', 'u', 'n'}
	case MediaText:
		return [4]byte{'s', 'b', 't', 'l'}
	case MediaHint:
		return [4]byte{'h', 'i', 'n', 't'}
	default:
		return [4]byte{'m', 'e', 't', 'a'}
	}
}

func buildHdlr(k MediaKind, name string) *mp4.Box {
	return &mp4.Box{Type: mp4.TypeHdlr, Hdlr: &mp4.Hdlr{HandlerType: handlerTypeFor(k), Name: name}}
}

// buildMediaHeader returns the minf media-header box appropriate for k.
// Text/hint/metadata tracks use nmhd: the dedicated sthd box (ISO/IEC
// 14496-12 Amd.3) has no registered codec in this module, and nmhd is the
// layout widely produced for non-AV tracks by 3GPP-derived muxers.
func buildMediaHeader(k MediaKind) *mp4.Box {
	switch k {
	case MediaVideo:
		return &mp4.Box{Type: mp4.TypeVmhd, Flags: 1, Vmhd: &mp4.Vmhd{}}
	case MediaAudio:
		return &mp4.Box{Type: mp4.TypeSmhd, Smhd: &mp4.Smhd{}}
	default:
		return &mp4.Box{Type: mp4.TypeNmhd, Nmhd: &mp4.Nmhd{}}
	}
}

func buildDinf() *mp4.Box {
	dref := &mp4.Box{Type: mp4.TypeDref, Dref: &mp4.DrefBox{Entries: []mp4.DrefEntry{
		{Type: [4]byte{'u', 'r', 'l', ' '}, Buf: []byte{0, 0, 0, 1}}, // self-contained, no location string
	}}}
	return mp4.NewContainer(mp4.TypeDinf, dref)
}

func buildEdts(entries []track.ElstEntry) *mp4.Box {
	if len(entries) == 0 {
		return nil
	}
	elst := &mp4.Elst{}
	for _, e := range entries {
		elst.Entries = append(elst.Entries, mp4.ElstEntry{SegmentDuration: e.Duration, MediaTime: e.MediaTime, MediaRateInt: 1})
	}
	return mp4.NewContainer(mp4.TypeEdts, &mp4.Box{Type: mp4.TypeElst, Elst: elst})
}

// buildStblWithOffsets mirrors track.Track.BuildStbl but takes externally
// computed output-file chunk offsets instead of the track's own recorded
// source positions: classical muxing copies sample bytes into a freshly
// built mdat, so stco/co64 must describe where chunks land in the *output*
// file, which track.BuildStco (source positions) cannot express.
func buildStblWithOffsets(tr *track.Track, stsd *mp4.Box, ctts1 bool, offsets []int64, co64Mode bool) *mp4.Box {
	children := []*mp4.Box{stsd, tr.BuildStts()}
	if tr.NeedsCtts() {
		children = append(children, tr.BuildCtts(ctts1))
	}
	if stss := tr.BuildStss(); stss != nil {
		children = append(children, stss)
	}
	if sdtp := tr.BuildSdtp(); sdtp != nil {
		children = append(children, sdtp)
	}
	children = append(children, tr.BuildStsz(), tr.BuildStsc(), buildStco(offsets, co64Mode))
	if subs := tr.BuildSubs(); subs != nil {
		children = append(children, subs)
	}
	return mp4.NewContainer(mp4.TypeStbl, children...)
}

func buildStco(offsets []int64, co64Mode bool) *mp4.Box {
	upgrade := co64Mode
	if !upgrade {
		for _, o := range offsets {
			if o > 0xffffffff {
				upgrade = true
				break
			}
		}
	}
	if upgrade {
		entries := make([]uint64, len(offsets))
		for i, o := range offsets {
			entries[i] = uint64(o)
		}
		return &mp4.Box{Type: mp4.TypeCo64, Co64: &mp4.Co64{Entries: entries}}
	}
	entries := make([]uint32, len(offsets))
	for i, o := range offsets {
		entries[i] = uint32(o)
	}
	return &mp4.Box{Type: mp4.TypeStco, Stco: &mp4.Stco{Entries: entries}}
}

// trackDefaults derives a trex row from a finalized track: the most common
// stts delta becomes the default sample duration, the sample size becomes
// the default size only when every sample has the same size (else 0) (spec
// §4.9 TrackDefaults), and the default flags mark non-sync unless every
// sample is a sync sample.
func trackDefaults(tr *track.Track) fragment.TrackDefaults {
	return fragment.TrackDefaults{
		TrackID:                tr.ID,
		SampleDescriptionIndex: 1,
		SampleDuration:         mostCommonDuration(tr),
		SampleSize:             mostCommonSize(tr),
		SampleFlags:            defaultSampleFlags(tr),
	}
}

func mostCommonDuration(tr *track.Track) uint32 {
	sttsBox := tr.BuildStts()
	var best uint32
	var bestCount uint32
	for _, e := range sttsBox.Stts.Entries {
		if e.Count > bestCount {
			bestCount, best = e.Count, e.Duration
		}
	}
	return best
}

func mostCommonSize(tr *track.Track) uint32 {
	runs := tr.SizeRuns()
	if len(runs) == 1 {
		return runs[0].Value
	}
	return 0
}

func defaultSampleFlags(tr *track.Track) uint32 {
	if tr.AllRapSamples {
		return 0
	}
	return uint32(track.SampleIsNonSyncSample) | 1<<24 // sample_depends_on=1 (not I-frame)
}

func buildMvex(tracks []*trackState, fragDurationTicks uint64, emptyTrex bool) *mp4.Box {
	children := make([]*mp4.Box, 0, len(tracks)+1)
	if fragDurationTicks > 0 {
		version := uint8(0)
		if fragDurationTicks > 0xffffffff {
			version = 1
		}
		children = append(children, &mp4.Box{Type: mp4.TypeMehd, Version: version, Mehd: &mp4.Mehd{FragmentDuration: fragDurationTicks}})
	}
	for _, ts := range tracks {
		d := trackDefaults(ts.tr)
		trex := &mp4.Trex{TrackId: d.TrackID, DefaultSampleDescriptionIndex: d.SampleDescriptionIndex}
		if !emptyTrex {
			trex.DefaultSampleDuration = d.SampleDuration
			trex.DefaultSampleSize = d.SampleSize
			trex.DefaultSampleFlags = d.SampleFlags
		}
		children = append(children, &mp4.Box{Type: mp4.TypeTrex, Trex: trex})
	}
	return mp4.NewContainer(mp4.TypeMvex, children...)
}

// PdinEntry is one progressive-download rate/initial-delay pair (pdin box).
type PdinEntry struct {
	Rate         uint32
	InitialDelay uint32
}

// buildPdin hand-assembles a pdin box. pdin has no registered codec in this
// module (it carries no fields the rest of the muxer needs to inspect), so
// it is built as a raw full-box body, matching this codebase's convention
// for box types with no bespoke codec (mp4.NewRaw).
func buildPdin(entries []PdinEntry) *mp4.Box {
	buf := make([]byte, 4+8*len(entries))
	// version=0, flags=0
	for i, e := range entries {
		o := 4 + i*8
		be.PutUint32(buf[o:], e.Rate)
		be.PutUint32(buf[o+4:], e.InitialDelay)
	}
	return mp4.NewRaw(mp4.TypePdin, buf)
}

// buildBloc hand-assembles a 3GPP bloc box: a full-box header followed by a
// NUL-terminated, 512-byte zero-padded base-location URI (3GPP TS 26.244).
func buildBloc(location string) *mp4.Box {
	buf := make([]byte, 4+512)
	copy(buf[4:], location)
	return mp4.NewRaw(mp4.TypeBloc, buf)
}

func buildFree(size uint32) *mp4.Box {
	return mp4.NewRaw(mp4.TypeFree, make([]byte, size))
}

// buildTrik hand-assembles a trik box: one byte per sample, packing
// pic_type(2) dependency_level(6) (3GPP TS 26.244 §9.5 trick-play). trik has
// no registered codec in this module, so it is built as a raw full-box body.
func buildTrik(entries []track.TrikEntry) *mp4.Box {
	buf := make([]byte, 4+len(entries))
	for i, e := range entries {
		buf[4+i] = byte(e.PicType&0x3)<<6 | byte(e.DependencyLevel&0x3f)
	}
	return mp4.NewRaw(mp4.TypeTrik, buf)
}
