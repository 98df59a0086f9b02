package mux

import (
	"errors"
	"io"

	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/cenc"
	"github.com/gomuxer/isomux/fragment"
	"github.com/gomuxer/isomux/track"
)

// fragJob is one track's one fragment, placed in the global, dts-ordered
// emission sequence (spec §4.10 write_moof_box: moof/mdat pairs interleave
// across tracks the same way classical mdat chunks do).
type fragJob struct {
	trackIdx int
	segIdx   int
	dtsMovie uint64
}

// fragBlob is one emitted moof+mdat pair, held in memory until the boxes
// ahead of it (moov, sidx) have been sized and written.
type fragBlob struct {
	bytes    []byte
	trackIdx int
	moofOff  int64
	seg      fragment.Segment
}

func planFragments(tracks []*trackState, opt fragment.Options) ([][]fragment.Segment, []fragJob, error) {
	segsByTrack := make([][]fragment.Segment, len(tracks))
	for i, ts := range tracks {
		segs, err := fragment.Partition(ts.tr, opt)
		if err != nil {
			return nil, nil, mp4.NewMuxError(mp4.KindEsError, int(ts.cfg.ID), err)
		}
		segsByTrack[i] = segs
	}

	movieTimescale := uint32(0)
	for _, ts := range tracks {
		if ts.tr.MediaTimescale > movieTimescale {
			movieTimescale = ts.tr.MediaTimescale
		}
	}

	idx := make([]int, len(tracks))
	total := 0
	for _, segs := range segsByTrack {
		total += len(segs)
	}
	jobs := make([]fragJob, 0, total)
	var lastDTS uint64
	haveLast := false
	toMovie := func(ti int, dts uint64) uint64 {
		ts := tracks[ti]
		if ts.tr.MediaTimescale == 0 {
			return dts
		}
		return dts * uint64(movieTimescale) / uint64(ts.tr.MediaTimescale)
	}
	for len(jobs) < total {
		chosen := -1
		if haveLast {
			for ti := range tracks {
				if idx[ti] >= len(segsByTrack[ti]) {
					continue
				}
				if toMovie(ti, segsByTrack[ti][idx[ti]].StartDTS) <= lastDTS {
					chosen = ti
					break
				}
			}
		}
		if chosen == -1 {
			var best uint64
			for ti := range tracks {
				if idx[ti] >= len(segsByTrack[ti]) {
					continue
				}
				d := toMovie(ti, segsByTrack[ti][idx[ti]].StartDTS)
				if chosen == -1 || d < best {
					chosen, best = ti, d
				}
			}
		}
		d := toMovie(chosen, segsByTrack[chosen][idx[chosen]].StartDTS)
		jobs = append(jobs, fragJob{trackIdx: chosen, segIdx: idx[chosen], dtsMovie: d})
		lastDTS = d
		haveLast = true
		idx[chosen]++
	}
	return segsByTrack, jobs, nil
}

func (m *Muxer) buildMoovFragmented() (*mp4.Box, error) {
	dur := movieDuration(m.tracks, m.MovieTimescale)
	var nextID uint32
	for _, ts := range m.tracks {
		if ts.cfg.ID >= nextID {
			nextID = ts.cfg.ID + 1
		}
	}
	children := []*mp4.Box{buildMvhd(m.MovieTimescale, dur, nextID)}
	for _, ts := range m.tracks {
		trak, err := m.buildTrakFragmented(ts, dur)
		if err != nil {
			return nil, err
		}
		children = append(children, trak)
	}
	children = append(children, buildMvex(m.tracks, dur, m.Frag.FragOptions.EmptyTrex))
	if m.Options.WriteIods {
		children = append(children, buildIods(m.tracks))
	}
	return mp4.NewContainer(mp4.TypeMoov, children...), nil
}

// buildTrakFragmented builds a trak whose sample table is empty: with every
// sample described by moof/trun, the stbl carries only the stsd and
// zero-entry timing/size/chunk boxes (spec §4.10 output_init_segment).
func (m *Muxer) buildTrakFragmented(ts *trackState, movieDur uint64) (*mp4.Box, error) {
	entries, err := buildStsdEntries(ts)
	if err != nil {
		return nil, err
	}
	stsd := track.BuildStsd(entries)
	stbl := mp4.NewContainer(mp4.TypeStbl, stsd,
		&mp4.Box{Type: mp4.TypeStts, Stts: &mp4.Stts{}},
		&mp4.Box{Type: mp4.TypeStsc, Stsc: &mp4.Stsc{}},
		&mp4.Box{Type: mp4.TypeStsz, Stsz: &mp4.Stsz{}},
		&mp4.Box{Type: mp4.TypeStco, Stco: &mp4.Stco{}},
	)
	minf := mp4.NewContainer(mp4.TypeMinf, buildMediaHeader(ts.cfg.Kind), buildDinf(), stbl)
	mdia := mp4.NewContainer(mp4.TypeMdia, buildMdhd(ts.tr, ts.cfg.Language), buildHdlr(ts.cfg.Kind, ""), minf)
	children := []*mp4.Box{buildTkhd(ts, movieDur)}
	if edts := buildEdts(ts.tr.EditList()); edts != nil {
		children = append(children, edts)
	}
	children = append(children, mdia)
	return mp4.NewContainer(mp4.TypeTrak, children...), nil
}

// collectRanges gathers the source byte ranges for one fragment's samples,
// mirroring what buildTrun will plan for the same segment.
func collectRanges(ts *trackState, seg fragment.Segment) ([]fragment.SampleRange, uint64) {
	sizes := ts.tr.ExpandedSizes()
	ranges := make([]fragment.SampleRange, 0, seg.EndIdx-seg.StartIdx)
	var total uint64
	for i := seg.StartIdx; i < seg.EndIdx; i++ {
		pos, _ := ts.tr.PosAt(i)
		ranges = append(ranges, fragment.SampleRange{Pos: pos, Size: sizes[i]})
		total += uint64(sizes[i])
	}
	return ranges, total
}

// copySampleRanges reads each sample's bytes from the track's byte source
// into one contiguous buffer, in run order (spec §4.9 mdat emission).
func copySampleRanges(src io.ReaderAt, ranges []fragment.SampleRange) ([]byte, error) {
	if src == nil {
		return nil, errors.New("mux: no byte source registered for track")
	}
	var total int
	for _, r := range ranges {
		total += int(r.Size)
	}
	out := make([]byte, total)
	p := 0
	for _, r := range ranges {
		if _, err := src.ReadAt(out[p:p+int(r.Size)], r.Pos); err != nil {
			return nil, err
		}
		p += int(r.Size)
	}
	return out, nil
}

// encryptFragment protects one fragment's samples in place and returns the
// per-sample senc records: each sample's IV is captured, its NAL-derived
// subsample split applied, and the encryptor advanced (spec §4.9
// "saiz+saio+senc", §5 encryptor ownership).
func encryptFragment(ts *trackState, seg fragment.Segment, buf []byte, ranges []fragment.SampleRange) (cenc.FragmentAuxInfo, error) {
	enc := ts.cfg.Encryptor
	aux := cenc.FragmentAuxInfo{IVSize: ts.cfg.Enc.IVSize}
	if enc == nil {
		return aux, errors.New("mux: protected track has no encryptor")
	}
	p := 0
	for i := seg.StartIdx; i < seg.EndIdx; i++ {
		size := int(ranges[i-seg.StartIdx].Size)
		info := cenc.BuildSampleInfo(ts.tr.SubsampleSizesAt(i))
		iv := enc.CurrentIV()
		if err := enc.Encrypt(buf[p:p+size], info); err != nil {
			return aux, err
		}
		enc.AdvanceIV()
		aux.Entries = append(aux.Entries, cenc.SencEntryFor(iv, info))
		p += size
	}
	return aux, nil
}

// patchSaioOffsets points the traf's single saio entry at the first byte of
// senc's per-sample records: moof-relative when the tfhd uses
// DEFAULT_BASE_IS_MOOF, absolute otherwise (spec §6 "saio").
func patchSaioOffsets(moof, traf *mp4.Box, moofAbs int64, baseIsMoof bool) {
	var saio *mp4.Box
	off := int64(8)
	for _, c := range moof.Children {
		if c != traf {
			off += int64(mp4.EncodingLength(c))
			continue
		}
		off += 8
		for _, tc := range traf.Children {
			if tc.Type == mp4.TypeSaio {
				saio = tc
			}
			if tc.Type == mp4.TypeSenc {
				off += 12 + 4 // full-box header and sample_count precede the records
				break
			}
			off += int64(mp4.EncodingLength(tc))
		}
		break
	}
	if saio == nil || saio.Saio == nil || len(saio.Saio.Offsets) == 0 {
		return
	}
	if baseIsMoof {
		saio.Saio.Offsets[0] = uint64(off)
	} else {
		saio.Saio.Offsets[0] = uint64(moofAbs + off)
	}
}

// buildTfraTracks collects each track's random-access points across the
// emitted fragments: every sync sample, or just the fragment's first sample
// for all-RAP tracks (spec §4.9 write_mfra_box).
func (m *Muxer) buildTfraTracks(blobs []fragBlob) []fragment.TrackTfra {
	out := make([]fragment.TrackTfra, 0, len(m.tracks))
	for ti, ts := range m.tracks {
		t := fragment.TrackTfra{TrackID: ts.cfg.ID}
		for _, b := range blobs {
			if b.trackIdx != ti {
				continue
			}
			if ts.tr.AllRapSamples {
				dts, _ := ts.tr.DtsAt(b.seg.StartIdx)
				t.Points = append(t.Points, fragment.TfraPoint{
					Time: dts, MoofOffset: uint64(b.moofOff),
					TrafNumber: 1, TrunNumber: 1, SampleNumber: 1,
				})
				continue
			}
			for i := b.seg.StartIdx; i < b.seg.EndIdx; i++ {
				if !ts.tr.IsSyncAt(i) {
					continue
				}
				dts, _ := ts.tr.DtsAt(i)
				t.Points = append(t.Points, fragment.TfraPoint{
					Time: dts, MoofOffset: uint64(b.moofOff),
					TrafNumber: 1, TrunNumber: 1, SampleNumber: uint32(i - b.seg.StartIdx + 1),
				})
			}
		}
		if len(t.Points) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// WriteFragmented assembles and writes a fragmented (moof/mdat) file: ftyp,
// moov (with mvex), optional sidx boxes, then one moof+mdat pair per
// fragment in dts order across tracks, followed by an optional closing mfra
// (spec §4.9/§4.10, fragmented path).
func (m *Muxer) WriteFragmented(w io.Writer, sources map[uint32]io.ReaderAt) error {
	if !m.finalOK {
		return mp4.NewMuxError(mp4.KindParamError, -1, errors.New("mux: Finalize must be called before WriteFragmented"))
	}
	if m.Frag == nil {
		return mp4.NewMuxError(mp4.KindParamError, -1, errors.New("mux: Muxer not configured for fragmented output"))
	}

	segsByTrack, jobs, err := planFragments(m.tracks, m.Frag.Options)
	if err != nil {
		return err
	}

	ftyp := buildFtyp(mp4.TypeFtyp, m.Brand, m.CompatibleBrands)
	moov, err := m.buildMoovFragmented()
	if err != nil {
		return err
	}

	// sidx boxes are sized before any fragment is emitted: a sidx's encoded
	// length depends only on its reference count and version, so the entry
	// values (referenced_size, first_offset) can be back-patched once the
	// fragments behind them have real byte offsets (spec §4.9 write_sidx_box).
	var sidxBoxes []*mp4.Box
	var sidxTrackIdx []int
	if m.Frag.WriteSidx {
		for ti, ts := range m.tracks {
			if !m.Frag.OneSidxPerTrack && ti != 0 {
				continue
			}
			segs := segsByTrack[ti]
			if len(segs) == 0 {
				continue
			}
			entries := make([]fragment.SidxEntry, len(segs))
			for i, seg := range segs {
				entries[i] = fragment.SidxEntry{
					SubsegmentDuration: uint32(seg.EndDTS - seg.StartDTS),
					StartsWithSAP:      true,
					SAPType:            1,
				}
			}
			sidxBoxes = append(sidxBoxes, fragment.BuildSidx(ts.cfg.ID, ts.tr.MediaTimescale, segs[0].StartDTS, 0, entries))
			sidxTrackIdx = append(sidxTrackIdx, ti)
		}
	}

	cursor := int64(mp4.EncodingLength(ftyp)) + int64(mp4.EncodingLength(moov))
	for _, sidx := range sidxBoxes {
		cursor += int64(mp4.EncodingLength(sidx))
	}

	blobs := make([]fragBlob, 0, len(jobs))
	seqNum := uint32(0)

	for _, job := range jobs {
		ts := m.tracks[job.trackIdx]
		seg := segsByTrack[job.trackIdx][job.segIdx]
		seqNum++

		ranges, byteSize := collectRanges(ts, seg)
		mdatHeaderLen := 8
		if byteSize+8 > 0xffffffff {
			mdatHeaderLen = 16
		}

		sampleBuf, err := copySampleRanges(sources[ts.cfg.ID], ranges)
		if err != nil {
			return mp4.NewMuxError(mp4.KindIOError, int(ts.cfg.ID), err)
		}

		var aux cenc.FragmentAuxInfo
		if ts.cfg.Enc != nil {
			aux, err = encryptFragment(ts, seg, sampleBuf, ranges)
			if err != nil {
				return mp4.NewMuxError(mp4.KindConfigError, int(ts.cfg.ID), err)
			}
		}

		def := trackDefaults(ts.tr)
		if m.Frag.FragOptions.EmptyTrex {
			// Suppressed trex defaults mean the runs can no longer rely on
			// them; flag compression then compares against zero.
			def.SampleDuration, def.SampleSize, def.SampleFlags = 0, 0, 0
		}
		tf := fragment.TrackFragment{
			Track:               ts.tr,
			Defaults:            def,
			Segment:             seg,
			WriteTfdt:           true,
			BaseMediaDecodeTime: seg.StartDTS,
		}
		moof, payloads, err := fragment.BuildMoof(seqNum, []fragment.TrackFragment{tf}, m.Frag.FragOptions, mdatHeaderLen)
		if err != nil {
			return mp4.NewMuxError(mp4.KindEsError, int(ts.cfg.ID), err)
		}
		traf := moof.Children[1]

		if ts.cfg.Enc != nil {
			traf.Children = append(traf.Children, cenc.BuildAuxBoxes(*ts.cfg.Enc, aux)...)
		}
		if m.Frag.WriteTrik && ts.cfg.Kind == MediaVideo {
			if trik := ts.tr.TrikEntries(); trik != nil {
				traf.Children = append(traf.Children, buildTrik(trik[seg.StartIdx:seg.EndIdx]))
			}
		}

		// Aux/trik boxes grew the traf, so the data offsets computed inside
		// BuildMoof are stale; re-derive them against the final moof size.
		fragment.PatchDataOffsets(moof, payloads, m.Frag.FragOptions, mdatHeaderLen)

		moofAbsOff := cursor
		if !m.Frag.FragOptions.DefaultBaseIsMoof {
			for _, c := range traf.Children {
				if c.Type == mp4.TypeTfhd && c.Tfhd.BaseDataOffset != nil {
					base := uint64(moofAbsOff) + *c.Tfhd.BaseDataOffset
					c.Tfhd.BaseDataOffset = &base
				}
			}
		}
		if ts.cfg.Enc != nil && ts.cfg.Enc.Style == cenc.StyleCENC {
			patchSaioOffsets(moof, traf, moofAbsOff, m.Frag.FragOptions.DefaultBaseIsMoof)
		}

		moofBuf, err := mp4.Encode(moof)
		if err != nil {
			return mp4.NewMuxError(mp4.KindBuggy, int(ts.cfg.ID), err)
		}
		mdat := &mp4.Box{Type: mp4.TypeMdat, Mdat: &mp4.Mdat{Buffer: sampleBuf}}
		mdatBuf, err := mp4.Encode(mdat)
		if err != nil {
			return mp4.NewMuxError(mp4.KindBuggy, int(ts.cfg.ID), err)
		}

		full := make([]byte, 0, len(moofBuf)+len(mdatBuf))
		full = append(full, moofBuf...)
		full = append(full, mdatBuf...)
		blobs = append(blobs, fragBlob{bytes: full, trackIdx: job.trackIdx, moofOff: moofAbsOff, seg: seg})
		cursor += int64(len(full))
	}

	// Back-patch sidx entries now that each fragment's real size and offset
	// are known. A sidx's anchor point is the first byte after the box, so
	// first_offset is the gap from there to the track's first moof.
	if len(sidxBoxes) > 0 {
		anchor := int64(mp4.EncodingLength(ftyp)) + int64(mp4.EncodingLength(moov))
		for si, sidx := range sidxBoxes {
			anchor += int64(mp4.EncodingLength(sidx))
			ti := sidxTrackIdx[si]
			ref := 0
			first := true
			for _, b := range blobs {
				if b.trackIdx != ti {
					continue
				}
				if first {
					sidx.Sidx.FirstOffset = uint64(b.moofOff - anchor)
					first = false
				}
				sidx.Sidx.References[ref].ReferencedSize = uint32(len(b.bytes))
				ref++
			}
		}
	}

	for _, box := range []*mp4.Box{ftyp, moov} {
		buf, err := mp4.Encode(box)
		if err != nil {
			return mp4.NewMuxError(mp4.KindBuggy, -1, err)
		}
		if _, err := w.Write(buf); err != nil {
			return mp4.NewMuxError(mp4.KindIOError, -1, err)
		}
	}
	for _, sidx := range sidxBoxes {
		buf, err := mp4.Encode(sidx)
		if err != nil {
			return mp4.NewMuxError(mp4.KindBuggy, -1, err)
		}
		if _, err := w.Write(buf); err != nil {
			return mp4.NewMuxError(mp4.KindIOError, -1, err)
		}
	}
	for _, b := range blobs {
		if _, err := w.Write(b.bytes); err != nil {
			return mp4.NewMuxError(mp4.KindIOError, -1, err)
		}
	}

	if m.Frag.WriteMfra {
		mfra := fragment.BuildMfra(m.buildTfraTracks(blobs), m.Frag.OneTfraEntryPerTraf)
		buf, err := mp4.Encode(mfra)
		if err != nil {
			return mp4.NewMuxError(mp4.KindBuggy, -1, err)
		}
		if _, err := w.Write(buf); err != nil {
			return mp4.NewMuxError(mp4.KindIOError, -1, err)
		}
	}
	return nil
}
