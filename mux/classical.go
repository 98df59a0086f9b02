package mux

import (
	"errors"
	"io"

	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/track"
)

// chunkRef is one track's chunk in the interleaved output order.
type chunkRef struct {
	trackIdx    int
	chunkIdx    int
	firstSample int
	sampleCount int
}

// interleaveChunks orders every track's chunks for the output mdat (spec
// §4.10 write_mdat_box interleaving): walking track order, it picks the
// first track whose next pending chunk's dts (converted to the movie
// timescale) is no later than the dts just written, falling back to
// whichever pending chunk has the smallest dts when none qualifies. This
// keeps same-time audio/video chunks adjacent without requiring a global
// sort, matching how progressive players expect interleaved chunks to
// arrive in roughly presentation order.
func interleaveChunks(tracks []*trackState) []chunkRef {
	type trackCursor struct {
		counts       []track.ChunkSampleCount
		firstSamples []int
		pos          int
	}
	cursors := make([]*trackCursor, len(tracks))
	total := 0
	for i, ts := range tracks {
		counts := ts.tr.ChunkSampleCounts()
		firstSamples := make([]int, len(counts))
		acc := 0
		for j, c := range counts {
			firstSamples[j] = acc
			acc += int(c.SamplesPerChunk)
		}
		cursors[i] = &trackCursor{counts: counts, firstSamples: firstSamples}
		total += len(counts)
	}

	movieTimescale := uint32(0)
	for _, ts := range tracks {
		if ts.tr.MediaTimescale > movieTimescale {
			movieTimescale = ts.tr.MediaTimescale
		}
	}

	dtsAt := func(ti, ci int) uint64 {
		ts := tracks[ti]
		dts, _ := ts.tr.DtsAt(cursors[ti].firstSamples[ci])
		if ts.tr.MediaTimescale == 0 {
			return dts
		}
		return dts * uint64(movieTimescale) / uint64(ts.tr.MediaTimescale)
	}

	order := make([]chunkRef, 0, total)
	var lastDTS uint64
	haveLast := false
	for len(order) < total {
		chosen := -1
		if haveLast {
			for ti, c := range cursors {
				if c.pos >= len(c.counts) {
					continue
				}
				if dtsAt(ti, c.pos) <= lastDTS {
					chosen = ti
					break
				}
			}
		}
		if chosen == -1 {
			var best uint64
			for ti, c := range cursors {
				if c.pos >= len(c.counts) {
					continue
				}
				d := dtsAt(ti, c.pos)
				if chosen == -1 || d < best {
					chosen, best = ti, d
				}
			}
		}
		c := cursors[chosen]
		ci := c.pos
		order = append(order, chunkRef{
			trackIdx: chosen, chunkIdx: ci,
			firstSample: c.firstSamples[ci], sampleCount: int(c.counts[ci].SamplesPerChunk),
		})
		lastDTS = dtsAt(chosen, ci)
		haveLast = true
		c.pos++
	}
	return order
}

// computeChunkOffsets assigns each chunk in order its absolute byte offset
// in the output file, starting at bodyStart (the first byte of mdat's
// payload).
func computeChunkOffsets(tracks []*trackState, order []chunkRef, bodyStart int64) [][]int64 {
	offsets := make([][]int64, len(tracks))
	sizes := make([][]uint32, len(tracks))
	for i, ts := range tracks {
		offsets[i] = make([]int64, ts.tr.ChunkCount())
		sizes[i] = ts.tr.ExpandedSizes()
	}
	cur := bodyStart
	for _, r := range order {
		offsets[r.trackIdx][r.chunkIdx] = cur
		var sum int64
		for s := r.firstSample; s < r.firstSample+r.sampleCount; s++ {
			sum += int64(sizes[r.trackIdx][s])
		}
		cur += sum
	}
	return offsets
}

func copyMdatBody(tracks []*trackState, order []chunkRef, sources map[uint32]io.ReaderAt, size int64) ([]byte, error) {
	out := make([]byte, 0, size)
	for _, r := range order {
		ts := tracks[r.trackIdx]
		src := sources[ts.cfg.ID]
		if src == nil {
			return nil, mp4.NewMuxError(mp4.KindParamError, int(ts.cfg.ID), errors.New("mux: no byte source registered for track"))
		}
		sizes := ts.tr.ExpandedSizes()
		for s := r.firstSample; s < r.firstSample+r.sampleCount; s++ {
			pos, _ := ts.tr.PosAt(s)
			buf := make([]byte, sizes[s])
			if _, err := src.ReadAt(buf, pos); err != nil {
				return nil, mp4.NewMuxError(mp4.KindIOError, int(ts.cfg.ID), err)
			}
			out = append(out, buf...)
		}
	}
	return out, nil
}

// buildMoovClassical assembles moov (mvhd + one trak per track) using the
// given per-track chunk offsets and co64 selection.
func (m *Muxer) buildMoovClassical(offsets [][]int64, co64 []bool) (*mp4.Box, error) {
	dur := movieDuration(m.tracks, m.MovieTimescale)
	var nextID uint32
	for _, ts := range m.tracks {
		if ts.cfg.ID >= nextID {
			nextID = ts.cfg.ID + 1
		}
	}
	children := []*mp4.Box{buildMvhd(m.MovieTimescale, dur, nextID)}
	for i, ts := range m.tracks {
		trak, err := m.buildTrakClassical(ts, dur, offsets[i], co64[i])
		if err != nil {
			return nil, err
		}
		children = append(children, trak)
	}
	if m.Options.WriteIods {
		children = append(children, buildIods(m.tracks))
	}
	if m.Options.WritePdin {
		children = append(children, buildPdin(m.Options.Pdin))
	}
	if m.Options.WriteBloc {
		children = append(children, buildBloc(m.Options.Bloc))
	}
	if m.Options.WriteFree > 0 {
		children = append(children, buildFree(m.Options.WriteFree))
	}
	return mp4.NewContainer(mp4.TypeMoov, children...), nil
}

func (m *Muxer) buildTrakClassical(ts *trackState, movieDur uint64, offsets []int64, co64Mode bool) (*mp4.Box, error) {
	entries, err := buildStsdEntries(ts)
	if err != nil {
		return nil, err
	}
	stsd := track.BuildStsd(entries)
	stbl := buildStblWithOffsets(ts.tr, stsd, ts.tr.Ctts1, offsets, co64Mode)
	minf := mp4.NewContainer(mp4.TypeMinf, buildMediaHeader(ts.cfg.Kind), buildDinf(), stbl)
	mdia := mp4.NewContainer(mp4.TypeMdia, buildMdhd(ts.tr, ts.cfg.Language), buildHdlr(ts.cfg.Kind, ""), minf)

	children := []*mp4.Box{buildTkhd(ts, movieDur)}
	if edts := buildEdts(ts.tr.EditList()); edts != nil {
		children = append(children, edts)
	}
	children = append(children, mdia)
	return mp4.NewContainer(mp4.TypeTrak, children...), nil
}

func buildStsdEntries(ts *trackState) ([]track.SampleEntry, error) {
	out := make([]track.SampleEntry, 0, len(ts.cfg.Entries))
	for _, b := range ts.cfg.Entries {
		box, err := build(b, ts.cfg.Enc)
		if err != nil {
			return nil, mp4.NewMuxError(mp4.KindConfigError, int(ts.cfg.ID), err)
		}
		out = append(out, track.SampleEntry{Box: box})
	}
	return out, nil
}

// buildIods emits a minimal MPEG-4 IOD (iods box) listing every track's ID,
// the form QuickTime/MP4 muxers write when no object-descriptor-stream
// detail beyond track membership is needed.
func buildIods(tracks []*trackState) *mp4.Box {
	payload := make([]byte, 0, 16+4*len(tracks))
	payload = append(payload, 0x10, 0x80, 0x80, 0x80, byte(7+6*len(tracks)))
	payload = append(payload, 0x00, 0x00, 0xff, 0xff, 0xff, 0xfe, 0xff)
	for _, ts := range tracks {
		id := ts.cfg.ID
		payload = append(payload, 0x0e, 0x04, byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	}
	buf := make([]byte, 4+len(payload))
	copy(buf[4:], payload)
	return mp4.NewRaw(mp4.TypeIods, buf)
}

// WriteClassical assembles and writes a progressive (ftyp/moov/mdat) file.
// sources must provide one io.ReaderAt per registered track ID, used to
// copy each sample's bytes into the freshly built mdat (spec §4.10
// write_moov_box / write_mdat_box, classical path).
func (m *Muxer) WriteClassical(w io.Writer, sources map[uint32]io.ReaderAt) error {
	if !m.finalOK {
		return mp4.NewMuxError(mp4.KindParamError, -1, errors.New("mux: Finalize must be called before WriteClassical"))
	}
	if m.Frag != nil {
		return mp4.NewMuxError(mp4.KindParamError, -1, errors.New("mux: Muxer configured for fragmented output"))
	}

	order := interleaveChunks(m.tracks)

	var mdatBodyLen int64
	for _, ts := range m.tracks {
		mdatBodyLen += int64(ts.tr.TotalSize())
	}
	mdatHeaderLen := int64(8)
	if mdatBodyLen+8 > 0xffffffff {
		mdatHeaderLen = 16
	}

	ftyp := buildFtyp(mp4.TypeFtyp, m.Brand, m.CompatibleBrands)
	co64 := make([]bool, len(m.tracks))
	placeholders := make([][]int64, len(m.tracks))
	for i, ts := range m.tracks {
		placeholders[i] = make([]int64, ts.tr.ChunkCount())
	}

	var moov *mp4.Box
	var offsets [][]int64
	for iter := 0; iter < 4; iter++ {
		var err error
		moov, err = m.buildMoovClassical(placeholders, co64)
		if err != nil {
			return err
		}
		bodyStart := int64(mp4.EncodingLength(ftyp)) + int64(mp4.EncodingLength(moov)) + mdatHeaderLen
		offsets = computeChunkOffsets(m.tracks, order, bodyStart)
		changed := false
		for i, offs := range offsets {
			if co64[i] {
				continue
			}
			for _, o := range offs {
				if o > 0xffffffff {
					co64[i] = true
					changed = true
					break
				}
			}
		}
		if !changed {
			moov, err = m.buildMoovClassical(offsets, co64)
			if err != nil {
				return err
			}
			break
		}
		if iter == 3 {
			return mp4.NewMuxError(mp4.KindBuggy, -1, errors.New("mux: chunk-offset co64 upgrade did not converge"))
		}
	}

	mdatBody, err := copyMdatBody(m.tracks, order, sources, mdatBodyLen)
	if err != nil {
		return err
	}
	mdat := &mp4.Box{Type: mp4.TypeMdat, Mdat: &mp4.Mdat{Buffer: mdatBody}}

	for _, box := range []*mp4.Box{ftyp, moov, mdat} {
		buf, err := mp4.Encode(box)
		if err != nil {
			return mp4.NewMuxError(mp4.KindBuggy, -1, err)
		}
		if _, err := w.Write(buf); err != nil {
			return mp4.NewMuxError(mp4.KindIOError, -1, err)
		}
	}
	return nil
}
