// Package mux orchestrates the per-track accumulators in track, the
// fragment-boundary and moof/mdat builders in fragment, and the sinf/senc
// builders in cenc into a complete classical or fragmented ISO-BMFF file
// (spec §4.10 setup_muxer / write_moov_box / write_moof_box). It is its own
// package, not part of the root mp4 package, because track/fragment/cenc all
// import mp4 for the box tree types; mp4 importing mux back would cycle.
package mux

import (
	"encoding/binary"
	"errors"
	"io"

	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/cenc"
	"github.com/gomuxer/isomux/fragment"
	"github.com/gomuxer/isomux/track"
)

var be = binary.BigEndian

// MediaKind selects a track's handler type and media-header box (spec §4.2).
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
	MediaText
	MediaHint
	MediaMetadata
)

// MuxOptions configures movie-wide box emission (spec §4.10 MuxOptions).
type MuxOptions struct {
	WriteIods bool // emit an iods box under moov (MPEG-4 initial object descriptor)
	WritePdin bool // emit a pdin box under moov
	Pdin      []PdinEntry
	WriteBloc bool // emit a bloc box under moov (3GP base location)
	Bloc      string
	WriteFree uint32 // emit a padding free box of this size under moov when > 0
}

// FragOptions configures the fragmented-mux path on top of fragment.Options
// and fragment.FragOptions (spec §4.10 FragOptions extensions).
type FragOptions struct {
	fragment.Options
	fragment.FragOptions

	WriteSidx              bool
	OneSidxPerTrack        bool // if false, only the first video track (or first track) gets a sidx
	WriteMfra              bool
	OneTfraEntryPerTraf    bool
	WriteTrik              bool // emit a trik box alongside stbl-equivalent trick-play info (video only)
}

// TrackConfig describes one elementary stream being added to a Muxer (spec
// §4.2/§4.10 add_track).
type TrackConfig struct {
	ID             uint32
	Kind           MediaKind
	Language       string // ISO-639-2/T, e.g. "und"
	AlternateGroup uint16
	Width, Height  uint16 // video only, for tkhd/stsd

	MediaTimescale uint32
	ChunkSpanTime  uint32 // media-timescale ticks; classical mux only
	MaxChunkSize   uint32

	// Entries supplies one sample-entry builder per stsd slot the track
	// will end up with (track.Track.NewStsdEntryAt advances the slot on a
	// NEW_SD sample). Most tracks have exactly one.
	Entries []SampleEntryBuilder

	Enc *cenc.EncOptions // nil for unprotected tracks
	// Encryptor supplies the per-sample encryption primitive for a protected
	// track; the fragment writer drives it sample by sample (spec §5). Must
	// be non-nil whenever Enc is set and fragments are written.
	Encryptor cenc.BlockEncryptor
}

type trackState struct {
	cfg TrackConfig
	tr  *track.Track
}

// Muxer accumulates samples for a fixed set of tracks and, once every track
// has had Finalize called on it, assembles either a classical or a
// fragmented ISO-BMFF file (spec §4.10).
type Muxer struct {
	Brand            [4]byte
	CompatibleBrands [][4]byte
	MovieTimescale   uint32
	Options          MuxOptions
	Frag             *FragOptions // nil selects the classical (progressive) layout

	tracks   []*trackState
	byID     map[uint32]*trackState
	finalOK  bool
}

// NewMuxer returns an empty Muxer. brand/compatibleBrands seed the ftyp (or
// the first styp, for fragmented output); movieTimescale is mvhd's.
func NewMuxer(brand [4]byte, compatibleBrands [][4]byte, movieTimescale uint32) *Muxer {
	return &Muxer{
		Brand:            brand,
		CompatibleBrands: compatibleBrands,
		MovieTimescale:   movieTimescale,
		byID:             make(map[uint32]*trackState),
	}
}

// AddTrack registers a new track. Samples are then pushed with Accept.
func (m *Muxer) AddTrack(cfg TrackConfig) (*track.Track, error) {
	if cfg.ID == 0 {
		return nil, mp4.NewMuxError(mp4.KindParamError, -1, errors.New("mux: track ID must be non-zero"))
	}
	if _, exists := m.byID[cfg.ID]; exists {
		return nil, mp4.NewMuxError(mp4.KindParamError, int(cfg.ID), errors.New("mux: duplicate track ID"))
	}
	if len(cfg.Entries) == 0 {
		return nil, mp4.NewMuxError(mp4.KindParamError, int(cfg.ID), errors.New("mux: track needs at least one sample-entry builder"))
	}
	tr := track.NewTrack(cfg.ID)
	if cfg.MaxChunkSize != 0 {
		tr.SetMaxChunkSize(cfg.MaxChunkSize)
	}
	tr.ChunkSpanTime = cfg.ChunkSpanTime
	ts := &trackState{cfg: cfg, tr: tr}
	m.tracks = append(m.tracks, ts)
	m.byID[cfg.ID] = ts
	return tr, nil
}

// Accept pushes one sample onto the named track (spec §4.6 Accept).
func (m *Muxer) Accept(trackID uint32, s track.Sample) error {
	ts := m.byID[trackID]
	if ts == nil {
		return mp4.NewMuxError(mp4.KindParamError, int(trackID), errors.New("mux: unknown track ID"))
	}
	if err := ts.tr.Accept(s, ts.cfg.MediaTimescale); err != nil {
		return mp4.NewMuxError(mp4.KindEsError, int(trackID), err)
	}
	return nil
}

// Finalize runs track.Track.Finalize on every registered track (spec §4.10
// step 1 of write_moov_box). Must be called exactly once, after the last
// Accept call on every track and before WriteClassical/WriteFragmented.
func (m *Muxer) Finalize() error {
	if len(m.tracks) == 0 {
		return mp4.NewMuxError(mp4.KindParamError, -1, errors.New("mux: no tracks registered"))
	}
	for _, ts := range m.tracks {
		if err := ts.tr.Finalize(); err != nil {
			return mp4.NewMuxError(mp4.KindEmptyEs, int(ts.cfg.ID), err)
		}
		if len(ts.cfg.Entries) != ts.tr.StsdCount() {
			return mp4.NewMuxError(mp4.KindParamError, int(ts.cfg.ID), errors.New("mux: sample-entry builder count does not match stsd entries produced"))
		}
	}
	m.finalOK = true
	return nil
}

// ByteSource supplies a track's sample bytes by source file offset. The
// *os.File type and any io.ReaderAt implementation satisfy it directly; it
// exists only so callers that don't want to import "io" for this one type
// don't have to.
type ByteSource = io.ReaderAt

func movieDuration(tracks []*trackState, movieTimescale uint32) uint64 {
	var max uint64
	for _, ts := range tracks {
		d := ts.tr.MediaDuration()
		if ts.tr.MediaTimescale == 0 {
			continue
		}
		scaled := d * uint64(movieTimescale) / uint64(ts.tr.MediaTimescale)
		if scaled > max {
			max = scaled
		}
	}
	return max
}
