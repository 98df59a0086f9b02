// Command isomux muxes a raw ADTS AAC elementary stream into a classical
// (moov+mdat) MP4 file. CLI option parsing, file-path handling, and ftyp
// brand selection are explicitly out-of-core (spec §1); this binary is the
// thin external collaborator that supplies them.
package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/aac"
	"github.com/gomuxer/isomux/mux"
	"github.com/gomuxer/isomux/track"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		output   string
		brand    string
		language string
		trackID  uint32
	)
	flag.StringVarP(&output, "output", "o", "out.mp4", "output file path")
	flag.StringVar(&brand, "brand", "isom", "major ftyp brand (4 characters)")
	flag.StringVar(&language, "language", "und", "ISO-639-2/T track language")
	flag.Uint32Var(&trackID, "track-id", 1, "track ID to assign the muxed track")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <input.aac>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	if len(brand) != 4 {
		fmt.Fprintln(os.Stderr, "isomux: --brand must be exactly 4 characters")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(flag.Arg(0), output, brand, language, trackID, logger); err != nil {
		logger.Error("mux failed", "error", err)
		os.Exit(1)
	}
}

func run(inputPath, outputPath, brand, language string, trackID uint32, logger *slog.Logger) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return mp4.NewMuxError(mp4.KindIOError, -1, err)
	}

	var brandBytes [4]byte
	copy(brandBytes[:], brand)

	first, frameOffsets, err := parseADTS(data, logger)
	if err != nil {
		return err
	}
	asc := aac.BuildASCFromAdts(first)
	sampleRate := asc.SamplingFrequency

	m := mux.NewMuxer(brandBytes, [][4]byte{brandBytes, {'i', 's', 'o', '2'}, {'m', 'p', '4', '1'}}, sampleRate)

	entry := &mux.AACEntry{ASC: asc}
	tr, err := m.AddTrack(mux.TrackConfig{
		ID:             trackID,
		Kind:           mux.MediaAudio,
		Language:       language,
		MediaTimescale: sampleRate,
		Entries:        []mux.SampleEntryBuilder{entry},
	})
	if err != nil {
		return err
	}

	const samplesPerFrame = 1024
	var dts uint64
	for _, fo := range frameOffsets {
		s := track.Sample{
			DTS:      dts,
			CTS:      dts,
			Duration: samplesPerFrame,
			Size:     uint32(fo.size),
			Pos:      fo.pos,
		}
		if err := m.Accept(trackID, s); err != nil {
			return err
		}
		dts += samplesPerFrame
	}

	bitrate := tr.FinalizeBitrate(sampleRate)
	entry.Bitrate = mux.Bitrate{Max: bitrate.Max, Avg: bitrate.Avg}

	if err := m.Finalize(); err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return mp4.NewMuxError(mp4.KindIOError, -1, err)
	}
	defer out.Close()

	sources := map[uint32]io.ReaderAt{trackID: bytes.NewReader(data)}

	if err := m.WriteClassical(out, sources); err != nil {
		return err
	}

	logger.Info("muxed", "frames", len(frameOffsets), "output", outputPath, "sampleRate", sampleRate)
	return nil
}

type frameOffset struct {
	pos  int64
	size int
}

// parseADTS walks the ADTS byte stream, rejecting multi-raw_data_block
// frames and fatal sampling-rate changes (spec §4.4), warning on any other
// configuration change mid-stream since this CLI drives a single sample
// description.
func parseADTS(data []byte, logger *slog.Logger) (*aac.AdtsHeader, []frameOffset, error) {
	var (
		offsets []frameOffset
		first   *aac.AdtsHeader
		prev    *aac.AdtsHeader
		off     int
	)
	for off < len(data) {
		h, err := aac.ParseAdtsHeader(data[off:])
		if err != nil {
			if off == len(data) {
				break
			}
			return nil, nil, mp4.NewMuxError(mp4.KindEsError, -1, err)
		}
		if h.NumberOfRawDataBlocks != 1 {
			return nil, nil, mp4.NewMuxError(mp4.KindNoSupport, -1, aac.ErrMultipleRawBlocks)
		}
		if prev != nil {
			switch aac.DetectConfigChange(prev, h) {
			case aac.ConfigChangedFatal:
				return nil, nil, mp4.NewMuxError(mp4.KindConfigError, -1, fmt.Errorf("isomux: sampling-frequency-index change mid-stream"))
			case aac.ConfigChangedSoftware:
				logger.Warn("adts configuration changed mid-stream; continuing with the original sample description")
			}
		} else {
			first = h
		}
		payloadStart := off + h.HeaderLen
		payloadSize := h.FrameLength - h.HeaderLen
		offsets = append(offsets, frameOffset{pos: int64(payloadStart), size: payloadSize})
		prev = h
		off += h.FrameLength
	}
	if len(offsets) == 0 {
		return nil, nil, mp4.NewMuxError(mp4.KindEmptyEs, -1, fmt.Errorf("isomux: no ADTS frames found"))
	}
	return first, offsets, nil
}
