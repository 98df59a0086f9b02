package mux

import (
	"errors"

	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/aac"
	"github.com/gomuxer/isomux/ac3"
	"github.com/gomuxer/isomux/cenc"
	"github.com/gomuxer/isomux/nal"
)

// SampleEntryBuilder produces one stsd entry (spec §4.5 write_sample_entry).
// Width/Height for audio entries and ChannelCount/SampleRate for video
// entries are simply unused by the respective implementations.
type SampleEntryBuilder interface {
	buildEntry() (*mp4.Box, error)
	originalFormat() mp4.BoxType
}

func encryptedTypeFor(orig mp4.BoxType) (mp4.BoxType, error) {
	switch orig {
	case mp4.TypeAvc1, mp4.TypeHev1, mp4.TypeHvc1:
		return mp4.TypeEncv, nil
	case mp4.TypeMp4a, mp4.TypeAc3, mp4.TypeEc3:
		return mp4.TypeEnca, nil
	default:
		return mp4.BoxType{}, errors.New("mux: no encrypted sample-entry type for " + orig.String())
	}
}

// buildProtectedEntry wraps an already-built sample entry in enca/encv: the
// original codec boxes stay as children, with a sinf describing the
// original format/scheme/key appended after them (spec §4.9 "Encryption").
func buildProtectedEntry(entry *mp4.Box, orig mp4.BoxType, opt cenc.EncOptions) (*mp4.Box, error) {
	encType, err := encryptedTypeFor(orig)
	if err != nil {
		return nil, err
	}
	sinf, err := cenc.BuildSinf(opt)
	if err != nil {
		return nil, err
	}
	entry.Type = encType
	switch {
	case entry.Visual != nil:
		entry.Visual.Children = append(entry.Visual.Children, sinf)
	case entry.Audio != nil:
		entry.Audio.Children = append(entry.Audio.Children, sinf)
	default:
		return nil, errors.New("mux: sample entry has neither Visual nor Audio payload")
	}
	return entry, nil
}

func build(b SampleEntryBuilder, enc *cenc.EncOptions) (*mp4.Box, error) {
	entry, err := b.buildEntry()
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return entry, nil
	}
	return buildProtectedEntry(entry, b.originalFormat(), *enc)
}

// AVCEntry builds an avc1 sample entry with an avcC child (spec §4.5
// "avcC"/"avc1"): active is the parameter set in force when the entry was
// opened; spsList/ppsList are every SPS/PPS seen for the track's current
// configuration (ISO/IEC 14496-15 allows more than one of each).
type AVCEntry struct {
	Width, Height uint16
	Active        *nal.SPS
	SPSList       [][]byte
	PPSList       [][]byte
	PixelAspect   *[2]uint32 // optional pasp (h, v)
}

func (e *AVCEntry) originalFormat() mp4.BoxType { return mp4.TypeAvc1 }

func (e *AVCEntry) buildEntry() (*mp4.Box, error) {
	if e.Active == nil {
		return nil, errors.New("mux: AVCEntry needs an active SPS")
	}
	avcC := nal.BuildAvcC(e.Active, e.SPSList, e.PPSList)
	children := []*mp4.Box{{Type: mp4.TypeAvcC, AvcC: &mp4.AvcC{Buffer: avcC}}}
	if e.PixelAspect != nil {
		children = append(children, &mp4.Box{Type: mp4.TypePasp, Pasp: &mp4.Pasp{HSpacing: e.PixelAspect[0], VSpacing: e.PixelAspect[1]}})
	}
	return &mp4.Box{Type: mp4.TypeAvc1, Visual: &mp4.VisualSampleEntry{
		DataReferenceIndex: 1, Width: e.Width, Height: e.Height,
		HResolution: 0x00480000, VResolution: 0x00480000, FrameCount: 1, Depth: 0x0018,
		Children: children,
	}}, nil
}

// HEVCEntry builds an hev1 sample entry with an hvcC child (spec §4.5
// "hvcC"/"hev1"). VPS is optional (some streams never repeat it in-band).
type HEVCEntry struct {
	Width, Height uint16
	Active        *nal.HevcSPS
	VPSList       [][]byte
	SPSList       [][]byte
	PPSList       [][]byte
	PixelAspect   *[2]uint32
}

func (e *HEVCEntry) originalFormat() mp4.BoxType { return mp4.TypeHev1 }

func (e *HEVCEntry) buildEntry() (*mp4.Box, error) {
	if e.Active == nil {
		return nil, errors.New("mux: HEVCEntry needs an active SPS")
	}
	hvcC := nal.BuildHvcC(e.Active, e.VPSList, e.SPSList, e.PPSList)
	children := []*mp4.Box{{Type: mp4.TypeHvcC, HvcC: &mp4.HvcC{Buffer: hvcC}}}
	if e.PixelAspect != nil {
		children = append(children, &mp4.Box{Type: mp4.TypePasp, Pasp: &mp4.Pasp{HSpacing: e.PixelAspect[0], VSpacing: e.PixelAspect[1]}})
	}
	return &mp4.Box{Type: mp4.TypeHev1, Visual: &mp4.VisualSampleEntry{
		DataReferenceIndex: 1, Width: e.Width, Height: e.Height,
		HResolution: 0x00480000, VResolution: 0x00480000, FrameCount: 1, Depth: 0x0018,
		Children: children,
	}}, nil
}

// aacObjectTypeIndication maps an AAC audio object type to the MPEG-4
// systems ObjectTypeIndication esds expects (ISO/IEC 14496-1 Table 5:
// 0x40 = Audio ISO/IEC 14496-3, covers LC/HE-AAC/HE-AACv2 alike since the
// SBR/PS distinction lives inside the AudioSpecificConfig, not the OTI).
const aacObjectTypeIndication = 0x40

// aacStreamType is streamType=5 (AudioStream), ISO/IEC 14496-1 Table 6.
const aacStreamType = 5

// AACEntry builds an mp4a sample entry with an esds child carrying the raw
// ASC bytes as DecoderSpecificInfo (spec §4.5 "esds"/"mp4a", §4.6.1
// bitrate finalization).
type AACEntry struct {
	ASC     *aac.AudioSpecificConfig
	ASCRaw  []byte // exact original bytes, preferred verbatim over WriteASC's re-encoding
	Bitrate Bitrate
}

// Bitrate mirrors track.Bitrate to avoid importing track in caller code
// that only needs sample-entry construction.
type Bitrate struct {
	Max, Avg uint32
}

func (e *AACEntry) originalFormat() mp4.BoxType { return mp4.TypeMp4a }

func (e *AACEntry) buildEntry() (*mp4.Box, error) {
	if e.ASC == nil {
		return nil, errors.New("mux: AACEntry needs an AudioSpecificConfig")
	}
	ascBytes := e.ASCRaw
	if len(ascBytes) == 0 {
		ascBytes = aac.WriteASC(e.ASC)
	}
	channels := e.ASC.ChannelConfiguration
	if channels == 0 {
		channels = 2 // PCE-driven (channelConfiguration==0); 2 is the safest stsd hint
	}
	esdsPayload := mp4.BuildEsdsPayload(0, aacObjectTypeIndication, aacStreamType, 0, e.Bitrate.Max, e.Bitrate.Avg, ascBytes)
	esds := &mp4.Box{Type: mp4.TypeEsds, Esds: &mp4.Esds{Buffer: esdsPayload}}
	return &mp4.Box{Type: mp4.TypeMp4a, Audio: &mp4.AudioSampleEntry{
		DataReferenceIndex: 1,
		ChannelCount:       uint16(channels),
		SampleSize:         16,
		SampleRate:         e.ASC.SamplingFrequency << 16,
		Children:           []*mp4.Box{esds},
	}}, nil
}

// AC3Entry builds an ac-3 sample entry with a dac3 child (spec §4.5 "dac3").
type AC3Entry struct {
	Header     *ac3.AC3Header
	SampleSize uint16 // bits, usually 16
}

func (e *AC3Entry) originalFormat() mp4.BoxType { return mp4.TypeAc3 }

func (e *AC3Entry) buildEntry() (*mp4.Box, error) {
	if e.Header == nil {
		return nil, errors.New("mux: AC3Entry needs an AC3Header")
	}
	dac3, err := mp4.ParseDac3(ac3.BuildDac3(e.Header))
	if err != nil {
		return nil, err
	}
	size := e.SampleSize
	if size == 0 {
		size = 16
	}
	return &mp4.Box{Type: mp4.TypeAc3, Audio: &mp4.AudioSampleEntry{
		DataReferenceIndex: 1,
		ChannelCount:       uint16(e.Header.Channels),
		SampleSize:         size,
		SampleRate:         e.Header.SampleRate << 16,
		Children:           []*mp4.Box{{Type: mp4.TypeDac3, Dac3: dac3}},
	}}, nil
}

// EAC3Entry builds an ec-3 sample entry with a dec3 child (spec §4.5
// "dec3"): substreams is every independent substream the accumulator
// tracked for this configuration (ac3.Accumulator.IndependentSubstreams).
type EAC3Entry struct {
	Substreams []*ac3.Substream
	DataRate   uint32
	Channels   uint16
	SampleRate uint32
	SampleSize uint16
}

func (e *EAC3Entry) originalFormat() mp4.BoxType { return mp4.TypeEc3 }

func (e *EAC3Entry) buildEntry() (*mp4.Box, error) {
	if len(e.Substreams) == 0 {
		return nil, errors.New("mux: EAC3Entry needs at least one substream")
	}
	dec3, err := mp4.ParseDec3(ac3.BuildDec3(e.Substreams, e.DataRate))
	if err != nil {
		return nil, err
	}
	size := e.SampleSize
	if size == 0 {
		size = 16
	}
	return &mp4.Box{Type: mp4.TypeEc3, Audio: &mp4.AudioSampleEntry{
		DataReferenceIndex: 1,
		ChannelCount:       e.Channels,
		SampleSize:         size,
		SampleRate:         e.SampleRate << 16,
		Children:           []*mp4.Box{{Type: mp4.TypeDec3, Dec3: dec3}},
	}}, nil
}

// TextEntry builds a tx3g or stpp sample entry from an already-encoded,
// codec-specific configuration payload (3GPP TS 26.245 TextSampleEntry /
// ISO/IEC 14496-30 XMLSubtitleSampleEntry). Neither has a registered codec
// in this module, so the entry's fixed fields are packed by hand and the
// rest of the payload (the tx3g style box, or stpp's namespace strings) is
// passed through as opaque children/raw bytes the caller already built.
type TextEntry struct {
	IsXML   bool // false selects tx3g, true selects stpp
	Payload []byte
}

func (e *TextEntry) originalFormat() mp4.BoxType {
	if e.IsXML {
		return mp4.TypeStpp
	}
	return mp4.TypeTx3g
}

func (e *TextEntry) buildEntry() (*mp4.Box, error) {
	t := e.originalFormat()
	buf := make([]byte, 8+len(e.Payload))
	buf[7] = 1 // data_reference_index = 1
	copy(buf[8:], e.Payload)
	return mp4.NewRaw(t, buf), nil
}
