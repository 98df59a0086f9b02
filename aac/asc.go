// Package aac implements the ADTS elementary-stream parser and
// AudioSpecificConfig (ASC) codec used to build esds DSI payloads
// (spec §4.4).
package aac

import (
	"errors"

	"github.com/gomuxer/isomux/bitio"
)

// Audio object types (MPEG-4 §1.5.1) relevant to signaling decisions.
const (
	AotAacMain = 1
	AotAacLc   = 2
	AotAacSsr  = 3
	AotAacLtp  = 4
	AotSbr     = 5
	AotAacScal = 6
	AotErAacLc = 17
	AotErAacLd = 23
	AotPs      = 29
)

// SamplingFrequencyExplicit signals a following 24-bit explicit rate.
const SamplingFrequencyExplicit = 0x0f

var sampleRateTable = [16]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// SampleRateIndex returns the ADTS/ASC sampling_frequency_index for rate,
// or (0,false) if rate is not one of the 13 standard rates.
func SampleRateIndex(rate uint32) (uint8, bool) {
	for i, r := range sampleRateTable {
		if r == rate {
			return uint8(i), true
		}
	}
	return 0, false
}

// objectTypesTable lists AOTs this muxer's ASC parser accepts (faad2-style
// support matrix): AAC LC (2), LTP (4), SBR (5), ER AAC LC (17),
// ER AAC LTP (19), ER AAC LD (23) and PS (29).
var objectTypesTable = [32]bool{
	false, false, true, false, true, true, false, false,
	false, false, false, false, false, false, false, false,
	false, true, false, true, false, false, false, true,
	false, false, false, false, false, true, false, false,
}

// ErrUnsupportedObjectType reports an audio object type this parser does
// not recognize (spec §7 NoSupport).
var ErrUnsupportedObjectType = errors.New("aac: unsupported audio object type")

// ErrInvalidSampleRate reports sampling_frequency_index 0x0f resolving to
// no usable rate.
var ErrInvalidSampleRate = errors.New("aac: invalid sample rate")

// SignalingMode controls how SBR/PS are (re-)signaled in an emitted ASC,
// without altering stream content (spec §4.4 set_signaling_mode).
type SignalingMode int

const (
	SignalingImplicit SignalingMode = iota
	SignalingSbrBackwardCompat
	SignalingSbrNonBackwardCompat
	SignalingPsBackwardCompat
	SignalingPsNonBackwardCompat
)

// AudioSpecificConfig is the parsed ASC (ISO/IEC 14496-3 §1.6.2.1).
type AudioSpecificConfig struct {
	ObjectType              uint8
	SamplingFrequencyIndex   uint8
	SamplingFrequency        uint32
	ChannelConfiguration     uint8

	ExtensionObjectType      uint8
	ExtensionSamplingFreqIdx uint8
	ExtensionSamplingFreq    uint32
	SBRPresent               bool
	PSPresent                bool

	FrameLengthFlag          bool
	DependsOnCoreCoder       bool
	CoreCoderDelay           uint16
	ExtensionFlag            bool

	// PCE is set only when ChannelConfiguration == 0 (in-band program
	// config element, spec §4.4).
	PCE *ProgramConfigElement

	Signaling SignalingMode
}

// ProgramConfigElement is a minimal in-band channel-mapping element, parsed
// only enough to preserve element/channel counts through a remux.
type ProgramConfigElement struct {
	ElementInstanceTag   uint8
	NumFrontChannels     uint8
	NumSideChannels      uint8
	NumBackChannels      uint8
	NumLfeChannels       uint8
	NumAssocData         uint8
	NumValidCcElements   uint8
	MonoMixdownPresent   bool
	StereoMixdownPresent bool
	MatrixMixdownPresent bool
}

// ParseASC parses a raw AudioSpecificConfig blob (spec §4.4).
func ParseASC(data []byte) (*AudioSpecificConfig, error) {
	r := bitio.NewReader(data)
	a := &AudioSpecificConfig{}

	ot, err := r.ReadBits(5)
	if err != nil {
		return nil, err
	}
	a.ObjectType = uint8(ot)

	sfi, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	a.SamplingFrequencyIndex = uint8(sfi)
	if a.SamplingFrequencyIndex == SamplingFrequencyExplicit {
		v, err := r.ReadBits(24)
		if err != nil {
			return nil, err
		}
		a.SamplingFrequency = v
	} else {
		a.SamplingFrequency = sampleRateTable[a.SamplingFrequencyIndex]
	}
	if a.SamplingFrequency == 0 {
		return nil, ErrInvalidSampleRate
	}

	cc, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	a.ChannelConfiguration = uint8(cc)

	if a.ObjectType >= 32 || !objectTypesTable[a.ObjectType] {
		return nil, ErrUnsupportedObjectType
	}

	if a.ObjectType == AotSbr || a.ObjectType == AotPs {
		a.SBRPresent = true
		if a.ObjectType == AotPs {
			a.PSPresent = true
		}
		esfi, err := r.ReadBits(4)
		if err != nil {
			return nil, err
		}
		a.ExtensionSamplingFreqIdx = uint8(esfi)
		if a.ExtensionSamplingFreqIdx == SamplingFrequencyExplicit {
			v, err := r.ReadBits(24)
			if err != nil {
				return nil, err
			}
			a.ExtensionSamplingFreq = v
		} else {
			a.ExtensionSamplingFreq = sampleRateTable[a.ExtensionSamplingFreqIdx]
		}
		ot2, err := r.ReadBits(5)
		if err != nil {
			return nil, err
		}
		a.ExtensionObjectType = uint8(ot2)
		a.ObjectType = a.ExtensionObjectType
	}

	switch a.ObjectType {
	case AotAacMain, AotAacLc, AotAacSsr, AotAacLtp, AotAacScal:
		if err := a.parseGASpecificConfig(r); err != nil {
			return nil, err
		}
	default:
		if a.ObjectType >= AotErAacLc {
			if err := a.parseGASpecificConfig(r); err != nil {
				return nil, err
			}
			if _, err := r.ReadBits(2); err != nil { // epConfig
				return nil, err
			}
		}
	}

	// Backward-compatible sync extension: syncExtensionType 0x2b7 signals
	// SBR; a further 0x548 inside that signals PS (spec §4.4).
	if !a.SBRPresent {
		if v, err := r.PeekBits(11, 0); err == nil && v == 0x2b7 {
			_, _ = r.ReadBits(11)
			extOT, err := r.ReadBits(5)
			if err == nil && extOT == AotSbr {
				present, _ := r.ReadFlag()
				if present {
					a.SBRPresent = true
					esfi, _ := r.ReadBits(4)
					a.ExtensionSamplingFreqIdx = uint8(esfi)
					a.ExtensionSamplingFreq = sampleRateTable[a.ExtensionSamplingFreqIdx]
					if v, err := r.PeekBits(11, 0); err == nil && v == 0x548 {
						_, _ = r.ReadBits(11)
						ps, _ := r.ReadFlag()
						a.PSPresent = ps
					}
				}
			}
		}
	}

	return a, nil
}

func (a *AudioSpecificConfig) parseGASpecificConfig(r *bitio.Reader) error {
	var err error
	if a.FrameLengthFlag, err = r.ReadFlag(); err != nil {
		return err
	}
	if a.DependsOnCoreCoder, err = r.ReadFlag(); err != nil {
		return err
	}
	if a.DependsOnCoreCoder {
		v, err := r.ReadBits(14)
		if err != nil {
			return err
		}
		a.CoreCoderDelay = uint16(v)
	}
	if a.ExtensionFlag, err = r.ReadFlag(); err != nil {
		return err
	}
	if a.ChannelConfiguration == 0 {
		pce, err := parsePCE(r)
		if err != nil {
			return err
		}
		a.PCE = pce
	}
	return nil
}

func parsePCE(r *bitio.Reader) (*ProgramConfigElement, error) {
	p := &ProgramConfigElement{}
	tag, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	p.ElementInstanceTag = uint8(tag)
	if _, err := r.ReadBits(2); err != nil { // object_type
		return nil, err
	}
	if _, err := r.ReadBits(4); err != nil { // sampling_frequency_index
		return nil, err
	}
	nf, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	p.NumFrontChannels = uint8(nf)
	ns, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	p.NumSideChannels = uint8(ns)
	nb, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	p.NumBackChannels = uint8(nb)
	nl, err := r.ReadBits(2)
	if err != nil {
		return nil, err
	}
	p.NumLfeChannels = uint8(nl)
	na, err := r.ReadBits(3)
	if err != nil {
		return nil, err
	}
	p.NumAssocData = uint8(na)
	nc, err := r.ReadBits(4)
	if err != nil {
		return nil, err
	}
	p.NumValidCcElements = uint8(nc)

	if p.MonoMixdownPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.MonoMixdownPresent {
		if err := r.SkipBits(4); err != nil {
			return nil, err
		}
	}
	if p.StereoMixdownPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.StereoMixdownPresent {
		if err := r.SkipBits(4); err != nil {
			return nil, err
		}
	}
	if p.MatrixMixdownPresent, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if p.MatrixMixdownPresent {
		if err := r.SkipBits(3); err != nil {
			return nil, err
		}
	}
	total := int(p.NumFrontChannels) + int(p.NumSideChannels) + int(p.NumBackChannels)
	for i := 0; i < total; i++ {
		if err := r.SkipBits(5); err != nil { // is_cpe + tag_select (1+4)
			return nil, err
		}
	}
	for i := 0; i < int(p.NumLfeChannels); i++ {
		if err := r.SkipBits(4); err != nil {
			return nil, err
		}
	}
	for i := 0; i < int(p.NumAssocData); i++ {
		if err := r.SkipBits(4); err != nil {
			return nil, err
		}
	}
	for i := 0; i < int(p.NumValidCcElements); i++ {
		if err := r.SkipBits(5); err != nil {
			return nil, err
		}
	}
	r.ByteAlign()
	commentLen, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	if err := r.SkipBits(int(commentLen) * 8); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteASC encodes a minimal two-byte (or more, with an explicit sampling
// rate or SBR/PS extension) ASC for the common LC / HE-AACv1 / HE-AACv2
// cases; no PCE is written. It is used when building a new esds
// DSI for a track (spec §4.4, §6).
func WriteASC(a *AudioSpecificConfig) []byte {
	w := bitio.NewWriter(8)
	objectType := a.ObjectType
	sfi := a.SamplingFrequencyIndex

	switch a.Signaling {
	case SignalingSbrBackwardCompat, SignalingSbrNonBackwardCompat,
		SignalingPsBackwardCompat, SignalingPsNonBackwardCompat:
		if a.Signaling == SignalingSbrNonBackwardCompat {
			objectType = AotSbr
		} else if a.Signaling == SignalingPsNonBackwardCompat {
			objectType = AotPs
		}
	}

	w.WriteBits(5, uint32(objectType))
	w.WriteBits(4, uint32(sfi))
	if sfi == SamplingFrequencyExplicit {
		w.WriteBits(24, a.SamplingFrequency)
	}
	w.WriteBits(4, uint32(a.ChannelConfiguration))

	if a.Signaling == SignalingSbrNonBackwardCompat || a.Signaling == SignalingPsNonBackwardCompat {
		w.WriteBits(4, uint32(a.ExtensionSamplingFreqIdx))
		w.WriteBits(5, uint32(AotAacLc))
	}

	// GASpecificConfig.
	w.WriteFlag(a.FrameLengthFlag)
	w.WriteFlag(a.DependsOnCoreCoder)
	if a.DependsOnCoreCoder {
		w.WriteBits(14, uint32(a.CoreCoderDelay))
	}
	w.WriteFlag(false) // extensionFlag

	if a.Signaling == SignalingSbrBackwardCompat || a.Signaling == SignalingPsBackwardCompat {
		w.FlushBits()
		w.WriteBits(11, 0x2b7)
		w.WriteBits(5, uint32(AotSbr))
		w.WriteFlag(true)
		w.WriteBits(4, uint32(a.ExtensionSamplingFreqIdx))
		if a.Signaling == SignalingPsBackwardCompat {
			w.WriteBits(11, 0x548)
			w.WriteFlag(true)
		}
	}
	w.FlushBits()
	return w.Bytes()
}
