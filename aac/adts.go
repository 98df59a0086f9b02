package aac

import (
	"errors"
)

// ErrNoSyncword reports that no ADTS syncword (0xFFF) was found at the
// expected offset (spec §4.4).
var ErrNoSyncword = errors.New("aac: adts syncword not found")

// ErrShortFrame reports a truncated ADTS header or payload.
var ErrShortFrame = errors.New("aac: truncated adts frame")

// AdtsHeader is one parsed ADTS syncframe header (ISO/IEC 13818-7 Annex B).
type AdtsHeader struct {
	MpegVersion          uint8 // 0 = MPEG-4, 1 = MPEG-2
	ProtectionAbsent     bool
	ObjectType           uint8 // profile + 1 == ObjectType in ASC terms
	SamplingFrequencyIdx uint8
	ChannelConfiguration uint8
	FrameLength          int // full syncframe length including the header
	HeaderLen            int // 7, or 9 when a CRC follows
	NumberOfRawDataBlocks int // raw_data_blocks_in_frame + 1
}

// FindSyncword scans buf starting at off for the next 12-bit ADTS syncword
// (0xFFF), returning its byte offset or -1.
func FindSyncword(buf []byte, off int) int {
	for i := off; i+1 < len(buf); i++ {
		if buf[i] == 0xff && buf[i+1]&0xf0 == 0xf0 {
			return i
		}
	}
	return -1
}

// ParseAdtsHeader parses one ADTS header at the start of buf (spec §4.4:
// "one raw_data_block per ADTS frame" is enforced by the caller checking
// NumberOfRawDataBlocks == 1).
func ParseAdtsHeader(buf []byte) (*AdtsHeader, error) {
	if len(buf) < 7 {
		return nil, ErrShortFrame
	}
	if buf[0] != 0xff || buf[1]&0xf0 != 0xf0 {
		return nil, ErrNoSyncword
	}
	h := &AdtsHeader{}
	h.MpegVersion = (buf[1] >> 3) & 0x1
	protectionAbsent := buf[1] & 0x1
	h.ProtectionAbsent = protectionAbsent == 1

	h.ObjectType = ((buf[2] >> 6) & 0x3) + 1
	h.SamplingFrequencyIdx = (buf[2] >> 2) & 0xf
	channelConfig := (buf[2]&0x1)<<2 | (buf[3] >> 6)
	h.ChannelConfiguration = channelConfig

	frameLength := int(buf[3]&0x3)<<11 | int(buf[4])<<3 | int(buf[5]>>5)
	h.FrameLength = frameLength

	numRawDataBlocksMinus1 := buf[6] & 0x3
	h.NumberOfRawDataBlocks = int(numRawDataBlocksMinus1) + 1

	if h.ProtectionAbsent {
		h.HeaderLen = 7
	} else {
		h.HeaderLen = 9
	}
	if len(buf) < h.HeaderLen {
		return nil, ErrShortFrame
	}
	if h.FrameLength < h.HeaderLen || h.FrameLength > len(buf) {
		return nil, ErrShortFrame
	}
	return h, nil
}

// Frame is one demuxed ADTS syncframe: its header and the raw AAC payload
// (the header and any CRC stripped).
type Frame struct {
	Header  AdtsHeader
	Payload []byte
}

// SplitFrames walks a contiguous ADTS byte stream and returns each
// syncframe found, stopping at the first short/invalid frame. Per spec
// §4.4, multiple raw_data_blocks in a single syncframe (NumberOfRawDataBlocks
// > 1) are rejected — callers should treat ErrMultipleRawBlocks as a fatal
// stream error for this muxer, which assumes one AU per ADTS frame.
var ErrMultipleRawBlocks = errors.New("aac: adts frame carries multiple raw_data_blocks")

func SplitFrames(buf []byte) ([]Frame, error) {
	var frames []Frame
	off := 0
	for off < len(buf) {
		h, err := ParseAdtsHeader(buf[off:])
		if err != nil {
			if off == len(buf) {
				break
			}
			return frames, err
		}
		if h.NumberOfRawDataBlocks != 1 {
			return frames, ErrMultipleRawBlocks
		}
		payload := buf[off+h.HeaderLen : off+h.FrameLength]
		frames = append(frames, Frame{Header: *h, Payload: payload})
		off += h.FrameLength
	}
	return frames, nil
}

// ConfigChange classifies a transition between two ADTS headers within one
// track (spec §4.4 set_signaling_mode / NEW_SD handling).
type ConfigChange int

const (
	ConfigSame ConfigChange = iota
	ConfigChangedFatal    // sampling_frequency_index changed: not representable in one sample entry
	ConfigChangedSoftware // channel configuration or object type changed: caller should emit a new sample description
)

// DetectConfigChange compares two successive ADTS headers from the same
// track.
func DetectConfigChange(prev, cur *AdtsHeader) ConfigChange {
	if prev.SamplingFrequencyIdx != cur.SamplingFrequencyIdx {
		return ConfigChangedFatal
	}
	if prev.ObjectType != cur.ObjectType || prev.ChannelConfiguration != cur.ChannelConfiguration {
		return ConfigChangedSoftware
	}
	return ConfigSame
}

// BuildASCFromAdts derives a minimal AudioSpecificConfig from one ADTS
// header, for building the esds DSI of a track whose source is raw ADTS
// rather than an existing ASC (spec §4.4/§6).
func BuildASCFromAdts(h *AdtsHeader) *AudioSpecificConfig {
	return &AudioSpecificConfig{
		ObjectType:             h.ObjectType,
		SamplingFrequencyIndex: h.SamplingFrequencyIdx,
		SamplingFrequency:      sampleRateTable[h.SamplingFrequencyIdx],
		ChannelConfiguration:   h.ChannelConfiguration,
		FrameLengthFlag:        false,
	}
}
