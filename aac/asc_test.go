package aac

import (
	"testing"

	"github.com/gomuxer/isomux/bitio"
)

func TestParseASC_AacLcStereo44100(t *testing.T) {
	// objectType=2 (LC), sfi=4 (44100), channelConfig=2, GASpecificConfig
	// all-zero flags: 00010 0100 0010 000
	w := bitio.NewWriter(4)
	w.WriteBits(5, AotAacLc)
	w.WriteBits(4, 4)
	w.WriteBits(4, 2)
	w.WriteFlag(false) // frameLengthFlag
	w.WriteFlag(false) // dependsOnCoreCoder
	w.WriteFlag(false) // extensionFlag
	w.FlushBits()

	asc, err := ParseASC(w.Bytes())
	if err != nil {
		t.Fatalf("ParseASC: %v", err)
	}
	if asc.ObjectType != AotAacLc {
		t.Fatalf("ObjectType = %d, want %d", asc.ObjectType, AotAacLc)
	}
	if asc.SamplingFrequency != 44100 {
		t.Fatalf("SamplingFrequency = %d, want 44100", asc.SamplingFrequency)
	}
	if asc.ChannelConfiguration != 2 {
		t.Fatalf("ChannelConfiguration = %d, want 2", asc.ChannelConfiguration)
	}
}

func TestParseASC_ExplicitSampleRateEscape(t *testing.T) {
	w := bitio.NewWriter(8)
	w.WriteBits(5, AotAacLc)
	w.WriteBits(4, SamplingFrequencyExplicit)
	w.WriteBits(24, 96000)
	w.WriteBits(4, 1)
	w.WriteFlag(false)
	w.WriteFlag(false)
	w.WriteFlag(false)
	w.FlushBits()

	asc, err := ParseASC(w.Bytes())
	if err != nil {
		t.Fatalf("ParseASC: %v", err)
	}
	if asc.SamplingFrequency != 96000 {
		t.Fatalf("SamplingFrequency = %d, want 96000", asc.SamplingFrequency)
	}
}

func TestParseASC_UnsupportedObjectType(t *testing.T) {
	w := bitio.NewWriter(8)
	w.WriteBits(5, 31) // reserved/unsupported
	w.WriteBits(4, 4)
	w.WriteBits(4, 2)
	w.FlushBits()

	if _, err := ParseASC(w.Bytes()); err != ErrUnsupportedObjectType {
		t.Fatalf("err = %v, want ErrUnsupportedObjectType", err)
	}
}

func TestSampleRateIndex(t *testing.T) {
	idx, ok := SampleRateIndex(44100)
	if !ok || idx != 4 {
		t.Fatalf("SampleRateIndex(44100) = %d,%v want 4,true", idx, ok)
	}
	if _, ok := SampleRateIndex(12345); ok {
		t.Fatalf("SampleRateIndex(12345) unexpectedly found")
	}
}
