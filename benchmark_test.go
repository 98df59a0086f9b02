package mp4_test

import (
	"testing"

	mp4 "github.com/gomuxer/isomux"
)

// buildBenchMoov constructs a small but representative moov tree (one video
// track with avc1/avcC, stts/stsz/stco/stsc) for the decode/encode
// benchmarks below.
func buildBenchMoov(sampleCount int) *mp4.Box {
	sizes := make([]uint32, sampleCount)
	for i := range sizes {
		sizes[i] = uint32(1000 + i%37)
	}

	stsz := &mp4.Box{Type: mp4.TypeStsz, Stsz: &mp4.Stsz{Entries: sizes}}
	stts := &mp4.Box{Type: mp4.TypeStts, Stts: &mp4.Stts{
		Entries: []mp4.STTSEntry{{Count: uint32(sampleCount), Duration: 1000}},
	}}
	stco := &mp4.Box{Type: mp4.TypeStco, Stco: &mp4.Stco{Entries: []uint32{8, 9000}}}
	stsc := &mp4.Box{Type: mp4.TypeStsc, Stsc: &mp4.Stsc{
		Entries: []mp4.STSCEntry{{FirstChunk: 1, SamplesPerChunk: uint32(sampleCount), SampleDescriptionId: 1}},
	}}
	avcC := &mp4.Box{Type: mp4.TypeAvcC, AvcC: &mp4.AvcC{Buffer: []byte{1, 0x64, 0, 0x1f, 0xff}}}
	avc1 := &mp4.Box{
		Type: mp4.TypeAvc1,
		Visual: &mp4.VisualSampleEntry{
			DataReferenceIndex: 1, Width: 1920, Height: 1080, Depth: 24,
			Children: []*mp4.Box{avcC},
		},
	}
	stsd := &mp4.Box{Type: mp4.TypeStsd, Stsd: &mp4.Stsd{Entries: []*mp4.Box{avc1}}}
	stbl := mp4.NewContainer(mp4.TypeStbl, stsd, stts, stsz, stsc, stco)

	vmhd := &mp4.Box{Type: mp4.TypeVmhd, Vmhd: &mp4.Vmhd{GraphicsMode: 0}}
	dref := &mp4.Box{Type: mp4.TypeDref, Dref: &mp4.DrefBox{Entries: []mp4.DrefEntry{{Type: [4]byte{'u', 'r', 'l', ' '}}}}}
	dinf := mp4.NewContainer(mp4.TypeDinf, dref)
	minf := mp4.NewContainer(mp4.TypeMinf, vmhd, dinf, stbl)

	hdlr := &mp4.Box{Type: mp4.TypeHdlr, Hdlr: &mp4.Hdlr{HandlerType: [4]byte{'v', 'i', 'd', 'e'}, Name: "VideoHandler"}}
	mdhd := &mp4.Box{Type: mp4.TypeMdhd, Mdhd: &mp4.Mdhd{TimeScale: 30000, Duration: uint64(sampleCount) * 1000}}
	mdia := mp4.NewContainer(mp4.TypeMdia, mdhd, hdlr, minf)

	tkhd := &mp4.Box{Type: mp4.TypeTkhd, Tkhd: &mp4.Tkhd{
		TrackId: 1, Duration: uint64(sampleCount) * 1000, TrackWidth: 1920 << 16, TrackHeight: 1080 << 16,
	}}
	trak := mp4.NewContainer(mp4.TypeTrak, tkhd, mdia)

	mvhd := &mp4.Box{Type: mp4.TypeMvhd, Mvhd: &mp4.Mvhd{
		TimeScale: 30000, Duration: uint64(sampleCount) * 1000, NextTrackId: 2,
	}}
	return mp4.NewContainer(mp4.TypeMoov, mvhd, trak)
}

func BenchmarkEncodeMoov(b *testing.B) {
	moov := buildBenchMoov(5000)
	b.SetBytes(int64(mp4.EncodingLength(moov)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := mp4.Encode(moov); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeMoov(b *testing.B) {
	moov := buildBenchMoov(5000)
	buf, err := mp4.Encode(moov)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := mp4.Decode(buf, 0, len(buf)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStszIter(b *testing.B) {
	const count = 20000
	sizes := make([]uint32, count)
	for i := range sizes {
		sizes[i] = uint32(1000 + i%53)
	}
	box := &mp4.Box{Type: mp4.TypeStsz, Stsz: &mp4.Stsz{Entries: sizes}}
	buf := make([]byte, mp4.EncodingLength(box))
	enc, err := mp4.Encode(box)
	if err != nil {
		b.Fatal(err)
	}
	copy(buf, enc)

	// Skip the 12-byte full-box header (size+type+version/flags) to get at
	// the raw body NewStszIter expects.
	body := buf[12:]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it := mp4.NewStszIter(body)
		for {
			if _, ok := it.Next(); !ok {
				break
			}
		}
	}
}
