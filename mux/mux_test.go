package mux_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	mp4 "github.com/gomuxer/isomux"
	"github.com/gomuxer/isomux/aac"
	"github.com/gomuxer/isomux/cenc"
	"github.com/gomuxer/isomux/fragment"
	"github.com/gomuxer/isomux/mux"
	"github.com/gomuxer/isomux/track"
)

// decodeAll splits a serialized file into its top-level boxes.
func decodeAll(t *testing.T, buf []byte) []*mp4.Box {
	t.Helper()
	var boxes []*mp4.Box
	off := 0
	for off < len(buf) {
		box, err := mp4.Decode(buf, off, len(buf))
		if err != nil {
			t.Fatalf("decode at %d: %v", off, err)
		}
		boxes = append(boxes, box)
		off += int(box.Size)
	}
	return boxes
}

func child(t *testing.T, box *mp4.Box, types ...mp4.BoxType) *mp4.Box {
	t.Helper()
	cur := box
	for _, typ := range types {
		var next *mp4.Box
		for _, c := range cur.Children {
			if c.Type == typ {
				next = c
				break
			}
		}
		if next == nil {
			t.Fatalf("box %s has no %s child", cur.Type, typ)
		}
		cur = next
	}
	return cur
}

func topLevel(t *testing.T, boxes []*mp4.Box, typ mp4.BoxType) *mp4.Box {
	t.Helper()
	for _, b := range boxes {
		if b.Type == typ {
			return b
		}
	}
	t.Fatalf("no top-level %s box", typ)
	return nil
}

func stereoASC48k() *aac.AudioSpecificConfig {
	return &aac.AudioSpecificConfig{
		ObjectType:             2,
		SamplingFrequencyIndex: 3,
		SamplingFrequency:      48000,
		ChannelConfiguration:   2,
	}
}

// buildAACSource lays n constant-size frames into one buffer, returning the
// buffer and a muxer with the samples already accepted.
func buildAACMuxer(t *testing.T, n int, frameSize uint32, frag *mux.FragOptions) (*mux.Muxer, []byte) {
	t.Helper()
	src := make([]byte, n*int(frameSize))
	for i := range src {
		src[i] = byte(i * 31)
	}
	m := mux.NewMuxer([4]byte{'i', 's', 'o', 'm'}, [][4]byte{{'i', 's', 'o', 'm'}, {'m', 'p', '4', '1'}}, 48000)
	m.Frag = frag
	_, err := m.AddTrack(mux.TrackConfig{
		ID:             1,
		Kind:           mux.MediaAudio,
		Language:       "und",
		MediaTimescale: 48000,
		Entries:        []mux.SampleEntryBuilder{&mux.AACEntry{ASC: stereoASC48k()}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		s := track.Sample{
			DTS:      uint64(i) * 1024,
			CTS:      uint64(i) * 1024,
			Duration: 1024,
			Size:     frameSize,
			Pos:      int64(i) * int64(frameSize),
		}
		if err := m.Accept(1, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Finalize(); err != nil {
		t.Fatal(err)
	}
	return m, src
}

func TestClassicalSingleTrackAAC(t *testing.T) {
	const frames = 100
	const frameSize = 256
	m, src := buildAACMuxer(t, frames, frameSize, nil)

	var out bytes.Buffer
	if err := m.WriteClassical(&out, map[uint32]io.ReaderAt{1: bytes.NewReader(src)}); err != nil {
		t.Fatal(err)
	}

	boxes := decodeAll(t, out.Bytes())
	if boxes[0].Type != mp4.TypeFtyp {
		t.Fatalf("first box = %s, want ftyp", boxes[0].Type)
	}
	moov := topLevel(t, boxes, mp4.TypeMoov)
	mdat := topLevel(t, boxes, mp4.TypeMdat)

	mvhd := child(t, moov, mp4.TypeMvhd)
	if mvhd.Mvhd.TimeScale != 48000 {
		t.Fatalf("mvhd timescale = %d, want 48000", mvhd.Mvhd.TimeScale)
	}
	if mvhd.Mvhd.Duration != frames*1024 {
		t.Fatalf("mvhd duration = %d, want %d", mvhd.Mvhd.Duration, frames*1024)
	}

	mdia := child(t, moov, mp4.TypeTrak, mp4.TypeMdia)
	if mdhd := child(t, mdia, mp4.TypeMdhd); mdhd.Mdhd.TimeScale != 48000 {
		t.Fatalf("mdhd timescale = %d, want 48000", mdhd.Mdhd.TimeScale)
	}
	stbl := child(t, mdia, mp4.TypeMinf, mp4.TypeStbl)

	stsd := child(t, stbl, mp4.TypeStsd)
	if len(stsd.Stsd.Entries) != 1 {
		t.Fatalf("stsd = %d entries, want 1", len(stsd.Stsd.Entries))
	}
	if stsd.Stsd.Entries[0].Type != mp4.TypeMp4a {
		t.Fatalf("stsd entry = %s, want mp4a", stsd.Stsd.Entries[0].Type)
	}

	stts := child(t, stbl, mp4.TypeStts)
	if len(stts.Stts.Entries) != 1 || stts.Stts.Entries[0].Count != frames || stts.Stts.Entries[0].Duration != 1024 {
		t.Fatalf("stts = %+v, want single (100,1024) row", stts.Stts.Entries)
	}

	stsz := child(t, stbl, mp4.TypeStsz)
	if stsz.Stsz.SampleSize != frameSize || len(stsz.Stsz.Entries) != 0 {
		t.Fatalf("stsz = fixed %d/%d entries, want fixed-size form", stsz.Stsz.SampleSize, len(stsz.Stsz.Entries))
	}

	for _, c := range stbl.Children {
		if c.Type == mp4.TypeCtts {
			t.Fatal("ctts present for zero-offset track")
		}
		if c.Type == mp4.TypeStss {
			t.Fatal("stss present for all-sync track")
		}
	}

	if len(mdat.Mdat.Buffer) != frames*frameSize {
		t.Fatalf("mdat payload = %d bytes, want %d", len(mdat.Mdat.Buffer), frames*frameSize)
	}
	if !bytes.Equal(mdat.Mdat.Buffer, src) {
		t.Fatal("mdat payload differs from source")
	}

	// Offset coverage: every stco chunk offset points inside the mdat body.
	stco := child(t, stbl, mp4.TypeStco)
	var mdatStart int
	for _, b := range boxes {
		if b.Type == mp4.TypeMdat {
			break
		}
		mdatStart += int(b.Size)
	}
	bodyStart := uint32(mdatStart + 8)
	bodyEnd := bodyStart + uint32(frames*frameSize)
	if len(stco.Stco.Entries) == 0 {
		t.Fatal("stco empty")
	}
	if stco.Stco.Entries[0] != bodyStart {
		t.Fatalf("first chunk offset = %d, want mdat body start %d", stco.Stco.Entries[0], bodyStart)
	}
	for i, o := range stco.Stco.Entries {
		if o < bodyStart || o >= bodyEnd {
			t.Fatalf("chunk %d offset %d outside mdat body [%d,%d)", i, o, bodyStart, bodyEnd)
		}
		if i > 0 && o <= stco.Stco.Entries[i-1] {
			t.Fatalf("chunk offsets not increasing at %d", i)
		}
	}
}

func TestClassical64BitUpgrade(t *testing.T) {
	m := mux.NewMuxer([4]byte{'i', 's', 'o', 'm'}, nil, 90000)
	_, err := m.AddTrack(mux.TrackConfig{
		ID:             1,
		Kind:           mux.MediaAudio,
		MediaTimescale: 90000,
		Entries:        []mux.SampleEntryBuilder{&mux.AACEntry{ASC: stereoASC48k()}},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Three samples totalling 3*2^31 ticks: duration 2^32+2^31 > 2^32-1.
	const half = uint64(1) << 31
	for i := uint64(0); i < 3; i++ {
		s := track.Sample{DTS: i * half, CTS: i * half, Duration: uint32(half), Size: 8, Pos: int64(i) * 8}
		if err := m.Accept(1, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Finalize(); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	src := make([]byte, 24)
	if err := m.WriteClassical(&out, map[uint32]io.ReaderAt{1: bytes.NewReader(src)}); err != nil {
		t.Fatal(err)
	}
	boxes := decodeAll(t, out.Bytes())
	moov := topLevel(t, boxes, mp4.TypeMoov)
	if mvhd := child(t, moov, mp4.TypeMvhd); mvhd.Version != 1 {
		t.Fatalf("mvhd version = %d, want 1", mvhd.Version)
	}
	if tkhd := child(t, moov, mp4.TypeTrak, mp4.TypeTkhd); tkhd.Version != 1 {
		t.Fatalf("tkhd version = %d, want 1", tkhd.Version)
	}
	if mdhd := child(t, moov, mp4.TypeTrak, mp4.TypeMdia, mp4.TypeMdhd); mdhd.Version != 1 {
		t.Fatalf("mdhd version = %d, want 1", mdhd.Version)
	}
}

func TestFragmentedSingleTrack(t *testing.T) {
	const frames = 10
	const frameSize = 100
	frag := &mux.FragOptions{
		Options:     fragment.Options{MaxDuration: 4 * 1024},
		FragOptions: fragment.FragOptions{DefaultBaseIsMoof: true},
		WriteSidx:   true,
		WriteMfra:   true,
	}
	m, src := buildAACMuxer(t, frames, frameSize, frag)

	var out bytes.Buffer
	if err := m.WriteFragmented(&out, map[uint32]io.ReaderAt{1: bytes.NewReader(src)}); err != nil {
		t.Fatal(err)
	}
	buf := out.Bytes()
	boxes := decodeAll(t, buf)

	if boxes[0].Type != mp4.TypeFtyp || boxes[1].Type != mp4.TypeMoov {
		t.Fatalf("layout opens %s %s, want ftyp moov", boxes[0].Type, boxes[1].Type)
	}
	moov := boxes[1]
	child(t, moov, mp4.TypeMvex, mp4.TypeTrex)

	sidx := topLevel(t, boxes, mp4.TypeSidx)
	if boxes[2] != sidx {
		t.Fatal("sidx not immediately after moov")
	}
	if sidx.Sidx.FirstOffset != 0 {
		t.Fatalf("sidx first_offset = %d, want 0 (first moof right after sidx)", sidx.Sidx.FirstOffset)
	}

	var moofs []*mp4.Box
	var moofSizes []uint64
	var sampleTotal int
	var payload []byte
	var seq []uint32
	for i := 0; i < len(boxes); i++ {
		if boxes[i].Type != mp4.TypeMoof {
			continue
		}
		moof := boxes[i]
		mdat := boxes[i+1]
		if mdat.Type != mp4.TypeMdat {
			t.Fatalf("moof not followed by mdat but %s", mdat.Type)
		}
		moofs = append(moofs, moof)
		moofSizes = append(moofSizes, moof.Size+mdat.Size)
		seq = append(seq, child(t, moof, mp4.TypeMfhd).Mfhd.SequenceNumber)

		traf := child(t, moof, mp4.TypeTraf)
		tfhd := child(t, traf, mp4.TypeTfhd)
		if tfhd.Flags&mp4.TfhdDefaultBaseIsMoof == 0 {
			t.Fatal("tfhd missing DEFAULT_BASE_IS_MOOF")
		}
		trun := child(t, traf, mp4.TypeTrun)
		sampleTotal += len(trun.Trun.Entries)
		var runBytes uint64
		for _, e := range trun.Trun.Entries {
			runBytes += uint64(e.SampleSize)
		}
		if runBytes != uint64(len(mdat.Mdat.Buffer)) {
			t.Fatalf("trun sizes sum %d != mdat payload %d", runBytes, len(mdat.Mdat.Buffer))
		}
		payload = append(payload, mdat.Mdat.Buffer...)
	}
	if len(moofs) != len(sidx.Sidx.References) {
		t.Fatalf("moof count %d != sidx reference count %d", len(moofs), len(sidx.Sidx.References))
	}
	for i, ref := range sidx.Sidx.References {
		if uint64(ref.ReferencedSize) != moofSizes[i] {
			t.Fatalf("sidx reference %d size %d != moof+mdat %d", i, ref.ReferencedSize, moofSizes[i])
		}
		if ref.StartsWithSAP != 1 || ref.SAPType != 1 {
			t.Fatalf("sidx reference %d SAP = %d/%d", i, ref.StartsWithSAP, ref.SAPType)
		}
	}
	var durSum uint64
	for _, ref := range sidx.Sidx.References {
		durSum += uint64(ref.SubsegmentDuration)
	}
	if durSum != frames*1024 {
		t.Fatalf("sidx durations sum to %d, want %d", durSum, frames*1024)
	}
	for i, s := range seq {
		if s != uint32(i+1) {
			t.Fatalf("moof sequence numbers = %v, want 1..n", seq)
		}
	}
	if sampleTotal != frames {
		t.Fatalf("trun sample counts sum to %d, want %d", sampleTotal, frames)
	}
	if !bytes.Equal(payload, src) {
		t.Fatal("fragment payloads differ from source")
	}

	last := boxes[len(boxes)-1]
	if last.Type != mp4.TypeMfra {
		t.Fatalf("last box = %s, want mfra", last.Type)
	}
	mfro := last.Children[len(last.Children)-1]
	if uint64(mfro.Mfro.Size) != last.Size {
		t.Fatalf("mfro size = %d, want %d", mfro.Mfro.Size, last.Size)
	}
}

func TestFragmentedEncryptedTrack(t *testing.T) {
	const frames = 10
	const frameSize = 128
	key := bytes.Repeat([]byte{0x5a}, 16)
	iv := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	enc, err := cenc.NewCTREncryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	opt, err := cenc.NewEncOptions(cenc.StyleCENC, [4]byte{'m', 'p', '4', 'a'}, 8)
	if err != nil {
		t.Fatal(err)
	}

	src := make([]byte, frames*frameSize)
	for i := range src {
		src[i] = byte(i)
	}
	m := mux.NewMuxer([4]byte{'i', 's', 'o', 'm'}, nil, 48000)
	m.Frag = &mux.FragOptions{
		Options:     fragment.Options{MaxDuration: 64 * 1024},
		FragOptions: fragment.FragOptions{DefaultBaseIsMoof: true},
	}
	_, err = m.AddTrack(mux.TrackConfig{
		ID:             1,
		Kind:           mux.MediaAudio,
		MediaTimescale: 48000,
		Entries:        []mux.SampleEntryBuilder{&mux.AACEntry{ASC: stereoASC48k()}},
		Enc:            &opt,
		Encryptor:      enc,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < frames; i++ {
		s := track.Sample{DTS: uint64(i) * 1024, CTS: uint64(i) * 1024, Duration: 1024, Size: frameSize, Pos: int64(i) * frameSize}
		if err := m.Accept(1, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Finalize(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := m.WriteFragmented(&out, map[uint32]io.ReaderAt{1: bytes.NewReader(src)}); err != nil {
		t.Fatal(err)
	}
	boxes := decodeAll(t, out.Bytes())

	// The stsd entry is wrapped in enca with a sinf/schi/tenc chain.
	moov := topLevel(t, boxes, mp4.TypeMoov)
	stsd := child(t, moov, mp4.TypeTrak, mp4.TypeMdia, mp4.TypeMinf, mp4.TypeStbl, mp4.TypeStsd)
	entry := stsd.Stsd.Entries[0]
	if entry.Type != mp4.TypeEnca {
		t.Fatalf("sample entry = %s, want enca", entry.Type)
	}
	var sinf *mp4.Box
	for _, c := range entry.Audio.Children {
		if c.Type == mp4.TypeSinf {
			sinf = c
		}
	}
	if sinf == nil {
		t.Fatal("enca entry missing sinf")
	}
	tenc := child(t, sinf, mp4.TypeSchi, mp4.TypeTenc)
	if tenc.Tenc.DefaultPerSampleIVSize != 8 || tenc.Tenc.DefaultKID != opt.KeyID {
		t.Fatalf("tenc = %+v", tenc.Tenc)
	}

	moof := topLevel(t, boxes, mp4.TypeMoof)
	traf := child(t, moof, mp4.TypeTraf)
	saiz := child(t, traf, mp4.TypeSaiz)
	if saiz.Saiz.DefaultSampleInfoSize != 8 {
		t.Fatalf("saiz default size = %d, want IV size 8", saiz.Saiz.DefaultSampleInfoSize)
	}
	saio := child(t, traf, mp4.TypeSaio)
	sencBox := child(t, traf, mp4.TypeSenc)
	senc, err := mp4.ParseSenc(sencBox.Raw, sencBox.Flags, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(senc.Entries) != frames {
		t.Fatalf("senc entries = %d, want %d", len(senc.Entries), frames)
	}
	if !bytes.Equal(senc.Entries[0].IV, iv) {
		t.Fatalf("first IV = %x, want %x", senc.Entries[0].IV, iv)
	}
	if bytes.Equal(senc.Entries[1].IV, iv) {
		t.Fatal("IV did not advance between samples")
	}

	// The saio offset is moof-relative and must land on the first IV.
	var moofStart int
	for _, b := range boxes {
		if b.Type == mp4.TypeMoof {
			break
		}
		moofStart += int(b.Size)
	}
	fileOff := moofStart + int(saio.Saio.Offsets[0])
	if !bytes.Equal(out.Bytes()[fileOff:fileOff+8], iv) {
		t.Fatalf("saio does not point at the first IV: %x", out.Bytes()[fileOff:fileOff+8])
	}

	// Whole-sample encryption: mdat differs from source, and decrypting with
	// the same key/IV sequence restores it.
	mdat := topLevel(t, boxes, mp4.TypeMdat)
	if bytes.Equal(mdat.Mdat.Buffer, src) {
		t.Fatal("mdat not encrypted")
	}
	dec, err := cenc.NewCTREncryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	restored := append([]byte(nil), mdat.Mdat.Buffer...)
	for i := 0; i < frames; i++ {
		if err := dec.Encrypt(restored[i*frameSize:(i+1)*frameSize], nil); err != nil {
			t.Fatal(err)
		}
		dec.AdvanceIV()
	}
	if !bytes.Equal(restored, src) {
		t.Fatal("decryption did not restore source payload")
	}
}

func TestMuxerParamErrors(t *testing.T) {
	m := mux.NewMuxer([4]byte{'i', 's', 'o', 'm'}, nil, 1000)
	if _, err := m.AddTrack(mux.TrackConfig{ID: 0}); err == nil {
		t.Fatal("AddTrack accepted track ID 0")
	}
	if err := m.Accept(9, track.Sample{}); err == nil {
		t.Fatal("Accept succeeded for unknown track")
	}
	if err := m.Finalize(); err == nil {
		t.Fatal("Finalize succeeded with no tracks")
	}

	if _, err := m.AddTrack(mux.TrackConfig{
		ID:             1,
		Kind:           mux.MediaAudio,
		MediaTimescale: 1000,
		Entries:        []mux.SampleEntryBuilder{&mux.AACEntry{ASC: stereoASC48k()}},
	}); err != nil {
		t.Fatal(err)
	}
	err := m.Finalize()
	if err == nil {
		t.Fatal("Finalize succeeded with an empty track")
	}
	var muxErr *mp4.MuxError
	if !errors.As(err, &muxErr) || muxErr.Kind != mp4.KindEmptyEs {
		t.Fatalf("got %v, want KindEmptyEs", err)
	}
}
