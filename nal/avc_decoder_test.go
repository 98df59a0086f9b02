package nal

import "testing"

func testDecoder(t *testing.T, pocType uint32) *Decoder {
	t.Helper()
	d := NewDecoder()
	sps := &SPS{
		ID:                          0,
		Log2MaxFrameNumMinus4:       0, // MaxFrameNum 16
		PicOrderCntType:             pocType,
		Log2MaxPicOrderCntLsbMinus4: 2, // MaxPicOrderCntLsb 64
		FrameMbsOnlyFlag:            true,
	}
	if err := d.AddSPS(sps); err != nil {
		t.Fatal(err)
	}
	if err := d.AddPPS(&PPS{ID: 0, SPSID: 0}); err != nil {
		t.Fatal(err)
	}
	return d
}

func slice(frameNum, pocLsb uint32, idr bool, refIdc uint8) *SliceHeader {
	sh := &SliceHeader{FrameNum: frameNum, PicOrderCntLsb: pocLsb, IsIdr: idr, NalRefIdc: refIdc}
	if idr {
		sh.NalUnitType = NalUnitTypeSliceIdr
	} else {
		sh.NalUnitType = NalUnitTypeSliceNonIdr
	}
	return sh
}

// pump runs both passes for one slice and returns the derived POC.
func pump(t *testing.T, d *Decoder, sh *SliceHeader) int64 {
	t.Helper()
	first := d.ParseNAL1(sh.NalUnitType, sh.NalRefIdc, sh)
	res, err := d.ParseNAL2(sh, first)
	if err != nil {
		t.Fatal(err)
	}
	return res.Poc
}

func TestPocMode0Gop(t *testing.T) {
	d := testDecoder(t, 0)
	// IDR, then reordered references and B pictures: display order is
	// twice the coding structure I P B B (poc_lsb 0,6,2,4).
	cases := []struct {
		sh   *SliceHeader
		want int64
	}{
		{slice(0, 0, true, 3), 0},
		{slice(1, 6, false, 3), 6},
		{slice(2, 2, false, 0), 2},
		{slice(2, 4, false, 0), 4},
	}
	for i, c := range cases {
		if got := pump(t, d, c.sh); got != c.want {
			t.Fatalf("slice %d: poc = %d, want %d", i, got, c.want)
		}
	}
}

func TestPocMode0LsbWrap(t *testing.T) {
	d := testDecoder(t, 0)
	pump(t, d, slice(0, 0, true, 3))
	// lsb 60 right after 0 is a rise of > MaxPocLsb/2, so the msb steps back
	// by 64 (poc -4); lsb 2 after 60 is a drop of > MaxPocLsb/2, so the msb
	// advances by 64 again (poc 2).
	if got := pump(t, d, slice(1, 60, false, 3)); got != -4 {
		t.Fatalf("pre-wrap poc = %d, want -4", got)
	}
	if got := pump(t, d, slice(2, 2, false, 3)); got != 2 {
		t.Fatalf("post-wrap poc = %d, want 2", got)
	}
}

func TestPocMode0IdrReset(t *testing.T) {
	d := testDecoder(t, 0)
	pump(t, d, slice(0, 0, true, 3))
	pump(t, d, slice(1, 8, false, 3))
	if got := pump(t, d, slice(0, 0, true, 3)); got != 0 {
		t.Fatalf("poc after IDR = %d, want reset to 0", got)
	}
}

func TestPocMode2(t *testing.T) {
	d := testDecoder(t, 2)
	cases := []struct {
		sh   *SliceHeader
		want int64
	}{
		{slice(0, 0, true, 3), 0},
		{slice(1, 0, false, 3), 2},
		{slice(2, 0, false, 0), 3}, // non-reference: 2*frame_num - 1
		{slice(3, 0, false, 3), 6},
	}
	for i, c := range cases {
		if got := pump(t, d, c.sh); got != c.want {
			t.Fatalf("slice %d: poc = %d, want %d", i, got, c.want)
		}
	}
}

func TestPocMode2FrameNumWrap(t *testing.T) {
	d := testDecoder(t, 2)
	pump(t, d, slice(0, 0, true, 3))
	for fn := uint32(1); fn < 16; fn++ {
		pump(t, d, slice(fn, 0, false, 3))
	}
	// frame_num wraps 15 -> 0: offset grows by MaxFrameNum (16).
	if got := pump(t, d, slice(0, 0, false, 3)); got != 32 {
		t.Fatalf("post-wrap poc = %d, want 32", got)
	}
}

func TestAuBoundaryFrameNumChange(t *testing.T) {
	d := testDecoder(t, 0)
	s1 := slice(0, 0, true, 3)
	if !d.ParseNAL1(s1.NalUnitType, s1.NalRefIdc, s1) {
		t.Fatal("first slice did not start an AU")
	}
	if _, err := d.ParseNAL2(s1, true); err != nil {
		t.Fatal(err)
	}

	// Same frame_num and POC fields: a continuation slice, not a new AU.
	s2 := slice(0, 0, true, 3)
	s2.FirstMbInSlice = 22
	if d.ParseNAL1(s2.NalUnitType, s2.NalRefIdc, s2) {
		t.Fatal("continuation slice started a new AU")
	}

	// frame_num transition marks the next picture.
	s3 := slice(1, 4, false, 3)
	if !d.ParseNAL1(s3.NalUnitType, s3.NalRefIdc, s3) {
		t.Fatal("frame_num change did not start a new AU")
	}
}

func TestAuBoundaryNonVcl(t *testing.T) {
	d := testDecoder(t, 0)
	s1 := slice(0, 0, true, 3)
	d.ParseNAL1(s1.NalUnitType, s1.NalRefIdc, s1)
	if _, err := d.ParseNAL2(s1, true); err != nil {
		t.Fatal(err)
	}

	// SEI after a VCL NAL opens the next AU.
	if !d.ParseNAL1(NalUnitTypeSei, 0, nil) {
		t.Fatal("SEI after VCL did not start an AU")
	}
	d.NonVclCommit(NalUnitTypeSei)

	// A second non-VCL NAL in a row does not.
	if d.ParseNAL1(NalUnitTypeSps, 1, nil) {
		t.Fatal("second non-VCL NAL started an AU")
	}
	d.NonVclCommit(NalUnitTypeSps)

	// AUD after non-VCL does not re-split.
	if d.ParseNAL1(NalUnitTypeAud, 0, nil) {
		t.Fatal("AUD after non-VCL started an AU")
	}
}

func TestPocDeterminism(t *testing.T) {
	run := func() []int64 {
		d := testDecoder(t, 0)
		var pocs []int64
		seq := []*SliceHeader{
			slice(0, 0, true, 3),
			slice(1, 6, false, 3),
			slice(2, 2, false, 0),
			slice(2, 4, false, 0),
			slice(3, 12, false, 3),
		}
		for _, sh := range seq {
			pocs = append(pocs, pump(t, d, sh))
		}
		return pocs
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("poc sequence differs across runs at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestLookupFallsBackToIdZero(t *testing.T) {
	d := testDecoder(t, 0)
	if _, err := d.lookupPPS(7); err != nil {
		t.Fatalf("lookupPPS(7) = %v, want fallback to id 0", err)
	}
	empty := NewDecoder()
	if _, err := empty.lookupPPS(7); err != ErrNoConfig {
		t.Fatalf("lookupPPS on empty decoder = %v, want ErrNoConfig", err)
	}
}
