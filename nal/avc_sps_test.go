package nal

import (
	"testing"

	"github.com/gomuxer/isomux/bitio"
)

// buildBaselineSPS writes a minimal Baseline-profile SPS RBSP (no scaling
// lists, pic_order_cnt_type 0, frame_mbs_only, no cropping, no VUI) encoding
// a 320x240 picture.
func buildBaselineSPS() []byte {
	w := bitio.NewWriter(16)
	w.WriteU8(66) // profile_idc: Baseline
	w.WriteBits(8, 0)
	w.WriteU8(30) // level_idc 3.0
	w.WriteUE(0)  // sps_id
	w.WriteUE(0)  // log2_max_frame_num_minus4
	w.WriteUE(0)  // pic_order_cnt_type
	w.WriteUE(2)  // log2_max_pic_order_cnt_lsb_minus4
	w.WriteUE(1)  // max_num_ref_frames
	w.WriteFlag(false) // gaps_in_frame_num_value_allowed_flag
	w.WriteUE(19)       // pic_width_in_mbs_minus1 (20 mbs -> 320px)
	w.WriteUE(14)       // pic_height_in_map_units_minus1 (15 mbs -> 240px)
	w.WriteFlag(true)   // frame_mbs_only_flag
	w.WriteFlag(true)   // direct_8x8_inference_flag
	w.WriteFlag(false)  // frame_cropping_flag
	w.WriteFlag(false)  // vui_parameters_present_flag
	w.FlushBits()
	return w.Bytes()
}

func TestParseSPSBaseline(t *testing.T) {
	sps, err := ParseSPS(buildBaselineSPS())
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if sps.ProfileIdc != 66 {
		t.Fatalf("ProfileIdc = %d, want 66", sps.ProfileIdc)
	}
	if sps.LevelIdc != 30 {
		t.Fatalf("LevelIdc = %d, want 30", sps.LevelIdc)
	}
	if sps.PicOrderCntType != 0 {
		t.Fatalf("PicOrderCntType = %d, want 0", sps.PicOrderCntType)
	}
	if sps.PicWidthOut != 320 || sps.PicHeightOut != 240 {
		t.Fatalf("dimensions = %dx%d, want 320x240", sps.PicWidthOut, sps.PicHeightOut)
	}
	if sps.ChromaFormatIdc != 1 {
		t.Fatalf("ChromaFormatIdc = %d, want 1 (default for non-high profiles)", sps.ChromaFormatIdc)
	}
}

func TestParseSPSRejectsOutOfRangeID(t *testing.T) {
	w := bitio.NewWriter(8)
	w.WriteU8(66)
	w.WriteBits(8, 0)
	w.WriteU8(30)
	w.WriteUE(32) // sps_id out of [0,31] range
	w.FlushBits()

	if _, err := ParseSPS(w.Bytes()); err == nil {
		t.Fatalf("ParseSPS with sps_id=32: want error, got nil")
	}
}

func TestBuildAvcCBaselineNoExt(t *testing.T) {
	sps := &SPS{ProfileIdc: 66, ConstraintFlags: 0xc0, LevelIdc: 30}
	spsList := [][]byte{{0x67, 0x42, 0xc0, 0x1e}}
	ppsList := [][]byte{{0x68, 0xce, 0x3c, 0x80}}

	buf := BuildAvcC(sps, spsList, ppsList)
	if buf[0] != 1 {
		t.Fatalf("configurationVersion = %d, want 1", buf[0])
	}
	if buf[1] != 66 || buf[3] != 30 {
		t.Fatalf("profile/level = %d/%d, want 66/30", buf[1], buf[3])
	}
	if buf[4] != 0xff {
		t.Fatalf("lengthSizeMinusOne byte = %#x, want 0xff (reserved|3)", buf[4])
	}
	if buf[5] != 0xe1 {
		t.Fatalf("numOfSequenceParameterSets byte = %#x, want 0xe1 (reserved|1)", buf[5])
	}
	// High-profile extension fields must be absent for Baseline.
	wantLen := 5 + 1 + (2 + len(spsList[0])) + 1 + (2 + len(ppsList[0]))
	if len(buf) != wantLen {
		t.Fatalf("len(buf) = %d, want %d", len(buf), wantLen)
	}
}

func TestBuildAvcCHighProfileAddsExt(t *testing.T) {
	sps := &SPS{ProfileIdc: 100, LevelIdc: 31, ChromaFormatIdc: 1, BitDepthLumaMinus8: 0, BitDepthChromaMinus8: 0}
	spsList := [][]byte{{0x67}}
	ppsList := [][]byte{{0x68}}

	buf := BuildAvcC(sps, spsList, ppsList)
	wantLen := 5 + 1 + (2 + 1) + 1 + (2 + 1) + 4
	if len(buf) != wantLen {
		t.Fatalf("len(buf) = %d, want %d (expected high-profile ext tail)", len(buf), wantLen)
	}
}
