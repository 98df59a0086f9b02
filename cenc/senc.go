package cenc

import mp4 "github.com/gomuxer/isomux"

// FragmentAuxInfo bundles one fragment's per-sample encryption records for
// a protected track (spec §4.9: traf gains saiz/saio/senc, or a single
// PIFF uuid box, depending on EncOptions.Style).
type FragmentAuxInfo struct {
	IVSize  uint8
	Entries []mp4.SencEntry
}

// BuildAuxBoxes returns the boxes BuildMoof's caller should append to a
// protected track's traf: for CENC, senc plus saiz/saio describing where
// senc's per-sample data lives relative to the traf; for PIFF, the single
// self-contained uuid sample-encryption box.
func BuildAuxBoxes(opt EncOptions, aux FragmentAuxInfo) []*mp4.Box {
	if opt.Style == StylePIFF {
		return []*mp4.Box{BuildPiffSenc(aux.IVSize, aux.Entries)}
	}

	senc := &mp4.Box{Type: mp4.TypeSenc, Senc: &mp4.Senc{IVSize: int(aux.IVSize), Entries: aux.Entries}}

	hasSubsamples := false
	for _, e := range aux.Entries {
		if len(e.ClearBytes) > 0 {
			hasSubsamples = true
			break
		}
	}
	if hasSubsamples {
		senc.Flags = 0x2
	}

	saiz := &mp4.Saiz{DefaultSampleInfoSize: uint8(aux.IVSize)}
	if hasSubsamples {
		sizes := make([]uint8, len(aux.Entries))
		constant := true
		for i, e := range aux.Entries {
			sizes[i] = uint8(int(aux.IVSize) + 2 + 6*len(e.ClearBytes))
			if i > 0 && sizes[i] != sizes[0] {
				constant = false
			}
		}
		if constant && len(sizes) > 0 {
			saiz.DefaultSampleInfoSize = sizes[0]
		} else {
			saiz.DefaultSampleInfoSize = 0
			saiz.SampleInfoSizes = sizes
		}
	}
	saizBox := &mp4.Box{Type: mp4.TypeSaiz, Saiz: saiz}

	// saio's one offset points at the first byte of senc's per-sample data
	// (spec §4.9: senc's full-box header plus sample_count field precede it).
	// It is left 0 here; the muxer fills it in once the traf's final layout
	// inside the moof is known, relative to the moof start under
	// DEFAULT_BASE_IS_MOOF and as an absolute file offset otherwise.
	saioBox := &mp4.Box{Type: mp4.TypeSaio, Saio: &mp4.Saio{Offsets: []uint64{0}}}

	return []*mp4.Box{saizBox, saioBox, senc}
}
