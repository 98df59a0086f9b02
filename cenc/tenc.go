// Package cenc builds the Common Encryption (ISO/IEC 23001-7) and PIFF
// box structures a protected track needs: sinf/schm/schi/tenc in the
// sample entry, and per-fragment saiz/saio/senc in each traf (spec §4.9
// "Encryption").
package cenc

import (
	"errors"

	"github.com/google/uuid"

	mp4 "github.com/gomuxer/isomux"
)

// Style selects which encryption box layout a track is protected with.
type Style int

const (
	// StyleNone leaves EncOptions unset; NewEncOptions and BuildSinf reject
	// it with ErrStyleRequired rather than silently defaulting, since CENC
	// and PIFF readers are not
	// interchangeable (spec §4.9 Open Question: "no implicit default").
	StyleNone Style = iota
	StyleCENC
	StylePIFF
)

var ErrStyleRequired = errors.New("cenc: EncOptions.Style must be CENC or PIFF")

// EncOptions configures one track's encryption boxes.
type EncOptions struct {
	Style        Style
	SchemeType   [4]byte // e.g. "cenc", "cbcs"; defaults to "cenc" for StyleCENC
	OriginalFormat [4]byte
	KeyID        [16]byte // NewEncOptions fills in a random v4 UUID; BuildSinf writes it as given
	IVSize       uint8    // 8 or 16
	ConstantIV   []byte   // present (non-empty) only when IVSize==0
}

// NewEncOptions returns EncOptions with a random KeyID (spec §4.9: a muxer
// invocation that doesn't pin a KID still needs one to stamp into tenc).
func NewEncOptions(style Style, originalFormat [4]byte, ivSize uint8) (EncOptions, error) {
	if style == StyleNone {
		return EncOptions{}, ErrStyleRequired
	}
	opt := EncOptions{Style: style, OriginalFormat: originalFormat, IVSize: ivSize, SchemeType: [4]byte{'c', 'e', 'n', 'c'}}
	opt.KeyID = [16]byte(uuid.New())
	return opt, nil
}

// BuildSinf assembles the sinf box a protected sample entry wraps its
// original (unprotected) sample-entry type in: frma (original format),
// schm (scheme type/version), schi > tenc (default per-sample encryption
// parameters). PIFF uses the same tenc payload but under a uuid extended
// type instead of "tenc" (spec §4.9 "PIFF compatibility").
func BuildSinf(opt EncOptions) (*mp4.Box, error) {
	if opt.Style == StyleNone {
		return nil, ErrStyleRequired
	}
	frma := mp4.NewRaw(mp4.TypeFrma, opt.OriginalFormat[:])
	schemeType := opt.SchemeType
	if schemeType == ([4]byte{}) {
		schemeType = [4]byte{'c', 'e', 'n', 'c'}
	}
	schm := &mp4.Box{Type: mp4.TypeSchm, Schm: &mp4.Schm{SchemeType: schemeType, SchemeVersion: 0x00010000}}

	tenc := buildTencBox(opt)
	schi := mp4.NewContainer(mp4.TypeSchi, tenc)

	return mp4.NewContainer(mp4.TypeSinf, frma, schm, schi), nil
}

func buildTencBox(opt EncOptions) *mp4.Box {
	t := &mp4.Tenc{
		DefaultIsProtected:     1,
		DefaultPerSampleIVSize: opt.IVSize,
		DefaultKID:             opt.KeyID,
	}
	if opt.IVSize == 0 {
		t.DefaultConstantIV = append([]byte(nil), opt.ConstantIV...)
	}
	if opt.Style == StylePIFF {
		return piffTencBox(t)
	}
	return &mp4.Box{Type: mp4.TypeTenc, Tenc: t}
}
