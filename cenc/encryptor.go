package cenc

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	mp4 "github.com/gomuxer/isomux"
)

// SubsampleInfo describes which byte ranges of one sample are encrypted:
// ClearBytes[i] plaintext bytes followed by EncBytes[i] protected bytes,
// repeated. Empty slices mean the whole sample is encrypted.
type SubsampleInfo struct {
	ClearBytes []uint16
	EncBytes   []uint32
}

// BlockEncryptor is the encryption primitive the mdat writer drives (spec
// §1: external collaborator). Encrypt processes one sample in place using
// the current IV; AdvanceIV steps to the next sample's IV.
type BlockEncryptor interface {
	Encrypt(buf []byte, info *SubsampleInfo) error
	CurrentIV() []byte
	AdvanceIV()
}

// ErrBadKey reports a key whose length AES does not accept.
var ErrBadKey = errors.New("cenc: key must be 16, 24 or 32 bytes")

// CTREncryptor is the stock AES-CTR BlockEncryptor for the cenc scheme: one
// keystream per sample, seeded from the per-sample IV and running
// continuously across that sample's encrypted subsample ranges (ISO/IEC
// 23001-7 §9.4). The IV advances by one per sample.
type CTREncryptor struct {
	block  cipher.Block
	iv     []byte // 8 or 16 bytes
	ivSize int
}

// NewCTREncryptor builds a CTREncryptor from an AES key and an initial IV of
// 8 or 16 bytes.
func NewCTREncryptor(key, initialIV []byte) (*CTREncryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrBadKey
	}
	if len(initialIV) != 8 && len(initialIV) != 16 {
		return nil, errors.New("cenc: IV must be 8 or 16 bytes")
	}
	return &CTREncryptor{block: block, iv: append([]byte(nil), initialIV...), ivSize: len(initialIV)}, nil
}

// CurrentIV returns a copy of the IV the next Encrypt call will use.
func (e *CTREncryptor) CurrentIV() []byte { return append([]byte(nil), e.iv...) }

// AdvanceIV increments the IV for the next sample.
func (e *CTREncryptor) AdvanceIV() {
	for i := len(e.iv) - 1; i >= 0; i-- {
		e.iv[i]++
		if e.iv[i] != 0 {
			return
		}
	}
}

// Encrypt applies AES-CTR to buf in place. With subsample info, clear ranges
// are skipped while the keystream keeps running over the encrypted ranges;
// without it the whole buffer is encrypted.
func (e *CTREncryptor) Encrypt(buf []byte, info *SubsampleInfo) error {
	counter := make([]byte, 16)
	copy(counter, e.iv) // 8-byte IVs leave the block counter half zeroed
	stream := cipher.NewCTR(e.block, counter)

	if info == nil || len(info.EncBytes) == 0 {
		stream.XORKeyStream(buf, buf)
		return nil
	}
	pos := 0
	for i := range info.EncBytes {
		pos += int(info.ClearBytes[i])
		end := pos + int(info.EncBytes[i])
		if end > len(buf) {
			return errors.New("cenc: subsample ranges exceed sample size")
		}
		stream.XORKeyStream(buf[pos:end], buf[pos:end])
		pos = end
	}
	return nil
}

// nalClearThreshold and nalClearBase drive SplitNal: NAL units shorter than
// the threshold stay fully clear; longer ones keep the header plus enough
// bytes to land the encrypted region on a 16-byte boundary (CFF §2.2.5).
const (
	nalClearThreshold = 112
	nalClearBase      = 96
)

// SplitNal returns the clear/encrypted byte split for one NAL-sized
// subsample of a protected video sample.
func SplitNal(size uint32) (clear uint16, enc uint32) {
	if size < nalClearThreshold {
		return uint16(size), 0
	}
	c := nalClearBase + size&0xf
	return uint16(c), size - c
}

// BuildSampleInfo derives the per-NAL SubsampleInfo for a video sample whose
// subsample sizes are known; nil subsizes means a non-subsampled (audio)
// sample, reported as nil so the whole sample is encrypted.
func BuildSampleInfo(subsizes []uint32) *SubsampleInfo {
	if len(subsizes) == 0 {
		return nil
	}
	info := &SubsampleInfo{
		ClearBytes: make([]uint16, len(subsizes)),
		EncBytes:   make([]uint32, len(subsizes)),
	}
	for i, sz := range subsizes {
		info.ClearBytes[i], info.EncBytes[i] = SplitNal(sz)
	}
	return info
}

// SencEntryFor packs one sample's IV and subsample split into the senc
// record the fragment writer appends.
func SencEntryFor(iv []byte, info *SubsampleInfo) mp4.SencEntry {
	e := mp4.SencEntry{IV: append([]byte(nil), iv...)}
	if info != nil {
		e.ClearBytes = append([]uint16(nil), info.ClearBytes...)
		e.EncBytes = append([]uint32(nil), info.EncBytes...)
	}
	return e
}
