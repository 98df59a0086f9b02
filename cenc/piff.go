package cenc

import (
	"encoding/binary"

	mp4 "github.com/gomuxer/isomux"
)

var be = binary.BigEndian

// Well-known Protected Interoperable File Format (PIFF 1.1) extended box
// types, used when Style is StylePIFF instead of the plain ISO/IEC
// 23001-7 tenc/senc pair (spec §4.9 "PIFF compatibility").
var (
	piffTrackEncryptionUUID  = [16]byte{0x89, 0x74, 0xdb, 0xce, 0x7b, 0xe7, 0x4c, 0x51, 0x84, 0xf9, 0x71, 0x48, 0xf9, 0x88, 0x25, 0x54}
	piffSampleEncryptionUUID = [16]byte{0xa2, 0x39, 0x4f, 0x52, 0x5a, 0x9b, 0x4f, 0x14, 0xa2, 0x44, 0x6c, 0x42, 0x7c, 0x64, 0x8d, 0xf4}
)

// piffTencBox builds the PIFF Track Encryption Box: a uuid box whose body
// is version(1)+flags(3)+AlgorithmID(3)+IV_size(1)+KID(16), mirroring
// tenc's fields under the PIFF extended type instead of the ISO box type.
func piffTencBox(t *mp4.Tenc) *mp4.Box {
	body := make([]byte, 16+4+3+1+16)
	copy(body, piffTrackEncryptionUUID[:])
	// version/flags left zero; AlgorithmID 1 == AES-CTR
	body[16+4+2] = 1
	body[16+4+3] = t.DefaultPerSampleIVSize
	copy(body[16+4+3+1:], t.DefaultKID[:])
	return mp4.NewRaw(mp4.TypeUUID, body)
}

// BuildPiffSenc builds the PIFF Sample Encryption Box: a uuid box carrying
// the same per-sample IV and clear/encrypted byte-range pairs as a cenc
// senc box, but self-contained (no companion saiz/saio is needed or
// written).
func BuildPiffSenc(ivSize uint8, entries []mp4.SencEntry) *mp4.Box {
	hasSubsamples := false
	for _, e := range entries {
		if len(e.ClearBytes) > 0 {
			hasSubsamples = true
			break
		}
	}

	size := 16 + 4 + 4
	for _, e := range entries {
		size += len(e.IV)
		if hasSubsamples {
			size += 2 + 6*len(e.ClearBytes)
		}
	}
	body := make([]byte, size)
	copy(body, piffSampleEncryptionUUID[:])
	flags := uint32(0)
	if hasSubsamples {
		flags = 0x2
	}
	be.PutUint32(body[16:20], flags)
	be.PutUint32(body[20:24], uint32(len(entries)))

	p := 24
	for _, e := range entries {
		iv := e.IV
		if len(iv) == 0 {
			iv = make([]byte, ivSize)
		}
		copy(body[p:], iv)
		p += len(iv)
		if hasSubsamples {
			be.PutUint16(body[p:], uint16(len(e.ClearBytes)))
			p += 2
			for i := range e.ClearBytes {
				be.PutUint16(body[p:], e.ClearBytes[i])
				be.PutUint32(body[p+2:], e.EncBytes[i])
				p += 6
			}
		}
	}
	return mp4.NewRaw(mp4.TypeUUID, body)
}
