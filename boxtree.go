package mp4

import "fmt"

// Box is a decoded ISO-BMFF box. Only the field matching Type is populated
// by Decode; everything else is the zero value. Container boxes that have
// no bespoke codec keep their parsed children in Children; boxes with no
// bespoke codec and no children (leaf boxes the serializer does not need to
// inspect, e.g. udta chains preserved from demux) keep their raw body in Raw.
type Box struct {
	Type    BoxType
	Size    uint64
	Version uint8
	Flags   uint32

	Children []*Box
	Raw      []byte

	Ftyp   *Ftyp
	Mvhd   *Mvhd
	Tkhd   *Tkhd
	Mdhd   *Mdhd
	Vmhd   *Vmhd
	Smhd   *Smhd
	Hmhd   *Hmhd
	Nmhd   *Nmhd
	Stsd   *Stsd
	Visual *VisualSampleEntry
	AvcC   *AvcC
	HvcC   *HvcC
	Audio  *AudioSampleEntry
	Esds   *Esds
	Dac3   *Dac3
	Dec3   *Dec3
	Stsz   *Stsz
	Stco   *Stco
	Co64   *Co64
	Stts   *Stts
	Ctts   *Ctts
	Stsc   *Stsc
	Dref   *DrefBox
	Elst   *Elst
	Hdlr   *Hdlr
	Sdtp   *Sdtp
	Subs   *Subs
	Saiz   *Saiz
	Saio   *Saio
	Tenc   *Tenc
	Senc   *Senc
	Schm   *Schm
	Mehd   *Mehd
	Trex   *Trex
	Mfhd   *Mfhd
	Tfhd   *Tfhd
	Tfdt   *Tfdt
	Trun   *Trun
	Sidx   *Sidx
	Tfra   *Tfra
	Mfro   *Mfro
	Btrt   *Btrt
	Pasp   *Pasp
	Colr   *Colr
	Mdat   *Mdat
}

// headerLen returns the on-wire header length (box size + type, plus
// largesize when present, plus the full-box version/flags word).
func headerLen(size uint64, t BoxType) int {
	n := 8
	if size == 1 {
		n += 8
	}
	if IsFullBox(t) {
		n += 4
	}
	return n
}

// Decode parses exactly one box starting at buf[start:end] and returns it
// along with its total on-wire size.
func Decode(buf []byte, start, end int) (*Box, error) {
	if end-start < 8 {
		return nil, fmt.Errorf("mp4: truncated box header at %d", start)
	}
	size := uint64(be.Uint32(buf[start : start+4]))
	var t BoxType
	copy(t[:], buf[start+4:start+8])

	hdr := 8
	switch {
	case size == 1:
		if end-start < 16 {
			return nil, fmt.Errorf("mp4: truncated largesize box %s", t)
		}
		size = be.Uint64(buf[start+8 : start+16])
		hdr = 16
	case size == 0:
		size = uint64(end - start)
	}
	if int(size) < hdr || start+int(size) > end {
		return nil, fmt.Errorf("mp4: box %s has invalid size %d", t, size)
	}

	box := &Box{Type: t, Size: size}
	bodyStart := start + hdr
	bodyEnd := start + int(size)

	if IsFullBox(t) {
		if bodyEnd-bodyStart < 4 {
			return nil, fmt.Errorf("mp4: truncated full-box header %s", t)
		}
		vf := be.Uint32(buf[bodyStart : bodyStart+4])
		box.Version = uint8(vf >> 24)
		box.Flags = vf & 0x00ffffff
		bodyStart += 4
	}

	if c := getCodec(t); c != nil {
		if err := c.decode(box, buf, bodyStart, bodyEnd); err != nil {
			return nil, fmt.Errorf("mp4: decode %s: %w", t, err)
		}
		return box, nil
	}

	if IsContainerBox(t) {
		ptr := bodyStart
		for ptr < bodyEnd {
			child, err := Decode(buf, ptr, bodyEnd)
			if err != nil {
				return nil, err
			}
			box.Children = append(box.Children, child)
			ptr += int(child.Size)
		}
		return box, nil
	}

	box.Raw = append([]byte(nil), buf[bodyStart:bodyEnd]...)
	return box, nil
}

// EncodingLength returns the total on-wire size a box will occupy.
func EncodingLength(box *Box) uint64 {
	body := uint64(bodyEncodingLength(box))
	if IsFullBox(box.Type) {
		body += 4
	}
	total := body + 8
	if total > 0xffffffff {
		total += 8 // largesize
	}
	return total
}

func bodyEncodingLength(box *Box) int {
	if c := getCodec(box.Type); c != nil {
		return c.encodingLength(box)
	}
	if box.Children != nil {
		n := 0
		for _, c := range box.Children {
			n += int(EncodingLength(c))
		}
		return n
	}
	return len(box.Raw)
}

// encodeBox writes box (header, full-box prefix, body) to buf starting at
// offset and returns the number of bytes written.
func encodeBox(box *Box, buf []byte, offset int) (int, error) {
	size := EncodingLength(box)
	hdr := 8
	large := size > 0xffffffff
	if large {
		hdr = 16
	}

	p := offset
	if large {
		be.PutUint32(buf[p:], 1)
		copy(buf[p+4:p+8], box.Type[:])
		be.PutUint64(buf[p+8:p+16], size)
	} else {
		be.PutUint32(buf[p:], uint32(size))
		copy(buf[p+4:p+8], box.Type[:])
	}
	p += hdr

	if IsFullBox(box.Type) {
		vf := uint32(box.Version)<<24 | (box.Flags & 0x00ffffff)
		be.PutUint32(buf[p:], vf)
		p += 4
	}

	if c := getCodec(box.Type); c != nil {
		p += c.encode(box, buf, p)
		return p - offset, nil
	}
	if box.Children != nil {
		for _, child := range box.Children {
			n, err := encodeBox(child, buf, p)
			if err != nil {
				return 0, err
			}
			p += n
		}
		return p - offset, nil
	}
	copy(buf[p:], box.Raw)
	p += len(box.Raw)
	return p - offset, nil
}

// Encode allocates a buffer and encodes box into it.
func Encode(box *Box) ([]byte, error) {
	buf := make([]byte, EncodingLength(box))
	_, err := encodeBox(box, buf, 0)
	return buf, err
}

// NewContainer builds a plain container box (e.g. moov, trak, stbl) from
// already-built children.
func NewContainer(t BoxType, children ...*Box) *Box {
	return &Box{Type: t, Children: children}
}

// NewRaw builds a leaf box whose body is passed through verbatim — used for
// udta/meta chains preserved from demux or injected via public APIs.
func NewRaw(t BoxType, body []byte) *Box {
	return &Box{Type: t, Raw: append([]byte(nil), body...)}
}
