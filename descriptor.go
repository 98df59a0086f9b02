package mp4

// descriptor implements MPEG-4 descriptor parsing for esds boxes.

var tagToName = map[byte]string{
	0x03: "ESDescriptor",
	0x04: "DecoderConfigDescriptor",
	0x05: "DecoderSpecificInfo",
	0x06: "SLConfigDescriptor",
}

type descriptor struct {
	tag      byte
	tagName  string
	length   int
	oti      byte
	buffer   []byte
	children map[string]*descriptor
}

func decodeDescriptor(buf []byte, start, end int) *descriptor {
	if start >= end {
		return nil
	}
	tag := buf[start]
	ptr := start + 1
	length := 0
	for ptr < end {
		lenByte := buf[ptr]
		ptr++
		length = (length << 7) | int(lenByte&0x7f)
		if lenByte&0x80 == 0 {
			break
		}
	}

	tagName := tagToName[tag]
	d := &descriptor{
		tag:      tag,
		tagName:  tagName,
		length:   (ptr - start) + length,
		children: make(map[string]*descriptor),
	}

	switch tagName {
	case "ESDescriptor":
		decodeESDescriptor(d, buf, ptr, end)
	case "DecoderConfigDescriptor":
		decodeDecoderConfigDescriptor(d, buf, ptr, end)
	case "DecoderSpecificInfo":
		dEnd := ptr + length
		if dEnd > end {
			dEnd = end
		}
		d.buffer = buf[ptr:dEnd]
	default:
		dEnd := min(ptr+length, end)
		d.buffer = buf[ptr:dEnd]
	}

	return d
}

func decodeDescriptorArray(buf []byte, start, end int) map[string]*descriptor {
	m := make(map[string]*descriptor)
	ptr := start
	for ptr+2 <= end {
		desc := decodeDescriptor(buf, ptr, end)
		if desc == nil {
			break
		}
		ptr += desc.length
		name := desc.tagName
		if name == "" {
			continue
		}
		m[name] = desc
	}
	return m
}

func decodeESDescriptor(d *descriptor, buf []byte, start, end int) {
	if start+3 > end {
		return
	}
	flags := buf[start+2]
	ptr := start + 3
	if flags&0x80 != 0 {
		ptr += 2
	}
	if flags&0x40 != 0 {
		if ptr >= end {
			return
		}
		l := int(buf[ptr])
		ptr += l + 1
	}
	if flags&0x20 != 0 {
		ptr += 2
	}
	d.children = decodeDescriptorArray(buf, ptr, end)
}

func decodeDecoderConfigDescriptor(d *descriptor, buf []byte, start, end int) {
	if start >= end {
		return
	}
	d.oti = buf[start]
	d.children = decodeDescriptorArray(buf, start+13, end)
}

// BuildEsdsPayload assembles the esds box body: an MPEG-4 ES_Descriptor
// wrapping a DecoderConfigDescriptor (object type, stream type, finalized
// bitrate) and DecoderSpecificInfo (ascBytes), followed by a minimal
// SLConfigDescriptor (spec §4.5 "esds", §4.6.1 bitrate finalization).
func BuildEsdsPayload(esID uint16, objectTypeIndication, streamType byte, bufferSizeDB, maxBitrate, avgBitrate uint32, ascBytes []byte) []byte {
	dsi := appendDescr(nil, 0x05, ascBytes)

	dcd := make([]byte, 0, 13)
	dcd = append(dcd, objectTypeIndication)
	dcd = append(dcd, streamType<<2|0x01) // upStream=0, reserved=1
	dcd = append(dcd, byte(bufferSizeDB>>16), byte(bufferSizeDB>>8), byte(bufferSizeDB))
	dcd = append(dcd, byte(maxBitrate>>24), byte(maxBitrate>>16), byte(maxBitrate>>8), byte(maxBitrate))
	dcd = append(dcd, byte(avgBitrate>>24), byte(avgBitrate>>16), byte(avgBitrate>>8), byte(avgBitrate))
	dcd = appendDescr(dcd, 0x04, dsi)

	slc := appendDescr(nil, 0x06, []byte{0x02}) // predefined = MP4

	es := make([]byte, 0, 3)
	es = append(es, byte(esID>>8), byte(esID), 0) // ES_ID, flags=0 (no dependsOn/URL/OCR)
	es = append(es, dcd...)
	es = append(es, slc...)

	return appendDescr(nil, 0x03, es)
}

// appendDescr appends one descriptor (tag, MPEG-4 variable-length size,
// payload) to dst.
func appendDescr(dst []byte, tag byte, payload []byte) []byte {
	dst = append(dst, tag)
	dst = writeDescrLen(dst, len(payload))
	return append(dst, payload...)
}

// writeDescrLen appends n encoded as an MPEG-4 descriptor length: 7 bits per
// byte, continuation flag in the high bit of every byte but the last.
func writeDescrLen(dst []byte, n int) []byte {
	var tmp [4]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			break
		}
	}
	for j := i; j < len(tmp); j++ {
		b := tmp[j]
		if j != len(tmp)-1 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}
