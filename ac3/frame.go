package ac3

// Frame is one parsed AC-3/E-AC-3 syncframe, tagged with its codec path.
type Frame struct {
	IsEac3 bool
	AC3    *AC3Header
	EAC3   *EAC3Header
	Raw    []byte
}

// ParseFrame parses one syncframe at the start of buf, dispatching on bsid
// per spec §4.5 step 2 (bsid<=8 legacy AC-3, bsid in [11,16] E-AC-3).
func ParseFrame(buf []byte) (*Frame, error) {
	bsid, err := PeekBsid(buf)
	if err != nil {
		return nil, err
	}
	if bsid <= 8 {
		h, err := ParseAC3Header(buf)
		if err != nil {
			return nil, err
		}
		return &Frame{AC3: h, Raw: buf[:h.FrameSize]}, nil
	}
	if bsid >= 11 && bsid <= 16 {
		h, err := ParseEAC3Header(buf)
		if err != nil {
			return nil, err
		}
		return &Frame{IsEac3: true, EAC3: h, Raw: buf[:h.FrameSize]}, nil
	}
	return nil, ErrNoSync
}

// SplitStream scans a contiguous AC-3/E-AC-3 byte run and returns every
// syncframe found (spec §4.5 step 1 resync loop). A syncword whose frame
// fails to parse is skipped and the search resumes 2 bytes past it; the
// scan ends when no further syncword is found, and the error is always nil.
func SplitStream(buf []byte) ([]Frame, error) {
	var frames []Frame
	off := 0
	for off < len(buf) {
		pos := FindSync(buf, off)
		if pos < 0 {
			break
		}
		f, err := ParseFrame(buf[pos:])
		if err != nil {
			off = pos + 2
			continue
		}
		frames = append(frames, *f)
		off = pos + f.FrameLen()
	}
	return frames, nil
}

// FrameLen returns the frame's byte length regardless of codec path.
func (f *Frame) FrameLen() int {
	if f.IsEac3 {
		return f.EAC3.FrameSize
	}
	return f.AC3.FrameSize
}
