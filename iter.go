package mp4

// StszIter walks the raw body of an stsz box without materializing the size
// slice the full-tree decoder would build, handling both the fixed-size and
// per-sample forms. It expects the FullBox version/flags word already
// stripped.
type StszIter struct {
	buf        []byte
	sampleSize uint32
	count      uint32
	index      uint32
}

// NewStszIter creates an iterator from an stsz box body.
func NewStszIter(data []byte) StszIter {
	if len(data) < 8 {
		return StszIter{}
	}
	return StszIter{buf: data, sampleSize: be.Uint32(data[0:4]), count: be.Uint32(data[4:8])}
}

// Count returns the total number of samples.
func (it *StszIter) Count() uint32 { return it.count }

// Next returns the next sample size, or (0, false) when exhausted.
func (it *StszIter) Next() (uint32, bool) {
	if it.index >= it.count {
		return 0, false
	}
	var size uint32
	if it.sampleSize != 0 {
		size = it.sampleSize
	} else {
		offset := 8 + int(it.index)*4
		if offset+4 > len(it.buf) {
			return 0, false
		}
		size = be.Uint32(it.buf[offset:])
	}
	it.index++
	return size, true
}
