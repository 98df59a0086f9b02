package ac3

import "github.com/gomuxer/isomux/bitio"

// Substream holds the last-seen header fields for one entry of the
// independent/dependent substream matrix (spec §4.5: up to 8x8).
type Substream struct {
	IsEac3      bool
	AC3         *AC3Header
	EAC3        *EAC3Header
	NumDepSub   uint8
	DepChanLoc  []uint16
}

// Accumulator assembles AC-3/E-AC-3 syncframes into 1536-sample mp4
// samples and tracks the substream matrix used to build dec3 (spec §4.5).
type Accumulator struct {
	matrix  [8][8]*Substream // [independent_stream_id][dependent_stream_id]
	order   []int            // independent stream ids in first-seen order

	blocksAccumulated int
	frames            [][]byte
}

// NewAccumulator returns an empty substream accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// FeedAC3 adds one legacy AC-3 frame. AC-3 frames are always a complete
// 6-block (1536-sample) unit, so this always completes an mp4 sample.
func (a *Accumulator) FeedAC3(frame []byte, h *AC3Header) (complete bool, sample [][]byte) {
	sub := &Substream{AC3: h}
	a.setIndependent(0, sub)
	a.frames = append(a.frames, frame)
	out := a.frames
	a.frames = nil
	return true, out
}

// FeedEAC3 adds one E-AC-3 frame, opening a new independent or dependent
// substream slot as indicated by strmtyp. A 1536-sample window holds the
// first independent substream's frames plus every dependent frame of the
// same window, so completion is detected when the next window's opening
// frame arrives: the previous window's frames are then returned (spec §4.5
// "Completion"). The trailing window is drained with Flush.
func (a *Accumulator) FeedEAC3(frame []byte, h *EAC3Header) (complete bool, sample [][]byte) {
	ind := int(h.SubstreamID) & 0x7
	independent := h.Strmtyp == StrmtypIndependent || h.Strmtyp == StrmtypIndependentAlt

	if independent && ind == 0 && a.blocksAccumulated >= 6 {
		complete = true
		sample = a.frames
		a.frames = nil
		a.blocksAccumulated = 0
	}

	switch {
	case independent:
		a.setIndependent(ind, &Substream{IsEac3: true, EAC3: h})
		if ind == 0 {
			a.blocksAccumulated += h.NumBlocks
		}
	default:
		a.attachDependent(ind, h)
	}
	a.frames = append(a.frames, frame)
	return complete, sample
}

// Flush drains the trailing window. A partial window (fewer than 1536
// samples accumulated) is discarded, reported via partial so the caller can
// log a warning.
func (a *Accumulator) Flush() (sample [][]byte, partial bool) {
	frames := a.frames
	blocks := a.blocksAccumulated
	a.frames = nil
	a.blocksAccumulated = 0
	if blocks >= 6 {
		return frames, false
	}
	return nil, len(frames) > 0
}

func (a *Accumulator) setIndependent(id int, sub *Substream) {
	if a.matrix[id][0] == nil {
		a.order = append(a.order, id)
	}
	a.matrix[id][0] = sub
}

func (a *Accumulator) attachDependent(indID int, h *EAC3Header) {
	root := a.matrix[indID][0]
	if root == nil {
		return
	}
	depIdx := int(root.NumDepSub)
	if depIdx >= 7 {
		return
	}
	root.NumDepSub++
	if h.ChanmapePresent {
		root.DepChanLoc = append(root.DepChanLoc, h.ChanLoc)
	} else {
		root.DepChanLoc = append(root.DepChanLoc, 0)
	}
	a.matrix[indID][depIdx+1] = &Substream{IsEac3: true, EAC3: h}
}

// BuildDac3 packs the 3-byte legacy dac3 DSI: fscod:2, bsid:5, bsmod:3,
// acmod:3, lfeon:1, bit_rate_code:5 (spec §4.5).
func BuildDac3(h *AC3Header) []byte {
	w := bitio.NewWriter(3)
	w.WriteBits(2, uint32(h.Fscod))
	w.WriteBits(5, uint32(h.Bsid))
	w.WriteBits(3, uint32(h.Bsmod))
	w.WriteBits(3, uint32(h.Acmod))
	w.WriteFlag(h.Lfeon)
	code := bitRateCodeFor(h.Bitrate)
	w.WriteBits(5, uint32(code))
	w.FlushBits()
	return w.Bytes()
}

func bitRateCodeFor(bitrate uint32) int {
	for i, v := range ac3BitrateTbl {
		if v == bitrate {
			return i
		}
	}
	return 0
}

// BuildDec3 packs the dec3 DSI for an E-AC-3 independent substream (with
// its dependents), following spec §4.5: data_rate, num_ind_sub, then per
// substream fscod/bsid/acmod/lfeon/num_dep_sub/chan_loc.
func BuildDec3(substreams []*Substream, dataRate uint32) []byte {
	w := bitio.NewWriter(16)
	w.WriteBits(13, dataRate)
	w.WriteBits(3, uint32(len(substreams)-1))

	for _, s := range substreams {
		h := s.EAC3
		w.WriteBits(2, uint32(h.Fscod))
		w.WriteBits(5, uint32(h.Bsid))
		w.WriteBits(1, 0)  // reserved
		w.WriteFlag(false) // asvc
		w.WriteBits(3, 0)  // bsmod: always 0 (main audio service)
		w.WriteBits(3, uint32(h.Acmod))
		w.WriteFlag(h.Lfeon)
		w.WriteBits(3, 0) // reserved
		w.WriteBits(4, uint32(s.NumDepSub))
		if s.NumDepSub > 0 {
			var chanLoc uint16
			for _, c := range s.DepChanLoc {
				chanLoc |= c
			}
			w.WriteBits(9, uint32(chanLoc))
		} else {
			w.WriteFlag(false) // reserved
		}
	}
	w.FlushBits()
	return w.Bytes()
}

// IndependentSubstreams returns the matrix's independent-substream roots
// in first-seen order, for dec3 assembly.
func (a *Accumulator) IndependentSubstreams() []*Substream {
	out := make([]*Substream, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.matrix[id][0])
	}
	return out
}
