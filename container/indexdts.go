package container

// IndexDtsEntry pairs a sample index with a decode timestamp.
type IndexDtsEntry struct {
	SampleIndex uint32
	Dts         uint64
}

// IndexDtsList is an append-only ordered list of (sample_index, dts) pairs,
// used for sync-sample tables and any other sparse index into the dts
// timeline (spec §4.2).
type IndexDtsList struct {
	entries []IndexDtsEntry
}

// Append adds a new (sampleIndex, dts) pair. Callers must append in
// increasing sampleIndex/dts order (spec invariant 1).
func (l *IndexDtsList) Append(sampleIndex uint32, dts uint64) {
	l.entries = append(l.entries, IndexDtsEntry{SampleIndex: sampleIndex, Dts: dts})
}

// Len returns the number of entries.
func (l *IndexDtsList) Len() int { return len(l.entries) }

// Entries returns the underlying entry slice.
func (l *IndexDtsList) Entries() []IndexDtsEntry { return l.entries }

// DtsCursor is a resumable forward cursor over an IndexDtsList, positioned
// by dts range. Fragment emission walks the same sync-sample range multiple
// times (once to pick a boundary, again to emit sdtp/trun), so the cursor
// must be independently saveable from the list itself (spec §4.2, §4.9).
type DtsCursor struct {
	list *IndexDtsList
	idx  int
}

// NewDtsCursor returns a cursor positioned at the start of l.
func NewDtsCursor(l *IndexDtsList) *DtsCursor {
	return &DtsCursor{list: l}
}

// SaveMark captures the cursor's current index.
func (c *DtsCursor) SaveMark() int { return c.idx }

// GotoMark restores a previously captured index.
func (c *DtsCursor) GotoMark(m int) { c.idx = m }

// Next returns the next entry and advances the cursor.
func (c *DtsCursor) Next() (IndexDtsEntry, bool) {
	if c.idx >= len(c.list.entries) {
		return IndexDtsEntry{}, false
	}
	e := c.list.entries[c.idx]
	c.idx++
	return e, true
}

// LastInRange returns the last entry with Dts in (lo,hi], scanning forward
// from the cursor's current position and leaving the cursor positioned just
// past it. This implements the "take the last sync in range" rule used by
// the fragmenter's partitioning algorithm (spec §4.9 step 3).
func (c *DtsCursor) LastInRange(lo, hi uint64) (IndexDtsEntry, bool) {
	var last IndexDtsEntry
	found := false
	for c.idx < len(c.list.entries) {
		e := c.list.entries[c.idx]
		if e.Dts > hi {
			break
		}
		if e.Dts > lo {
			last = e
			found = true
		}
		c.idx++
	}
	return last, found
}

// Reset rewinds the cursor to the start.
func (c *DtsCursor) Reset() { c.idx = 0 }
