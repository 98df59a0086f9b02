// Package container implements the two list shapes used by every sample
// table in the muxer (spec §4.2): a run-length compressed (count,value)
// list, and an append-only (index,dts) list with a resumable cursor.
package container

// Run is one run-length compressed entry: value repeated Count times.
type Run[T comparable] struct {
	Count uint32
	Value T
}

// CountValueList is a run-length compressed list. Update is compact for
// sequences with runs of repeated values such as stts durations, stsz sizes,
// and ctts offsets: a run is extended in place when the new value matches
// the previous run's value, otherwise a new run of length 1 is appended.
type CountValueList[T comparable] struct {
	runs []Run[T]
	n    int // total logical element count across all runs
}

// Update appends v to the logical sequence, coalescing with the last run
// when possible.
func (l *CountValueList[T]) Update(v T) {
	l.n++
	if len(l.runs) > 0 {
		last := &l.runs[len(l.runs)-1]
		if last.Value == v {
			last.Count++
			return
		}
	}
	l.runs = append(l.runs, Run[T]{Count: 1, Value: v})
}

// Runs returns the run-length compressed entries.
func (l *CountValueList[T]) Runs() []Run[T] { return l.runs }

// Len returns the total number of logical elements (sum of all run counts).
func (l *CountValueList[T]) Len() int { return l.n }

// NumRuns returns the number of distinct runs.
func (l *CountValueList[T]) NumRuns() int { return len(l.runs) }

// Last returns the most recently appended value and whether the list is
// non-empty.
func (l *CountValueList[T]) Last() (T, bool) {
	var zero T
	if len(l.runs) == 0 {
		return zero, false
	}
	return l.runs[len(l.runs)-1].Value, true
}

// Cursor walks a CountValueList's logical (not run-compressed) elements and
// can be saved and restored, because fragment emission performs multiple
// forward passes over the same sample range (spec §4.2).
type Cursor[T comparable] struct {
	list        *CountValueList[T]
	runIdx      int
	withinRun   uint32
	logicalIdx  int
}

// NewCursor returns a cursor positioned at the start of l.
func NewCursor[T comparable](l *CountValueList[T]) *Cursor[T] {
	return &Cursor[T]{list: l}
}

// Mark is a saved cursor position.
type Mark struct {
	runIdx     int
	withinRun  uint32
	logicalIdx int
}

// SaveMark captures the cursor's current position.
func (c *Cursor[T]) SaveMark() Mark {
	return Mark{runIdx: c.runIdx, withinRun: c.withinRun, logicalIdx: c.logicalIdx}
}

// GotoMark restores a previously captured position.
func (c *Cursor[T]) GotoMark(m Mark) {
	c.runIdx, c.withinRun, c.logicalIdx = m.runIdx, m.withinRun, m.logicalIdx
}

// Next returns the next logical value and advances the cursor.
func (c *Cursor[T]) Next() (T, bool) {
	var zero T
	if c.runIdx >= len(c.list.runs) {
		return zero, false
	}
	run := c.list.runs[c.runIdx]
	v := run.Value
	c.withinRun++
	c.logicalIdx++
	if c.withinRun >= run.Count {
		c.runIdx++
		c.withinRun = 0
	}
	return v, true
}

// Index returns the number of elements already consumed by the cursor.
func (c *Cursor[T]) Index() int { return c.logicalIdx }
