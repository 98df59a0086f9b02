package container

import "testing"

func TestCountValueListCoalesces(t *testing.T) {
	var l CountValueList[uint32]
	for _, v := range []uint32{1000, 1000, 1000, 1001, 1001, 1000} {
		l.Update(v)
	}
	if l.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", l.Len())
	}
	want := []Run[uint32]{
		{Count: 3, Value: 1000},
		{Count: 2, Value: 1001},
		{Count: 1, Value: 1000},
	}
	got := l.Runs()
	if len(got) != len(want) {
		t.Fatalf("NumRuns() = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Runs()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if l.NumRuns() != 3 {
		t.Fatalf("NumRuns() = %d, want 3", l.NumRuns())
	}
}

func TestCountValueListLast(t *testing.T) {
	var l CountValueList[uint32]
	if _, ok := l.Last(); ok {
		t.Fatalf("Last() on empty list returned ok=true")
	}
	l.Update(7)
	l.Update(9)
	v, ok := l.Last()
	if !ok || v != 9 {
		t.Fatalf("Last() = %d,%v want 9,true", v, ok)
	}
}

func TestCursorNextExpandsRuns(t *testing.T) {
	var l CountValueList[uint32]
	l.Update(1000)
	l.Update(1000)
	l.Update(2000)

	c := NewCursor(&l)
	want := []uint32{1000, 1000, 2000}
	for i, w := range want {
		v, ok := c.Next()
		if !ok {
			t.Fatalf("Next() at %d: ok=false, want true", i)
		}
		if v != w {
			t.Fatalf("Next() at %d = %d, want %d", i, v, w)
		}
	}
	if _, ok := c.Next(); ok {
		t.Fatalf("Next() past end: ok=true, want false")
	}
	if c.Index() != 3 {
		t.Fatalf("Index() = %d, want 3", c.Index())
	}
}

func TestCursorSaveAndGotoMark(t *testing.T) {
	var l CountValueList[uint32]
	for _, v := range []uint32{1, 2, 3, 4, 5} {
		l.Update(v)
	}
	c := NewCursor(&l)
	c.Next()
	c.Next()
	mark := c.SaveMark()

	c.Next()
	c.Next()
	c.Next()
	if _, ok := c.Next(); ok {
		t.Fatalf("expected cursor exhausted after 5 elements")
	}

	c.GotoMark(mark)
	v, ok := c.Next()
	if !ok || v != 3 {
		t.Fatalf("Next() after GotoMark = %d,%v want 3,true", v, ok)
	}
}
