package bitio

import "testing"

func TestReadWriteBits(t *testing.T) {
	w := NewWriter(4)
	w.WriteBits(3, 5)
	w.WriteBits(13, 4000)
	w.FlushBits()

	r := NewReader(w.Bytes())
	v, err := r.ReadBits(3)
	if err != nil || v != 5 {
		t.Fatalf("ReadBits(3) = %d,%v want 5,nil", v, err)
	}
	v, err = r.ReadBits(13)
	if err != nil || v != 4000 {
		t.Fatalf("ReadBits(13) = %d,%v want 4000,nil", v, err)
	}
}

func TestReadUEWriteUE(t *testing.T) {
	cases := []uint32{0, 1, 2, 7, 31, 1000, 1 << 20}
	w := NewWriter(32)
	for _, c := range cases {
		w.WriteUE(c)
	}
	w.FlushBits()

	r := NewReader(w.Bytes())
	for _, want := range cases {
		got, err := r.ReadUE()
		if err != nil {
			t.Fatalf("ReadUE: %v", err)
		}
		if got != want {
			t.Fatalf("ReadUE() = %d, want %d", got, want)
		}
	}
}

func TestReadSEWriteSE(t *testing.T) {
	cases := []int32{0, 1, -1, 2, -2, 100, -100}
	w := NewWriter(32)
	for _, c := range cases {
		w.WriteSE(c)
	}
	w.FlushBits()

	r := NewReader(w.Bytes())
	for _, want := range cases {
		got, err := r.ReadSE()
		if err != nil {
			t.Fatalf("ReadSE: %v", err)
		}
		if got != want {
			t.Fatalf("ReadSE() = %d, want %d", got, want)
		}
	}
}

func TestPeekBitsDoesNotConsume(t *testing.T) {
	w := NewWriter(4)
	w.WriteBits(8, 0xab)
	w.WriteBits(8, 0xcd)
	w.FlushBits()

	r := NewReader(w.Bytes())
	peeked, err := r.PeekBits(8, 0)
	if err != nil || peeked != 0xab {
		t.Fatalf("PeekBits = %x,%v want 0xab,nil", peeked, err)
	}
	v, err := r.ReadBits(8)
	if err != nil || v != 0xab {
		t.Fatalf("ReadBits after Peek = %x,%v want 0xab,nil", v, err)
	}
}

func TestReadU32BigEndian(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04}
	r := NewReader(buf)
	v, err := r.ReadU32()
	if err != nil || v != 0x01020304 {
		t.Fatalf("ReadU32 = %x,%v want 0x01020304,nil", v, err)
	}
}

func TestWriteBytesPanicsOnUnflushedCache(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on unflushed bit cache")
		}
	}()
	w := NewWriter(2)
	w.WriteBits(3, 1)
	w.WriteBytes([]byte{0xff})
}
