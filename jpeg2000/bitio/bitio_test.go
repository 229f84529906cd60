package bitio

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	w := NewWriter()
	values := []struct{ v, n int }{
		{0x5, 3}, {0x0, 1}, {0xFF, 8}, {0x1234, 13}, {1, 1}, {0x7F, 7},
	}
	for _, p := range values {
		w.WriteBits(p.v, p.n)
	}
	data := w.Flush()

	r := NewReader(data)
	for i, p := range values {
		got, err := r.ReadBits(p.n)
		if err != nil {
			t.Fatalf("value %d: %v", i, err)
		}
		if got != p.v&((1<<p.n)-1) {
			t.Errorf("value %d: got %#x want %#x", i, got, p.v)
		}
	}
}

func TestStuffingAfterFF(t *testing.T) {
	// Write 0xFF then 8 one-bits. The byte after 0xFF must have MSB 0.
	w := NewWriter()
	w.WriteBits(0xFF, 8)
	w.WriteBits(0xFF, 8)
	data := w.Flush()

	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0xFF && data[i+1] >= 0x90 {
			t.Fatalf("byte after 0xFF is %#x, must be < 0x90", data[i+1])
		}
	}

	r := NewReader(data)
	a, _ := r.ReadBits(8)
	b, _ := r.ReadBits(8)
	if a != 0xFF || b != 0xFF {
		t.Errorf("round trip through stuffing failed: %#x %#x", a, b)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0xAB, 8)
	w.WriteBits(0xCD, 8)
	r := NewReader(w.Flush())

	peeked, err := r.PeekBits(12)
	if err != nil {
		t.Fatal(err)
	}
	read, err := r.ReadBits(12)
	if err != nil {
		t.Fatal(err)
	}
	if peeked != read {
		t.Errorf("peek %#x != read %#x", peeked, read)
	}
}

func TestPeekPastEndZeroFilled(t *testing.T) {
	r := NewReader([]byte{0x80})
	v, err := r.PeekBits(12)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x800 {
		t.Errorf("got %#x want %#x", v, 0x800)
	}
}

func TestTruncatedRead(t *testing.T) {
	r := NewReader([]byte{0xAA})
	if _, err := r.ReadBits(8); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadBit(); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestAlignOnes(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0x0, 3)
	w.AlignOnes()
	data := w.Flush()
	if !bytes.Equal(data, []byte{0x1F}) {
		t.Errorf("got % x want 1f", data)
	}
}
