package colorspace

import (
	"math/rand"
	"testing"
)

func TestRCTRoundTripExact(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		r := rng.Int31n(512) - 256
		g := rng.Int31n(512) - 256
		b := rng.Int31n(512) - 256

		y, cb, cr := RCTForward(r, g, b)
		r2, g2, b2 := RCTInverse(y, cb, cr)

		if r2 != r || g2 != g || b2 != b {
			t.Fatalf("RCT not reversible: (%d,%d,%d) -> (%d,%d,%d)", r, g, b, r2, g2, b2)
		}
	}
}

func TestRCTKnownValues(t *testing.T) {
	// Gray pixels map to Y with zero chroma.
	for _, v := range []int32{-128, -1, 0, 1, 127} {
		y, cb, cr := RCTForward(v, v, v)
		if y != v || cb != 0 || cr != 0 {
			t.Errorf("gray %d: got (%d,%d,%d)", v, y, cb, cr)
		}
	}
}

func TestICTApproximateRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 10000; i++ {
		r := rng.Int31n(256) - 128
		g := rng.Int31n(256) - 128
		b := rng.Int31n(256) - 128

		y, cb, cr := ICTForward(r, g, b)
		r2, g2, b2 := ICTInverse(y, cb, cr)

		// Integer rounding loses at most a couple of codes per channel.
		if abs32(r2-r) > 2 || abs32(g2-g) > 2 || abs32(b2-b) > 2 {
			t.Fatalf("ICT drift: (%d,%d,%d) -> (%d,%d,%d)", r, g, b, r2, g2, b2)
		}
	}
}

func TestICTLuminanceWeights(t *testing.T) {
	// Pure white maps to full luminance, near-zero chroma.
	y, cb, cr := ICTForward(127, 127, 127)
	if y != 127 {
		t.Errorf("white luminance %d, want 127", y)
	}
	if abs32(cb) > 1 || abs32(cr) > 1 {
		t.Errorf("white chroma (%d,%d), want ~0", cb, cr)
	}
}

func TestLevelShiftRoundTrip(t *testing.T) {
	data := []int32{0, 1, 127, 128, 254, 255}
	shifted := append([]int32(nil), data...)
	LevelShift(shifted, 8, false)
	if shifted[0] != -128 || shifted[5] != 127 {
		t.Errorf("shift: got %v", shifted)
	}
	LevelUnshift(shifted, 8, false)
	for i := range data {
		if shifted[i] != data[i] {
			t.Errorf("sample %d: got %d want %d", i, shifted[i], data[i])
		}
	}
}

func TestLevelUnshiftClamps(t *testing.T) {
	data := []int32{-500, 500}
	LevelUnshift(data, 8, false)
	if data[0] != 0 || data[1] != 255 {
		t.Errorf("clamp: got %v", data)
	}
}

func TestInterleaveRoundTrip(t *testing.T) {
	planes := [][]int32{{1, 4, 7}, {2, 5, 8}, {3, 6, 9}}
	inter := Interleave(planes)
	want := []int32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	for i := range want {
		if inter[i] != want[i] {
			t.Fatalf("interleave: got %v", inter)
		}
	}
	back := Deinterleave(inter, 3)
	for c := range planes {
		for i := range planes[c] {
			if back[c][i] != planes[c][i] {
				t.Fatalf("deinterleave mismatch at %d,%d", c, i)
			}
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
