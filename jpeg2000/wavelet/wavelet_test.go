package wavelet

import (
	"math"
	"math/rand"
	"testing"
)

func TestForward53RoundTrip1D(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{2, 3, 4, 5, 7, 8, 15, 16, 17, 64, 101, 256} {
		for _, even := range []bool{true, false} {
			if !even && n < 2 {
				continue
			}
			orig := make([]int32, n)
			for i := range orig {
				orig[i] = rng.Int31n(512) - 256
			}
			data := append([]int32(nil), orig...)

			Forward53(data, even)
			Inverse53(data, even)

			for i := range orig {
				if data[i] != orig[i] {
					t.Fatalf("n=%d even=%v: sample %d got %d want %d", n, even, i, data[i], orig[i])
				}
			}
		}
	}
}

func TestForward53RoundTrip2DMultilevel(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, sz := range []struct{ w, h, levels int }{
		{16, 16, 3}, {17, 13, 2}, {64, 64, 5}, {128, 96, 4}, {5, 5, 2}, {1, 64, 3},
	} {
		orig := make([]int32, sz.w*sz.h)
		for i := range orig {
			orig[i] = rng.Int31n(4096) - 2048
		}
		data := append([]int32(nil), orig...)

		ForwardMultilevel(data, sz.w, sz.h, sz.levels)
		InverseMultilevel(data, sz.w, sz.h, sz.levels)

		for i := range orig {
			if data[i] != orig[i] {
				t.Fatalf("%dx%d levels=%d: sample %d got %d want %d",
					sz.w, sz.h, sz.levels, i, data[i], orig[i])
			}
		}
	}
}

func TestForward97RoundTrip2D(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, sz := range []struct{ w, h, levels int }{
		{16, 16, 3}, {33, 31, 2}, {64, 64, 5}, {128, 128, 4},
	} {
		orig := make([]float64, sz.w*sz.h)
		for i := range orig {
			orig[i] = rng.Float64()*512 - 256
		}
		data := append([]float64(nil), orig...)

		ForwardMultilevel97(data, sz.w, sz.h, sz.levels)
		InverseMultilevel97(data, sz.w, sz.h, sz.levels)

		for i := range orig {
			diff := math.Abs(data[i] - orig[i])
			tol := 1e-6 * math.Max(1, math.Abs(orig[i]))
			if diff > tol {
				t.Fatalf("%dx%d levels=%d: sample %d got %g want %g",
					sz.w, sz.h, sz.levels, i, data[i], orig[i])
			}
		}
	}
}

func TestLLDimensions(t *testing.T) {
	cases := []struct {
		w, h, levels   int
		wantW, wantH   int
	}{
		{128, 128, 2, 32, 32},
		{128, 128, 4, 8, 8},
		{17, 17, 1, 9, 9},
		{17, 17, 2, 5, 5},
		{1, 1, 3, 1, 1},
	}
	for _, c := range cases {
		gotW, gotH := LLDimensions(c.w, c.h, c.levels)
		if gotW != c.wantW || gotH != c.wantH {
			t.Errorf("LLDimensions(%d,%d,%d) = %dx%d, want %dx%d",
				c.w, c.h, c.levels, gotW, gotH, c.wantW, c.wantH)
		}
	}
}

func TestArbitraryKernelRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	k := Kernel97()
	for _, n := range []int{4, 7, 16, 33, 128} {
		orig := make([]float64, n)
		for i := range orig {
			orig[i] = rng.Float64()*200 - 100
		}
		data := append([]float64(nil), orig...)

		ForwardArbitrary1D(data, k, true)
		InverseArbitrary1D(data, k, true)

		for i := range orig {
			if math.Abs(data[i]-orig[i]) > 1e-9*math.Max(1, math.Abs(orig[i])) {
				t.Fatalf("n=%d: sample %d got %g want %g", n, i, data[i], orig[i])
			}
		}
	}
}

func TestArbitraryKernel2DRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	k := Kernel{
		Steps:     []LiftStep{{UpdateOdd: true, Coefficient: -0.5}, {UpdateOdd: false, Coefficient: 0.25}},
		ScaleLow:  1,
		ScaleHigh: 1,
	}
	w, h := 24, 18
	orig := make([]float64, w*h)
	for i := range orig {
		orig[i] = float64(rng.Int31n(256))
	}
	data := append([]float64(nil), orig...)

	ForwardArbitrary2D(data, w, h, w, k, true, true)
	InverseArbitrary2D(data, w, h, w, k, true, true)

	for i := range orig {
		if math.Abs(data[i]-orig[i]) > 1e-9 {
			t.Fatalf("sample %d got %g want %g", i, data[i], orig[i])
		}
	}
}

func TestDCLevelSignal53(t *testing.T) {
	// A constant signal concentrates in the LL band: detail bands are zero.
	n := 32
	data := make([]int32, n)
	for i := range data {
		data[i] = 100
	}
	Forward53(data, true)
	sn := (n + 1) / 2
	for i := sn; i < n; i++ {
		if data[i] != 0 {
			t.Errorf("high-pass sample %d = %d, want 0", i, data[i])
		}
	}
}
