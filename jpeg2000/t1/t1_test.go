package t1

import (
	"math/rand"
	"testing"
)

func randomBlock(rng *rand.Rand, w, h int, maxMag int32, density int) []int32 {
	data := make([]int32, w*h)
	for i := range data {
		if rng.Intn(100) < density {
			v := rng.Int31n(maxMag) + 1
			if rng.Intn(2) == 1 {
				v = -v
			}
			data[i] = v
		}
	}
	return data
}

func roundTrip(t *testing.T, data []int32, w, h, style, orient int) {
	t.Helper()

	enc := NewEncoder(w, h, style)
	enc.SetOrientation(orient)
	passes, buf, err := enc.Encode(data, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	maxBP := MaxBitplane(data)
	dec := NewDecoder(w, h, style)
	dec.SetOrientation(orient)

	if style&(CblkStyleTermAll|CblkStyleLazy) != 0 {
		// Segment boundaries fall where the encoder terminated.
		var ends, segPasses []int
		count := 0
		for i, p := range passes {
			count++
			if p.Terminated || i == len(passes)-1 {
				ends = append(ends, p.ActualBytes)
				segPasses = append(segPasses, count)
				count = 0
			}
		}
		err = dec.DecodeSegments(buf, ends, segPasses, maxBP, 0, false)
	} else {
		err = dec.Decode(buf, len(passes), maxBP, 0)
	}
	if err != nil {
		if maxBP < 0 {
			return // all-zero block yields empty data; nothing to decode
		}
		t.Fatalf("decode: %v", err)
	}

	got := dec.Data()
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("coefficient %d: got %d want %d (w=%d h=%d style=%#x)",
				i, got[i], data[i], w, h, style)
		}
	}
}

func TestRoundTripSmallBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sizes := []struct{ w, h int }{
		{4, 4}, {5, 5}, {8, 8}, {5, 4}, {4, 5}, {16, 16}, {7, 11}, {32, 32},
	}
	for _, sz := range sizes {
		for orient := 0; orient < 4; orient++ {
			data := randomBlock(rng, sz.w, sz.h, 255, 40)
			roundTrip(t, data, sz.w, sz.h, 0, orient)
		}
	}
}

// TestRoundTripDense64 covers the dense 64x64 case where in-pass
// significance updates must be observed by later samples of the same pass.
func TestRoundTripDense64(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := randomBlock(rng, 64, 64, 4095, 95)
	roundTrip(t, data, 64, 64, 0, 2)
}

func TestRoundTripSparse(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := randomBlock(rng, 32, 32, 1<<20, 2)
	roundTrip(t, data, 32, 32, 0, 3)
}

func TestRoundTripAllZero(t *testing.T) {
	data := make([]int32, 16*16)
	enc := NewEncoder(16, 16, 0)
	passes, buf, err := enc.Encode(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(passes) != 0 || len(buf) != 0 {
		t.Errorf("all-zero block produced %d passes, %d bytes", len(passes), len(buf))
	}
}

func TestRoundTripSingleCoefficient(t *testing.T) {
	data := make([]int32, 8*8)
	data[27] = -100
	roundTrip(t, data, 8, 8, 0, 0)
}

func TestRoundTripTermAll(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	data := randomBlock(rng, 16, 16, 1023, 50)
	roundTrip(t, data, 16, 16, CblkStyleTermAll, 1)
}

func TestRoundTripSelectiveBypass(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	// Deep bit-planes so the raw passes actually engage.
	data := randomBlock(rng, 32, 32, 1<<14, 60)
	roundTrip(t, data, 32, 32, CblkStyleLazy, 2)
}

func TestBypassSegmentSchedule(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	data := randomBlock(rng, 32, 32, 1<<14, 60)
	enc := NewEncoder(32, 32, CblkStyleLazy)
	passes, _, err := enc.Encode(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	// The tenth pass ends the MQ prefix; after it, raw SigProp+MagRef pairs
	// alternate with single terminated cleanup passes.
	for i, p := range passes {
		wantTerm := false
		switch {
		case i == len(passes)-1:
			wantTerm = true
		case i == 9:
			wantTerm = true
		case i > 9:
			wantTerm = (i-9)%3 != 1
		}
		if p.Terminated != wantTerm {
			t.Fatalf("pass %d (plane %d type %d): terminated=%v, want %v",
				i, p.Bitplane, p.PassType, p.Terminated, wantTerm)
		}
	}
}

func TestRoundTripSegmentationSymbols(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	data := randomBlock(rng, 16, 16, 255, 60)
	roundTrip(t, data, 16, 16, CblkStyleSegsym, 0)
}

func TestRoundTripResetContexts(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	data := randomBlock(rng, 16, 16, 255, 60)
	roundTrip(t, data, 16, 16, CblkStyleReset, 0)
}

func TestPassSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	data := randomBlock(rng, 16, 16, 255, 50)
	enc := NewEncoder(16, 16, 0)
	passes, _, err := enc.Encode(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(passes) == 0 {
		t.Fatal("no passes")
	}
	// First pass is cleanup on the top plane; then SPP/MRP/CP triplets.
	if passes[0].PassType != PassCleanup {
		t.Errorf("first pass type %d, want cleanup", passes[0].PassType)
	}
	want := PassSigProp
	for _, p := range passes[1:] {
		if p.PassType != want {
			t.Fatalf("pass %d: type %d, want %d", p.PassIndex, p.PassType, want)
		}
		want = (want + 1) % 3
	}
	// Rates and distortion must be non-decreasing.
	for i := 1; i < len(passes); i++ {
		if passes[i].ActualBytes < passes[i-1].ActualBytes {
			t.Errorf("pass %d: rate decreased", i)
		}
		if passes[i].Distortion < passes[i-1].Distortion {
			t.Errorf("pass %d: distortion reduction decreased", i)
		}
	}
}

func TestTruncatedDecodeStableMagnitudes(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	data := randomBlock(rng, 32, 32, 4095, 70)

	enc := NewEncoder(32, 32, 0)
	passes, buf, err := enc.Encode(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	maxBP := MaxBitplane(data)

	// Decoding a prefix of the passes must not fail; coefficients come back
	// at reduced precision.
	for _, n := range []int{1, len(passes) / 2, len(passes)} {
		dec := NewDecoder(32, 32, 0)
		if err := dec.Decode(buf, n, maxBP, 0); err != nil {
			t.Fatalf("decode %d passes: %v", n, err)
		}
		got := dec.Data()
		for i := range got {
			if got[i] != 0 && data[i] == 0 {
				t.Fatalf("pass prefix %d invented coefficient at %d", n, i)
			}
			if got[i] > 0 != (data[i] > 0) && got[i] != 0 {
				t.Fatalf("pass prefix %d flipped sign at %d", n, i)
			}
		}
	}
}

func TestContextLUTProperties(t *testing.T) {
	zc := ZeroCodingLUT()
	for i, v := range zc {
		if v > 8 {
			t.Fatalf("ZC LUT[%d] = %d out of range", i, v)
		}
	}
	// No significant neighbors always maps to context 0.
	for orient := 0; orient < 4; orient++ {
		if zc[orient*512] != 0 {
			t.Errorf("orient %d: empty neighborhood should be context 0", orient)
		}
	}
	sc := SignContextLUT()
	for i, v := range sc {
		if v < 9 || v > 13 {
			t.Fatalf("SC LUT[%d] = %d out of range", i, v)
		}
	}
	spb := SignPredictionLUT()
	for i, v := range spb {
		if v != 0 && v != 1 {
			t.Fatalf("SPB LUT[%d] = %d", i, v)
		}
	}
}
