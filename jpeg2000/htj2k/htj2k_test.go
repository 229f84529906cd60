package htj2k

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMELRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 30; trial++ {
		n := 50 + rng.Intn(2000)
		events := make([]int, n)
		// Mostly zeros so the state machine climbs.
		for i := range events {
			if rng.Intn(10) == 0 {
				events[i] = 1
			}
		}

		enc := newMELEncoder()
		for _, ev := range events {
			enc.encode(ev)
		}
		data := enc.flush()

		dec := newMELDecoder(data)
		for i, want := range events {
			require.Equal(t, want, dec.decode(), "trial %d event %d", trial, i)
		}
	}
}

func TestMELCompressesZeroRuns(t *testing.T) {
	enc := newMELEncoder()
	for i := 0; i < 10000; i++ {
		enc.encode(0)
	}
	data := enc.flush()
	require.Less(t, len(data), 200, "10000 zero events should collapse")
}

func TestForwardStreamStuffing(t *testing.T) {
	w := &fwdWriter{}
	for i := 0; i < 64; i++ {
		w.put(0xFF, 8)
	}
	data := w.flush()
	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0xFF {
			require.Less(t, data[i+1], byte(0x90), "0xFF followed by %#x", data[i+1])
		}
	}
	require.NotEqual(t, byte(0xFF), data[len(data)-1])

	r := newFwdReader(data)
	for i := 0; i < 64; i++ {
		require.Equal(t, uint32(0xFF), r.get(8))
	}
}

func TestReverseStreamStuffing(t *testing.T) {
	w := newRevWriter()
	vals := []uint32{0x3FF, 0x7F, 0xFFFF, 0x1, 0x3FFFF}
	bitsOf := []int{10, 7, 16, 1, 18}
	for i, v := range vals {
		w.put(v, bitsOf[i])
	}
	data := w.finish()

	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0xFF {
			require.Less(t, data[i+1], byte(0x90))
		}
	}

	r := newRevReader(data)
	for i, v := range vals {
		require.Equal(t, v, r.get(bitsOf[i]), "value %d", i)
	}
}

func TestUVLCRoundTrip(t *testing.T) {
	for u := 1; u <= 35; u++ {
		w := newRevWriter()
		encodeUVLC(w, u)
		r := newRevReader(w.finish())
		require.Equal(t, u, decodeUVLC(r))
	}
}

func blockRoundTrip(t *testing.T, data []int32, w, h int) {
	t.Helper()
	coded, err := EncodeBlock(data, w, h)
	require.NoError(t, err)

	decoded, err := DecodeBlock(coded, w, h)
	require.NoError(t, err)
	require.Equal(t, data, decoded, "%dx%d block", w, h)
}

func TestBlockRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, sz := range []struct{ w, h int }{
		{4, 4}, {8, 8}, {16, 16}, {32, 32}, {64, 64}, {5, 5}, {7, 3}, {1, 1}, {3, 9},
	} {
		for _, density := range []int{5, 50, 100} {
			data := make([]int32, sz.w*sz.h)
			for i := range data {
				if rng.Intn(100) < density {
					v := rng.Int31n(4096) + 1
					if rng.Intn(2) == 1 {
						v = -v
					}
					data[i] = v
				}
			}
			blockRoundTrip(t, data, sz.w, sz.h)
		}
	}
}

func TestBlockAllZero(t *testing.T) {
	data := make([]int32, 16*16)
	coded, err := EncodeBlock(data, 16, 16)
	require.NoError(t, err)
	require.Empty(t, coded)

	decoded, err := DecodeBlock(coded, 16, 16)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestBlockSingleCoefficient(t *testing.T) {
	data := make([]int32, 8*8)
	data[37] = -1
	blockRoundTrip(t, data, 8, 8)

	data[37] = 1 << 20
	blockRoundTrip(t, data, 8, 8)
}

func TestBlockLargeMagnitudes(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	data := make([]int32, 32*32)
	for i := range data {
		data[i] = rng.Int31n(1 << 28)
		if rng.Intn(2) == 1 {
			data[i] = -data[i]
		}
	}
	blockRoundTrip(t, data, 32, 32)
}

func TestBlockMarkerRule(t *testing.T) {
	// Coded HT data must never contain 0xFF followed by >= 0x90.
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 40; trial++ {
		data := make([]int32, 16*16)
		for i := range data {
			data[i] = rng.Int31n(65536) - 32768
		}
		coded, err := EncodeBlock(data, 16, 16)
		require.NoError(t, err)
		for i := 0; i+1 < len(coded); i++ {
			if coded[i] == 0xFF {
				require.Less(t, coded[i+1], byte(0x90),
					"trial %d offset %d", trial, i)
			}
		}
	}
}

func TestBlockCorruptSuffixRejected(t *testing.T) {
	data := make([]int32, 8*8)
	data[0] = 5
	coded, err := EncodeBlock(data, 8, 8)
	require.NoError(t, err)

	coded[len(coded)-1] = 0x7F
	coded[len(coded)-2] = 0x7F
	_, err = DecodeBlock(coded, 8, 8)
	require.Error(t, err)
}
