package jpeg2000

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

func encodeDecode(t *testing.T, params *EncodeParams, planes [][]int32) (*Decoder, []byte) {
	t.Helper()

	enc := NewEncoder(params)
	data, err := enc.EncodeComponents(planes)
	require.NoError(t, err)

	dec := NewDecoder()
	require.NoError(t, dec.Decode(data))
	return dec, data
}

func psnr(a, b []int32, maxVal float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	mse := 0.0
	for i := range a {
		d := float64(a[i] - b[i])
		mse += d * d
	}
	mse /= float64(len(a))
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(maxVal*maxVal/mse)
}

// TestLosslessRampRoundTrip is the 16x16 grayscale ramp: bit-exact
// reconstruction from a compact single-packet codestream.
func TestLosslessRampRoundTrip(t *testing.T) {
	w, h := 16, 16
	plane := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			plane[y*w+x] = int32((y*16 + x) % 256)
		}
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 3
	params.CodeBlockWidthLog2 = 6
	params.CodeBlockHeightLog2 = 6

	dec, data := encodeDecode(t, params, [][]int32{plane})

	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
	require.Less(t, len(data), 400, "ramp tile should compress under 400 bytes")
	require.False(t, dec.Partial())
}

func TestLosslessRandomImages(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	cases := []struct {
		w, h, comps, depth, levels int
		signed                     bool
		ct                         ColorTransform
	}{
		{16, 16, 1, 8, 3, false, ColorTransformNone},
		{64, 64, 1, 8, 5, false, ColorTransformNone},
		{33, 47, 1, 12, 4, false, ColorTransformNone},
		{32, 32, 3, 8, 3, false, ColorTransformRCT},
		{17, 29, 1, 8, 2, true, ColorTransformNone},
		{128, 96, 1, 16, 5, false, ColorTransformNone},
	}
	for _, c := range cases {
		planes := make([][]int32, c.comps)
		maxVal := int32(1)<<uint(c.depth) - 1
		for i := range planes {
			planes[i] = make([]int32, c.w*c.h)
			for j := range planes[i] {
				if c.signed {
					planes[i][j] = rng.Int31n(int32(1)<<uint(c.depth)) - int32(1)<<uint(c.depth-1)
				} else {
					planes[i][j] = rng.Int31n(maxVal + 1)
				}
			}
		}

		params := DefaultEncodeParams(c.w, c.h, c.comps, c.depth, c.signed)
		params.NumLevels = c.levels
		params.ColorTransform = c.ct

		dec, _ := encodeDecode(t, params, planes)
		for i := range planes {
			got, err := dec.ComponentData(i)
			require.NoError(t, err)
			require.Equal(t, planes[i], got,
				"%dx%d comps=%d depth=%d levels=%d ct=%d component %d",
				c.w, c.h, c.comps, c.depth, c.levels, c.ct, i)
		}
	}
}

func TestLosslessAllProgressionOrdersDecodeSame(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	w, h := 40, 40
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	for _, order := range []t2.ProgressionOrder{
		t2.ProgressionLRCP, t2.ProgressionRLCP, t2.ProgressionRPCL,
		t2.ProgressionPCRL, t2.ProgressionCPRL,
	} {
		params := DefaultEncodeParams(w, h, 1, 8, false)
		params.NumLevels = 3
		params.Progression = order

		dec, _ := encodeDecode(t, params, [][]int32{plane})
		got, err := dec.ComponentData(0)
		require.NoError(t, err)
		require.Equal(t, plane, got, "order %s", order)
	}
}

func TestLosslessMultiTile(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	w, h := 70, 50
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.TileWidth = 32
	params.TileHeight = 32
	params.NumLevels = 3

	dec, _ := encodeDecode(t, params, [][]int32{plane})
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

func TestLosslessSmallCodeBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	w, h := 32, 32
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.CodeBlockWidthLog2 = 4
	params.CodeBlockHeightLog2 = 4
	params.NumLevels = 2

	dec, _ := encodeDecode(t, params, [][]int32{plane})
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

func TestLosslessPrecinctPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	w, h := 64, 64
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 2
	params.CodeBlockWidthLog2 = 4
	params.CodeBlockHeightLog2 = 4
	params.PrecinctSizes = []t2.PrecinctSize{{PPx: 5, PPy: 5}, {PPx: 5, PPy: 5}, {PPx: 5, PPy: 5}}

	dec, _ := encodeDecode(t, params, [][]int32{plane})
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

func TestLosslessSelectiveBypass(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	w, h := 64, 64
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(1 << 12)
	}

	params := DefaultEncodeParams(w, h, 1, 12, false)
	params.NumLevels = 3
	params.CodeBlockStyle = 0x01 // selective arithmetic coding bypass

	dec, _ := encodeDecode(t, params, [][]int32{plane})
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

func TestLosslessBypassLayered(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	w, h := 64, 64
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(1 << 12)
	}

	// Layer boundaries cut raw segments; the packet parser must stitch the
	// chunks back together before Tier-1 sees them.
	params := DefaultEncodeParams(w, h, 1, 12, false)
	params.NumLevels = 3
	params.NumLayers = 3
	params.LayerRates = []int{1000, 3000, 0}
	params.CodeBlockStyle = 0x01

	dec, _ := encodeDecode(t, params, [][]int32{plane})
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

// TestLossyTargetRate is the 64x64 RGB scenario: the codestream respects a
// byte budget and the reconstruction stays faithful.
func TestLossyTargetRate(t *testing.T) {
	w, h := 64, 64
	planes := make([][]int32, 3)
	for c := range planes {
		planes[c] = make([]int32, w*h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			planes[0][y*w+x] = int32(x * 255 / (w - 1)) // gradient in R
			planes[1][y*w+x] = 128
			planes[2][y*w+x] = 64
		}
	}

	params := DefaultEncodeParams(w, h, 3, 8, false)
	params.Lossless = false
	params.Filter = FilterIrreversible97
	params.ColorTransform = ColorTransformICT
	params.NumLevels = 5
	params.Quality = 90
	params.LayerRates = []int{8000}

	enc := NewEncoder(params)
	data, err := enc.EncodeComponents(planes)
	require.NoError(t, err)
	require.LessOrEqual(t, len(data), 8200, "codestream must respect the target")

	dec := NewDecoder()
	require.NoError(t, dec.Decode(data))
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, psnr(planes[0], got, 255), 35.0, "R channel PSNR")
}

// TestProgressiveResolution is the 128x128 scenario: a max-resolution
// constraint yields the reduced image; the same stream at full resolution
// yields the full image.
func TestProgressiveResolution(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	w, h := 128, 128
	plane := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Smooth content so reduced resolutions stay meaningful.
			plane[y*w+x] = int32((x+y)%256+int(rng.Int31n(8))) % 256
		}
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 4
	params.Progression = t2.ProgressionRLCP

	enc := NewEncoder(params)
	data, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	reduced := NewDecoder()
	reduced.SetConstraints(DecodeConstraints{MaxResolution: 2})
	require.NoError(t, reduced.Decode(data))
	require.Equal(t, 32, reduced.Width())
	require.Equal(t, 32, reduced.Height())

	full := NewDecoder()
	full.SetConstraints(DecodeConstraints{MaxResolution: 4})
	require.NoError(t, full.Decode(data))
	require.Equal(t, 128, full.Width())
	got, err := full.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

// TestProgressiveQuality is the layered-rate scenario: PSNR is
// non-decreasing across layer prefixes and every prefix decodes.
func TestProgressiveQuality(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	w, h := 64, 64
	plane := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			plane[y*w+x] = int32((x*y)%200) + rng.Int31n(20)
		}
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 4
	params.NumLayers = 5
	params.LayerRates = []int{500, 1000, 2000, 4000, 0}
	// Terminate every pass so each layer prefix decodes exactly.
	params.CodeBlockStyle = 0x04

	enc := NewEncoder(params)
	data, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	prevPSNR := 0.0
	for layers := 1; layers <= 5; layers++ {
		dec := NewDecoder()
		dec.SetConstraints(DecodeConstraints{MaxLayers: layers})
		require.NoError(t, dec.Decode(data))
		got, err := dec.ComponentData(0)
		require.NoError(t, err)
		p := psnr(plane, got, 255)
		require.GreaterOrEqual(t, p+1e-9, prevPSNR,
			"layer %d PSNR %.2f dropped below %.2f", layers, p, prevPSNR)
		if !math.IsInf(p, 1) {
			prevPSNR = p
		} else {
			prevPSNR = 1e9
		}
	}

	// Full decode of a lossless final layer is exact.
	dec := NewDecoder()
	require.NoError(t, dec.Decode(data))
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

// TestHTRoundTrip is the HT_ONLY scenario: bit-exact round trip with CAP
// and HT style bits signaled.
func TestHTRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(51))
	w, h := 32, 32
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 3
	params.NumLayers = 2
	params.HTMode = HTModeHTOnly

	enc := NewEncoder(params)
	data, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	// The stream declares Part 15.
	cs := parseForTest(t, data)
	require.NotNil(t, cs.CAP)
	require.True(t, cs.CAP.IsHTJ2K())
	require.NotZero(t, cs.COD.CodeBlockStyle&0x80, "HT_ONLY style bit")
	require.NotNil(t, cs.CPF)

	dec := NewDecoder()
	require.NoError(t, dec.Decode(data))
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

// TestTranscodeRoundTrip is the transcode scenario: HT -> Part 1 -> HT
// reproduces the HT codestream bytes and the decoded image.
func TestTranscodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(61))
	w, h := 32, 32
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 3
	params.HTMode = HTModeHTOnly

	enc := NewEncoder(params)
	htStream, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	p1Stream, err := TranscodeToPart1(htStream)
	require.NoError(t, err)

	// The Part 1 stream decodes to the same image.
	dec := NewDecoder()
	require.NoError(t, dec.Decode(p1Stream))
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)

	// Converting back reproduces the HT bytes.
	htAgain, err := TranscodeToHT(p1Stream)
	require.NoError(t, err)
	require.Equal(t, htStream, htAgain)
}

func TestTruncatedStreamBestEffort(t *testing.T) {
	rng := rand.New(rand.NewSource(71))
	w, h := 64, 64
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 3
	params.NumLayers = 4
	params.LayerRates = []int{400, 900, 1800, 0}

	enc := NewEncoder(params)
	data, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	// Drop the EOC and a chunk of the tail; the decoder reports a partial
	// image instead of failing.
	truncated := data[:len(data)*2/3]
	dec := NewDecoder()
	err = dec.Decode(truncated)
	if err == nil {
		require.True(t, dec.Partial())
		got, cerr := dec.ComponentData(0)
		require.NoError(t, cerr)
		require.Len(t, got, w*h)
	}
}

func TestROILosslessRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(81))
	w, h := 32, 32
	plane := make([]int32, w*h)
	for i := range plane {
		plane[i] = rng.Int31n(256)
	}

	params := DefaultEncodeParams(w, h, 1, 8, false)
	params.NumLevels = 2
	params.ROI = &ROIParams{Component: 0, Shift: 12}

	dec, data := encodeDecode(t, params, [][]int32{plane})
	got, err := dec.ComponentData(0)
	require.NoError(t, err)
	require.Equal(t, plane, got)

	cs := parseForTest(t, data)
	require.Len(t, cs.RGN, 1)
	require.NotZero(t, cs.RGN[0].SPrgn)
}

func TestInvalidConfigurationRejected(t *testing.T) {
	params := DefaultEncodeParams(16, 16, 1, 8, false)
	params.CodeBlockWidthLog2 = 11
	require.Error(t, params.Validate())

	params = DefaultEncodeParams(16, 16, 1, 8, false)
	params.NumLevels = 40
	require.Error(t, params.Validate())

	params = DefaultEncodeParams(16, 16, 1, 8, false)
	params.Lossless = true
	params.Filter = FilterIrreversible97
	require.Error(t, params.Validate())

	params = DefaultEncodeParams(16, 16, 2, 8, false)
	params.ColorTransform = ColorTransformRCT
	require.Error(t, params.Validate())
}

func TestRateControlInfeasible(t *testing.T) {
	plane := make([]int32, 64*64)
	params := DefaultEncodeParams(64, 64, 1, 8, false)
	params.NumLayers = 1
	params.LayerRates = []int{10}

	enc := NewEncoder(params)
	_, err := enc.EncodeComponents([][]int32{plane})
	require.Error(t, err)
}
