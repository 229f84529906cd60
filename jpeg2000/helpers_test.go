package jpeg2000

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rasterlab/go-j2k/jpeg2000/codestream"
	"github.com/rasterlab/go-j2k/jpeg2000/t1"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

func parseForTest(t *testing.T, data []byte) *codestream.Codestream {
	t.Helper()
	cs, err := codestream.NewParser(data).Parse()
	require.NoError(t, err)
	return cs
}

func TestMarkerStructure(t *testing.T) {
	plane := make([]int32, 16*16)
	for i := range plane {
		plane[i] = int32(i % 256)
	}
	params := DefaultEncodeParams(16, 16, 1, 8, false)
	params.NumLevels = 3

	enc := NewEncoder(params)
	data, err := enc.EncodeComponents([][]int32{plane})
	require.NoError(t, err)

	// SOC at offset 0, EOC at the tail, exactly once each.
	require.Equal(t, byte(0xFF), data[0])
	require.Equal(t, byte(0x4F), data[1])
	require.Equal(t, byte(0xFF), data[len(data)-2])
	require.Equal(t, byte(0xD9), data[len(data)-1])

	cs := parseForTest(t, data)
	require.NotNil(t, cs.SIZ)
	require.NotNil(t, cs.COD)
	require.NotNil(t, cs.QCD)
	require.Len(t, cs.Tiles, 1)
	require.Equal(t, uint32(16), cs.SIZ.Xsiz)
	require.Equal(t, uint8(3), cs.COD.NumberOfDecompositionLevels)
	require.Equal(t, uint8(1), cs.COD.Transformation)
}

func TestGeometrySubbandPartition(t *testing.T) {
	// Subbands of one resolution tile the resolution's area exactly.
	for _, c := range []struct{ w, h, levels int }{
		{64, 64, 3}, {17, 29, 2}, {128, 96, 5},
	} {
		total := 0
		llW, llH := resolutionDims(c.w, c.h, c.levels, 0)
		total += llW * llH
		for res := 1; res <= c.levels; res++ {
			for _, band := range bandsForResolution(res) {
				_, _, bw, bh := subbandRegion(c.w, c.h, c.levels, res, band)
				total += bw * bh
			}
		}
		require.Equal(t, c.w*c.h, total, "%dx%d levels=%d", c.w, c.h, c.levels)
	}
}

func TestGeometryCodeBlockCover(t *testing.T) {
	grids := componentGrid(64, 64, 2, 4, 4, nil)
	for res, precs := range grids {
		for _, prec := range precs {
			for _, band := range prec.Bands {
				area := 0
				for _, cb := range band.Blocks {
					require.NotNil(t, cb)
					require.Greater(t, cb.X1, cb.X0)
					require.Greater(t, cb.Y1, cb.Y0)
					area += (cb.X1 - cb.X0) * (cb.Y1 - cb.Y0)
				}
				_, _, bw, bh := subbandRegion(64, 64, 2, res, band.Orientation)
				require.Equal(t, bw*bh, area, "res %d band %d", res, band.Orientation)
			}
		}
	}
}

func TestQuantizationStepRoundTrip(t *testing.T) {
	for _, step := range []float64{0.001, 0.01, 0.125, 0.5, 1.0, 2.0, 10.0} {
		enc := encodeStepSize(step, 8)
		dec := decodeStepSize(enc, 8)
		ratio := dec / step
		require.InDelta(t, 1.0, ratio, 0.01, "step %g decoded as %g", step, dec)
	}
}

func TestQCDRoundTripReversible(t *testing.T) {
	q := reversibleQuantization(3, 8, 2)
	back := quantizationFromQCD(q.Sqcd(), q.SPqcd(), 3, 8)
	require.Equal(t, QuantizationNone, back.Style)
	require.Equal(t, 2, back.GuardBits)
	require.Equal(t, q.EncodedSteps, back.EncodedSteps)

	for res := 0; res <= 3; res++ {
		for _, band := range bandsForResolution(res) {
			require.Equal(t,
				q.numBps(3, res, band, 8),
				back.numBps(3, res, band, 8))
		}
	}
}

func TestQCDRoundTripExpounded(t *testing.T) {
	q := irreversibleQuantization(3, 8, 2, 80)
	back := quantizationFromQCD(q.Sqcd(), q.SPqcd(), 3, 8)
	require.Equal(t, QuantizationScalarExpounded, back.Style)
	for i := range q.StepSizes {
		require.InDelta(t, 1.0, back.StepSizes[i]/q.StepSizes[i], 0.01,
			"subband %d: %g vs %g", i, q.StepSizes[i], back.StepSizes[i])
	}
}

func TestPCRDSelectionsOnHull(t *testing.T) {
	// A non-convex pass curve: pass 2 is dominated and must fall off the
	// hull; every lambda selection lands on a hull point.
	cb := &t2.PrecinctCodeBlock{}
	passes := []t1.PassData{
		{Rate: 10, Distortion: 100},
		{Rate: 20, Distortion: 110},
		{Rate: 30, Distortion: 200},
		{Rate: 40, Distortion: 205},
	}
	b := newBlockRD(cb, passes, 1.0)

	for i := 2; i < len(b.slope); i++ {
		require.Less(t, b.slope[i], b.slope[i-1])
	}
	for _, p := range b.passIndex {
		require.NotEqual(t, 2, p, "dominated pass survived hull filtering")
	}

	for _, lambda := range []float64{0.1, 1, 5, 10, 100} {
		p, r := b.truncationFor(lambda)
		found := false
		for i := range b.passIndex {
			if b.passIndex[i] == p && b.rate[i] == r {
				found = true
			}
		}
		require.True(t, found)
	}
}

func TestPCRDBudgetRespected(t *testing.T) {
	var blocks []*blockRD
	for i := 0; i < 8; i++ {
		passes := []t1.PassData{
			{Rate: 50, Distortion: 1000},
			{Rate: 100, Distortion: 1500},
			{Rate: 150, Distortion: 1700},
		}
		blocks = append(blocks, newBlockRD(&t2.PrecinctCodeBlock{}, passes, 1.0))
	}

	allocateLayers(blocks, []int{400, 0})
	total := 0
	for _, b := range blocks {
		p := b.cb.LayerPasses[0]
		for i, pi := range b.passIndex {
			if pi == p {
				total += b.rate[i]
			}
		}
		// Final unconstrained layer takes everything.
		require.Equal(t, 3, b.cb.LayerPasses[1])
		require.LessOrEqual(t, b.cb.LayerPasses[0], b.cb.LayerPasses[1])
	}
	require.LessOrEqual(t, total, 400)
}
