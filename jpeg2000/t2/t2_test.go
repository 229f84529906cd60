package t2

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rasterlab/go-j2k/jpeg2000/bitio"
)

func TestTagTreeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, dims := range []struct{ w, h int }{{1, 1}, {2, 2}, {3, 5}, {8, 8}, {7, 3}} {
		values := make([]int, dims.w*dims.h)
		for i := range values {
			values[i] = rng.Intn(10)
		}

		enc := NewTagTree(dims.w, dims.h)
		for y := 0; y < dims.h; y++ {
			for x := 0; x < dims.w; x++ {
				enc.SetValue(x, y, values[y*dims.w+x])
			}
		}
		enc.Build()

		w := bitio.NewWriter()
		for y := 0; y < dims.h; y++ {
			for x := 0; x < dims.w; x++ {
				require.NoError(t, enc.Encode(w, x, y, values[y*dims.w+x]+1))
			}
		}
		data := w.Flush()

		dec := NewTagTree(dims.w, dims.h)
		r := bitio.NewReader(data)
		for y := 0; y < dims.h; y++ {
			for x := 0; x < dims.w; x++ {
				v, err := dec.DecodeFull(r, x, y)
				require.NoError(t, err)
				require.Equal(t, values[y*dims.w+x], v, "leaf (%d,%d)", x, y)
			}
		}
	}
}

func TestTagTreeProgressiveThresholds(t *testing.T) {
	// Encoding with growing thresholds across "layers" must decode with the
	// same threshold sequence.
	enc := NewTagTree(2, 2)
	values := []int{0, 2, 1, 3}
	for i, v := range values {
		enc.SetValue(i%2, i/2, v)
	}
	enc.Build()

	w := bitio.NewWriter()
	for threshold := 1; threshold <= 4; threshold++ {
		for i := range values {
			require.NoError(t, enc.Encode(w, i%2, i/2, threshold))
		}
	}
	data := w.Flush()

	dec := NewTagTree(2, 2)
	r := bitio.NewReader(data)
	for threshold := 1; threshold <= 4; threshold++ {
		for i := range values {
			v, known, err := dec.Decode(r, i%2, i/2, threshold)
			require.NoError(t, err)
			if values[i] < threshold {
				require.True(t, known)
				require.Equal(t, values[i], v)
			} else {
				require.False(t, known)
			}
		}
	}
}

func TestNumPassesCodeRoundTrip(t *testing.T) {
	for n := 1; n <= 164; n++ {
		w := bitio.NewWriter()
		require.NoError(t, encodeNumPasses(w, n))
		r := bitio.NewReader(w.Flush())
		got, err := decodeNumPasses(r)
		require.NoError(t, err)
		require.Equal(t, n, got)
	}

	w := bitio.NewWriter()
	require.Error(t, encodeNumPasses(w, 165))
}

// buildGrid constructs a tile grid with random code-block contents.
func buildGrid(t *testing.T, rng *rand.Rand, numLayers, numRes, numComps int, termAll bool) *TileGrid {
	t.Helper()

	grid := &TileGrid{
		NumLayers:      numLayers,
		NumResolutions: numRes,
		NumComponents:  numComps,
		Order:          ProgressionLRCP,
	}
	grid.Precincts = make([][][]*Precinct, numComps)
	for c := 0; c < numComps; c++ {
		grid.Precincts[c] = make([][]*Precinct, numRes)
		for r := 0; r < numRes; r++ {
			prec := &Precinct{Index: 0}
			numBands := 1
			if r > 0 {
				numBands = 3
			}
			for b := 0; b < numBands; b++ {
				orient := 0
				if r > 0 {
					orient = b + 1
				}
				band := &PrecinctBand{Orientation: orient, NumCBX: 2, NumCBY: 2}
				for i := 0; i < 4; i++ {
					cb := &PrecinctCodeBlock{
						CBX: i % 2, CBY: i / 2,
						Orientation:   orient,
						ZeroBitPlanes: rng.Intn(5),
						TermAll:       termAll,
					}
					numPasses := rng.Intn(7) // may be zero: block never included
					end := 0
					for p := 0; p < numPasses; p++ {
						end += 1 + rng.Intn(40)
						cb.PassEnds = append(cb.PassEnds, end)
					}
					cb.Data = make([]byte, end)
					rng.Read(cb.Data)
					// Avoid illegal 0xFF >= 0x90 pairs inside fake pass data.
					for j := range cb.Data {
						if cb.Data[j] == 0xFF {
							cb.Data[j] = 0x7F
						}
					}
					// Monotone layer allocation of passes.
					cb.LayerPasses = make([]int, numLayers)
					cur := 0
					for l := 0; l < numLayers; l++ {
						if cur < numPasses {
							cur += rng.Intn(numPasses - cur + 1)
						}
						cb.LayerPasses[l] = cur
					}
					cb.LayerPasses[numLayers-1] = numPasses
					band.Blocks = append(band.Blocks, cb)
				}
				prec.Bands = append(prec.Bands, band)
			}
			grid.Precincts[c][r] = []*Precinct{prec}
		}
	}
	return grid
}

// cloneGridForDecode builds a decode-side grid with the same geometry but
// empty block state.
func cloneGridForDecode(src *TileGrid) *TileGrid {
	dst := &TileGrid{
		NumLayers:      src.NumLayers,
		NumResolutions: src.NumResolutions,
		NumComponents:  src.NumComponents,
		Order:          src.Order,
	}
	dst.Precincts = make([][][]*Precinct, len(src.Precincts))
	for c := range src.Precincts {
		dst.Precincts[c] = make([][]*Precinct, len(src.Precincts[c]))
		for r := range src.Precincts[c] {
			for _, sp := range src.Precincts[c][r] {
				dp := &Precinct{Index: sp.Index}
				for _, sb := range sp.Bands {
					db := &PrecinctBand{
						Orientation: sb.Orientation,
						NumCBX:      sb.NumCBX,
						NumCBY:      sb.NumCBY,
					}
					for _, scb := range sb.Blocks {
						if scb == nil {
							db.Blocks = append(db.Blocks, nil)
							continue
						}
						db.Blocks = append(db.Blocks, &PrecinctCodeBlock{
							CBX: scb.CBX, CBY: scb.CBY,
							Orientation: scb.Orientation,
							TermAll:     scb.TermAll,
							Lazy:        scb.Lazy,
						})
					}
					dp.Bands = append(dp.Bands, db)
				}
				dst.Precincts[c][r] = append(dst.Precincts[c][r], dp)
			}
		}
	}
	return dst
}

func verifyDecodedGrid(t *testing.T, enc, dec *TileGrid, layers int) {
	t.Helper()
	for c := range enc.Precincts {
		for r := range enc.Precincts[c] {
			for pi, sp := range enc.Precincts[c][r] {
				dp := dec.Precincts[c][r][pi]
				for bi, sb := range sp.Bands {
					db := dp.Bands[bi]
					for ci, scb := range sb.Blocks {
						dcb := db.Blocks[ci]
						wantPasses := 0
						if layers > 0 && layers <= len(scb.LayerPasses) {
							wantPasses = scb.LayerPasses[layers-1]
						} else if len(scb.LayerPasses) > 0 {
							wantPasses = scb.LayerPasses[len(scb.LayerPasses)-1]
						}
						require.Equal(t, wantPasses, dcb.DecodedPasses,
							"c=%d r=%d band=%d cb=%d", c, r, bi, ci)
						wantBytes := 0
						if wantPasses > 0 {
							wantBytes = scb.PassEnds[wantPasses-1]
						}
						require.Equal(t, wantBytes, len(dcb.DecodedData))
						if wantBytes > 0 {
							require.Equal(t, scb.Data[:wantBytes], dcb.DecodedData)
							require.Equal(t, scb.ZeroBitPlanes, dcb.DecodedZBP)
						}
					}
				}
			}
		}
	}
}

func TestPacketRoundTripAllOrders(t *testing.T) {
	for _, order := range []ProgressionOrder{
		ProgressionLRCP, ProgressionRLCP, ProgressionRPCL, ProgressionPCRL, ProgressionCPRL,
	} {
		rng := rand.New(rand.NewSource(42))
		grid := buildGrid(t, rng, 3, 3, 2, false)
		grid.Order = order

		enc := &PacketEncoder{Grid: grid}
		packets, err := enc.EncodePackets()
		require.NoError(t, err)
		data := PacketsBytes(packets)

		decGrid := cloneGridForDecode(grid)
		pd := NewPacketDecoder(decGrid, data)
		decoded, err := pd.DecodePackets(0)
		require.NoError(t, err, "order %s", order)
		require.Equal(t, len(packets), len(decoded))

		verifyDecodedGrid(t, grid, decGrid, 0)
	}
}

func TestPacketRoundTripTermAll(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	grid := buildGrid(t, rng, 2, 2, 1, true)

	enc := &PacketEncoder{Grid: grid}
	packets, err := enc.EncodePackets()
	require.NoError(t, err)

	decGrid := cloneGridForDecode(grid)
	pd := NewPacketDecoder(decGrid, PacketsBytes(packets))
	_, err = pd.DecodePackets(0)
	require.NoError(t, err)
	verifyDecodedGrid(t, grid, decGrid, 0)

	// Segment boundaries survive the header round trip.
	for c := range grid.Precincts {
		for r := range grid.Precincts[c] {
			for pi := range grid.Precincts[c][r] {
				sp := grid.Precincts[c][r][pi]
				dp := decGrid.Precincts[c][r][pi]
				for bi := range sp.Bands {
					for ci, scb := range sp.Bands[bi].Blocks {
						dcb := dp.Bands[bi].Blocks[ci]
						want := len(scb.PassEnds)
						if want > 0 {
							require.Equal(t, scb.PassEnds[:want], dcb.DecodedSegEnds[:want])
						}
					}
				}
			}
		}
	}
}

func TestBypassContributionSegments(t *testing.T) {
	cb := &PrecinctCodeBlock{Lazy: true}
	require.Equal(t, []int{10, 2, 1, 2, 1}, contributionSegments(cb, 0, 16))
	require.Equal(t, []int{7, 2, 1}, contributionSegments(cb, 3, 10))
	require.Nil(t, contributionSegments(cb, 4, 0))

	term := &PrecinctCodeBlock{TermAll: true}
	require.Equal(t, []int{1, 1, 1}, contributionSegments(term, 5, 3))

	plain := &PrecinctCodeBlock{}
	require.Equal(t, []int{4}, contributionSegments(plain, 0, 4))
}

func TestPacketRoundTripSelectiveBypass(t *testing.T) {
	rng := rand.New(rand.NewSource(23))

	// 13 passes split 11+2 across two layers: the layer boundary cuts the
	// first raw pair, so its two chunks must merge back into one segment.
	cb := &PrecinctCodeBlock{Lazy: true, ZeroBitPlanes: 2}
	end := 0
	for p := 0; p < 13; p++ {
		end += 3 + rng.Intn(20)
		cb.PassEnds = append(cb.PassEnds, end)
	}
	cb.Data = make([]byte, end)
	rng.Read(cb.Data)
	for j := range cb.Data {
		if cb.Data[j] == 0xFF {
			cb.Data[j] = 0x7F
		}
	}
	cb.LayerPasses = []int{11, 13}

	grid := &TileGrid{NumLayers: 2, NumResolutions: 1, NumComponents: 1, Order: ProgressionLRCP}
	band := &PrecinctBand{Orientation: 0, NumCBX: 1, NumCBY: 1, Blocks: []*PrecinctCodeBlock{cb}}
	grid.Precincts = [][][]*Precinct{{{&Precinct{Bands: []*PrecinctBand{band}}}}}

	enc := &PacketEncoder{Grid: grid}
	packets, err := enc.EncodePackets()
	require.NoError(t, err)

	decGrid := cloneGridForDecode(grid)
	pd := NewPacketDecoder(decGrid, PacketsBytes(packets))
	_, err = pd.DecodePackets(0)
	require.NoError(t, err)

	dcb := decGrid.Precincts[0][0][0].Bands[0].Blocks[0]
	require.Equal(t, 13, dcb.DecodedPasses)
	require.Equal(t, cb.Data, dcb.DecodedData)
	require.Equal(t, []int{10, 2, 1}, dcb.DecodedSegPasses)
	require.Equal(t, []int{cb.PassEnds[9], cb.PassEnds[11], cb.PassEnds[12]}, dcb.DecodedSegEnds)
}

func TestPacketRoundTripSOPEPH(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	grid := buildGrid(t, rng, 2, 2, 1, false)

	enc := &PacketEncoder{Grid: grid, UseSOP: true, UseEPH: true}
	packets, err := enc.EncodePackets()
	require.NoError(t, err)

	decGrid := cloneGridForDecode(grid)
	pd := NewPacketDecoder(decGrid, PacketsBytes(packets))
	_, err = pd.DecodePackets(0)
	require.NoError(t, err)
	verifyDecodedGrid(t, grid, decGrid, 0)
}

func TestPacketLayerLimitedDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	grid := buildGrid(t, rng, 4, 2, 1, false)

	enc := &PacketEncoder{Grid: grid}
	packets, err := enc.EncodePackets()
	require.NoError(t, err)

	decGrid := cloneGridForDecode(grid)
	pd := NewPacketDecoder(decGrid, PacketsBytes(packets))
	_, err = pd.DecodePackets(2)
	require.NoError(t, err)
	verifyDecodedGrid(t, grid, decGrid, 2)
}

func TestPacketTruncationAtBoundary(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	grid := buildGrid(t, rng, 3, 2, 1, false)
	grid.Order = ProgressionLRCP

	enc := &PacketEncoder{Grid: grid}
	packets, err := enc.EncodePackets()
	require.NoError(t, err)

	// Keep only the first layer's packets (LRCP: layer-major).
	perLayer := len(packets) / 3
	var truncated []byte
	for _, p := range packets[:perLayer] {
		truncated = append(truncated, p.Header...)
		truncated = append(truncated, p.Body...)
	}

	decGrid := cloneGridForDecode(grid)
	pd := NewPacketDecoder(decGrid, truncated)
	decoded, err := pd.DecodePackets(0)
	require.NoError(t, err)
	require.Equal(t, perLayer, len(decoded))
	verifyDecodedGrid(t, grid, decGrid, 1)
}

func TestProgressionSequences(t *testing.T) {
	counts := func(c, r int) int { return 2 }
	seq := PacketSequence(ProgressionLRCP, 2, 2, 2, counts)
	require.Len(t, seq, 2*2*2*2)
	// LRCP: first 8 packets are layer 0.
	for _, pc := range seq[:8] {
		require.Equal(t, 0, pc.Layer)
	}

	seq = PacketSequence(ProgressionRLCP, 2, 2, 2, counts)
	for _, pc := range seq[:8] {
		require.Equal(t, 0, pc.Resolution)
	}

	seq = PacketSequence(ProgressionCPRL, 2, 2, 2, counts)
	for _, pc := range seq[:8] {
		require.Equal(t, 0, pc.Component)
	}

	// Every order enumerates the same packet set.
	all := map[PacketCoord]bool{}
	for _, pc := range PacketSequence(ProgressionPCRL, 2, 2, 2, counts) {
		all[pc] = true
	}
	require.Len(t, all, 16)
}
