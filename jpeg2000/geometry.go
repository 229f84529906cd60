package jpeg2000

import (
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

// Tile and subband geometry. Tiles use local coordinates with origin (0,0);
// the in-place DWT keeps every level's LL in the top-left of the tile
// buffer, so a subband is a rectangle addressed with the tile stride.

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func ceilDivPow2(n, pow int) int {
	if pow <= 0 {
		return n
	}
	return (n + (1 << uint(pow)) - 1) >> uint(pow)
}

// resolutionDims returns a tile-component's size at resolution r out of
// numLevels+1 resolutions.
func resolutionDims(w, h, numLevels, res int) (int, int) {
	pow := numLevels - res
	if pow < 0 {
		pow = 0
	}
	rw := ceilDivPow2(w, pow)
	rh := ceilDivPow2(h, pow)
	if rw < 1 && w > 0 {
		rw = 1
	}
	if rh < 1 && h > 0 {
		rh = 1
	}
	return rw, rh
}

// Subband orientations within a resolution.
const (
	bandLL = 0
	bandHL = 1
	bandLH = 2
	bandHH = 3
)

// subbandRegion returns the subband's rectangle inside the tile buffer:
// offset (x0,y0) and size (w,h). res 0 carries LL only; higher resolutions
// carry HL, LH, HH of decomposition step numLevels-res+1.
func subbandRegion(tileW, tileH, numLevels, res, band int) (x0, y0, w, h int) {
	if res == 0 {
		w, h = resolutionDims(tileW, tileH, numLevels, 0)
		return 0, 0, w, h
	}

	// Sizes of the enclosing resolution and its LL split.
	parentW, parentH := resolutionDims(tileW, tileH, numLevels, res)
	lowW, lowH := resolutionDims(tileW, tileH, numLevels, res-1)

	switch band {
	case bandHL:
		return lowW, 0, parentW - lowW, lowH
	case bandLH:
		return 0, lowH, lowW, parentH - lowH
	case bandHH:
		return lowW, lowH, parentW - lowW, parentH - lowH
	default:
		return 0, 0, 0, 0
	}
}

// subbandIndex maps (resolution, band) to the QCD step-size index order:
// LL, HL1, LH1, HH1, HL2, ...
func subbandIndex(numLevels, res, band int) int {
	if res == 0 {
		return 0
	}
	return 1 + (res-1)*3 + (band - 1)
}

// numSubbands returns the subband count for a decomposition depth.
func numSubbands(numLevels int) int {
	return 3*numLevels + 1
}

// subbandGainLog2 is the reversible path's log2 gain per orientation.
func subbandGainLog2(band int) int {
	switch band {
	case bandLL:
		return 0
	case bandHL, bandLH:
		return 1
	default:
		return 2
	}
}

// bandsForResolution lists the subband orientations a resolution carries.
func bandsForResolution(res int) []int {
	if res == 0 {
		return []int{bandLL}
	}
	return []int{bandHL, bandLH, bandHH}
}

// precinctBandExp converts a precinct size exponent on the resolution grid
// to the subband grid: halved for resolutions above 0.
func precinctBandExp(exp, res int) int {
	if res == 0 {
		return exp
	}
	if exp > 0 {
		return exp - 1
	}
	return 0
}

// precinctGrid returns the precinct partition of a resolution level.
func precinctGrid(resW, resH, ppx, ppy int) (numPX, numPY int) {
	if resW <= 0 || resH <= 0 {
		return 0, 0
	}
	numPX = ceilDivPow2(resW, ppx)
	numPY = ceilDivPow2(resH, ppy)
	if numPX < 1 {
		numPX = 1
	}
	if numPY < 1 {
		numPY = 1
	}
	return numPX, numPY
}

// componentGrid builds the t2 precinct/band/code-block skeleton for one
// tile-component. Block payloads stay empty; the Tier-1 stage fills them.
func componentGrid(tileW, tileH, numLevels, cbWLog2, cbHLog2 int,
	precincts []t2.PrecinctSize) [][]*t2.Precinct {

	out := make([][]*t2.Precinct, numLevels+1)
	for res := 0; res <= numLevels; res++ {
		ppx, ppy := 15, 15
		if len(precincts) > res {
			ppx = int(precincts[res].PPx)
			ppy = int(precincts[res].PPy)
		}
		resW, resH := resolutionDims(tileW, tileH, numLevels, res)
		numPX, numPY := precinctGrid(resW, resH, ppx, ppy)
		numPrec := numPX * numPY
		if numPrec < 1 {
			numPrec = 1
			numPX, numPY = 1, 1
		}

		// Code-block size is capped by the precinct size on the band grid.
		bandPPX := precinctBandExp(ppx, res)
		bandPPY := precinctBandExp(ppy, res)
		cbw := cbWLog2
		if cbw > bandPPX {
			cbw = bandPPX
		}
		cbh := cbHLog2
		if cbh > bandPPY {
			cbh = bandPPY
		}

		precs := make([]*t2.Precinct, numPrec)
		for p := range precs {
			precs[p] = &t2.Precinct{Index: p}
		}

		for _, band := range bandsForResolution(res) {
			_, _, bw, bh := subbandRegion(tileW, tileH, numLevels, res, band)

			// Per-precinct band slices: the precinct's projection on this
			// band.
			bandPW := 1 << uint(bandPPX)
			bandPH := 1 << uint(bandPPY)

			for py := 0; py < numPY; py++ {
				for px := 0; px < numPX; px++ {
					prec := precs[py*numPX+px]

					bx0 := px * bandPW
					by0 := py * bandPH
					bx1 := bx0 + bandPW
					by1 := by0 + bandPH
					if bx1 > bw {
						bx1 = bw
					}
					if by1 > bh {
						by1 = bh
					}

					pb := &t2.PrecinctBand{Orientation: band}
					if bx0 < bx1 && by0 < by1 {
						cbW := 1 << uint(cbw)
						cbH := 1 << uint(cbh)
						pb.NumCBX = ceilDiv(bx1-bx0, cbW)
						pb.NumCBY = ceilDiv(by1-by0, cbH)
						for cy := 0; cy < pb.NumCBY; cy++ {
							for cx := 0; cx < pb.NumCBX; cx++ {
								x0 := bx0 + cx*cbW
								y0 := by0 + cy*cbH
								x1 := x0 + cbW
								y1 := y0 + cbH
								if x1 > bx1 {
									x1 = bx1
								}
								if y1 > by1 {
									y1 = by1
								}
								pb.Blocks = append(pb.Blocks, &t2.PrecinctCodeBlock{
									CBX: cx, CBY: cy,
									X0: x0, Y0: y0, X1: x1, Y1: y1,
									Orientation: band,
								})
							}
						}
					}
					prec.Bands = append(prec.Bands, pb)
				}
			}
		}
		out[res] = precs
	}
	return out
}
