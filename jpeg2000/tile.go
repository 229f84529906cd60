package jpeg2000

import (
	"fmt"
	"math/bits"

	"github.com/rasterlab/go-j2k/codec"
	"github.com/rasterlab/go-j2k/jpeg2000/colorspace"
	"github.com/rasterlab/go-j2k/jpeg2000/htj2k"
	"github.com/rasterlab/go-j2k/jpeg2000/t1"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
	"github.com/rasterlab/go-j2k/jpeg2000/wavelet"
)

// tileContext carries one tile through the pipeline stages. Tiles are
// fully independent: DWT, quantization, Tier-1, and packet assembly touch
// only tile-local state, so tiles run concurrently and synchronize only at
// final codestream assembly.
type tileContext struct {
	index  int
	x0, y0 int // origin on the reference grid
	w, h   int

	// comps holds tile-local planes; during encode they hold samples, then
	// wavelet coefficients, then quantizer indices in subband layout.
	comps [][]int32

	grid *t2.TileGrid

	// rd collects the tile's blocks for rate control (encode side).
	rd []*blockRD
}

// tileLayout partitions the image grid into tiles.
func tileLayout(width, height, tileW, tileH int) []*tileContext {
	if tileW <= 0 {
		tileW = width
	}
	if tileH <= 0 {
		tileH = height
	}
	numX := ceilDiv(width, tileW)
	numY := ceilDiv(height, tileH)

	tiles := make([]*tileContext, 0, numX*numY)
	for ty := 0; ty < numY; ty++ {
		for tx := 0; tx < numX; tx++ {
			x0 := tx * tileW
			y0 := ty * tileH
			w := tileW
			if x0+w > width {
				w = width - x0
			}
			h := tileH
			if y0+h > height {
				h = height - y0
			}
			tiles = append(tiles, &tileContext{
				index: ty*numX + tx,
				x0:    x0, y0: y0, w: w, h: h,
			})
		}
	}
	return tiles
}

// extractTilePlanes copies tile-local planes out of full-image components.
func extractTilePlanes(planes [][]int32, imageW int, tile *tileContext) [][]int32 {
	out := make([][]int32, len(planes))
	for c := range planes {
		plane := make([]int32, tile.w*tile.h)
		for y := 0; y < tile.h; y++ {
			src := (tile.y0+y)*imageW + tile.x0
			copy(plane[y*tile.w:(y+1)*tile.w], planes[c][src:src+tile.w])
		}
		out[c] = plane
	}
	return out
}

// forwardColorTransform applies the multi-component transform in place.
func forwardColorTransform(comps [][]int32, ct ColorTransform) {
	if len(comps) < 3 {
		return
	}
	switch ct {
	case ColorTransformRCT:
		colorspace.ApplyRCT(comps[0], comps[1], comps[2])
	case ColorTransformICT:
		colorspace.ApplyICT(comps[0], comps[1], comps[2])
	}
}

// inverseColorTransform reverses forwardColorTransform.
func inverseColorTransform(comps [][]int32, ct ColorTransform) {
	if len(comps) < 3 {
		return
	}
	switch ct {
	case ColorTransformRCT:
		colorspace.ApplyInverseRCT(comps[0], comps[1], comps[2])
	case ColorTransformICT:
		colorspace.ApplyInverseICT(comps[0], comps[1], comps[2])
	}
}

// encodeTileComponent runs DWT, quantization, and Tier-1 for one
// tile-component, filling the component's precinct grid.
func encodeTileComponent(tile *tileContext, comp int, p *EncodeParams,
	q *QuantizationParams, roi *ROIParams, roiShift int) ([][]*t2.Precinct, []*blockRD, error) {

	numLevels := p.NumLevels
	plane := tile.comps[comp]

	// Stage: wavelet transform. 5/3 runs on integers in place; 9/7 runs on
	// floats and is quantized back into the same integer layout.
	var floatPlane []float64
	reversible := p.effectiveFilter() == FilterReversible53
	if reversible {
		wavelet.ForwardMultilevel(plane, tile.w, tile.h, numLevels)
	} else {
		floatPlane = make([]float64, len(plane))
		for i, v := range plane {
			floatPlane[i] = float64(v)
		}
		wavelet.ForwardMultilevel97(floatPlane, tile.w, tile.h, numLevels)
	}

	// Stage: quantization per subband (9/7 only).
	if !reversible {
		for res := 0; res <= numLevels; res++ {
			for _, band := range bandsForResolution(res) {
				sx, sy, sw, sh := subbandRegion(tile.w, tile.h, numLevels, res, band)
				step := q.stepSize(numLevels, res, band)
				row := make([]float64, sw)
				qrow := make([]int32, sw)
				for y := 0; y < sh; y++ {
					base := (sy+y)*tile.w + sx
					copy(row, floatPlane[base:base+sw])
					quantize(row, qrow, step)
					copy(plane[base:base+sw], qrow)
				}
			}
		}
	}

	grid := componentGrid(tile.w, tile.h, numLevels,
		p.CodeBlockWidthLog2, p.CodeBlockHeightLog2, p.PrecinctSizes)

	var rd []*blockRD

	// Stage: Tier-1. Blocks are independent; context state never crosses a
	// block boundary.
	for res := 0; res <= numLevels; res++ {
		var roiBand *roiSubband
		if roi != nil && roi.Component == comp && roiShift > 0 {
			roiBand = projectROI(roi, tile.x0, tile.y0, numLevels, res)
		}
		for _, prec := range grid[res] {
			for _, band := range prec.Bands {
				sx, sy, _, _ := subbandRegion(tile.w, tile.h, numLevels, res, band.Orientation)
				numbps := q.numBps(numLevels, res, band.Orientation, p.BitDepth)
				if roi != nil && roi.Component == comp {
					numbps += roiShift
				}
				level := numLevels - res
				if level < 0 {
					level = 0
				}
				weight := distortionWeight(q, numLevels, res, band.Orientation, level)

				for _, cb := range band.Blocks {
					if cb == nil {
						continue
					}
					if err := encodeCodeBlock(cb, plane, tile.w, sx, sy, numbps,
						weight, p, roiBand, roiShift); err != nil {
						return nil, nil, err
					}
					if h, ok := cb.RDHandle.(*blockRD); ok {
						rd = append(rd, h)
					}
					cb.RDHandle = nil
				}
			}
		}
	}

	return grid, rd, nil
}

// distortionWeight scales block distortion estimates so slopes compare
// across subbands: squared synthesis norm times squared step size.
func distortionWeight(q *QuantizationParams, numLevels, res, band, level int) float64 {
	norm := dwtNorm97(level, band)
	step := q.stepSize(numLevels, res, band)
	if step <= 0 {
		step = 1
	}
	return norm * norm * step * step
}

// encodeCodeBlock extracts a block's samples and runs the configured Tier-1
// coder, storing coded bytes and rate-control data on the block.
func encodeCodeBlock(cb *t2.PrecinctCodeBlock, plane []int32, stride, sx, sy, numbps int,
	weight float64, p *EncodeParams, roiBand *roiSubband, roiShift int) error {

	w := cb.X1 - cb.X0
	h := cb.Y1 - cb.Y0
	if w <= 0 || h <= 0 {
		return nil
	}

	data := make([]int32, w*h)
	for y := 0; y < h; y++ {
		base := (sy+cb.Y0+y)*stride + sx + cb.X0
		copy(data[y*w:(y+1)*w], plane[base:base+w])
	}

	applyROIShift(data, w, cb.X0, cb.Y0, roiBand, roiShift)

	maxBP := t1.MaxBitplane(data)
	if maxBP >= numbps {
		return codec.NewStreamError(codec.ErrCoefficientOverflow, -1,
			fmt.Sprintf("block magnitude needs %d planes, budget %d", maxBP+1, numbps))
	}
	cb.ZeroBitPlanes = numbps - 1 - maxBP
	if maxBP < 0 {
		cb.ZeroBitPlanes = numbps
	}

	useHT := p.HTMode == HTModeHTOnly || p.HTMode == HTModeHT
	if useHT {
		coded, err := htj2k.EncodeBlock(data, w, h)
		if err != nil {
			return err
		}
		cb.HTBlock = true
		cb.Data = coded
		if len(coded) > 0 {
			cb.PassEnds = []int{len(coded)}
		}
		cb.RDHandle = htBlockRD(cb)
		return nil
	}

	style := int(p.CodeBlockStyle)
	enc := t1.NewEncoder(w, h, style)
	enc.SetOrientation(cb.Orientation)
	passes, coded, err := enc.Encode(data, 0)
	if err != nil {
		return err
	}

	cb.Data = coded
	cb.TermAll = style&t1.CblkStyleTermAll != 0
	cb.Lazy = !cb.TermAll && style&t1.CblkStyleLazy != 0
	cb.PassEnds = make([]int, len(passes))
	for i := range passes {
		cb.PassEnds[i] = passes[i].ActualBytes
	}
	cb.RDHandle = newBlockRD(cb, passes, weight)
	return nil
}

// htBlockRD wraps an HT block as a single-truncation-point candidate.
func htBlockRD(cb *t2.PrecinctCodeBlock) *blockRD {
	b := &blockRD{
		cb:        cb,
		passIndex: []int{0},
		rate:      []int{0},
		dist:      []float64{0},
		slope:     []float64{1e300},
	}
	if len(cb.Data) > 0 {
		b.totalPasses = 1
		b.passIndex = append(b.passIndex, 1)
		b.rate = append(b.rate, len(cb.Data))
		b.dist = append(b.dist, 1e18)
		b.slope = append(b.slope, 1e18/float64(len(cb.Data)))
	}
	return b
}

// decodeTileComponent reverses the pipeline for one tile-component once the
// packet decoder has filled the grid's block contributions.
func decodeTileComponent(tile *tileContext, comp int, grid [][]*t2.Precinct,
	p *decodeParams, q *QuantizationParams, roiShift int, maxRes int) ([]int32, error) {

	numLevels := p.numLevels
	plane := make([]int32, tile.w*tile.h)

	targetRes := numLevels
	if maxRes > 0 && maxRes < targetRes {
		targetRes = maxRes
	}

	// Stage: Tier-1 decode into the subband layout. A block that fails
	// leaves zero coefficients; other blocks are unaffected.
	for res := 0; res <= targetRes && res < len(grid); res++ {
		for _, prec := range grid[res] {
			for _, band := range prec.Bands {
				sx, sy, _, _ := subbandRegion(tile.w, tile.h, numLevels, res, band.Orientation)
				numbps := q.numBps(numLevels, res, band.Orientation, p.bitDepth)
				if roiShift > 0 {
					numbps += roiShift
				}

				for _, cb := range band.Blocks {
					if cb == nil {
						continue
					}
					cb.DecodedNumBps = numbps
					data, err := decodeCodeBlock(cb, p)
					if err != nil || data == nil {
						continue
					}

					undoROIShift(data, roiShift)

					w := cb.X1 - cb.X0
					for y := 0; y < cb.Y1-cb.Y0; y++ {
						base := (sy+cb.Y0+y)*tile.w + sx + cb.X0
						copy(plane[base:base+w], data[y*w:(y+1)*w])
					}
				}
			}
		}
	}

	// Stage: dequantize + inverse DWT.
	reversible := p.transformation == 1
	if reversible {
		rw, rh := resolutionDims(tile.w, tile.h, numLevels, targetRes)
		wavelet.InverseMultilevel(plane, rw, rh, targetRes)
		if targetRes < numLevels {
			// Extract the reduced-resolution plane contiguously.
			out := make([]int32, rw*rh)
			for y := 0; y < rh; y++ {
				copy(out[y*rw:(y+1)*rw], plane[y*tile.w:y*tile.w+rw])
			}
			return out, nil
		}
		return plane, nil
	}

	floatPlane := make([]float64, len(plane))
	for res := 0; res <= targetRes; res++ {
		for _, band := range bandsForResolution(res) {
			sx, sy, sw, sh := subbandRegion(tile.w, tile.h, numLevels, res, band)
			step := q.stepSize(numLevels, res, band)
			qrow := make([]int32, sw)
			row := make([]float64, sw)
			for y := 0; y < sh; y++ {
				base := (sy+y)*tile.w + sx
				copy(qrow, plane[base:base+sw])
				dequantize(qrow, row, step, p.reconstructionOffset)
				copy(floatPlane[base:base+sw], row)
			}
		}
	}

	rw, rh := resolutionDims(tile.w, tile.h, numLevels, targetRes)
	wavelet.InverseMultilevel97(floatPlane, rw, rh, targetRes)

	out := make([]int32, rw*rh)
	for y := 0; y < rh; y++ {
		for x := 0; x < rw; x++ {
			v := floatPlane[y*tile.w+x]
			if v >= 0 {
				out[y*rw+x] = int32(v + 0.5)
			} else {
				out[y*rw+x] = int32(v - 0.5)
			}
		}
	}
	return out, nil
}

// decodeCodeBlock runs the appropriate Tier-1 decoder over a block's
// accumulated packet contributions.
func decodeCodeBlock(cb *t2.PrecinctCodeBlock, p *decodeParams) ([]int32, error) {
	w := cb.X1 - cb.X0
	h := cb.Y1 - cb.Y0
	if w <= 0 || h <= 0 {
		return nil, nil
	}
	if len(cb.DecodedData) == 0 || cb.DecodedPasses == 0 {
		return nil, nil
	}

	if p.useHT {
		return htj2k.DecodeBlock(cb.DecodedData, w, h)
	}

	numbps := cb.DecodedNumBps
	maxBP := numbps - 1 - cb.DecodedZBP
	if maxBP < 0 {
		return nil, nil
	}

	style := int(p.codeBlockStyle)
	dec := t1.NewDecoder(w, h, style)
	dec.SetOrientation(cb.Orientation)

	var err error
	if (cb.TermAll || cb.Lazy) && len(cb.DecodedSegEnds) > 0 {
		err = dec.DecodeSegments(cb.DecodedData, cb.DecodedSegEnds, cb.DecodedSegPasses,
			maxBP, 0, false)
	} else {
		err = dec.Decode(cb.DecodedData, cb.DecodedPasses, maxBP, 0)
	}
	if err != nil {
		return nil, err
	}
	return dec.Data(), nil
}

// decodeParams condenses the header state a tile-component decode needs.
type decodeParams struct {
	numLevels      int
	bitDepth       int
	transformation int // 1 = 5/3, 0 = 9/7
	codeBlockStyle uint8
	useHT          bool

	reconstructionOffset float64
}

// maxMagBits is a small helper for zero-bitplane bookkeeping.
func maxMagBits(data []int32) int {
	maxAbs := int32(0)
	for _, v := range data {
		if v < 0 {
			v = -v
		}
		if v > maxAbs {
			maxAbs = v
		}
	}
	return bits.Len32(uint32(maxAbs))
}
