package jpeg2000

import (
	"context"
	"errors"
	"fmt"

	"github.com/rasterlab/go-j2k/codec"
	"github.com/rasterlab/go-j2k/jpeg2000/codestream"
	"github.com/rasterlab/go-j2k/jpeg2000/colorspace"
	"github.com/rasterlab/go-j2k/jpeg2000/t1"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

// Decoder drives the full decode pipeline: marker parse, Tier-2, Tier-1,
// dequantization, inverse DWT, inverse color transform, level unshift.
//
// Truncated inputs decode best-effort: everything the prefix delivers is
// reconstructed and Partial() reports the degradation. Errors confined to
// one code-block zero that block only.
type Decoder struct {
	constraints DecodeConstraints
	pool        *Pool

	// reconstructionOffset is the dequantizer's r parameter.
	reconstructionOffset float64

	cs *codestream.Codestream

	width, height int
	components    int
	bitDepths     []int
	signed        []bool

	outW, outH int
	planes     [][]int32
	partial    bool
}

// NewDecoder creates a decoder with default settings.
func NewDecoder() *Decoder {
	return &Decoder{pool: NewPool(0)}
}

// SetConstraints limits what Decode reconstructs.
func (d *Decoder) SetConstraints(c DecodeConstraints) {
	d.constraints = c
}

// SetReconstructionOffset sets the dequantization offset r in [0,1);
// 0.5 selects midpoint reconstruction.
func (d *Decoder) SetReconstructionOffset(r float64) {
	d.reconstructionOffset = r
}

// SetPool overrides the worker pool.
func (d *Decoder) SetPool(p *Pool) {
	d.pool = p
}

// Decode parses and reconstructs a codestream.
func (d *Decoder) Decode(data []byte) error {
	return d.DecodeContext(context.Background(), data)
}

// DecodeContext is Decode with cancellation, polled between tiles and
// stage boundaries.
func (d *Decoder) DecodeContext(ctx context.Context, data []byte) error {
	cs, err := codestream.NewParser(data).Parse()
	if err != nil {
		if cs == nil || cs.SIZ == nil || cs.COD == nil || cs.QCD == nil ||
			!errors.Is(err, codec.ErrTruncatedInput) {
			return err
		}
		// Main header intact: decode what arrived.
		d.partial = true
	}
	d.cs = cs

	siz := cs.SIZ
	d.width = int(siz.Xsiz - siz.XOsiz)
	d.height = int(siz.Ysiz - siz.YOsiz)
	d.components = int(siz.Csiz)
	d.bitDepths = make([]int, d.components)
	d.signed = make([]bool, d.components)
	for c := 0; c < d.components; c++ {
		d.bitDepths[c] = siz.Components[c].BitDepth()
		d.signed[c] = siz.Components[c].IsSigned()
		if siz.Components[c].XRsiz != 1 || siz.Components[c].YRsiz != 1 {
			return codec.NewStreamError(codec.ErrUnsupportedFeature, -1,
				"component subsampling")
		}
	}

	numLevels := int(cs.COD.NumberOfDecompositionLevels)
	shift := 0
	targetRes := numLevels
	if d.constraints.MaxResolution > 0 && d.constraints.MaxResolution < numLevels {
		targetRes = d.constraints.MaxResolution
	}
	shift = numLevels - targetRes

	d.outW = ceilDivPow2(d.width, shift)
	d.outH = ceilDivPow2(d.height, shift)
	d.planes = make([][]int32, d.components)
	for c := range d.planes {
		d.planes[c] = make([]int32, d.outW*d.outH)
	}

	tiles := cs.Tiles
	err = d.pool.Run(ctx, len(tiles), func(i int) error {
		return d.decodeTile(tiles[i], targetRes, shift)
	})
	if err != nil {
		return err
	}

	// Inverse color transform runs on the assembled planes.
	if cs.COD.MultipleComponentTransform != 0 && d.wantAllRGB() {
		ct := ColorTransformRCT
		if cs.COD.Transformation == 0 {
			ct = ColorTransformICT
		}
		inverseColorTransform(d.planes, ct)
	}

	for c := range d.planes {
		colorspace.LevelUnshift(d.planes[c], d.bitDepths[c], d.signed[c])
	}

	if r := d.constraints.Region; r != nil {
		d.cropRegion(r, shift)
	}
	return nil
}

// wantAllRGB reports whether the first three components are all selected,
// the precondition for inverting the color transform.
func (d *Decoder) wantAllRGB() bool {
	if d.components < 3 {
		return false
	}
	if d.constraints.Components == nil {
		return true
	}
	need := map[int]bool{0: false, 1: false, 2: false}
	for _, c := range d.constraints.Components {
		if _, ok := need[c]; ok {
			need[c] = true
		}
	}
	return need[0] && need[1] && need[2]
}

func (d *Decoder) wantComponent(c int) bool {
	if d.constraints.Components == nil {
		return true
	}
	for _, sel := range d.constraints.Components {
		if sel == c {
			return true
		}
	}
	return false
}

// decodeTile reconstructs one tile into the output planes.
func (d *Decoder) decodeTile(tile *codestream.Tile, targetRes, shift int) error {
	cs := d.cs
	siz := cs.SIZ

	numTilesX := siz.NumTilesX()
	tx := tile.Index % numTilesX
	ty := tile.Index / numTilesX
	tc := &tileContext{
		index: tile.Index,
		x0:    tx * int(siz.XTsiz),
		y0:    ty * int(siz.YTsiz),
	}
	tc.w = int(siz.XTsiz)
	if tc.x0+tc.w > d.width {
		tc.w = d.width - tc.x0
	}
	tc.h = int(siz.YTsiz)
	if tc.y0+tc.h > d.height {
		tc.h = d.height - tc.y0
	}
	if tc.w <= 0 || tc.h <= 0 {
		return nil
	}

	cod := cs.TileCOD(tile)
	numLevels := int(cod.NumberOfDecompositionLevels)
	cbw := int(cod.CodeBlockWidth) + 2
	cbh := int(cod.CodeBlockHeight) + 2

	var precincts []t2.PrecinctSize
	for _, ps := range cod.PrecinctSizes {
		precincts = append(precincts, t2.PrecinctSize{PPx: ps.PPx, PPy: ps.PPy})
	}

	useHT := cod.UsesHT() || cs.CAP.IsHTJ2K()

	grid := &t2.TileGrid{
		NumLayers:      int(cod.NumberOfLayers),
		NumResolutions: numLevels + 1,
		NumComponents:  d.components,
		Order:          t2.ProgressionOrder(cod.ProgressionOrder),
	}
	grid.Precincts = make([][][]*t2.Precinct, d.components)
	for c := 0; c < d.components; c++ {
		// COC can override the termination style per component; the packet
		// parser needs it to split segment lengths correctly.
		style := cs.ComponentCOD(tile, c).CodeBlockStyle
		termAll := style&codestream.CblkTermAll != 0
		lazy := !useHT && !termAll && style&codestream.CblkLazy != 0

		compGrid := componentGrid(tc.w, tc.h, numLevels, cbw, cbh, precincts)
		for _, res := range compGrid {
			for _, prec := range res {
				for _, band := range prec.Bands {
					for _, cb := range band.Blocks {
						if cb != nil {
							cb.TermAll = termAll
							cb.Lazy = lazy
							cb.HTBlock = useHT
						}
					}
				}
			}
		}
		grid.Precincts[c] = compGrid
	}

	pd := t2.NewPacketDecoder(grid, tile.Data)
	if _, err := pd.DecodePackets(d.constraints.MaxLayers); err != nil {
		if errors.Is(err, codec.ErrTruncatedInput) {
			d.partial = true
		} else {
			return err
		}
	}

	for c := 0; c < d.components; c++ {
		if !d.wantComponent(c) {
			continue
		}

		ccod := cs.ComponentCOD(tile, c)
		cqcd := cs.ComponentQCD(tile, c)
		quant := quantizationFromQCD(cqcd.Sqcd, cqcd.SPqcd, numLevels, d.bitDepths[c])

		roiShift := 0
		for _, rgn := range cs.RGN {
			if int(rgn.Crgn) == c {
				roiShift = int(rgn.SPrgn)
			}
		}
		for _, rgn := range tile.RGN {
			if int(rgn.Crgn) == c {
				roiShift = int(rgn.SPrgn)
			}
		}

		dp := &decodeParams{
			numLevels:            numLevels,
			bitDepth:             d.bitDepths[c],
			transformation:       int(ccod.Transformation),
			codeBlockStyle:       d.styleForT1(ccod.CodeBlockStyle),
			useHT:                useHT,
			reconstructionOffset: d.reconstructionOffset,
		}

		plane, err := decodeTileComponent(tc, c, grid.Precincts[c], dp, quant, roiShift, targetRes)
		if err != nil {
			return err
		}

		// Place the (possibly reduced) tile plane into the output.
		rw, rh := resolutionDims(tc.w, tc.h, numLevels, targetRes)
		ox := ceilDivPow2(tc.x0, shift)
		oy := ceilDivPow2(tc.y0, shift)
		for y := 0; y < rh; y++ {
			dst := (oy+y)*d.outW + ox
			if dst+rw > len(d.planes[c]) {
				break
			}
			copy(d.planes[c][dst:dst+rw], plane[y*rw:(y+1)*rw])
		}
	}
	return nil
}

// styleForT1 translates marker style bits to the Tier-1 flag set (the HT
// bits are not Tier-1 EBCOT flags).
func (d *Decoder) styleForT1(style uint8) uint8 {
	return style & uint8(t1.CblkStyleLazy|t1.CblkStyleReset|t1.CblkStyleTermAll|
		t1.CblkStyleVSC|t1.CblkStylePterm|t1.CblkStyleSegsym)
}

// cropRegion reduces the output planes to the requested window.
func (d *Decoder) cropRegion(r *Region, shift int) {
	x0 := ceilDivPow2(r.X0, shift)
	y0 := ceilDivPow2(r.Y0, shift)
	x1 := ceilDivPow2(r.X1, shift)
	y1 := ceilDivPow2(r.Y1, shift)
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > d.outW {
		x1 = d.outW
	}
	if y1 > d.outH {
		y1 = d.outH
	}
	if x1 <= x0 || y1 <= y0 {
		return
	}

	w := x1 - x0
	h := y1 - y0
	for c := range d.planes {
		out := make([]int32, w*h)
		for y := 0; y < h; y++ {
			src := (y0+y)*d.outW + x0
			copy(out[y*w:(y+1)*w], d.planes[c][src:src+w])
		}
		d.planes[c] = out
	}
	d.outW, d.outH = w, h
}

// Width returns the decoded image width (after constraints).
func (d *Decoder) Width() int { return d.outW }

// Height returns the decoded image height (after constraints).
func (d *Decoder) Height() int { return d.outH }

// Components returns the component count of the codestream.
func (d *Decoder) Components() int { return d.components }

// BitDepth returns component 0's bit depth.
func (d *Decoder) BitDepth() int {
	if len(d.bitDepths) == 0 {
		return 0
	}
	return d.bitDepths[0]
}

// IsSigned returns component 0's signedness.
func (d *Decoder) IsSigned() bool {
	if len(d.signed) == 0 {
		return false
	}
	return d.signed[0]
}

// Partial reports whether the input was truncated and the image is a
// best-effort reconstruction.
func (d *Decoder) Partial() bool { return d.partial }

// ComponentData returns one decoded component plane.
func (d *Decoder) ComponentData(c int) ([]int32, error) {
	if c < 0 || c >= len(d.planes) {
		return nil, fmt.Errorf("component %d out of range", c)
	}
	return d.planes[c], nil
}

// PixelData packs the decoded planes back into the planar byte layout the
// encoder consumes (little-endian multi-byte samples).
func (d *Decoder) PixelData() []byte {
	if len(d.planes) == 0 {
		return nil
	}
	bytesPerSample := (d.BitDepth() + 7) / 8
	if bytesPerSample > 2 {
		bytesPerSample = 4
	}
	n := d.outW * d.outH
	out := make([]byte, 0, n*len(d.planes)*bytesPerSample)
	for _, plane := range d.planes {
		for _, v := range plane {
			switch bytesPerSample {
			case 1:
				out = append(out, byte(v))
			case 2:
				out = append(out, byte(v), byte(v>>8))
			default:
				out = append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
			}
		}
	}
	return out
}
