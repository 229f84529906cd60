package jpeg2000

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rasterlab/go-j2k/codec"
	"github.com/rasterlab/go-j2k/jpeg2000/codestream"
	"github.com/rasterlab/go-j2k/jpeg2000/colorspace"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

// Encoder drives the full encode pipeline: preprocess, color transform, tile split,
// DWT, quantization, Tier-1, rate control, Tier-2, and marker emission.
type Encoder struct {
	params *EncodeParams
	pool   *Pool

	quant *QuantizationParams

	// quantChroma overrides quant for the chroma components under RCT,
	// whose difference signals span one extra bit; signaled through QCC.
	quantChroma *QuantizationParams

	// roiShift is the resolved MaxShift value, zero without ROI.
	roiShift int

	// AchievedRate reports the block-data bytes selected by rate control
	// after an Encode call.
	AchievedRate int
}

// NewEncoder creates an encoder for the given parameters.
func NewEncoder(params *EncodeParams) *Encoder {
	return &Encoder{
		params: params,
		pool:   NewPool(0),
	}
}

// SetPool overrides the worker pool, e.g. to serialize for tests.
func (e *Encoder) SetPool(p *Pool) {
	e.pool = p
}

// Encode compresses planar pixel data (per component, row-major, native
// sample width little-endian) into a complete codestream from SOC to EOC.
func (e *Encoder) Encode(pixelData []byte) ([]byte, error) {
	if err := e.params.Validate(); err != nil {
		return nil, err
	}
	planes, err := e.convertPixelData(pixelData)
	if err != nil {
		return nil, err
	}
	return e.EncodeComponents(planes)
}

// EncodeComponents compresses per-component sample planes.
func (e *Encoder) EncodeComponents(planes [][]int32) ([]byte, error) {
	return e.EncodeComponentsContext(context.Background(), planes)
}

// EncodeComponentsContext is EncodeComponents with cancellation, polled at
// stage boundaries and between tiles.
func (e *Encoder) EncodeComponentsContext(ctx context.Context, planes [][]int32) ([]byte, error) {
	p := e.params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(planes) != p.Components {
		return nil, codec.NewStreamError(codec.ErrInvalidConfiguration, -1,
			fmt.Sprintf("%d planes for %d components", len(planes), p.Components))
	}
	for c, plane := range planes {
		if len(plane) != p.Width*p.Height {
			return nil, codec.NewStreamError(codec.ErrInvalidConfiguration, -1,
				fmt.Sprintf("component %d has %d samples, want %d",
					c, len(plane), p.Width*p.Height))
		}
	}

	// Quantization setup is shared by all components; RCT chroma gets one
	// extra bit of range via QCC.
	if p.Lossless || p.effectiveFilter() == FilterReversible53 {
		e.quant = reversibleQuantization(p.NumLevels, p.BitDepth, e.guardBits())
		if p.ColorTransform == ColorTransformRCT {
			e.quantChroma = reversibleQuantization(p.NumLevels, p.BitDepth+1, e.guardBits())
		}
	} else {
		e.quant = irreversibleQuantization(p.NumLevels, p.BitDepth, e.guardBits(), e.quality())
	}

	if p.ROI != nil {
		e.roiShift = resolveROIShift(p.ROI.Shift, p.BitDepth+2+e.guardBits())
	}

	// Preprocess: copy planes so level shift and color transform do not
	// mutate caller data.
	work := make([][]int32, len(planes))
	for c := range planes {
		work[c] = append([]int32(nil), planes[c]...)
		colorspace.LevelShift(work[c], p.BitDepth, p.IsSigned)
	}

	tiles := tileLayout(p.Width, p.Height, p.TileWidth, p.TileHeight)

	// Per-tile pipeline up to Tier-1; tiles are independent.
	err := e.pool.Run(ctx, len(tiles), func(i int) error {
		tile := tiles[i]
		tile.comps = extractTilePlanes(work, p.Width, tile)
		forwardColorTransform(tile.comps, p.ColorTransform)

		grid := &t2.TileGrid{
			NumLayers:      p.NumLayers,
			NumResolutions: p.NumLevels + 1,
			NumComponents:  p.Components,
			Order:          p.Progression,
		}
		grid.Precincts = make([][][]*t2.Precinct, p.Components)

		for c := 0; c < p.Components; c++ {
			compGrid, rd, err := encodeTileComponent(tile, c, p, e.quantFor(c), p.ROI, e.roiShift)
			if err != nil {
				return err
			}
			grid.Precincts[c] = compGrid
			tile.rd = append(tile.rd, rd...)
		}
		tile.grid = grid
		tile.comps = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stage boundary: rate control sees a consistent snapshot of every
	// block's pass list across all tiles.
	var allBlocks []*blockRD
	for _, tile := range tiles {
		allBlocks = append(allBlocks, tile.rd...)
	}
	overhead := e.estimateOverhead(tiles)
	layerBudgets := e.layerBudgets(allBlocks, overhead)
	e.AchievedRate = rateControl(allBlocks, layerBudgets, p.NumLayers, 0)

	if len(p.LayerRates) > 0 && p.LayerRates[len(p.LayerRates)-1] > 0 {
		minNeeded := overhead
		if p.LayerRates[len(p.LayerRates)-1] < minNeeded {
			return nil, codec.NewStreamError(codec.ErrRateControlInfeasible, -1,
				fmt.Sprintf("target %d below overhead %d",
					p.LayerRates[len(p.LayerRates)-1], minNeeded))
		}
	}

	// Per-tile packet assembly; byte buffers concatenate serially below.
	tileBytes := make([][]byte, len(tiles))
	err = e.pool.Run(ctx, len(tiles), func(i int) error {
		b, err := e.encodeTilePart(tiles[i])
		if err != nil {
			return err
		}
		tileBytes[i] = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Codestream assembly.
	w := codestream.NewWriter()
	w.WriteMarker(codestream.MarkerSOC)
	if err := w.WriteSegment(codestream.MarkerSIZ, e.sizSegment().Payload()); err != nil {
		return nil, err
	}
	if p.usesHT() {
		capSeg := codestream.NewPart15CAP(p.HTMode == HTModeHTOnly,
			p.effectiveFilter() == FilterReversible53)
		if err := w.WriteSegment(codestream.MarkerCAP, capSeg.Payload()); err != nil {
			return nil, err
		}
		cpf := &codestream.CPFSegment{Pcpf: []uint16{codestream.CPFProfileHTJ2KMain}}
		if err := w.WriteSegment(codestream.MarkerCPF, cpf.Payload()); err != nil {
			return nil, err
		}
	}
	if err := w.WriteSegment(codestream.MarkerCOD, e.codSegment().Payload()); err != nil {
		return nil, err
	}
	if err := w.WriteSegment(codestream.MarkerQCD, e.qcdSegment().Payload()); err != nil {
		return nil, err
	}
	if e.quantChroma != nil {
		for _, c := range []uint16{1, 2} {
			qcc := &codestream.QCCSegment{
				Component: c,
				Sqcc:      e.quantChroma.Sqcd(),
				SPqcc:     e.quantChroma.SPqcd(),
			}
			if err := w.WriteSegment(codestream.MarkerQCC, qcc.Payload(p.Components >= 257)); err != nil {
				return nil, err
			}
		}
	}
	if p.ROI != nil && e.roiShift > 0 {
		rgn := &codestream.RGNSegment{
			Crgn:  uint16(p.ROI.Component),
			Srgn:  0,
			SPrgn: uint8(e.roiShift),
		}
		if err := w.WriteSegment(codestream.MarkerRGN, rgn.Payload(p.Components >= 257)); err != nil {
			return nil, err
		}
	}
	if p.Comment != "" {
		com := &codestream.COMSegment{Rcom: 1, Data: []byte(p.Comment)}
		if err := w.WriteSegment(codestream.MarkerCOM, com.Payload()); err != nil {
			return nil, err
		}
	}
	for _, b := range tileBytes {
		w.WriteRaw(b)
	}
	w.WriteMarker(codestream.MarkerEOC)
	return w.Bytes(), nil
}

// encodeTilePart emits one tile's SOT..SOD..packets sequence.
func (e *Encoder) encodeTilePart(tile *tileContext) ([]byte, error) {
	pe := &t2.PacketEncoder{
		Grid:   tile.grid,
		UseSOP: e.params.UseSOP,
		UseEPH: e.params.UseEPH,
	}
	packets, err := pe.EncodePackets()
	if err != nil {
		return nil, err
	}
	body := t2.PacketsBytes(packets)

	// Psot covers SOT marker through the end of the tile-part data.
	psot := 12 + 2 + len(body)
	sot := &codestream.SOTSegment{
		Isot:  uint16(tile.index),
		Psot:  uint32(psot),
		TPsot: 0,
		TNsot: 1,
	}

	var buf bytes.Buffer
	w := codestream.NewWriter()
	if err := w.WriteSegment(codestream.MarkerSOT, sot.Payload()); err != nil {
		return nil, err
	}
	w.WriteMarker(codestream.MarkerSOD)
	buf.Write(w.Bytes())
	buf.Write(body)
	return buf.Bytes(), nil
}

// quantFor selects the quantization parameter set for a component.
func (e *Encoder) quantFor(comp int) *QuantizationParams {
	if e.quantChroma != nil && (comp == 1 || comp == 2) {
		return e.quantChroma
	}
	return e.quant
}

func (e *Encoder) guardBits() int {
	if e.params.GuardBits <= 0 {
		return 2
	}
	return e.params.GuardBits
}

func (e *Encoder) quality() int {
	if e.params.Quality <= 0 {
		return 85
	}
	return e.params.Quality
}

// layerBudgets converts the layer rate targets into block-data budgets net
// of estimated overhead. Without explicit targets, layers split the full
// rate geometrically and the final layer carries everything.
func (e *Encoder) layerBudgets(blocks []*blockRD, overhead int) []int {
	p := e.params
	budgets := make([]int, p.NumLayers)

	if len(p.LayerRates) > 0 {
		for l := 0; l < p.NumLayers; l++ {
			if p.LayerRates[l] > 0 {
				b := p.LayerRates[l] - overhead
				if b < 1 {
					b = 1
				}
				budgets[l] = b
			}
		}
		return budgets
	}

	if p.NumLayers == 1 {
		return budgets // everything
	}

	total := 0
	for _, b := range blocks {
		total += b.maxRate()
	}
	for l := 0; l < p.NumLayers-1; l++ {
		frac := float64(l+1) / float64(p.NumLayers)
		budgets[l] = int(float64(total) * frac * frac)
		if budgets[l] < 1 {
			budgets[l] = 1
		}
	}
	// Final layer: unconstrained.
	return budgets
}

// estimateOverhead approximates marker and packet-header bytes sharing the
// rate budget with block data.
func (e *Encoder) estimateOverhead(tiles []*tileContext) int {
	p := e.params
	fixed := 2 + // SOC
		4 + 38 + 3*p.Components + // SIZ
		4 + 10 + // COD
		4 + 1 + len(e.quant.SPqcd()) + // QCD
		2 // EOC
	if p.usesHT() {
		fixed += 4 + 6 + 4 + 2
	}
	if p.Comment != "" {
		fixed += 4 + 2 + len(p.Comment)
	}

	perTile := 12 + 2 // SOT + SOD
	numPackets := 0
	for _, tile := range tiles {
		if tile.grid != nil {
			numPackets += len(tile.grid.Sequence())
		}
	}
	return fixed + perTile*len(tiles) + numPackets*2
}

func (e *Encoder) sizSegment() *codestream.SIZSegment {
	p := e.params
	tw := uint32(p.TileWidth)
	if tw == 0 {
		tw = uint32(p.Width)
	}
	th := uint32(p.TileHeight)
	if th == 0 {
		th = uint32(p.Height)
	}

	var rsiz uint16
	if p.usesHT() {
		rsiz = codestream.RsizPart15
	}

	ssiz := uint8(p.BitDepth - 1)
	if p.IsSigned {
		ssiz |= 0x80
	}
	comps := make([]codestream.ComponentSize, p.Components)
	for i := range comps {
		comps[i] = codestream.ComponentSize{Ssiz: ssiz, XRsiz: 1, YRsiz: 1}
	}

	return &codestream.SIZSegment{
		Rsiz:       rsiz,
		Xsiz:       uint32(p.Width),
		Ysiz:       uint32(p.Height),
		XTsiz:      tw,
		YTsiz:      th,
		Csiz:       uint16(p.Components),
		Components: comps,
	}
}

func (e *Encoder) codSegment() *codestream.CODSegment {
	p := e.params

	var scod uint8
	if len(p.PrecinctSizes) > 0 {
		scod |= codestream.ScodPrecincts
	}
	if p.UseSOP {
		scod |= codestream.ScodSOP
	}
	if p.UseEPH {
		scod |= codestream.ScodEPH
	}

	style := p.CodeBlockStyle
	switch p.HTMode {
	case HTModeHTOnly:
		style |= codestream.CblkHTOnly
	case HTModeHT:
		style |= codestream.CblkHTFast
	}

	mct := uint8(0)
	if p.ColorTransform != ColorTransformNone {
		mct = 1
	}

	transformation := uint8(0)
	if p.effectiveFilter() == FilterReversible53 {
		transformation = 1
	}

	cod := &codestream.CODSegment{
		Scod:                        scod,
		ProgressionOrder:            uint8(p.Progression),
		NumberOfLayers:              uint16(p.NumLayers),
		MultipleComponentTransform:  mct,
		NumberOfDecompositionLevels: uint8(p.NumLevels),
		CodeBlockWidth:              uint8(p.CodeBlockWidthLog2 - 2),
		CodeBlockHeight:             uint8(p.CodeBlockHeightLog2 - 2),
		CodeBlockStyle:              style,
		Transformation:              transformation,
	}
	if len(p.PrecinctSizes) > 0 {
		sizes := make([]codestream.PrecinctSize, 0, p.NumLevels+1)
		for r := 0; r <= p.NumLevels; r++ {
			ps := t2.PrecinctSize{PPx: 15, PPy: 15}
			if r < len(p.PrecinctSizes) {
				ps = p.PrecinctSizes[r]
			}
			sizes = append(sizes, codestream.PrecinctSize{PPx: ps.PPx, PPy: ps.PPy})
		}
		cod.PrecinctSizes = sizes
	}
	return cod
}

func (e *Encoder) qcdSegment() *codestream.QCDSegment {
	return &codestream.QCDSegment{
		Sqcd:  e.quant.Sqcd(),
		SPqcd: e.quant.SPqcd(),
	}
}

// convertPixelData splits packed planar bytes into int32 planes. Samples
// wider than 8 bits are little-endian, matching DICOM pixel data.
func (e *Encoder) convertPixelData(pixelData []byte) ([][]int32, error) {
	p := e.params
	bytesPerSample := (p.BitDepth + 7) / 8
	if bytesPerSample > 2 {
		bytesPerSample = 4
	}
	expected := p.Width * p.Height * p.Components * bytesPerSample
	if len(pixelData) != expected {
		return nil, codec.NewStreamError(codec.ErrInvalidConfiguration, -1,
			fmt.Sprintf("pixel data %d bytes, want %d", len(pixelData), expected))
	}

	planes := make([][]int32, p.Components)
	n := p.Width * p.Height
	for c := 0; c < p.Components; c++ {
		plane := make([]int32, n)
		base := c * n * bytesPerSample
		for i := 0; i < n; i++ {
			var v int32
			switch bytesPerSample {
			case 1:
				raw := pixelData[base+i]
				if p.IsSigned {
					v = int32(int8(raw))
				} else {
					v = int32(raw)
				}
			case 2:
				raw := uint16(pixelData[base+2*i]) | uint16(pixelData[base+2*i+1])<<8
				if p.IsSigned {
					v = int32(int16(raw))
				} else {
					v = int32(raw)
				}
			default:
				raw := uint32(pixelData[base+4*i]) |
					uint32(pixelData[base+4*i+1])<<8 |
					uint32(pixelData[base+4*i+2])<<16 |
					uint32(pixelData[base+4*i+3])<<24
				v = int32(raw)
			}
			plane[i] = v
		}
		planes[c] = plane
	}
	return planes, nil
}
