// Package jpeg2000 implements the JPEG 2000 codec core: the encode and
// decode pipelines binding the wavelet transform, quantizer, Tier-1 and
// Tier-2 coders, rate control, and the codestream marker layer.
// Reference: ISO/IEC 15444-1:2019, ISO/IEC 15444-15:2019
package jpeg2000

import (
	"fmt"

	"github.com/rasterlab/go-j2k/codec"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

// WaveletFilter selects the transform kernel.
type WaveletFilter int

// Wavelet filter choices.
const (
	FilterReversible53 WaveletFilter = iota
	FilterIrreversible97
	FilterArbitrary
)

// QuantizationStyle mirrors the Sqcd styles.
type QuantizationStyle int

// Quantization styles.
const (
	QuantizationNone QuantizationStyle = iota
	QuantizationScalarDerived
	QuantizationScalarExpounded
)

// ColorTransform selects the multi-component transform.
type ColorTransform int

// Color transform choices.
const (
	ColorTransformNone ColorTransform = iota
	ColorTransformRCT
	ColorTransformICT
)

// HTMode selects the Tier-1 coder family.
type HTMode int

// HT modes.
const (
	// HTModeAuto uses the legacy coder for Part 1 streams.
	HTModeAuto HTMode = iota
	// HTModeLegacy forces EBCOT.
	HTModeLegacy
	// HTModeHT prefers the HT coder but allows mixed blocks (HT_FAST).
	HTModeHT
	// HTModeHTOnly codes every block with the HT coder (HT_ONLY).
	HTModeHTOnly
)

// ROIParams configures MaxShift region-of-interest coding for a component.
type ROIParams struct {
	Component int
	Shift     int
	// Region bounds on the image grid; a zero-area region shifts the whole
	// component.
	X0, Y0, X1, Y1 int
}

// EncodeParams is the full encoder configuration.
type EncodeParams struct {
	Width      int
	Height     int
	Components int
	BitDepth   int
	IsSigned   bool

	// Tile dimensions; zero means a single tile covering the image.
	TileWidth  int
	TileHeight int

	// NumLevels is the DWT decomposition depth (0..32).
	NumLevels int

	// Code-block dimensions, log2 (2..10 each, sum <= 12 for Part 1).
	CodeBlockWidthLog2  int
	CodeBlockHeightLog2 int

	// Precinct size exponents per resolution; empty means maximal
	// precincts (PPx = PPy = 15).
	PrecinctSizes []t2.PrecinctSize

	Progression t2.ProgressionOrder
	NumLayers   int

	// LayerRates are cumulative byte targets per layer. Zero entries (and
	// the last layer by default) mean "all remaining data".
	LayerRates []int

	// Lossless selects 5/3 + reversible quantization (+ RCT when the
	// color transform is enabled).
	Lossless bool

	Filter         WaveletFilter
	ColorTransform ColorTransform
	HTMode         HTMode

	// Quality drives the 9/7 step sizes when no layer rates are given
	// (1..100, 100 = near lossless).
	Quality int

	// GuardBits for the quantizer (1..7).
	GuardBits int

	// CodeBlockStyle carries extra Tier-1 style flags (bypass, reset,
	// termall, segmentation symbols); HT bits are derived from HTMode.
	CodeBlockStyle uint8

	ROI *ROIParams

	// UseSOP/UseEPH emit SOP markers before packets and EPH markers after
	// packet headers (Scod bits 1 and 2).
	UseSOP bool
	UseEPH bool

	// Comment emitted in a COM marker; empty disables.
	Comment string
}

// DefaultEncodeParams returns a reasonable lossless configuration.
func DefaultEncodeParams(width, height, components, bitDepth int, isSigned bool) *EncodeParams {
	return &EncodeParams{
		Width:               width,
		Height:              height,
		Components:          components,
		BitDepth:            bitDepth,
		IsSigned:            isSigned,
		NumLevels:           5,
		CodeBlockWidthLog2:  6,
		CodeBlockHeightLog2: 6,
		Progression:         t2.ProgressionLRCP,
		NumLayers:           1,
		Lossless:            true,
		Filter:              FilterReversible53,
		ColorTransform:      ColorTransformNone,
		Quality:             100,
		GuardBits:           2,
	}
}

// Validate checks ranges and internal consistency.
func (p *EncodeParams) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return codec.NewStreamError(codec.ErrInvalidConfiguration, -1,
			fmt.Sprintf(format, args...))
	}

	if p.Width <= 0 || p.Height <= 0 {
		return fail("image dimensions %dx%d", p.Width, p.Height)
	}
	if p.Components < 1 || p.Components > 16384 {
		return fail("component count %d", p.Components)
	}
	if p.BitDepth < 1 || p.BitDepth > 38 {
		return fail("bit depth %d", p.BitDepth)
	}
	if p.TileWidth < 0 || p.TileHeight < 0 {
		return fail("negative tile dimensions")
	}
	if p.NumLevels < 0 || p.NumLevels > 32 {
		return fail("decomposition levels %d", p.NumLevels)
	}
	if p.CodeBlockWidthLog2 < 2 || p.CodeBlockWidthLog2 > 10 ||
		p.CodeBlockHeightLog2 < 2 || p.CodeBlockHeightLog2 > 10 {
		return fail("code-block size exponents %d/%d",
			p.CodeBlockWidthLog2, p.CodeBlockHeightLog2)
	}
	maxArea := 12
	if p.HTMode == HTModeHT || p.HTMode == HTModeHTOnly {
		maxArea = 14
	}
	if p.CodeBlockWidthLog2+p.CodeBlockHeightLog2 > maxArea {
		return fail("code-block area 2^%d exceeds limit",
			p.CodeBlockWidthLog2+p.CodeBlockHeightLog2)
	}
	if p.Progression < t2.ProgressionLRCP || p.Progression > t2.ProgressionCPRL {
		return fail("progression order %d", p.Progression)
	}
	if p.NumLayers < 1 || p.NumLayers > 65535 {
		return fail("layer count %d", p.NumLayers)
	}
	if len(p.LayerRates) > 0 && len(p.LayerRates) != p.NumLayers {
		return fail("layer rate count %d does not match %d layers",
			len(p.LayerRates), p.NumLayers)
	}
	for i := 1; i < len(p.LayerRates); i++ {
		if p.LayerRates[i] != 0 && p.LayerRates[i-1] != 0 && p.LayerRates[i] < p.LayerRates[i-1] {
			return fail("layer rates must be non-decreasing")
		}
	}
	if p.Lossless && p.Filter == FilterIrreversible97 {
		return fail("lossless mode requires the 5/3 filter")
	}
	if p.Filter == FilterArbitrary {
		// Arbitrary kernels run through wavelet.Kernel directly; the
		// codestream layer has no ADS signaling for them.
		return codec.NewStreamError(codec.ErrUnsupportedFeature, -1,
			"arbitrary wavelet kernels cannot be signaled in a codestream")
	}
	if p.Lossless && p.ColorTransform == ColorTransformICT {
		return fail("lossless mode requires RCT, not ICT")
	}
	if p.ColorTransform != ColorTransformNone && p.Components < 3 {
		return fail("color transform needs at least 3 components")
	}
	if p.GuardBits < 0 || p.GuardBits > 7 {
		return fail("guard bits %d", p.GuardBits)
	}
	if p.Quality < 0 || p.Quality > 100 {
		return fail("quality %d", p.Quality)
	}
	if p.ROI != nil {
		if p.ROI.Component < 0 || p.ROI.Component >= p.Components {
			return fail("ROI component %d", p.ROI.Component)
		}
		if p.ROI.Shift < 0 || p.ROI.Shift > 37 {
			return fail("ROI shift %d", p.ROI.Shift)
		}
	}
	tw, th := p.TileWidth, p.TileHeight
	if tw == 0 {
		tw = p.Width
	}
	if th == 0 {
		th = p.Height
	}
	if tw < 1 || th < 1 {
		return fail("tile dimensions %dx%d", tw, th)
	}
	return nil
}

// usesHT reports whether any block may use the HT coder.
func (p *EncodeParams) usesHT() bool {
	return p.HTMode == HTModeHT || p.HTMode == HTModeHTOnly
}

// effectiveFilter resolves the filter from the lossless flag.
func (p *EncodeParams) effectiveFilter() WaveletFilter {
	if p.Lossless {
		return FilterReversible53
	}
	return p.Filter
}

// DecodeConstraints limit what Decode reconstructs.
type DecodeConstraints struct {
	// MaxResolution caps resolution levels: r resolutions reconstruct the
	// image at 1/2^(N-r+1)... 0 means all.
	MaxResolution int

	// MaxLayers caps quality layers; 0 means all.
	MaxLayers int

	// Components selects a component subset; nil means all.
	Components []int

	// Region selects a spatial window on the reference grid; nil means
	// the full image.
	Region *Region
}

// Region is a rectangular window on the reference grid.
type Region struct {
	X0, Y0, X1, Y1 int
}
