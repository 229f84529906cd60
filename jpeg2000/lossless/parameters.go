package lossless

import (
	"fmt"

	"github.com/cocosip/go-dicom/pkg/imaging/codec"

	"github.com/rasterlab/go-j2k/jpeg2000"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

// Ensure Parameters implements codec.Parameters
var _ codec.Parameters = (*Parameters)(nil)

// Parameters configures JPEG 2000 lossless compression.
type Parameters struct {
	// NumLevels is the wavelet decomposition depth (0-6 is sensible for
	// DICOM frame sizes; 5 is the default).
	NumLevels int

	// AllowMCT enables the reversible color transform for RGB input.
	AllowMCT bool

	// ProgressionOrder mirrors the JPEG 2000 progression order
	// (0=LRCP, 1=RLCP, 2=RPCL, 3=PCRL, 4=CPRL).
	ProgressionOrder uint8

	// NumLayers is the quality layer count.
	NumLayers int

	// LayerRates are cumulative byte targets per layer; the final layer is
	// lossless when its entry is zero.
	LayerRates []int

	// HTJ2K selects the Part 15 block coder.
	HTJ2K bool

	params map[string]interface{}
}

// NewParameters returns lossless defaults.
func NewParameters() *Parameters {
	return &Parameters{
		NumLevels:        5,
		AllowMCT:         true,
		ProgressionOrder: 0,
		NumLayers:        1,
		params:           make(map[string]interface{}),
	}
}

// GetParameter retrieves a parameter by name (implements codec.Parameters)
func (p *Parameters) GetParameter(name string) interface{} {
	switch name {
	case "numLevels":
		return p.NumLevels
	case "allowMCT":
		return p.AllowMCT
	case "progressionOrder":
		return p.ProgressionOrder
	case "numLayers":
		return p.NumLayers
	case "layerRates":
		return p.LayerRates
	case "htj2k":
		return p.HTJ2K
	default:
		return p.params[name]
	}
}

// SetParameter sets a parameter value (implements codec.Parameters)
func (p *Parameters) SetParameter(name string, value interface{}) {
	switch name {
	case "numLevels":
		if v, ok := value.(int); ok {
			p.NumLevels = v
		}
	case "allowMCT":
		if v, ok := value.(bool); ok {
			p.AllowMCT = v
		}
	case "progressionOrder":
		switch v := value.(type) {
		case int:
			if v >= 0 {
				p.ProgressionOrder = uint8(v)
			}
		case uint8:
			p.ProgressionOrder = v
		}
	case "numLayers":
		if v, ok := value.(int); ok {
			p.NumLayers = v
		}
	case "layerRates":
		if v, ok := value.([]int); ok {
			p.LayerRates = v
		}
	case "htj2k":
		if v, ok := value.(bool); ok {
			p.HTJ2K = v
		}
	default:
		if p.params == nil {
			p.params = make(map[string]interface{})
		}
		p.params[name] = value
	}
}

// Validate checks parameter consistency.
func (p *Parameters) Validate() error {
	if p.NumLevels < 0 || p.NumLevels > 32 {
		return fmt.Errorf("numLevels %d out of range", p.NumLevels)
	}
	if p.ProgressionOrder > 4 {
		return fmt.Errorf("progressionOrder %d out of range", p.ProgressionOrder)
	}
	if p.NumLayers < 1 {
		return fmt.Errorf("numLayers %d out of range", p.NumLayers)
	}
	return nil
}

// encodeParams translates codec parameters into core encoder parameters.
func (p *Parameters) encodeParams(width, height, components, bitDepth int, signed bool) *jpeg2000.EncodeParams {
	ep := jpeg2000.DefaultEncodeParams(width, height, components, bitDepth, signed)
	ep.NumLevels = p.NumLevels
	ep.Progression = t2.ProgressionOrder(p.ProgressionOrder)
	ep.NumLayers = p.NumLayers
	if len(p.LayerRates) == p.NumLayers {
		ep.LayerRates = p.LayerRates
	}
	if p.AllowMCT && components >= 3 {
		ep.ColorTransform = jpeg2000.ColorTransformRCT
	}
	if p.HTJ2K {
		ep.HTMode = jpeg2000.HTModeHTOnly
	}
	return ep
}
