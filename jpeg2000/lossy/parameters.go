package lossy

import (
	"fmt"

	"github.com/cocosip/go-dicom/pkg/imaging/codec"

	"github.com/rasterlab/go-j2k/jpeg2000"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

var _ codec.Parameters = (*Parameters)(nil)

// Parameters configures JPEG 2000 lossy compression.
type Parameters struct {
	// Quality 1-99; higher keeps more detail.
	Quality int

	// NumLevels is the wavelet decomposition depth.
	NumLevels int

	// AllowMCT enables the irreversible color transform for RGB input.
	AllowMCT bool

	// ProgressionOrder (0=LRCP .. 4=CPRL).
	ProgressionOrder uint8

	// NumLayers and LayerRates configure quality-progressive output;
	// LayerRates are cumulative byte targets.
	NumLayers  int
	LayerRates []int

	params map[string]interface{}
}

// NewParameters returns lossy defaults at the given quality.
func NewParameters(quality int) *Parameters {
	if quality < 1 || quality > 99 {
		quality = 85
	}
	return &Parameters{
		Quality:          quality,
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
	case "quality":
		return p.Quality
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
	default:
		return p.params[name]
	}
}

// SetParameter sets a parameter value (implements codec.Parameters)
func (p *Parameters) SetParameter(name string, value interface{}) {
	switch name {
	case "quality":
		if v, ok := value.(int); ok {
			p.Quality = v
		}
	case "numLevels":
		if v, ok := value.(int); ok {
			p.NumLevels = v
		}
	case "allowMCT":
		if v, ok := value.(bool); ok {
			p.AllowMCT = v
		}
	case "progressionOrder":
		switch x := value.(type) {
		case int:
			if x >= 0 {
				p.ProgressionOrder = uint8(x)
			}
		case uint8:
			p.ProgressionOrder = x
		}
	case "numLayers":
		if v, ok := value.(int); ok {
			p.NumLayers = v
		}
	case "layerRates":
		if v, ok := value.([]int); ok {
			p.LayerRates = v
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
	if p.Quality < 1 || p.Quality > 99 {
		return fmt.Errorf("quality %d out of range (1-99)", p.Quality)
	}
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

func (p *Parameters) encodeParams(width, height, components, bitDepth int, signed bool) *jpeg2000.EncodeParams {
	ep := jpeg2000.DefaultEncodeParams(width, height, components, bitDepth, signed)
	ep.Lossless = false
	ep.Filter = jpeg2000.FilterIrreversible97
	ep.Quality = p.Quality
	ep.NumLevels = p.NumLevels
	ep.Progression = t2.ProgressionOrder(p.ProgressionOrder)
	ep.NumLayers = p.NumLayers
	if len(p.LayerRates) == p.NumLayers {
		ep.LayerRates = p.LayerRates
	}
	if p.AllowMCT && components >= 3 {
		ep.ColorTransform = jpeg2000.ColorTransformICT
	}
	return ep
}

func extractParameters(parameters codec.Parameters, quality int) *Parameters {
	if parameters == nil {
		return NewParameters(quality)
	}
	if p, ok := parameters.(*Parameters); ok {
		return p
	}
	out := NewParameters(quality)
	if v := parameters.GetParameter("quality"); v != nil {
		if q, ok := v.(int); ok && q >= 1 && q <= 99 {
			out.Quality = q
		}
	}
	if v := parameters.GetParameter("numLevels"); v != nil {
		if n, ok := v.(int); ok && n >= 0 && n <= 6 {
			out.NumLevels = n
		}
	}
	if v := parameters.GetParameter("allowMCT"); v != nil {
		if b, ok := v.(bool); ok {
			out.AllowMCT = b
		}
	}
	if v := parameters.GetParameter("numLayers"); v != nil {
		if n, ok := v.(int); ok && n >= 1 {
			out.NumLayers = n
		}
	}
	if v := parameters.GetParameter("layerRates"); v != nil {
		if arr, ok := v.([]int); ok {
			out.LayerRates = arr
		}
	}
	return out
}
