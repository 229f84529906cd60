// Package lossless provides the JPEG 2000 Lossless DICOM codec wrapper.
package lossless

import (
	"fmt"

	"github.com/cocosip/go-dicom/pkg/dicom/transfer"
	"github.com/cocosip/go-dicom/pkg/imaging/codec"
	"github.com/cocosip/go-dicom/pkg/imaging/imagetypes"

	"github.com/rasterlab/go-j2k/jpeg2000"
)

var _ codec.Codec = (*Codec)(nil)

const codecName = "JPEG 2000 Lossless"

// Codec implements the JPEG 2000 Lossless codec
// Transfer Syntax UID: 1.2.840.10008.1.2.4.90
type Codec struct {
	transferSyntax *transfer.Syntax
}

// NewCodec creates a new JPEG 2000 Lossless codec
func NewCodec() *Codec {
	return NewCodecWithTransferSyntax(transfer.JPEG2000Lossless)
}

// NewCodecWithTransferSyntax constructs the codec for alternate JPEG 2000
// transfer syntaxes (e.g. HTJ2K lossless).
func NewCodecWithTransferSyntax(ts *transfer.Syntax) *Codec {
	return &Codec{transferSyntax: ts}
}

// Name returns the codec name
func (c *Codec) Name() string {
	return codecName
}

// TransferSyntax returns the transfer syntax this codec handles
func (c *Codec) TransferSyntax() *transfer.Syntax {
	return c.transferSyntax
}

// GetDefaultParameters returns the default codec parameters
func (c *Codec) GetDefaultParameters() codec.Parameters {
	return NewParameters()
}

// Encode encodes pixel data to JPEG 2000 Lossless format
func (c *Codec) Encode(oldPixelData, newPixelData imagetypes.PixelData, parameters codec.Parameters) error {
	if oldPixelData == nil || newPixelData == nil {
		return fmt.Errorf("source and destination PixelData cannot be nil")
	}
	frameInfo := oldPixelData.GetFrameInfo()
	if frameInfo == nil {
		return fmt.Errorf("failed to get frame info from source pixel data")
	}

	params := extractParameters(parameters)
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid JPEG 2000 lossless parameters: %w", err)
	}

	ep := params.encodeParams(
		int(frameInfo.Width),
		int(frameInfo.Height),
		int(frameInfo.SamplesPerPixel),
		int(frameInfo.BitsStored),
		frameInfo.PixelRepresentation != 0,
	)
	encoder := jpeg2000.NewEncoder(ep)

	frameCount := oldPixelData.FrameCount()
	if frameCount == 0 {
		return fmt.Errorf("source pixel data is empty (no frames)")
	}
	for frameIndex := 0; frameIndex < frameCount; frameIndex++ {
		frameData, err := oldPixelData.GetFrame(frameIndex)
		if err != nil {
			return fmt.Errorf("failed to get frame %d: %w", frameIndex, err)
		}
		if len(frameData) == 0 {
			return fmt.Errorf("frame %d pixel data is empty", frameIndex)
		}
		encoded, err := encoder.Encode(frameData)
		if err != nil {
			return fmt.Errorf("JPEG 2000 encode failed for frame %d: %w", frameIndex, err)
		}
		if err := newPixelData.AddFrame(encoded); err != nil {
			return fmt.Errorf("failed to add encoded frame %d: %w", frameIndex, err)
		}
	}
	return nil
}

// Decode decodes JPEG 2000 Lossless data to uncompressed pixel data
func (c *Codec) Decode(oldPixelData, newPixelData imagetypes.PixelData, _ codec.Parameters) error {
	if oldPixelData == nil || newPixelData == nil {
		return fmt.Errorf("source and destination PixelData cannot be nil")
	}

	frameCount := oldPixelData.FrameCount()
	if frameCount == 0 {
		return fmt.Errorf("source pixel data is empty (no frames)")
	}

	for frameIndex := 0; frameIndex < frameCount; frameIndex++ {
		frameData, err := oldPixelData.GetFrame(frameIndex)
		if err != nil {
			return fmt.Errorf("failed to get frame %d: %w", frameIndex, err)
		}
		if len(frameData) == 0 {
			return fmt.Errorf("frame %d pixel data is empty", frameIndex)
		}

		decoder := jpeg2000.NewDecoder()
		if err := decoder.Decode(frameData); err != nil {
			return fmt.Errorf("JPEG 2000 decode failed for frame %d: %w", frameIndex, err)
		}
		if err := newPixelData.AddFrame(decoder.PixelData()); err != nil {
			return fmt.Errorf("failed to add decoded frame %d: %w", frameIndex, err)
		}
	}
	return nil
}

func extractParameters(parameters codec.Parameters) *Parameters {
	if parameters == nil {
		return NewParameters()
	}
	if p, ok := parameters.(*Parameters); ok {
		return p
	}
	out := NewParameters()
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
	if v := parameters.GetParameter("progressionOrder"); v != nil {
		switch x := v.(type) {
		case int:
			if x >= 0 {
				out.ProgressionOrder = uint8(x)
			}
		case uint8:
			out.ProgressionOrder = x
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
	if v := parameters.GetParameter("htj2k"); v != nil {
		if b, ok := v.(bool); ok {
			out.HTJ2K = b
		}
	}
	return out
}

// RegisterJPEG2000LosslessCodec registers the codec with the global
// go-dicom registry.
func RegisterJPEG2000LosslessCodec() {
	registry := codec.GetGlobalRegistry()
	registry.RegisterCodec(transfer.JPEG2000Lossless, NewCodec())
}

func init() {
	RegisterJPEG2000LosslessCodec()
}
