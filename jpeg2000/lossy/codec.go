// Package lossy provides the JPEG 2000 (lossy) DICOM codec wrapper.
package lossy

import (
	"fmt"

	"github.com/cocosip/go-dicom/pkg/dicom/transfer"
	"github.com/cocosip/go-dicom/pkg/imaging/codec"
	"github.com/cocosip/go-dicom/pkg/imaging/imagetypes"

	"github.com/rasterlab/go-j2k/jpeg2000"
)

var _ codec.Codec = (*Codec)(nil)

// Codec implements the JPEG 2000 lossy codec
// Transfer Syntax UID: 1.2.840.10008.1.2.4.91
type Codec struct {
	transferSyntax *transfer.Syntax
	defaultQuality int
}

const defaultQuality = 85

// NewCodec creates a new JPEG 2000 lossy codec with default quality.
func NewCodec() *Codec {
	return NewCodecWithQuality(defaultQuality)
}

// NewCodecWithQuality creates a codec with a custom default quality (1-99).
func NewCodecWithQuality(quality int) *Codec {
	if quality < 1 || quality > 99 {
		quality = defaultQuality
	}
	return &Codec{
		transferSyntax: transfer.JPEG2000,
		defaultQuality: quality,
	}
}

// Name returns the codec name
func (c *Codec) Name() string {
	return fmt.Sprintf("JPEG 2000 Lossy (Quality %d)", c.defaultQuality)
}

// TransferSyntax returns the transfer syntax this codec handles
func (c *Codec) TransferSyntax() *transfer.Syntax {
	return c.transferSyntax
}

// GetDefaultParameters returns the default codec parameters
func (c *Codec) GetDefaultParameters() codec.Parameters {
	return NewParameters(c.defaultQuality)
}

// Encode encodes pixel data to JPEG 2000 lossy format
func (c *Codec) Encode(oldPixelData, newPixelData imagetypes.PixelData, parameters codec.Parameters) error {
	if oldPixelData == nil || newPixelData == nil {
		return fmt.Errorf("source and destination PixelData cannot be nil")
	}
	frameInfo := oldPixelData.GetFrameInfo()
	if frameInfo == nil {
		return fmt.Errorf("failed to get frame info from source pixel data")
	}

	params := extractParameters(parameters, c.defaultQuality)
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid JPEG 2000 lossy parameters: %w", err)
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

// Decode decodes JPEG 2000 data to uncompressed pixel data
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
		decoder := jpeg2000.NewDecoder()
		// Midpoint reconstruction suits lossy dequantization.
		decoder.SetReconstructionOffset(0.5)
		if err := decoder.Decode(frameData); err != nil {
			return fmt.Errorf("JPEG 2000 decode failed for frame %d: %w", frameIndex, err)
		}
		if err := newPixelData.AddFrame(decoder.PixelData()); err != nil {
			return fmt.Errorf("failed to add decoded frame %d: %w", frameIndex, err)
		}
	}
	return nil
}

// RegisterJPEG2000LossyCodec registers the codec with the global go-dicom
// registry.
func RegisterJPEG2000LossyCodec() {
	registry := codec.GetGlobalRegistry()
	registry.RegisterCodec(transfer.JPEG2000, NewCodec())
}

func init() {
	RegisterJPEG2000LossyCodec()
}
