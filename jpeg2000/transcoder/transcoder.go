// Package transcoder provides lossless, coefficient-preserving conversion
// between JPEG 2000 Part 1 and Part 15 (HTJ2K) codestreams. The source is
// parsed down to quantized coefficients and re-packed with the other Tier-1
// coder; nothing is dequantized or inverse-transformed, so the round trip
// is bit-exact at the image level.
package transcoder

import (
	"github.com/rasterlab/go-j2k/jpeg2000"
)

// Direction selects the transcoding target.
type Direction int

// Transcoding targets.
const (
	// ToHT re-packs a Part 1 codestream with the HT block coder.
	ToHT Direction = iota
	// ToPart1 re-packs an HT codestream with the EBCOT block coder.
	ToPart1
)

// Transcode converts a codestream to the requested coding family. A stream
// already in the target family is returned as a copy.
func Transcode(data []byte, dir Direction) ([]byte, error) {
	if dir == ToHT {
		return jpeg2000.TranscodeToHT(data)
	}
	return jpeg2000.TranscodeToPart1(data)
}
