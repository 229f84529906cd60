// Package codec provides common errors and interfaces for image codecs.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrCodecNotFound is returned when a codec is not found in the registry.
	ErrCodecNotFound = errors.New("codec not found")

	// ErrInvalidConfiguration indicates encoding parameters are outside the
	// standard's ranges or internally inconsistent.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrUnsupportedFeature indicates the codestream uses a marker or flag
	// this implementation does not handle.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrMalformedCodestream indicates structurally invalid input: a bad
	// marker length, a missing required marker, an invalid tag-tree code.
	ErrMalformedCodestream = errors.New("malformed codestream")

	// ErrTruncatedInput indicates the stream ended inside a required
	// structure. Decode may still return a best-effort partial image.
	ErrTruncatedInput = errors.New("truncated input")

	// ErrCoefficientOverflow indicates an intermediate value exceeded the
	// guaranteed arithmetic range.
	ErrCoefficientOverflow = errors.New("coefficient overflow")

	// ErrRateControlInfeasible indicates the requested target rate is
	// smaller than the minimum codestream overhead.
	ErrRateControlInfeasible = errors.New("rate control target infeasible")
)

// BlockLocator identifies a code-block within the codestream structure.
// Fields set to -1 are not meaningful for the error at hand.
type BlockLocator struct {
	Tile       int
	Component  int
	Resolution int
	Block      int
}

// StreamError decorates one of the sentinel error values above with a byte
// offset into the input and, where meaningful, a code-block locator.
type StreamError struct {
	Kind    error
	Offset  int
	Locator *BlockLocator
	Detail  string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s (offset %d)", msg, e.Offset)
	}
	if l := e.Locator; l != nil {
		msg = fmt.Sprintf("%s [tile %d comp %d res %d block %d]",
			msg, l.Tile, l.Component, l.Resolution, l.Block)
	}
	return msg
}

// Unwrap exposes the sentinel kind so errors.Is works against the taxonomy.
func (e *StreamError) Unwrap() error {
	return e.Kind
}

// NewStreamError builds a StreamError with no locator.
func NewStreamError(kind error, offset int, detail string) *StreamError {
	return &StreamError{Kind: kind, Offset: offset, Detail: detail}
}
