package t2

// ProgressionOrder defines the nested ordering of the (layer, resolution,
// component, precinct) indices that determines packet emission sequence.
type ProgressionOrder int

// Progression orders (ISO/IEC 15444-1 Table A.16).
const (
	// LRCP - Layer-Resolution-Component-Position: progressive by quality
	ProgressionLRCP ProgressionOrder = 0

	// RLCP - Resolution-Layer-Component-Position
	ProgressionRLCP ProgressionOrder = 1

	// RPCL - Resolution-Position-Component-Layer
	ProgressionRPCL ProgressionOrder = 2

	// PCRL - Position-Component-Resolution-Layer
	ProgressionPCRL ProgressionOrder = 3

	// CPRL - Component-Position-Resolution-Layer
	ProgressionCPRL ProgressionOrder = 4
)

// String returns the progression order name
func (p ProgressionOrder) String() string {
	switch p {
	case ProgressionLRCP:
		return "LRCP"
	case ProgressionRLCP:
		return "RLCP"
	case ProgressionRPCL:
		return "RPCL"
	case ProgressionPCRL:
		return "PCRL"
	case ProgressionCPRL:
		return "CPRL"
	default:
		return "UNKNOWN"
	}
}

// PacketCoord identifies one packet inside a tile.
type PacketCoord struct {
	Layer      int
	Resolution int
	Component  int
	Precinct   int
}

// PacketSequence enumerates a tile's packets in progression order. The
// precinct count may vary per (component, resolution); position-major orders
// iterate over the maximum count and skip combinations that are out of
// range, so every emitted coordinate is valid.
func PacketSequence(order ProgressionOrder, numLayers, numResolutions, numComponents int,
	numPrecincts func(component, resolution int) int) []PacketCoord {

	maxPrec := 0
	for c := 0; c < numComponents; c++ {
		for r := 0; r < numResolutions; r++ {
			if n := numPrecincts(c, r); n > maxPrec {
				maxPrec = n
			}
		}
	}

	var seq []PacketCoord
	emit := func(l, r, c, p int) {
		if p < numPrecincts(c, r) {
			seq = append(seq, PacketCoord{Layer: l, Resolution: r, Component: c, Precinct: p})
		}
	}

	switch order {
	case ProgressionLRCP:
		for l := 0; l < numLayers; l++ {
			for r := 0; r < numResolutions; r++ {
				for c := 0; c < numComponents; c++ {
					for p := 0; p < numPrecincts(c, r); p++ {
						emit(l, r, c, p)
					}
				}
			}
		}
	case ProgressionRLCP:
		for r := 0; r < numResolutions; r++ {
			for l := 0; l < numLayers; l++ {
				for c := 0; c < numComponents; c++ {
					for p := 0; p < numPrecincts(c, r); p++ {
						emit(l, r, c, p)
					}
				}
			}
		}
	case ProgressionRPCL:
		for r := 0; r < numResolutions; r++ {
			for p := 0; p < maxPrec; p++ {
				for c := 0; c < numComponents; c++ {
					for l := 0; l < numLayers; l++ {
						emit(l, r, c, p)
					}
				}
			}
		}
	case ProgressionPCRL:
		for p := 0; p < maxPrec; p++ {
			for c := 0; c < numComponents; c++ {
				for r := 0; r < numResolutions; r++ {
					for l := 0; l < numLayers; l++ {
						emit(l, r, c, p)
					}
				}
			}
		}
	case ProgressionCPRL:
		for c := 0; c < numComponents; c++ {
			for p := 0; p < maxPrec; p++ {
				for r := 0; r < numResolutions; r++ {
					for l := 0; l < numLayers; l++ {
						emit(l, r, c, p)
					}
				}
			}
		}
	}
	return seq
}
