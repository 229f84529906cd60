package t1

import (
	"fmt"

	"github.com/rasterlab/go-j2k/jpeg2000/mqc"
)

// Pass type identifiers in coding order within a bit-plane.
const (
	PassSigProp = 0
	PassMagRef  = 1
	PassCleanup = 2
)

// PassData describes one coding pass of a code-block.
// Rate is cumulative bytes assuming truncation after this pass; Len is the
// incremental length (Rate[i] - Rate[i-1]).
type PassData struct {
	PassIndex   int
	Bitplane    int
	PassType    int
	Rate        int     // cumulative rate including non-termination slack
	ActualBytes int     // cumulative bytes actually in the buffer
	Len         int
	Distortion  float64 // cumulative distortion reduction
	Terminated  bool
}

// Encoder implements EBCOT Tier-1 encoding of one code-block.
// Reference: ISO/IEC 15444-1:2019 Annex D
type Encoder struct {
	width  int
	height int

	// Coefficients and state flags in a (w+2)x(h+2) padded grid.
	data  []int32
	flags []uint32

	mqe *mqc.MQEncoder

	bitplane    int
	orientation int // 0=LL, 1=HL, 2=LH, 3=HH

	roishift  int
	cblkstyle int

	resetctx     bool
	termall      bool
	segmentation bool
	pterm        bool

	passDist float64 // distortion reduction accumulated by the current pass
}

// NewEncoder creates a Tier-1 encoder for a width x height code-block with
// the given code-block style flags.
func NewEncoder(width, height, cblkstyle int) *Encoder {
	e := &Encoder{
		width:     width,
		height:    height,
		flags:     make([]uint32, (width+2)*(height+2)),
		cblkstyle: cblkstyle,
	}
	e.resetctx = cblkstyle&CblkStyleReset != 0
	e.termall = cblkstyle&CblkStyleTermAll != 0
	e.segmentation = cblkstyle&CblkStyleSegsym != 0
	e.pterm = cblkstyle&CblkStylePterm != 0
	return e
}

// SetOrientation sets the subband orientation used for ZC context lookup.
func (e *Encoder) SetOrientation(orient int) {
	e.orientation = orient
}

// lazyRawPass reports whether a pass runs in RAW (bypass) mode under the
// selective-bypass style: SPP and MRP of planes below maxBitplane-3.
func lazyRawPass(bitplane, maxBitplane, passType, cblkstyle int) bool {
	if cblkstyle&CblkStyleLazy == 0 {
		return false
	}
	if passType == PassCleanup {
		return false
	}
	return bitplane < maxBitplane-3
}

// terminatingPass reports whether the coder must be flushed after a pass.
func terminatingPass(bitplane, maxBitplane, passType, cblkstyle int) bool {
	if passType == PassCleanup && bitplane == 0 {
		return true
	}
	if cblkstyle&CblkStyleTermAll != 0 {
		return true
	}
	if cblkstyle&CblkStyleLazy != 0 {
		if bitplane == maxBitplane-3 && passType == PassCleanup {
			return true
		}
		if bitplane < maxBitplane-3 && passType != PassSigProp {
			return true
		}
	}
	return false
}

// MaxBitplane returns the highest bit-plane holding a 1 bit across data, or
// -1 when all coefficients are zero.
func MaxBitplane(data []int32) int {
	maxAbs := int32(0)
	for _, v := range data {
		if v < 0 {
			v = -v
		}
		if v > maxAbs {
			maxAbs = v
		}
	}
	bp := -1
	for maxAbs > 0 {
		maxAbs >>= 1
		bp++
	}
	return bp
}

func (e *Encoder) initContexts() {
	e.mqe.ResetContexts()
	e.mqe.SetContextState(CtxUni, 46)
	e.mqe.SetContextState(CtxRL, 3)
	e.mqe.SetContextState(CtxZCStart, 4)
}

// Encode codes every pass of the block and returns the pass list plus the
// complete coded buffer. Pass slicing for layers happens in Tier-2 using the
// returned rates.
//
// This is the most computationally intensive part of encoding: bit-plane by
// bit-plane from the MSB, stripe-scanned, with the neighbor state updated in
// place so samples coded later in the same pass see it immediately.
func (e *Encoder) Encode(data []int32, roishift int) ([]PassData, []byte, error) {
	if len(data) != e.width*e.height {
		return nil, nil, fmt.Errorf("data size mismatch: expected %d, got %d",
			e.width*e.height, len(data))
	}

	e.roishift = roishift

	// Copy into the padded grid.
	pw := e.width + 2
	e.data = make([]int32, pw*(e.height+2))
	for y := 0; y < e.height; y++ {
		for x := 0; x < e.width; x++ {
			e.data[(y+1)*pw+x+1] = data[y*e.width+x]
		}
	}
	for i := range e.flags {
		e.flags[i] = 0
	}

	maxBitplane := MaxBitplane(e.data)
	e.mqe = mqc.NewMQEncoder(NumContexts)
	if maxBitplane < 0 {
		// All zero: no passes, empty segment.
		return nil, []byte{}, nil
	}
	e.initContexts()

	var passes []PassData
	cumDist := 0.0

	// Sequencing: the top plane has only a cleanup pass, every following
	// plane runs SPP, MRP, CP.
	passIdx := 0
	passType := PassCleanup
	prevTerminated := false
	for e.bitplane = maxBitplane; e.bitplane >= 0; {
		if passType == PassSigProp || (passType == PassCleanup && passIdx == 0) {
			for i := range e.flags {
				e.flags[i] &^= T1Visit
			}
			// ROI planes above the shift are skipped; the decoder regenerates
			// them from the RGN shift.
			if e.roishift > 0 && e.bitplane >= e.roishift {
				passType = PassSigProp
				e.bitplane--
				continue
			}
		}

		raw := lazyRawPass(e.bitplane, maxBitplane, passType, e.cblkstyle)
		if prevTerminated {
			if raw {
				e.mqe.BypassInitEnc()
			} else {
				e.mqe.RestartInitEnc()
			}
			prevTerminated = false
		}

		e.passDist = 0
		switch passType {
		case PassSigProp:
			e.encodeSigPropPass(raw)
		case PassMagRef:
			e.encodeMagRefPass(raw)
		case PassCleanup:
			e.encodeCleanupPass()
			if e.segmentation {
				e.mqe.SegmarkEnc()
			}
		}
		cumDist += e.passDist

		terminated := terminatingPass(e.bitplane, maxBitplane, passType, e.cblkstyle)
		if terminated {
			if raw {
				e.mqe.BypassFlushEnc(e.pterm)
			} else if e.pterm {
				e.mqe.ErtermEnc()
			} else {
				e.mqe.FlushToOutput()
			}
			prevTerminated = true
		}

		if e.resetctx {
			e.initContexts()
		}

		actualBytes := e.mqe.NumBytes()
		rate := actualBytes
		if !terminated {
			// Slack for the eventual flush if truncated after this pass.
			rate += 3
		}
		passes = append(passes, PassData{
			PassIndex:   passIdx,
			Bitplane:    e.bitplane,
			PassType:    passType,
			Rate:        rate,
			ActualBytes: actualBytes,
			Distortion:  cumDist,
			Terminated:  terminated,
		})

		passIdx++
		if passType == PassCleanup {
			passType = PassSigProp
			e.bitplane--
		} else {
			passType++
		}
	}

	var buf []byte
	if prevTerminated {
		buf = e.mqe.Buffer()
	} else {
		buf = e.mqe.Flush()
	}

	for i := range passes {
		if i == 0 {
			passes[i].Len = passes[i].Rate
		} else {
			passes[i].Len = passes[i].Rate - passes[i-1].Rate
		}
		if passes[i].ActualBytes > len(buf) {
			passes[i].ActualBytes = len(buf)
		}
	}

	return passes, buf, nil
}

// encodeSigPropPass codes samples that are not yet significant but have at
// least one significant neighbor.
func (e *Encoder) encodeSigPropPass(raw bool) {
	pw := e.width + 2
	for k := 0; k < e.height; k += 4 {
		for x := 0; x < e.width; x++ {
			for dy := 0; dy < 4 && k+dy < e.height; dy++ {
				y := k + dy
				idx := (y+1)*pw + x + 1
				flags := e.flags[idx]

				if flags&T1Sig != 0 {
					continue
				}
				if flags&T1SigNeighbors == 0 {
					continue
				}

				absVal := e.data[idx]
				if absVal < 0 {
					absVal = -absVal
				}
				isSig := int((absVal >> uint(e.bitplane)) & 1)

				if raw {
					e.mqe.BypassEncode(isSig)
				} else {
					e.mqe.Encode(isSig, int(zeroCodingContext(flags, e.orientation)))
				}

				// Visited regardless of outcome so MRP skips this sample.
				e.flags[idx] |= T1Visit

				if isSig != 0 {
					signBit := 0
					if e.data[idx] < 0 {
						signBit = 1
						e.flags[idx] |= T1Sign
					}
					if raw {
						e.mqe.BypassEncode(signBit)
					} else {
						e.mqe.Encode(signBit^signPrediction(flags), int(signCodingContext(flags)))
					}

					// Significance must land before the next sample is coded.
					e.flags[idx] |= T1Sig
					e.updateNeighborFlags(x, y, idx)
					e.passDist += sigDistortion(e.bitplane)
				}
			}
		}
	}
}

// encodeMagRefPass refines samples that were significant before this plane.
func (e *Encoder) encodeMagRefPass(raw bool) {
	pw := e.width + 2
	for k := 0; k < e.height; k += 4 {
		for x := 0; x < e.width; x++ {
			for dy := 0; dy < 4 && k+dy < e.height; dy++ {
				y := k + dy
				idx := (y+1)*pw + x + 1
				flags := e.flags[idx]

				if flags&T1Sig == 0 || flags&T1Visit != 0 {
					continue
				}

				absVal := e.data[idx]
				if absVal < 0 {
					absVal = -absVal
				}
				refBit := int((absVal >> uint(e.bitplane)) & 1)

				if raw {
					e.mqe.BypassEncode(refBit)
				} else {
					e.mqe.Encode(refBit, int(magRefinementContext(flags)))
				}

				e.flags[idx] |= T1Refine
				e.passDist += refDistortion(e.bitplane)
			}
		}
	}
}

// encodeCleanupPass codes every remaining sample, with vertical run-length
// coding of 4-sample columns whose neighborhood is entirely insignificant.
func (e *Encoder) encodeCleanupPass() {
	pw := e.width + 2
	for k := 0; k < e.height; k += 4 {
		for i := 0; i < e.width; i++ {
			if k+3 < e.height {
				canUseRL := true
				rlSigPos := -1
				for dy := 0; dy < 4; dy++ {
					idx := (k+dy+1)*pw + i + 1
					if e.flags[idx]&T1Visit != 0 {
						canUseRL = false
						break
					}
					if e.flags[idx]&(T1Sig|T1SigNeighbors) != 0 {
						canUseRL = false
						break
					}
					if rlSigPos == -1 {
						absVal := e.data[idx]
						if absVal < 0 {
							absVal = -absVal
						}
						if (absVal>>uint(e.bitplane))&1 != 0 {
							rlSigPos = dy
						}
					}
				}

				if canUseRL {
					rlBit := 0
					if rlSigPos >= 0 {
						rlBit = 1
					}
					e.mqe.Encode(rlBit, CtxRL)
					if rlBit == 0 {
						continue
					}

					// Position of the first 1, two uniform bits MSB first.
					e.mqe.Encode((rlSigPos>>1)&1, CtxUni)
					e.mqe.Encode(rlSigPos&1, CtxUni)

					partial := true
					for dy := rlSigPos; dy < 4; dy++ {
						y := k + dy
						idx := (y+1)*pw + i + 1
						flags := e.flags[idx]

						if flags&(T1Visit|T1Sig) != 0 {
							e.flags[idx] &^= T1Visit
							continue
						}

						isSig := 0
						if partial {
							// First sample after the run is implicitly significant.
							isSig = 1
							partial = false
						} else {
							absVal := e.data[idx]
							if absVal < 0 {
								absVal = -absVal
							}
							isSig = int((absVal >> uint(e.bitplane)) & 1)
							e.mqe.Encode(isSig, int(zeroCodingContext(flags, e.orientation)))
						}

						if isSig != 0 {
							e.codeCleanupSign(idx, flags)
							e.flags[idx] |= T1Sig
							e.updateNeighborFlags(i, y, idx)
							e.passDist += sigDistortion(e.bitplane)
						}
						e.flags[idx] &^= T1Visit
					}
					continue
				}
			}

			for dy := 0; dy < 4 && k+dy < e.height; dy++ {
				y := k + dy
				idx := (y+1)*pw + i + 1
				flags := e.flags[idx]

				if flags&(T1Visit|T1Sig) != 0 {
					e.flags[idx] &^= T1Visit
					continue
				}

				absVal := e.data[idx]
				if absVal < 0 {
					absVal = -absVal
				}
				isSig := int((absVal >> uint(e.bitplane)) & 1)
				e.mqe.Encode(isSig, int(zeroCodingContext(flags, e.orientation)))

				if isSig != 0 {
					e.codeCleanupSign(idx, flags)
					e.flags[idx] |= T1Sig
					e.updateNeighborFlags(i, y, idx)
					e.passDist += sigDistortion(e.bitplane)
				}
				e.flags[idx] &^= T1Visit
			}
		}
	}
}

func (e *Encoder) codeCleanupSign(idx int, flags uint32) {
	signBit := 0
	if e.data[idx] < 0 {
		signBit = 1
		e.flags[idx] |= T1Sign
	}
	e.mqe.Encode(signBit^signPrediction(flags), int(signCodingContext(flags)))
}

// updateNeighborFlags propagates significance and sign into the 8 neighbor
// entries. The padded border makes every access valid.
func (e *Encoder) updateNeighborFlags(x, y, idx int) {
	pw := e.width + 2
	sign := e.flags[idx] & T1Sign

	n := y*pw + x + 1
	e.flags[n] |= T1SigS
	if sign != 0 {
		e.flags[n] |= T1SignS
	}

	s := (y+2)*pw + x + 1
	e.flags[s] |= T1SigN
	if sign != 0 {
		e.flags[s] |= T1SignN
	}

	w := (y+1)*pw + x
	e.flags[w] |= T1SigE
	if sign != 0 {
		e.flags[w] |= T1SignE
	}

	east := (y+1)*pw + x + 2
	e.flags[east] |= T1SigW
	if sign != 0 {
		e.flags[east] |= T1SignW
	}

	e.flags[y*pw+x] |= T1SigSE
	e.flags[y*pw+x+2] |= T1SigSW
	e.flags[(y+2)*pw+x] |= T1SigNE
	e.flags[(y+2)*pw+x+2] |= T1SigNW
}

// sigDistortion approximates the squared-error reduction from coding a new
// significant sample at bit-plane p: the reconstruction moves from 0 to
// about 1.5*2^p.
func sigDistortion(bitplane int) float64 {
	v := float64(int64(1) << uint(bitplane))
	return 2.25 * v * v
}

// refDistortion approximates the reduction from one refinement bit: the
// uncertainty interval halves, worth about (2^p / 2)^2.
func refDistortion(bitplane int) float64 {
	v := float64(int64(1) << uint(bitplane))
	return 0.25 * v * v
}
