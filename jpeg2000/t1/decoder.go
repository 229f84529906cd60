package t1

import (
	"fmt"

	"github.com/rasterlab/go-j2k/jpeg2000/mqc"
)

// Decoder implements EBCOT Tier-1 decoding of one code-block.
// Reference: ISO/IEC 15444-1:2019 Annex D
type Decoder struct {
	width  int
	height int

	data  []int32
	flags []uint32

	mqd *mqc.MQDecoder

	bitplane    int
	orientation int

	roishift  int
	cblkstyle int

	resetctx     bool
	termall      bool
	segmentation bool
}

// NewDecoder creates a Tier-1 decoder for a width x height code-block.
func NewDecoder(width, height, cblkstyle int) *Decoder {
	d := &Decoder{
		width:     width,
		height:    height,
		data:      make([]int32, (width+2)*(height+2)),
		flags:     make([]uint32, (width+2)*(height+2)),
		cblkstyle: cblkstyle,
	}
	d.resetctx = cblkstyle&CblkStyleReset != 0
	d.termall = cblkstyle&CblkStyleTermAll != 0
	d.segmentation = cblkstyle&CblkStyleSegsym != 0
	return d
}

// SetOrientation sets the subband orientation used for ZC context lookup.
func (d *Decoder) SetOrientation(orient int) {
	d.orientation = orient
}

func (d *Decoder) initContexts() {
	d.mqd.ResetContexts()
	d.mqd.SetContextState(CtxUni, 46)
	d.mqd.SetContextState(CtxRL, 3)
	d.mqd.SetContextState(CtxZCStart, 4)
}

// Decode decodes numPasses passes from a single coded segment, starting at
// maxBitplane. maxBitplane comes from the packet header (block bit depth
// minus missing MSB planes minus one).
func (d *Decoder) Decode(data []byte, numPasses, maxBitplane, roishift int) error {
	if numPasses <= 0 {
		return nil
	}
	if len(data) == 0 {
		return fmt.Errorf("empty code-block data")
	}
	d.roishift = roishift

	d.mqd = mqc.NewMQDecoder(data, NumContexts)
	d.initContexts()

	passIdx := 0
	passType := PassCleanup
	for d.bitplane = maxBitplane; d.bitplane >= 0 && passIdx < numPasses; {
		if passType == PassSigProp || (passType == PassCleanup && passIdx == 0) {
			for i := range d.flags {
				d.flags[i] &^= T1Visit
			}
			if d.roishift > 0 && d.bitplane >= d.roishift {
				passType = PassSigProp
				d.bitplane--
				continue
			}
		}

		raw := lazyRawPass(d.bitplane, maxBitplane, passType, d.cblkstyle)
		d.decodePass(passType, raw)
		passIdx++

		if d.resetctx && passIdx < numPasses && !raw {
			d.initContexts()
		}

		if passType == PassCleanup {
			passType = PassSigProp
			d.bitplane--
		} else {
			passType++
		}
	}
	return nil
}

// DecodeSegments decodes a block whose passes end coded segments: one pass
// per segment under TERMALL, the bypass schedule (ten MQ passes, then raw
// SigProp+MagRef pairs alternating with one-pass MQ cleanups) under the
// selective-bypass style. segEnds[i] is the cumulative byte offset after
// segment i and segPasses[i] the passes it carries. Each segment gets a
// fresh coder initialization; MQ context state carries across segments
// unless resetContexts is set.
func (d *Decoder) DecodeSegments(data []byte, segEnds, segPasses []int, maxBitplane, roishift int, resetContexts bool) error {
	if len(segEnds) == 0 {
		return fmt.Errorf("no segment lengths provided")
	}
	if len(segPasses) != len(segEnds) {
		return fmt.Errorf("segment pass counts: %d for %d segments",
			len(segPasses), len(segEnds))
	}
	if len(data) == 0 {
		return fmt.Errorf("empty code-block data")
	}
	d.roishift = roishift
	reset := resetContexts || d.resetctx

	passIdx := 0
	prevEnd := 0
	mqStarted := false
	var prevContexts []uint8
	passType := PassCleanup
	d.bitplane = maxBitplane

	for s := range segEnds {
		end := segEnds[s]
		if end < prevEnd || end > len(data) {
			return fmt.Errorf("invalid segment length at segment %d: %d (prev %d, data %d)",
				s, end, prevEnd, len(data))
		}
		segment := data[prevEnd:end]
		prevEnd = end

		for k := 0; k < segPasses[s] && d.bitplane >= 0; k++ {
			if passType == PassSigProp || (passType == PassCleanup && passIdx == 0) {
				for i := range d.flags {
					d.flags[i] &^= T1Visit
				}
				for d.roishift > 0 && d.bitplane >= d.roishift {
					passType = PassSigProp
					d.bitplane--
				}
				if d.bitplane < 0 {
					break
				}
			}

			raw := lazyRawPass(d.bitplane, maxBitplane, passType, d.cblkstyle)
			if k == 0 {
				switch {
				case raw:
					d.mqd = mqc.NewRawDecoder(segment)
				case !mqStarted || reset:
					d.mqd = mqc.NewMQDecoder(segment, NumContexts)
					d.initContexts()
					mqStarted = true
				default:
					d.mqd = mqc.NewMQDecoderWithContexts(segment, prevContexts)
				}
			}

			d.decodePass(passType, raw)

			if !raw {
				if reset {
					d.initContexts()
				} else {
					prevContexts = d.mqd.Contexts()
				}
			}

			passIdx++
			if passType == PassCleanup {
				passType = PassSigProp
				d.bitplane--
			} else {
				passType++
			}
		}
	}
	return nil
}

func (d *Decoder) decodePass(passType int, raw bool) {
	switch passType {
	case PassSigProp:
		d.decodeSigPropPass(raw)
	case PassMagRef:
		d.decodeMagRefPass(raw)
	case PassCleanup:
		d.decodeCleanupPass()
		if d.segmentation {
			for i := 0; i < 4; i++ {
				d.mqd.Decode(CtxUni)
			}
		}
	}
}

// Data returns the decoded coefficients without the padding border.
func (d *Decoder) Data() []int32 {
	out := make([]int32, d.width*d.height)
	pw := d.width + 2
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			out[y*d.width+x] = d.data[(y+1)*pw+x+1]
		}
	}
	return out
}

func (d *Decoder) decodeSigPropPass(raw bool) {
	pw := d.width + 2
	for k := 0; k < d.height; k += 4 {
		for x := 0; x < d.width; x++ {
			for dy := 0; dy < 4 && k+dy < d.height; dy++ {
				y := k + dy
				idx := (y+1)*pw + x + 1
				flags := d.flags[idx]

				if flags&T1Sig != 0 {
					continue
				}
				if flags&T1SigNeighbors == 0 {
					continue
				}

				var bit int
				if raw {
					bit = d.mqd.RawDecode()
				} else {
					bit = d.mqd.Decode(int(zeroCodingContext(flags, d.orientation)))
				}

				d.flags[idx] |= T1Visit

				if bit != 0 {
					var sign int
					if raw {
						sign = d.mqd.RawDecode()
					} else {
						sign = d.mqd.Decode(int(signCodingContext(flags))) ^ signPrediction(flags)
					}
					d.setNewlySignificant(x, y, idx, sign)
				}
			}
		}
	}
}

func (d *Decoder) decodeMagRefPass(raw bool) {
	pw := d.width + 2
	for k := 0; k < d.height; k += 4 {
		for x := 0; x < d.width; x++ {
			for dy := 0; dy < 4 && k+dy < d.height; dy++ {
				y := k + dy
				idx := (y+1)*pw + x + 1
				flags := d.flags[idx]

				if flags&T1Sig == 0 || flags&T1Visit != 0 {
					continue
				}

				var bit int
				if raw {
					bit = d.mqd.RawDecode()
				} else {
					bit = d.mqd.Decode(int(magRefinementContext(flags)))
				}

				if bit != 0 {
					if d.data[idx] >= 0 {
						d.data[idx] += int32(1) << uint(d.bitplane)
					} else {
						d.data[idx] -= int32(1) << uint(d.bitplane)
					}
				}
				d.flags[idx] |= T1Refine
			}
		}
	}
}

func (d *Decoder) decodeCleanupPass() {
	pw := d.width + 2
	for k := 0; k < d.height; k += 4 {
		for i := 0; i < d.width; i++ {
			if k+3 < d.height {
				canUseRL := true
				for dy := 0; dy < 4; dy++ {
					idx := (k+dy+1)*pw + i + 1
					if d.flags[idx]&T1Visit != 0 {
						canUseRL = false
						break
					}
					if d.flags[idx]&(T1Sig|T1SigNeighbors) != 0 {
						canUseRL = false
						break
					}
				}

				if canUseRL {
					if d.mqd.Decode(CtxRL) == 0 {
						continue
					}

					runlen := d.mqd.Decode(CtxUni) << 1
					runlen |= d.mqd.Decode(CtxUni)

					partial := true
					for dy := runlen; dy < 4; dy++ {
						y := k + dy
						idx := (y+1)*pw + i + 1
						flags := d.flags[idx]

						if flags&(T1Visit|T1Sig) != 0 {
							d.flags[idx] &^= T1Visit
							continue
						}

						isSig := 0
						if partial {
							isSig = 1
							partial = false
						} else {
							isSig = d.mqd.Decode(int(zeroCodingContext(flags, d.orientation)))
						}

						if isSig != 0 {
							sign := d.mqd.Decode(int(signCodingContext(flags))) ^ signPrediction(flags)
							d.setNewlySignificant(i, y, idx, sign)
						}
						d.flags[idx] &^= T1Visit
					}
					continue
				}
			}

			for dy := 0; dy < 4 && k+dy < d.height; dy++ {
				y := k + dy
				idx := (y+1)*pw + i + 1
				flags := d.flags[idx]

				if flags&(T1Visit|T1Sig) != 0 {
					d.flags[idx] &^= T1Visit
					continue
				}

				if d.mqd.Decode(int(zeroCodingContext(flags, d.orientation))) != 0 {
					sign := d.mqd.Decode(int(signCodingContext(flags))) ^ signPrediction(flags)
					d.setNewlySignificant(i, y, idx, sign)
				}
				d.flags[idx] &^= T1Visit
			}
		}
	}
}

// setNewlySignificant records magnitude 2^bitplane with the decoded sign and
// updates the neighborhood in place, so samples visited later in this same
// pass observe the new significance immediately.
func (d *Decoder) setNewlySignificant(x, y, idx, sign int) {
	val := int32(1) << uint(d.bitplane)
	if sign != 0 {
		d.flags[idx] |= T1Sign
		d.data[idx] = -val
	} else {
		d.data[idx] = val
	}
	d.flags[idx] |= T1Sig
	d.updateNeighborFlags(x, y, idx)
}

func (d *Decoder) updateNeighborFlags(x, y, idx int) {
	pw := d.width + 2
	sign := d.flags[idx] & T1Sign

	n := y*pw + x + 1
	d.flags[n] |= T1SigS
	if sign != 0 {
		d.flags[n] |= T1SignS
	}

	s := (y+2)*pw + x + 1
	d.flags[s] |= T1SigN
	if sign != 0 {
		d.flags[s] |= T1SignN
	}

	w := (y+1)*pw + x
	d.flags[w] |= T1SigE
	if sign != 0 {
		d.flags[w] |= T1SignE
	}

	east := (y+1)*pw + x + 2
	d.flags[east] |= T1SigW
	if sign != 0 {
		d.flags[east] |= T1SignW
	}

	d.flags[y*pw+x] |= T1SigSE
	d.flags[y*pw+x+2] |= T1SigSW
	d.flags[(y+2)*pw+x] |= T1SigNE
	d.flags[(y+2)*pw+x+2] |= T1SigNW
}
