package t2

import (
	"fmt"
	"math/bits"

	"github.com/rasterlab/go-j2k/jpeg2000/bitio"
)

// Packet header coding (ISO/IEC 15444-1 B.10). Per included code-block the
// header carries: inclusion (tag-tree coded on first inclusion, one bit
// after), zero-bitplane count (tag-tree coded, first inclusion only), the
// number of new passes, and segment lengths governed by the Lblock state.

// encodeHeader writes the packet header for one precinct at one layer and
// returns the inclusion records in block scan order.
func encodeHeader(w *bitio.Writer, precinct *Precinct, layer int) ([]CodeBlockIncl, error) {
	anyIncluded := false
	for _, band := range precinct.Bands {
		for _, cb := range band.Blocks {
			if cb != nil && cb.NewPassesInLayer(layer) > 0 {
				anyIncluded = true
			}
		}
	}

	if !anyIncluded {
		// Zero-length packet.
		w.WriteBit(0)
		w.AlignOnes()
		return nil, nil
	}
	w.WriteBit(1)

	var incls []CodeBlockIncl
	for _, band := range precinct.Bands {
		band.ensureState()

		// Leaf values must be in place before the first non-empty packet
		// touches the trees: inclusion layer for the inclusion tree,
		// missing MSB count for the zero-bitplane tree.
		if !band.leavesSet {
			band.leavesSet = true
			for i, cb := range band.Blocks {
				x, y := i%band.NumCBX, i/band.NumCBX
				if cb == nil {
					band.inclTree.SetValue(x, y, tagTreeCap)
					band.zbpTree.SetValue(x, y, 0)
					continue
				}
				band.inclTree.SetValue(x, y, firstContributingLayer(cb))
				band.zbpTree.SetValue(x, y, cb.ZeroBitPlanes)
			}
			band.inclTree.Build()
			band.zbpTree.Build()
		}

		for i, cb := range band.Blocks {
			x, y := i%band.NumCBX, i/band.NumCBX
			state := band.states[i]

			if cb == nil {
				continue
			}

			newPasses := cb.NewPassesInLayer(layer)
			incl := CodeBlockIncl{
				Included:      newPasses > 0,
				ZeroBitPlanes: cb.ZeroBitPlanes,
				NumPasses:     newPasses,
			}

			if !state.included {
				if err := band.inclTree.Encode(w, x, y, layer+1); err != nil {
					return nil, err
				}
				if newPasses == 0 {
					incls = append(incls, incl)
					continue
				}
				incl.FirstInclusion = true
				if err := band.zbpTree.Encode(w, x, y, cb.ZeroBitPlanes+1); err != nil {
					return nil, err
				}
				state.included = true
				state.zeroPlanes = cb.ZeroBitPlanes
				state.lblock = 3
			} else {
				if newPasses == 0 {
					w.WriteBit(0)
					incls = append(incls, incl)
					continue
				}
				w.WriteBit(1)
			}

			if err := encodeNumPasses(w, newPasses); err != nil {
				return nil, err
			}

			segments, segPasses := blockSegments(cb, layer, newPasses)
			if err := encodeSegmentLengths(w, state, segments, segPasses); err != nil {
				return nil, err
			}

			start, end := cb.LayerByteRange(layer)
			incl.DataLength = end - start
			incl.Data = cb.Data[start:end]
			if cb.TermAll || cb.Lazy {
				incl.SegmentLengths = segments
				incl.SegmentPasses = segPasses
			}
			state.passesSoFar += newPasses
			incls = append(incls, incl)
		}
	}

	w.AlignOnes()
	return incls, nil
}

// firstContributingLayer returns the first layer in which the block delivers
// passes, or the tree cap when it never contributes.
func firstContributingLayer(cb *PrecinctCodeBlock) int {
	for l := range cb.LayerPasses {
		if cb.NewPassesInLayer(l) > 0 {
			return l
		}
	}
	return tagTreeCap
}

// blockSegments returns the coded-segment lengths the packet carries plus
// the pass count inside each segment, split at the block's termination
// boundaries; an unterminated contribution is one segment.
func blockSegments(cb *PrecinctCodeBlock, layer, newPasses int) ([]int, []int) {
	start, end := cb.LayerByteRange(layer)
	prev := 0
	if layer > 0 {
		prev = cb.LayerPasses[layer-1]
	}
	split := contributionSegments(cb, prev, newPasses)
	if len(split) <= 1 {
		return []int{end - start}, []int{newPasses}
	}

	segs := make([]int, len(split))
	segStart := start
	p := prev
	for i, pc := range split {
		p += pc
		segEnd := end
		if i < len(split)-1 && p-1 < len(cb.PassEnds) {
			segEnd = cb.PassEnds[p-1]
		}
		segs[i] = segEnd - segStart
		segStart = segEnd
	}
	return segs, split
}

func floorLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}

// encodeSegmentLengths writes the Lblock increment comma code followed by
// each segment length. A segment covering n passes uses
// lblock + floor(log2(n)) bits (B.10.7.1).
func encodeSegmentLengths(w *bitio.Writer, state *blockHeaderState, segments, segPasses []int) error {
	if state.lblock <= 0 {
		state.lblock = 3
	}

	needed := 0
	for i, seg := range segments {
		if seg < 0 {
			return fmt.Errorf("negative segment length")
		}
		n := bits.Len(uint(seg)) - floorLog2(segPasses[i])
		if n > needed {
			needed = n
		}
	}
	increment := needed - state.lblock
	if increment < 0 {
		increment = 0
	}
	for i := 0; i < increment; i++ {
		w.WriteBit(1)
	}
	w.WriteBit(0)
	state.lblock += increment

	for i, seg := range segments {
		w.WriteBits(seg, state.lblock+floorLog2(segPasses[i]))
	}
	return nil
}

// decodeSegmentLengths mirrors encodeSegmentLengths.
func decodeSegmentLengths(r *bitio.Reader, state *blockHeaderState, segPasses []int) ([]int, error) {
	if state.lblock <= 0 {
		state.lblock = 3
	}
	increment := 0
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return nil, err
		}
		if bit == 0 {
			break
		}
		increment++
		if increment > 32 {
			return nil, fmt.Errorf("runaway Lblock increment")
		}
	}
	state.lblock += increment

	segs := make([]int, len(segPasses))
	for i := range segs {
		v, err := r.ReadBits(state.lblock + floorLog2(segPasses[i]))
		if err != nil {
			return nil, err
		}
		segs[i] = v
	}
	return segs, nil
}

// parseHeader reads one packet header, mirroring encodeHeader. Returns the
// inclusion records in block scan order; empty packets return nil records.
func parseHeader(r *bitio.Reader, precinct *Precinct, layer int) ([]CodeBlockIncl, bool, error) {
	present, err := r.ReadBit()
	if err != nil {
		return nil, false, err
	}
	if present == 0 {
		if err := r.AlignToByte(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	var incls []CodeBlockIncl
	for _, band := range precinct.Bands {
		band.ensureState()

		for i, cb := range band.Blocks {
			x, y := i%band.NumCBX, i/band.NumCBX
			state := band.states[i]

			if cb == nil {
				continue
			}

			var incl CodeBlockIncl

			if !state.included {
				_, known, err := band.inclTree.Decode(r, x, y, layer+1)
				if err != nil {
					return nil, true, err
				}
				incl.Included = known
				if !known {
					incls = append(incls, incl)
					continue
				}
				incl.FirstInclusion = true
				zbp, err := band.zbpTree.DecodeFull(r, x, y)
				if err != nil {
					return nil, true, err
				}
				incl.ZeroBitPlanes = zbp
				state.included = true
				state.zeroPlanes = zbp
				state.lblock = 3
			} else {
				bit, err := r.ReadBit()
				if err != nil {
					return nil, true, err
				}
				incl.Included = bit == 1
				incl.ZeroBitPlanes = state.zeroPlanes
				if !incl.Included {
					incls = append(incls, incl)
					continue
				}
			}

			numPasses, err := decodeNumPasses(r)
			if err != nil {
				return nil, true, err
			}
			incl.NumPasses = numPasses

			segPasses := contributionSegments(cb, state.passesSoFar, numPasses)
			segs, err := decodeSegmentLengths(r, state, segPasses)
			if err != nil {
				return nil, true, err
			}
			for _, s := range segs {
				incl.DataLength += s
			}
			if cb.TermAll || cb.Lazy {
				incl.SegmentLengths = segs
				incl.SegmentPasses = segPasses
			}
			state.passesSoFar += numPasses
			incls = append(incls, incl)
		}
	}

	if err := r.AlignToByte(); err != nil {
		return nil, true, err
	}
	return incls, true, nil
}

// encodeNumPasses writes the number of coding passes with the standard
// 1..164 variable-length code (Table B.4).
func encodeNumPasses(w *bitio.Writer, n int) error {
	switch {
	case n == 1:
		w.WriteBit(0)
	case n == 2:
		w.WriteBits(0x2, 2)
	case n <= 5:
		w.WriteBits(0x0C|(n-3), 4)
	case n <= 36:
		w.WriteBits(0x1E0|(n-6), 9)
	case n <= 164:
		w.WriteBits(0xFF80|(n-37), 16)
	default:
		return fmt.Errorf("number of passes %d exceeds maximum 164", n)
	}
	return nil
}

// decodeNumPasses mirrors encodeNumPasses.
func decodeNumPasses(r *bitio.Reader) (int, error) {
	bit, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		return 1, nil
	}
	bit, err = r.ReadBit()
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		return 2, nil
	}
	v, err := r.ReadBits(2)
	if err != nil {
		return 0, err
	}
	if v != 3 {
		return 3 + v, nil
	}
	v, err = r.ReadBits(5)
	if err != nil {
		return 0, err
	}
	if v != 31 {
		return 6 + v, nil
	}
	v, err = r.ReadBits(7)
	if err != nil {
		return 0, err
	}
	return 37 + v, nil
}
