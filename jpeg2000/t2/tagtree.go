// Package t2 implements Tier-2 coding: tag trees, packet headers, packet
// bodies, and the five progression orders.
// Reference: ISO/IEC 15444-1:2019 Annex B
package t2

import (
	"fmt"

	"github.com/rasterlab/go-j2k/jpeg2000/bitio"
)

// tagTreeCap bounds decoded node values so a malformed stream cannot spin
// the refinement loop forever.
const tagTreeCap = 16384

// TagTree encodes a 2-D grid of non-negative integers where every internal
// node holds the minimum of its children. Queries refine a lower bound one
// bit at a time, shared along the root-to-leaf path.
//
// Nodes are kept flat: leaves first, then each coarser level, ending at the
// single root. A node index addresses values, lower-bound states, and the
// known flag in parallel slices.
type TagTree struct {
	width  int
	height int

	// levelOffset[l] is the index of the first node of level l (level 0 =
	// leaves); levelDims holds each level's grid size.
	levelOffset []int
	levelDims   [][2]int

	values []int
	lows   []int
	known  []bool
}

// NewTagTree creates a tag tree over a width x height leaf grid.
func NewTagTree(width, height int) *TagTree {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	tt := &TagTree{width: width, height: height}

	w, h := width, height
	offset := 0
	for {
		tt.levelOffset = append(tt.levelOffset, offset)
		tt.levelDims = append(tt.levelDims, [2]int{w, h})
		offset += w * h
		if w == 1 && h == 1 {
			break
		}
		w = (w + 1) / 2
		h = (h + 1) / 2
	}

	tt.values = make([]int, offset)
	tt.lows = make([]int, offset)
	tt.known = make([]bool, offset)
	return tt
}

// Reset clears all coding state and leaf values.
func (tt *TagTree) Reset() {
	for i := range tt.values {
		tt.values[i] = 0
		tt.lows[i] = 0
		tt.known[i] = false
	}
}

// ResetState clears only the per-packet coding state, keeping leaf values.
// Call before re-encoding the tree into a fresh packet sequence.
func (tt *TagTree) ResetState() {
	for i := range tt.lows {
		tt.lows[i] = 0
		tt.known[i] = false
	}
}

// SetValue sets a leaf value prior to Build.
func (tt *TagTree) SetValue(x, y, v int) {
	if x < 0 || x >= tt.width || y < 0 || y >= tt.height {
		return
	}
	tt.values[y*tt.width+x] = v
}

// Build recomputes internal node values as the minimum of their children.
// Must run after the leaves change and before encoding.
func (tt *TagTree) Build() {
	for l := 1; l < len(tt.levelOffset); l++ {
		pw, ph := tt.levelDims[l][0], tt.levelDims[l][1]
		cw, ch := tt.levelDims[l-1][0], tt.levelDims[l-1][1]
		for py := 0; py < ph; py++ {
			for px := 0; px < pw; px++ {
				minVal := -1
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						cx, cy := 2*px+dx, 2*py+dy
						if cx >= cw || cy >= ch {
							continue
						}
						v := tt.values[tt.levelOffset[l-1]+cy*cw+cx]
						if minVal < 0 || v < minVal {
							minVal = v
						}
					}
				}
				if minVal < 0 {
					minVal = 0
				}
				tt.values[tt.levelOffset[l]+py*pw+px] = minVal
			}
		}
	}
}

// path returns node indices from root down to the (x,y) leaf.
func (tt *TagTree) path(x, y int) []int {
	n := len(tt.levelOffset)
	nodes := make([]int, n)
	cx, cy := x, y
	for l := 0; l < n; l++ {
		w := tt.levelDims[l][0]
		nodes[n-1-l] = tt.levelOffset[l] + cy*w + cx
		cx >>= 1
		cy >>= 1
	}
	return nodes
}

// Encode emits the bits refining the (x,y) leaf up to threshold. The
// decoder must issue the same query sequence with the same thresholds.
func (tt *TagTree) Encode(w *bitio.Writer, x, y, threshold int) error {
	if x < 0 || x >= tt.width || y < 0 || y >= tt.height {
		return fmt.Errorf("tag tree leaf (%d,%d) out of range", x, y)
	}

	low := 0
	for _, node := range tt.path(x, y) {
		if tt.lows[node] > low {
			low = tt.lows[node]
		}
		for low < threshold {
			if low < tt.values[node] {
				w.WriteBit(0)
				low++
				continue
			}
			if !tt.known[node] {
				w.WriteBit(1)
				tt.known[node] = true
			}
			break
		}
		tt.lows[node] = low
		if !tt.known[node] {
			// Node still at or above threshold; deeper nodes carry no
			// information yet.
			break
		}
	}
	return nil
}

// Decode refines the (x,y) leaf up to threshold. Returns the leaf value and
// whether it is exactly known (value < threshold).
func (tt *TagTree) Decode(r *bitio.Reader, x, y, threshold int) (int, bool, error) {
	if x < 0 || x >= tt.width || y < 0 || y >= tt.height {
		return 0, false, fmt.Errorf("tag tree leaf (%d,%d) out of range", x, y)
	}

	low := 0
	var leaf int
	for _, node := range tt.path(x, y) {
		leaf = node
		if tt.lows[node] > low {
			low = tt.lows[node]
		}
		for low < threshold && !tt.known[node] {
			bit, err := r.ReadBit()
			if err != nil {
				return low, false, err
			}
			if bit == 1 {
				tt.values[node] = low
				tt.known[node] = true
			} else {
				low++
				if low > tagTreeCap {
					return 0, false, fmt.Errorf("tag tree value exceeds cap")
				}
			}
		}
		tt.lows[node] = low
		if !tt.known[node] {
			return low, false, nil
		}
		low = tt.values[node]
	}
	return tt.values[leaf], tt.known[leaf], nil
}

// DecodeFull refines the (x,y) leaf until its exact value is known,
// regardless of threshold. Used for zero-bitplane counts.
func (tt *TagTree) DecodeFull(r *bitio.Reader, x, y int) (int, error) {
	threshold := 1
	for {
		v, known, err := tt.Decode(r, x, y, threshold)
		if err != nil {
			return 0, err
		}
		if known {
			return v, nil
		}
		threshold = v + 1
		if threshold > tagTreeCap {
			return 0, fmt.Errorf("tag tree value exceeds cap")
		}
	}
}

// Value returns a leaf's current value.
func (tt *TagTree) Value(x, y int) int {
	return tt.values[y*tt.width+x]
}
