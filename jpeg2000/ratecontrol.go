package jpeg2000

import (
	"math"
	"sort"

	"github.com/rasterlab/go-j2k/jpeg2000/t1"
	"github.com/rasterlab/go-j2k/jpeg2000/t2"
)

// Post-compression rate-distortion optimization (ISO/IEC 15444-1 J.10).
// Every code-block contributes an ordered list of candidate truncation
// points; PCRD selects per-block truncation indices minimizing total
// distortion under a byte budget by sweeping a Lagrangian threshold on the
// convex hull of each block's (rate, distortion) curve.

// blockRD is one block's rate-distortion data prepared for allocation.
type blockRD struct {
	cb *t2.PrecinctCodeBlock

	// totalPasses is the block's full pass count; the unconstrained layer
	// delivers it even when rate slack hides the last passes from the hull.
	totalPasses int

	// Cumulative rate (bytes) and distortion reduction at each candidate
	// truncation point, hull-filtered; index 0 is "no passes".
	passIndex []int // passes kept at hull point i
	rate      []int
	dist      []float64

	// slope[i] is the distortion-rate slope of hull segment i-1 -> i;
	// strictly decreasing after hull filtering.
	slope []float64
}

// newBlockRD builds the convex hull of a block's pass list. weight scales
// the distortion estimates by the subband's squared synthesis norm and
// gain, making slopes comparable across subbands.
func newBlockRD(cb *t2.PrecinctCodeBlock, passes []t1.PassData, weight float64) *blockRD {
	b := &blockRD{
		cb:          cb,
		totalPasses: len(passes),
		passIndex:   []int{0},
		rate:        []int{0},
		dist:        []float64{0},
		slope:       []float64{math.Inf(1)},
	}

	for i := range passes {
		r := passes[i].Rate
		d := passes[i].Distortion * weight

		// Drop candidates until the new point extends the hull with a
		// strictly decreasing slope.
		for len(b.rate) > 1 {
			lastIdx := len(b.rate) - 1
			dr := r - b.rate[lastIdx]
			dd := d - b.dist[lastIdx]
			if dr <= 0 {
				// Same rate, more distortion reduction: replace.
				b.passIndex = b.passIndex[:lastIdx]
				b.rate = b.rate[:lastIdx]
				b.dist = b.dist[:lastIdx]
				b.slope = b.slope[:lastIdx]
				continue
			}
			s := dd / float64(dr)
			if s >= b.slope[lastIdx] {
				b.passIndex = b.passIndex[:lastIdx]
				b.rate = b.rate[:lastIdx]
				b.dist = b.dist[:lastIdx]
				b.slope = b.slope[:lastIdx]
				continue
			}
			break
		}

		lastIdx := len(b.rate) - 1
		dr := r - b.rate[lastIdx]
		dd := d - b.dist[lastIdx]
		if dr <= 0 || dd <= 0 {
			continue
		}
		b.passIndex = append(b.passIndex, i+1)
		b.rate = append(b.rate, r)
		b.dist = append(b.dist, d)
		b.slope = append(b.slope, dd/float64(dr))
	}
	return b
}

// truncationFor returns the hull point (pass count, rate) selected by
// threshold lambda: the deepest point whose segment slope is >= lambda.
func (b *blockRD) truncationFor(lambda float64) (passes, rate int) {
	sel := 0
	for i := 1; i < len(b.slope); i++ {
		if b.slope[i] >= lambda {
			sel = i
		} else {
			break
		}
	}
	return b.passIndex[sel], b.rate[sel]
}

// maxRate returns the block's full rate.
func (b *blockRD) maxRate() int {
	return b.rate[len(b.rate)-1]
}

// rateFor sums the rate of a given selection.
func totalRate(blocks []*blockRD, lambda float64) int {
	total := 0
	for _, b := range blocks {
		_, r := b.truncationFor(lambda)
		total += r
	}
	return total
}

// allocateLayers assigns per-block cumulative pass counts for every layer.
// layerBudgets are cumulative byte targets (net of header overhead); a zero
// budget means "everything", which the final layer defaults to for lossless
// configurations.
func allocateLayers(blocks []*blockRD, layerBudgets []int) {
	numLayers := len(layerBudgets)
	for _, b := range blocks {
		b.cb.LayerPasses = make([]int, numLayers)
	}

	prevPasses := make([]int, len(blocks))

	for l, budget := range layerBudgets {
		var passesAt []int
		if budget <= 0 {
			// Deliver everything that remains.
			passesAt = make([]int, len(blocks))
			for i, b := range blocks {
				passesAt[i] = b.totalPasses
			}
		} else {
			lambda := bisectLambda(blocks, budget)
			passesAt = make([]int, len(blocks))
			for i, b := range blocks {
				passesAt[i], _ = b.truncationFor(lambda)
			}
		}

		for i, b := range blocks {
			p := passesAt[i]
			// Layers deliver non-decreasing prefixes.
			if p < prevPasses[i] {
				p = prevPasses[i]
			}
			b.cb.LayerPasses[l] = p
			prevPasses[i] = p
		}
	}
}

// bisectLambda finds the slope threshold whose selection fills the budget
// as closely as possible without exceeding it.
func bisectLambda(blocks []*blockRD, budget int) float64 {
	// Collect candidate slopes; the optimum lies on one of them.
	var slopes []float64
	for _, b := range blocks {
		for i := 1; i < len(b.slope); i++ {
			slopes = append(slopes, b.slope[i])
		}
	}
	if len(slopes) == 0 {
		return math.Inf(1)
	}
	sort.Float64s(slopes)

	// Highest lambda admits the least data. Binary search for the lowest
	// lambda whose total rate still fits.
	lo, hi := 0, len(slopes)-1
	best := math.Inf(1)
	for lo <= hi {
		mid := (lo + hi) / 2
		lambda := slopes[mid]
		if totalRate(blocks, lambda) <= budget {
			best = lambda
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return best
}

// rateControl runs PCRD over all blocks of a tile set. overhead estimates
// the marker and packet-header bytes that share the budget with block data.
// Returns the achieved data rate. When the budget cannot even fit the
// overhead, the smallest valid codestream is produced (zero passes
// everywhere) and the caller reports the achieved rate.
func rateControl(blocks []*blockRD, layerRates []int, numLayers, overhead int) int {
	budgets := make([]int, numLayers)
	for l := 0; l < numLayers; l++ {
		if l < len(layerRates) && layerRates[l] > 0 {
			b := layerRates[l] - overhead
			if b < 0 {
				b = 1
			}
			budgets[l] = b
		}
	}
	allocateLayers(blocks, budgets)

	achieved := 0
	for _, b := range blocks {
		if n := len(b.cb.LayerPasses); n > 0 {
			p := b.cb.LayerPasses[n-1]
			if p > len(b.cb.PassEnds) {
				p = len(b.cb.PassEnds)
			}
			if p > 0 {
				achieved += b.cb.PassEnds[p-1]
			}
		}
	}
	return achieved
}
