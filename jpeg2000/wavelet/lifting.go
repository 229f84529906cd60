package wavelet

// Generic lifting engine for arbitrary wavelet kernels signaled through an
// arbitrary-decomposition-styles marker. The 5/3 and 9/7 filters have
// dedicated fast paths in dwt53.go and dwt97.go; anything else dispatches
// here.
//
// A kernel is a sequence of lifting steps applied to the interleaved signal.
// Each step updates one parity class from its neighbors:
//
//	x[2k+1-o] += c * (x[2k-o] + x[2k+2-o])   for every applicable k
//
// followed by an optional final scaling of both bands. Symmetric
// whole-sample extension is applied at both ends, never across a tile
// boundary.

// LiftStep is one lifting step of an arbitrary kernel.
type LiftStep struct {
	// UpdateOdd selects which parity class is updated: true updates the
	// high-band (odd) samples from the even ones, false the reverse.
	UpdateOdd bool
	// Coefficient applied to the neighbor sum.
	Coefficient float64
}

// Kernel is an arbitrary lifting wavelet kernel.
type Kernel struct {
	Steps []LiftStep
	// ScaleLow and ScaleHigh are applied after all steps; 1 disables.
	ScaleLow  float64
	ScaleHigh float64
}

// Kernel97 returns the standard irreversible 9/7 filter expressed as a
// generic kernel, used to cross-check the lifting engine against the
// dedicated path.
func Kernel97() Kernel {
	return Kernel{
		Steps: []LiftStep{
			{UpdateOdd: true, Coefficient: alpha97},
			{UpdateOdd: false, Coefficient: beta97},
			{UpdateOdd: true, Coefficient: gamma97},
			{UpdateOdd: false, Coefficient: delta97},
		},
		ScaleLow:  invK97,
		ScaleHigh: K97,
	}
}

// reflect mirrors index i into [0, n) with whole-sample symmetric extension.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// ForwardArbitrary1D applies the kernel to data in place and deinterleaves
// into [L | H]. even selects the parity of the interval origin.
func ForwardArbitrary1D(data []float64, k Kernel, even bool) {
	n := len(data)
	if n <= 1 {
		return
	}

	lowParity := 0
	if !even {
		lowParity = 1
	}

	for _, step := range k.Steps {
		applyLiftStep(data, step, lowParity, 1.0)
	}
	scaleBands(data, k, lowParity)
	deinterleave(data, even)
}

// InverseArbitrary1D reverses ForwardArbitrary1D: interleave, unscale, then
// the lifting steps in reverse with negated coefficients.
func InverseArbitrary1D(data []float64, k Kernel, even bool) {
	n := len(data)
	if n <= 1 {
		return
	}

	lowParity := 0
	if !even {
		lowParity = 1
	}

	interleave(data, even)
	unscaleBands(data, k, lowParity)
	for i := len(k.Steps) - 1; i >= 0; i-- {
		applyLiftStep(data, k.Steps[i], lowParity, -1.0)
	}
}

func applyLiftStep(data []float64, step LiftStep, lowParity int, direction float64) {
	n := len(data)
	// The updated parity class: odd relative to the low band.
	target := lowParity ^ 1
	if !step.UpdateOdd {
		target = lowParity
	}
	c := step.Coefficient * direction
	for i := target; i < n; i += 2 {
		left := reflect(i-1, n)
		right := reflect(i+1, n)
		data[i] += c * (data[left] + data[right])
	}
}

func scaleBands(data []float64, k Kernel, lowParity int) {
	if k.ScaleLow == 0 || (k.ScaleLow == 1 && k.ScaleHigh == 1) {
		return
	}
	for i := range data {
		if i&1 == lowParity {
			data[i] *= k.ScaleLow
		} else {
			data[i] *= k.ScaleHigh
		}
	}
}

func unscaleBands(data []float64, k Kernel, lowParity int) {
	if k.ScaleLow == 0 || (k.ScaleLow == 1 && k.ScaleHigh == 1) {
		return
	}
	for i := range data {
		if i&1 == lowParity {
			data[i] /= k.ScaleLow
		} else {
			data[i] /= k.ScaleHigh
		}
	}
}

func deinterleave(data []float64, even bool) {
	n := len(data)
	sn := splitLengths(n, even)
	tmp := make([]float64, n)
	lowStart := 0
	if !even {
		lowStart = 1
	}
	li, hi := 0, sn
	for i := 0; i < n; i++ {
		if i&1 == lowStart&1 {
			tmp[li] = data[i]
			li++
		} else {
			tmp[hi] = data[i]
			hi++
		}
	}
	copy(data, tmp)
}

func interleave(data []float64, even bool) {
	n := len(data)
	sn := splitLengths(n, even)
	tmp := make([]float64, n)
	lowStart := 0
	if !even {
		lowStart = 1
	}
	li, hi := 0, sn
	for i := 0; i < n; i++ {
		if i&1 == lowStart&1 {
			tmp[i] = data[li]
			li++
		} else {
			tmp[i] = data[hi]
			hi++
		}
	}
	copy(data, tmp)
}

// ForwardArbitrary2D applies the kernel separably: columns first, then rows,
// matching the dedicated transforms.
func ForwardArbitrary2D(data []float64, width, height, stride int, k Kernel, evenRow, evenCol bool) {
	if height > 1 {
		col := make([]float64, height)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				col[y] = data[y*stride+x]
			}
			ForwardArbitrary1D(col, k, evenCol)
			for y := 0; y < height; y++ {
				data[y*stride+x] = col[y]
			}
		}
	}
	if width > 1 {
		row := make([]float64, width)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				row[x] = data[y*stride+x]
			}
			ForwardArbitrary1D(row, k, evenRow)
			for x := 0; x < width; x++ {
				data[y*stride+x] = row[x]
			}
		}
	}
}

// InverseArbitrary2D reverses ForwardArbitrary2D: rows first, then columns.
func InverseArbitrary2D(data []float64, width, height, stride int, k Kernel, evenRow, evenCol bool) {
	if width > 1 {
		row := make([]float64, width)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				row[x] = data[y*stride+x]
			}
			InverseArbitrary1D(row, k, evenRow)
			for x := 0; x < width; x++ {
				data[y*stride+x] = row[x]
			}
		}
	}
	if height > 1 {
		col := make([]float64, height)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				col[y] = data[y*stride+x]
			}
			InverseArbitrary1D(col, k, evenCol)
			for y := 0; y < height; y++ {
				data[y*stride+x] = col[y]
			}
		}
	}
}
