package wavelet

// 5/3 reversible lifting (ISO/IEC 15444-1 Annex F, Table F.2). Integer in,
// integer out; the predict/update pair inverts exactly, which is what the
// lossless path relies on. Boundary samples use whole-sample symmetric
// extension via reflect, never reaching across a tile edge.

// Forward53 transforms one interval in place and leaves it deinterleaved as
// [L | H]. even selects the parity of the interval origin on the reference
// grid: an even origin puts the first sample in the low band.
func Forward53(data []int32, even bool) {
	n := len(data)
	if n <= 1 {
		// A single high-band sample has no neighbors; its coefficient is
		// twice the sample (F.3.8.2).
		if n == 1 && !even {
			data[0] *= 2
		}
		return
	}
	low := 0
	if !even {
		low = 1
	}

	// Predict: high band loses the average of its neighbors.
	for i := 1 - low; i < n; i += 2 {
		data[i] -= (data[reflect(i-1, n)] + data[reflect(i+1, n)]) >> 1
	}
	// Update: low band absorbs a quarter of the new detail.
	for i := low; i < n; i += 2 {
		data[i] += (data[reflect(i-1, n)] + data[reflect(i+1, n)] + 2) >> 2
	}
	deinterleave53(data, even)
}

// Inverse53 reverses Forward53 exactly.
func Inverse53(data []int32, even bool) {
	n := len(data)
	if n <= 1 {
		if n == 1 && !even {
			data[0] /= 2
		}
		return
	}
	low := 0
	if !even {
		low = 1
	}

	interleave53(data, even)
	for i := low; i < n; i += 2 {
		data[i] -= (data[reflect(i-1, n)] + data[reflect(i+1, n)] + 2) >> 2
	}
	for i := 1 - low; i < n; i += 2 {
		data[i] += (data[reflect(i-1, n)] + data[reflect(i+1, n)]) >> 1
	}
}

func deinterleave53(data []int32, even bool) {
	n := len(data)
	sn := splitLengths(n, even)
	lowStart := 0
	if !even {
		lowStart = 1
	}
	tmp := make([]int32, n)
	li, hi := 0, sn
	for i := 0; i < n; i++ {
		if i&1 == lowStart {
			tmp[li] = data[i]
			li++
		} else {
			tmp[hi] = data[i]
			hi++
		}
	}
	copy(data, tmp)
}

func interleave53(data []int32, even bool) {
	n := len(data)
	sn := splitLengths(n, even)
	lowStart := 0
	if !even {
		lowStart = 1
	}
	tmp := make([]int32, n)
	li, hi := 0, sn
	for i := 0; i < n; i++ {
		if i&1 == lowStart {
			tmp[i] = data[li]
			li++
		} else {
			tmp[i] = data[hi]
			hi++
		}
	}
	copy(data, tmp)
}

// forward2D53 applies the 1-D transform separably: columns first, then rows.
// stride is the full tile width; it stays fixed across levels while the LL
// window shrinks into the top-left corner.
func forward2D53(data []int32, width, height, stride int, evenRow, evenCol bool) {
	if height > 1 {
		col := make([]int32, height)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				col[y] = data[y*stride+x]
			}
			Forward53(col, evenCol)
			for y := 0; y < height; y++ {
				data[y*stride+x] = col[y]
			}
		}
	}
	if width > 1 {
		row := make([]int32, width)
		for y := 0; y < height; y++ {
			copy(row, data[y*stride:y*stride+width])
			Forward53(row, evenRow)
			copy(data[y*stride:y*stride+width], row)
		}
	}
}

// inverse2D53 reverses forward2D53: rows first, then columns.
func inverse2D53(data []int32, width, height, stride int, evenRow, evenCol bool) {
	if width > 1 {
		row := make([]int32, width)
		for y := 0; y < height; y++ {
			copy(row, data[y*stride:y*stride+width])
			Inverse53(row, evenRow)
			copy(data[y*stride:y*stride+width], row)
		}
	}
	if height > 1 {
		col := make([]int32, height)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				col[y] = data[y*stride+x]
			}
			Inverse53(col, evenCol)
			for y := 0; y < height; y++ {
				data[y*stride+x] = col[y]
			}
		}
	}
}

// ForwardMultilevel runs a dyadic 5/3 decomposition: each level transforms
// the current LL window in place, then recurses into its low-pass quadrant.
func ForwardMultilevel(data []int32, width, height, levels int) {
	w, h := width, height
	x0, y0 := 0, 0
	for level := 0; level < levels; level++ {
		if w <= 1 && h <= 1 {
			break
		}
		forward2D53(data, w, h, width, isEven(x0), isEven(y0))
		w, h, x0, y0 = nextLowpassWindow(w, h, x0, y0)
	}
}

// InverseMultilevel reconstructs from the coarsest level outward.
func InverseMultilevel(data []int32, width, height, levels int) {
	type window struct {
		w, h, x0, y0 int
	}
	wins := make([]window, levels+1)
	wins[0] = window{width, height, 0, 0}
	for i := 1; i <= levels; i++ {
		p := wins[i-1]
		w, h, x0, y0 := nextLowpassWindow(p.w, p.h, p.x0, p.y0)
		wins[i] = window{w, h, x0, y0}
	}
	for level := levels - 1; level >= 0; level-- {
		win := wins[level]
		inverse2D53(data, win.w, win.h, width, isEven(win.x0), isEven(win.y0))
	}
}
