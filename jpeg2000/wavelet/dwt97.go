// Package wavelet implements the discrete wavelet transforms of the JPEG
// 2000 core: the 5/3 reversible and 9/7 irreversible filters as dedicated
// paths, plus a generic lifting engine for arbitrary kernels.
package wavelet

// 9/7 irreversible lifting (ISO/IEC 15444-1 Annex F, Table F.4). The four
// lifting coefficients and the scaling constant are the Cohen-Daubechies-
// Feauveau values fixed by the standard; arithmetic is IEEE float64.
const (
	alpha97 = -1.586134342
	beta97  = -0.052980118
	gamma97 = 0.882911075
	delta97 = 0.443506852

	K97    = 1.230174105
	invK97 = 0.812893066 // 1 / K97
)

// Forward97 transforms one interval in place and leaves it deinterleaved as
// [L | H]. even selects the parity of the interval origin, as in Forward53.
func Forward97(data []float64, even bool) {
	n := len(data)
	if n <= 1 {
		return
	}
	low := 0
	if !even {
		low = 1
	}
	high := 1 - low

	lift97(data, high, alpha97)
	lift97(data, low, beta97)
	lift97(data, high, gamma97)
	lift97(data, low, delta97)
	for i := range data {
		if i&1 == low {
			data[i] *= invK97
		} else {
			data[i] *= K97
		}
	}
	deinterleave(data, even)
}

// Inverse97 reverses Forward97 up to float rounding.
func Inverse97(data []float64, even bool) {
	n := len(data)
	if n <= 1 {
		return
	}
	low := 0
	if !even {
		low = 1
	}
	high := 1 - low

	interleave(data, even)
	for i := range data {
		if i&1 == low {
			data[i] *= K97
		} else {
			data[i] *= invK97
		}
	}
	lift97(data, low, -delta97)
	lift97(data, high, -gamma97)
	lift97(data, low, -beta97)
	lift97(data, high, -alpha97)
}

// lift97 applies one lifting step to the given parity class of the
// interleaved signal, with symmetric whole-sample extension at the ends.
func lift97(data []float64, parity int, c float64) {
	n := len(data)
	for i := parity; i < n; i += 2 {
		data[i] += c * (data[reflect(i-1, n)] + data[reflect(i+1, n)])
	}
}

func forward2D97(data []float64, width, height, stride int, evenRow, evenCol bool) {
	if height > 1 {
		col := make([]float64, height)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				col[y] = data[y*stride+x]
			}
			Forward97(col, evenCol)
			for y := 0; y < height; y++ {
				data[y*stride+x] = col[y]
			}
		}
	}
	if width > 1 {
		row := make([]float64, width)
		for y := 0; y < height; y++ {
			copy(row, data[y*stride:y*stride+width])
			Forward97(row, evenRow)
			copy(data[y*stride:y*stride+width], row)
		}
	}
}

func inverse2D97(data []float64, width, height, stride int, evenRow, evenCol bool) {
	if width > 1 {
		row := make([]float64, width)
		for y := 0; y < height; y++ {
			copy(row, data[y*stride:y*stride+width])
			Inverse97(row, evenRow)
			copy(data[y*stride:y*stride+width], row)
		}
	}
	if height > 1 {
		col := make([]float64, height)
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				col[y] = data[y*stride+x]
			}
			Inverse97(col, evenCol)
			for y := 0; y < height; y++ {
				data[y*stride+x] = col[y]
			}
		}
	}
}

// ForwardMultilevel97 runs a dyadic 9/7 decomposition, recursing into the
// LL window like ForwardMultilevel.
func ForwardMultilevel97(data []float64, width, height, levels int) {
	w, h := width, height
	x0, y0 := 0, 0
	for level := 0; level < levels; level++ {
		if w <= 1 && h <= 1 {
			break
		}
		forward2D97(data, w, h, width, isEven(x0), isEven(y0))
		w, h, x0, y0 = nextLowpassWindow(w, h, x0, y0)
	}
}

// InverseMultilevel97 reconstructs from the coarsest level outward.
func InverseMultilevel97(data []float64, width, height, levels int) {
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
		inverse2D97(data, win.w, win.h, width, isEven(win.x0), isEven(win.y0))
	}
}
