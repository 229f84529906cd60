package colorspace

import "math"

// ICT coefficients: the fixed YCbCr 601 matrix with full-range offsets.
// No 128 offset is applied; input is already DC level shifted.

// ICTForward applies the forward irreversible color transform.
func ICTForward(r, g, b int32) (y, cb, cr int32) {
	y = int32(math.Round(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)))
	cb = int32(math.Round(-0.16875*float64(r) - 0.33126*float64(g) + 0.5*float64(b)))
	cr = int32(math.Round(0.5*float64(r) - 0.41869*float64(g) - 0.08131*float64(b)))
	return
}

// ICTInverse applies the inverse irreversible color transform.
func ICTInverse(y, cb, cr int32) (r, g, b int32) {
	r = int32(math.Round(float64(y) + 1.402*float64(cr)))
	g = int32(math.Round(float64(y) - 0.34413*float64(cb) - 0.71414*float64(cr)))
	b = int32(math.Round(float64(y) + 1.772*float64(cb)))
	return
}

// ApplyICT converts R,G,B planes to Y,Cb,Cr in place.
func ApplyICT(r, g, b []int32) {
	for i := range r {
		r[i], g[i], b[i] = ICTForward(r[i], g[i], b[i])
	}
}

// ApplyInverseICT converts Y,Cb,Cr planes back to R,G,B in place.
func ApplyInverseICT(y, cb, cr []int32) {
	for i := range y {
		y[i], cb[i], cr[i] = ICTInverse(y[i], cb[i], cr[i])
	}
}
