// Package colorspace implements the JPEG 2000 multi-component transforms:
// the reversible RCT used with the 5/3 filter and the irreversible ICT used
// with the 9/7 filter, plus DC level shifting.
// Reference: ISO/IEC 15444-1:2019 Annex G
package colorspace

// RCTForward applies the forward Reversible Color Transform.
func RCTForward(r, g, b int32) (y, cb, cr int32) {
	y = (r + 2*g + b) >> 2
	cb = b - g
	cr = r - g
	return
}

// RCTInverse applies the inverse Reversible Color Transform.
func RCTInverse(y, cb, cr int32) (r, g, b int32) {
	g = y - ((cb + cr) >> 2)
	r = cr + g
	b = cb + g
	return
}

// ApplyRCT converts R,G,B planes to Y,Cb,Cr in place.
func ApplyRCT(r, g, b []int32) {
	for i := range r {
		r[i], g[i], b[i] = RCTForward(r[i], g[i], b[i])
	}
}

// ApplyInverseRCT converts Y,Cb,Cr planes back to R,G,B in place.
func ApplyInverseRCT(y, cb, cr []int32) {
	for i := range y {
		y[i], cb[i], cr[i] = RCTInverse(y[i], cb[i], cr[i])
	}
}
