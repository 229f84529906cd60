package colorspace

// DC level shift (ISO/IEC 15444-1 G.1.2): unsigned samples are re-centered
// around zero before the wavelet transform and shifted back after inverse
// transform. Signed components pass through unchanged.

// LevelShift subtracts 2^(bitDepth-1) from every sample of an unsigned
// component, in place.
func LevelShift(data []int32, bitDepth int, isSigned bool) {
	if isSigned {
		return
	}
	offset := int32(1) << uint(bitDepth-1)
	for i := range data {
		data[i] -= offset
	}
}

// LevelUnshift re-adds 2^(bitDepth-1) and clamps to the component range.
func LevelUnshift(data []int32, bitDepth int, isSigned bool) {
	if isSigned {
		maxVal := int32(1)<<uint(bitDepth-1) - 1
		minVal := -(int32(1) << uint(bitDepth-1))
		for i := range data {
			if data[i] > maxVal {
				data[i] = maxVal
			} else if data[i] < minVal {
				data[i] = minVal
			}
		}
		return
	}
	offset := int32(1) << uint(bitDepth-1)
	maxVal := int32(1)<<uint(bitDepth) - 1
	for i := range data {
		v := data[i] + offset
		if v < 0 {
			v = 0
		} else if v > maxVal {
			v = maxVal
		}
		data[i] = v
	}
}

// Interleave packs per-component planes into pixel-interleaved order.
func Interleave(components [][]int32) []int32 {
	if len(components) == 0 {
		return nil
	}
	numComponents := len(components)
	numPixels := len(components[0])
	out := make([]int32, numPixels*numComponents)
	for p := 0; p < numPixels; p++ {
		for c := 0; c < numComponents; c++ {
			out[p*numComponents+c] = components[c][p]
		}
	}
	return out
}

// Deinterleave splits pixel-interleaved data into per-component planes.
func Deinterleave(data []int32, numComponents int) [][]int32 {
	if len(data) == 0 || numComponents == 0 {
		return nil
	}
	numPixels := len(data) / numComponents
	out := make([][]int32, numComponents)
	for c := 0; c < numComponents; c++ {
		out[c] = make([]int32, numPixels)
	}
	for p := 0; p < numPixels; p++ {
		for c := 0; c < numComponents; c++ {
			out[c][p] = data[p*numComponents+c]
		}
	}
	return out
}
