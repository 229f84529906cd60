package jpeg2000

// MaxShift region-of-interest coding (ISO/IEC 15444-1 Annex H). Region
// coefficients are scaled up by 2^shift before Tier-1, so their bit-planes
// dominate every quality layer. The decoder classifies each decoded
// coefficient by magnitude: anything with bits at or above plane `shift`
// belongs to the region and is scaled back down; background samples pass
// through untouched. For that classification to hold, shift must be at
// least the background's bit-plane count, which resolveROIShift enforces.

// roiSubband is the ROI rectangle projected onto one subband; full=true
// means every sample is in the region.
type roiSubband struct {
	full           bool
	x0, y0, x1, y1 int
}

func (r *roiSubband) contains(x, y int) bool {
	if r.full {
		return true
	}
	return x >= r.x0 && x < r.x1 && y >= r.y0 && y < r.y1
}

// roiFullComponent reports whether the region covers the whole component.
func (r *ROIParams) roiFullComponent() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// applyROIShift scales region samples up before Tier-1 coding. The block's
// origin inside its subband is (blockX0, blockY0).
func applyROIShift(data []int32, w, blockX0, blockY0 int, roi *roiSubband, shift int) {
	if roi == nil || shift <= 0 {
		return
	}
	h := len(data) / w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if roi.contains(blockX0+x, blockY0+y) {
				data[y*w+x] <<= uint(shift)
			}
		}
	}
}

// undoROIShift rescales decoded region samples: a magnitude with any bit at
// or above the shift plane was scaled at encode time.
func undoROIShift(data []int32, shift int) {
	if shift <= 0 {
		return
	}
	for i, v := range data {
		neg := v < 0
		if neg {
			v = -v
		}
		if v>>uint(shift) != 0 {
			v >>= uint(shift)
			if neg {
				v = -v
			}
			data[i] = v
		}
	}
}

// projectROI maps an image-space ROI rectangle onto a subband. The support
// of a subband sample grows with decomposition level; extending the window
// by the 5/3 support radius before each halving keeps every contributing
// sample inside the region.
func projectROI(roi *ROIParams, tileX0, tileY0, numLevels, res int) *roiSubband {
	if roi == nil {
		return nil
	}
	if roi.roiFullComponent() {
		return &roiSubband{full: true}
	}

	x0 := roi.X0 - tileX0
	y0 := roi.Y0 - tileY0
	x1 := roi.X1 - tileX0
	y1 := roi.Y1 - tileY0

	steps := numLevels - res
	if res > 0 {
		steps = numLevels - res + 1
	}
	for s := 0; s < steps; s++ {
		x0 = (x0 - 2) >> 1
		y0 = (y0 - 2) >> 1
		x1 = (x1 + 3) >> 1
		y1 = (y1 + 3) >> 1
	}
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	return &roiSubband{x0: x0, y0: y0, x1: x1, y1: y1}
}

// resolveROIShift returns the shift actually coded: MaxShift requires the
// shift to clear the background's nominal bit-plane count so the decoder's
// magnitude test cannot misclassify.
func resolveROIShift(requested, backgroundBps int) int {
	if requested <= 0 {
		return 0
	}
	if requested < backgroundBps {
		return backgroundBps
	}
	return requested
}
