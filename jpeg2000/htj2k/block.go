package htj2k

import (
	"fmt"
	"math/bits"
)

// Cleanup-pass block codec. The encoder makes a single forward pass over
// 2x2 quads in raster order:
//
//   - quads whose causal neighborhood is entirely insignificant route their
//     "significant at all?" decision through the MEL coder;
//   - significance patterns (rho) and the quad's magnitude-exponent bound u
//     go to the VLC stream;
//   - magnitude remainders and signs go to the MagSgn stream.
//
// The decoder advances all three stream pointers symmetrically: MagSgn from
// the block start, MEL from the start of the suffix region, VLC backward
// from its end. Scup, the suffix length including its own two trailer
// bytes, sits in the final two bytes with 7 payload bits each.

// maxScup bounds the MEL+VLC suffix length representable in the trailer.
const maxScup = 1 << 14

// quadOrder lists the sample offsets of a quad in coding order:
// (0,0), (0,1), (1,0), (1,1) as (dx, dy).
var quadOrder = [4][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}

// EncodeBlock codes a code-block's coefficients with the HT cleanup pass.
// An all-zero block yields an empty byte slice.
func EncodeBlock(data []int32, width, height int) ([]byte, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("data size mismatch: expected %d, got %d", width*height, len(data))
	}

	allZero := true
	for _, v := range data {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return []byte{}, nil
	}

	quadW := (width + 1) / 2
	quadH := (height + 1) / 2
	rhoGrid := make([]uint8, quadW*quadH)

	magsgn := &fwdWriter{}
	mel := newMELEncoder()
	vlc := newRevWriter()

	for qy := 0; qy < quadH; qy++ {
		for qx := 0; qx < quadW; qx++ {
			rho := quadRho(data, width, height, qx, qy)
			rhoGrid[qy*quadW+qx] = rho

			if quadContext(rhoGrid, quadW, qx, qy) == 0 {
				if rho == 0 {
					mel.encode(0)
					continue
				}
				mel.encode(1)
			}
			vlc.put(uint32(rho), 4)
			if rho == 0 {
				continue
			}

			u := quadExponent(data, width, height, qx, qy)
			encodeUVLC(vlc, u)

			for i, off := range quadOrder {
				if rho&(1<<uint(i)) == 0 {
					continue
				}
				x, y := 2*qx+off[0], 2*qy+off[1]
				v := data[y*width+x]
				sign := uint32(0)
				if v < 0 {
					sign = 1
					v = -v
				}
				magsgn.put(sign, 1)
				magsgn.put(uint32(v-1), u)
			}
		}
	}

	magBytes := magsgn.flush()
	melBytes := mel.flush()
	vlcBytes := vlc.finish()

	scup := len(melBytes) + len(vlcBytes) + 2
	if scup >= maxScup {
		return nil, fmt.Errorf("HT suffix length %d exceeds limit", scup)
	}

	out := make([]byte, 0, len(magBytes)+scup)
	out = append(out, magBytes...)
	out = append(out, melBytes...)
	out = append(out, vlcBytes...)
	out = append(out, byte(scup>>7)&0x7F, byte(scup)&0x7F)
	return out, nil
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(data []byte, width, height int) ([]int32, error) {
	out := make([]int32, width*height)
	if len(data) == 0 {
		return out, nil
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("HT block too short")
	}

	scup := int(data[len(data)-2]&0x7F)<<7 | int(data[len(data)-1]&0x7F)
	if scup < 2 || scup > len(data) {
		return nil, fmt.Errorf("invalid HT suffix length %d", scup)
	}

	suffix := data[len(data)-scup:]
	magsgn := newFwdReader(data[:len(data)-scup])
	mel := newMELDecoder(suffix)
	vlc := newRevReader(suffix[:len(suffix)-2])

	quadW := (width + 1) / 2
	quadH := (height + 1) / 2
	rhoGrid := make([]uint8, quadW*quadH)

	for qy := 0; qy < quadH; qy++ {
		for qx := 0; qx < quadW; qx++ {
			var rho uint8
			if quadContext(rhoGrid, quadW, qx, qy) == 0 {
				if mel.decode() == 0 {
					continue
				}
				rho = uint8(vlc.get(4))
				if rho == 0 {
					return nil, fmt.Errorf("HT stream corrupt: empty quad after MEL hit")
				}
			} else {
				rho = uint8(vlc.get(4))
			}
			rhoGrid[qy*quadW+qx] = rho
			if rho == 0 {
				continue
			}

			u := decodeUVLC(vlc)

			for i, off := range quadOrder {
				if rho&(1<<uint(i)) == 0 {
					continue
				}
				x, y := 2*qx+off[0], 2*qy+off[1]
				if x >= width || y >= height {
					return nil, fmt.Errorf("HT stream corrupt: significance outside block")
				}
				sign := magsgn.get(1)
				mag := int32(magsgn.get(u)) + 1
				if sign != 0 {
					mag = -mag
				}
				out[y*width+x] = mag
			}
		}
	}
	return out, nil
}

// quadRho computes the 2x2 significance pattern.
func quadRho(data []int32, width, height, qx, qy int) uint8 {
	var rho uint8
	for i, off := range quadOrder {
		x, y := 2*qx+off[0], 2*qy+off[1]
		if x >= width || y >= height {
			continue
		}
		if data[y*width+x] != 0 {
			rho |= 1 << uint(i)
		}
	}
	return rho
}

// quadExponent returns the magnitude bit count of the quad's largest
// coefficient; at least 1 for a significant quad.
func quadExponent(data []int32, width, height, qx, qy int) int {
	maxMag := int32(0)
	for _, off := range quadOrder {
		x, y := 2*qx+off[0], 2*qy+off[1]
		if x >= width || y >= height {
			continue
		}
		v := data[y*width+x]
		if v < 0 {
			v = -v
		}
		if v > maxMag {
			maxMag = v
		}
	}
	u := bits.Len32(uint32(maxMag))
	if u < 1 {
		u = 1
	}
	return u
}

// quadContext reports whether any causal neighbor quad (west, northwest,
// north, northeast) is significant.
func quadContext(rhoGrid []uint8, quadW, qx, qy int) int {
	if qx > 0 && rhoGrid[qy*quadW+qx-1] != 0 {
		return 1
	}
	if qy > 0 {
		row := (qy - 1) * quadW
		if rhoGrid[row+qx] != 0 {
			return 1
		}
		if qx > 0 && rhoGrid[row+qx-1] != 0 {
			return 1
		}
		if qx+1 < quadW && rhoGrid[row+qx+1] != 0 {
			return 1
		}
	}
	return 0
}

// encodeUVLC writes the exponent bound u >= 1 with a unary prefix and a
// 5-bit escape suffix.
func encodeUVLC(w *revWriter, u int) {
	switch {
	case u == 1:
		w.put(1, 1)
	case u == 2:
		w.put(0, 1)
		w.put(1, 1)
	case u == 3:
		w.put(0, 1)
		w.put(0, 1)
		w.put(1, 1)
	default:
		w.put(0, 1)
		w.put(0, 1)
		w.put(0, 1)
		w.put(uint32(u-4), 5)
	}
}

// decodeUVLC mirrors encodeUVLC.
func decodeUVLC(r *revReader) int {
	for u := 1; u <= 3; u++ {
		if r.get(1) == 1 {
			return u
		}
	}
	return int(r.get(5)) + 4
}
