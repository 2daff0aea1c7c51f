// internal/imaging/jpeg/idct.go
package jpeg

import "math"

// zigzag maps a coefficient's position in the zig-zag scan to its natural
// row-major index.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// cosTable[x][u] = C(u) * cos((2x+1)uπ/16).
var cosTable [8][8]float64

func init() {
	for x := range 8 {
		for u := range 8 {
			c := 1.0
			if u == 0 {
				c = 1 / math.Sqrt2
			}
			cosTable[x][u] = c * math.Cos(float64(2*x+1)*float64(u)*math.Pi/16)
		}
	}
}

// idct transforms dequantized coefficients in natural order into level-shifted
// samples written to dst with the given stride.
func idct(dst []byte, stride int, coef *[64]int32) {
	var tmp [64]float64
	for v := range 8 {
		row := coef[v*8 : v*8+8]
		for x := range 8 {
			s := 0.0
			for u := range 8 {
				if row[u] != 0 {
					s += float64(row[u]) * cosTable[x][u]
				}
			}
			tmp[v*8+x] = s
		}
	}
	for y := range 8 {
		for x := range 8 {
			s := 0.0
			for v := range 8 {
				s += cosTable[y][v] * tmp[v*8+x]
			}
			dst[y*stride+x] = clamp8(s/4 + 128)
		}
	}
}

func clamp8(v float64) byte {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
