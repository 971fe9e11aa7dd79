package geom

import "math"

// Intrinsics are pinhole camera parameters in pixels.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// Scaled divides every parameter by div. Used to bring full-resolution
// calibration down to the resolution a stage works at.
func (k Intrinsics) Scaled(div float64) Intrinsics {
	return Intrinsics{Fx: k.Fx / div, Fy: k.Fy / div, Cx: k.Cx / div, Cy: k.Cy / div}
}

// Valid reports whether focal lengths are positive and every value finite.
func (k Intrinsics) Valid() bool {
	for _, v := range [...]float64{k.Fx, k.Fy, k.Cx, k.Cy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return k.Fx > 0 && k.Fy > 0
}
