package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a 7-DoF similarity transform (rotation, translation, scale).
// Scale is 1 for a rigid SE(3) pose. The zero value is not a valid pose;
// use Identity.
type Pose struct {
	Rotation    quat.Number
	Translation r3.Vec
	Scale       float64
}

// Identity returns the identity transform.
func Identity() Pose {
	return Pose{Rotation: quat.Number{Real: 1}, Scale: 1}
}

// NewPose builds a rigid pose from a rotation and translation. The rotation
// is normalised to unit length.
func NewPose(rot quat.Number, t r3.Vec) Pose {
	return Pose{Rotation: normalize(rot), Translation: t, Scale: 1}
}

// AxisAngle returns the unit quaternion rotating by angle radians about axis.
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	n := r3.Norm(axis)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	s := math.Sin(angle/2) / n
	return quat.Number{Real: math.Cos(angle / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// Rotate applies the rotation q to v. q is assumed to be unit length.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{Real: 1}
	}
	// Keep the real part non-negative so q and -q compare equal.
	if q.Real < 0 {
		n = -n
	}
	return quat.Scale(1/n, q)
}

// Normalized returns p with a unit, canonical-sign rotation.
func (p Pose) Normalized() Pose {
	p.Rotation = normalize(p.Rotation)
	return p
}

// Valid reports whether every component is finite, the scale is positive
// and the rotation is non-degenerate.
func (p Pose) Valid() bool {
	for _, v := range p.Vec7() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if math.IsNaN(p.Scale) || math.IsInf(p.Scale, 0) || p.Scale <= 0 {
		return false
	}
	return quat.Abs(p.Rotation) > 1e-12
}

// Apply transforms the point v from camera into world coordinates.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	return r3.Add(r3.Scale(p.Scale, Rotate(p.Rotation, v)), p.Translation)
}

// Compose returns p ∘ q, the transform that applies q first and then p.
func (p Pose) Compose(q Pose) Pose {
	return Pose{
		Rotation:    normalize(quat.Mul(p.Rotation, q.Rotation)),
		Translation: p.Apply(q.Translation),
		Scale:       p.Scale * q.Scale,
	}
}

// Inverse returns the transform undoing p.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(p.Rotation)
	s := 1 / p.Scale
	return Pose{
		Rotation:    normalize(inv),
		Translation: r3.Scale(-s, Rotate(inv, p.Translation)),
		Scale:       s,
	}
}

// Between returns the relative transform from a to b, i.e. a⁻¹ ∘ b.
func Between(a, b Pose) Pose {
	return a.Inverse().Compose(b)
}

// Distance returns the translational distance and the rotation angle in
// radians between two poses.
func Distance(a, b Pose) (trans, angle float64) {
	trans = r3.Norm(r3.Sub(a.Translation, b.Translation))
	d := math.Abs(quat.Mul(quat.Conj(normalize(a.Rotation)), normalize(b.Rotation)).Real)
	if d > 1 {
		d = 1
	}
	return trans, 2 * math.Acos(d)
}

// Vec7 returns the pose as [tx ty tz qx qy qz qw], the layout used by
// trajectory files.
func (p Pose) Vec7() [7]float64 {
	return [7]float64{
		p.Translation.X, p.Translation.Y, p.Translation.Z,
		p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real,
	}
}

// PoseFromVec7 is the inverse of Vec7. The rotation is normalised.
func PoseFromVec7(v [7]float64) Pose {
	return NewPose(
		quat.Number{Real: v[6], Imag: v[3], Jmag: v[4], Kmag: v[5]},
		r3.Vec{X: v[0], Y: v[1], Z: v[2]},
	)
}

// String formats the pose for logs.
func (p Pose) String() string {
	v := p.Vec7()
	return fmt.Sprintf("t=(%.4f, %.4f, %.4f) q=(%.4f, %.4f, %.4f, %.4f) s=%.4f",
		v[0], v[1], v[2], v[3], v[4], v[5], v[6], p.Scale)
}
