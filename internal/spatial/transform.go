// Package spatial provides rigid transforms in the shared world frame used by
// the tracking subsystem, the scene graph and the placement solver.
//
// Coordinate convention: Y is up (gravity points along −Y), −Z is forward
// for a device or an entity. Orientations are unit quaternions.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// Up is the gravity-aligned up axis of the world frame.
var Up = r3.Vec{X: 0, Y: 1, Z: 0}

// Transform is a rigid transform: a rotation followed by a translation.
type Transform struct {
	Position    r3.Vec
	Orientation quat.Number
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Orientation: quat.Number{Real: 1}}
}

// Translation returns a transform that only moves by v.
func Translation(v r3.Vec) Transform {
	return Transform{Position: v, Orientation: quat.Number{Real: 1}}
}

// Deg2Rad converts degrees to radians.
func Deg2Rad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// AxisAngle returns the unit quaternion rotating by angle radians around axis.
// A zero axis yields the identity rotation.
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	n := r3.Norm(axis)
	if n == 0 || angle == 0 {
		return quat.Number{Real: 1}
	}
	axis = r3.Scale(1/n, axis)
	sin, cos := math.Sincos(angle / 2)
	return quat.Number{Real: cos, Imag: axis.X * sin, Jmag: axis.Y * sin, Kmag: axis.Z * sin}
}

// Normalize returns q scaled to unit length. The zero quaternion maps to identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// RotateVec rotates v by the unit quaternion q.
func RotateVec(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Apply maps a point expressed in the transform's local frame into the
// parent frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(RotateVec(t.Orientation, p), t.Position)
}

// Rotate maps a direction from the local frame into the parent frame.
func (t Transform) Rotate(v r3.Vec) r3.Vec {
	return RotateVec(t.Orientation, v)
}

// XAxis, YAxis and ZAxis return the local basis axes in the parent frame.
func (t Transform) XAxis() r3.Vec { return t.Rotate(r3.Vec{X: 1}) }
func (t Transform) YAxis() r3.Vec { return t.Rotate(r3.Vec{Y: 1}) }
func (t Transform) ZAxis() r3.Vec { return t.Rotate(r3.Vec{Z: 1}) }

// Forward is the −Z axis of the transform.
func (t Transform) Forward() r3.Vec {
	return r3.Scale(-1, t.ZAxis())
}

// Compose returns parent∘child: the child transform expressed in the
// parent's parent frame.
func Compose(parent, child Transform) Transform {
	return Transform{
		Position:    parent.Apply(child.Position),
		Orientation: Normalize(quat.Mul(parent.Orientation, child.Orientation)),
	}
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(Normalize(t.Orientation))
	return Transform{
		Position:    r3.Scale(-1, RotateVec(inv, t.Position)),
		Orientation: inv,
	}
}

// GravityAligned keeps the position and heading of t but levels roll and
// pitch so the Y axis points straight up. When the Z axis is (nearly)
// vertical the heading is recovered from the X axis instead.
func (t Transform) GravityAligned() Transform {
	z := t.ZAxis()
	var yaw float64
	if math.Hypot(z.X, z.Z) > 1e-6 {
		yaw = math.Atan2(z.X, z.Z)
	} else {
		x := t.XAxis()
		yaw = math.Atan2(-x.Z, x.X)
	}
	return Transform{
		Position:    t.Position,
		Orientation: AxisAngle(Up, yaw),
	}
}

// Matrix returns the 4x4 row-major homogeneous matrix for t.
func (t Transform) Matrix() [16]float64 {
	q := Normalize(t.Orientation)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [16]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), t.Position.X,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), t.Position.Y,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), t.Position.Z,
		0, 0, 0, 1,
	}
}

// FromMatrix builds a Transform from a 4x4 row-major rigid transform matrix.
// The matrix is not validated; use IsValidMatrix first for untrusted input.
func FromMatrix(m [16]float64) Transform {
	r00, r01, r02 := m[0], m[1], m[2]
	r10, r11, r12 := m[4], m[5], m[6]
	r20, r21, r22 := m[8], m[9], m[10]

	var q quat.Number
	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (r21 - r12) / s, Jmag: (r02 - r20) / s, Kmag: (r10 - r01) / s}
	case r00 > r11 && r00 > r22:
		s := math.Sqrt(1+r00-r11-r22) * 2
		q = quat.Number{Real: (r21 - r12) / s, Imag: 0.25 * s, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := math.Sqrt(1+r11-r00-r22) * 2
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: 0.25 * s, Kmag: (r12 + r21) / s}
	default:
		s := math.Sqrt(1+r22-r00-r11) * 2
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: 0.25 * s}
	}
	return Transform{
		Position:    r3.Vec{X: m[3], Y: m[7], Z: m[11]},
		Orientation: Normalize(q),
	}
}

// IsValidMatrix checks if a 4x4 row-major matrix is a rigid transform:
// the rotation block has determinant ≈ 1 and the last row is [0 0 0 1].
func IsValidMatrix(m [16]float64) bool {
	r00, r01, r02 := m[0], m[1], m[2]
	r10, r11, r12 := m[4], m[5], m[6]
	r20, r21, r22 := m[8], m[9], m[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1.0) > 0.001 {
		return false
	}
	return true
}

// ApproxEqual reports whether a and b describe the same pose within tol
// (metres for position, 1-|cos| for orientation).
func ApproxEqual(a, b Transform, tol float64) bool {
	if r3.Norm(r3.Sub(a.Position, b.Position)) > tol {
		return false
	}
	qa, qb := Normalize(a.Orientation), Normalize(b.Orientation)
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	return 1-math.Abs(dot) <= tol
}
