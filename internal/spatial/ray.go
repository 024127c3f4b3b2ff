package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// rayEpsilon rejects rays parallel to a triangle and self-hits at t≈0.
const rayEpsilon = 1e-9

// Ray is a half-line from Origin along the unit vector Direction.
type Ray struct {
	Origin    r3.Vec
	Direction r3.Vec
}

// NewRay returns a ray with a normalised direction. ok is false when dir is zero.
func NewRay(origin, dir r3.Vec) (ray Ray, ok bool) {
	n := r3.Norm(dir)
	if n == 0 || math.IsNaN(n) {
		return Ray{}, false
	}
	return Ray{Origin: origin, Direction: r3.Scale(1/n, dir)}, true
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Direction))
}

// IntersectTriangle implements Möller–Trumbore intersection. It returns the
// distance along the ray to the hit and whether the ray hits the triangle
// (a, b, c) in front of its origin. Both faces are hit.
func (r Ray) IntersectTriangle(a, b, c r3.Vec) (float64, bool) {
	e1 := r3.Sub(b, a)
	e2 := r3.Sub(c, a)
	p := r3.Cross(r.Direction, e2)
	det := r3.Dot(e1, p)
	if math.Abs(det) < rayEpsilon {
		return 0, false
	}
	inv := 1 / det
	s := r3.Sub(r.Origin, a)
	u := r3.Dot(s, p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := r3.Cross(s, e1)
	v := r3.Dot(r.Direction, q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := r3.Dot(e2, q) * inv
	if t <= rayEpsilon {
		return 0, false
	}
	return t, true
}

// TriangleNormal returns the unit normal of (a, b, c) by the right-hand rule,
// or the zero vector for a degenerate triangle.
func TriangleNormal(a, b, c r3.Vec) r3.Vec {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	l := r3.Norm(n)
	if l < rayEpsilon {
		return r3.Vec{}
	}
	return r3.Scale(1/l, n)
}
