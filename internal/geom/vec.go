package geom

import "math"

// Vec3 is a cartesian 3-vector in detector coordinates (metres).
type Vec3 [3]float64

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns s * v.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{s * v[0], s * v[1], s * v[2]}
}

// Dot returns the scalar product of v and w.
func (v Vec3) Dot(w Vec3) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Cross returns the vector product v x w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Norm returns the euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Unit returns v scaled to unit length. The zero vector is returned unchanged.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// DirectionFromAngles builds a unit direction vector from the azimuthal and
// polar angles used in the bound parameter convention.
func DirectionFromAngles(phi, theta float64) Vec3 {
	st := math.Sin(theta)
	return Vec3{math.Cos(phi) * st, math.Sin(phi) * st, math.Cos(theta)}
}

// AnglesFromDirection is the inverse of DirectionFromAngles for unit vectors.
func AnglesFromDirection(d Vec3) (phi, theta float64) {
	return math.Atan2(d[1], d[0]), math.Acos(d[2])
}
