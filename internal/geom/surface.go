package geom

// ID identifies a surface within the detector geometry. Identifiers are
// opaque to the fitting core; equality is the only operation it relies on.
type ID uint64

// Slab describes the material budget attached to a surface, expressed as a
// thickness in radiation lengths. Surfaces without material carry a nil Slab.
type Slab struct {
	// ThicknessInX0 is the slab thickness in units of the radiation length.
	ThicknessInX0 float64
}

// Intersection is the result of intersecting a ray with a surface. PathLength
// is signed: negative means the intersection lies behind the ray origin.
type Intersection struct {
	PathLength float64
	Position   Vec3
}

// Surface is the geometry contract consumed by the fitting core. Concrete
// surface types are owned by the surrounding geometry model; the core only
// needs identity, sensitivity, material and intersection.
type Surface interface {
	// GeometryID returns the stable identifier of this surface.
	GeometryID() ID

	// IsSensitive reports whether the surface has an associated detector
	// element, i.e. whether a measurement is expected here.
	IsSensitive() bool

	// Material returns the material slab attached to this surface, or nil.
	Material() *Slab

	// Center returns the surface reference point in global coordinates.
	Center() Vec3

	// Normal returns the unit surface normal.
	Normal() Vec3

	// LocalToGlobal converts in-surface coordinates to a global position.
	LocalToGlobal(loc0, loc1 float64) Vec3

	// GlobalToLocal projects a global position onto the surface frame.
	GlobalToLocal(pos Vec3) (loc0, loc1 float64)

	// Intersect intersects the ray (pos, dir) with the surface. The boolean
	// is false when the ray is parallel to the surface.
	Intersect(pos, dir Vec3) (Intersection, bool)
}
