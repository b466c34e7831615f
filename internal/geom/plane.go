package geom

import "math"

// intersectEps rejects rays that are effectively parallel to a plane.
const intersectEps = 1e-12

// PlaneSurface is an unbounded planar surface with an orthonormal in-plane
// frame (u, v). It is the only concrete surface the demo propagation engine
// and the tests need; production geometries supply their own Surface types.
type PlaneSurface struct {
	id        ID
	center    Vec3
	normal    Vec3
	u, v      Vec3
	sensitive bool
	slab      *Slab
}

// NewPlaneSurface builds a plane from its center and (not necessarily unit)
// normal. The in-plane axes are chosen deterministically from the normal.
func NewPlaneSurface(id ID, center, normal Vec3, sensitive bool, slab *Slab) *PlaneSurface {
	n := normal.Unit()

	// Pick a reference axis not parallel to the normal to seed the frame.
	ref := Vec3{0, 0, 1}
	if math.Abs(n[2]) > 0.9 {
		ref = Vec3{1, 0, 0}
	}
	u := ref.Cross(n).Unit()
	v := n.Cross(u)

	return &PlaneSurface{
		id:        id,
		center:    center,
		normal:    n,
		u:         u,
		v:         v,
		sensitive: sensitive,
		slab:      slab,
	}
}

func (p *PlaneSurface) GeometryID() ID    { return p.id }
func (p *PlaneSurface) IsSensitive() bool { return p.sensitive }
func (p *PlaneSurface) Material() *Slab   { return p.slab }
func (p *PlaneSurface) Center() Vec3      { return p.center }
func (p *PlaneSurface) Normal() Vec3      { return p.normal }

// Axes returns the in-plane orthonormal frame (u, v).
func (p *PlaneSurface) Axes() (u, v Vec3) { return p.u, p.v }

func (p *PlaneSurface) LocalToGlobal(loc0, loc1 float64) Vec3 {
	return p.center.Add(p.u.Scale(loc0)).Add(p.v.Scale(loc1))
}

func (p *PlaneSurface) GlobalToLocal(pos Vec3) (loc0, loc1 float64) {
	d := pos.Sub(p.center)
	return d.Dot(p.u), d.Dot(p.v)
}

func (p *PlaneSurface) Intersect(pos, dir Vec3) (Intersection, bool) {
	denom := p.normal.Dot(dir)
	if math.Abs(denom) < intersectEps {
		return Intersection{}, false
	}
	s := p.normal.Dot(p.center.Sub(pos)) / denom
	return Intersection{
		PathLength: s,
		Position:   pos.Add(dir.Scale(s)),
	}, true
}
