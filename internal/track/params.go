package track

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
)

// Indices into the bound parameter vector. The convention follows the usual
// local/angular/kinematic split: two in-surface coordinates, two direction
// angles, signed inverse momentum, and time.
const (
	ParamLoc0 = iota
	ParamLoc1
	ParamPhi
	ParamTheta
	ParamQOverP
	ParamTime

	// BoundSize is the dimension of the bound parameter vector.
	BoundSize = 6
)

// BoundParams is a parameter estimate expressed in the local frame of a
// reference surface. Cov may be nil when no covariance is available.
type BoundParams struct {
	Surface geom.Surface
	Vector  *mat.VecDense
	Cov     *mat.SymDense
}

// NewBoundParams builds bound parameters at a surface from a raw vector and
// optional covariance. The inputs are copied.
func NewBoundParams(srf geom.Surface, vec []float64, cov *mat.SymDense) BoundParams {
	p := BoundParams{
		Surface: srf,
		Vector:  mat.NewVecDense(BoundSize, nil),
	}
	copy(p.Vector.RawVector().Data, vec)
	if cov != nil {
		p.Cov = mat.NewSymDense(BoundSize, nil)
		p.Cov.CopySym(cov)
	}
	return p
}

// Position returns the global position of the estimate on its surface.
func (p BoundParams) Position() geom.Vec3 {
	return p.Surface.LocalToGlobal(p.Vector.AtVec(ParamLoc0), p.Vector.AtVec(ParamLoc1))
}

// Direction returns the global unit momentum direction.
func (p BoundParams) Direction() geom.Vec3 {
	return geom.DirectionFromAngles(p.Vector.AtVec(ParamPhi), p.Vector.AtVec(ParamTheta))
}

// Momentum returns the absolute momentum in GeV.
func (p BoundParams) Momentum() float64 {
	qop := p.Vector.AtVec(ParamQOverP)
	if qop == 0 {
		return math.Inf(1)
	}
	return math.Abs(1 / qop)
}

// Clone returns a deep copy of the parameters.
func (p BoundParams) Clone() BoundParams {
	out := BoundParams{Surface: p.Surface}
	if p.Vector != nil {
		out.Vector = mat.VecDenseCopyOf(p.Vector)
	}
	if p.Cov != nil {
		out.Cov = mat.NewSymDense(BoundSize, nil)
		out.Cov.CopySym(p.Cov)
	}
	return out
}
