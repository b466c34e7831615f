package linetrace

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
)

// minMomentum floors the momentum after energy loss so q/p stays finite.
const minMomentum = 1e-6

// Stepper is the straight-line stepping state: a point, a fixed momentum
// direction, and a bound covariance expressed at a reference surface. It
// implements the fit.Stepper contract for field-free propagation.
type Stepper struct {
	pos geom.Vec3
	dir geom.Vec3 // unit momentum direction, independent of navDir
	qop float64
	tim float64

	cov        *mat.SymDense // bound covariance at refSurface, may be nil
	refSurface geom.Surface

	navDir  fit.Direction
	jac     *mat.Dense // accumulated bound transport jacobian since last bind
	bindPos geom.Vec3  // position of the last bind
	pathAcc float64
}

func newStepper(start track.BoundParams, dir fit.Direction) *Stepper {
	s := &Stepper{
		pos:        start.Position(),
		dir:        start.Direction(),
		qop:        start.Vector.AtVec(track.ParamQOverP),
		tim:        start.Vector.AtVec(track.ParamTime),
		refSurface: start.Surface,
		navDir:     dir,
		jac:        identity(track.BoundSize),
	}
	s.bindPos = s.pos
	if start.Cov != nil {
		s.cov = mat.NewSymDense(track.BoundSize, nil)
		s.cov.CopySym(start.Cov)
	}
	return s
}

// advanceTo moves the stepping point to the intersection with srf along the
// travel direction. It reports false when the surface cannot be reached.
func (s *Stepper) advanceTo(srf geom.Surface) bool {
	travel := s.dir.Scale(float64(s.navDir))
	isect, ok := srf.Intersect(s.pos, travel)
	if !ok {
		return false
	}
	s.pos = isect.Position
	s.pathAcc += float64(s.navDir) * isect.PathLength
	return true
}

func (s *Stepper) TransportCovarianceToBound(srf geom.Surface) error {
	f, err := s.transportJacobian(srf)
	if err != nil {
		return err
	}
	if s.cov != nil {
		var fp, fpf mat.Dense
		fp.Mul(f, s.cov)
		fpf.Mul(&fp, f.T())
		s.cov = symmetrise(&fpf)
	}
	// Fold the transport into the accumulated jacobian.
	var acc mat.Dense
	acc.Mul(f, s.jac)
	s.jac = &acc
	s.refSurface = srf
	return nil
}

func (s *Stepper) TransportCovarianceToCurvilinear() {
	// For field-free straight-line stepping the curvilinear frame transport
	// reduces to a rotation that this demo engine does not model; the
	// covariance is carried unchanged.
}

func (s *Stepper) BoundState(srf geom.Surface, transportCov bool) (fit.BoundState, error) {
	if transportCov {
		if err := s.TransportCovarianceToBound(srf); err != nil {
			return fit.BoundState{}, err
		}
	}

	loc0, loc1 := srf.GlobalToLocal(s.pos)
	phi, theta := geom.AnglesFromDirection(s.dir)
	vec := mat.NewVecDense(track.BoundSize, []float64{loc0, loc1, phi, theta, s.qop, s.tim})

	params := track.BoundParams{Surface: srf, Vector: vec}
	if s.cov != nil {
		params.Cov = mat.NewSymDense(track.BoundSize, nil)
		params.Cov.CopySym(s.cov)
	}

	bs := fit.BoundState{
		Params:     params,
		Jacobian:   mat.DenseCopyOf(s.jac),
		PathLength: s.pathAcc,
	}

	// Binding restarts the jacobian accumulation.
	s.jac = identity(track.BoundSize)
	s.bindPos = s.pos
	s.refSurface = srf
	return bs, nil
}

func (s *Stepper) Update(params track.BoundParams) {
	s.pos = params.Position()
	s.dir = params.Direction()
	s.qop = params.Vector.AtVec(track.ParamQOverP)
	s.tim = params.Vector.AtVec(track.ParamTime)
	s.refSurface = params.Surface
	s.bindPos = s.pos
	if params.Cov != nil {
		s.cov = mat.NewSymDense(track.BoundSize, nil)
		s.cov.CopySym(params.Cov)
	}
}

func (s *Stepper) Reset(params track.BoundParams, dir fit.Direction) {
	s.Update(params)
	s.navDir = dir
	s.jac = identity(track.BoundSize)
}

func (s *Stepper) SetIdentityJacobian() {
	s.jac = identity(track.BoundSize)
	s.bindPos = s.pos
}

func (s *Stepper) Position() geom.Vec3            { return s.pos }
func (s *Stepper) Direction() geom.Vec3           { return s.dir }
func (s *Stepper) NavDirection() fit.Direction    { return s.navDir }
func (s *Stepper) ResetPathAccumulated()          { s.pathAcc = 0 }
func (s *Stepper) PathAccumulated() float64       { return s.pathAcc }
func (s *Stepper) Covariance() *mat.SymDense      { return s.cov }
func (s *Stepper) ReferenceSurface() geom.Surface { return s.refSurface }

func (s *Stepper) Momentum() float64 {
	if s.qop == 0 {
		return math.Inf(1)
	}
	return math.Abs(1 / s.qop)
}

func (s *Stepper) ApplyMaterialEffects(variancePhi, varianceTheta, varianceQOverP, energyLoss float64) {
	if s.cov != nil {
		s.cov.SetSym(track.ParamPhi, track.ParamPhi,
			s.cov.At(track.ParamPhi, track.ParamPhi)+variancePhi)
		s.cov.SetSym(track.ParamTheta, track.ParamTheta,
			s.cov.At(track.ParamTheta, track.ParamTheta)+varianceTheta)
		s.cov.SetSym(track.ParamQOverP, track.ParamQOverP,
			s.cov.At(track.ParamQOverP, track.ParamQOverP)+varianceQOverP)
	}
	if energyLoss > 0 && s.qop != 0 {
		p := math.Abs(1 / s.qop)
		p -= energyLoss
		if p < minMomentum {
			p = minMomentum
		}
		if s.qop < 0 {
			s.qop = -1 / p
		} else {
			s.qop = 1 / p
		}
	}
}

// transportJacobian is the bound-to-bound jacobian of a straight-line flight
// from the last bind point to srf. Local coordinates couple to the direction
// angles through the flight length; angles, q/p and time are untouched.
func (s *Stepper) transportJacobian(srf geom.Surface) (*mat.Dense, error) {
	n := srf.Normal()
	dn := s.dir.Dot(n)
	if math.Abs(dn) < 1e-12 {
		return nil, fmt.Errorf("covariance transport: direction parallel to surface %d", srf.GeometryID())
	}

	// Flight length from the bind point to the current position.
	flight := s.pos.Sub(s.bindPos).Dot(s.dir)

	// M = I - d n^T / (d.n) projects free position changes onto the surface.
	var m [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = -s.dir[i] * n[j] / dn
			if i == j {
				m[i][j]++
			}
		}
	}

	srcU, srcV := surfaceAxes(s.refSurface)
	dstU, dstV := surfaceAxes(srf)

	// Direction derivatives with respect to the bound angles.
	ddPhi, ddTheta := directionDerivatives(s.dir)

	f := identity(track.BoundSize)
	for row, dst := range [2]geom.Vec3{dstU, dstV} {
		for col, src := range [2]geom.Vec3{srcU, srcV} {
			f.Set(row, col, dst.Dot(applyM(m, src)))
		}
		f.Set(row, track.ParamPhi, flight*dst.Dot(applyM(m, ddPhi)))
		f.Set(row, track.ParamTheta, flight*dst.Dot(applyM(m, ddTheta)))
	}
	return f, nil
}

func applyM(m [3][3]float64, v geom.Vec3) geom.Vec3 {
	var out geom.Vec3
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}

// surfaceAxes recovers the in-surface frame through the surface's own
// local-to-global mapping, keeping the Surface contract narrow.
func surfaceAxes(srf geom.Surface) (u, v geom.Vec3) {
	c := srf.Center()
	u = srf.LocalToGlobal(1, 0).Sub(c)
	v = srf.LocalToGlobal(0, 1).Sub(c)
	return u, v
}

func directionDerivatives(d geom.Vec3) (ddPhi, ddTheta geom.Vec3) {
	phi, theta := geom.AnglesFromDirection(d)
	st, ct := math.Sin(theta), math.Cos(theta)
	sp, cp := math.Sin(phi), math.Cos(phi)
	ddPhi = geom.Vec3{-sp * st, cp * st, 0}
	ddTheta = geom.Vec3{cp * ct, sp * ct, -st}
	return ddPhi, ddTheta
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func symmetrise(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(d.At(i, j)+d.At(j, i)))
		}
	}
	return s
}
