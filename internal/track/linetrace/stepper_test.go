package linetrace

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
)

func xPlane(id geom.ID, x float64) geom.Surface {
	return geom.NewPlaneSurface(id, geom.Vec3{x, 0, 0}, geom.Vec3{1, 0, 0}, true, nil)
}

func unitCov() *mat.SymDense {
	c := mat.NewSymDense(track.BoundSize, nil)
	for i := 0; i < track.BoundSize; i++ {
		c.SetSym(i, i, 1)
	}
	return c
}

// startAt builds a stepper at the origin plane heading along +x.
func startAt(cov *mat.SymDense, dir fit.Direction) *Stepper {
	origin := xPlane(100, 0)
	params := track.NewBoundParams(origin, []float64{0, 0, 0, math.Pi / 2, 1, 0}, cov)
	return newStepper(params, dir)
}

func TestAdvanceToAccumulatesSignedPath(t *testing.T) {
	s := startAt(nil, fit.Forward)

	if !s.advanceTo(xPlane(1, 5)) {
		t.Fatal("expected to reach the plane")
	}
	if math.Abs(s.PathAccumulated()-5) > 1e-12 {
		t.Errorf("path = %f, want 5", s.PathAccumulated())
	}
	if math.Abs(s.Position()[0]-5) > 1e-12 {
		t.Errorf("position x = %f, want 5", s.Position()[0])
	}

	// A backward pass accumulates negative path along the same momentum
	// direction.
	s.Reset(track.NewBoundParams(xPlane(1, 5),
		[]float64{0, 0, 0, math.Pi / 2, 1, 0}, nil), fit.Backward)
	s.ResetPathAccumulated()
	if !s.advanceTo(xPlane(2, 2)) {
		t.Fatal("expected to reach the plane behind")
	}
	if math.Abs(s.PathAccumulated()+3) > 1e-12 {
		t.Errorf("backward path = %f, want -3", s.PathAccumulated())
	}
}

func TestAdvanceToParallelSurface(t *testing.T) {
	s := startAt(nil, fit.Forward)
	// The plane's normal is perpendicular to the flight direction, so the
	// ray never crosses it.
	parallel := geom.NewPlaneSurface(9, geom.Vec3{0, 5, 0}, geom.Vec3{0, 1, 0}, true, nil)
	if s.advanceTo(parallel) {
		t.Error("reached a plane parallel to the flight direction")
	}
}

func TestBoundStateBindsLocalCoordinates(t *testing.T) {
	s := startAt(unitCov(), fit.Forward)
	dst := xPlane(1, 10)
	if !s.advanceTo(dst) {
		t.Fatal("expected to reach the plane")
	}

	bs, err := s.BoundState(dst, true)
	if err != nil {
		t.Fatalf("BoundState failed: %v", err)
	}

	if bs.Params.Surface.GeometryID() != dst.GeometryID() {
		t.Error("bound state at the wrong surface")
	}
	if got := bs.Params.Vector.AtVec(track.ParamLoc0); math.Abs(got) > 1e-12 {
		t.Errorf("loc0 = %f, want 0", got)
	}
	if got := bs.Params.Vector.AtVec(track.ParamTheta); math.Abs(got-math.Pi/2) > 1e-12 {
		t.Errorf("theta = %f, want pi/2", got)
	}
	if math.Abs(bs.PathLength-10) > 1e-12 {
		t.Errorf("bound path length = %f, want 10", bs.PathLength)
	}
	if bs.Params.Cov == nil {
		t.Fatal("bound state lost the covariance")
	}
}

func TestTransportJacobianStraightFlight(t *testing.T) {
	s := startAt(unitCov(), fit.Forward)
	dst := xPlane(1, 10)
	if !s.advanceTo(dst) {
		t.Fatal("expected to reach the plane")
	}

	f, err := s.transportJacobian(dst)
	if err != nil {
		t.Fatalf("transportJacobian failed: %v", err)
	}

	// Parallel planes with identical frames: local coordinates map onto
	// themselves and couple to the angles through the flight length.
	if got := f.At(track.ParamLoc0, track.ParamLoc0); math.Abs(got-1) > 1e-9 {
		t.Errorf("dloc0/dloc0 = %f, want 1", got)
	}
	if got := f.At(track.ParamLoc1, track.ParamLoc1); math.Abs(got-1) > 1e-9 {
		t.Errorf("dloc1/dloc1 = %f, want 1", got)
	}
	if got := f.At(track.ParamLoc0, track.ParamLoc1); math.Abs(got) > 1e-9 {
		t.Errorf("dloc0/dloc1 = %f, want 0", got)
	}
	if got := math.Abs(f.At(track.ParamLoc0, track.ParamPhi)); math.Abs(got-10) > 1e-9 {
		t.Errorf("|dloc0/dphi| = %f, want 10", got)
	}
	if got := math.Abs(f.At(track.ParamLoc1, track.ParamTheta)); math.Abs(got-10) > 1e-9 {
		t.Errorf("|dloc1/dtheta| = %f, want 10", got)
	}

	// The angular and kinematic rows stay untouched.
	for _, row := range []int{track.ParamPhi, track.ParamTheta, track.ParamQOverP, track.ParamTime} {
		for col := 0; col < track.BoundSize; col++ {
			want := 0.0
			if row == col {
				want = 1.0
			}
			if got := f.At(row, col); math.Abs(got-want) > 1e-12 {
				t.Errorf("f(%d,%d) = %f, want %f", row, col, got, want)
			}
		}
	}
}

func TestTransportCovarianceGrowsWithFlight(t *testing.T) {
	s := startAt(unitCov(), fit.Forward)
	dst := xPlane(1, 10)
	if !s.advanceTo(dst) {
		t.Fatal("expected to reach the plane")
	}
	if err := s.TransportCovarianceToBound(dst); err != nil {
		t.Fatalf("transport failed: %v", err)
	}

	// Unit input covariance: var(loc0) = 1 + flight^2 * var(phi) = 101.
	if got := s.Covariance().At(track.ParamLoc0, track.ParamLoc0); math.Abs(got-101) > 1e-6 {
		t.Errorf("transported loc0 variance = %f, want 101", got)
	}
	if got := s.Covariance().At(track.ParamPhi, track.ParamPhi); math.Abs(got-1) > 1e-9 {
		t.Errorf("transported phi variance = %f, want 1", got)
	}
}

func TestTransportJacobianParallelDirection(t *testing.T) {
	s := startAt(nil, fit.Forward)
	sideways := geom.NewPlaneSurface(9, geom.Vec3{0, 5, 0}, geom.Vec3{0, 1, 0}, true, nil)
	if _, err := s.transportJacobian(sideways); err == nil {
		t.Error("expected an error for a surface parallel to the direction")
	}
}

func TestApplyMaterialEffects(t *testing.T) {
	s := startAt(unitCov(), fit.Forward)

	s.ApplyMaterialEffects(0.01, 0.02, 0.003, 0.1)

	if got := s.Covariance().At(track.ParamPhi, track.ParamPhi); math.Abs(got-1.01) > 1e-12 {
		t.Errorf("phi variance = %f, want 1.01", got)
	}
	if got := s.Covariance().At(track.ParamTheta, track.ParamTheta); math.Abs(got-1.02) > 1e-12 {
		t.Errorf("theta variance = %f, want 1.02", got)
	}
	if got := s.Covariance().At(track.ParamQOverP, track.ParamQOverP); math.Abs(got-1.003) > 1e-12 {
		t.Errorf("q/p variance = %f, want 1.003", got)
	}

	// 1 GeV minus 0.1 GeV loss.
	if got := s.Momentum(); math.Abs(got-0.9) > 1e-12 {
		t.Errorf("momentum = %f, want 0.9", got)
	}
}

func TestApplyMaterialEffectsMomentumFloor(t *testing.T) {
	s := startAt(nil, fit.Forward)

	// Losing more than the full momentum must not flip or zero q/p.
	s.ApplyMaterialEffects(0, 0, 0, 10)
	if got := s.Momentum(); got <= 0 || math.IsInf(got, 0) {
		t.Errorf("momentum = %f, want a small positive floor", got)
	}
}

func TestStepperUpdateReseeds(t *testing.T) {
	s := startAt(unitCov(), fit.Forward)
	dst := xPlane(1, 10)

	s.Update(track.NewBoundParams(dst, []float64{1, 2, 0.1, math.Pi / 3, 2, 0}, nil))

	l0, l1 := dst.GlobalToLocal(s.Position())
	if math.Abs(l0-1) > 1e-12 || math.Abs(l1-2) > 1e-12 {
		t.Errorf("position maps to (%f, %f), want (1, 2)", l0, l1)
	}
	if got := s.Momentum(); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("momentum = %f, want 0.5", got)
	}
	if s.ReferenceSurface().GeometryID() != dst.GeometryID() {
		t.Error("reference surface not updated")
	}
}
