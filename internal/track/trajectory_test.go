package track

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
)

func TestTrajectoryAppendChaining(t *testing.T) {
	traj := NewTrajectory()

	a := traj.Append(NoState)
	b := traj.Append(a)
	c := traj.Append(b)

	if traj.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", traj.Len())
	}
	if traj.State(a).Previous != NoState {
		t.Errorf("head Previous = %d, want NoState", traj.State(a).Previous)
	}
	if traj.State(c).Previous != b {
		t.Errorf("tip Previous = %d, want %d", traj.State(c).Previous, b)
	}

	// A detached state does not join the chain.
	d := traj.Append(NoState)
	if traj.State(d).Previous != NoState {
		t.Errorf("detached Previous = %d, want NoState", traj.State(d).Previous)
	}
}

func TestTrajectoryApplyBackwards(t *testing.T) {
	traj := NewTrajectory()
	a := traj.Append(NoState)
	b := traj.Append(a)
	c := traj.Append(b)

	var visited []int
	traj.ApplyBackwards(c, func(i int, _ *TrackState) bool {
		visited = append(visited, i)
		return true
	})
	if len(visited) != 3 || visited[0] != c || visited[1] != b || visited[2] != a {
		t.Errorf("visited = %v, want [%d %d %d]", visited, c, b, a)
	}

	// Early exit stops the walk.
	visited = visited[:0]
	traj.ApplyBackwards(c, func(i int, _ *TrackState) bool {
		visited = append(visited, i)
		return false
	})
	if len(visited) != 1 {
		t.Errorf("early exit visited %d states, want 1", len(visited))
	}
}

func TestStateFlags(t *testing.T) {
	var f StateFlags
	f |= FlagMeasurement | FlagMaterial

	if !f.Has(FlagMeasurement) {
		t.Error("expected FlagMeasurement")
	}
	if !f.Has(FlagMeasurement | FlagMaterial) {
		t.Error("expected combined flags")
	}
	if f.Has(FlagOutlier) {
		t.Error("unexpected FlagOutlier")
	}
}

func TestClearSmoothed(t *testing.T) {
	st := &TrackState{
		Smoothed:    mat.NewVecDense(BoundSize, nil),
		SmoothedCov: mat.NewSymDense(BoundSize, nil),
	}
	if !st.HasSmoothed() {
		t.Fatal("expected smoothed estimate")
	}
	st.ClearSmoothed()
	if st.HasSmoothed() || st.SmoothedCov != nil {
		t.Error("ClearSmoothed left data behind")
	}
}

func TestBoundParamsKinematics(t *testing.T) {
	srf := geom.NewPlaneSurface(1, geom.Vec3{0, 0, 0}, geom.Vec3{1, 0, 0}, true, nil)
	p := NewBoundParams(srf, []float64{0.5, -0.25, 0.1, math.Pi / 2, 0.5, 0}, nil)

	if got := p.Momentum(); math.Abs(got-2) > 1e-12 {
		t.Errorf("Momentum() = %f, want 2", got)
	}
	if d := p.Direction(); math.Abs(d.Norm()-1) > 1e-12 {
		t.Errorf("Direction() is not unit: %v", d)
	}

	l0, l1 := srf.GlobalToLocal(p.Position())
	if math.Abs(l0-0.5) > 1e-12 || math.Abs(l1+0.25) > 1e-12 {
		t.Errorf("Position() maps back to (%f, %f), want (0.5, -0.25)", l0, l1)
	}

	clone := p.Clone()
	clone.Vector.SetVec(ParamLoc0, 99)
	if p.Vector.AtVec(ParamLoc0) == 99 {
		t.Error("Clone() shares the vector")
	}
}

func TestPositionMeasurementShape(t *testing.T) {
	m := NewPositionMeasurement(5, 1.5, -0.5, 0.1, 0.2)

	if m.Dim() != 2 {
		t.Fatalf("Dim() = %d, want 2", m.Dim())
	}
	if m.GeometryID() != 5 {
		t.Errorf("GeometryID() = %d, want 5", m.GeometryID())
	}
	if got := m.Cov.At(0, 0); math.Abs(got-0.01) > 1e-12 {
		t.Errorf("Cov(0,0) = %f, want 0.01", got)
	}
	if got := m.Projection.At(0, ParamLoc0); got != 1 {
		t.Errorf("Projection(0, loc0) = %f, want 1", got)
	}
	if got := m.Projection.At(1, ParamPhi); got != 0 {
		t.Errorf("Projection(1, phi) = %f, want 0", got)
	}
}
