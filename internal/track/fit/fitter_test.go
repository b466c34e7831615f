package fit

import (
	"context"
	"errors"
	"testing"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// propagateFunc adapts a function to the Propagator contract.
type propagateFunc func(ctx context.Context, start track.BoundParams, target geom.Surface, step StepFunc, done DoneFunc) error

func (f propagateFunc) Propagate(ctx context.Context, start track.BoundParams, target geom.Surface, step StepFunc, done DoneFunc) error {
	return f(ctx, start, target, step, done)
}

func startParams() track.BoundParams {
	srf := plane(100, 0, false, nil)
	return newFakeStepper(srf).params
}

func TestFitWithoutMeasurementsFails(t *testing.T) {
	// An empty input set must classify as no-measurement-found, not as a
	// smoothing failure on an empty chain.
	propagated := false
	prop := propagateFunc(func(ctx context.Context, start track.BoundParams, target geom.Surface, step StepFunc, done DoneFunc) error {
		propagated = true
		stepper := newFakeStepper(start.Surface)
		step(ctx, &Navigation{Break: true}, stepper)
		return nil
	})

	fitter := NewFitter(prop, nil)
	res, err := fitter.Fit(context.Background(), nil, startParams(), DefaultOptions())

	if !errors.Is(err, ErrNoMeasurementFound) {
		t.Fatalf("err = %v, want ErrNoMeasurementFound", err)
	}
	if errors.Is(err, ErrSmoothFailed) {
		t.Error("empty fit misclassified as a smoothing failure")
	}
	if propagated {
		t.Error("fit propagated without any measurements to look for")
	}
	if res == nil {
		t.Fatal("result missing on failure")
	}
	if res.MeasurementStates != 0 {
		t.Errorf("MeasurementStates = %d, want 0", res.MeasurementStates)
	}
	if res.Finished {
		t.Error("empty fit marked finished")
	}
}

func TestFitPreservesRecordedError(t *testing.T) {
	// An error recorded by the actor must not be masked by the
	// no-measurement check, even though the fit holds zero measurements.
	srf := plane(1, 1, true, nil)
	prop := propagateFunc(func(ctx context.Context, start track.BoundParams, target geom.Surface, step StepFunc, done DoneFunc) error {
		stepper := newFakeStepper(start.Surface)
		step(ctx, &Navigation{CurrentSurface: srf}, stepper)
		return nil
	})

	fitter := NewFitter(prop, nil)
	opts := DefaultOptions()
	opts.Extensions.Updater = func(context.Context, *track.TrackState, Direction) error {
		return ErrUpdateFailed
	}

	sources := []track.SourceLink{
		track.NewPositionMeasurement(srf.GeometryID(), 0, 0, 0.1, 0.1),
	}

	res, err := fitter.Fit(context.Background(), sources, startParams(), opts)
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("err = %v, want ErrUpdateFailed", err)
	}
	if errors.Is(err, ErrNoMeasurementFound) {
		t.Error("recorded error masked by the no-measurement check")
	}
	if res.MeasurementStates != 0 {
		t.Errorf("MeasurementStates = %d, want 0", res.MeasurementStates)
	}
}

func TestFitWrapsPropagationError(t *testing.T) {
	boom := errors.New("engine exploded")
	prop := propagateFunc(func(context.Context, track.BoundParams, geom.Surface, StepFunc, DoneFunc) error {
		return boom
	})

	fitter := NewFitter(prop, nil)
	res, err := fitter.Fit(context.Background(), nil, startParams(), DefaultOptions())

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped engine error", err)
	}
	if res == nil {
		t.Fatal("result missing on propagation failure")
	}
}

func TestFitDeduplicatesMeasurementSurfaces(t *testing.T) {
	var seen map[geom.ID]track.SourceLink
	srf := plane(1, 1, true, nil)

	first := track.NewPositionMeasurement(srf.GeometryID(), 1, 0, 0.1, 0.1)
	second := track.NewPositionMeasurement(srf.GeometryID(), 2, 0, 0.1, 0.1)

	prop := propagateFunc(func(ctx context.Context, start track.BoundParams, target geom.Surface, step StepFunc, done DoneFunc) error {
		// Capture the measurement the actor would see through a calibrator
		// invocation on the real surface.
		stepper := newFakeStepper(start.Surface)
		step(ctx, &Navigation{CurrentSurface: srf}, stepper)
		return nil
	})

	fitter := NewFitter(prop, nil)
	opts := DefaultOptions()
	opts.Extensions.Calibrator = func(_ context.Context, st *track.TrackState) {
		seen = map[geom.ID]track.SourceLink{st.Uncalibrated.GeometryID(): st.Uncalibrated}
		PassthroughCalibrator(context.Background(), st)
	}

	_, _ = fitter.Fit(context.Background(), []track.SourceLink{first, second}, startParams(), opts)

	if got, ok := seen[srf.GeometryID()]; !ok || got != track.SourceLink(first) {
		t.Error("duplicate surface did not keep the first measurement")
	}
}

func TestDefaultExtensionsAreComplete(t *testing.T) {
	ext := Extensions{}.withDefaults()
	if ext.Calibrator == nil || ext.Updater == nil || ext.Smoother == nil ||
		ext.OutlierFinder == nil || ext.ReverseFilteringLogic == nil {
		t.Fatal("withDefaults left a nil strategy")
	}

	// Custom entries survive.
	called := false
	custom := Extensions{
		OutlierFinder: func(*track.TrackState) bool { called = true; return false },
	}.withDefaults()
	custom.OutlierFinder(&track.TrackState{})
	if !called {
		t.Error("custom strategy replaced by default")
	}
}

func TestPassthroughCalibrator(t *testing.T) {
	m := track.NewPositionMeasurement(1, 1.5, -0.5, 0.1, 0.2)
	st := &track.TrackState{Uncalibrated: m}

	PassthroughCalibrator(context.Background(), st)

	if st.Calibrated == nil || st.CalibratedCov == nil || st.Projection == nil {
		t.Fatal("calibration incomplete")
	}
	if st.Calibrated.AtVec(0) != 1.5 || st.Calibrated.AtVec(1) != -0.5 {
		t.Errorf("calibrated values = (%f, %f)", st.Calibrated.AtVec(0), st.Calibrated.AtVec(1))
	}

	// The copies are independent of the source payload.
	m.Values.SetVec(0, 99)
	if st.Calibrated.AtVec(0) == 99 {
		t.Error("calibrated vector shares storage with the measurement")
	}

	// Non-measurement source links are left alone.
	other := &track.TrackState{}
	PassthroughCalibrator(context.Background(), other)
	if other.Calibrated != nil {
		t.Error("calibrator invented data for an unknown source link")
	}
}
