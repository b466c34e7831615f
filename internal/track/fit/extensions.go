package fit

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/track"
)

// Calibrator turns the raw measurement attached to a track state into a
// calibrated measurement and covariance, in place. It must be idempotent.
type Calibrator func(ctx context.Context, state *track.TrackState)

// Updater incorporates the calibrated measurement into the track parameters,
// writing the filtered estimate. It fails with ErrUpdateFailed when the
// innovation covariance is singular.
type Updater func(ctx context.Context, state *track.TrackState, dir Direction) error

// Smoother back-propagates information from the state at entry to the head of
// its chain, writing smoothed estimates at every visited state. It fails with
// ErrSmoothFailed when the chain is empty.
type Smoother func(ctx context.Context, traj *track.Trajectory, entry int) error

// OutlierFinder reports whether a state's measurement should be excluded from
// filtering while staying in the trajectory.
type OutlierFinder func(state *track.TrackState) bool

// ReverseFilteringLogic decides, given the last measurement state, whether
// the track is smoothed by a full backward filter pass instead of the
// algebraic smoother.
type ReverseFilteringLogic func(state *track.TrackState) bool

// Extensions is the record of the five pluggable strategies the actor is
// polymorphic over. Zero-valued fields are replaced by safe defaults.
type Extensions struct {
	Calibrator            Calibrator
	Updater               Updater
	Smoother              Smoother
	OutlierFinder         OutlierFinder
	ReverseFilteringLogic ReverseFilteringLogic
}

// DefaultExtensions returns the safe defaults: a passthrough calibrator, an
// updater and smoother that succeed by carrying the prediction forward, and
// outlier/reverse logic that never trigger. These are sufficient to exercise
// the actor skeleton in isolation.
func DefaultExtensions() Extensions {
	return Extensions{
		Calibrator:            PassthroughCalibrator,
		Updater:               voidUpdater,
		Smoother:              voidSmoother,
		OutlierFinder:         func(*track.TrackState) bool { return false },
		ReverseFilteringLogic: func(*track.TrackState) bool { return false },
	}
}

// withDefaults fills unset strategies with their defaults.
func (e Extensions) withDefaults() Extensions {
	def := DefaultExtensions()
	if e.Calibrator == nil {
		e.Calibrator = def.Calibrator
	}
	if e.Updater == nil {
		e.Updater = def.Updater
	}
	if e.Smoother == nil {
		e.Smoother = def.Smoother
	}
	if e.OutlierFinder == nil {
		e.OutlierFinder = def.OutlierFinder
	}
	if e.ReverseFilteringLogic == nil {
		e.ReverseFilteringLogic = def.ReverseFilteringLogic
	}
	return e
}

// PassthroughCalibrator copies the payload of a *track.Measurement source
// link into the calibrated slots. Other source link types are left for a
// caller-supplied calibrator. Calling it twice is harmless.
func PassthroughCalibrator(_ context.Context, state *track.TrackState) {
	m, ok := state.Uncalibrated.(*track.Measurement)
	if !ok {
		return
	}
	state.Calibrated = mat.VecDenseCopyOf(m.Values)
	state.CalibratedCov = mat.NewSymDense(m.Cov.SymmetricDim(), nil)
	state.CalibratedCov.CopySym(m.Cov)
	state.Projection = mat.DenseCopyOf(m.Projection)
}

// voidUpdater reports success and carries the prediction into the filtered
// slot unchanged, so downstream stages always see a filtered estimate.
func voidUpdater(_ context.Context, state *track.TrackState, _ Direction) error {
	state.Filtered = mat.VecDenseCopyOf(state.Predicted)
	if state.PredictedCov != nil {
		state.FilteredCov = mat.NewSymDense(state.PredictedCov.SymmetricDim(), nil)
		state.FilteredCov.CopySym(state.PredictedCov)
	}
	return nil
}

// voidSmoother reports success and carries the filtered estimates into the
// smoothed slots unchanged.
func voidSmoother(_ context.Context, traj *track.Trajectory, entry int) error {
	traj.ApplyBackwards(entry, func(_ int, st *track.TrackState) bool {
		if st.Filtered != nil {
			st.Smoothed = mat.VecDenseCopyOf(st.Filtered)
		}
		if st.FilteredCov != nil {
			st.SmoothedCov = mat.NewSymDense(st.FilteredCov.SymmetricDim(), nil)
			st.SmoothedCov.CopySym(st.FilteredCov)
		}
		return true
	})
	return nil
}
