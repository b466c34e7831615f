package fit

import (
	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// Result is the mutable accumulator of one fit attempt. It is created by the
// driver, populated exclusively by the actor during the single fit
// invocation, and handed to the caller at fit end. Once Finished is set (or
// Err is recorded) the actor performs no further mutation.
type Result struct {
	// Trajectory owns all track states produced by this fit.
	Trajectory *track.Trajectory

	// LastMeasurementIndex is the tip of the chain at the last measurement
	// state, track.NoState while the trajectory holds no measurement.
	LastMeasurementIndex int

	// LastTrackIndex is the tip of the chain at the last state of any kind.
	LastTrackIndex int

	// FittedParams are the parameters bound at the target surface, present
	// only for fits given a target.
	FittedParams *track.BoundParams

	// MeasurementStates counts states with accepted (non-outlier)
	// measurements.
	MeasurementStates int

	// MeasurementHoles counts sensitive surfaces crossed without a hit and
	// confirmed by a later measurement.
	MeasurementHoles int

	// ProcessedStates counts all states the actor handled.
	ProcessedStates int

	Smoothed bool
	Reversed bool
	Finished bool

	// MissedActiveSurfaces lists sensitive surfaces crossed without a hit.
	MissedActiveSurfaces []geom.Surface

	// PassedAgainSurfaces lists surfaces revisited during reverse filtering.
	PassedAgainSurfaces []geom.Surface

	// Err is the recorded failure, nil for a clean fit.
	Err error
}

func newResult() *Result {
	return &Result{
		Trajectory:           track.NewTrajectory(),
		LastMeasurementIndex: track.NoState,
		LastTrackIndex:       track.NoState,
	}
}

// Outliers counts the states flagged as outliers.
func (r *Result) Outliers() int {
	n := 0
	for i := 0; i < r.Trajectory.Len(); i++ {
		if r.Trajectory.State(i).Flags.Has(track.FlagOutlier) {
			n++
		}
	}
	return n
}

// Holes counts the states flagged as holes.
func (r *Result) Holes() int {
	n := 0
	for i := 0; i < r.Trajectory.Len(); i++ {
		if r.Trajectory.State(i).Flags.Has(track.FlagHole) {
			n++
		}
	}
	return n
}

// Chi2 returns the summed chi-square over accepted measurement states.
func (r *Result) Chi2() float64 {
	var sum float64
	for i := 0; i < r.Trajectory.Len(); i++ {
		st := r.Trajectory.State(i)
		if st.Flags.Has(track.FlagMeasurement) {
			sum += st.Chi2
		}
	}
	return sum
}
