package track

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
)

// NoState is the sentinel index meaning "no track state". A trajectory tip of
// NoState denotes an empty chain.
const NoState = -1

// StateFlags classifies a track state. A state can carry several flags at
// once, e.g. a measurement on a surface with material.
type StateFlags uint8

const (
	FlagMeasurement StateFlags = 1 << iota
	FlagOutlier
	FlagHole
	FlagMaterial
)

// Has reports whether all bits of f are set.
func (s StateFlags) Has(f StateFlags) bool { return s&f == f }

// TrackState is one per-surface record of a trajectory: predicted, filtered
// and smoothed estimates (each independently present-or-absent as a nil
// vector), the measurement payload, the projection into measurement space,
// and the transport jacobian from the previous state.
type TrackState struct {
	Surface  geom.Surface
	Previous int // index of the previous state, NoState for chain heads

	Predicted    *mat.VecDense
	PredictedCov *mat.SymDense
	Filtered     *mat.VecDense
	FilteredCov  *mat.SymDense
	Smoothed     *mat.VecDense
	SmoothedCov  *mat.SymDense

	Uncalibrated  SourceLink
	Calibrated    *mat.VecDense
	CalibratedCov *mat.SymDense
	Projection    *mat.Dense

	// Jacobian is the bound-to-bound transport jacobian from the previous
	// state's surface to this one.
	Jacobian *mat.Dense

	// PathLength is the accumulated path at this state.
	PathLength float64

	Chi2  float64
	Flags StateFlags
}

// HasSmoothed reports whether a smoothed estimate is present.
func (s *TrackState) HasSmoothed() bool { return s.Smoothed != nil }

// ClearSmoothed drops the smoothed estimate. Used after a reverse pass for
// states the backward filter never revisited.
func (s *TrackState) ClearSmoothed() {
	s.Smoothed = nil
	s.SmoothedCov = nil
}

// Trajectory is the append-only arena owning all track states of one fit.
// States are addressed by stable integer indices and chained backward through
// their Previous links; the arena avoids owning pointers between states while
// forward and reverse passes hold references into the same store.
type Trajectory struct {
	states []TrackState
}

// NewTrajectory returns an empty trajectory store.
func NewTrajectory() *Trajectory {
	return &Trajectory{}
}

// Append adds a new state chained to previous (NoState detaches it) and
// returns its index. Indices are stable for the lifetime of the store.
func (t *Trajectory) Append(previous int) int {
	t.states = append(t.states, TrackState{Previous: previous})
	return len(t.states) - 1
}

// State returns the state at index i. The pointer stays valid across later
// appends only until the backing array grows, so callers must not hold it
// across Append calls.
func (t *Trajectory) State(i int) *TrackState {
	return &t.states[i]
}

// Len returns the number of states in the store.
func (t *Trajectory) Len() int {
	return len(t.states)
}

// ApplyBackwards walks the chain from tip toward its head, calling fn for
// every state. Traversal stops early when fn returns false.
func (t *Trajectory) ApplyBackwards(tip int, fn func(index int, state *TrackState) bool) {
	for i := tip; i != NoState; i = t.states[i].Previous {
		if !fn(i, &t.states[i]) {
			return
		}
	}
}
