package fit

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// BoundState is a parameter bind at a surface together with the transport
// jacobian accumulated since the previous bind and the accumulated path.
type BoundState struct {
	Params     track.BoundParams
	Jacobian   *mat.Dense
	PathLength float64
}

// Stepper is the mutable stepping state of the propagation engine, seen
// through the operations the fitting actor needs. One Stepper instance is
// exclusively owned by one in-flight propagation.
type Stepper interface {
	// TransportCovarianceToBound transports the track covariance to the
	// bound frame of the given surface.
	TransportCovarianceToBound(srf geom.Surface) error

	// TransportCovarianceToCurvilinear transports the track covariance to
	// the curvilinear frame at the current position.
	TransportCovarianceToCurvilinear()

	// BoundState binds the current stepping state to a surface. When
	// transportCov is false the covariance is taken as already transported.
	// Binding resets the jacobian accumulation.
	BoundState(srf geom.Surface, transportCov bool) (BoundState, error)

	// Update pushes filtered parameters back into the stepping state.
	Update(params track.BoundParams)

	// Reset re-seeds the stepping state from bound parameters and sets the
	// navigation direction.
	Reset(params track.BoundParams, dir Direction)

	// SetIdentityJacobian reinitialises the jacobian accumulation without
	// creating a bound state.
	SetIdentityJacobian()

	// Position returns the current global position.
	Position() geom.Vec3

	// Direction returns the current momentum direction (unit vector,
	// independent of the navigation direction).
	Direction() geom.Vec3

	// Momentum returns the current absolute momentum in GeV.
	Momentum() float64

	// NavDirection returns the current navigation direction.
	NavDirection() Direction

	// ApplyMaterialEffects adds scattering variances to the track covariance
	// and subtracts the mean energy loss from the momentum.
	ApplyMaterialEffects(variancePhi, varianceTheta, varianceQOverP, energyLoss float64)

	// ResetPathAccumulated zeroes the path bookkeeping before targeting.
	ResetPathAccumulated()
}

// Navigation is the per-step navigation state handed to the actor by the
// propagation engine.
type Navigation struct {
	// CurrentSurface is the surface reached this step, nil when the step
	// ended between surfaces.
	CurrentSurface geom.Surface

	// StartSurface is the surface the current pass started from.
	StartSurface geom.Surface

	// TargetSurface is the surface the propagation is ultimately aiming at.
	TargetSurface geom.Surface

	// Break is set by the engine when navigation cannot progress further.
	Break bool

	// ResetRequested asks the engine to restart navigation from ResetStart
	// in the stepper's current direction. Set via RequestReset.
	ResetRequested bool
	ResetStart     geom.Surface
}

// RequestReset records a navigation reset at start. The engine honours it on
// its next iteration; the start surface becomes the current surface, matching
// the behaviour of a navigator reset.
func (n *Navigation) RequestReset(start geom.Surface) {
	n.ResetRequested = true
	n.ResetStart = start
	n.StartSurface = start
	n.CurrentSurface = start
	n.Break = false
}

// StepFunc is invoked by the propagation engine once per navigation step.
type StepFunc func(ctx context.Context, nav *Navigation, stepper Stepper)

// DoneFunc is the companion abort predicate, consulted after every step.
type DoneFunc func() bool

// Propagator runs a propagation from start parameters, invoking step at every
// navigation step until done reports true or navigation is exhausted.
type Propagator interface {
	Propagate(ctx context.Context, start track.BoundParams, target geom.Surface, step StepFunc, done DoneFunc) error
}
