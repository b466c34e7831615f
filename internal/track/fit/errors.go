package fit

import "errors"

// Failure kinds of a fit. Fallible operations inside the actor wrap these
// sentinels so callers can classify outcomes with errors.Is.
var (
	// ErrUpdateFailed indicates a singular innovation covariance or an
	// updater-specific rejection during the forward filter.
	ErrUpdateFailed = errors.New("kalman update failed")

	// ErrSmoothFailed indicates an empty or malformed smoothing chain.
	ErrSmoothFailed = errors.New("smoothing failed")

	// ErrBackwardUpdateFailed indicates a reverse pass without a target
	// surface, or a failed update step during backward filtering.
	ErrBackwardUpdateFailed = errors.New("backward update failed")

	// ErrReverseNavigationFailed indicates a reverse pass requested on a
	// track that has no measurement state yet.
	ErrReverseNavigationFailed = errors.New("reverse navigation failed")

	// ErrNoMeasurementFound indicates a fit that completed with zero
	// accepted measurement states.
	ErrNoMeasurementFound = errors.New("no measurement found")
)
