package fit

import (
	"go.uber.org/zap"

	"github.com/banshee-data/trackfit/internal/geom"
)

// Options steer one fit invocation.
type Options struct {
	// TargetSurface is the surface the fitted parameters are expressed at.
	// May be nil, in which case the fit completes without fitted parameters;
	// a reverse pass without a target is an error.
	TargetSurface geom.Surface

	// MultipleScattering toggles scattering covariance growth at material.
	MultipleScattering bool

	// EnergyLoss toggles mean energy loss at material.
	EnergyLoss bool

	// ReversedFiltering forces a backward filter pass instead of consulting
	// the ReverseFilteringLogic extension.
	ReversedFiltering bool

	// ReversedFilteringCovarianceScaling inflates the covariance once at the
	// reversal point. Values <= 0 are treated as 1.
	ReversedFilteringCovarianceScaling float64

	// Extensions are the five pluggable strategies. Unset entries fall back
	// to the safe defaults.
	Extensions Extensions

	// Logger receives per-step observability output. Nil means no logging.
	Logger *zap.Logger
}

// DefaultOptions returns options with material effects on, no reverse pass
// and default extensions.
func DefaultOptions() Options {
	return Options{
		MultipleScattering:                 true,
		EnergyLoss:                         true,
		ReversedFilteringCovarianceScaling: 1.0,
		Extensions:                         DefaultExtensions(),
		Logger:                             zap.NewNop(),
	}
}

func (o Options) normalised() Options {
	if o.ReversedFilteringCovarianceScaling <= 0 {
		o.ReversedFilteringCovarianceScaling = 1.0
	}
	o.Extensions = o.Extensions.withDefaults()
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
