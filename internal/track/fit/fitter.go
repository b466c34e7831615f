package fit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// Fitter runs Kalman fits over a propagation engine. Measurements are not
// required to be ordered; ordering falls out of the engine's navigation.
// A Fitter is safe for concurrent use as long as the propagation engine is:
// every fit owns its own actor, trajectory store and result.
type Fitter struct {
	prop Propagator
	log  *zap.Logger
}

// NewFitter wraps a propagation engine. A nil logger disables logging.
func NewFitter(prop Propagator, log *zap.Logger) *Fitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fitter{prop: prop, log: log}
}

// Fit reconstructs one track from the given measurements and initial
// parameter estimate. The returned Result is populated even when the fit
// fails; the error classifies the failure.
func (f *Fitter) Fit(ctx context.Context, sources []track.SourceLink, start track.BoundParams, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = f.log
	}
	opts = opts.normalised()
	log := opts.Logger

	log.Debug("preparing input measurements", zap.Int("count", len(sources)))

	// The measurement lookup is injective over surface identity; the map
	// owns the handles for the duration of the fit.
	measurements := make(map[geom.ID]track.SourceLink, len(sources))
	for _, sl := range sources {
		id := sl.GeometryID()
		if _, dup := measurements[id]; dup {
			log.Warn("duplicate measurement surface, keeping first",
				zap.Uint64("surface", uint64(id)))
			continue
		}
		measurements[id] = sl
	}

	res := newResult()

	// Without input measurements the completion check would fire on the
	// first step and finalize an empty chain; classify the fit up front.
	if len(measurements) == 0 {
		res.Err = ErrNoMeasurementFound
		log.Debug("fit failed", zap.Error(res.Err))
		return res, res.Err
	}

	actor := &Actor{
		measurements: measurements,
		target:       opts.TargetSurface,
		opts:         opts,
		ext:          opts.Extensions,
		res:          res,
		log:          log,
	}
	done := func() bool { return res.Err != nil || res.Finished }

	if err := f.prop.Propagate(ctx, start, opts.TargetSurface, actor.Act, done); err != nil {
		return res, fmt.Errorf("propagation: %w", err)
	}

	// A fit that ends with zero accepted measurement states is meaningless
	// even when nothing failed along the way.
	if res.Err == nil && res.MeasurementStates == 0 {
		res.Err = ErrNoMeasurementFound
	}
	if res.Err != nil {
		log.Debug("fit failed", zap.Error(res.Err))
		return res, res.Err
	}
	return res, nil
}
