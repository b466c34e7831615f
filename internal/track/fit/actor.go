package fit

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/material"
)

// targetTolerance is the path length below which the target surface counts as
// reached.
const targetTolerance = 1e-6

// Actor is the per-step state machine of a fit. The propagation engine
// invokes Act once per navigation step; the actor decides what to do at the
// current surface and mutates the trajectory store and the fit result. One
// actor is exclusively owned by one in-flight fit.
type Actor struct {
	measurements map[geom.ID]track.SourceLink
	target       geom.Surface
	opts         Options
	ext          Extensions
	res          *Result
	log          *zap.Logger
}

// Act runs one navigation step. Past completion, or once a failure has been
// recorded, it is a no-op.
func (a *Actor) Act(ctx context.Context, nav *Navigation, stepper Stepper) {
	// Guard on the recorded outcome, not only the finished flag: no further
	// mutation after an unrecoverable error.
	if a.res.Err != nil || a.res.Finished {
		return
	}

	surface := nav.CurrentSurface
	dir := stepper.NavDirection()

	if surface != nil {
		if !a.res.Smoothed && !a.res.Reversed {
			a.log.Debug("filter step",
				zap.Stringer("direction", dir),
				zap.Uint64("surface", uint64(surface.GeometryID())))
			if err := a.filter(ctx, surface, stepper); err != nil {
				a.log.Error("filter step failed", zap.Error(err))
				a.res.Err = err
				return
			}
		}
		if a.res.Reversed {
			if err := a.reversedFilter(ctx, surface, nav, stepper); err != nil {
				a.log.Error("reversed filter step failed", zap.Error(err))
				a.res.Err = err
				return
			}
		}
	}

	// Completion: all measurements handled, or at least one measurement seen
	// and navigation cannot progress. Reset for reversed filtering, or run
	// the smoother.
	if !a.res.Smoothed && !a.res.Reversed {
		if a.res.MeasurementStates == len(a.measurements) ||
			(a.res.MeasurementStates > 0 && nav.Break) {
			// Drop the missed surfaces recorded after the last measurement.
			a.res.MissedActiveSurfaces = a.res.MissedActiveSurfaces[:a.res.MeasurementHoles]

			var lastMeasurement *track.TrackState
			if a.res.LastMeasurementIndex != track.NoState {
				lastMeasurement = a.res.Trajectory.State(a.res.LastMeasurementIndex)
			}
			if a.opts.ReversedFiltering ||
				(lastMeasurement != nil && a.ext.ReverseFilteringLogic(lastMeasurement)) {
				a.log.Debug("reversing navigation direction")
				if err := a.reverse(nav, stepper); err != nil {
					a.log.Error("reverse failed", zap.Error(err))
					a.res.Err = err
					return
				}
			} else {
				a.log.Debug("finalize: run smoothing")
				if err := a.finalize(ctx, stepper); err != nil {
					a.log.Error("finalize failed", zap.Error(err))
					a.res.Err = err
					return
				}
			}
		}
	}

	// Post-finalization: progress to the target surface and bind the final
	// track parameters there.
	if a.res.Smoothed || a.res.Reversed {
		if a.target == nil {
			if a.res.Reversed {
				// There is no way to stop a reversed propagation without a
				// target surface.
				a.res.Err = fmt.Errorf("%w: reversed propagation has no target surface", ErrBackwardUpdateFailed)
				return
			}
			a.log.Debug("no target surface, completing without fitted parameters")
			a.res.Finished = true
			return
		}
		if a.targetReached(stepper) {
			bs, err := stepper.BoundState(a.target, true)
			if err != nil {
				a.res.Err = fmt.Errorf("binding parameters at target: %w", err)
				return
			}
			params := bs.Params
			a.res.FittedParams = &params

			if a.res.Reversed {
				// States the backward pass never revisited have no reliable
				// smoothed estimate.
				a.res.Trajectory.ApplyBackwards(a.res.LastMeasurementIndex,
					func(_ int, st *track.TrackState) bool {
						if !a.passedAgain(st.Surface) {
							st.ClearSmoothed()
						}
						return true
					})
			}
			a.log.Debug("completing with fitted track parameters")
			a.res.Finished = true
		}
	}
}

// filter runs one forward filter step at a surface.
func (a *Actor) filter(ctx context.Context, surface geom.Surface, stepper Stepper) error {
	if sl, ok := a.measurements[surface.GeometryID()]; ok {
		// Measurement surface: transport, pre-update material, calibrate and
		// update, then record the new state as the last measurement.
		if err := stepper.TransportCovarianceToBound(surface); err != nil {
			return err
		}
		a.materialInteractor(surface, stepper, material.PreUpdate)

		index, err := a.handleMeasurement(ctx, surface, sl, stepper)
		if err != nil {
			return err
		}
		a.res.LastTrackIndex = index

		st := a.res.Trajectory.State(index)
		if st.Flags.Has(track.FlagMeasurement) {
			// Push the filtered parameters back into the stepping state.
			stepper.Update(track.BoundParams{
				Surface: surface,
				Vector:  st.Filtered,
				Cov:     st.FilteredCov,
			})
			a.res.MeasurementStates++
		}

		a.materialInteractor(surface, stepper, material.PostUpdate)
		a.res.ProcessedStates++
		// Holes only count once a later measurement confirms them.
		a.res.MeasurementHoles = len(a.res.MissedActiveSurfaces)
		a.res.LastMeasurementIndex = index
		return nil
	}

	if surface.IsSensitive() || surface.Material() != nil {
		// No holes before the first measurement; material-only surfaces
		// always get a state.
		if a.res.MeasurementStates > 0 || surface.Material() != nil {
			index, err := a.handleNoMeasurement(surface, stepper)
			if err != nil {
				return err
			}
			a.res.LastTrackIndex = index
			if a.res.Trajectory.State(index).Flags.Has(track.FlagHole) {
				a.res.MissedActiveSurfaces = append(a.res.MissedActiveSurfaces, surface)
			}
			a.res.ProcessedStates++
		}
		if surface.Material() != nil {
			a.materialInteractor(surface, stepper, material.FullUpdate)
		}
	}
	return nil
}

// handleMeasurement creates and fills a measurement track state, classifies
// it via the outlier finder, and applies the updater for accepted states.
func (a *Actor) handleMeasurement(ctx context.Context, surface geom.Surface, sl track.SourceLink, stepper Stepper) (int, error) {
	// The covariance was already transported above.
	bs, err := stepper.BoundState(surface, false)
	if err != nil {
		return track.NoState, err
	}

	index := a.res.Trajectory.Append(a.res.LastTrackIndex)
	st := a.res.Trajectory.State(index)
	st.Surface = surface
	st.Uncalibrated = sl
	st.Predicted = bs.Params.Vector
	st.PredictedCov = bs.Params.Cov
	st.Jacobian = bs.Jacobian
	st.PathLength = bs.PathLength

	a.ext.Calibrator(ctx, st)

	if a.ext.OutlierFinder(st) {
		// Outliers keep the prediction as their filtered estimate and are
		// excluded from the update.
		st.Flags |= track.FlagOutlier
		st.Filtered = mat.VecDenseCopyOf(st.Predicted)
		if st.PredictedCov != nil {
			st.FilteredCov = mat.NewSymDense(st.PredictedCov.SymmetricDim(), nil)
			st.FilteredCov.CopySym(st.PredictedCov)
		}
	} else {
		if err := a.ext.Updater(ctx, st, stepper.NavDirection()); err != nil {
			return track.NoState, err
		}
		st.Flags |= track.FlagMeasurement
	}
	if surface.Material() != nil {
		st.Flags |= track.FlagMaterial
	}
	return index, nil
}

// handleNoMeasurement creates a hole or material track state carrying the
// prediction through unchanged.
func (a *Actor) handleNoMeasurement(surface geom.Surface, stepper Stepper) (int, error) {
	bs, err := stepper.BoundState(surface, true)
	if err != nil {
		return track.NoState, err
	}

	index := a.res.Trajectory.Append(a.res.LastTrackIndex)
	st := a.res.Trajectory.State(index)
	st.Surface = surface
	st.Predicted = bs.Params.Vector
	st.PredictedCov = bs.Params.Cov
	st.Jacobian = bs.Jacobian
	st.PathLength = bs.PathLength

	// Carry the prediction forward so the smoother can run through.
	st.Filtered = mat.VecDenseCopyOf(st.Predicted)
	if st.PredictedCov != nil {
		st.FilteredCov = mat.NewSymDense(st.PredictedCov.SymmetricDim(), nil)
		st.FilteredCov.CopySym(st.PredictedCov)
	}

	if surface.IsSensitive() {
		st.Flags |= track.FlagHole
	}
	if surface.Material() != nil {
		st.Flags |= track.FlagMaterial
	}
	return index, nil
}

// reverse flips the navigation direction and rewinds stepping and navigation
// to the last measurement state for a backward filter pass.
func (a *Actor) reverse(nav *Navigation, stepper Stepper) error {
	if a.res.LastMeasurementIndex == track.NoState {
		return fmt.Errorf("%w: no measurement to reverse from", ErrReverseNavigationFailed)
	}

	a.res.Reversed = true

	st := a.res.Trajectory.State(a.res.LastMeasurementIndex)

	// The covariance is inflated once, at the turning point only.
	scaled := mat.NewSymDense(st.FilteredCov.SymmetricDim(), nil)
	scaled.CopySym(st.FilteredCov)
	scaleSym(scaled, a.opts.ReversedFilteringCovarianceScaling)

	stepper.Reset(track.BoundParams{
		Surface: st.Surface,
		Vector:  mat.VecDenseCopyOf(st.Filtered),
		Cov:     scaled,
	}, stepper.NavDirection().Reverse())

	// For the last measurement state, smoothed is defined as filtered.
	st.Smoothed = mat.VecDenseCopyOf(st.Filtered)
	st.SmoothedCov = mat.NewSymDense(st.FilteredCov.SymmetricDim(), nil)
	st.SmoothedCov.CopySym(st.FilteredCov)
	a.res.PassedAgainSurfaces = append(a.res.PassedAgainSurfaces, st.Surface)

	nav.RequestReset(st.Surface)
	nav.TargetSurface = a.target

	// Material at the turning surface applies in the reversed direction.
	a.materialInteractor(nav.CurrentSurface, stepper, material.FullUpdate)
	return nil
}

// reversedFilter runs one backward filter step at a surface. New measurement
// states are appended detached; their filtered results become the smoothed
// estimates of the matching forward states.
func (a *Actor) reversedFilter(ctx context.Context, surface geom.Surface, nav *Navigation, stepper Stepper) error {
	if sl, ok := a.measurements[surface.GeometryID()]; ok {
		// The reverse pass starts at the last measurement, whose smoothed
		// value is already defined as its filtered value.
		if nav.StartSurface != nil && surface.GeometryID() == nav.StartSurface.GeometryID() {
			a.materialInteractor(surface, stepper, material.FullUpdate)
			return nil
		}

		if err := stepper.TransportCovarianceToBound(surface); err != nil {
			return err
		}
		a.materialInteractor(surface, stepper, material.PreUpdate)

		bs, err := stepper.BoundState(surface, false)
		if err != nil {
			return err
		}

		// Detached state: not linked into the forward chain.
		index := a.res.Trajectory.Append(track.NoState)
		st := a.res.Trajectory.State(index)
		st.Surface = surface
		st.Uncalibrated = sl
		st.Predicted = bs.Params.Vector
		st.PredictedCov = bs.Params.Cov
		st.Jacobian = bs.Jacobian
		st.PathLength = bs.PathLength

		a.ext.Calibrator(ctx, st)

		if err := a.ext.Updater(ctx, st, stepper.NavDirection()); err != nil {
			return fmt.Errorf("%w: %v", ErrBackwardUpdateFailed, err)
		}
		st.Flags |= track.FlagMeasurement

		// Copy the backward-filtered result into the smoothed slot of the
		// forward state at the same surface.
		a.res.Trajectory.ApplyBackwards(a.res.LastMeasurementIndex,
			func(_ int, forward *track.TrackState) bool {
				if forward.Surface.GeometryID() != surface.GeometryID() {
					return true
				}
				a.res.PassedAgainSurfaces = append(a.res.PassedAgainSurfaces, surface)
				forward.Smoothed = mat.VecDenseCopyOf(st.Filtered)
				if st.FilteredCov != nil {
					forward.SmoothedCov = mat.NewSymDense(st.FilteredCov.SymmetricDim(), nil)
					forward.SmoothedCov.CopySym(st.FilteredCov)
				}
				return false
			})

		stepper.Update(track.BoundParams{
			Surface: surface,
			Vector:  st.Filtered,
			Cov:     st.FilteredCov,
		})
		a.materialInteractor(surface, stepper, material.PostUpdate)
		return nil
	}

	if surface.IsSensitive() || surface.Material() != nil {
		// Holes and material surfaces in the backward pass only transport
		// the covariance and apply material, no new track state.
		if surface.IsSensitive() {
			if err := stepper.TransportCovarianceToBound(surface); err != nil {
				return err
			}
		} else {
			stepper.TransportCovarianceToCurvilinear()
		}
		// No bound state is created here, so the jacobian accumulation has
		// to be reinitialised by hand.
		stepper.SetIdentityJacobian()
		if surface.Material() != nil {
			a.materialInteractor(surface, stepper, material.FullUpdate)
		}
	}
	return nil
}

// finalize runs the smoother over the chain ending at the last measurement
// and repositions the stepper toward the target surface.
func (a *Actor) finalize(ctx context.Context, stepper Stepper) error {
	a.res.Smoothed = true

	// Find the first measurement-or-material state of the chain and count
	// the states to be smoothed.
	firstStateIndex := a.res.LastMeasurementIndex
	nStates := 0
	a.res.Trajectory.ApplyBackwards(a.res.LastMeasurementIndex,
		func(i int, st *track.TrackState) bool {
			if st.Flags.Has(track.FlagMeasurement) || st.Flags.Has(track.FlagMaterial) {
				firstStateIndex = i
			}
			nStates++
			return true
		})
	if nStates == 0 {
		return fmt.Errorf("%w: track has no states to smooth", ErrSmoothFailed)
	}
	a.log.Debug("apply smoothing", zap.Int("states", nStates))

	if err := a.ext.Smoother(ctx, a.res.Trajectory, a.res.LastMeasurementIndex); err != nil {
		return err
	}

	if a.target == nil {
		return nil
	}

	// Pick whichever end of the smoothed chain is closer to the target and
	// restart stepping from its smoothed parameters.
	first := a.res.Trajectory.State(firstStateIndex)
	last := a.res.Trajectory.State(a.res.LastMeasurementIndex)
	dir := stepper.NavDirection()

	firstPath := a.smoothedPathToTarget(first, dir)
	lastPath := a.smoothedPathToTarget(last, dir)

	chosen := last
	chosenPath := lastPath
	if math.Abs(firstPath) <= math.Abs(lastPath) {
		chosen = first
		chosenPath = firstPath
	}

	if chosenPath < 0 {
		dir = dir.Reverse()
	}
	cov := mat.NewSymDense(chosen.SmoothedCov.SymmetricDim(), nil)
	cov.CopySym(chosen.SmoothedCov)
	stepper.Reset(track.BoundParams{
		Surface: chosen.Surface,
		Vector:  mat.VecDenseCopyOf(chosen.Smoothed),
		Cov:     cov,
	}, dir)
	stepper.ResetPathAccumulated()

	a.log.Debug("smoothing done, stepping toward target",
		zap.Uint64("from", uint64(chosen.Surface.GeometryID())))
	return nil
}

// smoothedPathToTarget intersects a state's smoothed parameters with the
// target surface. Unreachable targets report an infinite path.
func (a *Actor) smoothedPathToTarget(st *track.TrackState, dir Direction) float64 {
	params := track.BoundParams{Surface: st.Surface, Vector: st.Smoothed}
	isect, ok := a.target.Intersect(params.Position(), params.Direction().Scale(float64(dir)))
	if !ok {
		return math.Inf(1)
	}
	return isect.PathLength
}

// materialInteractor applies the material effects of a surface to the
// stepping state at the given update stage.
func (a *Actor) materialInteractor(surface geom.Surface, stepper Stepper, stage material.UpdateStage) {
	if surface == nil || surface.Material() == nil {
		return
	}
	_, theta := geom.AnglesFromDirection(stepper.Direction())
	eff, ok := material.Evaluate(surface, stepper.Momentum(), theta, stage,
		a.opts.MultipleScattering, a.opts.EnergyLoss)
	if !ok {
		return
	}
	a.log.Debug("material effects",
		zap.Uint64("surface", uint64(surface.GeometryID())),
		zap.Stringer("stage", stage),
		zap.Float64("eloss", eff.EnergyLoss),
		zap.Float64("variancePhi", eff.VariancePhi),
		zap.Float64("varianceTheta", eff.VarianceTheta))
	stepper.ApplyMaterialEffects(eff.VariancePhi, eff.VarianceTheta, eff.VarianceQOverP, eff.EnergyLoss)
}

// targetReached reports whether the stepper stands on the target surface.
func (a *Actor) targetReached(stepper Stepper) bool {
	travel := stepper.Direction().Scale(float64(stepper.NavDirection()))
	isect, ok := a.target.Intersect(stepper.Position(), travel)
	if !ok {
		return false
	}
	return math.Abs(isect.PathLength) < targetTolerance
}

func (a *Actor) passedAgain(srf geom.Surface) bool {
	for _, s := range a.res.PassedAgainSurfaces {
		if s.GeometryID() == srf.GeometryID() {
			return true
		}
	}
	return false
}

// scaleSym multiplies every element of a symmetric matrix in place.
func scaleSym(m *mat.SymDense, f float64) {
	if f == 1 {
		return
	}
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.SetSym(i, j, m.At(i, j)*f)
		}
	}
}
