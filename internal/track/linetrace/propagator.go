// Package linetrace is a field-free, direct-navigation propagation engine:
// it walks an ordered surface sequence in straight lines and invokes the
// fitting actor once per navigation step. The fitting core only depends on
// the fit.Stepper and fit.Propagator contracts; this engine exists to run
// fits end-to-end in tests and demos without a full tracking toolkit.
package linetrace

import (
	"context"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
)

// maxIdleSteps bounds the number of consecutive steps without a sequence
// surface before the engine gives up on an unfinished fit.
const maxIdleSteps = 4

// Propagator walks its surface sequence in navigation order, honouring
// mid-flight direction reversals and navigation resets requested by the
// actor. One Propagator may serve many sequential fits; each Propagate call
// builds a fresh stepper.
type Propagator struct {
	surfaces []geom.Surface
	maxSteps int
}

// New builds a propagator over an ordered surface sequence.
func New(surfaces []geom.Surface) *Propagator {
	return &Propagator{
		surfaces: surfaces,
		maxSteps: 10*len(surfaces) + 100,
	}
}

// Propagate runs the navigation loop until done reports true, the context is
// cancelled, or navigation is exhausted.
func (p *Propagator) Propagate(ctx context.Context, start track.BoundParams, target geom.Surface, step fit.StepFunc, done fit.DoneFunc) error {
	stepper := newStepper(start, fit.Forward)
	nav := &fit.Navigation{
		StartSurface:  start.Surface,
		TargetSurface: target,
	}

	cursor := 0
	idle := 0
	for n := 0; n < p.maxSteps; n++ {
		if done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if nav.ResetRequested {
			nav.ResetRequested = false
			// Continue from the neighbour of the reset surface in the
			// stepper's new direction; the reset surface itself was already
			// handled by the actor.
			cursor = p.indexOf(nav.ResetStart)
			if cursor == -1 {
				cursor = len(p.surfaces)
			} else if stepper.NavDirection() == fit.Forward {
				cursor++
			} else {
				cursor--
			}
			nav.Break = false
			idle = 0
		}

		nav.CurrentSurface = nil
		if cursor >= 0 && cursor < len(p.surfaces) {
			srf := p.surfaces[cursor]
			if stepper.NavDirection() == fit.Forward {
				cursor++
			} else {
				cursor--
			}
			if stepper.advanceTo(srf) {
				nav.CurrentSurface = srf
			}
		} else if target != nil {
			// Sequence exhausted: keep offering the target surface so the
			// actor can finalize and bind its parameters there.
			if stepper.advanceTo(target) {
				nav.CurrentSurface = target
			}
			nav.Break = true
			idle++
		} else {
			nav.Break = true
			idle++
		}

		step(ctx, nav, stepper)

		if idle > maxIdleSteps && !nav.ResetRequested {
			// The actor had its chance to finalize; nothing can change now.
			return nil
		}
	}
	return nil
}

func (p *Propagator) indexOf(srf geom.Surface) int {
	if srf == nil {
		return -1
	}
	for i, s := range p.surfaces {
		if s.GeometryID() == srf.GeometryID() {
			return i
		}
	}
	return -1
}
