// Package material evaluates pointwise material effects at a surface:
// multiple-scattering variance growth and mean energy loss. The physics here
// is deliberately thin; detailed material modelling belongs to the
// surrounding toolkit and enters only through the per-surface slab.
package material

import (
	"math"

	"github.com/banshee-data/trackfit/internal/geom"
)

// UpdateStage selects which share of a surface's material a pointwise
// interaction accounts for. Pre and post updates split the slab in half
// around a measurement update; a full update takes the whole slab.
type UpdateStage int

const (
	FullUpdate UpdateStage = iota
	PreUpdate
	PostUpdate
)

func (s UpdateStage) String() string {
	switch s {
	case PreUpdate:
		return "pre-update"
	case PostUpdate:
		return "post-update"
	default:
		return "full-update"
	}
}

// highlandConstant is the 13.6 MeV term of the Highland formula, in GeV.
const highlandConstant = 0.0136

// meanLossPerX0 is the mean ionisation loss per radiation length in GeV,
// a flat approximation adequate for thin tracker material.
const meanLossPerX0 = 0.002

// Effects is the covariance and energy adjustment produced by one pointwise
// interaction, ready to be written back into the stepping state.
type Effects struct {
	VariancePhi    float64
	VarianceTheta  float64
	VarianceQOverP float64
	EnergyLoss     float64 // GeV, positive means the particle loses energy
}

// Evaluate computes the material effects of the slab attached to srf for a
// particle of momentum p (GeV) travelling at polar angle theta, at the given
// update stage. It returns false when the surface carries no material or the
// staged thickness vanishes.
func Evaluate(srf geom.Surface, p, theta float64, stage UpdateStage, multipleScattering, energyLoss bool) (Effects, bool) {
	if srf == nil || srf.Material() == nil {
		return Effects{}, false
	}
	thickness := srf.Material().ThicknessInX0
	if stage == PreUpdate || stage == PostUpdate {
		thickness /= 2
	}
	if thickness <= 0 || p <= 0 {
		return Effects{}, false
	}

	var eff Effects
	if multipleScattering {
		theta0 := ScatteringAngle(p, thickness)
		sinTheta := math.Sin(theta)
		if sinTheta*sinTheta < 1e-12 {
			sinTheta = 1e-6
		}
		eff.VarianceTheta = theta0 * theta0
		// The azimuthal angle is poorly constrained near the poles.
		eff.VariancePhi = theta0 * theta0 / (sinTheta * sinTheta)
	}
	if energyLoss {
		eff.EnergyLoss = MeanEnergyLoss(thickness)
		// Straggling enters the q/p variance as the relative loss spread.
		sigmaE := 0.1 * eff.EnergyLoss
		eff.VarianceQOverP = (sigmaE / (p * p)) * (sigmaE / (p * p))
	}
	return eff, true
}

// ScatteringAngle returns the Highland multiple-scattering angle for momentum
// p (GeV) and a thickness in radiation lengths.
func ScatteringAngle(p, thicknessInX0 float64) float64 {
	corr := 1 + 0.038*math.Log(thicknessInX0)
	if corr < 0 {
		// The logarithmic correction is invalid for extremely thin slabs.
		corr = 0
	}
	return highlandConstant / p * math.Sqrt(thicknessInX0) * corr
}

// MeanEnergyLoss returns the mean energy loss in GeV for a thickness in
// radiation lengths.
func MeanEnergyLoss(thicknessInX0 float64) float64 {
	return meanLossPerX0 * thicknessInX0
}
