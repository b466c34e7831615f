// Package config loads fitter tuning parameters from JSON. The schema uses
// pointer fields so a file can override any subset of the defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Tuning is the root configuration for fit tuning parameters. All fields are
// optional; nil means "keep the built-in default".
type Tuning struct {
	// Material toggles
	MultipleScattering *bool `json:"multiple_scattering,omitempty"`
	EnergyLoss         *bool `json:"energy_loss,omitempty"`

	// Reverse filtering
	ReversedFiltering                  *bool    `json:"reversed_filtering,omitempty"`
	ReversedFilteringCovarianceScaling *float64 `json:"reversed_filtering_covariance_scaling,omitempty"`
	ReverseMomentumThreshold           *float64 `json:"reverse_momentum_threshold,omitempty"`

	// Outlier rejection
	OutlierChi2Cut *float64 `json:"outlier_chi2_cut,omitempty"`

	// Synthetic input generation (demo binary)
	MeasurementSigma *float64 `json:"measurement_sigma,omitempty"`
	SurfaceSpacing   *float64 `json:"surface_spacing,omitempty"`
}

// Load reads a tuning file. A missing file is not an error: it returns an
// empty Tuning so the defaults apply.
func Load(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Tuning{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tuning config: %w", err)
	}
	var t Tuning
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tuning config %s: %w", path, err)
	}
	return &t, nil
}

// Merge overlays the non-nil fields of other onto t and returns t.
func (t *Tuning) Merge(other *Tuning) *Tuning {
	if other == nil {
		return t
	}
	if other.MultipleScattering != nil {
		t.MultipleScattering = other.MultipleScattering
	}
	if other.EnergyLoss != nil {
		t.EnergyLoss = other.EnergyLoss
	}
	if other.ReversedFiltering != nil {
		t.ReversedFiltering = other.ReversedFiltering
	}
	if other.ReversedFilteringCovarianceScaling != nil {
		t.ReversedFilteringCovarianceScaling = other.ReversedFilteringCovarianceScaling
	}
	if other.ReverseMomentumThreshold != nil {
		t.ReverseMomentumThreshold = other.ReverseMomentumThreshold
	}
	if other.OutlierChi2Cut != nil {
		t.OutlierChi2Cut = other.OutlierChi2Cut
	}
	if other.MeasurementSigma != nil {
		t.MeasurementSigma = other.MeasurementSigma
	}
	if other.SurfaceSpacing != nil {
		t.SurfaceSpacing = other.SurfaceSpacing
	}
	return t
}
