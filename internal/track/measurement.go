package track

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
)

// SourceLink is an opaque handle to an uncalibrated measurement. The fitting
// core only uses the surface identity; turning the handle into a calibrated
// measurement is the Calibrator extension's job.
type SourceLink interface {
	GeometryID() geom.ID
}

// Measurement is a calibratable measurement payload: a subspace measurement
// of the bound parameters selected by a projection matrix. It implements
// SourceLink so it can be fed to the fitter directly.
type Measurement struct {
	SurfaceID geom.ID

	// Values is the measured vector in measurement space (dimension m).
	Values *mat.VecDense

	// Cov is the m x m measurement covariance.
	Cov *mat.SymDense

	// Projection maps the bound parameter space onto measurement space
	// (m x BoundSize).
	Projection *mat.Dense
}

func (m *Measurement) GeometryID() geom.ID { return m.SurfaceID }

// Dim returns the measurement space dimension.
func (m *Measurement) Dim() int { return m.Values.Len() }

// NewPositionMeasurement builds a two-dimensional measurement of the local
// surface coordinates with independent uncertainties sigma0 and sigma1.
func NewPositionMeasurement(id geom.ID, loc0, loc1, sigma0, sigma1 float64) *Measurement {
	proj := mat.NewDense(2, BoundSize, nil)
	proj.Set(0, ParamLoc0, 1)
	proj.Set(1, ParamLoc1, 1)

	cov := mat.NewSymDense(2, nil)
	cov.SetSym(0, 0, sigma0*sigma0)
	cov.SetSym(1, 1, sigma1*sigma1)

	return &Measurement{
		SurfaceID:  id,
		Values:     mat.NewVecDense(2, []float64{loc0, loc1}),
		Cov:        cov,
		Projection: proj,
	}
}
