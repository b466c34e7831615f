package estimator

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
)

// GainMatrixUpdater is the standard Kalman gain-matrix update. It combines
// the predicted estimate with the calibrated measurement, writing the
// filtered estimate and the predicted chi-square onto the state.
func GainMatrixUpdater(_ context.Context, st *track.TrackState, _ fit.Direction) error {
	if st.Calibrated == nil || st.Projection == nil || st.CalibratedCov == nil {
		return fmt.Errorf("%w: state has no calibrated measurement", fit.ErrUpdateFailed)
	}
	if st.Predicted == nil || st.PredictedCov == nil {
		return fmt.Errorf("%w: state has no prediction", fit.ErrUpdateFailed)
	}

	h := st.Projection

	// Innovation covariance S = H P H^T + R.
	var hp, s mat.Dense
	hp.Mul(h, st.PredictedCov)
	s.Mul(&hp, h.T())
	s.Add(&s, st.CalibratedCov)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("%w: singular innovation covariance: %v", fit.ErrUpdateFailed, err)
	}

	// Gain K = P H^T S^-1.
	var pht, k mat.Dense
	pht.Mul(st.PredictedCov, h.T())
	k.Mul(&pht, &sInv)

	// Residual r = z - H x.
	var hx mat.VecDense
	hx.MulVec(h, st.Predicted)
	r := mat.VecDenseCopyOf(st.Calibrated)
	r.SubVec(r, &hx)

	// Filtered estimate x' = x + K r.
	var kr mat.VecDense
	kr.MulVec(&k, r)
	filtered := mat.VecDenseCopyOf(st.Predicted)
	filtered.AddVec(filtered, &kr)

	// Filtered covariance P' = (I - K H) P.
	n := st.Predicted.Len()
	var kh mat.Dense
	kh.Mul(&k, h)
	ikh := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)
	var pf mat.Dense
	pf.Mul(ikh, st.PredictedCov)

	// Predicted chi-square r^T S^-1 r.
	var sr mat.VecDense
	sr.MulVec(&sInv, r)

	st.Filtered = filtered
	st.FilteredCov = symFromDense(&pf)
	st.Chi2 = mat.Dot(r, &sr)
	return nil
}
