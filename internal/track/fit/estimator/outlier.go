package estimator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
)

// Chi2OutlierFinder marks a measurement as outlier when its predicted
// chi-square exceeds maxChi2. States without a usable prediction or
// calibration are never flagged; the updater reports those as failures.
func Chi2OutlierFinder(maxChi2 float64) fit.OutlierFinder {
	return func(st *track.TrackState) bool {
		chi2, ok := predictedChi2(st)
		return ok && chi2 > maxChi2
	}
}

// ReverseBelowMomentum smooths low-momentum tracks with a full backward
// filter pass instead of the algebraic smoother: their stronger material
// effects break the smoother's linearisation first.
func ReverseBelowMomentum(minMomentum float64) fit.ReverseFilteringLogic {
	return func(st *track.TrackState) bool {
		vec := st.Filtered
		if vec == nil {
			vec = st.Predicted
		}
		if vec == nil {
			return false
		}
		qop := vec.AtVec(track.ParamQOverP)
		if qop == 0 {
			return false
		}
		p := 1 / qop
		if p < 0 {
			p = -p
		}
		return p < minMomentum
	}
}

// predictedChi2 evaluates r^T S^-1 r against the prediction.
func predictedChi2(st *track.TrackState) (float64, bool) {
	if st.Calibrated == nil || st.Projection == nil || st.CalibratedCov == nil ||
		st.Predicted == nil || st.PredictedCov == nil {
		return 0, false
	}

	h := st.Projection

	var hp, s mat.Dense
	hp.Mul(h, st.PredictedCov)
	s.Mul(&hp, h.T())
	s.Add(&s, st.CalibratedCov)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return 0, false
	}

	var hx mat.VecDense
	hx.MulVec(h, st.Predicted)
	r := mat.VecDenseCopyOf(st.Calibrated)
	r.SubVec(r, &hx)

	var sr mat.VecDense
	sr.MulVec(&sInv, r)
	return mat.Dot(r, &sr), true
}
