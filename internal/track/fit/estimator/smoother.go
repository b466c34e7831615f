package estimator

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
)

// GainMatrixSmoother is the Rauch-Tung-Striebel smoother: starting from the
// state at entry, whose smoothed estimate equals its filtered estimate, it
// walks the chain backward and combines each filtered estimate with the
// downstream smoothed information through the transport jacobian.
func GainMatrixSmoother(_ context.Context, traj *track.Trajectory, entry int) error {
	if entry == track.NoState {
		return fmt.Errorf("%w: empty smoothing chain", fit.ErrSmoothFailed)
	}

	tip := traj.State(entry)
	if tip.Filtered == nil || tip.FilteredCov == nil {
		return fmt.Errorf("%w: chain tip has no filtered estimate", fit.ErrSmoothFailed)
	}
	tip.Smoothed = mat.VecDenseCopyOf(tip.Filtered)
	tip.SmoothedCov = copySym(tip.FilteredCov)

	next := tip
	for i := tip.Previous; i != track.NoState; i = traj.State(i).Previous {
		st := traj.State(i)
		if st.Filtered == nil || st.FilteredCov == nil {
			return fmt.Errorf("%w: state without filtered estimate in chain", fit.ErrSmoothFailed)
		}
		if next.Jacobian == nil || next.PredictedCov == nil {
			return fmt.Errorf("%w: missing transport jacobian in chain", fit.ErrSmoothFailed)
		}

		// Smoother gain G = P_f F^T P_p,next^-1.
		var ppInv mat.Dense
		if err := ppInv.Inverse(next.PredictedCov); err != nil {
			return fmt.Errorf("%w: singular predicted covariance: %v", fit.ErrSmoothFailed, err)
		}
		var pft, g mat.Dense
		pft.Mul(st.FilteredCov, next.Jacobian.T())
		g.Mul(&pft, &ppInv)

		// x_s = x_f + G (x_s,next - x_p,next).
		d := mat.VecDenseCopyOf(next.Smoothed)
		d.SubVec(d, next.Predicted)
		var gd mat.VecDense
		gd.MulVec(&g, d)
		smoothed := mat.VecDenseCopyOf(st.Filtered)
		smoothed.AddVec(smoothed, &gd)

		// P_s = P_f + G (P_s,next - P_p,next) G^T.
		var diff, gDiff, gDiffG mat.Dense
		diff.Sub(next.SmoothedCov, next.PredictedCov)
		gDiff.Mul(&g, &diff)
		gDiffG.Mul(&gDiff, g.T())
		var ps mat.Dense
		ps.Add(st.FilteredCov, &gDiffG)

		st.Smoothed = smoothed
		st.SmoothedCov = symFromDense(&ps)
		next = st
	}
	return nil
}
