// Package estimator provides the concrete Kalman strategies plugged into the
// fitting actor: the gain-matrix updater, the gain-matrix (RTS) smoother, a
// chi-square outlier finder and a momentum-based reverse-filtering decision.
package estimator

import "gonum.org/v1/gonum/mat"

// symFromDense copies a (numerically symmetric) dense matrix into a SymDense,
// averaging the off-diagonal pairs to wash out round-off asymmetry.
func symFromDense(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(d.At(i, j)+d.At(j, i)))
		}
	}
	return s
}

func copySym(s *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(s.SymmetricDim(), nil)
	out.CopySym(s)
	return out
}
