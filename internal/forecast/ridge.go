package forecast

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Ridge is an L2-regularised linear model with an unpenalised intercept.
type Ridge struct {
	Coef      []float64
	Intercept float64
}

// FitRidge fits y ≈ X·β + b minimising ‖y − Xβ − b‖² + alpha‖β‖².
// Features and target are centred first so the intercept is not shrunk.
func FitRidge(x [][]float64, y []float64, alpha float64) (*Ridge, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("ridge: %d rows for %d targets", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return nil, errors.New("ridge: no features")
	}
	if alpha < 0 {
		return nil, fmt.Errorf("ridge: negative alpha %v", alpha)
	}

	xMean := make([]float64, p)
	yMean := 0.0
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("ridge: row %d has %d features, want %d", i, len(row), p)
		}
		for j, v := range row {
			xMean[j] += v
		}
		yMean += y[i]
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean /= float64(n)

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range x {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	var xtx mat.Dense
	xtx.Mul(xc.T(), xc)
	a := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := xtx.At(i, j)
			if i == j {
				v += alpha
			}
			a.SetSym(i, j, v)
		}
	}
	b := mat.NewVecDense(p, nil)
	b.MulVec(xc.T(), yc)

	beta := mat.NewVecDense(p, nil)
	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(beta, b); err != nil {
			return nil, fmt.Errorf("ridge: cholesky solve: %w", err)
		}
	} else if err := beta.SolveVec(a, b); err != nil {
		// alpha == 0 with collinear features
		return nil, fmt.Errorf("ridge: singular system: %w", err)
	}

	r := &Ridge{Coef: make([]float64, p), Intercept: yMean}
	for j := 0; j < p; j++ {
		r.Coef[j] = beta.AtVec(j)
		r.Intercept -= r.Coef[j] * xMean[j]
	}
	return r, nil
}

// Predict returns the model output for one feature row.
func (r *Ridge) Predict(x []float64) float64 {
	out := r.Intercept
	for j, c := range r.Coef {
		if j < len(x) {
			out += c * x[j]
		}
	}
	return out
}
