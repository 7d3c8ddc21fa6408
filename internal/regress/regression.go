// Package regress fits simple linear regressions and produces point
// predictions with mean-response confidence intervals.
package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// bandPoints is the number of x positions the confidence band is sampled at.
const bandPoints = 100

// confidenceLevel of the reported intervals.
const confidenceLevel = 0.95

// BandPoint is one sampled point of the regression confidence band.
type BandPoint struct {
	X     float64 `json:"x"`
	Fit   float64 `json:"fit"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Model is a fitted simple linear regression. It retains the sample moments
// needed to compute mean-response intervals for later predictions. A fit over
// exactly two rows has no residual degrees of freedom, so its p-value,
// residual standard error, and band are omitted.
type Model struct {
	X                string      `json:"x"`
	Y                string      `json:"y"`
	Slope            float64     `json:"slope"`
	Intercept        float64     `json:"intercept"`
	RSquared         float64     `json:"r_squared"`
	PValue           *float64    `json:"p_value,omitempty"`
	ResidualStdError *float64    `json:"residual_std_error,omitempty"`
	N                int         `json:"n"`
	Band             []BandPoint `json:"band,omitempty"`
	Interpretation   string      `json:"interpretation"`

	xMean float64
	sxx   float64
}

// Prediction is a point estimate with its mean-response confidence interval.
// The interval is omitted when the model has no residual degrees of freedom.
type Prediction struct {
	X     float64  `json:"x"`
	Fit   float64  `json:"fit"`
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
}

// Fit estimates y = intercept + slope*x by ordinary least squares over the
// rows where both columns hold finite values.
func Fit(d *dataset.Dataset, x, y string) (*Model, error) {
	if x == "" || y == "" {
		return nil, errors.Validation("select both X and Y variables")
	}
	if x == y {
		return nil, errors.Validation("X and Y must be different columns")
	}
	xcol, ok := d.Column(x)
	if !ok {
		return nil, errors.Validation("column %q not found", x)
	}
	ycol, ok := d.Column(y)
	if !ok {
		return nil, errors.Validation("column %q not found", y)
	}
	if !xcol.IsNumeric() {
		return nil, errors.Validation("column %q must be numeric", x)
	}
	if !ycol.IsNumeric() {
		return nil, errors.Validation("column %q must be numeric", y)
	}

	var xs, ys []float64
	for i := range xcol.Cells {
		xv, xok := xcol.FloatAt(i)
		yv, yok := ycol.FloatAt(i)
		if !xok || !yok || math.IsInf(xv, 0) || math.IsInf(yv, 0) {
			continue
		}
		xs = append(xs, xv)
		ys = append(ys, yv)
	}
	n := len(xs)
	if n < 2 {
		return nil, errors.Validation("regression needs at least 2 rows with both %q and %q present", x, y)
	}

	xMean := stat.Mean(xs, nil)
	sxx := 0.0
	for _, v := range xs {
		sxx += (v - xMean) * (v - xMean)
	}
	if sxx == 0 {
		return nil, errors.Computation("column %q has zero variance", x)
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, intercept, slope)

	m := &Model{
		X:         x,
		Y:         y,
		Slope:     slope,
		Intercept: intercept,
		RSquared:  r2,
		N:         n,
		xMean:     xMean,
		sxx:       sxx,
	}
	if n > 2 {
		// Residual sum of squares and its standard error on n-2 degrees
		// of freedom.
		rss := 0.0
		for i := range xs {
			resid := ys[i] - (intercept + slope*xs[i])
			rss += resid * resid
		}
		s := math.Sqrt(rss / float64(n-2))
		p := fTestPValue(r2, n)
		m.ResidualStdError = &s
		m.PValue = &p
		m.Band = m.confidenceBand(minMax(xs))
	}
	m.Interpretation = m.interpret()
	return m, nil
}

// Predict evaluates the fitted line at x0 with the mean-response interval.
func (m *Model) Predict(x0 float64) (*Prediction, error) {
	if math.IsNaN(x0) || math.IsInf(x0, 0) {
		return nil, errors.Validation("prediction input must be a finite number")
	}
	fit := m.Intercept + m.Slope*x0
	pred := &Prediction{X: x0, Fit: fit}
	if m.ResidualStdError != nil {
		half := m.meanResponseHalfWidth(x0)
		lo, hi := fit-half, fit+half
		pred.Lower, pred.Upper = &lo, &hi
	}
	return pred, nil
}

// confidenceBand samples the mean-response interval at evenly spaced x
// positions across the observed range.
func (m *Model) confidenceBand(lo, hi float64) []BandPoint {
	band := make([]BandPoint, bandPoints)
	step := 0.0
	if bandPoints > 1 {
		step = (hi - lo) / float64(bandPoints-1)
	}
	for i := range band {
		x := lo + step*float64(i)
		fit := m.Intercept + m.Slope*x
		half := m.meanResponseHalfWidth(x)
		band[i] = BandPoint{X: x, Fit: fit, Lower: fit - half, Upper: fit + half}
	}
	return band
}

// meanResponseHalfWidth is t(1-alpha/2, n-2) * s * sqrt(1/n + (x-x̄)²/Sxx).
// Callers must only reach this when the model carries a residual std error.
func (m *Model) meanResponseHalfWidth(x float64) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(m.N - 2)}
	t := dist.Quantile(1 - (1-confidenceLevel)/2)
	se := *m.ResidualStdError * math.Sqrt(1/float64(m.N)+(x-m.xMean)*(x-m.xMean)/m.sxx)
	return t * se
}

// fTestPValue is the overall F test of the fit. For simple regression the F
// statistic is R²(n-2)/(1-R²) on (1, n-2) degrees of freedom.
func fTestPValue(r2 float64, n int) float64 {
	if r2 >= 1 {
		return 0
	}
	f := r2 * float64(n-2) / (1 - r2)
	dist := distuv.F{D1: 1, D2: float64(n - 2)}
	return dist.Survival(f)
}

func (m *Model) interpret() string {
	direction := "increases"
	if m.Slope < 0 {
		direction = "decreases"
	}
	if m.PValue == nil {
		return fmt.Sprintf("%s %s by %.4f per unit of %s; two points fit exactly, too few rows for inference",
			m.Y, direction, math.Abs(m.Slope), m.X)
	}
	significance := "not significant"
	if *m.PValue < 0.05 {
		significance = "significant"
	}
	return fmt.Sprintf("%s %s by %.4f per unit of %s; the fit explains %.1f%% of the variance (%s at α=0.05)",
		m.Y, direction, math.Abs(m.Slope), m.X, m.RSquared*100, significance)
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
