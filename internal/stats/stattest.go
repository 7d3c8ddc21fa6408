// Package stats implements the hypothesis-test engine (chi-squared, Pearson,
// Spearman) and descriptive dataset summaries.
package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// TestType selects the statistical test.
type TestType string

const (
	TestChiSquared TestType = "chi2"
	TestPearson    TestType = "pearson"
	TestSpearman   TestType = "spearman"
)

// significanceLevel is the alpha at which results are declared significant.
const significanceLevel = 0.05

// FitLine is the least-squares companion line for a correlation scatter.
type FitLine struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// TestResult is the payload of one statistical test.
type TestResult struct {
	TestType         TestType         `json:"test_type"`
	X                string           `json:"x"`
	Y                string           `json:"y"`
	Statistic        float64          `json:"statistic"`
	PValue           float64          `json:"p_value"`
	DegreesOfFreedom int              `json:"degrees_of_freedom,omitempty"`
	ValidPoints      int              `json:"valid_points,omitempty"`
	Interpretation   string           `json:"interpretation"`
	FitLine          *FitLine         `json:"fit_line,omitempty"`
	Table            *dataset.Dataset `json:"-"`
}

// RunTest executes the selected test over two columns of the dataset.
// Failures are structured engine errors, never panics.
func RunTest(d *dataset.Dataset, testType TestType, x, y string) (*TestResult, error) {
	if x == "" {
		return nil, errors.Validation("select an X variable")
	}
	if y == "" {
		return nil, errors.Validation("select a Y variable for the %s test", testType)
	}
	xcol, ok := d.Column(x)
	if !ok {
		return nil, errors.Validation("column %q not found", x)
	}
	ycol, ok := d.Column(y)
	if !ok {
		return nil, errors.Validation("column %q not found", y)
	}

	switch testType {
	case TestChiSquared:
		return chiSquared(xcol, ycol)
	case TestPearson, TestSpearman:
		return correlation(testType, xcol, ycol)
	}
	return nil, errors.Validation("unknown test type %q", testType)
}

// chiSquared cross-tabulates two columns, computes the chi-squared statistic
// with its p-value, and returns the observed and expected tables concatenated
// under a Type discriminator column.
func chiSquared(xcol, ycol *dataset.Column) (*TestResult, error) {
	xvals, _ := xcol.DistinctNonNull()
	yvals, _ := ycol.DistinctNonNull()
	if len(xvals) == 0 || len(yvals) == 0 {
		return nil, errors.Validation("chi-squared requires non-empty categorical columns")
	}

	xIdx := make(map[any]int, len(xvals))
	for i, v := range xvals {
		xIdx[v] = i
	}
	yIdx := make(map[any]int, len(yvals))
	for i, v := range yvals {
		yIdx[v] = i
	}

	observed := make([][]float64, len(xvals))
	for i := range observed {
		observed[i] = make([]float64, len(yvals))
	}
	total := 0.0
	for r := range xcol.Cells {
		xv, yv := xcol.Cells[r], ycol.Cells[r]
		if xv == nil || yv == nil {
			continue
		}
		observed[xIdx[xv]][yIdx[yv]]++
		total++
	}
	if total == 0 {
		return nil, errors.Validation("no rows with both %q and %q present", xcol.Name, ycol.Name)
	}

	rowTotals := make([]float64, len(xvals))
	colTotals := make([]float64, len(yvals))
	for i := range observed {
		for j := range observed[i] {
			rowTotals[i] += observed[i][j]
			colTotals[j] += observed[i][j]
		}
	}

	dof := (len(xvals) - 1) * (len(yvals) - 1)
	if dof < 1 {
		return nil, errors.Validation("contingency table needs at least two categories per variable")
	}

	expected := make([][]float64, len(xvals))
	statistic := 0.0
	for i := range observed {
		expected[i] = make([]float64, len(yvals))
		for j := range observed[i] {
			e := rowTotals[i] * colTotals[j] / total
			expected[i][j] = e
			if e == 0 {
				return nil, errors.Computation("expected frequency of zero in cell (%s, %s)",
					dataset.FormatCell(xvals[i]), dataset.FormatCell(yvals[j]))
			}
			diff := math.Abs(observed[i][j] - e)
			if dof == 1 {
				// Yates continuity correction for 2x2 tables.
				diff -= 0.5
				if diff < 0 {
					diff = 0
				}
			}
			statistic += diff * diff / e
		}
	}

	p := distuv.ChiSquared{K: float64(dof)}.Survival(statistic)
	significance := "not significant"
	if p < significanceLevel {
		significance = "significant"
	}

	return &TestResult{
		TestType:         TestChiSquared,
		X:                xcol.Name,
		Y:                ycol.Name,
		Statistic:        statistic,
		PValue:           p,
		DegreesOfFreedom: dof,
		Interpretation: fmt.Sprintf("association between %s and %s is %s at α=%.2f",
			xcol.Name, ycol.Name, significance, significanceLevel),
		Table: contingencyTable(xcol.Name, xvals, yvals, observed, expected),
	}, nil
}

// contingencyTable concatenates observed and expected counts, discriminated
// by a Type column.
func contingencyTable(xName string, xvals, yvals []any, observed, expected [][]float64) *dataset.Dataset {
	n := 2 * len(xvals)
	columns := make([]dataset.Column, 0, len(yvals)+2)

	labels := make([]any, 0, n)
	types := make([]any, 0, n)
	for _, block := range []string{"Observed", "Expected"} {
		for _, v := range xvals {
			labels = append(labels, dataset.FormatCell(v))
			types = append(types, block)
		}
	}
	columns = append(columns, dataset.Column{Name: xName, Cells: labels})

	for j, yv := range yvals {
		cells := make([]any, 0, n)
		for i := range xvals {
			cells = append(cells, observed[i][j])
		}
		for i := range xvals {
			cells = append(cells, expected[i][j])
		}
		columns = append(columns, dataset.Column{Name: dataset.FormatCell(yv), Cells: cells})
	}
	columns = append(columns, dataset.Column{Name: "Type", Cells: types})

	table, _ := dataset.New(columns...)
	return table
}

// correlation computes Pearson or Spearman correlation with a two-sided
// t-approximated p-value and, for Pearson, the least-squares companion line.
func correlation(testType TestType, xcol, ycol *dataset.Column) (*TestResult, error) {
	if !xcol.IsNumeric() {
		return nil, errors.Validation("column %q must be numeric for the %s test", xcol.Name, testType)
	}
	if !ycol.IsNumeric() {
		return nil, errors.Validation("column %q must be numeric for the %s test", ycol.Name, testType)
	}

	// Paired values where both sides are present and finite.
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
		return nil, errors.Validation("not enough valid data points for %s correlation", testType)
	}

	var r float64
	if testType == TestSpearman {
		r = stat.Correlation(ranks(xs), ranks(ys), nil)
	} else {
		r = stat.Correlation(xs, ys, nil)
	}
	if math.IsNaN(r) {
		return nil, errors.Computation("correlation undefined: a variable has zero variance")
	}

	result := &TestResult{
		TestType:       testType,
		X:              xcol.Name,
		Y:              ycol.Name,
		Statistic:      r,
		PValue:         correlationPValue(r, n),
		ValidPoints:    n,
		Interpretation: interpretCorrelation(testType, r, correlationPValue(r, n)),
	}
	if testType == TestPearson {
		intercept, slope := stat.LinearRegression(xs, ys, nil, false)
		result.FitLine = &FitLine{Slope: slope, Intercept: intercept}
	}
	return result, nil
}

// correlationPValue is the two-sided p-value from the t approximation with
// n-2 degrees of freedom. |r|=1 is exact, p=0.
func correlationPValue(r float64, n int) float64 {
	if n <= 2 {
		return 1
	}
	denom := 1 - r*r
	if denom <= 0 {
		return 0
	}
	t := math.Abs(r) * math.Sqrt(float64(n-2)/denom)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * dist.Survival(t)
}

// interpretCorrelation bands strength as weak (<0.3), moderate (<0.7),
// strong (>=0.7); direction by sign; significance at p<0.05.
func interpretCorrelation(testType TestType, r, p float64) string {
	strength := "strong"
	switch abs := math.Abs(r); {
	case abs < 0.3:
		strength = "weak"
	case abs < 0.7:
		strength = "moderate"
	}
	direction := "positive"
	if r < 0 {
		direction = "negative"
	}
	significance := "not significant"
	if p < significanceLevel {
		significance = "significant"
	}
	noun := "correlation"
	if testType == TestSpearman {
		noun = "monotonic relationship"
	}
	return fmt.Sprintf("%s %s %s (%s at α=%.2f)", strength, direction, noun, significance, significanceLevel)
}

// ranks assigns average ranks (1-based) with ties sharing their mean rank.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Average rank across the tie run [i, j].
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}
