package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"datalens/internal/dataset"
	"datalens/internal/infer"
)

// NumericSummary holds descriptive statistics for a numeric column.
type NumericSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// ColumnSummary describes one column of the dataset.
type ColumnSummary struct {
	Name         string          `json:"name"`
	DetectedType string          `json:"detected_type"`
	Missing      int             `json:"missing"`
	MissingPct   float64         `json:"missing_pct"`
	Distinct     int             `json:"distinct"`
	Numeric      *NumericSummary `json:"numeric,omitempty"`
}

// Summary is the dataset-level descriptive overview.
type Summary struct {
	Rows         int             `json:"rows"`
	Cols         int             `json:"cols"`
	MissingCells int             `json:"missing_cells"`
	MissingPct   float64         `json:"missing_pct"`
	Columns      []ColumnSummary `json:"columns"`
}

// Summarize computes the descriptive overview of a dataset: shape, missing
// values, and per-column statistics.
func Summarize(d *dataset.Dataset) *Summary {
	rows, cols := d.NumRows(), d.NumCols()
	s := &Summary{Rows: rows, Cols: cols, Columns: make([]ColumnSummary, 0, cols)}

	for i := range d.Columns {
		c := &d.Columns[i]
		missing := c.MissingCount()
		s.MissingCells += missing

		distinct, _ := c.DistinctNonNull()
		cs := ColumnSummary{
			Name:         c.Name,
			DetectedType: infer.DetectType(c),
			Missing:      missing,
			Distinct:     len(distinct),
		}
		if rows > 0 {
			cs.MissingPct = round2(float64(missing) / float64(rows) * 100)
		}
		if c.IsNumeric() {
			values, _ := c.Floats()
			if len(values) > 0 {
				cs.Numeric = describe(values)
			}
		}
		s.Columns = append(s.Columns, cs)
	}

	if rows*cols > 0 {
		s.MissingPct = round2(float64(s.MissingCells) / float64(rows*cols) * 100)
	}
	return s
}

func describe(values []float64) *NumericSummary {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	std := 0.0
	if len(values) > 1 {
		std = stat.StdDev(values, nil)
	}
	return &NumericSummary{
		Count:  len(values),
		Mean:   stat.Mean(values, nil),
		Std:    std,
		Min:    sorted[0],
		Q1:     percentile(sorted, 0.25),
		Median: percentile(sorted, 0.5),
		Q3:     percentile(sorted, 0.75),
		Max:    sorted[len(sorted)-1],
	}
}

// percentile interpolates linearly at p*(n-1) over an already sorted sample.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
