package clean

import (
	"gonum.org/v1/gonum/stat"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// ImputeMethod selects the fill strategy.
type ImputeMethod string

const (
	ImputeMean   ImputeMethod = "mean"
	ImputeMedian ImputeMethod = "median"
	ImputeMode   ImputeMethod = "mode"
	ImputeKNN    ImputeMethod = "knn"
)

// ImputeResult summarizes what an imputation pass changed.
type ImputeResult struct {
	Filled  map[string]int `json:"filled"`
	Skipped []string       `json:"skipped,omitempty"`
}

// Impute fills missing values in the selected columns and returns a new
// dataset. Fully populated columns are untouched. Numeric-only methods skip
// non-numeric columns rather than failing; mode works on any column type.
// Only missing cells are ever written.
func Impute(d *dataset.Dataset, columns []string, method ImputeMethod) (*dataset.Dataset, *ImputeResult, error) {
	if len(columns) == 0 {
		return nil, nil, errors.Validation("select at least one column to impute")
	}
	switch method {
	case ImputeMean, ImputeMedian, ImputeMode, ImputeKNN:
	default:
		return nil, nil, errors.Validation("unknown imputation method %q", method)
	}

	out := d.Clone()
	result := &ImputeResult{Filled: make(map[string]int)}

	for _, name := range columns {
		col, ok := out.Column(name)
		if !ok {
			return nil, nil, errors.Validation("column %q not found", name)
		}
		missing := col.MissingCount()
		if missing == 0 {
			continue
		}

		var fill any
		switch method {
		case ImputeMean, ImputeMedian, ImputeKNN:
			if !col.IsNumeric() {
				result.Skipped = append(result.Skipped, name)
				continue
			}
			values, _ := col.Floats()
			switch method {
			case ImputeMedian:
				fill = round3(median(values))
			default:
				// KNN is fit on this single column; with the target
				// coordinate missing every donor is equidistant, which
				// reduces the estimate to the fit data's mean.
				fill = round3(stat.Mean(values, nil))
			}
		case ImputeMode:
			mode, ok := columnMode(col)
			if !ok {
				// No non-null values, so no mode exists.
				result.Skipped = append(result.Skipped, name)
				continue
			}
			fill = mode
		}

		for i, v := range col.Cells {
			if v == nil {
				col.Cells[i] = fill
			}
		}
		result.Filled[name] = missing
	}
	return out, result, nil
}

// columnMode returns the most frequent non-null value; ties resolve to the
// smallest value in canonical order.
func columnMode(c *dataset.Column) (any, bool) {
	values, counts := c.DistinctNonNull()
	if len(values) == 0 {
		return nil, false
	}
	best := values[0]
	for _, v := range values[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best, true
}
