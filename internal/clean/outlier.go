// Package clean holds the dataset-cleaning engines: outlier detection and
// handling, missing-value imputation, and duplicate removal. Every engine is
// a pure function over its input dataset.
package clean

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// OutlierMethod selects the detection statistic.
type OutlierMethod string

const (
	MethodIQR    OutlierMethod = "iqr"
	MethodZScore OutlierMethod = "zscore"
)

// Default thresholds per method.
const (
	DefaultIQRThreshold    = 1.5
	DefaultZScoreThreshold = 3.0
)

// ColumnOutliers describes the flagged rows of a single column.
type ColumnOutliers struct {
	Rows   []int           `json:"rows"`
	Values map[int]float64 `json:"values"`
}

// OutlierReport maps columns to their flagged rows. Row indices are valid
// only against the dataset snapshot identified by Fingerprint; Handle
// rejects a stale report.
type OutlierReport struct {
	Method      OutlierMethod             `json:"method"`
	Threshold   float64                   `json:"threshold"`
	Columns     map[string]ColumnOutliers `json:"columns"`
	RowUnion    []int                     `json:"row_union"`
	Fingerprint string                    `json:"fingerprint"`
}

// TotalRows returns the number of distinct flagged rows.
func (r *OutlierReport) TotalRows() int { return len(r.RowUnion) }

// DetectOutliers flags outlier rows per selected column. Non-numeric columns
// and columns with at most one non-null value are skipped, not errors.
// threshold <= 0 selects the method default.
func DetectOutliers(d *dataset.Dataset, columns []string, method OutlierMethod, threshold float64) (*OutlierReport, error) {
	if len(columns) == 0 {
		return nil, errors.Validation("select at least one column for outlier detection")
	}
	switch method {
	case MethodIQR, MethodZScore:
	default:
		return nil, errors.Validation("unknown outlier method %q", method)
	}
	if threshold <= 0 {
		if method == MethodIQR {
			threshold = DefaultIQRThreshold
		} else {
			threshold = DefaultZScoreThreshold
		}
	}

	report := &OutlierReport{
		Method:      method,
		Threshold:   threshold,
		Columns:     make(map[string]ColumnOutliers),
		Fingerprint: d.Fingerprint(),
	}
	union := make(map[int]bool)

	for _, name := range columns {
		col, ok := d.Column(name)
		if !ok {
			return nil, errors.Validation("column %q not found", name)
		}
		if !col.IsNumeric() {
			continue
		}
		values, rows := col.Floats()
		if len(values) <= 1 {
			continue
		}

		var flagged []int
		switch method {
		case MethodIQR:
			q1 := quantile(values, 0.25)
			q3 := quantile(values, 0.75)
			iqr := q3 - q1
			lower := q1 - threshold*iqr
			upper := q3 + threshold*iqr
			for i, v := range values {
				if v < lower || v > upper {
					flagged = append(flagged, rows[i])
				}
			}
		case MethodZScore:
			mean := stat.Mean(values, nil)
			std := stat.StdDev(values, nil)
			if std == 0 {
				break
			}
			for i, v := range values {
				z := (v - mean) / std
				if z < 0 {
					z = -z
				}
				if z > threshold {
					flagged = append(flagged, rows[i])
				}
			}
		}
		if len(flagged) == 0 {
			continue
		}

		detail := ColumnOutliers{Rows: flagged, Values: make(map[int]float64, len(flagged))}
		for _, r := range flagged {
			v, _ := col.FloatAt(r)
			detail.Values[r] = v
			union[r] = true
		}
		report.Columns[name] = detail
	}

	report.RowUnion = make([]int, 0, len(union))
	for r := range union {
		report.RowUnion = append(report.RowUnion, r)
	}
	sort.Ints(report.RowUnion)
	return report, nil
}

// OutlierPolicy selects how flagged rows are handled.
type OutlierPolicy string

const (
	PolicyRemove        OutlierPolicy = "remove"
	PolicyReplaceMedian OutlierPolicy = "replace_with_median"
	PolicyReplaceMean   OutlierPolicy = "replace_with_mean"
)

// HandleOutliers applies a handling policy and returns the new dataset plus
// any degraded-result notices. A detection pass that flagged nothing makes
// handling a no-op success, not an error. A report computed against a
// different dataset snapshot is rejected: structural changes invalidate row
// indices.
func HandleOutliers(d *dataset.Dataset, report *OutlierReport, policy OutlierPolicy) (*dataset.Dataset, []*errors.Error, error) {
	if report == nil {
		return nil, nil, errors.Validation("no active outlier report; run detection first")
	}
	if report.Fingerprint != d.Fingerprint() {
		return nil, nil, errors.Validation("outlier report is stale: the dataset changed since detection; re-run detection")
	}
	switch policy {
	case PolicyRemove, PolicyReplaceMedian, PolicyReplaceMean:
	default:
		return nil, nil, errors.Validation("unknown outlier policy %q", policy)
	}
	if len(report.Columns) == 0 {
		return d.Clone(), []*errors.Error{errors.Degraded("detection flagged no outliers; dataset unchanged")}, nil
	}

	var out *dataset.Dataset
	switch policy {
	case PolicyRemove:
		drop := make(map[int]bool, len(report.RowUnion))
		for _, r := range report.RowUnion {
			drop[r] = true
		}
		out = d.DropRows(drop)

	case PolicyReplaceMedian, PolicyReplaceMean:
		out = d.Clone()
		for name, detail := range report.Columns {
			col, ok := out.Column(name)
			if !ok {
				continue
			}
			// Replacement is computed over the full column, other
			// outliers included, and applied per-column: only this
			// column's flagged cells change.
			values, _ := col.Floats()
			if len(values) == 0 {
				continue
			}
			var replacement float64
			if policy == PolicyReplaceMedian {
				replacement = median(values)
			} else {
				replacement = stat.Mean(values, nil)
			}
			for _, r := range detail.Rows {
				col.Cells[r] = replacement
			}
		}
	}

	var degraded []*errors.Error
	if out.NumRows() == 0 {
		degraded = append(degraded, errors.Degraded("dataset is empty after handling outliers"))
	}
	return out, degraded, nil
}
