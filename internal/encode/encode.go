// Package encode converts categorical columns into numeric representations:
// label, one-hot, or caller-ordered ordinal codes. Encoding never deletes
// the source column; it appends derived columns.
package encode

import (
	"fmt"
	"sort"
	"strings"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// Method selects the encoding scheme.
type Method string

const (
	MethodLabel   Method = "label"
	MethodOneHot  Method = "onehot"
	MethodOrdinal Method = "ordinal"
)

// MappingEntry pairs a source value (canonical string form) with its code.
type MappingEntry struct {
	Value string `json:"value"`
	Code  int    `json:"code"`
}

// Result describes one encoding operation: the appended columns and, for
// label/ordinal, the value-to-code mapping.
type Result struct {
	SourceColumn string         `json:"source_column"`
	Method       Method         `json:"method"`
	Mapping      []MappingEntry `json:"mapping,omitempty"`
	NewColumns   []string       `json:"new_columns"`
}

// Encode applies the selected encoding to one column and returns the new
// dataset plus the encoding result. ordinalOrder is required semantics only
// for MethodOrdinal: when given it must be a complete permutation of the
// column's distinct non-null values; when empty the ascending sort of the
// raw values is used.
func Encode(d *dataset.Dataset, column string, method Method, ordinalOrder []string) (*dataset.Dataset, *Result, error) {
	col, ok := d.Column(column)
	if !ok {
		return nil, nil, errors.Validation("column %q not found", column)
	}

	switch method {
	case MethodLabel:
		return encodeLabel(d, col)
	case MethodOneHot:
		return encodeOneHot(d, col)
	case MethodOrdinal:
		return encodeOrdinal(d, col, ordinalOrder)
	}
	return nil, nil, errors.Validation("unknown encoding method %q", method)
}

// EncodedView reduces a dataset to the source column plus its derived
// columns. This is a display mode, not a second transformation.
func EncodedView(d *dataset.Dataset, result *Result) (*dataset.Dataset, error) {
	names := append([]string{result.SourceColumn}, result.NewColumns...)
	view, err := d.Select(names...)
	if err != nil {
		return nil, errors.Validation("encoded view: %v", err)
	}
	return view, nil
}

func encodeLabel(d *dataset.Dataset, col *dataset.Column) (*dataset.Dataset, *Result, error) {
	distinct, _ := col.DistinctNonNull()
	if len(distinct) == 0 {
		return nil, nil, errors.Validation("column %q has no values to encode", col.Name)
	}

	// Class order is the ascending sort of the distinct values, so codes
	// are stable across runs. The mapping is always reported.
	codes := make(map[any]int, len(distinct))
	mapping := make([]MappingEntry, len(distinct))
	for i, v := range distinct {
		codes[v] = i
		mapping[i] = MappingEntry{Value: dataset.FormatCell(v), Code: i}
	}

	name := col.Name + "_encoded"
	out := d.Clone()
	cells := make([]any, len(col.Cells))
	for i, v := range col.Cells {
		if v == nil {
			continue
		}
		cells[i] = float64(codes[v])
	}
	if err := out.AppendColumn(dataset.Column{Name: name, Cells: cells}); err != nil {
		return nil, nil, errors.Validation("%v", err)
	}
	return out, &Result{
		SourceColumn: col.Name,
		Method:       MethodLabel,
		Mapping:      mapping,
		NewColumns:   []string{name},
	}, nil
}

func encodeOneHot(d *dataset.Dataset, col *dataset.Column) (*dataset.Dataset, *Result, error) {
	distinct, _ := col.DistinctNonNull()
	if len(distinct) == 0 {
		return nil, nil, errors.Validation("column %q has no values to encode", col.Name)
	}

	out := d.Clone()
	newColumns := make([]string, 0, len(distinct))
	for _, v := range distinct {
		name := fmt.Sprintf("%s_%s", col.Name, dataset.FormatCell(v))
		cells := make([]any, len(col.Cells))
		for i, c := range col.Cells {
			// Missing source rows are 0 in every indicator.
			if c != nil && c == v {
				cells[i] = 1.0
			} else {
				cells[i] = 0.0
			}
		}
		if err := out.AppendColumn(dataset.Column{Name: name, Cells: cells}); err != nil {
			return nil, nil, errors.Validation("%v", err)
		}
		newColumns = append(newColumns, name)
	}
	return out, &Result{
		SourceColumn: col.Name,
		Method:       MethodOneHot,
		NewColumns:   newColumns,
	}, nil
}

func encodeOrdinal(d *dataset.Dataset, col *dataset.Column, order []string) (*dataset.Dataset, *Result, error) {
	distinct, _ := col.DistinctNonNull()
	if len(distinct) == 0 {
		return nil, nil, errors.Validation("column %q has no values to encode", col.Name)
	}

	byForm := make(map[string]any, len(distinct))
	for _, v := range distinct {
		byForm[dataset.FormatCell(v)] = v
	}

	if len(order) == 0 {
		// Ascending sort of the raw values.
		order = make([]string, len(distinct))
		for i, v := range distinct {
			order[i] = dataset.FormatCell(v)
		}
	} else if err := validateOrder(order, byForm); err != nil {
		return nil, nil, err
	}

	codes := make(map[any]int, len(order))
	mapping := make([]MappingEntry, len(order))
	for i, form := range order {
		codes[byForm[form]] = i
		mapping[i] = MappingEntry{Value: form, Code: i}
	}

	name := col.Name + "_ordinal"
	out := d.Clone()
	cells := make([]any, len(col.Cells))
	for i, v := range col.Cells {
		if v == nil {
			continue
		}
		cells[i] = float64(codes[v])
	}
	if err := out.AppendColumn(dataset.Column{Name: name, Cells: cells}); err != nil {
		return nil, nil, errors.Validation("%v", err)
	}
	return out, &Result{
		SourceColumn: col.Name,
		Method:       MethodOrdinal,
		Mapping:      mapping,
		NewColumns:   []string{name},
	}, nil
}

// validateOrder requires the caller-supplied order to be a complete
// permutation of the distinct values: no omissions, no unknowns, no repeats.
func validateOrder(order []string, byForm map[string]any) error {
	seen := make(map[string]bool, len(order))
	var unknown []string
	for _, form := range order {
		if seen[form] {
			return errors.Validation("ordinal order repeats value %q", form)
		}
		seen[form] = true
		if _, ok := byForm[form]; !ok {
			unknown = append(unknown, form)
		}
	}
	var missing []string
	for form := range byForm {
		if !seen[form] {
			missing = append(missing, form)
		}
	}
	sort.Strings(missing)
	if len(unknown) > 0 || len(missing) > 0 {
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, fmt.Sprintf("missing values: %s", strings.Join(missing, ", ")))
		}
		if len(unknown) > 0 {
			parts = append(parts, fmt.Sprintf("unknown values: %s", strings.Join(unknown, ", ")))
		}
		return errors.Validation("ordinal order must cover every distinct value exactly once (%s)", strings.Join(parts, "; "))
	}
	return nil
}
