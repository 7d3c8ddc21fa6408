// Package dataset defines the in-memory tabular model shared by every engine.
//
// A Dataset is an ordered sequence of named columns of equal length. Cells are
// scalars: float64, string, bool, time.Time, or nil for missing. Engines treat
// their input Dataset as read-only and return new Datasets; Clone provides the
// deep copy the session layer relies on for undo-safe snapshots.
package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind labels the uniform native type of a column's non-null cells.
type Kind string

const (
	KindNumeric  Kind = "numeric"
	KindBoolean  Kind = "boolean"
	KindDatetime Kind = "datetime"
	KindString   Kind = "string"
	KindMixed    Kind = "mixed"
	KindEmpty    Kind = "empty"
)

// Column is a named sequence of cells. A nil cell is a missing value.
type Column struct {
	Name  string
	Cells []any
}

// Dataset is an ordered collection of equal-length columns.
type Dataset struct {
	Columns []Column
}

// New builds a dataset from columns, enforcing equal lengths and unique names.
func New(columns ...Column) (*Dataset, error) {
	seen := make(map[string]bool, len(columns))
	rows := -1
	for _, c := range columns {
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if rows == -1 {
			rows = len(c.Cells)
		} else if len(c.Cells) != rows {
			return nil, fmt.Errorf("column %q has %d cells, want %d", c.Name, len(c.Cells), rows)
		}
	}
	return &Dataset{Columns: columns}, nil
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int {
	if len(d.Columns) == 0 {
		return 0
	}
	return len(d.Columns[0].Cells)
}

// NumCols returns the column count.
func (d *Dataset) NumCols() int { return len(d.Columns) }

// IsEmpty reports whether the dataset has no rows or no columns.
func (d *Dataset) IsEmpty() bool { return d.NumRows() == 0 || d.NumCols() == 0 }

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns a pointer to the named column.
func (d *Dataset) Column(name string) (*Column, bool) {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i], true
		}
	}
	return nil, false
}

// HasColumn reports whether the named column exists.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.Column(name)
	return ok
}

// Row returns the cells of row i in column order.
func (d *Dataset) Row(i int) []any {
	row := make([]any, len(d.Columns))
	for j := range d.Columns {
		row[j] = d.Columns[j].Cells[i]
	}
	return row
}

// Clone returns a deep copy. Cells are immutable scalars, so copying the
// cell slices is sufficient.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{Columns: make([]Column, len(d.Columns))}
	for i, c := range d.Columns {
		cells := make([]any, len(c.Cells))
		copy(cells, c.Cells)
		out.Columns[i] = Column{Name: c.Name, Cells: cells}
	}
	return out
}

// DropRows returns a copy without the rows whose indices appear in drop,
// preserving the order of the remaining rows.
func (d *Dataset) DropRows(drop map[int]bool) *Dataset {
	out := &Dataset{Columns: make([]Column, len(d.Columns))}
	n := d.NumRows()
	for i, c := range d.Columns {
		cells := make([]any, 0, n)
		for r := 0; r < n; r++ {
			if !drop[r] {
				cells = append(cells, c.Cells[r])
			}
		}
		out.Columns[i] = Column{Name: c.Name, Cells: cells}
	}
	return out
}

// AppendColumn adds a derived column. The name must be new and the length
// must match the current row count.
func (d *Dataset) AppendColumn(c Column) error {
	if d.HasColumn(c.Name) {
		return fmt.Errorf("column %q already exists", c.Name)
	}
	if len(d.Columns) > 0 && len(c.Cells) != d.NumRows() {
		return fmt.Errorf("column %q has %d cells, want %d", c.Name, len(c.Cells), d.NumRows())
	}
	d.Columns = append(d.Columns, c)
	return nil
}

// Select returns a copy containing only the named columns, in the given order.
func (d *Dataset) Select(names ...string) (*Dataset, error) {
	out := &Dataset{Columns: make([]Column, 0, len(names))}
	for _, name := range names {
		c, ok := d.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		cells := make([]any, len(c.Cells))
		copy(cells, c.Cells)
		out.Columns = append(out.Columns, Column{Name: name, Cells: cells})
	}
	return out, nil
}

// Fingerprint returns a content hash of the dataset. Reports carrying row
// indices are stamped with it so a structurally changed dataset invalidates
// them.
func (d *Dataset) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(d.NumRows()))
	h.Write(buf[:])
	for _, c := range d.Columns {
		h.Write([]byte(c.Name))
		h.Write([]byte{0})
		for _, cell := range c.Cells {
			h.Write([]byte(FormatCell(cell)))
			h.Write([]byte{1})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NonNull returns the column's non-null cells in row order.
func (c *Column) NonNull() []any {
	out := make([]any, 0, len(c.Cells))
	for _, v := range c.Cells {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// MissingCount returns the number of nil cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, v := range c.Cells {
		if v == nil {
			n++
		}
	}
	return n
}

// Kind returns the uniform native type of the non-null cells.
func (c *Column) Kind() Kind {
	kind := KindEmpty
	for _, v := range c.Cells {
		var k Kind
		switch v.(type) {
		case nil:
			continue
		case float64:
			k = KindNumeric
		case bool:
			k = KindBoolean
		case time.Time:
			k = KindDatetime
		case string:
			k = KindString
		default:
			k = KindMixed
		}
		if kind == KindEmpty {
			kind = k
		} else if kind != k {
			return KindMixed
		}
	}
	return kind
}

// IsNumeric reports whether the column holds at least one non-null cell and
// every non-null cell is a float64.
func (c *Column) IsNumeric() bool { return c.Kind() == KindNumeric }

// Floats returns the non-null numeric values in row order together with
// their row indices. Non-numeric cells are skipped.
func (c *Column) Floats() (values []float64, rows []int) {
	for i, v := range c.Cells {
		if f, ok := v.(float64); ok && !math.IsNaN(f) {
			values = append(values, f)
			rows = append(rows, i)
		}
	}
	return values, rows
}

// FloatAt returns the numeric value of row i, if present and numeric.
func (c *Column) FloatAt(i int) (float64, bool) {
	f, ok := c.Cells[i].(float64)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// DistinctNonNull returns the distinct non-null cells sorted by their
// canonical string form, together with per-value counts.
func (c *Column) DistinctNonNull() (values []any, counts map[any]int) {
	counts = make(map[any]int)
	for _, v := range c.Cells {
		if v == nil {
			continue
		}
		if counts[v] == 0 {
			values = append(values, v)
		}
		counts[v]++
	}
	sort.Slice(values, func(i, j int) bool {
		return CompareCells(values[i], values[j]) < 0
	})
	return values, counts
}

// CompareCells orders two non-null cells: numerically when both are numbers,
// otherwise by canonical string form.
func CompareCells(a, b any) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := FormatCell(a), FormatCell(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// FormatCell renders a cell in its canonical string form. Missing cells
// render as the empty string.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
