package clean

import (
	"fmt"
	"strings"

	"datalens/internal/dataset"
)

// DuplicatePreviewLimit bounds how many duplicate rows a report carries for
// display.
const DuplicatePreviewLimit = 10

// DuplicateReport describes rows that have at least one identical other row.
type DuplicateReport struct {
	Count       int              `json:"count"`
	Rows        []int            `json:"rows"`
	Preview     *dataset.Dataset `json:"-"`
	Fingerprint string           `json:"fingerprint"`
}

// rowKey builds a collision-safe identity for a row: every cell is tagged
// with its dynamic type so the string "1" and the number 1 stay distinct.
func rowKey(d *dataset.Dataset, row int) string {
	var b strings.Builder
	for _, c := range d.Columns {
		v := c.Cells[row]
		fmt.Fprintf(&b, "%T=%s\x1f", v, dataset.FormatCell(v))
	}
	return b.String()
}

// FindDuplicates returns every row whose full cell tuple appears more than
// once, first occurrences included, with a bounded preview.
func FindDuplicates(d *dataset.Dataset) *DuplicateReport {
	n := d.NumRows()
	seen := make(map[string][]int, n)
	for r := 0; r < n; r++ {
		k := rowKey(d, r)
		seen[k] = append(seen[k], r)
	}

	dup := make(map[int]bool)
	for _, rows := range seen {
		if len(rows) > 1 {
			for _, r := range rows {
				dup[r] = true
			}
		}
	}

	rows := make([]int, 0, len(dup))
	for r := 0; r < n; r++ {
		if dup[r] {
			rows = append(rows, r)
		}
	}

	previewRows := rows
	if len(previewRows) > DuplicatePreviewLimit {
		previewRows = previewRows[:DuplicatePreviewLimit]
	}
	inPreview := make(map[int]bool, len(previewRows))
	for _, r := range previewRows {
		inPreview[r] = true
	}
	dropForPreview := make(map[int]bool, n)
	for r := 0; r < n; r++ {
		dropForPreview[r] = !inPreview[r]
	}

	return &DuplicateReport{
		Count:       len(rows),
		Rows:        rows,
		Preview:     d.DropRows(dropForPreview),
		Fingerprint: d.Fingerprint(),
	}
}

// RemoveDuplicates drops all but the first occurrence of each identical row,
// preserving the original order of the kept rows. Returns the new dataset
// and the number of rows removed.
func RemoveDuplicates(d *dataset.Dataset) (*dataset.Dataset, int) {
	n := d.NumRows()
	seen := make(map[string]bool, n)
	drop := make(map[int]bool)
	removed := 0
	for r := 0; r < n; r++ {
		k := rowKey(d, r)
		if seen[k] {
			drop[r] = true
			removed++
			continue
		}
		seen[k] = true
	}
	return d.DropRows(drop), removed
}
