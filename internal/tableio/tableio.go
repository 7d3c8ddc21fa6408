// Package tableio converts between raw file bytes and the in-memory Dataset.
//
// Supported formats: csv, xlsx, json (array-of-records). Parsing infers cell
// types per value: numeric, boolean literal, otherwise string; recognized
// missing-value tokens become nil cells.
package tableio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// Format identifies a table file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", errors.Validation("unsupported format %q", s)
}

// missingTokens are raw values treated as missing on parse.
var missingTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true,
}

// Parse converts raw bytes into a Dataset. hasHeader applies to csv and xlsx;
// without a header, columns are named column_1..column_n.
func Parse(data []byte, format Format, hasHeader bool) (*dataset.Dataset, error) {
	switch format {
	case FormatCSV:
		return parseCSV(data, hasHeader)
	case FormatXLSX:
		return parseXLSX(data, hasHeader)
	case FormatJSON:
		return parseJSON(data)
	}
	return nil, errors.Validation("unsupported format %q", format)
}

// Serialize converts a Dataset back to bytes in the given format.
func Serialize(d *dataset.Dataset, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return writeCSV(d)
	case FormatXLSX:
		return writeXLSX(d)
	case FormatJSON:
		return writeJSON(d)
	}
	return nil, errors.Validation("unsupported format %q", format)
}

// Cell parses a single raw string value into a typed cell.
func Cell(raw string) any {
	s := strings.TrimSpace(raw)
	if missingTokens[strings.ToLower(s)] {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func fromRows(rows [][]string, hasHeader bool) (*dataset.Dataset, error) {
	if len(rows) == 0 {
		return dataset.New()
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	var names []string
	start := 0
	if hasHeader {
		for i := 0; i < width; i++ {
			name := ""
			if i < len(rows[0]) {
				name = strings.TrimSpace(rows[0][i])
			}
			if name == "" {
				name = fmt.Sprintf("column_%d", i+1)
			}
			names = append(names, name)
		}
		start = 1
	} else {
		for i := 0; i < width; i++ {
			names = append(names, fmt.Sprintf("column_%d", i+1))
		}
	}

	columns := make([]dataset.Column, width)
	for i := range columns {
		columns[i] = dataset.Column{Name: names[i], Cells: make([]any, 0, len(rows)-start)}
	}
	for _, row := range rows[start:] {
		for i := 0; i < width; i++ {
			raw := ""
			if i < len(row) {
				raw = row[i]
			}
			columns[i].Cells = append(columns[i].Cells, Cell(raw))
		}
	}
	return dataset.New(columns...)
}

func parseCSV(data []byte, hasHeader bool) (*dataset.Dataset, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Validation("read csv: %v", err)
	}
	return fromRows(rows, hasHeader)
}

func parseXLSX(data []byte, hasHeader bool) (*dataset.Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Validation("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return dataset.New()
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows, hasHeader)
}

func parseJSON(data []byte) (*dataset.Dataset, error) {
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Validation("decode json records: %v", err)
	}

	// Column order: sorted keys, so the layout is stable across uploads.
	keys := map[string]bool{}
	for _, rec := range records {
		for k := range rec {
			keys[k] = true
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	columns := make([]dataset.Column, len(names))
	for i, name := range names {
		cells := make([]any, 0, len(records))
		for _, rec := range records {
			v, ok := rec[name]
			if !ok || v == nil {
				cells = append(cells, nil)
				continue
			}
			switch x := v.(type) {
			case float64, bool:
				cells = append(cells, x)
			case string:
				cells = append(cells, Cell(x))
			default:
				cells = append(cells, fmt.Sprintf("%v", x))
			}
		}
		columns[i] = dataset.Column{Name: name, Cells: cells}
	}
	return dataset.New(columns...)
}

func writeCSV(d *dataset.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(d.ColumnNames()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	n := d.NumRows()
	record := make([]string, d.NumCols())
	for r := 0; r < n; r++ {
		for c := range d.Columns {
			record[c] = dataset.FormatCell(d.Columns[c].Cells[r])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeXLSX(d *dataset.Dataset) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for c, name := range d.ColumnNames() {
		cell, err := excelize.CoordinatesToCellName(c+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, err
		}
	}
	n := d.NumRows()
	for r := 0; r < n; r++ {
		for c := range d.Columns {
			v := d.Columns[c].Cells[r]
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			if ts, ok := v.(time.Time); ok {
				v = ts.Format(time.RFC3339)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeJSON(d *dataset.Dataset) ([]byte, error) {
	records := make([]map[string]any, d.NumRows())
	for r := range records {
		rec := make(map[string]any, d.NumCols())
		for _, c := range d.Columns {
			v := c.Cells[r]
			if ts, ok := v.(time.Time); ok {
				v = ts.Format(time.RFC3339)
			}
			rec[c.Name] = v
		}
		records[r] = rec
	}
	return json.MarshalIndent(records, "", "  ")
}
