package tableio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"datalens/internal/dataset"
)

func TestParseCSVWithHeader(t *testing.T) {
	raw := []byte("name,age,active\nalice,30,true\nbob,,false\n")

	d, err := Parse(raw, FormatCSV, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age", "active"}, d.ColumnNames())
	assert.Equal(t, 2, d.NumRows())

	age, _ := d.Column("age")
	assert.Equal(t, 30.0, age.Cells[0])
	assert.Nil(t, age.Cells[1], "empty field parses as missing")

	active, _ := d.Column("active")
	assert.Equal(t, true, active.Cells[0])
}

func TestParseCSVWithoutHeader(t *testing.T) {
	raw := []byte("1,2\n3,4\n")

	d, err := Parse(raw, FormatCSV, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"column_1", "column_2"}, d.ColumnNames())
	assert.Equal(t, 2, d.NumRows())
}

func TestParseCSVMissingTokens(t *testing.T) {
	raw := []byte("v\nNA\nnan\nNULL\n7\n")

	d, err := Parse(raw, FormatCSV, true)
	require.NoError(t, err)

	v, _ := d.Column("v")
	assert.Nil(t, v.Cells[0])
	assert.Nil(t, v.Cells[1])
	assert.Nil(t, v.Cells[2])
	assert.Equal(t, 7.0, v.Cells[3])
}

func TestCSVRoundTrip(t *testing.T) {
	d, err := dataset.New(
		dataset.Column{Name: "x", Cells: []any{1.5, nil, 3.0}},
		dataset.Column{Name: "label", Cells: []any{"a", "b", nil}},
	)
	require.NoError(t, err)

	raw, err := Serialize(d, FormatCSV)
	require.NoError(t, err)

	back, err := Parse(raw, FormatCSV, true)
	require.NoError(t, err)
	assert.Equal(t, d.ColumnNames(), back.ColumnNames())
	assert.Equal(t, d.Fingerprint(), back.Fingerprint())
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "score"))
	require.NoError(t, f.SetCellValue(sheet, "A2", 12.5))
	require.NoError(t, f.SetCellValue(sheet, "A3", 13))

	var raw []byte
	{
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)
		raw = buf.Bytes()
	}

	d, err := Parse(raw, FormatXLSX, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"score"}, d.ColumnNames())

	score, _ := d.Column("score")
	require.Equal(t, 2, len(score.Cells))
	assert.Equal(t, 12.5, score.Cells[0])
	assert.Equal(t, 13.0, score.Cells[1])
}

func TestParseJSONRecords(t *testing.T) {
	raw := []byte(`[{"b": 1, "a": "x"}, {"b": 2}]`)

	d, err := Parse(raw, FormatJSON, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.ColumnNames(), "json columns are sorted for stability")

	a, _ := d.Column("a")
	assert.Equal(t, "x", a.Cells[0])
	assert.Nil(t, a.Cells[1], "absent key parses as missing")
}

func TestParseFormat(t *testing.T) {
	_, err := ParseFormat("parquet")
	require.Error(t, err)

	got, err := ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, got)
}
