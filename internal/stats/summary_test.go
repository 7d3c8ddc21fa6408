package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/dataset"
)

func TestSummarize(t *testing.T) {
	d, err := dataset.New(
		dataset.Column{Name: "v", Cells: []any{1.0, 2.0, 3.0, 4.0, nil}},
		dataset.Column{Name: "label", Cells: []any{"a", "b", "a", "b", "a"}},
	)
	require.NoError(t, err)

	s := Summarize(d)
	assert.Equal(t, 5, s.Rows)
	assert.Equal(t, 2, s.Cols)
	assert.Equal(t, 1, s.MissingCells)
	assert.Equal(t, 10.0, s.MissingPct)
	require.Len(t, s.Columns, 2)

	v := s.Columns[0]
	assert.Equal(t, "v", v.Name)
	assert.Equal(t, "numeric", v.DetectedType)
	assert.Equal(t, 1, v.Missing)
	assert.Equal(t, 20.0, v.MissingPct)
	assert.Equal(t, 4, v.Distinct)
	require.NotNil(t, v.Numeric)
	assert.Equal(t, 4, v.Numeric.Count)
	assert.InDelta(t, 2.5, v.Numeric.Mean, 1e-9)
	assert.InDelta(t, 1.2909944487, v.Numeric.Std, 1e-9)
	assert.Equal(t, 1.0, v.Numeric.Min)
	assert.InDelta(t, 1.75, v.Numeric.Q1, 1e-9)
	assert.InDelta(t, 2.5, v.Numeric.Median, 1e-9)
	assert.InDelta(t, 3.25, v.Numeric.Q3, 1e-9)
	assert.Equal(t, 4.0, v.Numeric.Max)

	label := s.Columns[1]
	assert.Equal(t, 0, label.Missing)
	assert.Equal(t, 2, label.Distinct)
	assert.Nil(t, label.Numeric)
}

func TestSummarizeEmptyDataset(t *testing.T) {
	d, err := dataset.New()
	require.NoError(t, err)

	s := Summarize(d)
	assert.Equal(t, 0, s.Rows)
	assert.Equal(t, 0, s.Cols)
	assert.Equal(t, 0.0, s.MissingPct)
	assert.Empty(t, s.Columns)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, percentile(sorted, 0.25), 1e-9)
	assert.InDelta(t, 2.5, percentile(sorted, 0.5), 1e-9)
	assert.Equal(t, 4.0, percentile(sorted, 1.0))
	assert.Equal(t, 7.0, percentile([]float64{7}, 0.5))
}
