package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

func colorDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	d, err := dataset.New(
		dataset.Column{Name: "color", Cells: []any{"red", "green", "blue", "green", nil}},
		dataset.Column{Name: "n", Cells: []any{1.0, 2.0, 3.0, 4.0, 5.0}},
	)
	require.NoError(t, err)
	return d
}

func TestEncodeLabelRoundTrip(t *testing.T) {
	d := colorDataset(t)

	out, result, err := Encode(d, "color", MethodLabel, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"color_encoded"}, result.NewColumns)

	// Decode through the reported mapping and recover the original values.
	decode := make(map[int]string, len(result.Mapping))
	for _, m := range result.Mapping {
		decode[m.Code] = m.Value
	}
	src, _ := out.Column("color")
	enc, _ := out.Column("color_encoded")
	for i, v := range src.Cells {
		if v == nil {
			assert.Nil(t, enc.Cells[i], "missing source stays missing")
			continue
		}
		code := int(enc.Cells[i].(float64))
		assert.Equal(t, v, decode[code], "row %d decodes to the original value", i)
	}

	assert.False(t, d.HasColumn("color_encoded"), "input dataset must not be mutated")
}

func TestEncodeOneHotRowSumsToOne(t *testing.T) {
	d := colorDataset(t)

	out, result, err := Encode(d, "color", MethodOneHot, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"color_blue", "color_green", "color_red"}, result.NewColumns)

	src, _ := out.Column("color")
	for r := 0; r < out.NumRows(); r++ {
		sum := 0.0
		for _, name := range result.NewColumns {
			c, _ := out.Column(name)
			sum += c.Cells[r].(float64)
		}
		if src.Cells[r] == nil {
			assert.Zero(t, sum, "missing source row has all-zero indicators")
		} else {
			assert.Equal(t, 1.0, sum, "row %d indicators sum to 1", r)
		}
	}
}

func TestEncodeOneHotKeepsSource(t *testing.T) {
	d := colorDataset(t)

	out, _, err := Encode(d, "color", MethodOneHot, nil)
	require.NoError(t, err)
	assert.True(t, out.HasColumn("color"), "encoding never deletes the source column")
}

func TestEncodeOrdinalWithOrder(t *testing.T) {
	d := colorDataset(t)

	out, result, err := Encode(d, "color", MethodOrdinal, []string{"green", "blue", "red"})
	require.NoError(t, err)
	assert.Equal(t, []string{"color_ordinal"}, result.NewColumns)

	ord, _ := out.Column("color_ordinal")
	// red=2, green=0, blue=1, green=0, nil
	assert.Equal(t, []any{2.0, 0.0, 1.0, 0.0, nil}, ord.Cells)
}

func TestEncodeOrdinalDefaultsToSortedValues(t *testing.T) {
	d := colorDataset(t)

	out, result, err := Encode(d, "color", MethodOrdinal, nil)
	require.NoError(t, err)
	assert.Equal(t, []MappingEntry{
		{Value: "blue", Code: 0},
		{Value: "green", Code: 1},
		{Value: "red", Code: 2},
	}, result.Mapping)

	ord, _ := out.Column("color_ordinal")
	assert.Equal(t, 2.0, ord.Cells[0])
}

func TestEncodeOrdinalRejectsIncompleteOrder(t *testing.T) {
	d := colorDataset(t)

	_, _, err := Encode(d, "color", MethodOrdinal, []string{"green", "blue"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Contains(t, err.Error(), "red")
}

func TestEncodeOrdinalRejectsUnknownAndRepeatedValues(t *testing.T) {
	d := colorDataset(t)

	_, _, err := Encode(d, "color", MethodOrdinal, []string{"green", "blue", "red", "cyan"})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, _, err = Encode(d, "color", MethodOrdinal, []string{"green", "blue", "blue"})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestEncodedView(t *testing.T) {
	d := colorDataset(t)

	out, result, err := Encode(d, "color", MethodOneHot, nil)
	require.NoError(t, err)

	view, err := EncodedView(out, result)
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "color_blue", "color_green", "color_red"}, view.ColumnNames())
}

func TestEncodeValidation(t *testing.T) {
	d := colorDataset(t)

	_, _, err := Encode(d, "missing", MethodLabel, nil)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, _, err = Encode(d, "color", Method("target"), nil)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	empty, _ := dataset.New(dataset.Column{Name: "c", Cells: []any{nil, nil}})
	_, _, err = Encode(empty, "c", MethodLabel, nil)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
