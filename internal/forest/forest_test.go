package forest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// separableDataset has a category that fully determines the label and a
// noise column that does not.
func separableDataset(t *testing.T, rows int) *dataset.Dataset {
	t.Helper()
	var size, color, label []any
	for i := 0; i < rows; i++ {
		size = append(size, float64(i%7))
		if i%2 == 0 {
			color = append(color, "red")
			label = append(label, "hot")
		} else {
			color = append(color, "blue")
			label = append(label, "cold")
		}
	}
	d, err := dataset.New(
		dataset.Column{Name: "size", Cells: size},
		dataset.Column{Name: "color", Cells: color},
		dataset.Column{Name: "label", Cells: label},
	)
	require.NoError(t, err)
	return d
}

func TestTrainClassifierOnSeparableData(t *testing.T) {
	d := separableDataset(t, 40)

	m, err := Train(context.Background(), d, Params{
		Target:      "label",
		Features:    []string{"size", "color"},
		NEstimators: 25,
		MaxDepth:    5,
		TestSize:    0.25,
		RandomState: 42,
	})
	require.NoError(t, err)

	assert.Equal(t, TaskClassification, m.Task)
	assert.Equal(t, "accuracy", m.ScoreMetric)
	assert.Equal(t, []string{"cold", "hot"}, m.ClassLabels)
	assert.Equal(t, []string{"size", "color_blue", "color_red"}, m.Processed)
	assert.Equal(t, 30, m.TrainRows)
	assert.Equal(t, 10, m.TestRows)

	// Perfectly separable by color; the forest should get the test set right.
	assert.Equal(t, 1.0, m.TestScore)

	// The color indicators should dominate the importances.
	total := 0.0
	colorShare := 0.0
	for _, imp := range m.Importances {
		total += imp.Score
		if imp.Feature != "size" {
			colorShare += imp.Score
		}
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Greater(t, colorShare, 0.5)
}

func TestTrainRegressorOnLinearData(t *testing.T) {
	var xs, ys []any
	for i := 0; i < 60; i++ {
		xs = append(xs, float64(i))
		ys = append(ys, float64(i)*3+1)
	}
	d, err := dataset.New(
		dataset.Column{Name: "x", Cells: xs},
		dataset.Column{Name: "y", Cells: ys},
	)
	require.NoError(t, err)

	m, err := Train(context.Background(), d, Params{
		Target:      "y",
		Features:    []string{"x"},
		NEstimators: 30,
		RandomState: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, TaskRegression, m.Task)
	assert.Equal(t, "r2", m.ScoreMetric)
	assert.Empty(t, m.ClassLabels)
	assert.Greater(t, m.TestScore, 0.8)
}

func TestTrainIsDeterministic(t *testing.T) {
	d := separableDataset(t, 30)
	p := Params{Target: "label", Features: []string{"size", "color"}, NEstimators: 10, RandomState: 99}

	m1, err := Train(context.Background(), d, p)
	require.NoError(t, err)
	m2, err := Train(context.Background(), d, p)
	require.NoError(t, err)

	assert.Equal(t, m1.TrainScore, m2.TrainScore)
	assert.Equal(t, m1.TestScore, m2.TestScore)
	assert.Equal(t, m1.Importances, m2.Importances)
}

func TestTrainDropsIncompleteRowsAndEnforcesMinimum(t *testing.T) {
	d, err := dataset.New(
		dataset.Column{Name: "x", Cells: []any{1.0, nil, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, 10.0, 11.0}},
		dataset.Column{Name: "y", Cells: []any{"a", "b", nil, "a", "b", "a", "b", "a", "b", "a", "b"}},
	)
	require.NoError(t, err)

	// 11 rows minus 2 incomplete leaves 9, under the minimum of 10.
	_, err = Train(context.Background(), d, Params{Target: "y", Features: []string{"x"}})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Contains(t, err.Error(), "10")
}

func TestTrainRejectsHighCardinalityTextTarget(t *testing.T) {
	var xs, ys []any
	for i := 0; i < 20; i++ {
		xs = append(xs, float64(i))
		ys = append(ys, string(rune('a'+i)))
	}
	d, err := dataset.New(
		dataset.Column{Name: "x", Cells: xs},
		dataset.Column{Name: "y", Cells: ys},
	)
	require.NoError(t, err)

	_, err = Train(context.Background(), d, Params{Target: "y", Features: []string{"x"}})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestTrainValidation(t *testing.T) {
	d := separableDataset(t, 20)

	_, err := Train(context.Background(), d, Params{Target: "", Features: []string{"size"}})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = Train(context.Background(), d, Params{Target: "label", Features: nil})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = Train(context.Background(), d, Params{Target: "label", Features: []string{"label"}})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = Train(context.Background(), d, Params{Target: "label", Features: []string{"nope"}})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = Train(context.Background(), d, Params{Target: "label", Features: []string{"size"}, TestSize: 1.5})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestPredictAppliesStoredPreprocessing(t *testing.T) {
	d := separableDataset(t, 40)

	m, err := Train(context.Background(), d, Params{
		Target:      "label",
		Features:    []string{"size", "color"},
		NEstimators: 25,
		RandomState: 42,
	})
	require.NoError(t, err)

	preds, err := m.Predict([]map[string]any{
		{"size": 2.0, "color": "red"},
		{"size": 5, "color": "blue"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"hot", "cold"}, preds)
}

func TestPredictRejectsMissingFeature(t *testing.T) {
	d := separableDataset(t, 40)

	m, err := Train(context.Background(), d, Params{
		Target:   "label",
		Features: []string{"size", "color"},
	})
	require.NoError(t, err)

	_, err = m.Predict([]map[string]any{{"size": 2.0}})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.Contains(t, err.Error(), "color")

	_, err = m.Predict([]map[string]any{{"size": "not a number", "color": "red"}})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = m.Predict(nil)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestRegressorPredictReturnsNumbers(t *testing.T) {
	var xs, ys []any
	for i := 0; i < 50; i++ {
		xs = append(xs, float64(i))
		ys = append(ys, float64(i)*2)
	}
	d, err := dataset.New(
		dataset.Column{Name: "x", Cells: xs},
		dataset.Column{Name: "y", Cells: ys},
	)
	require.NoError(t, err)

	m, err := Train(context.Background(), d, Params{Target: "y", Features: []string{"x"}, NEstimators: 20, RandomState: 1})
	require.NoError(t, err)

	preds, err := m.Predict([]map[string]any{{"x": 25.0}})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	v, ok := preds[0].(float64)
	require.True(t, ok)
	assert.InDelta(t, 50.0, v, 15.0)
}
