// Package forest trains random-forest models over session datasets and
// serves predictions for new inputs. Preprocessing metadata recorded at
// training time (standardization moments, category lists, target labels)
// is re-applied verbatim at prediction time.
package forest

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/spf13/cast"

	"datalens/internal/dataset"
	"datalens/internal/errors"
)

// minTrainingRows is the minimum number of complete rows required to train.
const minTrainingRows = 10

// maxClassificationClasses caps how many distinct values a non-numeric
// target may have before training is refused.
const maxClassificationClasses = 10

// Params are the user-tunable training knobs.
type Params struct {
	Target      string
	Features    []string
	NEstimators int
	MaxDepth    int
	TestSize    float64
	RandomState int64
}

// FeatureEncoding records how one input feature was turned into processed
// columns: standardization moments for numerics, the category list for
// categoricals.
type FeatureEncoding struct {
	Name       string   `json:"name"`
	Numeric    bool     `json:"numeric"`
	Mean       float64  `json:"mean,omitempty"`
	Std        float64  `json:"std,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Importance is one processed feature with its share of the total impurity
// decrease.
type Importance struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// Model is a trained forest plus everything needed to reproduce its
// preprocessing on new inputs. The fitted trees stay with the model, so
// Predict is real inference rather than a re-fit or an approximation.
type Model struct {
	Target       string            `json:"target"`
	Task         Task              `json:"task"`
	Features     []FeatureEncoding `json:"features"`
	Processed    []string          `json:"processed_columns"`
	ClassLabels  []string          `json:"class_labels,omitempty"`
	Importances  []Importance      `json:"importances"`
	NEstimators  int               `json:"n_estimators"`
	MaxDepth     int               `json:"max_depth"`
	TestSize     float64           `json:"test_size"`
	RandomState  int64             `json:"random_state"`
	TrainRows    int               `json:"train_rows"`
	TestRows     int               `json:"test_rows"`
	TrainScore   float64           `json:"train_score"`
	TestScore    float64           `json:"test_score"`
	ScoreMetric  string            `json:"score_metric"`
	ensemble     *Forest
}

// Train fits a random forest on the dataset. Rows with a null in the
// target or any feature column are dropped first; at least 10 must remain.
func Train(ctx context.Context, d *dataset.Dataset, p Params) (*Model, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	target, ok := d.Column(p.Target)
	if !ok {
		return nil, errors.Validation("target column %q not found", p.Target)
	}
	featureCols := make([]*dataset.Column, len(p.Features))
	for i, name := range p.Features {
		if name == p.Target {
			return nil, errors.Validation("target %q cannot also be a feature", name)
		}
		col, ok := d.Column(name)
		if !ok {
			return nil, errors.Validation("feature column %q not found", name)
		}
		featureCols[i] = col
	}

	rows := completeRows(target, featureCols)
	if len(rows) < minTrainingRows {
		return nil, errors.Validation("training needs at least %d rows with no missing values in the selected columns, got %d", minTrainingRows, len(rows))
	}

	task, y, labels, err := encodeTarget(target, rows)
	if err != nil {
		return nil, err
	}

	encodings, processed, x := encodeFeatures(featureCols, rows)

	trainIdx, testIdx, err := splitIndices(len(rows), p.TestSize, p.RandomState)
	if err != nil {
		return nil, err
	}
	xTrain, yTrain := gather(x, y, trainIdx)
	xTest, yTest := gather(x, y, testIdx)

	ensemble := &Forest{
		Task:        task,
		NEstimators: p.NEstimators,
		MaxDepth:    p.MaxDepth,
		RandomState: p.RandomState,
		nClasses:    len(labels),
	}
	if err := ensemble.Fit(ctx, xTrain, yTrain); err != nil {
		return nil, errors.Computation("forest training failed: %v", err)
	}

	metric := "r2"
	if task == TaskClassification {
		metric = "accuracy"
	}
	m := &Model{
		Target:      p.Target,
		Task:        task,
		Features:    encodings,
		Processed:   processed,
		ClassLabels: labels,
		NEstimators: p.NEstimators,
		MaxDepth:    p.MaxDepth,
		TestSize:    p.TestSize,
		RandomState: p.RandomState,
		TrainRows:   len(trainIdx),
		TestRows:    len(testIdx),
		TrainScore:  score(task, yTrain, ensemble.Predict(xTrain)),
		TestScore:   score(task, yTest, ensemble.Predict(xTest)),
		ScoreMetric: metric,
		ensemble:    ensemble,
	}

	raw := ensemble.importances(len(processed))
	m.Importances = make([]Importance, len(processed))
	for i, name := range processed {
		m.Importances[i] = Importance{Feature: name, Score: raw[i]}
	}
	sort.SliceStable(m.Importances, func(a, b int) bool {
		return m.Importances[a].Score > m.Importances[b].Score
	})
	return m, nil
}

// Predict runs the stored ensemble over new input rows, re-applying the
// training-time preprocessing. Every training feature must be present in
// every input row.
func (m *Model) Predict(inputs []map[string]any) ([]any, error) {
	if len(inputs) == 0 {
		return nil, errors.Validation("no input rows to predict")
	}

	x := make([][]float64, len(inputs))
	for r, input := range inputs {
		row, err := m.processRow(input)
		if err != nil {
			return nil, errors.Validation("input row %d: %v", r, err)
		}
		x[r] = row
	}

	raw := m.ensemble.Predict(x)
	out := make([]any, len(raw))
	for i, v := range raw {
		if m.Task == TaskClassification {
			out[i] = m.ClassLabels[int(v)]
		} else {
			out[i] = v
		}
	}
	return out, nil
}

func (m *Model) processRow(input map[string]any) ([]float64, error) {
	row := make([]float64, 0, len(m.Processed))
	for _, enc := range m.Features {
		v, ok := input[enc.Name]
		if !ok || v == nil {
			return nil, errors.Validation("feature %q is missing", enc.Name)
		}
		if enc.Numeric {
			f, err := cast.ToFloat64E(v)
			if err != nil {
				return nil, errors.Validation("feature %q must be numeric, got %v", enc.Name, v)
			}
			row = append(row, (f-enc.Mean)/enc.Std)
			continue
		}
		// Unknown categories leave every indicator at zero, the same
		// treatment a missing training cell received.
		s := cast.ToString(v)
		for _, cat := range enc.Categories {
			if s == cat {
				row = append(row, 1)
			} else {
				row = append(row, 0)
			}
		}
	}
	return row, nil
}

func (p *Params) normalize() error {
	if p.Target == "" {
		return errors.Validation("select a target column")
	}
	if len(p.Features) == 0 {
		return errors.Validation("select at least one feature column")
	}
	if p.NEstimators <= 0 {
		p.NEstimators = 100
	}
	if p.MaxDepth < 0 {
		return errors.Validation("max_depth cannot be negative")
	}
	if p.TestSize == 0 {
		p.TestSize = 0.2
	}
	if p.TestSize <= 0 || p.TestSize >= 1 {
		return errors.Validation("test_size must be between 0 and 1, got %v", p.TestSize)
	}
	return nil
}

// completeRows returns the indices of rows with no nulls in the target or
// any feature column.
func completeRows(target *dataset.Column, features []*dataset.Column) []int {
	var rows []int
	for r := range target.Cells {
		if target.Cells[r] == nil {
			continue
		}
		complete := true
		for _, f := range features {
			if f.Cells[r] == nil {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, r)
		}
	}
	return rows
}

// encodeTarget decides the task. A numeric target is a regression. A
// non-numeric target with few distinct values is label-encoded for
// classification; anything else cannot be modeled.
func encodeTarget(target *dataset.Column, rows []int) (Task, []float64, []string, error) {
	numeric := true
	for _, r := range rows {
		if _, ok := target.Cells[r].(float64); !ok {
			numeric = false
			break
		}
	}

	y := make([]float64, len(rows))
	if numeric {
		for i, r := range rows {
			y[i] = target.Cells[r].(float64)
		}
		return TaskRegression, y, nil, nil
	}

	seen := make(map[string]bool)
	var labels []string
	for _, r := range rows {
		s := dataset.FormatCell(target.Cells[r])
		if !seen[s] {
			seen[s] = true
			labels = append(labels, s)
		}
	}
	if len(labels) > maxClassificationClasses {
		return "", nil, nil, errors.Validation("target %q has %d distinct non-numeric values, at most %d are supported for classification", target.Name, len(labels), maxClassificationClasses)
	}
	sort.Strings(labels)

	codes := make(map[string]float64, len(labels))
	for i, l := range labels {
		codes[l] = float64(i)
	}
	for i, r := range rows {
		y[i] = codes[dataset.FormatCell(target.Cells[r])]
	}
	return TaskClassification, y, labels, nil
}

// encodeFeatures standardizes numeric features and one-hot expands the
// rest, recording the preprocessing alongside the processed matrix.
func encodeFeatures(features []*dataset.Column, rows []int) ([]FeatureEncoding, []string, [][]float64) {
	encodings := make([]FeatureEncoding, 0, len(features))
	var processed []string
	columns := make([][]float64, 0, len(features))

	for _, f := range features {
		numeric := true
		for _, r := range rows {
			if _, ok := f.Cells[r].(float64); !ok {
				numeric = false
				break
			}
		}

		if numeric {
			values := make([]float64, len(rows))
			mean := 0.0
			for i, r := range rows {
				values[i] = f.Cells[r].(float64)
				mean += values[i]
			}
			mean /= float64(len(rows))
			variance := 0.0
			for _, v := range values {
				variance += (v - mean) * (v - mean)
			}
			std := math.Sqrt(variance / float64(len(rows)))
			if std == 0 {
				std = 1.0
			}
			for i := range values {
				values[i] = (values[i] - mean) / std
			}
			encodings = append(encodings, FeatureEncoding{Name: f.Name, Numeric: true, Mean: mean, Std: std})
			processed = append(processed, f.Name)
			columns = append(columns, values)
			continue
		}

		seen := make(map[string]bool)
		var cats []string
		for _, r := range rows {
			s := dataset.FormatCell(f.Cells[r])
			if !seen[s] {
				seen[s] = true
				cats = append(cats, s)
			}
		}
		sort.Strings(cats)
		encodings = append(encodings, FeatureEncoding{Name: f.Name, Categories: cats})
		for _, cat := range cats {
			values := make([]float64, len(rows))
			for i, r := range rows {
				if dataset.FormatCell(f.Cells[r]) == cat {
					values[i] = 1
				}
			}
			processed = append(processed, f.Name+"_"+cat)
			columns = append(columns, values)
		}
	}

	// Column-major to row-major.
	x := make([][]float64, len(rows))
	for i := range x {
		x[i] = make([]float64, len(columns))
		for j := range columns {
			x[i][j] = columns[j][i]
		}
	}
	return encodings, processed, x
}

// splitIndices shuffles 0..n-1 with the given seed and carves off the test
// partition.
func splitIndices(n int, testSize float64, seed int64) (train, test []int, err error) {
	nTest := int(math.Round(testSize * float64(n)))
	if nTest < 1 {
		nTest = 1
	}
	if n-nTest < 2 {
		return nil, nil, errors.Validation("test_size %v leaves too few rows to train on", testSize)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

func gather(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, r := range idx {
		xs[i] = x[r]
		ys[i] = y[r]
	}
	return xs, ys
}

// score is accuracy for classification and R² for regression.
func score(task Task, truth, pred []float64) float64 {
	if len(truth) == 0 {
		return 0
	}
	if task == TaskClassification {
		hits := 0
		for i := range truth {
			if truth[i] == pred[i] {
				hits++
			}
		}
		return float64(hits) / float64(len(truth))
	}

	mean := 0.0
	for _, v := range truth {
		mean += v
	}
	mean /= float64(len(truth))
	var rss, tss float64
	for i := range truth {
		rss += (truth[i] - pred[i]) * (truth[i] - pred[i])
		tss += (truth[i] - mean) * (truth[i] - mean)
	}
	if tss == 0 {
		if rss == 0 {
			return 1
		}
		return 0
	}
	return 1 - rss/tss
}
