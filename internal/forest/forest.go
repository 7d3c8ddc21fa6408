package forest

import (
	"context"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// Forest is a bagged ensemble of CART trees. Classification predicts by
// majority vote, regression by the tree mean.
type Forest struct {
	Task        Task
	NEstimators int
	MaxDepth    int
	RandomState int64

	nClasses int
	trees    []*tree
}

// Fit trains the ensemble. Every tree gets a deterministic seed derived
// from RandomState and its index, so training is reproducible regardless
// of goroutine scheduling.
func (f *Forest) Fit(ctx context.Context, x [][]float64, y []float64) error {
	n := len(x)
	p := len(x[0])
	f.trees = make([]*tree, f.NEstimators)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < f.NEstimators; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(f.RandomState + int64(i)))

			// Bootstrap sample with replacement, same size as the input.
			idx := make([]int, n)
			for j := range idx {
				idx[j] = rng.Intn(n)
			}

			t := &tree{
				task:            f.Task,
				maxDepth:        f.MaxDepth,
				minSamplesSplit: 2,
				maxFeatures:     subsampleSize(f.Task, p),
				nClasses:        f.nClasses,
			}
			t.fit(x, y, idx, rng)
			f.trees[i] = t
			return nil
		})
	}
	return g.Wait()
}

// Predict aggregates per-tree predictions for each row.
func (f *Forest) Predict(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for r, row := range x {
		if f.Task == TaskClassification {
			votes := make([]int, f.nClasses)
			for _, t := range f.trees {
				votes[int(t.predict(row))]++
			}
			best := 0
			for c := 1; c < len(votes); c++ {
				if votes[c] > votes[best] {
					best = c
				}
			}
			out[r] = float64(best)
		} else {
			sum := 0.0
			for _, t := range f.trees {
				sum += t.predict(row)
			}
			out[r] = sum / float64(len(f.trees))
		}
	}
	return out
}

// importances averages per-tree impurity decreases and normalizes them to
// sum to one.
func (f *Forest) importances(p int) []float64 {
	total := make([]float64, p)
	for _, t := range f.trees {
		for j, v := range t.importances {
			total[j] += v
		}
	}
	sum := 0.0
	for _, v := range total {
		sum += v
	}
	if sum > 0 {
		for j := range total {
			total[j] /= sum
		}
	}
	return total
}
