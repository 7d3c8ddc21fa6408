package forest

import (
	"math"
	"math/rand"
	"sort"
)

// Task distinguishes classification from regression trees.
type Task string

const (
	TaskClassification Task = "classification"
	TaskRegression     Task = "regression"
)

// node is one CART tree node. Leaves carry the prediction: the majority
// class index for classification, the sample mean for regression.
type node struct {
	leaf      bool
	feature   int
	threshold float64
	left      *node
	right     *node
	value     float64
}

// tree is a single CART tree. Splits are numeric thresholds only; the
// feature matrix is fully numeric by the time it reaches the forest
// (standardized numerics and one-hot indicators, no missing cells).
type tree struct {
	task            Task
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
	nClasses        int

	root *node

	// importances accumulates the impurity decrease contributed by each
	// feature, weighted by the fraction of samples reaching the split.
	importances []float64
	nTotal      int
}

func (t *tree) fit(x [][]float64, y []float64, idx []int, rng *rand.Rand) {
	t.importances = make([]float64, len(x[0]))
	t.nTotal = len(idx)
	t.root = t.build(x, y, idx, 0, rng)
}

func (t *tree) build(x [][]float64, y []float64, idx []int, depth int, rng *rand.Rand) *node {
	imp := t.impurity(y, idx)
	if imp == 0 || len(idx) < t.minSamplesSplit || (t.maxDepth > 0 && depth >= t.maxDepth) {
		return &node{leaf: true, value: t.leafValue(y, idx)}
	}

	feature, threshold, gain, left, right := t.bestSplit(x, y, idx, imp, rng)
	if feature < 0 {
		return &node{leaf: true, value: t.leafValue(y, idx)}
	}

	t.importances[feature] += float64(len(idx)) / float64(t.nTotal) * gain
	return &node{
		feature:   feature,
		threshold: threshold,
		left:      t.build(x, y, left, depth+1, rng),
		right:     t.build(x, y, right, depth+1, rng),
	}
}

// bestSplit scans a random subset of features for the threshold with the
// largest impurity decrease. Returns feature -1 when no split improves.
func (t *tree) bestSplit(x [][]float64, y []float64, idx []int, parentImp float64, rng *rand.Rand) (feature int, threshold, gain float64, left, right []int) {
	p := len(x[0])
	features := rng.Perm(p)
	if t.maxFeatures > 0 && t.maxFeatures < p {
		features = features[:t.maxFeatures]
	}

	feature = -1
	for _, f := range features {
		thr, g, l, r := t.bestThreshold(x, y, idx, f, parentImp)
		if g > gain {
			feature, threshold, gain, left, right = f, thr, g, l, r
		}
	}
	return feature, threshold, gain, left, right
}

func (t *tree) bestThreshold(x [][]float64, y []float64, idx []int, f int, parentImp float64) (threshold, gain float64, left, right []int) {
	sorted := make([]int, len(idx))
	copy(sorted, idx)
	sort.Slice(sorted, func(a, b int) bool { return x[sorted[a]][f] < x[sorted[b]][f] })

	n := len(sorted)
	for s := 1; s < n; s++ {
		if x[sorted[s]][f] == x[sorted[s-1]][f] {
			continue
		}
		l, r := sorted[:s], sorted[s:]
		weighted := float64(s)/float64(n)*t.impurity(y, l) + float64(n-s)/float64(n)*t.impurity(y, r)
		if g := parentImp - weighted; g > gain {
			threshold = (x[sorted[s-1]][f] + x[sorted[s]][f]) / 2
			gain = g
			left = append([]int(nil), l...)
			right = append([]int(nil), r...)
		}
	}
	return threshold, gain, left, right
}

// impurity is Gini for classification and variance for regression.
func (t *tree) impurity(y []float64, idx []int) float64 {
	n := float64(len(idx))
	if n == 0 {
		return 0
	}
	if t.task == TaskClassification {
		counts := make([]float64, t.nClasses)
		for _, i := range idx {
			counts[int(y[i])]++
		}
		gini := 1.0
		for _, c := range counts {
			p := c / n
			gini -= p * p
		}
		return gini
	}
	mean := 0.0
	for _, i := range idx {
		mean += y[i]
	}
	mean /= n
	variance := 0.0
	for _, i := range idx {
		variance += (y[i] - mean) * (y[i] - mean)
	}
	return variance / n
}

func (t *tree) leafValue(y []float64, idx []int) float64 {
	if t.task == TaskClassification {
		counts := make([]int, t.nClasses)
		for _, i := range idx {
			counts[int(y[i])]++
		}
		best := 0
		for c := 1; c < len(counts); c++ {
			if counts[c] > counts[best] {
				best = c
			}
		}
		return float64(best)
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func (t *tree) predict(row []float64) float64 {
	n := t.root
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

// subsampleSize is sqrt(p) for classification and p/3 for regression,
// never less than one feature.
func subsampleSize(task Task, p int) int {
	var k int
	if task == TaskClassification {
		k = int(math.Sqrt(float64(p)))
	} else {
		k = p / 3
	}
	if k < 1 {
		k = 1
	}
	return k
}
