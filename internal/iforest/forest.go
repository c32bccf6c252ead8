// Package iforest implements an isolation forest with a standard feature scaler.
// Scores follow the usual convention: values lie in [-1, 0] and lower means more anomalous.
package iforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649015329

// Config controls forest construction.
type Config struct {
	// Trees is the number of isolation trees.
	Trees int
	// MaxSamples caps the subsample drawn for each tree.
	MaxSamples int
	// Contamination is the expected proportion of outliers in training data.
	Contamination float64
	// Seed makes training reproducible.
	Seed int64
}

func DefaultConfig() Config {
	return Config{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// Node is one tree node. Leaves have Left == -1 and carry the number of samples that reached them.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
}

func (n Node) leaf() bool { return n.Left < 0 }

// Tree is a flattened isolation tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a fitted isolation forest.
type Forest struct {
	Trees         []Tree  `json:"trees"`
	SampleSize    int     `json:"sample_size"`
	Features      int     `json:"features"`
	Offset        float64 `json:"offset"`
	Contamination float64 `json:"contamination"`
}

// Fit grows the forest on x and calibrates the outlier offset so that roughly
// Contamination of the training rows fall below it.
func Fit(x [][]float64, cfg Config) (*Forest, error) {
	n := len(x)
	if n == 0 {
		return nil, errors.New("cannot fit forest on empty matrix")
	}
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("trees must be at least 1, got %d", cfg.Trees)
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", cfg.Contamination)
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}

	psi := n
	if cfg.MaxSamples > 0 && cfg.MaxSamples < n {
		psi = cfg.MaxSamples
	}
	limit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	rng := rand.New(rand.NewSource(cfg.Seed))
	f := &Forest{
		Trees:         make([]Tree, cfg.Trees),
		SampleSize:    psi,
		Features:      width,
		Contamination: cfg.Contamination,
	}
	for t := range f.Trees {
		idx := rng.Perm(n)[:psi]
		b := builder{x: x, rng: rng, limit: limit}
		b.grow(idx, 0)
		f.Trees[t] = Tree{Nodes: b.nodes}
	}

	scores := make([]float64, n)
	for i, row := range x {
		scores[i] = f.ScoreSample(row)
	}
	f.Offset = percentile(scores, 100*cfg.Contamination)
	return f, nil
}

type builder struct {
	x     [][]float64
	rng   *rand.Rand
	limit int
	nodes []Node
}

func (b *builder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.limit || len(idx) <= 1 {
		return id
	}

	var candidates []int
	lows := make([]float64, len(b.x[0]))
	highs := make([]float64, len(b.x[0]))
	for j := range lows {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.x[i][j]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		lows[j], highs[j] = lo, hi
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return id
	}

	feature := candidates[b.rng.Intn(len(candidates))]
	lo, hi := lows[feature], highs[feature]
	threshold := lo + b.rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Size: len(idx)}
	return id
}

// ScoreSample returns the anomaly score of one (already scaled) sample.
func (f *Forest) ScoreSample(sample []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.Trees {
		total += t.pathLength(sample)
	}
	mean := total / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

// IsOutlier reports whether score falls below the calibrated offset.
func (f *Forest) IsOutlier(score float64) bool {
	return score-f.Offset < 0
}

func (t Tree) pathLength(sample []float64) float64 {
	i, depth := 0, 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return float64(depth) + averagePathLength(n.Size)
		}
		if sample[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is the expected path length of an unsuccessful BST search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	if len(s) == 1 {
		return s[0]
	}
	pos := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}

func (f *Forest) validate() error {
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if f.SampleSize < 1 || f.Features < 1 {
		return fmt.Errorf("forest has sample size %d and %d features", f.SampleSize, f.Features)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.Features {
				return fmt.Errorf("tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
			// children are always appended after their parent
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}
