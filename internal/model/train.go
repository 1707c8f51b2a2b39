package model

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// TrainOptions controls gradient boosting.
type TrainOptions struct {
	Trees        int
	LearningRate float64
	MaxDepth     int

	// MinLeaf is the minimum number of rows on each side of a split.
	MinLeaf int

	// Lambda is the L2 penalty on leaf values.
	Lambda float64

	// Bins is the maximum number of histogram bins per feature (<= 255).
	Bins int

	// Balance reweights positives by negatives/positives.
	Balance bool

	Version string
}

// DefaultTrainOptions returns the settings used by cmd/train.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Trees:        200,
		LearningRate: 0.05,
		MaxDepth:     4,
		MinLeaf:      20,
		Lambda:       1.0,
		Bins:         32,
		Balance:      true,
	}
}

func (o *TrainOptions) normalize() error {
	d := DefaultTrainOptions()
	if o.Trees <= 0 {
		o.Trees = d.Trees
	}
	if o.LearningRate <= 0 {
		o.LearningRate = d.LearningRate
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MinLeaf <= 0 {
		o.MinLeaf = 1
	}
	if o.Lambda < 0 {
		o.Lambda = 0
	}
	if o.Bins <= 1 {
		o.Bins = d.Bins
	}
	if o.Bins > 255 {
		return fmt.Errorf("bins must be at most 255, got %d", o.Bins)
	}
	return nil
}

// ErrSingleClass means the training labels contain only one class.
var ErrSingleClass = errors.New("training data must contain both classes")

// Train fits a gradient-boosted tree ensemble with logistic loss.
// x is row-major with one value per column; y holds 0/1 labels.
func Train(x [][]float64, y []int, columns []string, opts TrainOptions) (*Artifact, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if err := validateColumns(columns); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, errors.New("training data is empty")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("got %d rows but %d labels", len(x), len(y))
	}
	width := len(columns)
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), width)
		}
	}

	var pos, neg float64
	for _, label := range y {
		switch label {
		case 1:
			pos++
		case 0:
			neg++
		default:
			return nil, fmt.Errorf("label must be 0 or 1, got %d", label)
		}
	}
	if pos == 0 || neg == 0 {
		return nil, ErrSingleClass
	}

	posWeight := 1.0
	if opts.Balance {
		posWeight = neg / pos
	}
	weights := make([]float64, len(y))
	for i, label := range y {
		if label == 1 {
			weights[i] = posWeight
		} else {
			weights[i] = 1
		}
	}

	// Start from the weighted log-odds of the positive class.
	p0 := pos * posWeight / (pos*posWeight + neg)
	base := math.Log(p0 / (1 - p0))

	b := newBinner(x, width, opts.Bins)
	t := &trainer{
		opts:   opts,
		binned: b.binned,
		cuts:   b.cuts,
		grad:   make([]float64, len(x)),
		hess:   make([]float64, len(x)),
		margin: make([]float64, len(x)),
	}
	for i := range t.margin {
		t.margin[i] = base
	}

	trees := make([]Tree, 0, opts.Trees)
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}

	for round := 0; round < opts.Trees; round++ {
		for i := range y {
			p := sigmoid(t.margin[i])
			t.grad[i] = weights[i] * (p - float64(y[i]))
			t.hess[i] = weights[i] * p * (1 - p)
		}
		tree := Tree{}
		t.grow(&tree, idx, 0)
		trees = append(trees, tree)
	}

	trainedAt := time.Now().UTC()
	version := opts.Version
	if version == "" {
		version = "gbdt-" + trainedAt.Format("20060102T150405Z")
	}

	return &Artifact{
		Kind:      KindGBDT,
		Version:   version,
		TrainedAt: trainedAt,
		BaseScore: base,
		Trees:     trees,
	}, nil
}

// binner quantizes each feature into at most n bins. A value v lands in the
// first bin b with v <= cuts[b], or in bin len(cuts) past the last cut.
type binner struct {
	cuts   [][]float64
	binned [][]uint8 // [feature][row]
}

func newBinner(x [][]float64, width, n int) *binner {
	b := &binner{
		cuts:   make([][]float64, width),
		binned: make([][]uint8, width),
	}
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		b.cuts[j] = cutPoints(col, n)

		bins := make([]uint8, len(x))
		for i, row := range x {
			bins[i] = uint8(binIndex(b.cuts[j], row[j]))
		}
		b.binned[j] = bins
	}
	return b
}

// cutPoints returns ascending split thresholds for one feature column.
// Columns with few distinct values split on midpoints; others on quantiles.
func cutPoints(col []float64, n int) []float64 {
	sorted := slices.Clone(col)
	slices.Sort(sorted)
	distinct := slices.Compact(slices.Clone(sorted))

	if len(distinct) <= n {
		cuts := make([]float64, 0, len(distinct))
		for i := 1; i < len(distinct); i++ {
			cuts = append(cuts, (distinct[i-1]+distinct[i])/2)
		}
		return cuts
	}

	cuts := make([]float64, 0, n-1)
	for k := 1; k < n; k++ {
		q := sorted[k*len(sorted)/n]
		if q == sorted[len(sorted)-1] {
			break
		}
		if len(cuts) == 0 || q > cuts[len(cuts)-1] {
			cuts = append(cuts, q)
		}
	}
	return cuts
}

func binIndex(cuts []float64, v float64) int {
	i, _ := slices.BinarySearch(cuts, v)
	return i
}

type trainer struct {
	opts   TrainOptions
	binned [][]uint8
	cuts   [][]float64
	grad   []float64
	hess   []float64
	margin []float64
}

type split struct {
	feature int
	bin     int
	gain    float64
}

// grow appends the subtree for idx to tree in pre-order and returns its node index.
func (t *trainer) grow(tree *Tree, idx []int, depth int) int {
	var g, h float64
	for _, i := range idx {
		g += t.grad[i]
		h += t.hess[i]
	}

	node := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, Node{})

	best, ok := split{}, false
	if depth < t.opts.MaxDepth && len(idx) >= 2*t.opts.MinLeaf {
		best, ok = t.bestSplit(idx, g, h)
	}
	if !ok {
		value := -g / (h + t.opts.Lambda) * t.opts.LearningRate
		for _, i := range idx {
			t.margin[i] += value
		}
		tree.Nodes[node] = Node{Leaf: true, Value: value}
		return node
	}

	bins := t.binned[best.feature]
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if int(bins[i]) <= best.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := t.grow(tree, left, depth+1)
	r := t.grow(tree, right, depth+1)
	tree.Nodes[node] = Node{
		Feature:   best.feature,
		Threshold: t.cuts[best.feature][best.bin],
		Left:      l,
		Right:     r,
	}
	return node
}

func (t *trainer) bestSplit(idx []int, g, h float64) (split, bool) {
	lambda := t.opts.Lambda
	parent := g * g / (h + lambda)
	best := split{gain: 1e-9}
	found := false

	for j, bins := range t.binned {
		nCuts := len(t.cuts[j])
		if nCuts == 0 {
			continue
		}
		hg := make([]float64, nCuts+1)
		hh := make([]float64, nCuts+1)
		hc := make([]int, nCuts+1)
		for _, i := range idx {
			b := bins[i]
			hg[b] += t.grad[i]
			hh[b] += t.hess[i]
			hc[b]++
		}

		var gl, hl float64
		var cl int
		for b := 0; b < nCuts; b++ {
			gl += hg[b]
			hl += hh[b]
			cl += hc[b]
			cr := len(idx) - cl
			if cl < t.opts.MinLeaf {
				continue
			}
			if cr < t.opts.MinLeaf {
				break
			}
			gr, hr := g-gl, h-hl
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > best.gain {
				best = split{feature: j, bin: b, gain: gain}
				found = true
			}
		}
	}
	return best, found
}
