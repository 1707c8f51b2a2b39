package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// Node is one node of a flattened regression tree. Internal nodes send a
// row left when row[Feature] <= Threshold.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

// Tree is a regression tree stored in pre-order; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) validate(width int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= width {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		// Children always follow their parent, which rules out cycles.
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

func (t *Tree) predict(x []float64) float64 {
	n := &t.Nodes[0]
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Value
}

// TreeEnsemble is an additive tree model with a logistic link.
type TreeEnsemble struct {
	baseScore float64
	trees     []Tree
	width     int
}

// NewTreeEnsemble validates the trees against the feature width.
func NewTreeEnsemble(baseScore float64, trees []Tree, width int) (*TreeEnsemble, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid feature width %d", width)
	}
	for i := range trees {
		if err := trees[i].validate(width); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &TreeEnsemble{baseScore: baseScore, trees: trees, width: width}, nil
}

// Score returns the positive-class probability for an aligned row.
func (e *TreeEnsemble) Score(row domain.FeatureRow) (float64, error) {
	if len(row.Values) != e.width {
		return 0, fmt.Errorf("%w: expected %d features, got %d", domain.ErrClassifier, e.width, len(row.Values))
	}
	for i, v := range row.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: feature %d is not finite", domain.ErrClassifier, i)
		}
	}
	return sigmoid(e.margin(row.Values)), nil
}

// Size returns the number of trees.
func (e *TreeEnsemble) Size() int {
	return len(e.trees)
}

func (e *TreeEnsemble) margin(x []float64) float64 {
	m := e.baseScore
	for i := range e.trees {
		m += e.trees[i].predict(x)
	}
	return m
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
