package model

import (
	"fmt"
	"slices"

	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/tiering"
)

// DecisionThreshold is the probability at which a row counts as a predicted scam.
const DecisionThreshold = 0.5

// Confusion is a binary confusion matrix.
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

// Add records one prediction.
func (c *Confusion) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TP++
	case predicted && !actual:
		c.FP++
	case !predicted && actual:
		c.FN++
	default:
		c.TN++
	}
}

// Total returns the number of recorded predictions.
func (c Confusion) Total() int {
	return c.TP + c.FP + c.TN + c.FN
}

// Accuracy returns (TP+TN)/total.
func (c Confusion) Accuracy() float64 {
	return ratio(c.TP+c.TN, c.Total())
}

// Precision returns TP/(TP+FP).
func (c Confusion) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

// Recall returns TP/(TP+FN).
func (c Confusion) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

// F1 returns the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Metrics summarizes classifier quality on a labeled set.
type Metrics struct {
	Samples   int                     `json:"samples"`
	Positives int                     `json:"positives"`
	Confusion Confusion               `json:"confusion"`
	Accuracy  float64                 `json:"accuracy"`
	Precision float64                 `json:"precision"`
	Recall    float64                 `json:"recall"`
	F1        float64                 `json:"f1"`
	AUC       float64                 `json:"auc"`
	Tiers     map[domain.RiskTier]int `json:"tiers"`
}

// Evaluate scores every row of x and compares against y.
func Evaluate(s domain.Scorer, columns []string, x [][]float64, y []int) (*Metrics, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("got %d rows but %d labels", len(x), len(y))
	}

	m := &Metrics{
		Samples: len(x),
		Tiers:   make(map[domain.RiskTier]int, 3),
	}
	scores := make([]float64, len(x))
	for i, values := range x {
		p, err := s.Score(domain.FeatureRow{Columns: columns, Values: values})
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		scores[i] = p
		m.Confusion.Add(p >= DecisionThreshold, y[i] == 1)
		m.Tiers[tiering.TierOf(p)]++
		m.Positives += y[i]
	}

	m.Accuracy = m.Confusion.Accuracy()
	m.Precision = m.Confusion.Precision()
	m.Recall = m.Confusion.Recall()
	m.F1 = m.Confusion.F1()
	m.AUC = AUC(scores, y)
	return m, nil
}

// AUC returns the area under the ROC curve using the rank-sum formulation.
// Tied scores share their average rank. It is 0 when either class is absent.
func AUC(scores []float64, y []int) float64 {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		switch {
		case scores[a] < scores[b]:
			return -1
		case scores[a] > scores[b]:
			return 1
		}
		return 0
	})

	var rankSum float64
	var pos, neg int
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if y[order[k]] == 1 {
				rankSum += avg
				pos++
			} else {
				neg++
			}
		}
		i = j + 1
	}

	if pos == 0 || neg == 0 {
		return 0
	}
	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}
