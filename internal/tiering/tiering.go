// Package tiering maps a scam probability onto a LOW / MEDIUM / HIGH risk tier
// together with the presentation attributes shown to operators.
package tiering

import (
	"fmt"
	"math"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// Tier thresholds. Both boundaries themselves fall into MEDIUM.
const (
	HighRiskThreshold = 0.70
	LowRiskThreshold  = 0.30
)

// Tier labels.
const (
	LabelHigh   = "High Risk: Likely Scam"
	LabelMedium = "Medium Risk: Needs Review"
	LabelLow    = "Low Risk: Likely Legitimate"
)

// Display colors.
const (
	ColorHigh   = "#e74c3c"
	ColorMedium = "#f39c12"
	ColorLow    = "#2ecc71"
)

// uncertainSuffix is appended to the probability text of MEDIUM results.
const uncertainSuffix = " (Uncertain)"

// Result is the tier decision for one probability.
type Result struct {
	Tier            domain.RiskTier `json:"tier"`
	Label           string          `json:"label"`
	Color           string          `json:"color"`
	ProbabilityText string          `json:"probabilityText"`
	Fill            float64         `json:"fill"`
}

// Classify returns the tier for p. It is total: NaN is treated as 0 and
// values outside [0,1] are clamped before formatting.
func Classify(p float64) Result {
	if math.IsNaN(p) {
		p = 0
	}
	fill := math.Max(0, math.Min(1, p))
	text := fmt.Sprintf("Scam Probability: %.1f%%", fill*100)

	switch {
	case p > HighRiskThreshold:
		return Result{Tier: domain.RiskHigh, Label: LabelHigh, Color: ColorHigh, ProbabilityText: text, Fill: fill}
	case p < LowRiskThreshold:
		return Result{Tier: domain.RiskLow, Label: LabelLow, Color: ColorLow, ProbabilityText: text, Fill: fill}
	default:
		return Result{Tier: domain.RiskMedium, Label: LabelMedium, Color: ColorMedium, ProbabilityText: text + uncertainSuffix, Fill: fill}
	}
}

// Apply copies the tier decision into an assessment.
func (r Result) Apply(a *domain.Assessment) {
	a.Tier = r.Tier
	a.Label = r.Label
	a.Color = r.Color
	a.ProbabilityText = r.ProbabilityText
	a.Fill = r.Fill
}

// TierOf is shorthand for Classify(p).Tier.
func TierOf(p float64) domain.RiskTier {
	return Classify(p).Tier
}
