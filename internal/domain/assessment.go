package domain

import "time"

// RiskTier is the discretized risk output.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Assessment is the result of scoring one transaction.
type Assessment struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`

	ScamProbability float64  `json:"scamProbability"`
	Tier            RiskTier `json:"tier"`

	// Presentation attributes consumed by the display layer.
	Label           string  `json:"label"`
	Color           string  `json:"color"`
	ProbabilityText string  `json:"probabilityText"`
	Fill            float64 `json:"fill"`

	Features     FeatureVector `json:"features"`
	ModelVersion string        `json:"modelVersion"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// IsHighRisk reports whether the assessment landed in the HIGH tier.
func (a *Assessment) IsHighRisk() bool {
	return a.Tier == RiskHigh
}
