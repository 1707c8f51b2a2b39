// Package features maps live transaction input onto the trained feature schema.
package features

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// velocityByBucket is the trailing-hour transaction count assumed per bucket.
var velocityByBucket = map[domain.FrequencyBucket]int{
	domain.FrequencyLow:       3,
	domain.FrequencyMedium:    10,
	domain.FrequencyHigh:      23,
	domain.FrequencyAnomalous: 40,
}

// Extractor converts a TransactionInput into a FeatureVector.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	// referenceAvg replaces the actor's historical average amount, which the
	// live path does not have.
	referenceAvg float64
}

// NewExtractor creates an extractor. A non-positive reference average falls
// back to domain.DefaultReferenceAvg.
func NewExtractor(referenceAvg float64) *Extractor {
	if referenceAvg <= 0 {
		referenceAvg = domain.DefaultReferenceAvg
	}
	return &Extractor{referenceAvg: referenceAvg}
}

// ReferenceAvg returns the baseline used for amount_to_avg_ratio.
func (e *Extractor) ReferenceAvg() float64 {
	return e.referenceAvg
}

// Validate checks the caller-supplied fields of in without building
// features. An empty Frequency passes because history may still fill it.
// Every failure wraps domain.ErrInvalidInput.
func (e *Extractor) Validate(in domain.TransactionInput) error {
	if _, err := ParseAmount(in.Amount); err != nil {
		return err
	}
	if _, err := domain.ParseTransactionType(string(in.Type)); err != nil {
		return err
	}
	if in.Frequency != "" {
		if _, err := domain.ParseFrequencyBucket(string(in.Frequency)); err != nil {
			return err
		}
	}
	return nil
}

// Extract builds the feature vector for one transaction.
// Every failure wraps domain.ErrInvalidInput.
func (e *Extractor) Extract(in domain.TransactionInput) (domain.FeatureVector, error) {
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return domain.FeatureVector{}, err
	}

	velocity, err := Velocity(in.Frequency)
	if err != nil {
		return domain.FeatureVector{}, err
	}

	txType, err := domain.ParseTransactionType(string(in.Type))
	if err != nil {
		return domain.FeatureVector{}, err
	}

	baseline := e.referenceAvg
	if in.BaselineAvg > 0 {
		baseline = in.BaselineAvg
	}

	return domain.FeatureVector{
		Amount:           amount,
		AmountToAvgRatio: amount / baseline,
		IsNewBeneficiary: domain.BoolFlag(in.IsNewBeneficiary),
		IsNewDevice:      domain.BoolFlag(in.IsNewDevice),
		TxVelocity1h:     velocity,
		IsCollectRequest: domain.BoolFlag(txType == domain.TxTypeCollectRequest),
	}, nil
}

// ParseAmount parses a free-text amount. Only finite, positive numbers pass.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: amount is required", domain.ErrInvalidInput)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount must be a valid number", domain.ErrInvalidInput)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	// Exponent notation can leave the float64 range in either direction.
	v := d.InexactFloat64()
	if math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%w: amount %s is out of range", domain.ErrInvalidInput, s)
	}
	return v, nil
}

// Velocity returns the tx_velocity_1h value for a frequency bucket.
func Velocity(b domain.FrequencyBucket) (int, error) {
	bucket, err := domain.ParseFrequencyBucket(string(b))
	if err != nil {
		return 0, err
	}
	return velocityByBucket[bucket], nil
}
