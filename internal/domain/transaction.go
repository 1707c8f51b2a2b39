package domain

import (
	"fmt"
	"strings"
)

// TransactionType is the payment direction entered for a live transaction.
type TransactionType string

const (
	TxTypeDebit          TransactionType = "DEBIT"
	TxTypeCredit         TransactionType = "CREDIT"
	TxTypeCollectRequest TransactionType = "COLLECT_REQUEST"
)

// ParseTransactionType normalizes a transaction type label.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TxTypeDebit, TxTypeCredit, TxTypeCollectRequest:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, s)
	}
}

// FrequencyBucket is the coarse trailing-hour activity level of the actor.
type FrequencyBucket string

const (
	FrequencyLow       FrequencyBucket = "Low"
	FrequencyMedium    FrequencyBucket = "Medium"
	FrequencyHigh      FrequencyBucket = "High"
	FrequencyAnomalous FrequencyBucket = "Anomalous"
)

// frequencyLabels maps the display labels shown to operators onto buckets.
var frequencyLabels = map[string]FrequencyBucket{
	"low":                   FrequencyLow,
	"low (1-5)":             FrequencyLow,
	"medium":                FrequencyMedium,
	"medium (6-15)":         FrequencyMedium,
	"high":                  FrequencyHigh,
	"high (16-30)":          FrequencyHigh,
	"anomalous":             FrequencyAnomalous,
	"anomalous burst":       FrequencyAnomalous,
	"anomalous burst (30+)": FrequencyAnomalous,
}

// ParseFrequencyBucket accepts either the short bucket name or its display label.
func ParseFrequencyBucket(s string) (FrequencyBucket, error) {
	if b, ok := frequencyLabels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return b, nil
	}
	return "", fmt.Errorf("%w: unknown frequency bucket %q", ErrInvalidInput, s)
}

// TransactionInput is one live, human-entered transaction description.
type TransactionInput struct {
	// Amount is free text; it is parsed by the feature extractor.
	Amount string `json:"amount"`

	Type             TransactionType `json:"transactionType"`
	IsNewBeneficiary bool            `json:"isNewBeneficiary"`
	IsNewDevice      bool            `json:"isNewDevice"`
	Frequency        FrequencyBucket `json:"frequency"`

	// BaselineAvg optionally replaces the fixed reference average when the
	// caller knows the actor's historical mean. Zero means "not supplied".
	BaselineAvg float64 `json:"baselineAvg,omitempty"`
}
