package assess

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/history"
)

// AmountText is a free-text amount. In JSON it may be a string or a number;
// either way the literal text is kept and parsed by the feature extractor.
type AmountText string

// UnmarshalJSON accepts "1200.50", 1200.50 and null.
func (a *AmountText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AmountText(s)
	case len(data) > 0 && (data[0] == '-' || (data[0] >= '0' && data[0] <= '9')):
		*a = AmountText(data)
	default:
		return fmt.Errorf("amount must be a string or a number")
	}
	return nil
}

// Request is one assessment request as received over HTTP or the event bus.
// Flags left nil and an empty frequency are derived from actor history when
// the matching identifiers are supplied.
type Request struct {
	Amount           AmountText `json:"amount"`
	TransactionType  string     `json:"transactionType"`
	IsNewBeneficiary *bool      `json:"isNewBeneficiary,omitempty"`
	IsNewDevice      *bool      `json:"isNewDevice,omitempty"`
	Frequency        string     `json:"frequency,omitempty"`
	BaselineAvg      float64    `json:"baselineAvg,omitempty"`

	ActorID       string `json:"actorId,omitempty"`
	BeneficiaryID string `json:"beneficiaryId,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`

	// RequestID correlates asynchronous requests with their result events.
	RequestID string `json:"requestId,omitempty"`
}

// Partial converts the request into a history.Partial.
func (r *Request) Partial() history.Partial {
	return history.Partial{
		Input: domain.TransactionInput{
			Amount:      string(r.Amount),
			Type:        domain.TransactionType(r.TransactionType),
			Frequency:   domain.FrequencyBucket(r.Frequency),
			BaselineAvg: r.BaselineAvg,
		},
		IsNewBeneficiary: r.IsNewBeneficiary,
		IsNewDevice:      r.IsNewDevice,
		ActorID:          r.ActorID,
		BeneficiaryID:    r.BeneficiaryID,
		DeviceID:         r.DeviceID,
	}
}
