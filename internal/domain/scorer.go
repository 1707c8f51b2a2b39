package domain

import "time"

// Scorer is a trained binary probability model.
// Implementations must be safe for concurrent use once constructed.
type Scorer interface {
	// Score returns the probability of the positive (scam) class for a row
	// already aligned to the model's trained columns.
	Score(row FeatureRow) (float64, error)
}

// ModelRecord is a registered model artifact pair stored in the repository.
type ModelRecord struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Kind      string    `json:"kind"`
	Columns   []string  `json:"columns"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
