// Package profile models the synthetic actors behind generated transactions.
package profile

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sampling ranges for a synthetic behavioral baseline, [min, max).
const (
	MinAvgTx    = 500.0
	MaxAvgTx    = 4000.0
	MinStdDevTx = 100.0
	MaxStdDevTx = 1500.0
	MinMaxTx    = 5000.0
	MaxMaxTx    = 50000.0
)

// UserProfile is one synthetic actor's behavioral baseline.
// Profiles are immutable once created.
type UserProfile struct {
	UserID   string  `json:"userId"`
	AvgTx    float64 `json:"avgTx"`
	StdDevTx float64 `json:"stdDevTx"`
	MaxTx    float64 `json:"maxTx"`
}

// NewSource returns a deterministic random source for the given seed.
// A zero seed draws a fresh seed from crypto/rand.
func NewSource(seed uint64) *rand.ChaCha8 {
	var key [32]byte
	if seed == 0 {
		_, _ = crand.Read(key[:])
	} else {
		binary.LittleEndian.PutUint64(key[:8], seed)
	}
	return rand.NewChaCha8(key)
}

// CreatePopulation produces count independent profiles drawn from src.
func CreatePopulation(src *rand.ChaCha8, count int) []UserProfile {
	if count <= 0 {
		return nil
	}
	avg := distuv.Uniform{Min: MinAvgTx, Max: MaxAvgTx, Src: src}
	stddev := distuv.Uniform{Min: MinStdDevTx, Max: MaxStdDevTx, Src: src}
	peak := distuv.Uniform{Min: MinMaxTx, Max: MaxMaxTx, Src: src}

	users := make([]UserProfile, 0, count)
	for i := 0; i < count; i++ {
		id, err := uuid.NewRandomFromReader(src)
		if err != nil {
			// ChaCha8.Read never fails; keep the id unique regardless.
			id = uuid.New()
		}
		users = append(users, UserProfile{
			UserID:   id.String(),
			AvgTx:    avg.Rand(),
			StdDevTx: stddev.Rand(),
			MaxTx:    peak.Rand(),
		})
	}
	return users
}
