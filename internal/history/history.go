// Package history derives per-actor signals from cached transaction history:
// the trailing-window transaction count and whether a beneficiary or device
// is new for the actor.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// Kinds of first-seen tracking.
const (
	KindBeneficiary = "beneficiary"
	KindDevice      = "device"
)

// Tracker records actor activity in a domain.Cache.
type Tracker struct {
	cache   domain.Cache
	window  time.Duration
	seenTTL time.Duration
}

// NewTracker creates a tracker. Zero durations fall back to a one-hour
// velocity window and a 90-day first-seen memory.
func NewTracker(cache domain.Cache, cfg domain.HistoryConfig) *Tracker {
	window := time.Duration(cfg.WindowSecs) * time.Second
	if window <= 0 {
		window = time.Hour
	}
	seenTTL := time.Duration(cfg.SeenTTLHrs) * time.Hour
	if seenTTL <= 0 {
		seenTTL = 90 * 24 * time.Hour
	}
	return &Tracker{cache: cache, window: window, seenTTL: seenTTL}
}

// Velocity records one transaction for actorID and returns the number of
// transactions in the current window, including this one.
func (t *Tracker) Velocity(ctx context.Context, tenantID, actorID string) (int64, error) {
	if tenantID == "" || actorID == "" {
		return 0, fmt.Errorf("tenantID and actorID are required")
	}
	count, err := t.cache.IncrementCounter(ctx, tenantID, "velocity:"+actorID, t.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment velocity: %w", err)
	}
	return count, nil
}

// FirstSeen records id for actorID and reports whether it was new.
func (t *Tracker) FirstSeen(ctx context.Context, tenantID, actorID, kind, id string) (bool, error) {
	if tenantID == "" || actorID == "" || id == "" {
		return false, fmt.Errorf("tenantID, actorID and id are required")
	}
	key := "seen:" + kind + ":" + actorID + ":" + id
	stored, err := t.cache.SetIfAbsent(ctx, tenantID, key, []byte{1}, t.seenTTL)
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", kind, err)
	}
	return stored, nil
}

// BucketForCount maps a trailing-hour count onto the frequency buckets
// shown to operators: 1-5 Low, 6-15 Medium, 16-30 High, above 30 Anomalous.
func BucketForCount(n int64) domain.FrequencyBucket {
	switch {
	case n <= 5:
		return domain.FrequencyLow
	case n <= 15:
		return domain.FrequencyMedium
	case n <= 30:
		return domain.FrequencyHigh
	default:
		return domain.FrequencyAnomalous
	}
}

// Partial is a transaction whose history-derived fields may be missing.
// A nil flag or empty Frequency is derived from history when the matching
// identifiers are present.
type Partial struct {
	Input            domain.TransactionInput
	IsNewBeneficiary *bool
	IsNewDevice      *bool

	ActorID       string
	BeneficiaryID string
	DeviceID      string
}

// Resolve fills missing flags with false without consulting history.
func Resolve(p Partial) domain.TransactionInput {
	in := p.Input
	if p.IsNewBeneficiary != nil {
		in.IsNewBeneficiary = *p.IsNewBeneficiary
	}
	if p.IsNewDevice != nil {
		in.IsNewDevice = *p.IsNewDevice
	}
	return in
}

// Enrich records the transaction against the actor's history and fills the
// fields the caller left empty. Caller-supplied values always win.
// A nil Tracker behaves like Resolve.
func (t *Tracker) Enrich(ctx context.Context, tenantID string, p Partial) (domain.TransactionInput, error) {
	in := Resolve(p)
	if t == nil || p.ActorID == "" {
		return in, nil
	}

	count, err := t.Velocity(ctx, tenantID, p.ActorID)
	if err != nil {
		return in, err
	}
	if in.Frequency == "" {
		in.Frequency = BucketForCount(count)
	}

	if p.BeneficiaryID != "" {
		isNew, err := t.FirstSeen(ctx, tenantID, p.ActorID, KindBeneficiary, p.BeneficiaryID)
		if err != nil {
			return in, err
		}
		if p.IsNewBeneficiary == nil {
			in.IsNewBeneficiary = isNew
		}
	}

	if p.DeviceID != "" {
		isNew, err := t.FirstSeen(ctx, tenantID, p.ActorID, KindDevice, p.DeviceID)
		if err != nil {
			return in, err
		}
		if p.IsNewDevice == nil {
			in.IsNewDevice = isNew
		}
	}

	return in, nil
}
