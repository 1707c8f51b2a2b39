package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/scamscore/internal/cache"
	"github.com/opensource-finance/scamscore/internal/domain"
)

func newTracker() *Tracker {
	return NewTracker(cache.NewLRUCache(1000), domain.HistoryConfig{WindowSecs: 3600, SeenTTLHrs: 24})
}

func boolPtr(b bool) *bool { return &b }

func TestVelocity(t *testing.T) {
	tracker := newTracker()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := tracker.Velocity(ctx, "tenant-001", "actor-1")
		if err != nil {
			t.Fatalf("Velocity failed: %v", err)
		}
		if count != i {
			t.Errorf("expected count %d, got %d", i, count)
		}
	}

	count, _ := tracker.Velocity(ctx, "tenant-002", "actor-1")
	if count != 1 {
		t.Errorf("expected tenants to be isolated, got %d", count)
	}

	if _, err := tracker.Velocity(ctx, "tenant-001", ""); err == nil {
		t.Error("expected error for empty actorID")
	}
}

func TestVelocityWindow(t *testing.T) {
	tracker := NewTracker(cache.NewLRUCache(100), domain.HistoryConfig{})
	if tracker.window != time.Hour {
		t.Errorf("expected default window of one hour, got %s", tracker.window)
	}
	if tracker.seenTTL != 90*24*time.Hour {
		t.Errorf("expected default first-seen TTL of 90 days, got %s", tracker.seenTTL)
	}
}

func TestBucketForCount(t *testing.T) {
	cases := map[int64]domain.FrequencyBucket{
		0:   domain.FrequencyLow,
		1:   domain.FrequencyLow,
		5:   domain.FrequencyLow,
		6:   domain.FrequencyMedium,
		15:  domain.FrequencyMedium,
		16:  domain.FrequencyHigh,
		30:  domain.FrequencyHigh,
		31:  domain.FrequencyAnomalous,
		500: domain.FrequencyAnomalous,
	}
	for n, want := range cases {
		if got := BucketForCount(n); got != want {
			t.Errorf("BucketForCount(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestFirstSeen(t *testing.T) {
	tracker := newTracker()
	ctx := context.Background()

	isNew, err := tracker.FirstSeen(ctx, "tenant-001", "actor-1", KindBeneficiary, "bene-1")
	if err != nil {
		t.Fatalf("FirstSeen failed: %v", err)
	}
	if !isNew {
		t.Error("expected first sighting to be new")
	}

	isNew, _ = tracker.FirstSeen(ctx, "tenant-001", "actor-1", KindBeneficiary, "bene-1")
	if isNew {
		t.Error("expected second sighting to be known")
	}

	isNew, _ = tracker.FirstSeen(ctx, "tenant-001", "actor-2", KindBeneficiary, "bene-1")
	if !isNew {
		t.Error("expected beneficiary to be new for a different actor")
	}

	isNew, _ = tracker.FirstSeen(ctx, "tenant-001", "actor-1", KindDevice, "bene-1")
	if !isNew {
		t.Error("expected kinds to be tracked separately")
	}
}

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	base := domain.TransactionInput{Amount: "1200", Type: domain.TxTypeDebit}

	t.Run("DerivesMissingFields", func(t *testing.T) {
		tracker := newTracker()
		p := Partial{Input: base, ActorID: "actor-1", BeneficiaryID: "bene-1", DeviceID: "dev-1"}

		in, err := tracker.Enrich(ctx, "tenant-001", p)
		if err != nil {
			t.Fatalf("Enrich failed: %v", err)
		}
		if in.Frequency != domain.FrequencyLow {
			t.Errorf("expected Low frequency, got %s", in.Frequency)
		}
		if !in.IsNewBeneficiary || !in.IsNewDevice {
			t.Errorf("expected new beneficiary and device on first sighting, got %+v", in)
		}

		in, _ = tracker.Enrich(ctx, "tenant-001", p)
		if in.IsNewBeneficiary || in.IsNewDevice {
			t.Errorf("expected known beneficiary and device on repeat, got %+v", in)
		}
	})

	t.Run("CallerValuesWin", func(t *testing.T) {
		tracker := newTracker()
		input := base
		input.Frequency = domain.FrequencyAnomalous
		p := Partial{
			Input:            input,
			IsNewBeneficiary: boolPtr(false),
			IsNewDevice:      boolPtr(true),
			ActorID:          "actor-1",
			BeneficiaryID:    "bene-1",
			DeviceID:         "dev-1",
		}

		in, err := tracker.Enrich(ctx, "tenant-001", p)
		if err != nil {
			t.Fatalf("Enrich failed: %v", err)
		}
		if in.Frequency != domain.FrequencyAnomalous {
			t.Errorf("expected caller frequency, got %s", in.Frequency)
		}
		if in.IsNewBeneficiary || !in.IsNewDevice {
			t.Errorf("expected caller flags, got %+v", in)
		}

		// Sightings are still recorded.
		isNew, _ := tracker.FirstSeen(ctx, "tenant-001", "actor-1", KindBeneficiary, "bene-1")
		if isNew {
			t.Error("expected beneficiary to be recorded even when caller supplied the flag")
		}
	})

	t.Run("VelocityEscalates", func(t *testing.T) {
		tracker := newTracker()
		p := Partial{Input: base, ActorID: "busy-actor"}

		var in domain.TransactionInput
		for i := 0; i < 31; i++ {
			in, _ = tracker.Enrich(ctx, "tenant-001", p)
		}
		if in.Frequency != domain.FrequencyAnomalous {
			t.Errorf("expected Anomalous after 31 transactions, got %s", in.Frequency)
		}
	})

	t.Run("NilTracker", func(t *testing.T) {
		var tracker *Tracker
		in, err := tracker.Enrich(ctx, "tenant-001", Partial{Input: base, IsNewDevice: boolPtr(true), ActorID: "a"})
		if err != nil {
			t.Fatalf("Enrich failed: %v", err)
		}
		if in.Frequency != "" || in.IsNewBeneficiary || !in.IsNewDevice {
			t.Errorf("unexpected enrichment without history: %+v", in)
		}
	})

	t.Run("CacheFailure", func(t *testing.T) {
		tracker := NewTracker(failingCache{}, domain.HistoryConfig{})
		_, err := tracker.Enrich(ctx, "tenant-001", Partial{Input: base, ActorID: "a"})
		if err == nil {
			t.Error("expected cache failure to surface")
		}
	})
}

type failingCache struct{ domain.Cache }

func (failingCache) IncrementCounter(context.Context, string, string, time.Duration) (int64, error) {
	return 0, errors.New("cache down")
}
