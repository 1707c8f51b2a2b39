package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/scamscore/internal/assess"
	"github.com/opensource-finance/scamscore/internal/bus"
	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/features"
	"github.com/opensource-finance/scamscore/internal/model"
)

func newRunner(t *testing.T, eventBus domain.EventBus) *assess.Runner {
	t.Helper()

	m, err := model.FromArtifact(&model.Artifact{
		Kind:       model.KindCEL,
		Version:    "cel-test",
		Expression: "is_collect_request == 1.0 ? 0.9 : 0.1",
	}, domain.FeatureColumns)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}

	svc := assess.NewService(features.NewExtractor(domain.DefaultReferenceAvg), m)
	return assess.NewRunner(svc, nil, nil, eventBus)
}

// watch decodes every message on topic for tenantID into a channel of T.
func watch[T any](t *testing.T, eventBus domain.EventBus, tenantID, topic string) <-chan T {
	t.Helper()
	out := make(chan T, 16)
	_, err := eventBus.Subscribe(context.Background(), tenantID, topic, func(_ context.Context, msg *domain.Message) error {
		var v T
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			return err
		}
		out <- v
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s failed: %v", topic, err)
	}
	return out
}

func await[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
		var zero T
		return zero
	}
}

func request(t *testing.T, eventBus domain.EventBus, tenantID string, req assess.Request) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := eventBus.Publish(context.Background(), tenantID, domain.TopicAssessmentRequested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func startWorker(t *testing.T, eventBus domain.EventBus, cfg domain.WorkerConfig) *Worker {
	t.Helper()
	w := New(eventBus, newRunner(t, eventBus), cfg)
	if err := w.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWorkerScoresRequests(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	startWorker(t, eventBus, domain.WorkerConfig{Tenants: []string{"bank-1"}, Concurrency: 2})
	completed := watch[domain.Assessment](t, eventBus, "bank-1", domain.TopicAssessmentCompleted)
	alerts := watch[domain.Assessment](t, eventBus, "bank-1", domain.TopicHighRisk)

	t.Run("LowRisk", func(t *testing.T) {
		request(t, eventBus, "bank-1", assess.Request{
			Amount:          "1200",
			TransactionType: "DEBIT",
			Frequency:       "Low",
			RequestID:       "req-low",
		})

		a := await(t, completed, "completed assessment")
		if a.TenantID != "bank-1" || a.Tier != domain.RiskLow || a.ModelVersion != "cel-test" {
			t.Errorf("unexpected assessment %+v", a)
		}
		if a.ID == "" {
			t.Error("expected assessment ID")
		}
	})

	t.Run("CollectRequestAlerts", func(t *testing.T) {
		request(t, eventBus, "bank-1", assess.Request{
			Amount:          "8000",
			TransactionType: "COLLECT_REQUEST",
			Frequency:       "High",
		})

		a := await(t, alerts, "high risk alert")
		if a.Tier != domain.RiskHigh {
			t.Errorf("expected HIGH tier, got %s", a.Tier)
		}
		await(t, completed, "completed assessment")
	})

	t.Run("OtherTenantIgnored", func(t *testing.T) {
		other := watch[domain.Assessment](t, eventBus, "bank-2", domain.TopicAssessmentCompleted)
		request(t, eventBus, "bank-2", assess.Request{Amount: "10", TransactionType: "DEBIT", Frequency: "Low"})

		select {
		case a := <-other:
			t.Fatalf("worker for bank-1 scored a bank-2 request: %+v", a)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestWorkerFailures(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	startWorker(t, eventBus, domain.WorkerConfig{Tenants: []string{"bank-bad"}})
	failures := watch[assess.Failure](t, eventBus, "bank-bad", domain.TopicAssessmentFailed)

	t.Run("InvalidAmount", func(t *testing.T) {
		request(t, eventBus, "bank-bad", assess.Request{
			Amount:          "abc",
			TransactionType: "DEBIT",
			Frequency:       "Low",
			RequestID:       "req-bad",
		})

		f := await(t, failures, "failure event")
		if f.RequestID != "req-bad" || f.Kind != assess.KindInvalidInput {
			t.Errorf("unexpected failure %+v", f)
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		if err := eventBus.Publish(context.Background(), "bank-bad", domain.TopicAssessmentRequested, []byte("{not json")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		f := await(t, failures, "failure event")
		if f.RequestID == "" {
			t.Error("expected the message ID to stand in for the request ID")
		}
		if f.Kind != assess.KindInvalidInput {
			t.Errorf("expected kind %s, got %s", assess.KindInvalidInput, f.Kind)
		}
	})
}

func TestWorkerAllTenants(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := startWorker(t, eventBus, domain.WorkerConfig{})
	completed := watch[domain.Assessment](t, eventBus, "tenant-routed", domain.TopicAssessmentCompleted)

	request(t, eventBus, "tenant-routed", assess.Request{Amount: "500", TransactionType: "CREDIT", Frequency: "Medium"})

	if a := await(t, completed, "completed assessment"); a.TenantID != "tenant-routed" {
		t.Errorf("expected tenant-routed, got %s", a.TenantID)
	}
	if s := w.Stats(); s.Subscriptions != 1 || s.Concurrency != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestWorkerStopDrainsInFlight(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := New(eventBus, newRunner(t, eventBus), domain.WorkerConfig{
		Tenants:     []string{"tenant-a", "tenant-b"},
		Concurrency: 4,
	})
	if err := w.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	s := w.Stats()
	if s.Subscriptions != 2 || s.Topics[0] != domain.TopicAssessmentRequested {
		t.Errorf("unexpected stats %+v", s)
	}

	completed := watch[domain.Assessment](t, eventBus, "tenant-a", domain.TopicAssessmentCompleted)
	const n = 20
	for range n {
		request(t, eventBus, "tenant-a", assess.Request{Amount: "250", TransactionType: "DEBIT", Frequency: "Low"})
	}
	for range n {
		await(t, completed, "completed assessment")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	s = w.Stats()
	if s.Subscriptions != 0 {
		t.Errorf("expected no subscriptions after stop, got %d", s.Subscriptions)
	}
	if s.Processed != n || s.Failed != 0 {
		t.Errorf("expected %d processed, got %+v", n, s)
	}

	if err := w.dispatch(context.Background(), &domain.Message{TenantID: "tenant-a"}); err == nil {
		t.Error("expected dispatch to refuse work after stop")
	}
}

func TestWorkerStartFailsWithoutSubscriptions(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	eventBus.Close()

	w := New(eventBus, newRunner(t, eventBus), domain.WorkerConfig{Tenants: []string{"tenant-a"}})
	if err := w.Start(); err == nil {
		t.Error("expected start to fail on a closed bus")
	}
}
