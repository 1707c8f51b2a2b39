package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// inbox subscribes and funnels delivered messages into a channel.
func inbox(t *testing.T, b domain.EventBus, tenantID, topic string) (<-chan *domain.Message, domain.Subscription) {
	t.Helper()
	ch := make(chan *domain.Message, 64)
	sub, err := b.Subscribe(context.Background(), tenantID, topic, func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch, sub
}

func expectMessage(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectSilence(t *testing.T, ch <-chan *domain.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message for tenant %s: %s", msg.TenantID, msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	t.Run("Envelope", func(t *testing.T) {
		ch, sub := inbox(t, b, "tenant-001", domain.TopicAssessmentCompleted)
		defer sub.Unsubscribe()

		if err := b.Publish(ctx, "tenant-001", domain.TopicAssessmentCompleted, []byte(`{"tier":"LOW"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := expectMessage(t, ch)
		if string(msg.Payload) != `{"tier":"LOW"}` {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
		if msg.TenantID != "tenant-001" || msg.Topic != domain.TopicAssessmentCompleted {
			t.Errorf("unexpected envelope %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected message ID and timestamp")
		}
		if sub.Topic() != domain.TopicAssessmentCompleted {
			t.Errorf("unexpected subscription topic %s", sub.Topic())
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		bank, subA := inbox(t, b, "bank-a", domain.TopicHighRisk)
		other, subB := inbox(t, b, "bank-b", domain.TopicHighRisk)
		defer subA.Unsubscribe()
		defer subB.Unsubscribe()

		_ = b.Publish(ctx, "bank-a", domain.TopicHighRisk, []byte("alert"))

		expectMessage(t, bank)
		expectSilence(t, other)
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		ch, sub := inbox(t, b, "tenant-001", domain.TopicHighRisk)
		defer sub.Unsubscribe()

		_ = b.Publish(ctx, "tenant-001", domain.TopicAssessmentCompleted, []byte("routine"))
		expectSilence(t, ch)
	})

	t.Run("FanOut", func(t *testing.T) {
		first, sub1 := inbox(t, b, "tenant-001", domain.TopicAssessmentFailed)
		second, sub2 := inbox(t, b, "tenant-001", domain.TopicAssessmentFailed)
		defer sub1.Unsubscribe()
		defer sub2.Unsubscribe()

		_ = b.Publish(ctx, "tenant-001", domain.TopicAssessmentFailed, []byte("failed"))
		expectMessage(t, first)
		expectMessage(t, second)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		ch, sub := inbox(t, b, "tenant-001", domain.TopicAssessmentRequested)

		_ = b.Publish(ctx, "tenant-001", domain.TopicAssessmentRequested, []byte("one"))
		expectMessage(t, ch)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		_ = b.Publish(ctx, "tenant-001", domain.TopicAssessmentRequested, []byte("two"))
		expectSilence(t, ch)
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := b.Publish(ctx, "", domain.TopicHighRisk, nil); !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired from publish, got %v", err)
		}
		if _, err := b.Subscribe(ctx, "", domain.TopicHighRisk, func(context.Context, *domain.Message) error { return nil }); err == nil {
			t.Error("expected subscribe error for empty tenantID")
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		calls := make(chan struct{}, 2)
		sub, _ := b.Subscribe(ctx, "tenant-001", "flaky.topic", func(context.Context, *domain.Message) error {
			calls <- struct{}{}
			return errors.New("handler failed")
		})
		defer sub.Unsubscribe()

		for range 2 {
			_ = b.Publish(ctx, "tenant-001", "flaky.topic", nil)
			select {
			case <-calls:
			case <-time.After(time.Second):
				t.Fatal("handler not invoked after a previous error")
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()
	inbox(t, b, "tenant-001", domain.TopicAssessmentCompleted)

	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := b.Publish(ctx, "tenant-001", domain.TopicAssessmentCompleted, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from publish, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "tenant-001", domain.TopicAssessmentCompleted, func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestChannelBusBurst(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()
	ctx := context.Background()

	const n = 500
	ch := make(chan *domain.Message, n)
	b.Subscribe(ctx, "tenant-load", domain.TopicAssessmentCompleted, func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})

	for range n {
		_ = b.Publish(ctx, "tenant-load", domain.TopicAssessmentCompleted, []byte("ok"))
	}

	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("timeout: received %d/%d messages", i, n)
		}
	}
	if b.Dropped() != 0 {
		t.Errorf("expected no drops within buffer, got %d", b.Dropped())
	}
}

func TestChannelBusAllTenants(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	ch, _ := inbox(t, b, domain.AllTenants, domain.TopicAssessmentRequested)

	_ = b.Publish(ctx, "tenant-a", domain.TopicAssessmentRequested, []byte("a"))
	_ = b.Publish(ctx, "tenant-b", domain.TopicAssessmentRequested, []byte("b"))
	_ = b.Publish(ctx, "tenant-a", domain.TopicAssessmentCompleted, []byte("other topic"))

	seen := map[string]bool{expectMessage(t, ch).TenantID: true, expectMessage(t, ch).TenantID: true}
	if !seen["tenant-a"] || !seen["tenant-b"] {
		t.Errorf("expected envelopes to keep their tenant, got %v", seen)
	}
	expectSilence(t, ch)

	if err := b.Publish(ctx, domain.AllTenants, domain.TopicAssessmentRequested, nil); err == nil {
		t.Error("expected error publishing to all tenants")
	}
}

func TestChannelBusUnsubscribeReleases(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	_, sub := inbox(t, b, "tenant-001", "release.topic")
	sub.Unsubscribe()

	b.mu.RLock()
	remaining := len(b.topics["release.topic"])
	b.mu.RUnlock()
	if remaining != 0 {
		t.Errorf("expected subscription to be released, %d remain", remaining)
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	block := make(chan struct{})
	defer close(block)

	b.Subscribe(ctx, "tenant-001", "slow.topic", func(context.Context, *domain.Message) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	// The first message occupies the handler.
	_ = b.Publish(ctx, "tenant-001", "slow.topic", []byte("x"))
	<-entered

	// One more fills the buffer; the remaining three drop.
	for range 4 {
		if err := b.Publish(ctx, "tenant-001", "slow.topic", []byte("x")); err != nil {
			t.Fatalf("publish should not fail on a full buffer: %v", err)
		}
	}

	if got := b.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped messages, got %d", got)
	}
}

func TestNATSSubject(t *testing.T) {
	if got := natsSubject("tenant-001", domain.TopicHighRisk); got != "scamscore.tenant-001.scamscore.assessment.high_risk" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := natsSubject(domain.AllTenants, domain.TopicAssessmentRequested); got != "scamscore.*.scamscore.assessment.requested" {
		t.Errorf("unexpected wildcard subject %q", got)
	}
}

func TestNATSEnvelope(t *testing.T) {
	now := time.Unix(1700000000, 42)
	payload := []byte(`{"amount":"100"}`)

	t.Run("RoundTrip", func(t *testing.T) {
		m := encodeMsg("tenant-001", domain.TopicAssessmentRequested, payload, now)
		if string(m.Data) != string(payload) {
			t.Errorf("payload must travel unwrapped, got %s", m.Data)
		}

		msg, err := decodeMsg(m)
		if err != nil {
			t.Fatalf("decodeMsg failed: %v", err)
		}
		if msg.ID == "" {
			t.Error("expected message ID")
		}
		if msg.TenantID != "tenant-001" || msg.Topic != domain.TopicAssessmentRequested {
			t.Errorf("unexpected envelope %+v", msg)
		}
		if msg.Timestamp != now.UnixNano() {
			t.Errorf("expected timestamp %d, got %d", now.UnixNano(), msg.Timestamp)
		}
		if msg.Metadata["subject"] != m.Subject {
			t.Errorf("expected subject metadata, got %v", msg.Metadata)
		}
	})

	t.Run("TenantFromSubject", func(t *testing.T) {
		m := nats.NewMsg("scamscore.tenant-009.scamscore.assessment.requested")
		m.Data = payload

		msg, err := decodeMsg(m)
		if err != nil {
			t.Fatalf("decodeMsg failed: %v", err)
		}
		if msg.TenantID != "tenant-009" || msg.Topic != domain.TopicAssessmentRequested {
			t.Errorf("expected tenant and topic from subject, got %+v", msg)
		}
	})

	t.Run("NoTenant", func(t *testing.T) {
		if _, err := decodeMsg(nats.NewMsg("elsewhere.topic")); err == nil {
			t.Error("expected error for message without tenant")
		}
	})
}
