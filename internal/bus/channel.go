package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/metrics"
)

// ChannelBus is the in-process Community tier bus. Every subscription owns
// a buffered channel drained by its own goroutine. Delivery is at-most-once:
// when a buffer is full the message is dropped and counted.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string]map[*channelSubscription]struct{}
	closed     bool
	dropped    atomic.Int64
}

type channelSubscription struct {
	bus      *ChannelBus
	tenantID string
	topic    string
	inbox    chan *domain.Message
	done     context.CancelFunc
}

// NewChannelBus returns a bus whose subscriptions buffer bufferSize
// messages each (1000 when bufferSize <= 0).
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]map[*channelSubscription]struct{}),
	}
}

func (s *channelSubscription) wants(tenantID string) bool {
	return s.tenantID == domain.AllTenants || s.tenantID == tenantID
}

// Publish hands payload to every matching subscription without blocking.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkPublishTenant(tenantID); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}
	for sub := range b.topics[topic] {
		if !sub.wants(tenantID) {
			continue
		}
		select {
		case sub.inbox <- msg:
		default:
			b.dropped.Add(1)
			metrics.EventsDroppedTotal.WithLabelValues(topic).Inc()
		}
	}
	return nil
}

// Subscribe starts a delivery goroutine for handler. It ends on Unsubscribe,
// Close, or when ctx is cancelled.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:      b,
		tenantID: tenantID,
		topic:    topic,
		inbox:    make(chan *domain.Message, b.bufferSize),
		done:     cancel,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*channelSubscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}

	go sub.deliver(subCtx, handler)
	return sub, nil
}

func (s *channelSubscription) deliver(ctx context.Context, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			if err := handler(ctx, msg); err != nil {
				slog.Debug("bus handler failed",
					"topic", s.topic,
					"tenant_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped counts messages lost to full buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close ends every subscription. Buffered messages are discarded. Inboxes
// are never closed, so a racing Publish cannot panic.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for sub := range subs {
			sub.done()
		}
	}
	clear(b.topics)
	return nil
}

// Unsubscribe stops delivery and releases the subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.done()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
