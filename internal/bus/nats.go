package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// Subjects are scamscore.<tenant>.<topic>. The payload travels as the raw
// NATS body and the envelope fields as headers, so non-Go consumers can read
// assessment events without unwrapping anything.
const subjectPrefix = "scamscore."

// Envelope headers.
const (
	headerMsgID     = "Nats-Msg-Id"
	headerTenant    = "Scamscore-Tenant"
	headerTopic     = "Scamscore-Topic"
	headerTimestamp = "Scamscore-Timestamp"
)

// NATSBus is the Pro tier bus on core NATS. Subscribing with
// domain.AllTenants uses the NATS single-token wildcard; with a queue group
// configured each message goes to one member of the group.
type NATSBus struct {
	mu            sync.Mutex
	conn          *nats.Conn
	queueGroup    string
	subscriptions map[*natsSubscription]struct{}
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl. An unreachable server is not fatal:
// the client keeps retrying in the background and Ping reports the outage.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := cfg.NATSMaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait == 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("scamscore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 << 20),
		nats.ConnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS connected", "url", nc.ConnectedUrl(), "server_id", nc.ConnectedServerId())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if !conn.IsConnected() {
		slog.Warn("NATS not reachable yet, retrying in background", "url", url)
	}

	return &NATSBus{
		conn:          conn,
		queueGroup:    cfg.NATSQueueGroup,
		subscriptions: make(map[*natsSubscription]struct{}),
	}, nil
}

func natsSubject(tenantID, topic string) string {
	return subjectPrefix + tenantID + "." + topic
}

// encodeMsg builds the NATS message for one publication.
func encodeMsg(tenantID, topic string, payload []byte, now time.Time) *nats.Msg {
	m := nats.NewMsg(natsSubject(tenantID, topic))
	m.Data = payload
	m.Header.Set(headerMsgID, uuid.New().String())
	m.Header.Set(headerTenant, tenantID)
	m.Header.Set(headerTopic, topic)
	m.Header.Set(headerTimestamp, strconv.FormatInt(now.UnixNano(), 10))
	return m
}

// decodeMsg rebuilds the domain message. Tenant and topic fall back to the
// subject for publishers that do not set headers.
func decodeMsg(m *nats.Msg) (*domain.Message, error) {
	tenantID := m.Header.Get(headerTenant)
	topic := m.Header.Get(headerTopic)
	if rest, ok := strings.CutPrefix(m.Subject, subjectPrefix); ok {
		subjectTenant, subjectTopic, _ := strings.Cut(rest, ".")
		if tenantID == "" {
			tenantID = subjectTenant
		}
		if topic == "" {
			topic = subjectTopic
		}
	}
	if tenantID == "" {
		return nil, errors.New("message carries no tenant")
	}

	msg := &domain.Message{
		ID:       m.Header.Get(headerMsgID),
		TenantID: tenantID,
		Topic:    topic,
		Payload:  m.Data,
		Metadata: map[string]string{"subject": m.Subject},
	}
	if ts := m.Header.Get(headerTimestamp); ts != "" {
		msg.Timestamp, _ = strconv.ParseInt(ts, 10, 64)
	}
	return msg, nil
}

// Publish sends payload to the tenant's subject for topic.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkPublishTenant(tenantID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.conn.PublishMsg(encodeMsg(tenantID, topic, payload, time.Now()))
}

// Subscribe registers handler for topic on one tenant or on AllTenants.
// Handler errors are logged; core NATS does not redeliver.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	deliver := func(m *nats.Msg) {
		msg, err := decodeMsg(m)
		if err != nil {
			slog.Error("dropping NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	subject := natsSubject(tenantID, topic)
	var (
		ns  *nats.Subscription
		err error
	)
	if b.queueGroup != "" {
		ns, err = b.conn.QueueSubscribe(subject, b.queueGroup, deliver)
	} else {
		ns, err = b.conn.Subscribe(subject, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	sub := &natsSubscription{topic: topic, sub: ns, bus: b}
	b.mu.Lock()
	b.subscriptions[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Ping fails while the connection is down and otherwise round-trips a flush.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for sub := range b.subscriptions {
		_ = sub.sub.Unsubscribe()
	}
	clear(b.subscriptions)
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Unsubscribe stops delivery and forgets the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
