// Package worker scores assessment requests delivered over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/scamscore/internal/assess"
	"github.com/opensource-finance/scamscore/internal/domain"
)

// Worker consumes TopicAssessmentRequested and runs each request through the
// same Runner the HTTP API uses. At most Concurrency requests are scored at
// once; further deliveries wait for a free slot.
type Worker struct {
	bus    domain.EventBus
	runner *assess.Runner
	cfg    domain.WorkerConfig

	slots    chan struct{}
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	subs    []domain.Subscription
	stopped bool

	processed atomic.Int64
	failed    atomic.Int64
}

// Stats is a point-in-time view of the worker.
type Stats struct {
	Subscriptions int      `json:"subscriptions"`
	Topics        []string `json:"topics"`
	Concurrency   int      `json:"concurrency"`
	Processed     int64    `json:"processed"`
	Failed        int64    `json:"failed"`
}

// New creates a worker. Call Start to subscribe.
func New(eventBus domain.EventBus, runner *assess.Runner, cfg domain.WorkerConfig) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		runner: runner,
		cfg:    cfg,
		slots:  make(chan struct{}, cfg.Concurrency),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes once per configured tenant, or once with AllTenants when
// none are configured. It fails only if no subscription could be made.
func (w *Worker) Start() error {
	tenants := w.cfg.Tenants
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	var errs []error
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAssessmentRequested, w.dispatch)
		if err != nil {
			slog.Error("worker subscription failed", "tenant_id", tenantID, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		w.mu.Lock()
		w.subs = append(w.subs, sub)
		w.mu.Unlock()
	}
	if len(errs) == len(tenants) {
		return errors.Join(errs...)
	}

	slog.Info("worker started",
		"tenants", tenants,
		"concurrency", cap(w.slots),
	)
	return nil
}

// dispatch hands msg to a scoring goroutine once a slot is free.
func (w *Worker) dispatch(_ context.Context, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errors.New("worker stopped")
	}
	w.inflight.Add(1)
	w.mu.Unlock()

	w.slots <- struct{}{}
	go func() {
		defer func() {
			<-w.slots
			w.inflight.Done()
		}()
		w.process(msg)
	}()
	return nil
}

func (w *Worker) process(msg *domain.Message) {
	start := time.Now()
	ctx := w.ctx

	var req assess.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		slog.Warn("undecodable assessment request",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"error", err,
		)
		w.runner.PublishFailure(ctx, msg.TenantID, msg.ID,
			fmt.Errorf("%w: malformed request: %v", domain.ErrInvalidInput, err))
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	a, err := w.runner.Run(ctx, msg.TenantID, &req)
	if err != nil {
		w.failed.Add(1)
		slog.Warn("assessment request failed",
			"request_id", requestID,
			"tenant_id", msg.TenantID,
			"kind", assess.ErrorKind(err),
			"error", err,
		)
		w.runner.PublishFailure(ctx, msg.TenantID, requestID, err)
		return
	}

	w.processed.Add(1)
	slog.Debug("assessment processed",
		"request_id", requestID,
		"assessment_id", a.ID,
		"tenant_id", msg.TenantID,
		"tier", a.Tier,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes, waits for in-flight requests to finish and releases
// the worker context. A stopped worker cannot be restarted.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.stopped = true
	w.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Topic(), err))
		}
	}

	w.inflight.Wait()
	w.cancel()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return errors.Join(errs...)
}

// Stats reports subscriptions and request counts.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, 0, len(w.subs))
	for _, sub := range w.subs {
		topics = append(topics, sub.Topic())
	}
	return Stats{
		Subscriptions: len(w.subs),
		Topics:        topics,
		Concurrency:   cap(w.slots),
		Processed:     w.processed.Load(),
		Failed:        w.failed.Load(),
	}
}
