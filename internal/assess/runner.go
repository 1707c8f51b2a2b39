package assess

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/history"
	"github.com/opensource-finance/scamscore/internal/metrics"
	"github.com/opensource-finance/scamscore/internal/traces"
)

// Runner wraps a Service with the side effects of a served request: history
// enrichment, persistence, events and metrics. Any dependency may be nil.
type Runner struct {
	service *Service
	tracker *history.Tracker
	repo    domain.Repository
	bus     domain.EventBus

	replay    domain.Cache
	replayTTL time.Duration
}

// NewRunner creates a runner.
func NewRunner(service *Service, tracker *history.Tracker, repo domain.Repository, bus domain.EventBus) *Runner {
	return &Runner{service: service, tracker: tracker, repo: repo, bus: bus}
}

// WithReplayCache makes Run return the stored assessment for a request ID it
// has already served within ttl, without touching history or the bus again.
func (r *Runner) WithReplayCache(c domain.Cache, ttl time.Duration) *Runner {
	r.replay = c
	r.replayTTL = ttl
	return r
}

// Service returns the wrapped scoring service.
func (r *Runner) Service() *Service {
	return r.service
}

// Run enriches, scores, stores and announces one request.
// Storage and publish failures are logged; only scoring errors are returned.
func (r *Runner) Run(ctx context.Context, tenantID string, req *Request) (*domain.Assessment, error) {
	start := time.Now()

	ctx, span := traces.StartSpan(ctx, "assess.Run", traces.Tenant(tenantID), traces.RequestID(req.RequestID))
	defer span.End()

	if a := r.lookupReplay(ctx, tenantID, req.RequestID); a != nil {
		return a, nil
	}

	partial := req.Partial()
	// Rejected input must not count toward velocity or mark a payee as seen.
	if err := r.service.Extractor().Validate(partial.Input); err != nil {
		r.fail(span, err, start)
		return nil, err
	}

	in, err := r.tracker.Enrich(ctx, tenantID, partial)
	if err != nil {
		slog.Warn("history enrichment failed",
			"tenant_id", tenantID,
			"actor_id", req.ActorID,
			"error", err,
		)
		in = history.Resolve(partial)
	}

	a, err := r.service.Assess(ctx, in)
	if err != nil {
		r.fail(span, err, start)
		return nil, err
	}
	span.SetAttributes(traces.Tier(a.Tier), traces.Probability(a.ScamProbability))
	metrics.ObserveAssessment(string(a.Tier), a.ScamProbability, "", time.Since(start))

	a.ID = uuid.New().String()
	a.TenantID = tenantID
	a.CreatedAt = time.Now().UTC()

	if r.repo != nil {
		if err := r.repo.SaveAssessment(ctx, tenantID, a); err != nil {
			slog.Error("failed to save assessment",
				"assessment_id", a.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	r.storeReplay(ctx, tenantID, req.RequestID, a)

	r.publish(ctx, tenantID, domain.TopicAssessmentCompleted, a)
	if a.IsHighRisk() {
		r.publish(ctx, tenantID, domain.TopicHighRisk, a)
	}

	return a, nil
}

func (r *Runner) fail(span trace.Span, err error, start time.Time) {
	metrics.ObserveAssessment("", 0, ErrorKind(err), time.Since(start))
	span.RecordError(err)
	span.SetStatus(codes.Error, ErrorKind(err))
}

func replayKey(requestID string) string {
	return "assessment:" + requestID
}

func (r *Runner) lookupReplay(ctx context.Context, tenantID, requestID string) *domain.Assessment {
	if r.replay == nil || requestID == "" {
		return nil
	}
	data, err := r.replay.Get(ctx, tenantID, replayKey(requestID))
	if err != nil {
		slog.Warn("replay lookup failed", "tenant_id", tenantID, "request_id", requestID, "error", err)
		return nil
	}
	if data == nil {
		metrics.ObserveReplay(false)
		return nil
	}
	var a domain.Assessment
	if err := json.Unmarshal(data, &a); err != nil {
		slog.Warn("discarding corrupt replay entry", "tenant_id", tenantID, "request_id", requestID, "error", err)
		_ = r.replay.Delete(ctx, tenantID, replayKey(requestID))
		metrics.ObserveReplay(false)
		return nil
	}
	metrics.ObserveReplay(true)
	return &a
}

func (r *Runner) storeReplay(ctx context.Context, tenantID, requestID string, a *domain.Assessment) {
	if r.replay == nil || requestID == "" {
		return
	}
	data, err := json.Marshal(a)
	if err == nil {
		err = r.replay.Set(ctx, tenantID, replayKey(requestID), data, r.replayTTL)
	}
	if err != nil {
		slog.Warn("failed to cache assessment for replay", "tenant_id", tenantID, "request_id", requestID, "error", err)
	}
}

// Failure is published when an asynchronous request cannot be assessed.
type Failure struct {
	RequestID string `json:"requestId,omitempty"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// PublishFailure announces a failed asynchronous request.
func (r *Runner) PublishFailure(ctx context.Context, tenantID, requestID string, err error) {
	r.publish(ctx, tenantID, domain.TopicAssessmentFailed, Failure{
		RequestID: requestID,
		Kind:      ErrorKind(err),
		Error:     err.Error(),
	})
}

func (r *Runner) publish(ctx context.Context, tenantID, topic string, v any) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err == nil {
		err = r.bus.Publish(ctx, tenantID, topic, payload)
	}
	metrics.ObservePublish(topic, err)
	if err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}
