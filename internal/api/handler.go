package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/scamscore/internal/assess"
	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/model"
	"github.com/opensource-finance/scamscore/internal/repository"
	"github.com/opensource-finance/scamscore/internal/tiering"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	runner  *assess.Runner
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(runner *assess.Runner, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		runner:  runner,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// AssessResponse is the response for POST /assess.
type AssessResponse struct {
	AssessmentID    string               `json:"assessmentId"`
	ScamProbability float64              `json:"scamProbability"`
	Tier            domain.RiskTier      `json:"tier"`
	Label           string               `json:"label"`
	Color           string               `json:"color"`
	ProbabilityText string               `json:"probabilityText"`
	Fill            float64              `json:"fill"`
	Features        domain.FeatureVector `json:"features"`
	ModelVersion    string               `json:"modelVersion"`
	Metadata        struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// ErrorResponse is returned for failed assessments.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Assess handles POST /assess requests.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req assess.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON request body",
		})
		return
	}

	a, err := h.runner.Run(ctx, tenantID, &req)
	if err != nil {
		writeAssessError(w, err)
		return
	}

	resp := AssessResponse{
		AssessmentID:    a.ID,
		ScamProbability: a.ScamProbability,
		Tier:            a.Tier,
		Label:           a.Label,
		Color:           a.Color,
		ProbabilityText: a.ProbabilityText,
		Fill:            a.Fill,
		Features:        a.Features,
		ModelVersion:    a.ModelVersion,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

func writeAssessError(w http.ResponseWriter, err error) {
	kind := assess.ErrorKind(err)
	switch kind {
	case assess.KindInvalidInput:
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: kind})
	case assess.KindModelUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "model unavailable", Kind: kind})
	default:
		slog.Error("assessment failed", "kind", kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "assessment failed", Kind: kind})
	}
}

// AssessAsync handles POST /assess/async by queueing the request on the
// event bus. The result arrives on the assessment.completed topic.
func (h *Handler) AssessAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "event bus not available",
		})
		return
	}

	var req assess.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON request body",
		})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to encode request"})
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicAssessmentRequested, payload); err != nil {
		slog.Error("failed to queue assessment", "request_id", req.RequestID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to queue assessment"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": req.RequestID,
		"status":    "queued",
	})
}

// ListAssessments handles GET /assessments?tier=HIGH&limit=20.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "repository not available",
		})
		return
	}

	var tier domain.RiskTier
	if raw := r.URL.Query().Get("tier"); raw != "" {
		tier = domain.RiskTier(raw)
		if tier != domain.RiskLow && tier != domain.RiskMedium && tier != domain.RiskHigh {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "tier must be one of LOW, MEDIUM, HIGH",
			})
			return
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	list, err := h.repo.ListAssessments(ctx, tenantID, tier, limit)
	if err != nil {
		slog.Error("failed to list assessments", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list assessments",
		})
		return
	}
	if list == nil {
		list = []*domain.Assessment{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": list,
		"count":       len(list),
	})
}

// GetAssessment retrieves an assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "assessment id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "repository not available",
		})
		return
	}

	a, err := h.repo.GetAssessment(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "assessment not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to get assessment",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ModelInfo describes the loaded classifier.
type ModelInfo struct {
	Kind      string         `json:"kind"`
	Version   string         `json:"version"`
	TrainedAt time.Time      `json:"trainedAt,omitempty"`
	Columns   []string       `json:"columns"`
	Metrics   *model.Metrics `json:"metrics,omitempty"`
	Trees     int            `json:"trees,omitempty"`
	Tiers     map[string]any `json:"tiers"`
}

// Model handles GET /model.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	m := h.runner.Service().Model()

	info := ModelInfo{
		Kind:      string(m.Kind),
		Version:   m.Version,
		TrainedAt: m.TrainedAt,
		Columns:   m.Columns,
		Tiers: map[string]any{
			"highThreshold": tiering.HighRiskThreshold,
			"lowThreshold":  tiering.LowRiskThreshold,
		},
		Metrics: m.Metrics,
	}
	if ensemble, ok := m.Scorer.(*model.TreeEnsemble); ok {
		info.Trees = ensemble.Size()
	}

	writeJSON(w, http.StatusOK, info)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether a classifier is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil || h.runner.Service().Model() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeJSON encodes before writing the header, so an unencodable value
// becomes a 500 instead of a success status with an empty body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode response", "status", status, "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{Error: "failed to encode response", Kind: "internal"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}
