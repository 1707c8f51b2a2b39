package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/scamscore/internal/assess"
	"github.com/opensource-finance/scamscore/internal/bus"
	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/features"
	"github.com/opensource-finance/scamscore/internal/model"
	"github.com/opensource-finance/scamscore/internal/repository"
)

const testExpression = "is_collect_request == 1.0 ? 0.92 : (is_new_device == 1.0 ? 0.5 : 0.08)"

type failingScorer struct{}

func (failingScorer) Score(domain.FeatureRow) (float64, error) {
	return 0, errors.New("booster crashed")
}

func testConfig() domain.ServerConfig {
	return domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
}

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "scamscore-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// createTestServer creates a server backed by a CEL model and a sqlite repository.
func createTestServer(t *testing.T) (*Server, *bus.ChannelBus) {
	t.Helper()

	m, err := model.FromArtifact(&model.Artifact{
		Kind:       model.KindCEL,
		Version:    "cel-test",
		Expression: testExpression,
	}, domain.FeatureColumns)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}

	repo := newTestRepo(t)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	svc := assess.NewService(features.NewExtractor(domain.DefaultReferenceAvg), m)
	runner := assess.NewRunner(svc, nil, repo, eventBus)

	return NewServer(testConfig(), runner, repo, nil, eventBus, "test-v1"), eventBus
}

func postAssess(t *testing.T, server *Server, path, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestAssessEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("HighRiskCollectRequest", func(t *testing.T) {
		rr := postAssess(t, server, "/assess", "tenant-001",
			`{"amount":"8000","transactionType":"COLLECT_REQUEST","isNewBeneficiary":true,"isNewDevice":false,"frequency":"Medium"}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AssessResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.AssessmentID == "" {
			t.Error("expected assessmentId in response")
		}
		if resp.Tier != domain.RiskHigh {
			t.Errorf("expected tier HIGH, got %s", resp.Tier)
		}
		if resp.Color != "#e74c3c" {
			t.Errorf("expected high risk color, got %s", resp.Color)
		}
		if resp.ProbabilityText != "Scam Probability: 92.0%" {
			t.Errorf("unexpected probability text %q", resp.ProbabilityText)
		}
		if resp.Features.AmountToAvgRatio != 2.0 {
			t.Errorf("expected ratio 2.0, got %.2f", resp.Features.AmountToAvgRatio)
		}
		if resp.Features.TxVelocity1h != 10 {
			t.Errorf("expected velocity 10, got %d", resp.Features.TxVelocity1h)
		}
		if resp.ModelVersion != "cel-test" {
			t.Errorf("expected model version cel-test, got %s", resp.ModelVersion)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("NumericAmount", func(t *testing.T) {
		rr := postAssess(t, server, "/assess", "tenant-001",
			`{"amount":1200.5,"transactionType":"DEBIT","frequency":"Low"}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp AssessResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Tier != domain.RiskLow {
			t.Errorf("expected tier LOW, got %s", resp.Tier)
		}
		if resp.Features.Amount != 1200.5 {
			t.Errorf("expected amount 1200.5, got %.2f", resp.Features.Amount)
		}
	})

	t.Run("MediumIsUncertain", func(t *testing.T) {
		rr := postAssess(t, server, "/assess", "tenant-001",
			`{"amount":"300","transactionType":"CREDIT","isNewDevice":true,"frequency":"High"}`)

		var resp AssessResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Tier != domain.RiskMedium {
			t.Errorf("expected tier MEDIUM, got %s", resp.Tier)
		}
		if resp.ProbabilityText != "Scam Probability: 50.0% (Uncertain)" {
			t.Errorf("unexpected probability text %q", resp.ProbabilityText)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		cases := map[string]string{
			"non-numeric amount": `{"amount":"abc","transactionType":"DEBIT","frequency":"Low"}`,
			"zero amount":        `{"amount":"0","transactionType":"DEBIT","frequency":"Low"}`,
			"unknown type":       `{"amount":"100","transactionType":"REFUND","frequency":"Low"}`,
			"unknown frequency":  `{"amount":"100","transactionType":"DEBIT","frequency":"Extreme"}`,
			"overflowing amount": `{"amount":"1e400","transactionType":"DEBIT","frequency":"Low"}`,
			"underflow amount":   `{"amount":"1e-400","transactionType":"DEBIT","frequency":"Low"}`,
		}

		for name, body := range cases {
			t.Run(name, func(t *testing.T) {
				rr := postAssess(t, server, "/assess", "tenant-001", body)
				if rr.Code != http.StatusUnprocessableEntity {
					t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
				}
				var resp ErrorResponse
				json.Unmarshal(rr.Body.Bytes(), &resp)
				if resp.Kind != assess.KindInvalidInput {
					t.Errorf("expected kind invalid_input, got %s", resp.Kind)
				}
				if resp.Error == "" {
					t.Error("expected error message")
				}
			})
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := postAssess(t, server, "/assess", "", "{}")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("WildcardTenantRejected", func(t *testing.T) {
		rr := postAssess(t, server, "/assess", "*",
			`{"amount":"100","transactionType":"DEBIT","frequency":"Low"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("OversizedBody", func(t *testing.T) {
		body := `{"amount":"100","transactionType":"DEBIT","frequency":"Low","actorId":"` +
			strings.Repeat("x", maxBodyBytes) + `"}`
		rr := postAssess(t, server, "/assess", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := postAssess(t, server, "/assess", "tenant-001", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAssessClassifierError(t *testing.T) {
	svc := assess.NewService(features.NewExtractor(domain.DefaultReferenceAvg), &model.Model{
		Scorer:  failingScorer{},
		Columns: domain.FeatureColumns,
		Version: "broken",
	})
	server := NewServer(testConfig(), assess.NewRunner(svc, nil, nil, nil), nil, nil, nil, "test-v1")

	rr := postAssess(t, server, "/assess", "tenant-001",
		`{"amount":"100","transactionType":"DEBIT","frequency":"Low"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	var resp ErrorResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Kind != assess.KindClassifierError {
		t.Errorf("expected kind classifier_error, got %s", resp.Kind)
	}
}

func TestAssessmentRetrieval(t *testing.T) {
	server, _ := createTestServer(t)

	var ids []string
	for _, body := range []string{
		`{"amount":"8000","transactionType":"COLLECT_REQUEST","frequency":"Medium"}`,
		`{"amount":"500","transactionType":"DEBIT","frequency":"Low"}`,
		`{"amount":"9000","transactionType":"COLLECT_REQUEST","frequency":"Anomalous"}`,
	} {
		rr := postAssess(t, server, "/assess", "tenant-001", body)
		var resp AssessResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		ids = append(ids, resp.AssessmentID)
	}

	get := func(path, tenantID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(TenantIDHeader, tenantID)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("GetAssessment", func(t *testing.T) {
		rr := get("/assessments/"+ids[0], "tenant-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var a domain.Assessment
		json.Unmarshal(rr.Body.Bytes(), &a)
		if a.ID != ids[0] {
			t.Errorf("expected id %s, got %s", ids[0], a.ID)
		}
		if a.Tier != domain.RiskHigh {
			t.Errorf("expected tier HIGH, got %s", a.Tier)
		}
	})

	t.Run("OtherTenantNotFound", func(t *testing.T) {
		rr := get("/assessments/"+ids[0], "tenant-002")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListByTier", func(t *testing.T) {
		rr := get("/assessments?tier=HIGH", "tenant-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Assessments []domain.Assessment `json:"assessments"`
			Count       int                 `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 HIGH assessments, got %d", resp.Count)
		}
	})

	t.Run("ListRejectsBadTier", func(t *testing.T) {
		rr := get("/assessments?tier=SEVERE", "tenant-001")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ListRejectsBadLimit", func(t *testing.T) {
		rr := get("/assessments?limit=-1", "tenant-001")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAssessAsync(t *testing.T) {
	server, eventBus := createTestServer(t)

	received := make(chan []byte, 1)
	eventBus.Subscribe(context.Background(), "tenant-001", domain.TopicAssessmentRequested, func(ctx context.Context, msg *domain.Message) error {
		received <- msg.Payload
		return nil
	})

	rr := postAssess(t, server, "/assess/async", "tenant-001",
		`{"amount":"100","transactionType":"DEBIT","frequency":"Low","requestId":"req-42"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	select {
	case payload := <-received:
		var msg assess.Request
		json.Unmarshal(payload, &msg)
		if msg.RequestID != "req-42" || msg.Amount != "100" {
			t.Errorf("unexpected queued message %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected request to be queued on the bus")
	}
}

func TestModelEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/model", nil)
	req.Header.Set(TenantIDHeader, "tenant-001")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var info ModelInfo
	json.Unmarshal(rr.Body.Bytes(), &info)
	if info.Kind != "cel" || info.Version != "cel-test" {
		t.Errorf("unexpected model info %+v", info)
	}
	if len(info.Columns) != len(domain.FeatureColumns) {
		t.Errorf("expected %d columns, got %d", len(domain.FeatureColumns), len(info.Columns))
	}
	if info.Trees != 0 {
		t.Errorf("expected no tree count for a CEL model, got %d", info.Trees)
	}
}

func TestModelEndpointTreeCount(t *testing.T) {
	leaf := model.Tree{Nodes: []model.Node{{Leaf: true, Value: 0.5}}}
	m, err := model.FromArtifact(&model.Artifact{
		Kind:    model.KindGBDT,
		Version: "gbdt-test",
		Trees:   []model.Tree{leaf, leaf, leaf},
	}, domain.FeatureColumns)
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	svc := assess.NewService(features.NewExtractor(domain.DefaultReferenceAvg), m)
	server := NewServer(testConfig(), assess.NewRunner(svc, nil, nil, nil), nil, nil, nil, "test-v1")

	req := httptest.NewRequest(http.MethodGet, "/model", nil)
	req.Header.Set(TenantIDHeader, "tenant-001")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	var info ModelInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to parse model info: %v", err)
	}
	if info.Kind != "gbdt" || info.Trees != 3 {
		t.Errorf("expected gbdt with 3 trees, got %+v", info)
	}
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rr := httptest.NewRecorder()
			server.Router().ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rr.Code)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	server, _ := createTestServer(t)
	if got := server.Addr(); got != "localhost:8080" {
		t.Errorf("expected localhost:8080, got %s", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _ := createTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/assess", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected origin echo, got %q", got)
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]float64{"amount": math.Inf(1)})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected a JSON error body, got %q", rr.Body.String())
	}
	if resp.Kind != "internal" {
		t.Errorf("expected kind internal, got %s", resp.Kind)
	}
}
