// Package assess runs one end-to-end scoring call: extract features, align
// them to the model schema, score, and tier the probability.
package assess

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/features"
	"github.com/opensource-finance/scamscore/internal/model"
	"github.com/opensource-finance/scamscore/internal/tiering"
)

var tracer = otel.Tracer("scamscore-assess")

// Error kinds reported to callers.
const (
	KindInvalidInput     = "invalid_input"
	KindClassifierError  = "classifier_error"
	KindModelUnavailable = "model_unavailable"
	KindInternal         = "internal"
)

// ErrorKind classifies an error returned by Assess.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, domain.ErrClassifier):
		return KindClassifierError
	case errors.Is(err, domain.ErrModelUnavailable):
		return KindModelUnavailable
	default:
		return KindInternal
	}
}

// Service scores transactions against one loaded model.
// It holds no mutable state and may be shared between goroutines.
type Service struct {
	extractor *features.Extractor
	model     *model.Model
}

// NewService creates a scoring service.
func NewService(extractor *features.Extractor, m *model.Model) *Service {
	return &Service{extractor: extractor, model: m}
}

// Model returns the loaded model.
func (s *Service) Model() *model.Model {
	return s.model
}

// Extractor returns the feature extractor.
func (s *Service) Extractor() *features.Extractor {
	return s.extractor
}

// Assess scores one transaction. Errors wrap domain.ErrInvalidInput or
// domain.ErrClassifier; the scorer is never called for invalid input.
func (s *Service) Assess(ctx context.Context, in domain.TransactionInput) (*domain.Assessment, error) {
	_, span := tracer.Start(ctx, "assess")
	defer span.End()

	f, err := s.extractor.Extract(in)
	if err != nil {
		span.SetStatus(codes.Error, KindInvalidInput)
		return nil, err
	}

	row := features.Align(f.Row(), s.model.Columns)
	p, err := s.score(row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindClassifierError)
		return nil, err
	}

	a := &domain.Assessment{
		ScamProbability: p,
		Features:        f,
		ModelVersion:    s.model.Version,
	}
	tiering.Classify(p).Apply(a)

	span.SetAttributes(
		attribute.Float64("scam.probability", p),
		attribute.String("scam.tier", string(a.Tier)),
		attribute.String("model.version", s.model.Version),
	)
	return a, nil
}

// score calls the scorer and converts every failure mode into ErrClassifier.
func (s *Service) score(row domain.FeatureRow) (p float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = 0, fmt.Errorf("%w: scorer panic: %v", domain.ErrClassifier, r)
		}
	}()

	p, err = s.model.Scorer.Score(row)
	if err != nil {
		if errors.Is(err, domain.ErrClassifier) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrClassifier, err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: probability %v outside [0,1]", domain.ErrClassifier, p)
	}
	return p, nil
}
