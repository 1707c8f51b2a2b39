// Package model loads, trains and evaluates the scam classifier.
//
// A classifier is stored as two artifacts: model.json holds the scorer
// itself and columns.json holds the ordered feature columns it was trained
// on. Both are required; a missing or malformed artifact is reported as
// domain.ErrModelUnavailable.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// Artifact file names.
const (
	ModelFile   = "model.json"
	ColumnsFile = "columns.json"
)

// Kind identifies the scorer backend stored in an artifact.
type Kind string

const (
	// KindGBDT is a gradient-boosted tree ensemble with a logistic link.
	KindGBDT Kind = "gbdt"

	// KindCEL is a CEL expression over the feature columns.
	KindCEL Kind = "cel"
)

// Artifact is the serialized form of model.json.
type Artifact struct {
	Kind      Kind      `json:"kind"`
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trainedAt"`

	// gbdt
	BaseScore float64 `json:"baseScore,omitempty"`
	Trees     []Tree  `json:"trees,omitempty"`

	// cel
	Expression string `json:"expression,omitempty"`

	// Metrics measured on the held-out set at training time.
	Metrics *Metrics `json:"metrics,omitempty"`
}

// Model is a loaded classifier ready for inference. It is immutable and
// safe to share between goroutines.
type Model struct {
	Scorer    domain.Scorer
	Columns   []string
	Kind      Kind
	Version   string
	TrainedAt time.Time
	Metrics   *Metrics
}

// Load reads model.json and columns.json from disk.
func Load(modelPath, columnsPath string) (*Model, error) {
	payload, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	rawCols, err := os.ReadFile(columnsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	var columns []string
	if err := json.Unmarshal(rawCols, &columns); err != nil {
		return nil, fmt.Errorf("%w: invalid column schema %s: %v", domain.ErrModelUnavailable, columnsPath, err)
	}

	return decode(payload, columns)
}

// LoadRecord builds a model from a registered repository record.
func LoadRecord(rec *domain.ModelRecord) (*Model, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: no model record", domain.ErrModelUnavailable)
	}
	return decode(rec.Payload, rec.Columns)
}

func decode(payload []byte, columns []string) (*Model, error) {
	var a Artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("%w: invalid model artifact: %v", domain.ErrModelUnavailable, err)
	}
	return FromArtifact(&a, columns)
}

// FromArtifact constructs the scorer described by a.
func FromArtifact(a *Artifact, columns []string) (*Model, error) {
	if err := validateColumns(columns); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	var (
		scorer domain.Scorer
		err    error
	)
	switch a.Kind {
	case KindGBDT:
		scorer, err = NewTreeEnsemble(a.BaseScore, a.Trees, len(columns))
	case KindCEL:
		scorer, err = NewCELScorer(a.Expression, columns)
	default:
		err = fmt.Errorf("unsupported model kind %q", a.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	cols := make([]string, len(columns))
	copy(cols, columns)

	return &Model{
		Scorer:    scorer,
		Columns:   cols,
		Kind:      a.Kind,
		Version:   a.Version,
		TrainedAt: a.TrainedAt,
		Metrics:   a.Metrics,
	}, nil
}

func validateColumns(columns []string) error {
	if len(columns) == 0 {
		return errors.New("column schema is empty")
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c == "" {
			return errors.New("column schema contains an empty name")
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Save writes model.json and columns.json into dir, creating it if needed.
func Save(dir string, a *Artifact, columns []string) (modelPath, columnsPath string, err error) {
	if err := validateColumns(columns); err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode model: %w", err)
	}
	cols, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode columns: %w", err)
	}

	modelPath = filepath.Join(dir, ModelFile)
	columnsPath = filepath.Join(dir, ColumnsFile)
	if err := os.WriteFile(modelPath, payload, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.WriteFile(columnsPath, cols, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write columns: %w", err)
	}
	return modelPath, columnsPath, nil
}

// Record packages an artifact for the model registry.
func Record(name string, a *Artifact, columns []string) (*domain.ModelRecord, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &domain.ModelRecord{
		Name:      name,
		Version:   a.Version,
		Kind:      string(a.Kind),
		Columns:   cols,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}
