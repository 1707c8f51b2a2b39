package model

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// CELScorer scores a row with a CEL expression. Every trained column is
// declared as a double variable.
type CELScorer struct {
	expression string
	columns    []string
	program    cel.Program
}

// NewCELScorer compiles expression against the given columns.
func NewCELScorer(expression string, columns []string) (*CELScorer, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is required")
	}

	vars := make([]cel.EnvOption, 0, len(columns))
	for _, c := range columns {
		vars = append(vars, cel.Variable(c, cel.DoubleType))
	}
	env, err := cel.NewEnv(vars...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	cols := make([]string, len(columns))
	copy(cols, columns)
	return &CELScorer{expression: expression, columns: cols, program: program}, nil
}

// Expression returns the source expression.
func (s *CELScorer) Expression() string {
	return s.expression
}

// Score evaluates the expression for an aligned row.
func (s *CELScorer) Score(row domain.FeatureRow) (float64, error) {
	if len(row.Values) != len(s.columns) {
		return 0, fmt.Errorf("%w: expected %d features, got %d", domain.ErrClassifier, len(s.columns), len(row.Values))
	}

	activation := make(map[string]any, len(s.columns))
	for i, c := range s.columns {
		activation[c] = row.Values[i]
	}

	out, _, err := s.program.Eval(activation)
	if err != nil {
		return 0, fmt.Errorf("%w: evaluation error: %v", domain.ErrClassifier, err)
	}
	return toScore(out)
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: unexpected result type %s", domain.ErrClassifier, val.Type().TypeName())
	}
}
