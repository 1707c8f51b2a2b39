package tiering

import (
	"math"
	"strings"
	"testing"

	"github.com/opensource-finance/scamscore/internal/domain"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		p    float64
		want domain.RiskTier
	}{
		{0.70, domain.RiskMedium},
		{0.7000001, domain.RiskHigh},
		{0.30, domain.RiskMedium},
		{0.2999999, domain.RiskLow},
		{0.0, domain.RiskLow},
		{1.0, domain.RiskHigh},
		{0.5, domain.RiskMedium},
	}

	for _, tc := range cases {
		got := Classify(tc.p)
		if got.Tier != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.p, got.Tier, tc.want)
		}
	}
}

func TestClassifyPresentation(t *testing.T) {
	t.Run("High", func(t *testing.T) {
		r := Classify(0.92)
		if r.Label != LabelHigh || r.Color != ColorHigh {
			t.Errorf("unexpected presentation: %+v", r)
		}
		if r.ProbabilityText != "Scam Probability: 92.0%" {
			t.Errorf("unexpected text %q", r.ProbabilityText)
		}
		if r.Fill != 0.92 {
			t.Errorf("expected fill 0.92, got %v", r.Fill)
		}
	})

	t.Run("Medium", func(t *testing.T) {
		r := Classify(0.45)
		if r.Label != LabelMedium || r.Color != ColorMedium {
			t.Errorf("unexpected presentation: %+v", r)
		}
		if r.ProbabilityText != "Scam Probability: 45.0% (Uncertain)" {
			t.Errorf("unexpected text %q", r.ProbabilityText)
		}
	})

	t.Run("Low", func(t *testing.T) {
		r := Classify(0.031)
		if r.Label != LabelLow || r.Color != ColorLow {
			t.Errorf("unexpected presentation: %+v", r)
		}
		if strings.Contains(r.ProbabilityText, "Uncertain") {
			t.Errorf("low tier must not be marked uncertain: %q", r.ProbabilityText)
		}
		if r.ProbabilityText != "Scam Probability: 3.1%" {
			t.Errorf("unexpected text %q", r.ProbabilityText)
		}
	})
}

func TestClassifyFillClamped(t *testing.T) {
	if f := Classify(1.5).Fill; f != 1 {
		t.Errorf("expected fill 1, got %v", f)
	}
	if f := Classify(-0.2).Fill; f != 0 {
		t.Errorf("expected fill 0, got %v", f)
	}
	if r := Classify(math.NaN()); r.Tier != domain.RiskLow || r.Fill != 0 {
		t.Errorf("NaN should classify as LOW with zero fill, got %+v", r)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	probs := []float64{0.0, 0.1, 0.2999999, 0.3, 0.5, 0.7, 0.7000001, 0.99, 1.0}
	first := make([]Result, len(probs))
	for i, p := range probs {
		first[i] = Classify(p)
	}

	// Classify in reverse order and interleaved with other calls.
	for i := len(probs) - 1; i >= 0; i-- {
		Classify(1 - probs[i])
		if got := Classify(probs[i]); got != first[i] {
			t.Errorf("Classify(%v) changed between calls: %+v vs %+v", probs[i], got, first[i])
		}
	}
}

func TestApply(t *testing.T) {
	a := &domain.Assessment{ScamProbability: 0.8}
	Classify(a.ScamProbability).Apply(a)

	if !a.IsHighRisk() {
		t.Errorf("expected HIGH, got %s", a.Tier)
	}
	if a.Label != LabelHigh || a.Color != ColorHigh || a.Fill != 0.8 {
		t.Errorf("assessment not populated: %+v", a)
	}
	if TierOf(0.1) != domain.RiskLow {
		t.Error("TierOf(0.1) should be LOW")
	}
}
