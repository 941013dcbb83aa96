package severity

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestClassifyBoundaries(t *testing.T) {
	t.Parallel()
	th := Thresholds{MetricCancellationRate: {High: 5, Medium: 2}}

	tests := []struct {
		name string
		rate float64
		want Level
	}{
		{name: "at high boundary", rate: 5, want: High},
		{name: "just below high", rate: 4.9, want: Medium},
		{name: "above high", rate: 12.5, want: High},
		{name: "at medium boundary", rate: 2, want: Medium},
		{name: "just below medium", rate: 1.99, want: Low},
		{name: "zero", rate: 0, want: Low},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(Metrics{MetricCancellationRate: tt.rate}, th)
			if got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestClassifyAnyMetricEscalates(t *testing.T) {
	t.Parallel()
	th := DefaultThresholds()

	if got := Classify(Metrics{MetricCancellationRate: 0, MetricDelayRate: 30}, th); got != High {
		t.Fatalf("delay at its high boundary: got %v, want HIGH", got)
	}
	if got := Classify(Metrics{MetricCancellationRate: 2, MetricDelayRate: 0}, th); got != Medium {
		t.Fatalf("cancellations at medium boundary: got %v, want MEDIUM", got)
	}
	if got := Classify(Metrics{"unknown_rate": 99}, th); got != Low {
		t.Fatalf("metric without threshold: got %v, want LOW", got)
	}
	if got := Classify(nil, th); got != Low {
		t.Fatalf("no metrics: got %v, want LOW", got)
	}
	if got := Classify(Metrics{MetricDelayRate: math.NaN()}, th); got != Low {
		t.Fatalf("NaN metric: got %v, want LOW", got)
	}
}

func TestThresholdsValidate(t *testing.T) {
	t.Parallel()
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}
	if err := (Thresholds{"x": {High: 1, Medium: 2}}).Validate(); err == nil {
		t.Fatal("expected error for high < medium")
	}
	if err := (Thresholds{"x": {High: 1, Medium: -1}}).Validate(); err == nil {
		t.Fatal("expected error for negative boundary")
	}
	if err := (Thresholds{"x": {High: 3, Medium: 3}}).Validate(); err != nil {
		t.Fatalf("equal boundaries should be accepted: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Level{"low": Low, "Medium": Medium, " HIGH ": High} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("severe"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestClassify_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("level matches the inclusive class of a single metric", prop.ForAll(
		func(medium, span, v float64) bool {
			th := Thresholds{"m": {High: medium + span, Medium: medium}}
			got := Classify(Metrics{"m": v}, th)
			switch {
			case v >= medium+span:
				return got == High
			case v >= medium:
				return got == Medium
			default:
				return got == Low
			}
		},
		gen.Float64Range(0, 50),
		gen.Float64Range(0, 50),
		gen.Float64Range(0, 120),
	))

	properties.Property("raising a metric never lowers the level", prop.ForAll(
		func(v, bump float64) bool {
			th := DefaultThresholds()
			before := Classify(Metrics{MetricDelayRate: v}, th)
			after := Classify(Metrics{MetricDelayRate: v + bump}, th)
			return after >= before
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
