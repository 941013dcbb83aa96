// Package severity maps aggregate status metrics (for example flight
// cancellation and delay rates) onto a discrete level.
//
// Boundaries are inclusive on the lower edge of each class:
//
//	metric >= High            -> HIGH
//	Medium <= metric < High   -> MEDIUM
//	metric < Medium           -> LOW
//
// Classification has no state; the same inputs always give the same level.
package severity

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Level is an ordered severity class. The zero value is Low.
type Level int

const (
	Low Level = iota
	Medium
	High
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel parses "low", "medium" or "high" (any case).
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return Low, nil
	case "MEDIUM":
		return Medium, nil
	case "HIGH":
		return High, nil
	}
	return Low, fmt.Errorf("unknown severity level %q", s)
}

// Metrics holds named rates reported by a status-style source.
type Metrics map[string]float64

// Names returns the metric names in sorted order.
func (m Metrics) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Boundary is the pair of lower edges for one metric. High must be >= Medium.
type Boundary struct {
	High   float64
	Medium float64
}

// Thresholds is the declarative boundary table, keyed by metric name.
type Thresholds map[string]Boundary

// Well-known metric names.
const (
	MetricCancellationRate = "cancellation_rate"
	MetricDelayRate        = "delay_rate"
)

// DefaultThresholds returns the flight-disruption table: 5% cancellations or
// 30% delays is HIGH, 2% or 15% is MEDIUM.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MetricCancellationRate: {High: 5, Medium: 2},
		MetricDelayRate:        {High: 30, Medium: 15},
	}
}

// Validate rejects inverted or non-finite boundaries.
func (t Thresholds) Validate() error {
	names := make([]string, 0, len(t))
	for k := range t {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		b := t[name]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("threshold with empty metric name")
		}
		if math.IsNaN(b.High) || math.IsNaN(b.Medium) || math.IsInf(b.High, 0) || math.IsInf(b.Medium, 0) {
			return fmt.Errorf("%s: boundaries must be finite", name)
		}
		if b.Medium < 0 || b.High < 0 {
			return fmt.Errorf("%s: boundaries must be >= 0", name)
		}
		if b.High < b.Medium {
			return fmt.Errorf("%s: high boundary %.4g is below medium boundary %.4g", name, b.High, b.Medium)
		}
	}
	return nil
}

// Classify returns HIGH if any metric meets or exceeds its high boundary, else
// MEDIUM if any metric meets or exceeds its medium boundary, else LOW.
// Metrics with no entry in thresholds, and NaN values, are ignored.
func Classify(metrics Metrics, thresholds Thresholds) Level {
	level := Low
	for name, v := range metrics {
		b, ok := thresholds[name]
		if !ok || math.IsNaN(v) {
			continue
		}
		switch {
		case v >= b.High:
			return High
		case v >= b.Medium:
			level = Medium
		}
	}
	return level
}
