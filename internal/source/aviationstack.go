package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/severity"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

const aviationstackAPI = "http://api.aviationstack.com/v1/flights"

// Detail keys produced by the flight adapter.
const (
	DetailTotalFlights     = "total_flights"
	DetailDelayedFlights   = "delayed_flights"
	DetailCancelledFlights = "cancelled_flights"
	DetailAvgDelayMinutes  = "avg_delay_minutes"
	DetailPeakHours        = "peak_hours"
	DetailSummary          = "summary"
)

type avResponse struct {
	Error json.RawMessage `json:"error"`
	Data  []avFlight      `json:"data"`
}

type avFlight struct {
	FlightStatus string `json:"flight_status"`
	Departure    struct {
		Scheduled string `json:"scheduled"`
		Estimated string `json:"estimated"`
		Actual    string `json:"actual"`
	} `json:"departure"`
}

// Aviationstack summarizes departures from one airport into delay and
// cancellation rates. It produces metrics only, no records.
type Aviationstack struct{ *base }

func newAviationstack(b *base) *Aviationstack { return &Aviationstack{base: b} }

func (a *Aviationstack) Name() string { return a.cfg.ID }

func (a *Aviationstack) Fetch(ctx context.Context) (Result, error) {
	key := strings.TrimSpace(a.cfg.APIKey)
	if key == "" {
		return Result{}, unavailable("aviationstack access key not configured")
	}
	limit := a.cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("access_key", key)
	q.Set("dep_iata", strings.ToUpper(strings.TrimSpace(a.cfg.Airport)))
	q.Set("limit", strconv.Itoa(limit))

	var resp avResponse
	if err := a.getJSON(ctx, baseURL(a.cfg, aviationstackAPI)+"?"+q.Encode(), &resp); err != nil {
		return Result{}, fmt.Errorf("aviationstack: %s", strings.ReplaceAll(err.Error(), key, "***"))
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return Result{}, fmt.Errorf("aviationstack api error: %s", excerpt(resp.Error))
	}
	if len(resp.Data) == 0 {
		return Result{}, errors.New("aviationstack: no flight data returned")
	}

	threshold := a.cfg.DelayMinutes
	if threshold <= 0 {
		threshold = 15
	}
	st := summarizeFlights(resp.Data, time.Duration(threshold)*time.Minute)
	a.log.Info("flights analyzed",
		logx.Int("total", st.total),
		logx.Int("delayed", st.delayed),
		logx.Int("cancelled", st.cancelled),
	)
	return Result{
		Metrics: severity.Metrics{
			severity.MetricCancellationRate: st.rate(st.cancelled),
			severity.MetricDelayRate:        st.rate(st.delayed),
		},
		Details: st.details(),
	}, nil
}

type flightStats struct {
	total, delayed, cancelled int
	avgDelay                  int
	peakHours                 []string
}

func summarizeFlights(flights []avFlight, threshold time.Duration) flightStats {
	st := flightStats{total: len(flights)}
	var delaySum float64
	hourCount := map[int]int{}
	hourOrder := make([]int, 0, 24)

	for _, f := range flights {
		if strings.EqualFold(strings.TrimSpace(f.FlightStatus), "cancelled") {
			st.cancelled++
			continue
		}
		sched, schedErr := parseFlightTime(f.Departure.Scheduled)
		actualRaw := f.Departure.Actual
		if strings.TrimSpace(actualRaw) == "" {
			actualRaw = f.Departure.Estimated
		}
		if schedErr == nil {
			if actual, err := parseFlightTime(actualRaw); err == nil {
				if d := actual.Sub(sched); d > threshold {
					st.delayed++
					delaySum += d.Minutes()
				}
			}
			h := sched.Hour()
			if _, seen := hourCount[h]; !seen {
				hourOrder = append(hourOrder, h)
			}
			hourCount[h]++
		}
	}
	if st.delayed > 0 {
		st.avgDelay = int(delaySum / float64(st.delayed))
	}

	sort.SliceStable(hourOrder, func(i, j int) bool { return hourCount[hourOrder[i]] > hourCount[hourOrder[j]] })
	for i, h := range hourOrder {
		if i == 3 {
			break
		}
		st.peakHours = append(st.peakHours, formatHourRange(h))
	}
	return st
}

// rate is n as an unrounded percentage of all flights. Severity is classified
// on this value; rounding is left to rendering.
func (st flightStats) rate(n int) float64 {
	if st.total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(st.total)
}

func (st flightStats) details() map[string]string {
	summary := "No significant delays or cancellations"
	if st.delayed > 0 || st.cancelled > 0 {
		summary = fmt.Sprintf("%d delayed, %d cancelled", st.delayed, st.cancelled)
		if st.avgDelay > 0 {
			summary += fmt.Sprintf(" (avg delay: %d min)", st.avgDelay)
		}
	}
	return map[string]string{
		DetailTotalFlights:     strconv.Itoa(st.total),
		DetailDelayedFlights:   strconv.Itoa(st.delayed),
		DetailCancelledFlights: strconv.Itoa(st.cancelled),
		DetailAvgDelayMinutes:  strconv.Itoa(st.avgDelay),
		DetailPeakHours:        strings.Join(st.peakHours, ", "),
		DetailSummary:          summary,
	}
}

func parseFlightTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// formatHourRange renders hour 6 as "6am-7am" and hour 23 as "11pm-12am".
func formatHourRange(hour int) string {
	twelve := func(h int) int {
		if h%12 == 0 {
			return 12
		}
		return h % 12
	}
	startPeriod := "am"
	if hour >= 12 {
		startPeriod = "pm"
	}
	endPeriod := "pm"
	if hour+1 < 12 || hour == 23 {
		endPeriod = "am"
	}
	return fmt.Sprintf("%d%s-%d%s", twelve(hour), startPeriod, twelve(hour+1), endPeriod)
}
