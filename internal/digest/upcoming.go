package digest

import (
	"fmt"
	"sort"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
)

// SourceRecords is the full known record set of one source.
type SourceRecords struct {
	SourceID string
	Title    string
	Records  []record.Record
}

// UpcomingItem is a record starting within the look-ahead window.
type UpcomingItem struct {
	SourceID  string
	Title     string
	Record    record.Record
	Start     time.Time
	DaysUntil int
}

// When is the human timing label: "TODAY", "Tomorrow" or "in N days".
func (u UpcomingItem) When() string {
	switch u.DaysUntil {
	case 0:
		return "TODAY"
	case 1:
		return "Tomorrow"
	default:
		return fmt.Sprintf("in %d days", u.DaysUntil)
	}
}

// Upcoming selects records whose start_date falls in [today, today+daysAhead]
// (calendar days in today's location), ordered by start date. Ties keep the
// order of groups and of records within a group. Records without a parseable
// start_date are skipped. A negative daysAhead selects nothing.
func Upcoming(groups []SourceRecords, today time.Time, daysAhead int) []UpcomingItem {
	out := make([]UpcomingItem, 0)
	if daysAhead < 0 {
		return out
	}
	loc := today.Location()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	cutoff := day.AddDate(0, 0, daysAhead)

	for _, g := range groups {
		for _, r := range g.Records {
			raw := r.Get(record.FieldStartDate, "")
			if raw == "" {
				continue
			}
			start, err := time.ParseInLocation(record.DateLayout, raw, loc)
			if err != nil {
				continue
			}
			if start.Before(day) || start.After(cutoff) {
				continue
			}
			out = append(out, UpcomingItem{
				SourceID:  g.SourceID,
				Title:     g.Title,
				Record:    r.Clone(),
				Start:     start,
				DaysUntil: daysBetween(day, start),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// daysBetween counts calendar days; a DST shift makes some days 23h or 25h long.
func daysBetween(from, to time.Time) int {
	n := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}
