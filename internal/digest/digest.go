// Package digest builds the single consolidated notification of a run.
//
// Compose is a pure transformation: it copies everything it keeps, so callers
// may reuse or mutate their inputs afterwards. The renderers (Text, HTML) only
// read the composed Message.
package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/severity"
)

// DefaultTitle prefixes the subject when Input.Title is empty.
const DefaultTitle = "Chicago Event Monitor"

// Status is the per-source outcome of a run as seen by the digest.
type Status int

const (
	StatusOK Status = iota
	StatusUnavailable
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// SourceResult is one processed source, in processing order.
//
// New is only meaningful for StatusOK. HasSeverity is set when the source
// reported metrics and Severity was classified from them.
type SourceResult struct {
	SourceID    string
	Title       string
	Status      Status
	New         []record.Record
	HasSeverity bool
	Severity    severity.Level
	Metrics     severity.Metrics
	Details     map[string]string
	Err         error
}

func (r SourceResult) high() bool {
	return r.Status == StatusOK && r.HasSeverity && r.Severity == severity.High
}

// Input is everything Compose needs.
type Input struct {
	Title       string
	GeneratedAt time.Time
	Sources     []SourceResult
	Upcoming    []UpcomingItem
}

// Section is the body block of one source.
type Section struct {
	SourceID    string
	Title       string
	Status      Status
	Records     []record.Record
	HasSeverity bool
	Severity    severity.Level
	Metrics     severity.Metrics
	Details     map[string]string
	Note        string
}

// Label is the section heading name: the title when set, else the source id.
func (s Section) Label() string {
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	return s.SourceID
}

// Message is a composed digest. It is always valid, even with zero sections.
type Message struct {
	Subject     string
	Title       string
	GeneratedAt time.Time
	TotalNew    int
	HighSources []string
	Sections    []Section
	Upcoming    []UpcomingItem
}

// High reports whether any source in the digest classified as HIGH.
func (m Message) High() bool { return len(m.HighSources) > 0 }

// Empty reports a "nothing new" digest: no new records and no HIGH severity.
func (m Message) Empty() bool { return m.TotalNew == 0 && !m.High() }

// Compose builds the digest for one run.
func Compose(in Input) Message {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}

	msg := Message{
		Title:       title,
		GeneratedAt: in.GeneratedAt,
		Sections:    make([]Section, 0, len(in.Sources)),
		HighSources: []string{},
		Upcoming:    cloneUpcoming(in.Upcoming),
	}

	counts := make([]string, 0, len(in.Sources))
	for _, src := range in.Sources {
		sec := Section{
			SourceID:    src.SourceID,
			Title:       src.Title,
			Status:      src.Status,
			HasSeverity: src.HasSeverity,
			Severity:    src.Severity,
			Metrics:     cloneMetrics(src.Metrics),
			Details:     cloneDetails(src.Details),
			Records:     []record.Record{},
		}
		switch src.Status {
		case StatusOK:
			sec.Records = record.CloneAll(src.New)
			msg.TotalNew += len(sec.Records)
			entry := fmt.Sprintf("%s %d", src.SourceID, len(sec.Records))
			if src.high() {
				entry += " HIGH"
				msg.HighSources = append(msg.HighSources, src.SourceID)
			}
			counts = append(counts, entry)
		case StatusFailed:
			if src.Err != nil {
				sec.Note = src.Err.Error()
			}
		}
		msg.Sections = append(msg.Sections, sec)
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString(": ")
	if msg.High() {
		b.WriteString("HIGH severity, ")
	}
	fmt.Fprintf(&b, "%d new", msg.TotalNew)
	if len(counts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(counts, ", "))
		b.WriteString(")")
	}
	msg.Subject = b.String()
	return msg
}

func cloneMetrics(m severity.Metrics) severity.Metrics {
	if m == nil {
		return nil
	}
	out := make(severity.Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDetails(d map[string]string) map[string]string {
	if d == nil {
		return nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func cloneUpcoming(in []UpcomingItem) []UpcomingItem {
	out := make([]UpcomingItem, 0, len(in))
	for _, it := range in {
		it.Record = it.Record.Clone()
		out = append(out, it)
	}
	return out
}
