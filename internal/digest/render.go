package digest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	"github.com/rdjerrouf/Chicago-Event-Monitor/pkg/tgui"
)

// Text renders the digest as plain text.
func (m Message) Text() string { return m.render(tgui.New(false)) }

// HTML renders the digest using only Telegram-safe tags, with "\n" line breaks.
func (m Message) HTML() string { return m.render(tgui.New(true)) }

func (m Message) render(b *tgui.Builder) string {
	b.Title("", m.Subject)
	if !m.GeneratedAt.IsZero() {
		b.Line("Generated " + m.GeneratedAt.Format("Mon Jan 2 2006 15:04 MST"))
	}
	if m.Empty() {
		b.Blank().Line("Nothing new since the last run.")
	}

	for _, sec := range m.Sections {
		b.Blank()
		switch sec.Status {
		case StatusUnavailable:
			b.Section(sec.Label() + ": not configured")
			continue
		case StatusFailed:
			b.Section(sec.Label() + ": fetch failed")
			if sec.Note != "" {
				b.Line(tgui.TruncRunes(sec.Note, 300))
			}
			continue
		}

		head := fmt.Sprintf("%s: %d new", sec.Label(), len(sec.Records))
		if sec.HasSeverity {
			head += " | severity " + sec.Severity.String()
		}
		b.Section(head)

		for _, name := range sec.Metrics.Names() {
			b.KV(name, formatMetric(name, sec.Metrics[name]))
		}
		for _, k := range sortedKeys(sec.Details) {
			b.KV(k, sec.Details[k])
		}
		for _, r := range sec.Records {
			renderRecord(b, r)
		}
	}

	if len(m.Upcoming) > 0 {
		b.Blank().Section("Starting soon")
		for _, u := range m.Upcoming {
			label := u.Title
			if strings.TrimSpace(label) == "" {
				label = u.SourceID
			}
			b.Bullet(
				b.Bold(u.When()),
				b.Text(u.Record.Get(record.FieldEventName, "(unnamed)")),
				b.Text(label),
				b.Link("details", u.Record.Get(record.FieldURL, "")),
			)
		}
	}
	return b.String()
}

// renderRecord prints venue-style records as one bullet; anything without an
// event name falls back to its sorted fields.
func renderRecord(b *tgui.Builder, r record.Record) {
	name := r.Get(record.FieldEventName, "")
	if name == "" {
		parts := make([]tgui.H, 0, len(r))
		for _, k := range r.Fields() {
			parts = append(parts, b.Text(k+"="+r[k]))
		}
		b.Bullet(parts...)
		return
	}

	when := r.Get(record.FieldStartDate, "")
	if end := r.Get(record.FieldEndDate, ""); end != "" && end != when {
		when += " to " + end
	}
	b.Bullet(
		b.Bold(name),
		b.Text(when),
		b.Text(r.Get(record.FieldLocation, "")),
		b.Link("details", r.Get(record.FieldURL, "")),
	)
}

// Rates are percentages by convention.
func formatMetric(name string, v float64) string {
	if strings.HasSuffix(name, "_rate") {
		return fmt.Sprintf("%.1f%%", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
