package digest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/severity"
)

func ev(name, start string) record.Record {
	return record.Record{record.FieldEventName: name, record.FieldStartDate: start}
}

func TestComposeNothingNew(t *testing.T) {
	t.Parallel()
	msg := Compose(Input{Sources: []SourceResult{
		{SourceID: "venueA", Status: StatusOK, New: nil},
		{SourceID: "ohare", Status: StatusOK, HasSeverity: true, Severity: severity.Medium},
	}})

	if msg.TotalNew != 0 || msg.High() || !msg.Empty() {
		t.Fatalf("expected empty digest, got total=%d high=%v", msg.TotalNew, msg.High())
	}
	want := DefaultTitle + ": 0 new (venueA 0, ohare 0)"
	if msg.Subject != want {
		t.Fatalf("subject = %q, want %q", msg.Subject, want)
	}
	if !strings.Contains(msg.Text(), "Nothing new") {
		t.Fatalf("text missing nothing-new note:\n%s", msg.Text())
	}
}

func TestComposeNoSources(t *testing.T) {
	t.Parallel()
	msg := Compose(Input{Title: "Monitor"})
	if msg.Subject != "Monitor: 0 new" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if msg.Sections == nil || len(msg.Sections) != 0 {
		t.Fatalf("sections = %#v, want empty non-nil", msg.Sections)
	}
}

func TestComposeCountsAndHighFlag(t *testing.T) {
	t.Parallel()
	msg := Compose(Input{Sources: []SourceResult{
		{SourceID: "venueA", Title: "Venue A", Status: StatusOK, New: []record.Record{ev("Boat Show", "2026-03-01")}},
		{SourceID: "venueB", Status: StatusFailed, Err: errors.New("HTTP 503")},
		{SourceID: "venueC", Status: StatusUnavailable},
		{SourceID: "ohare", Status: StatusOK, HasSeverity: true, Severity: severity.High,
			Metrics: severity.Metrics{"cancellation_rate": 6}},
	}})

	if msg.TotalNew != 1 {
		t.Fatalf("total = %d, want 1", msg.TotalNew)
	}
	if !msg.High() || len(msg.HighSources) != 1 || msg.HighSources[0] != "ohare" {
		t.Fatalf("high sources = %v", msg.HighSources)
	}
	want := DefaultTitle + ": HIGH severity, 1 new (venueA 1, ohare 0 HIGH)"
	if msg.Subject != want {
		t.Fatalf("subject = %q, want %q", msg.Subject, want)
	}

	gotOrder := make([]string, 0, len(msg.Sections))
	for _, s := range msg.Sections {
		gotOrder = append(gotOrder, s.SourceID)
	}
	if strings.Join(gotOrder, ",") != "venueA,venueB,venueC,ohare" {
		t.Fatalf("section order = %v", gotOrder)
	}
	if msg.Sections[1].Note != "HTTP 503" {
		t.Fatalf("failure note = %q", msg.Sections[1].Note)
	}

	text := msg.Text()
	for _, want := range []string{"Venue A: 1 new", "Boat Show", "venueB: fetch failed", "venueC: not configured", "severity HIGH", "cancellation_rate: 6.0%"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text missing %q:\n%s", want, text)
		}
	}
}

func TestComposeHighIgnoredForFailedSource(t *testing.T) {
	t.Parallel()
	msg := Compose(Input{Sources: []SourceResult{
		{SourceID: "ohare", Status: StatusFailed, HasSeverity: true, Severity: severity.High},
	}})
	if msg.High() {
		t.Fatal("a failed source must not raise the HIGH flag")
	}
}

func TestComposeKeepsRecordOrderAndDoesNotMutate(t *testing.T) {
	t.Parallel()
	newRecs := []record.Record{ev("B", "2026-03-01"), ev("A", "2026-01-01")}
	metrics := severity.Metrics{"delay_rate": 10}
	in := Input{Sources: []SourceResult{{SourceID: "v", Status: StatusOK, New: newRecs, Metrics: metrics}}}

	msg := Compose(in)
	if !record.EqualSlices(msg.Sections[0].Records, newRecs) {
		t.Fatalf("records = %v, want %v", msg.Sections[0].Records, newRecs)
	}

	msg.Sections[0].Records[0][record.FieldEventName] = "changed"
	msg.Sections[0].Metrics["delay_rate"] = 99
	if newRecs[0][record.FieldEventName] != "B" || metrics["delay_rate"] != 10 {
		t.Fatal("Compose output aliases its input")
	}
}

func TestHTMLEscapesContent(t *testing.T) {
	t.Parallel()
	msg := Compose(Input{Sources: []SourceResult{{
		SourceID: "v",
		Status:   StatusOK,
		New: []record.Record{{
			record.FieldEventName: "Rock & <Roll>",
			record.FieldStartDate: "2026-05-01",
			record.FieldURL:       "https://example.com/?a=1&b=2",
		}},
	}}})

	h := msg.HTML()
	if strings.Contains(h, "<Roll>") {
		t.Fatalf("unescaped content in HTML:\n%s", h)
	}
	if !strings.Contains(h, "<b>Rock &amp; &lt;Roll&gt;</b>") {
		t.Fatalf("missing escaped bold name:\n%s", h)
	}
	if !strings.Contains(h, `<a href="https://example.com/?a=1&amp;b=2">details</a>`) {
		t.Fatalf("missing link:\n%s", h)
	}
	if strings.Contains(h, "<br") || strings.Contains(h, "<p>") {
		t.Fatalf("HTML uses tags Telegram rejects:\n%s", h)
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	today := time.Date(2026, 2, 6, 15, 30, 0, 0, time.UTC)
	groups := []SourceRecords{
		{SourceID: "mccormick", Title: "McCormick Place", Records: []record.Record{
			ev("Auto Show", "2026-02-07"),
			ev("Past Expo", "2026-02-05"),
			ev("Far Expo", "2026-02-09"),
			{record.FieldEventName: "No Date"},
			ev("Bad Date", "Feb 7"),
		}},
		{SourceID: "united_center", Records: []record.Record{
			ev("Bulls", "2026-02-06"),
			ev("Hawks", "2026-02-08"),
		}},
	}

	got := Upcoming(groups, today, 2)
	names := make([]string, 0, len(got))
	whens := make([]string, 0, len(got))
	for _, u := range got {
		names = append(names, u.Record[record.FieldEventName])
		whens = append(whens, u.When())
	}
	if strings.Join(names, ",") != "Bulls,Auto Show,Hawks" {
		t.Fatalf("upcoming = %v", names)
	}
	if strings.Join(whens, ",") != "TODAY,Tomorrow,in 2 days" {
		t.Fatalf("labels = %v", whens)
	}
	if got[1].SourceID != "mccormick" || got[1].Title != "McCormick Place" {
		t.Fatalf("source tag lost: %+v", got[1])
	}

	if n := len(Upcoming(groups, today, 0)); n != 1 {
		t.Fatalf("daysAhead=0 selected %d items, want 1", n)
	}
	if n := len(Upcoming(groups, today, -1)); n != 0 {
		t.Fatalf("negative window selected %d items", n)
	}
}

func TestUpcomingRendered(t *testing.T) {
	t.Parallel()
	today := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	up := Upcoming([]SourceRecords{{SourceID: "v", Records: []record.Record{ev("Auto Show", "2026-02-07")}}}, today, 2)
	msg := Compose(Input{Upcoming: up})
	text := msg.Text()
	if !strings.Contains(text, "Starting soon") || !strings.Contains(text, "Tomorrow | Auto Show | v") {
		t.Fatalf("upcoming block missing:\n%s", text)
	}
}
