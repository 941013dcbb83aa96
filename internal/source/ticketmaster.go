package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

const ticketmasterAPI = "https://app.ticketmaster.com/discovery/v2/events.json"

type tmResponse struct {
	Fault    json.RawMessage `json:"fault"`
	Errors   json.RawMessage `json:"errors"`
	Embedded *struct {
		Events []tmEvent `json:"events"`
	} `json:"_embedded"`
	Page *struct {
		TotalElements int `json:"totalElements"`
	} `json:"page"`
}

type tmEvent struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Dates struct {
		Start struct {
			LocalDate string `json:"localDate"`
		} `json:"start"`
	} `json:"dates"`
	Classifications []struct {
		Segment struct {
			Name string `json:"name"`
		} `json:"segment"`
	} `json:"classifications"`
	Embedded struct {
		Venues []struct {
			Name string `json:"name"`
		} `json:"venues"`
	} `json:"_embedded"`
}

// Ticketmaster lists upcoming events at one venue via the Discovery API.
type Ticketmaster struct{ *base }

func newTicketmaster(b *base) *Ticketmaster { return &Ticketmaster{base: b} }

func (t *Ticketmaster) Name() string { return t.cfg.ID }

func (t *Ticketmaster) Fetch(ctx context.Context) (Result, error) {
	key := strings.TrimSpace(t.cfg.APIKey)
	if key == "" {
		return Result{}, unavailable("ticketmaster api key not configured")
	}
	size := t.cfg.Size
	if size <= 0 {
		size = 200
	}
	q := url.Values{}
	q.Set("apikey", key)
	q.Set("venueId", t.cfg.VenueID)
	q.Set("size", strconv.Itoa(size))
	q.Set("sort", "date,asc")

	var resp tmResponse
	if err := t.getJSON(ctx, baseURL(t.cfg, ticketmasterAPI)+"?"+q.Encode(), &resp); err != nil {
		// the api key is part of the URL; never surface it
		return Result{}, fmt.Errorf("ticketmaster: %s", strings.ReplaceAll(err.Error(), key, "***"))
	}
	if len(resp.Fault) > 0 && string(resp.Fault) != "null" {
		return Result{}, fmt.Errorf("ticketmaster api fault: %s", excerpt(resp.Fault))
	}
	if len(resp.Errors) > 0 && string(resp.Errors) != "null" {
		return Result{}, fmt.Errorf("ticketmaster api errors: %s", excerpt(resp.Errors))
	}
	if resp.Embedded == nil {
		if resp.Page != nil && resp.Page.TotalElements == 0 {
			t.log.Info("no upcoming events")
			return Result{Records: []record.Record{}}, nil
		}
		return Result{}, errors.New("ticketmaster: response has neither events nor page info")
	}

	out := make([]record.Record, 0, len(resp.Embedded.Events))
	skipped := 0
	for _, ev := range resp.Embedded.Events {
		name := strings.TrimSpace(ev.Name)
		if name == "" {
			name = "Untitled Event"
		}
		start := strings.TrimSpace(ev.Dates.Start.LocalDate)
		if start == "" {
			skipped++
			t.log.Warn("skipping event without date", logx.String("event", name))
			continue
		}
		eventType := "Event"
		if len(ev.Classifications) > 0 && strings.TrimSpace(ev.Classifications[0].Segment.Name) != "" {
			eventType = strings.TrimSpace(ev.Classifications[0].Segment.Name)
		}
		out = append(out, record.Record{
			record.FieldEventName: name,
			record.FieldStartDate: start,
			record.FieldEndDate:   start,
			record.FieldLocation:  t.location(ev),
			record.FieldURL:       strings.TrimSpace(ev.URL),
			record.FieldEventType: eventType,
		})
	}
	t.log.Info("fetched", logx.Int("events", len(out)), logx.Int("skipped", skipped))
	if n := len(resp.Embedded.Events); n > 0 && skipped == n {
		return Result{}, fmt.Errorf("ticketmaster: all %d events lack a start date", n)
	}
	return Result{Records: out}, nil
}

func (t *Ticketmaster) location(ev tmEvent) string {
	if l := strings.TrimSpace(t.cfg.Location); l != "" {
		return l
	}
	if len(ev.Embedded.Venues) > 0 {
		if n := strings.TrimSpace(ev.Embedded.Venues[0].Name); n != "" {
			return n
		}
	}
	return t.cfg.Title
}
