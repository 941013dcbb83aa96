package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

const (
	mccormickAPI       = "https://mpea-web.ungerboeck.com/calendarWebService/api/GetEvents"
	mccormickDetailURL = "https://www.mccormickplace.com/events/"
	mccormickOrgCode   = "10"
)

type mccormickEvent struct {
	Title   *string     `json:"title"`
	Start   string      `json:"start"`
	End     string      `json:"end"`
	Venue   *string     `json:"venue"`
	ID      looseString `json:"id"`
	OrgCode looseString `json:"orgCode"`
}

// McCormick reads the convention center's public calendar feed.
type McCormick struct{ *base }

func newMcCormick(b *base) *McCormick { return &McCormick{base: b} }

func (m *McCormick) Name() string { return m.cfg.ID }

func (m *McCormick) Fetch(ctx context.Context) (Result, error) {
	var events []mccormickEvent
	if err := m.getJSON(ctx, baseURL(m.cfg, mccormickAPI), &events); err != nil {
		return Result{}, fmt.Errorf("mccormick: %w", err)
	}
	// A null body decodes to a nil slice; only [] means "no events".
	if events == nil {
		return Result{}, errors.New("mccormick: response body is null")
	}

	today := m.today()
	out := make([]record.Record, 0, len(events))
	skipped := 0
	for _, ev := range events {
		start, err1 := isoDate(ev.Start)
		end, err2 := isoDate(ev.End)
		if err1 != nil || err2 != nil {
			skipped++
			m.log.Warn("skipping event with invalid date", logx.String("title", deref(ev.Title, "Unknown")))
			continue
		}
		endDay, _ := time.ParseInLocation(record.DateLayout, end, m.loc)
		if endDay.Before(today) {
			continue
		}

		org := strings.TrimSpace(string(ev.OrgCode))
		if org == "" {
			org = mccormickOrgCode
		}
		q := url.Values{}
		q.Set("eventId", string(ev.ID))
		q.Set("orgCode", org)

		location := deref(ev.Venue, "Location TBD")
		if loc := strings.TrimSpace(m.cfg.Location); loc != "" && location == "Location TBD" {
			location = loc
		}
		out = append(out, record.Record{
			record.FieldEventName: deref(ev.Title, "Untitled Event"),
			record.FieldStartDate: start,
			record.FieldEndDate:   end,
			record.FieldLocation:  location,
			record.FieldURL:       mccormickDetailURL + "?" + q.Encode(),
		})
	}
	m.log.Info("fetched",
		logx.Int("total", len(events)),
		logx.Int("upcoming", len(out)),
		logx.Int("skipped", skipped),
	)
	if len(events) > 0 && skipped == len(events) {
		return Result{}, fmt.Errorf("mccormick: all %d events have unparseable dates", len(events))
	}
	return Result{Records: out}, nil
}

// deref returns the trimmed value of p, or def when p is nil or blank.
func deref(p *string, def string) string {
	if p == nil {
		return def
	}
	if v := strings.TrimSpace(*p); v != "" {
		return v
	}
	return def
}
