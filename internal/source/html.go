package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

var defaultDateLayouts = []string{
	record.DateLayout,
	"January 2, 2006",
	"Jan 2, 2006",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
	"01/02/2006",
	time.RFC3339,
}

// HTML scrapes a static calendar page using CSS selectors.
type HTML struct {
	*base
	layouts []string
}

func newHTML(b *base) (*HTML, error) {
	sel := b.cfg.Selectors
	if sel == nil || strings.TrimSpace(sel.Item) == "" || strings.TrimSpace(sel.Name) == "" || strings.TrimSpace(sel.Start) == "" {
		return nil, fmt.Errorf("source %s: html selectors item, name and start are required", b.cfg.ID)
	}
	layouts := b.cfg.DateLayouts
	if len(layouts) == 0 {
		layouts = defaultDateLayouts
	}
	return &HTML{base: b, layouts: layouts}, nil
}

func (h *HTML) Name() string { return h.cfg.ID }

func (h *HTML) Fetch(ctx context.Context) (Result, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	sel := h.cfg.Selectors

	c := colly.NewCollector()
	c.SetClient(h.client)
	if h.ua != "" {
		c.UserAgent = h.ua
	}

	var (
		mu      sync.Mutex
		out     = make([]record.Record, 0)
		matched int
		reqErr  error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnHTML(sel.Item, func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		matched++

		name := collapse(e.ChildText(sel.Name))
		startRaw := collapse(e.ChildText(sel.Start))
		start, err := h.parseDate(startRaw)
		if name == "" || err != nil {
			h.log.Warn("skipping malformed item", logx.String("name", name), logx.String("start", startRaw))
			return
		}
		rec := record.Record{
			record.FieldEventName: name,
			record.FieldStartDate: start,
			record.FieldEndDate:   start,
		}
		if sel.End != "" {
			if end, err := h.parseDate(collapse(e.ChildText(sel.End))); err == nil {
				rec[record.FieldEndDate] = end
			}
		}
		if sel.Link != "" {
			if href := strings.TrimSpace(e.ChildAttr(sel.Link, "href")); href != "" {
				rec[record.FieldURL] = e.Request.AbsoluteURL(href)
			}
		}
		loc := strings.TrimSpace(h.cfg.Location)
		if sel.Location != "" {
			if v := collapse(e.ChildText(sel.Location)); v != "" {
				loc = v
			}
		}
		if loc != "" {
			rec[record.FieldLocation] = loc
		}
		out = append(out, rec)
	})
	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if reqErr == nil {
			reqErr = fmt.Errorf("http %d: %w", r.StatusCode, err)
		}
	})

	if err := c.Visit(h.cfg.URL); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("html %s: %w", h.cfg.ID, err)
	}
	c.Wait()
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	if reqErr != nil {
		return Result{}, fmt.Errorf("html %s: %w", h.cfg.ID, reqErr)
	}
	if matched == 0 {
		return Result{}, errors.New("html: item selector matched nothing; page layout may have changed")
	}
	h.log.Info("scraped", logx.Int("items", matched), logx.Int("records", len(out)))
	return Result{Records: out}, nil
}

// parseDate normalizes a scraped date to YYYY-MM-DD using the configured layouts.
func (h *HTML) parseDate(s string) (string, error) {
	if s == "" {
		return "", errors.New("empty date")
	}
	for _, layout := range h.layouts {
		if t, err := time.ParseInLocation(layout, s, h.loc); err == nil {
			return t.Format(record.DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }
