// Package source fetches records and metrics from upstream venue calendars
// and flight feeds.
//
// An adapter either returns a complete Result or an error. When credentials
// are missing it returns ErrUnavailable; every other error is a failure, and
// the caller keeps the source's previous snapshot.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/config"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/severity"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// ErrUnavailable marks a source that cannot run (usually a missing credential).
var ErrUnavailable = errors.New("source unavailable")

// Result is the outcome of one successful fetch. Records and Metrics may
// both be present; Details carries human-readable summary values.
type Result struct {
	Records []record.Record
	Metrics severity.Metrics
	Details map[string]string
}

// Adapter fetches one upstream source.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) (Result, error)
}

// Options are shared by every adapter built by New.
type Options struct {
	HTTP config.HTTPConfig
	// Location is used for "today" comparisons. Nil means time.Local.
	Location *time.Location
	Log      logx.Logger
}

// New builds the adapter for cfg.Type.
func New(cfg config.SourceConfig, opts Options) (Adapter, error) {
	base, err := newBase(cfg, opts)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.SourceMcCormick:
		return newMcCormick(base), nil
	case config.SourceTicketmaster:
		return newTicketmaster(base), nil
	case config.SourceAviationstack:
		return newAviationstack(base), nil
	case config.SourceHTML:
		return newHTML(base)
	default:
		return nil, fmt.Errorf("source %s: unknown type %q", cfg.ID, cfg.Type)
	}
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// baseURL returns the configured URL override or def.
func baseURL(cfg config.SourceConfig, def string) string {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		return u
	}
	return def
}

// isoDate returns the YYYY-MM-DD prefix of an ISO date or date-time.
func isoDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	if _, err := time.Parse(record.DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q", s)
	}
	return s, nil
}
