package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/config"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

const (
	defaultRatePerSec = 2
	maxBodyBytes      = 16 << 20
)

// base carries what every adapter needs: its config, an HTTP client with the
// per-source timeout, a request limiter and a clock.
type base struct {
	cfg     config.SourceConfig
	client  *http.Client
	limiter *rate.Limiter
	ua      string
	loc     *time.Location
	log     logx.Logger
	now     func() time.Time
}

func newBase(cfg config.SourceConfig, opts Options) (*base, error) {
	timeout, err := config.ParseDurationOrDefault("http.timeout", opts.HTTP.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout != "" {
		if timeout, err = config.ParseDurationOrDefault("sources["+cfg.ID+"].timeout", cfg.Timeout, timeout); err != nil {
			return nil, err
		}
	}
	rps := opts.HTTP.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &base{
		cfg:     cfg,
		client:  newHTTPClient(timeout),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		ua:      opts.HTTP.UserAgent,
		loc:     loc,
		log:     log.With(logx.String("comp", "source"), logx.String("source", cfg.ID)),
		now:     time.Now,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// today is the current calendar date at midnight in the adapter's location.
func (b *base) today() time.Time {
	t := b.now().In(b.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, b.loc)
}

// getJSON performs a rate-limited GET and decodes a JSON body into out.
// Non-2xx responses are failures and include a short body excerpt.
func (b *base) getJSON(ctx context.Context, u string, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if b.ua != "" {
		req.Header.Set("User-Agent", b.ua)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	b.log.Debug("http get",
		logx.Int("status", resp.StatusCode),
		logx.Int("bytes", len(body)),
		logx.Duration("took", time.Since(start)),
	)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, excerpt(body))
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func excerpt(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

// looseString accepts a JSON string, number or null.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}
