package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/scheduler"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// Source types understood by the monitor.
const (
	SourceMcCormick     = "mccormick"
	SourceTicketmaster  = "ticketmaster"
	SourceAviationstack = "aviationstack"
	SourceHTML          = "html"
)

// Notification channels.
const (
	ChannelTelegram = "telegram"
	ChannelSMTP     = "smtp"
	ChannelLog      = "log"
)

const (
	DefaultStoragePath   = "./data/snapshots.json"
	DefaultSQLitePath    = "./data/monitor.db"
	DefaultHTTPTimeout   = "30s"
	DefaultNotifyTimeout = "30s"
	DefaultUserAgent     = "chicago-event-monitor/1.0 (+https://github.com/rdjerrouf/Chicago-Event-Monitor)"
	DefaultMetricsAddr   = "127.0.0.1:9464"
	DefaultMetricsPath   = "/metrics"
	DefaultUpcomingDays  = 2
)

// Load reads path (JSON or YAML), applies defaults, resolves *_env
// credentials from the process environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(path, b)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.ResolveEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode strictly parses config bytes. The format is chosen from the file
// extension of path; unknown fields and trailing data are rejected.
func Decode(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills omitted fields. It is idempotent.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		switch c.Storage.Driver {
		case "file", "json":
			c.Storage.Path = DefaultStoragePath
		case "sqlite", "sqlite3":
			c.Storage.Path = DefaultSQLitePath
		}
	}

	c.Notifier.Channel = strings.ToLower(strings.TrimSpace(c.Notifier.Channel))
	if c.Notifier.Channel == "" {
		c.Notifier.Channel = ChannelLog
	}
	if strings.TrimSpace(c.Notifier.Timeout) == "" {
		c.Notifier.Timeout = DefaultNotifyTimeout
	}
	if c.Notifier.SMTP.Port == 0 {
		c.Notifier.SMTP.Port = 587
	}

	if strings.TrimSpace(c.HTTP.Timeout) == "" {
		c.HTTP.Timeout = DefaultHTTPTimeout
	}
	if strings.TrimSpace(c.HTTP.UserAgent) == "" {
		c.HTTP.UserAgent = DefaultUserAgent
	}
	if c.HTTP.RatePerSec == 0 {
		c.HTTP.RatePerSec = 2
	}

	for i := range c.Sources {
		s := &c.Sources[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Type = strings.ToLower(strings.TrimSpace(s.Type))
		if strings.TrimSpace(s.Title) == "" {
			s.Title = s.ID
		}
		switch s.Type {
		case SourceTicketmaster:
			if s.Size == 0 {
				s.Size = 200
			}
		case SourceAviationstack:
			if s.Limit == 0 {
				s.Limit = 100
			}
			if s.DelayMinutes == 0 {
				s.DelayMinutes = 15
			}
		}
	}

	if c.Digest.UpcomingDays == nil {
		d := DefaultUpcomingDays
		c.Digest.UpcomingDays = &d
	}

	if c.Metrics.Enabled {
		if strings.TrimSpace(c.Metrics.Addr) == "" {
			c.Metrics.Addr = DefaultMetricsAddr
		}
		if strings.TrimSpace(c.Metrics.Path) == "" {
			c.Metrics.Path = DefaultMetricsPath
		}
	}
}

// ResolveEnv copies credentials named by *_env fields into their value
// fields. An explicit value in the file wins over the environment.
func (c *Config) ResolveEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	fromEnv := func(dst *string, name string) {
		name = strings.TrimSpace(name)
		if strings.TrimSpace(*dst) != "" || name == "" {
			return
		}
		*dst = strings.TrimSpace(getenv(name))
	}
	fromEnv(&c.Storage.DSN, c.Storage.DSNEnv)
	fromEnv(&c.Storage.Password, c.Storage.PasswordEnv)
	fromEnv(&c.Notifier.Telegram.Token, c.Notifier.Telegram.TokenEnv)
	fromEnv(&c.Notifier.SMTP.Password, c.Notifier.SMTP.PasswordEnv)
	for i := range c.Sources {
		fromEnv(&c.Sources[i].APIKey, c.Sources[i].APIKeyEnv)
	}
}

// Validate checks the configuration and reports every problem found, each
// prefixed with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
		add("logging.level: unknown level %q", c.Logging.Level)
	}

	switch c.Storage.Driver {
	case "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path: required for driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn: required for driver %q (or set storage.dsn_env)", c.Storage.Driver)
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Addr) == "" {
			add("storage.addr: required for driver redis")
		}
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.connect_timeout", c.Storage.ConnectTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseDurationField("notifier.timeout", c.Notifier.Timeout); err != nil {
		errs = append(errs, err)
	}
	switch c.Notifier.Channel {
	case ChannelLog:
	case ChannelTelegram:
		tg := c.Notifier.Telegram
		if strings.TrimSpace(tg.Token) == "" {
			add("notifier.telegram.token: required (or set notifier.telegram.token_env)")
		}
		if tg.ChatID == 0 {
			add("notifier.telegram.chat_id: required")
		}
		if tg.RatePerSec < 0 {
			add("notifier.telegram.rate_per_sec: must be >= 0")
		}
	case ChannelSMTP:
		sm := c.Notifier.SMTP
		if strings.TrimSpace(sm.Host) == "" {
			add("notifier.smtp.host: required")
		}
		if sm.Port <= 0 || sm.Port > 65535 {
			add("notifier.smtp.port: out of range")
		}
		if strings.TrimSpace(sm.From) == "" {
			add("notifier.smtp.from: required")
		}
		if len(sm.To) == 0 {
			add("notifier.smtp.to: at least one recipient required")
		}
		if strings.TrimSpace(sm.Username) != "" && strings.TrimSpace(sm.Password) == "" {
			add("notifier.smtp.password: required when username is set (or set notifier.smtp.password_env)")
		}
	default:
		add("notifier.channel: unknown channel %q", c.Notifier.Channel)
	}

	if _, err := ParseDurationField("http.timeout", c.HTTP.Timeout); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.RatePerSec < 0 {
		add("http.rate_per_sec: must be >= 0")
	}

	seen := map[string]bool{}
	for i, s := range c.Sources {
		p := fmt.Sprintf("sources[%d]", i)
		if s.ID == "" {
			add("%s.id: required", p)
		} else {
			if seen[s.ID] {
				add("%s.id: duplicate id %q", p, s.ID)
			}
			seen[s.ID] = true
			p = fmt.Sprintf("sources[%s]", s.ID)
		}
		if _, err := ParseDurationField(p+".timeout", s.Timeout); err != nil {
			errs = append(errs, err)
		}
		for _, f := range s.IdentityFields {
			if strings.TrimSpace(f) == "" {
				add("%s.identity_fields: empty field name", p)
			}
		}
		switch s.Type {
		case SourceMcCormick:
		case SourceTicketmaster:
			if s.Enabled && strings.TrimSpace(s.VenueID) == "" {
				add("%s.venue_id: required for ticketmaster", p)
			}
		case SourceAviationstack:
			if s.Enabled && strings.TrimSpace(s.Airport) == "" {
				add("%s.airport: required for aviationstack", p)
			}
			if s.DelayMinutes < 0 {
				add("%s.delay_minutes: must be >= 0", p)
			}
		case SourceHTML:
			if !s.Enabled {
				break
			}
			if strings.TrimSpace(s.URL) == "" {
				add("%s.url: required for html", p)
			}
			if s.Selectors == nil || strings.TrimSpace(s.Selectors.Item) == "" ||
				strings.TrimSpace(s.Selectors.Name) == "" || strings.TrimSpace(s.Selectors.Start) == "" {
				add("%s.selectors: item, name and start are required for html", p)
			}
		case "":
			add("%s.type: required", p)
		default:
			add("%s.type: unknown source type %q", p, s.Type)
		}
	}

	for name, th := range c.Severity.Thresholds {
		p := "severity.thresholds." + name
		if strings.TrimSpace(name) == "" {
			add("severity.thresholds: empty metric name")
			continue
		}
		if math.IsNaN(th.High) || math.IsNaN(th.Medium) || th.High < 0 || th.Medium < 0 {
			add("%s: boundaries must be >= 0", p)
		}
		if th.High < th.Medium {
			add("%s: high (%.4g) must be >= medium (%.4g)", p, th.High, th.Medium)
		}
	}

	if _, err := ParseLocation(c.Scheduler.Timezone); err != nil {
		add("scheduler.timezone: %v", err)
	}
	for name, raw := range map[string]string{"full": c.Scheduler.Full, "monitor": c.Scheduler.Monitor} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			add("scheduler.%s: %v", name, err)
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path: must start with /")
	}

	return errors.Join(errs...)
}
