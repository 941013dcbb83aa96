package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
notifier:
  channel: telegram
  telegram:
    token_env: TG_TOKEN
    chat_id: -100123
sources:
  - id: mccormick
    type: mccormick
    enabled: true
  - id: united_center
    type: ticketmaster
    enabled: true
    venue_id: KovZpZAJna6A
    api_key_env: TM_KEY
  - id: ohare
    type: AviationStack
    enabled: true
    monitor: true
    airport: ORD
severity:
  thresholds:
    cancellation_rate: {high: 5, medium: 2}
scheduler:
  full: "at:07:00"
  monitor: every 30m
  timezone: America/Chicago
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAMLWithDefaultsAndEnv(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "monitor.yaml", sampleYAML)
	env := map[string]string{"TG_TOKEN": "123:abc", "TM_KEY": " tm-key "}

	cfg, err := LoadWithEnv(path, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Storage.Path != DefaultSQLitePath {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Notifier.Telegram.Token != "123:abc" {
		t.Fatalf("token not resolved from env")
	}
	if cfg.Sources[1].APIKey != "tm-key" {
		t.Fatalf("api key = %q", cfg.Sources[1].APIKey)
	}
	if cfg.Sources[2].Type != SourceAviationstack || cfg.Sources[2].Limit != 100 || cfg.Sources[2].DelayMinutes != 15 {
		t.Fatalf("aviationstack defaults not applied: %+v", cfg.Sources[2])
	}
	if cfg.Sources[0].Title != "mccormick" {
		t.Fatalf("title default = %q", cfg.Sources[0].Title)
	}
	if cfg.Digest.UpcomingDays == nil || *cfg.Digest.UpcomingDays != DefaultUpcomingDays {
		t.Fatalf("upcoming days default not applied")
	}
	if cfg.HTTP.Timeout != DefaultHTTPTimeout {
		t.Fatalf("http.timeout = %q", cfg.HTTP.Timeout)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field", file: "c.json", body: `{"logging": {"level": "info"}, "bogus": 1}`},
		{name: "trailing data", file: "c.json", body: `{} {}`},
		{name: "unknown yaml field", file: "c.yml", body: "sources:\n  - id: x\n    colour: red\n"},
		{name: "bad yaml", file: "c.yaml", body: "sources: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}

	if _, err := Decode("empty.yaml", nil); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestValidateFailsFast(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "enabled ticketmaster without venue", mutate: func(c *Config) {
			c.Sources = []SourceConfig{{ID: "uc", Type: SourceTicketmaster, Enabled: true}}
		}, wantErr: "sources[uc].venue_id"},
		{name: "disabled ticketmaster without venue is fine", mutate: func(c *Config) {
			c.Sources = []SourceConfig{{ID: "uc", Type: SourceTicketmaster}}
		}},
		{name: "missing api key is not a config error", mutate: func(c *Config) {
			c.Sources = []SourceConfig{{ID: "ord", Type: SourceAviationstack, Enabled: true, Airport: "ORD"}}
		}},
		{name: "duplicate ids", mutate: func(c *Config) {
			c.Sources = []SourceConfig{{ID: "a", Type: SourceMcCormick}, {ID: "a", Type: SourceMcCormick}}
		}, wantErr: "duplicate id"},
		{name: "unknown type", mutate: func(c *Config) {
			c.Sources = []SourceConfig{{ID: "a", Type: "rss"}}
		}, wantErr: "unknown source type"},
		{name: "html without selectors", mutate: func(c *Config) {
			c.Sources = []SourceConfig{{ID: "h", Type: SourceHTML, Enabled: true, URL: "https://x"}}
		}, wantErr: "sources[h].selectors"},
		{name: "inverted thresholds", mutate: func(c *Config) {
			c.Severity.Thresholds = map[string]ThresholdConfig{"delay_rate": {High: 10, Medium: 20}}
		}, wantErr: "severity.thresholds.delay_rate"},
		{name: "telegram without token", mutate: func(c *Config) {
			c.Notifier.Channel = ChannelTelegram
			c.Notifier.Telegram.ChatID = 1
		}, wantErr: "notifier.telegram.token"},
		{name: "smtp without recipients", mutate: func(c *Config) {
			c.Notifier.Channel = ChannelSMTP
			c.Notifier.SMTP = SMTPConfig{Host: "smtp.example.com", Port: 587, From: "a@example.com"}
		}, wantErr: "notifier.smtp.to"},
		{name: "bad schedule", mutate: func(c *Config) { c.Scheduler.Monitor = "at:25:00" }, wantErr: "scheduler.monitor"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "scheduler.timezone"},
		{name: "bad duration", mutate: func(c *Config) { c.HTTP.Timeout = "soon" }, wantErr: "http.timeout"},
		{name: "unknown storage driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "storage.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: "storage.dsn"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{}
			tt.mutate(c)
			c.ApplyDefaults()
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaultsIdempotent(t *testing.T) {
	t.Parallel()
	c := &Config{Sources: []SourceConfig{{ID: " a ", Type: " HTML "}}}
	c.ApplyDefaults()
	first := hashConfig(c)
	c.ApplyDefaults()
	if hashConfig(c) != first {
		t.Fatal("ApplyDefaults is not idempotent")
	}
	if c.Sources[0].ID != "a" || c.Sources[0].Type != SourceHTML {
		t.Fatalf("source not normalized: %+v", c.Sources[0])
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{}
	a.ApplyDefaults()
	b := &Config{}
	b.ApplyDefaults()
	b.Storage.Driver = "sqlite"
	b.Notifier.Telegram.Token = "secret"

	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "notifier,storage" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := NeedsRestart(changed); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("NeedsRestart = %v", got)
	}
}

func TestManagerWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "monitor.json", `{"logging": {"level": "info"}}`)
	m := NewManager(path)
	m.getenv = func(string) string { return "" }
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "loud"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	select {
	case c := <-ch:
		t.Fatalf("invalid config published: %+v", c.Logging)
	default:
	}

	if err := os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		if c.Logging.Level != "debug" {
			t.Fatalf("published level = %q", c.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
