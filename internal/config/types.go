package config

// Config is the whole monitor configuration. It is decoded once, validated,
// and passed down explicitly; nothing reads the environment after Load.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
	HTTP      HTTPConfig      `json:"http"`
	Sources   []SourceConfig  `json:"sources"`
	Severity  SeverityConfig  `json:"severity"`
	Digest    DigestConfig    `json:"digest"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the snapshot store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/snapshots.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	DSN            string `json:"dsn,omitempty"` // postgres (do not log)
	DSNEnv         string `json:"dsn_env,omitempty"`
	MaxConns       int32  `json:"max_conns,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`

	Addr        string `json:"addr,omitempty"` // redis
	Password    string `json:"password,omitempty"`
	PasswordEnv string `json:"password_env,omitempty"`
	DB          int    `json:"db,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

// NotifierConfig selects the delivery channel of the digest.
//
// Channel values: "telegram", "smtp", "log". Timeout bounds one send
// (Go duration string, default "30s").
type NotifierConfig struct {
	Channel  string         `json:"channel"`
	Timeout  string         `json:"timeout,omitempty"`
	Telegram TelegramConfig `json:"telegram"`
	SMTP     SMTPConfig     `json:"smtp"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	TokenEnv string `json:"token_env,omitempty"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// RatePerSec paces multi-part digests. 0 means 1 message per second.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type SMTPConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Username    string   `json:"username"`
	Password    string   `json:"password,omitempty"` // do not log
	PasswordEnv string   `json:"password_env,omitempty"`
	From        string   `json:"from"`
	To          []string `json:"to"`
}

// HTTPConfig is shared by every HTTP-based source unless overridden per source.
type HTTPConfig struct {
	Timeout    string  `json:"timeout,omitempty"` // default "30s"
	UserAgent  string  `json:"user_agent,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // requests per second per source; 0 = 2
}

// SourceConfig declares one upstream source.
//
// Type values: "mccormick", "ticketmaster", "aviationstack", "html".
// Credentials (APIKey) may come from the environment via APIKeyEnv; a source
// without its credential is reported as unavailable at run time.
type SourceConfig struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	Enabled bool   `json:"enabled"`
	// Monitor includes the source in monitor runs.
	Monitor bool `json:"monitor,omitempty"`

	URL       string `json:"url,omitempty"`
	APIKey    string `json:"api_key,omitempty"` // do not log
	APIKeyEnv string `json:"api_key_env,omitempty"`
	Timeout   string `json:"timeout,omitempty"`

	VenueID string `json:"venue_id,omitempty"` // ticketmaster
	Size    int    `json:"size,omitempty"`

	Airport      string `json:"airport,omitempty"` // aviationstack (IATA)
	Limit        int    `json:"limit,omitempty"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`

	Location  string         `json:"location,omitempty"` // mccormick, html
	Selectors *HTMLSelectors `json:"selectors,omitempty"`
	// DateLayouts are tried in order to parse dates scraped from HTML.
	DateLayouts []string `json:"date_layouts,omitempty"`

	// IdentityFields overrides the default identity key (event_name, start_date).
	IdentityFields []string `json:"identity_fields,omitempty"`
}

// HTMLSelectors are CSS selectors for the html source. Item selects one
// element per record; the others are evaluated inside it.
type HTMLSelectors struct {
	Item     string `json:"item"`
	Name     string `json:"name"`
	Start    string `json:"start"`
	End      string `json:"end,omitempty"`
	Link     string `json:"link,omitempty"`
	Location string `json:"location,omitempty"`
}

// SeverityConfig is the declarative threshold table keyed by metric name.
// When empty, the flight-disruption defaults apply.
type SeverityConfig struct {
	Thresholds map[string]ThresholdConfig `json:"thresholds,omitempty"`
}

type ThresholdConfig struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

type DigestConfig struct {
	Title string `json:"title,omitempty"`
	// UpcomingDays is the "starting soon" window in full runs. Omitted means 2;
	// a negative value disables the block.
	UpcomingDays *int `json:"upcoming_days,omitempty"`
}

// SchedulerConfig drives -serve mode. Schedules use the grammar of
// scheduler.ParseSchedule ("HH:MM", "every 30m", or a cron expression).
type SchedulerConfig struct {
	Full     string `json:"full,omitempty"`
	Monitor  string `json:"monitor,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// RunOnStart triggers one full run as soon as serve mode starts.
	RunOnStart bool `json:"run_on_start,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9464"
	Path    string `json:"path,omitempty"` // default "/metrics"
}
