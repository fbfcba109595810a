package config

// Config is the whole process configuration.
//
// It is read from YAML (or JSON) with unknown fields rejected. Every section is
// optional; an empty file yields a valid config with no tasks.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Provider  ProviderConfig  `json:"provider"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Status    StatusConfig    `json:"status"`
	Tasks     []TaskConfig    `json:"tasks"`
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

// SchedulerConfig controls the job loop.
//
// All durations are Go duration strings (e.g. "1s", "60s", "24h").
//
// Defaults:
//   - tick: "1s"
//   - timezone: local time
//   - pay_margin: "60s" (pay job runs this long after the current session ends)
//   - reminder_window: "24h" (sessions ending sooner are urgent)
type SchedulerConfig struct {
	Tick           string `json:"tick,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	PayMargin      string `json:"pay_margin,omitempty"`
	ReminderWindow string `json:"reminder_window,omitempty"`
}

// ProviderConfig selects the session provider.
//
// Driver values:
//   - "browser" (default): headless Chrome driving the parking portal
//   - "memory": in-memory provider, never pays for real (dry runs)
type ProviderConfig struct {
	Driver  string         `json:"driver,omitempty"`
	Retry   RetryConfig    `json:"retry"`
	Browser *BrowserConfig `json:"browser,omitempty"`
}

type RetryConfig struct {
	Attempts int    `json:"attempts,omitempty"` // default 3
	Backoff  string `json:"backoff,omitempty"`  // default "5s"
}

type BrowserConfig struct {
	Headless   *bool  `json:"headless,omitempty"` // default true
	ExecPath   string `json:"exec_path,omitempty"`
	LoginURL   string `json:"login_url,omitempty"`
	ParkingURL string `json:"parking_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // per operation, default "60s"
}

// NotifierConfig controls delivery of operator messages.
type NotifierConfig struct {
	RatePerSec    int        `json:"rate_per_sec,omitempty"`
	RetryMax      int        `json:"retry_max,omitempty"`
	RetryBase     string     `json:"retry_base,omitempty"`
	RetryMaxDelay string     `json:"retry_max_delay,omitempty"`
	SMTP          SMTPConfig `json:"smtp"`
}

// SMTPConfig defaults to Gmail over implicit TLS (smtp.gmail.com:465).
type SMTPConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	From string `json:"from,omitempty"` // default: recipient address
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	storage: { driver: sqlite, path: ~/.paybybot.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// StatusConfig controls the optional read-only HTTP status endpoint.
// Prefer binding to localhost (e.g. "127.0.0.1:8089").
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:8089"
	Debug   bool   `json:"debug,omitempty"` // mount net/http/pprof under /debug/pprof
}

// TaskConfig is one vehicle/location entry.
type TaskConfig struct {
	Name          string           `json:"name,omitempty"`
	Plate         string           `json:"plate"`
	Location      string           `json:"location,omitempty"`
	Check         CheckConfig      `json:"check"`
	Pay           *PayConfig       `json:"pay,omitempty"`
	NotifyOnError bool             `json:"notify_on_error,omitempty"`
	Notify        RecipientConfig  `json:"notify"`
	Credentials   CredentialConfig `json:"credentials"`
}

// CheckConfig is the check cadence. Either cron or unit is used.
//
//	check: { every: 1, unit: day, at: "08:30" }
//	check: { unit: week, weekday: monday, at: "07:00" }
//	check: { cron: "*/30 * * * *" }
type CheckConfig struct {
	Every      int    `json:"every,omitempty"`
	Unit       string `json:"unit,omitempty"`
	At         any    `json:"at,omitempty"` // must be a string; kept loose to report bad YAML types clearly
	Weekday    string `json:"weekday,omitempty"`
	Cron       string `json:"cron,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
}

type PayConfig struct {
	Location     string `json:"location,omitempty"`
	Rate         string `json:"rate"`
	Duration     int    `json:"duration"` // minutes
	ExpectedCost string `json:"expected_cost,omitempty"`
	Notify       bool   `json:"notify,omitempty"`
}

type RecipientConfig struct {
	Email    string          `json:"email,omitempty"`
	Password string          `json:"password,omitempty"`
	Telegram *TelegramTarget `json:"telegram,omitempty"`
}

type TelegramTarget struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

type CredentialConfig struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}
