package config

// Config is the file layout. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m"); empty means the component default.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	HTTP     HTTPConfig     `json:"http"`
	Delivery DeliveryConfig `json:"delivery"`
	Webhook  WebhookConfig  `json:"webhook"`
	Telegram TelegramConfig `json:"telegram"`
	Decision DecisionConfig `json:"decision"`
	Metrics  MetricsConfig  `json:"metrics"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Events   EventsConfig   `json:"events"`
	Debug    DebugConfig    `json:"debug"`
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

// HTTPConfig controls the API server.
//
// Defaults:
//   - addr: ":3000"
//   - request_timeout: "30s"
//   - wait_for_delivery: "12s"
type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	RequestTimeout  string `json:"request_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// DefaultDestination is used when a request carries no webhook.
	// It may contain credentials; never log it unredacted.
	DefaultDestination string `json:"default_destination,omitempty"`
	WaitForDelivery    string `json:"wait_for_delivery,omitempty"`
}

// DeliveryConfig controls the per-destination scheduler.
//
// Defaults:
//   - max_per_window: 20
//   - window: "1m"
//   - pause_for: "1m"
//   - max_queue: 1000
//   - retry_max: 0 (one attempt)
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
type DeliveryConfig struct {
	MaxPerWindow  int    `json:"max_per_window,omitempty"`
	Window        string `json:"window,omitempty"`
	PauseFor      string `json:"pause_for,omitempty"`
	AdvisoryText  string `json:"advisory_text,omitempty"`
	MaxQueue      int    `json:"max_queue,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type WebhookConfig struct {
	Timeout       string  `json:"timeout,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	MaxImageChars int     `json:"max_image_chars,omitempty"`
	MaxBodyBytes  int     `json:"max_body_bytes,omitempty"`
}

// TelegramConfig enables telegram:// destinations.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// DecisionConfig holds the default policy. Request fields override it.
// The enable flags are pointers so an omitted flag keeps the default (true).
type DecisionConfig struct {
	Sensitivity    int          `json:"sensitivity,omitempty"`
	EnablePosture  *bool        `json:"enable_posture,omitempty"`
	EnableActivity *bool        `json:"enable_activity,omitempty"`
	EnablePraise   *bool        `json:"enable_praise,omitempty"`
	Rules          *RulesConfig `json:"rules,omitempty"`
}

type RulesConfig struct {
	PraiseThreshold       int            `json:"praise_threshold,omitempty"`
	DistractionThreshold  int            `json:"distraction_threshold,omitempty"`
	PostureThreshold      int            `json:"posture_threshold,omitempty"`
	HighPriorityThreshold int            `json:"high_priority_threshold,omitempty"`
	MinSensitivity        int            `json:"min_sensitivity,omitempty"`
	Distraction           map[string]int `json:"distraction,omitempty"`
	StudyActivities       []string       `json:"study_activities,omitempty"`
}

// MetricsConfig controls /metrics and the periodic stats reset.
//
// Example:
//
//	"metrics": { "enabled": true, "reset_schedule": "0 0 * * *", "timezone": "Asia/Shanghai" }
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	ResetSchedule string `json:"reset_schedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/studynotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Key         string `json:"key,omitempty"`          // redis
	MaxEntries  int    `json:"max_entries,omitempty"`  // redis
}

type EventsConfig struct {
	Buffer int        `json:"buffer,omitempty"`
	AMQP   AMQPConfig `json:"amqp"`
}

type AMQPConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// DebugConfig controls the pprof listener. It binds to 127.0.0.1:6060 unless
// Addr says otherwise; other hosts need Token or AllowInsecure.
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}
