package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
// Durations are Go duration strings ("500ms", "10s", "1h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Channels  ChannelsConfig  `json:"channels"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Rate      RateConfig      `json:"rate"`
	Source    SourceConfig    `json:"source"`
	Storage   StorageConfig   `json:"storage"`
	Session   SessionConfig   `json:"session"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Events    EventsConfig    `json:"events,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// CommandTimeout bounds one user command handler.
	CommandTimeout string `json:"command_timeout,omitempty"`
	// OpsChatID receives warnings from the log sink when logging.ops is enabled.
	OpsChatID int64 `json:"ops_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Ops     LoggingOps  `json:"ops"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingOps struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ChannelsConfig is the broadcast setup.
//
// Example:
//
//	"channels": { "chats": { "en": -1001, "ru": -1002 }, "categories": ["world", "technology"] }
type ChannelsConfig struct {
	Chats      map[string]int64 `json:"chats"`
	Categories []string         `json:"categories"`
}

type DeliveryConfig struct {
	// MediaPriority is "image" or "video".
	MediaPriority string `json:"media_priority,omitempty"`

	ChannelSends   int     `json:"channel_sends,omitempty"`
	PersonalSends  int     `json:"personal_sends,omitempty"`
	ItemPrep       int     `json:"item_prep,omitempty"`
	SendsPerSecond float64 `json:"sends_per_second,omitempty"`
	Burst          int     `json:"burst,omitempty"`

	PersonalPause string `json:"personal_pause,omitempty"`
	ChannelPause  string `json:"channel_pause,omitempty"`
	FloodBuffer   string `json:"flood_buffer,omitempty"`
	CaptionLimit  int    `json:"caption_limit,omitempty"`

	Retry RetryConfig `json:"retry,omitempty"`
	Image ImageConfig `json:"image,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Base        string `json:"base,omitempty"`
	Max         string `json:"max,omitempty"`
	// Jitter defaults to true when omitted.
	Jitter *bool `json:"jitter,omitempty"`
}

type ImageConfig struct {
	Validate       bool   `json:"validate"`
	MaxBytes       int64  `json:"max_bytes,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

type RateConfig struct {
	CooldownMinutes int `json:"cooldown_minutes,omitempty"`
	MaxPerHour      int `json:"max_per_hour,omitempty"`
	// SelfPacing defaults to true when omitted.
	SelfPacing *bool `json:"self_pacing,omitempty"`
	// Feeds overrides the limits stored with each feed.
	Feeds map[string]FeedLimitsConfig `json:"feeds,omitempty"`
}

type FeedLimitsConfig struct {
	CooldownMinutes int `json:"cooldown_minutes"`
	MaxPerHour      int `json:"max_per_hour"`
}

type SourceConfig struct {
	// Mode is "api" (default) or "db"; "db" requires the postgres storage driver.
	Mode             string `json:"mode,omitempty"`
	BaseURL          string `json:"base_url,omitempty"`
	APIKey           string `json:"api_key,omitempty"`
	Timeout          string `json:"timeout,omitempty"`
	ConnectTimeout   string `json:"connect_timeout,omitempty"`
	BatchLimit       int    `json:"batch_limit,omitempty"`
	OriginalLanguage string `json:"original_language,omitempty"`
	MaxAge           string `json:"max_age,omitempty"`
}

// StorageConfig selects the ledger/directory driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./firefeed.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type SessionConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend   string `json:"backend,omitempty"`
	TTL       string `json:"ttl,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisPass string `json:"redis_password,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// Cycle, LockSweep and SessionSweep accept cron ("*/5 * * * *"),
	// HH:MM ("00:05") or duration ("90s") forms.
	Cycle        string `json:"cycle,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	LockSweep    string `json:"lock_sweep,omitempty"`
	LockIdle     string `json:"lock_idle,omitempty"`
	SessionSweep string `json:"session_sweep,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

type EventsConfig struct {
	NATSURL       string `json:"nats_url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// OpsConfig controls the HTTP ops endpoint.
//
// Security note: a non-loopback addr needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
