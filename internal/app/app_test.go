package app

import (
	"testing"
	"time"

	"firefeed/internal/config"
	"firefeed/internal/delivery"
	"firefeed/internal/news"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc"},
		Channels: config.ChannelsConfig{
			Chats:      map[string]int64{" EN ": -1001, "ru": -1002},
			Categories: []string{" World ", "", "technology"},
		},
		Storage: config.StorageConfig{Driver: "memory"},
	}
}

func TestMapFanoutConfigDefaults(t *testing.T) {
	t.Parallel()

	fc, err := mapFanoutConfig(baseConfig())
	if err != nil {
		t.Fatalf("mapFanoutConfig: %v", err)
	}
	if fc.Channels["en"] != -1001 || fc.Channels["ru"] != -1002 {
		t.Fatalf("channels not normalized: %v", fc.Channels)
	}
	if len(fc.ChannelCategories) != 2 || fc.ChannelCategories[0] != "world" {
		t.Fatalf("categories=%v", fc.ChannelCategories)
	}
	if fc.PersonalPause != defaultPersonalPause || fc.ChannelPause != defaultChannelPause {
		t.Fatalf("pauses=%v/%v", fc.PersonalPause, fc.ChannelPause)
	}
	if !fc.SelfPacing || fc.MediaPriority != delivery.MediaImage {
		t.Fatalf("self pacing=%v media=%v", fc.SelfPacing, fc.MediaPriority)
	}

	cfg := baseConfig()
	off := false
	cfg.Rate.SelfPacing = &off
	cfg.Delivery.MediaPriority = "video"
	cfg.Delivery.PersonalPause = "50ms"
	fc, err = mapFanoutConfig(cfg)
	if err != nil {
		t.Fatalf("mapFanoutConfig: %v", err)
	}
	if fc.SelfPacing || fc.MediaPriority != delivery.MediaVideo || fc.PersonalPause != 50*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", fc)
	}
}

func TestMapFeedLimits(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	def, over := mapFeedLimits(cfg)
	if def != news.DefaultFeedLimits() || len(over) != 0 {
		t.Fatalf("defaults=%+v overrides=%v", def, over)
	}

	cfg.Rate.CooldownMinutes = 15
	cfg.Rate.MaxPerHour = 3
	cfg.Rate.Feeds = map[string]config.FeedLimitsConfig{" 42 ": {CooldownMinutes: 0, MaxPerHour: 20}}
	def, over = mapFeedLimits(cfg)
	if def.CooldownMinutes != 15 || def.MaxPerHour != 3 {
		t.Fatalf("defaults=%+v", def)
	}
	if got := over["42"]; got.MaxPerHour != 20 || got.CooldownMinutes != 0 {
		t.Fatalf("override=%+v", got)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sc      config.StorageConfig
		wantErr bool
	}{
		{"memory", config.StorageConfig{Driver: "memory"}, false},
		{"sqlite needs path", config.StorageConfig{Driver: "sqlite"}, true},
		{"sqlite", config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}, false},
		{"postgres needs dsn", config.StorageConfig{Driver: "postgres"}, true},
		{"bad busy timeout", config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "later"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			cfg.Storage = tt.sc
			got, err := mapStorageConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.name == "sqlite" && (got.Driver != "sqlite" || got.BusyTimeout != 2*time.Second) {
				t.Fatalf("mapped=%+v", got)
			}
		})
	}
}

func TestMapExecutorConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	es, err := mapExecutorConfig(cfg)
	if err != nil {
		t.Fatalf("mapExecutorConfig: %v", err)
	}
	if es.Exec.FloodBuffer != defaultFloodBuffer || es.Exec.Retry.MaxAttempts != delivery.DefaultRetryAttempts || !es.Exec.Retry.Jitter {
		t.Fatalf("defaults=%+v", es.Exec)
	}

	noJitter := false
	cfg.Delivery.Retry = config.RetryConfig{MaxAttempts: 2, Base: "100ms", Jitter: &noJitter}
	cfg.Delivery.Image = config.ImageConfig{Validate: true, Timeout: "3s"}
	es, err = mapExecutorConfig(cfg)
	if err != nil {
		t.Fatalf("mapExecutorConfig: %v", err)
	}
	if es.Exec.Retry.MaxAttempts != 2 || es.Exec.Retry.Base != 100*time.Millisecond || es.Exec.Retry.Jitter {
		t.Fatalf("retry=%+v", es.Exec.Retry)
	}
	if !es.ValidateImage || es.Image.Timeout != 3*time.Second {
		t.Fatalf("image=%+v", es.Image)
	}
}

func TestMapJobPlan(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	p, err := mapJobPlan(cfg)
	if err != nil {
		t.Fatalf("mapJobPlan: %v", err)
	}
	want := jobPlan{
		Cycle:        config.DefaultCycleSchedule,
		CycleTimeout: defaultCycleTimeout,
		LockSweep:    config.DefaultLockSweepSchedule,
		LockIdle:     defaultLockIdle,
		SessionSweep: config.DefaultSessionSweepSchedule,
	}
	if p != want {
		t.Fatalf("plan=%+v want %+v", p, want)
	}

	cfg.Scheduler.Cycle = "*/5 * * * *"
	cfg.Scheduler.CycleTimeout = "bogus"
	if _, err := mapJobPlan(cfg); err == nil {
		t.Fatalf("expected cycle_timeout error")
	}
}

func TestMapLogAndSessionConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Telegram.OpsChatID = -100500
	cfg.Logging.Ops = config.LoggingOps{Enabled: true, ThreadID: 7, MinLevel: "warn"}
	lc := mapLogConfig(cfg)
	if lc.Ops.ChatID != -100500 || lc.Ops.ThreadID != 7 || !lc.Ops.Enabled {
		t.Fatalf("ops log=%+v", lc.Ops)
	}

	cfg.Session = config.SessionConfig{Backend: "Redis", RedisAddr: "127.0.0.1:6379", TTL: "2h"}
	sb, err := mapSessionConfig(cfg)
	if err != nil {
		t.Fatalf("mapSessionConfig: %v", err)
	}
	if !sb.Redis || sb.TTL != 2*time.Hour || sb.Conf.Addr != "127.0.0.1:6379" || sb.Conf.TTL != 2*time.Hour {
		t.Fatalf("session=%+v", sb)
	}
}
