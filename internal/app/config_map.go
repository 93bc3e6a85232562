package app

import (
	"fmt"
	"strings"
	"time"

	"firefeed/internal/config"
	"firefeed/internal/delivery"
	"firefeed/internal/fanout"
	"firefeed/internal/news"
	"firefeed/internal/observability/opsserver"
	"firefeed/internal/session"
	"firefeed/internal/source"
	"firefeed/internal/storage"
	"firefeed/internal/task/scheduler"
	telegram "firefeed/internal/transport/telegram/adapter"
	logx "firefeed/pkg/logx"
)

const (
	defaultPersonalPause = 500 * time.Millisecond
	defaultChannelPause  = 5 * time.Second
	defaultFloodBuffer   = time.Second
	defaultCycleTimeout  = 15 * time.Minute
	defaultLockIdle      = time.Hour
	defaultSweepTimeout  = time.Minute
)

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, time.Duration, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	send, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 30*time.Second)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	cmd, err := config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll, SendTimeout: send}, cmd, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    cfg.Logging.Ops.Enabled,
			ChatID:     cfg.Telegram.OpsChatID,
			ThreadID:   cfg.Logging.Ops.ThreadID,
			MinLevel:   cfg.Logging.Ops.MinLevel,
			RatePerSec: cfg.Logging.Ops.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, DSN: sc.DSN, BusyTimeout: busy, MaxConns: sc.MaxConns}, nil
}

// sessionBackend is the mapped session section.
type sessionBackend struct {
	Redis bool
	TTL   time.Duration
	Conf  session.RedisConfig
}

func mapSessionConfig(cfg *config.Config) (sessionBackend, error) {
	ttl, err := config.ParseDurationOrDefault("session.ttl", cfg.Session.TTL, session.DefaultTTL)
	if err != nil {
		return sessionBackend{}, err
	}
	sb := sessionBackend{TTL: ttl}
	if strings.EqualFold(strings.TrimSpace(cfg.Session.Backend), "redis") {
		sb.Redis = true
		sb.Conf = session.RedisConfig{
			Addr:      cfg.Session.RedisAddr,
			Password:  cfg.Session.RedisPass,
			DB:        cfg.Session.RedisDB,
			KeyPrefix: cfg.Session.KeyPrefix,
			TTL:       ttl,
		}
	}
	return sb, nil
}

func sourceFromDB(cfg *config.Config) bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Source.Mode), "db")
}

func mapSourceConfig(cfg *config.Config) (source.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, source.DefaultTimeout)
	if err != nil {
		return source.Config{}, err
	}
	connect, err := config.ParseDurationOrDefault("source.connect_timeout", cfg.Source.ConnectTimeout, source.DefaultConnectTimeout)
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		BaseURL:        cfg.Source.BaseURL,
		APIKey:         cfg.Source.APIKey,
		Timeout:        timeout,
		ConnectTimeout: connect,
	}, nil
}

func mapCapsConfig(cfg *config.Config) delivery.CapsConfig {
	d := cfg.Delivery
	return delivery.CapsConfig{
		ChannelSends:   d.ChannelSends,
		PersonalSends:  d.PersonalSends,
		ItemPrep:       d.ItemPrep,
		SendsPerSecond: d.SendsPerSecond,
		Burst:          d.Burst,
	}
}

// executorSettings is the mapped delivery section that is fixed for the process lifetime.
type executorSettings struct {
	Exec          delivery.ExecutorConfig
	ValidateImage bool
	Image         delivery.ImageValidatorConfig
}

func mapExecutorConfig(cfg *config.Config) (executorSettings, error) {
	d := cfg.Delivery
	flood, err := config.ParseDurationOrDefault("delivery.flood_buffer", d.FloodBuffer, defaultFloodBuffer)
	if err != nil {
		return executorSettings{}, err
	}
	retry := delivery.DefaultRetryPolicy()
	if d.Retry.MaxAttempts > 0 {
		retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if retry.Base, err = config.ParseDurationOrDefault("delivery.retry.base", d.Retry.Base, delivery.DefaultRetryBase); err != nil {
		return executorSettings{}, err
	}
	if retry.Max, err = config.ParseDurationOrDefault("delivery.retry.max", d.Retry.Max, delivery.DefaultRetryMax); err != nil {
		return executorSettings{}, err
	}
	retry.Jitter = boolOr(d.Retry.Jitter, true)

	imgTimeout, err := config.ParseDurationField("delivery.image.timeout", d.Image.Timeout)
	if err != nil {
		return executorSettings{}, err
	}
	imgConnect, err := config.ParseDurationField("delivery.image.connect_timeout", d.Image.ConnectTimeout)
	if err != nil {
		return executorSettings{}, err
	}
	return executorSettings{
		Exec: delivery.ExecutorConfig{
			FloodBuffer:  flood,
			CaptionLimit: d.CaptionLimit,
			Retry:        retry,
		},
		ValidateImage: d.Image.Validate,
		Image: delivery.ImageValidatorConfig{
			MaxBytes:       d.Image.MaxBytes,
			Timeout:        imgTimeout,
			ConnectTimeout: imgConnect,
		},
	}, nil
}

// mapFeedLimits returns the fallback limits and the per-feed overrides.
// Zero values in the rate section select the built-in defaults.
func mapFeedLimits(cfg *config.Config) (news.FeedLimits, map[string]news.FeedLimits) {
	def := news.DefaultFeedLimits()
	if cfg.Rate.CooldownMinutes > 0 {
		def.CooldownMinutes = cfg.Rate.CooldownMinutes
	}
	if cfg.Rate.MaxPerHour > 0 {
		def.MaxPerHour = cfg.Rate.MaxPerHour
	}
	overrides := make(map[string]news.FeedLimits, len(cfg.Rate.Feeds))
	for feed, l := range cfg.Rate.Feeds {
		overrides[strings.TrimSpace(feed)] = news.FeedLimits{CooldownMinutes: l.CooldownMinutes, MaxPerHour: l.MaxPerHour}
	}
	return def, overrides
}

func mapFanoutConfig(cfg *config.Config) (fanout.Config, error) {
	media, err := delivery.ParseMediaKind(cfg.Delivery.MediaPriority)
	if err != nil {
		return fanout.Config{}, fmt.Errorf("delivery.media_priority: %w", err)
	}
	personal, err := config.ParseDurationOrDefault("delivery.personal_pause", cfg.Delivery.PersonalPause, defaultPersonalPause)
	if err != nil {
		return fanout.Config{}, err
	}
	channel, err := config.ParseDurationOrDefault("delivery.channel_pause", cfg.Delivery.ChannelPause, defaultChannelPause)
	if err != nil {
		return fanout.Config{}, err
	}
	maxAge, err := config.ParseDurationField("source.max_age", cfg.Source.MaxAge)
	if err != nil {
		return fanout.Config{}, err
	}

	chats := make(map[string]int64, len(cfg.Channels.Chats))
	for lang, id := range cfg.Channels.Chats {
		chats[strings.ToLower(strings.TrimSpace(lang))] = id
	}
	cats := make([]string, 0, len(cfg.Channels.Categories))
	for _, c := range cfg.Channels.Categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cats = append(cats, c)
		}
	}
	return fanout.Config{
		Channels:          chats,
		ChannelCategories: cats,
		BatchLimit:        cfg.Source.BatchLimit,
		OriginalLanguage:  cfg.Source.OriginalLanguage,
		MaxAge:            maxAge,
		MediaPriority:     media,
		PersonalPause:     personal,
		ChannelPause:      channel,
		SelfPacing:        boolOr(cfg.Rate.SelfPacing, true),
	}, nil
}

func mapOpsConfig(cfg *config.Config) (opsserver.Config, error) {
	o := cfg.Ops
	read, err := config.ParseDurationField("ops.read_timeout", o.ReadTimeout)
	if err != nil {
		return opsserver.Config{}, err
	}
	write, err := config.ParseDurationField("ops.write_timeout", o.WriteTimeout)
	if err != nil {
		return opsserver.Config{}, err
	}
	idle, err := config.ParseDurationField("ops.idle_timeout", o.IdleTimeout)
	if err != nil {
		return opsserver.Config{}, err
	}
	return opsserver.Config{
		Enabled:              o.Enabled,
		Addr:                 o.Addr,
		Token:                o.Token,
		AllowInsecure:        o.AllowInsecure,
		Pprof:                o.Pprof,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    cfg.Scheduler.Timezone,
		HistorySize: cfg.Scheduler.HistorySize,
	}
}

// jobPlan is the mapped schedule of the maintenance jobs.
type jobPlan struct {
	Cycle        string
	CycleTimeout time.Duration
	LockSweep    string
	LockIdle     time.Duration
	SessionSweep string
}

func mapJobPlan(cfg *config.Config) (jobPlan, error) {
	s := cfg.Scheduler
	timeout, err := config.ParseDurationOrDefault("scheduler.cycle_timeout", s.CycleTimeout, defaultCycleTimeout)
	if err != nil {
		return jobPlan{}, err
	}
	idle, err := config.ParseDurationOrDefault("scheduler.lock_idle", s.LockIdle, defaultLockIdle)
	if err != nil {
		return jobPlan{}, err
	}
	return jobPlan{
		Cycle:        config.ScheduleOr(s.Cycle, config.DefaultCycleSchedule),
		CycleTimeout: timeout,
		LockSweep:    config.ScheduleOr(s.LockSweep, config.DefaultLockSweepSchedule),
		LockIdle:     idle,
		SessionSweep: config.ScheduleOr(s.SessionSweep, config.DefaultSessionSweepSchedule),
	}, nil
}
