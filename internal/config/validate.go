package config

import (
	"errors"
	"fmt"
	"strings"

	"firefeed/internal/delivery"
	"firefeed/internal/storage"
	"firefeed/internal/task/scheduler"
)

// Default schedules of the maintenance jobs.
const (
	DefaultCycleSchedule        = "3m"
	DefaultLockSweepSchedule    = "1h"
	DefaultSessionSweepSchedule = "10m"
)

// Validate rejects configs that cannot run. It is used at startup and as the
// hot-reload gate, so a bad edit never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("telegram.send_timeout", cfg.Telegram.SendTimeout)
	dur("telegram.command_timeout", cfg.Telegram.CommandTimeout)
	if cfg.Logging.Ops.Enabled && cfg.Telegram.OpsChatID == 0 {
		add("logging.ops.enabled requires telegram.ops_chat_id")
	}

	if len(cfg.Channels.Categories) > 0 && len(cfg.Channels.Chats) == 0 {
		add("channels.categories is set but channels.chats is empty")
	}
	for lang, chat := range cfg.Channels.Chats {
		if strings.TrimSpace(lang) == "" || chat == 0 {
			add("channels.chats: invalid entry %q=%d", lang, chat)
		}
	}

	if _, err := delivery.ParseMediaKind(cfg.Delivery.MediaPriority); err != nil {
		add("delivery.media_priority: %v", err)
	}
	if cfg.Delivery.SendsPerSecond < 0 {
		add("delivery.sends_per_second must be >= 0")
	}
	if cfg.Delivery.CaptionLimit < 0 {
		add("delivery.caption_limit must be >= 0")
	}
	dur("delivery.personal_pause", cfg.Delivery.PersonalPause)
	dur("delivery.channel_pause", cfg.Delivery.ChannelPause)
	dur("delivery.flood_buffer", cfg.Delivery.FloodBuffer)
	dur("delivery.retry.base", cfg.Delivery.Retry.Base)
	dur("delivery.retry.max", cfg.Delivery.Retry.Max)
	dur("delivery.image.timeout", cfg.Delivery.Image.Timeout)
	dur("delivery.image.connect_timeout", cfg.Delivery.Image.ConnectTimeout)

	if cfg.Rate.MaxPerHour < 0 {
		add("rate.max_per_hour must be >= 1")
	}
	if cfg.Rate.CooldownMinutes < 0 {
		add("rate.cooldown_minutes must be >= 0")
	}
	for feed, l := range cfg.Rate.Feeds {
		if l.MaxPerHour < 1 {
			add("rate.feeds.%s.max_per_hour must be >= 1", feed)
		}
		if l.CooldownMinutes < 0 {
			add("rate.feeds.%s.cooldown_minutes must be >= 0", feed)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Mode)) {
	case "", "api":
	case "db":
		if d := strings.ToLower(cfg.Storage.Driver); d != "postgres" && d != "postgresql" && d != "pgx" {
			add("source.mode=db requires storage.driver=postgres")
		}
	default:
		add("source.mode: unknown mode %q", cfg.Source.Mode)
	}
	dur("source.timeout", cfg.Source.Timeout)
	dur("source.connect_timeout", cfg.Source.ConnectTimeout)
	dur("source.max_age", cfg.Source.MaxAge)

	if !storage.KnownDriver(cfg.Storage.Driver) {
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Session.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Session.RedisAddr) == "" {
			add("session.redis_addr is required for the redis backend")
		}
	default:
		add("session.backend: unknown backend %q", cfg.Session.Backend)
	}
	dur("session.ttl", cfg.Session.TTL)

	for path, raw := range map[string]string{
		"scheduler.cycle":         cfg.Scheduler.Cycle,
		"scheduler.lock_sweep":    cfg.Scheduler.LockSweep,
		"scheduler.session_sweep": cfg.Scheduler.SessionSweep,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			add("%s: %v", path, err)
		}
	}
	dur("scheduler.cycle_timeout", cfg.Scheduler.CycleTimeout)
	dur("scheduler.lock_idle", cfg.Scheduler.LockIdle)

	dur("ops.read_timeout", cfg.Ops.ReadTimeout)
	dur("ops.write_timeout", cfg.Ops.WriteTimeout)
	dur("ops.idle_timeout", cfg.Ops.IdleTimeout)

	return errors.Join(errs...)
}

// ScheduleOr returns raw, or def when raw is empty.
func ScheduleOr(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}
