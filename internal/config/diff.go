package config

import (
	"reflect"
	"strings"

	logx "firefeed/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe structured attrs
// for logging (never tokens, keys or DSNs) and the changed sections that only
// take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := oldCfg, newCfg

	mark := func(section string, needsRestart bool, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if needsRestart {
			restart = append(restart, section)
		}
	}

	if o.Telegram.Token != n.Telegram.Token ||
		o.Telegram.PollTimeout != n.Telegram.PollTimeout ||
		o.Telegram.SendTimeout != n.Telegram.SendTimeout {
		mark("telegram", true, logx.String("telegram.poll_timeout", n.Telegram.PollTimeout))
	} else if o.Telegram.CommandTimeout != n.Telegram.CommandTimeout || o.Telegram.OpsChatID != n.Telegram.OpsChatID {
		mark("telegram", false, logx.Bool("telegram.ops_chat_set", n.Telegram.OpsChatID != 0))
	}

	if !reflect.DeepEqual(o.Logging, n.Logging) {
		mark("logging", false,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file", n.Logging.File.Enabled),
			logx.Bool("logging.ops", n.Logging.Ops.Enabled),
		)
	}

	if !reflect.DeepEqual(o.Channels, n.Channels) {
		mark("channels", false,
			logx.Int("channels.chats", len(n.Channels.Chats)),
			logx.Strings("channels.categories", n.Channels.Categories),
		)
	}

	if !reflect.DeepEqual(o.Delivery, n.Delivery) {
		// pacing and pauses apply live; caps, retry and media settings are bound at startup.
		od, nd := o.Delivery, n.Delivery
		restartNeeded := od.ChannelSends != nd.ChannelSends || od.PersonalSends != nd.PersonalSends ||
			od.ItemPrep != nd.ItemPrep || od.FloodBuffer != nd.FloodBuffer || od.CaptionLimit != nd.CaptionLimit ||
			!reflect.DeepEqual(od.Retry, nd.Retry) || od.Image != nd.Image
		mark("delivery", restartNeeded,
			logx.String("delivery.media_priority", n.Delivery.MediaPriority),
			logx.Float64("delivery.sends_per_second", n.Delivery.SendsPerSecond),
			logx.String("delivery.personal_pause", n.Delivery.PersonalPause),
		)
	}

	if !reflect.DeepEqual(o.Rate, n.Rate) {
		mark("rate", false,
			logx.Int("rate.cooldown_minutes", n.Rate.CooldownMinutes),
			logx.Int("rate.max_per_hour", n.Rate.MaxPerHour),
			logx.Int("rate.feed_overrides", len(n.Rate.Feeds)),
		)
	}

	if !reflect.DeepEqual(o.Source, n.Source) {
		// base url, mode and credentials are bound to the client built at startup.
		restartNeeded := o.Source.Mode != n.Source.Mode || o.Source.BaseURL != n.Source.BaseURL ||
			o.Source.APIKey != n.Source.APIKey || o.Source.Timeout != n.Source.Timeout ||
			o.Source.ConnectTimeout != n.Source.ConnectTimeout
		mark("source", restartNeeded,
			logx.String("source.mode", n.Source.Mode),
			logx.Int("source.batch_limit", n.Source.BatchLimit),
			logx.Bool("source.api_key_set", strings.TrimSpace(n.Source.APIKey) != ""),
		)
	}

	if !reflect.DeepEqual(o.Storage, n.Storage) {
		mark("storage", true, logx.String("storage.driver", n.Storage.Driver))
	}
	if !reflect.DeepEqual(o.Session, n.Session) {
		mark("session", true, logx.String("session.backend", n.Session.Backend))
	}

	if !reflect.DeepEqual(o.Scheduler, n.Scheduler) {
		mark("scheduler", false,
			logx.Bool("scheduler.enabled", n.Scheduler.Enabled),
			logx.String("scheduler.cycle", n.Scheduler.Cycle),
			logx.String("scheduler.timezone", n.Scheduler.Timezone),
		)
	}

	if !reflect.DeepEqual(o.Events, n.Events) {
		mark("events", true, logx.Bool("events.nats", n.Events.NATSURL != ""))
	}

	if !reflect.DeepEqual(o.Ops, n.Ops) {
		mark("ops", false,
			logx.Bool("ops.enabled", n.Ops.Enabled),
			logx.String("ops.addr", n.Ops.Addr),
			logx.Bool("ops.token_set", n.Ops.Token != ""),
			logx.Bool("ops.pprof", n.Ops.Pprof),
		)
	}
	return changed, attrs, restart
}
