package app

import (
	"context"
	"strings"
	"time"

	"firefeed/internal/config"
	logx "firefeed/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable parts of newCfg into the running
// components. Sections bound at startup only produce a warning.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	if oldCfg == nil {
		oldCfg = &config.Config{}
	}
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range restart {
		a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if fcfg, err := mapFanoutConfig(newCfg); err != nil {
		a.log.Warn("invalid fanout config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.SetConfig(fcfg)
	}
	a.caps.SetSendRate(newCfg.Delivery.SendsPerSecond, newCfg.Delivery.Burst)

	defLimits, overrides := mapFeedLimits(newCfg)
	a.governor.SetDefaultLimits(defLimits)
	a.overrides.Set(overrides)

	a.applyScheduler(ctx, oldCfg, newCfg)

	if opsCfg, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, opsCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(ctx context.Context, oldCfg, cfg *config.Config) {
	wasEnabled := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(cfg))

	// Re-registering resets run counters, so only do it when a schedule moved.
	oldPlan, _ := mapJobPlan(oldCfg)
	plan, err := mapJobPlan(cfg)
	switch {
	case err != nil:
		a.log.Warn("invalid scheduler config; keeping previous jobs", logx.Err(err))
	case plan != oldPlan:
		if err := a.registerJobs(plan); err != nil {
			a.log.Warn("scheduler job update failed", logx.Err(err))
		}
	}

	switch enabled := cfg.Scheduler.Enabled; {
	case wasEnabled && !enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
}
