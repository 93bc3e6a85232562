package app

import (
	"context"
	"errors"

	"firefeed/internal/fanout"
	logx "firefeed/pkg/logx"
)

const (
	jobCycle        = "fanout.cycle"
	jobLockSweep    = "locks.sweep"
	jobSessionSweep = "sessions.sweep"
)

// registerJobs upserts the periodic jobs; safe to call again on reload.
func (a *App) registerJobs(p jobPlan) error {
	if err := a.sched.Add(jobCycle, p.Cycle, p.CycleTimeout, a.runCycle); err != nil {
		return err
	}
	idle := p.LockIdle
	if err := a.sched.Add(jobLockSweep, p.LockSweep, defaultSweepTimeout, func(context.Context) error {
		srcs := a.locks.Sources.Sweep(idle)
		users := a.locks.Recipients.Sweep(idle)
		if srcs+users > 0 {
			a.log.Debug("idle locks swept", logx.Int("sources", srcs), logx.Int("recipients", users))
		}
		return nil
	}); err != nil {
		return err
	}
	return a.sched.Add(jobSessionSweep, p.SessionSweep, defaultSweepTimeout, func(ctx context.Context) error {
		n, err := a.sessions.Sweep(ctx)
		if n > 0 {
			a.log.Debug("expired sessions swept", logx.Int("count", n))
		}
		return err
	})
}

// runCycle is the scheduled cycle. A cycle still running from the ops
// trigger is not an error.
func (a *App) runCycle(ctx context.Context) error {
	rep, err := a.dispatcher.Trigger(ctx)
	if errors.Is(err, fanout.ErrCycleRunning) {
		a.log.Debug("cycle skipped, previous still running")
		return nil
	}
	if err != nil {
		return err
	}
	a.log.Info("cycle finished",
		logx.String("cycle_id", rep.CycleID),
		logx.Int("items", rep.Items),
		logx.Int("channel_sent", rep.ChannelSent),
		logx.Int("personal_sent", rep.PersonalSent),
		logx.Int("failed", rep.Failed),
		logx.Int("ledger_errors", rep.LedgerErrors),
		logx.Duration("took", rep.Duration),
	)
	return nil
}
