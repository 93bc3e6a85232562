package scheduler

import "time"

// Snapshot is a point-in-time view for the ops endpoint and /status.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	out := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: s.cfg.Timezone}
	loc := s.loc
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
			Running: d.state.running.Load(),
			Runs:    d.state.runs.Load(),
			Fails:   d.state.fails.Load(),
			Skipped: d.state.skipped.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	if out.Timezone == "" {
		if loc == nil {
			loc = time.Local
		}
		out.Timezone = loc.String()
	}
	out.Schedules = items

	s.hmu.Lock()
	out.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}
