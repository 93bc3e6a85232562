package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"firefeed/internal/eventbus"
	logx "firefeed/pkg/logx"
)

const defaultHistorySize = 50

// Config controls the scheduler.
type Config struct {
	Enabled     bool
	Timezone    string // IANA TZ, e.g. "Europe/Berlin"
	HistorySize int
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// runState gates overlap for one schedule.
type runState struct {
	running atomic.Bool
	skipped atomic.Uint64
	runs    atomic.Uint64
	fails   atomic.Uint64
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	state         *runState
}

// HistoryItem records one finished run.
type HistoryItem struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// runCtx is the context jobs derive from; set by Start.
	runCtx context.Context
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
	Running bool          `json:"running"`
	Runs    uint64        `json:"runs"`
	Fails   uint64        `json:"fails"`
	Skipped uint64        `json:"skipped"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}
