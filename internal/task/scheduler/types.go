package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"reportbot/internal/eventbus"
	logx "reportbot/pkg/logx"
)

const (
	defaultHistorySize = 50
	skipWarnThrottle   = time.Minute
)

type Config struct {
	Enabled     bool
	Timezone    string // IANA TZ, e.g. "Asia/Tashkent"
	HistorySize int
}

// Job is the unit a schedule fires. ctx carries the per-run timeout and is
// cancelled on Stop, not when the context passed to Start is.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc

	now func() time.Time

	histMu  sync.Mutex
	history []HistoryItem

	skipMu       sync.Mutex
	lastSkipWarn map[string]time.Time
}

// HistoryItem describes one trigger: a completed run or a skipped one.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Error    string
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Running bool
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Started   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}
