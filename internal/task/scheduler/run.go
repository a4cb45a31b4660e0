package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"reportbot/internal/eventbus"
	logx "reportbot/pkg/logx"
)

// RunNow fires name immediately, outside its schedule, and waits for the
// run. The overlap guard applies: ErrOverlapSkip is returned when the
// schedule is already running.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var (
		def   scheduleDef
		found bool
	)
	for _, d := range s.defs {
		if d.name == name {
			def, found = d, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return s.exec(def.name, def.running, def.timeout, def.job)
}

func (s *Service) exec(name string, running *atomic.Bool, timeout time.Duration, job Job) error {
	started := s.now()
	if !running.CompareAndSwap(false, true) {
		s.noteSkip(name, started)
		return ErrOverlapSkip
	}
	defer running.Store(false)

	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := parent, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	s.log.Debug("run started", logx.String("schedule", name))
	err := s.runRecovered(ctx, name, job)
	took := s.now().Sub(started)

	item := HistoryItem{Name: name, Started: started, Duration: took}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("run failed", logx.String("schedule", name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("run finished", logx.String("schedule", name), logx.Duration("took", took))
	}
	s.record(item)
	return err
}

func (s *Service) runRecovered(ctx context.Context, name string, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("run panicked", logx.String("schedule", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Service) noteSkip(name string, at time.Time) {
	s.record(HistoryItem{Name: name, Started: at, Skipped: true})
	s.bus.Publish(eventbus.Event{Type: eventbus.RunSkipped, Data: map[string]any{"schedule": name, "reason": "overlap"}})

	s.skipMu.Lock()
	last := s.lastSkipWarn[name]
	warn := last.IsZero() || at.Sub(last) >= skipWarnThrottle
	if warn {
		s.lastSkipWarn[name] = at
	}
	s.skipMu.Unlock()

	if warn {
		s.log.Warn("trigger skipped, previous run still in flight", logx.String("schedule", name))
	} else {
		s.log.Debug("trigger skipped", logx.String("schedule", name))
	}
}

func (s *Service) record(it HistoryItem) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()
	if max <= 0 {
		max = defaultHistorySize
	}
	s.histMu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - max; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.histMu.Unlock()
}

// History returns recorded triggers, newest first.
func (s *Service) History() []HistoryItem {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]HistoryItem, len(s.history))
	for i, it := range s.history {
		out[len(s.history)-1-i] = it
	}
	return out
}
