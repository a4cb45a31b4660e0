package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"reportbot/internal/delivery"
	"reportbot/internal/eventbus"
	"reportbot/internal/registry"
	"reportbot/internal/report"
	logx "reportbot/pkg/logx"
)

const defaultHistoryMax = 20

type Pipeline struct {
	d   Deps
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu         sync.Mutex
	history    []Run
	historyMax int
}

type Option func(*Pipeline)

func WithBus(b eventbus.Bus) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.bus = b
		}
	}
}

func WithHistoryMax(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.historyMax = n
		}
	}
}

func New(d Deps, log logx.Logger, opts ...Option) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{
		d:          d,
		log:        log.With(logx.String("comp", "pipeline")),
		bus:        eventbus.Nop(),
		now:        time.Now,
		historyMax: defaultHistoryMax,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RunScheduled is the periodic job. Per-subscriber failures end up in the
// returned Run; the error is set only when no report could be produced.
func (p *Pipeline) RunScheduled(ctx context.Context) (Run, error) {
	run := p.begin(TriggerScheduled, "")
	ctx = registry.WithRunID(ctx, run.ID)

	targets := p.d.Registry.Snapshot()
	run.Subscribers = len(targets)
	if len(targets) == 0 {
		run.Skipped = true
		p.finish(&run, nil)
		p.log.Info("no subscribers; run skipped", logx.String("run_id", run.ID))
		return run, nil
	}

	err := p.safely(run.ID, func() error {
		rep, err := p.produce(ctx, &run)
		if err != nil {
			return err
		}
		defer p.cleanup(rep, run.ID)

		sum := p.d.Delivery.Broadcast(ctx, rep, targets)
		run.Delivered = sum.Delivered
		run.Transient = sum.Transient
		run.Pruned = sum.Pruned
		return nil
	})
	p.finish(&run, err)
	return run, err
}

// RunOnDemand produces a fresh report for target only, whether or not it is
// a subscriber.
func (p *Pipeline) RunOnDemand(ctx context.Context, target string) error {
	run := p.begin(TriggerOnDemand, target)
	ctx = registry.WithRunID(ctx, run.ID)
	run.Subscribers = p.d.Registry.Len()

	err := p.safely(run.ID, func() error {
		rep, err := p.produce(ctx, &run)
		if err != nil {
			return err
		}
		defer p.cleanup(rep, run.ID)

		err = p.d.Delivery.DeliverOne(ctx, rep, target)
		var derr *delivery.Error
		switch {
		case err == nil:
			run.Delivered = 1
		case errors.As(err, &derr):
			if derr.Outcome == delivery.TransientFailure {
				run.Transient = 1
			}
			if derr.Pruned {
				run.Pruned = []string{target}
			}
		default:
			run.Transient = 1
		}
		return err
	})
	p.finish(&run, err)
	return err
}

// Register adds id to the subscribers. The bool is false when it was
// already there.
func (p *Pipeline) Register(ctx context.Context, id string) (bool, error) {
	return p.d.Registry.Add(ctx, id)
}

func (p *Pipeline) Unregister(ctx context.Context, id string) (bool, error) {
	return p.d.Registry.Remove(ctx, id)
}

func (p *Pipeline) produce(ctx context.Context, run *Run) (*report.Report, error) {
	snap, err := p.d.Checker.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("check sources: %w", err)
	}
	run.Sources = len(snap.Results())
	run.Healthy = snap.Healthy()
	run.RecordCount = -1
	if snap.CountAvailable {
		run.RecordCount = snap.RecordCount
	}

	rep, err := p.d.Builder.Build(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	return rep, nil
}

func (p *Pipeline) cleanup(rep *report.Report, runID string) {
	if err := rep.Cleanup(); err != nil {
		p.log.Warn("report cleanup failed", logx.String("run_id", runID), logx.Err(err))
	}
}

func (p *Pipeline) safely(runID string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("run panicked", logx.String("run_id", runID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (p *Pipeline) begin(trigger Trigger, target string) Run {
	run := Run{
		ID:          ksuid.New().String(),
		Trigger:     trigger,
		Target:      target,
		StartedAt:   p.now(),
		RecordCount: -1,
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.RunStarted, Data: map[string]any{"run_id": run.ID, "trigger": string(trigger)}})
	return run
}

func (p *Pipeline) finish(run *Run, err error) {
	run.FinishedAt = p.now()
	if err != nil {
		run.Error = err.Error()
	}
	p.record(*run)

	typ := eventbus.RunFinished
	if run.Skipped {
		typ = eventbus.RunSkipped
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: *run})

	fields := []logx.Field{
		logx.String("run_id", run.ID),
		logx.String("trigger", string(run.Trigger)),
		logx.Int("subscribers", run.Subscribers),
		logx.Int("delivered", run.Delivered),
		logx.Int("pruned", len(run.Pruned)),
		logx.Duration("took", run.Took()),
	}
	switch {
	case err != nil:
		p.log.Error("run failed", append(fields, logx.Err(err))...)
	case !run.Skipped:
		p.log.Info("run finished", fields...)
	}
}

func (p *Pipeline) record(run Run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, run)
	if over := len(p.history) - p.historyMax; over > 0 {
		p.history = append(p.history[:0:0], p.history[over:]...)
	}
}

// History returns recorded runs, newest first.
func (p *Pipeline) History() []Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Run, len(p.history))
	for i, r := range p.history {
		out[len(p.history)-1-i] = r
	}
	return out
}

// LastRun reports the most recent run of the given trigger.
func (p *Pipeline) LastRun(trigger Trigger) (Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].Trigger == trigger {
			return p.history[i], true
		}
	}
	return Run{}, false
}
