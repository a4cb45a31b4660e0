// Package delivery fans a rendered report out to subscribers.
//
// Targets are served one at a time. A failure for one target never stops the
// batch; a target that revoked access is removed from the registry before the
// next target is attempted.
package delivery

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reportbot/internal/registry"
	"reportbot/internal/report"
	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

const (
	defaultRatePerSec  = 20
	defaultSendTimeout = 60 * time.Second
)

type Engine struct {
	sender  Sender
	remover Remover
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	seq     uint64
	histMu  sync.RWMutex
	history []Summary
}

func New(cfg Config, sender Sender, remover Remover, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{sender: sender, remover: remover, log: log.With(logx.String("comp", "delivery"))}
	e.Apply(cfg)
	return e
}

func (e *Engine) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	e.mu.Unlock()
}

func (e *Engine) current() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

// Broadcast delivers rep to every target and returns what happened. It never
// fails as a whole; per-target errors are logged and summarised.
func (e *Engine) Broadcast(ctx context.Context, rep *report.Report, targets []string) Summary {
	e.mu.Lock()
	e.seq++
	id := "bc-" + strconv.FormatUint(e.seq, 10)
	e.mu.Unlock()

	sum := Summary{ID: id, Total: len(targets), StartedAt: time.Now()}
	for _, t := range targets {
		if ctx.Err() != nil {
			e.log.Warn("broadcast interrupted", logx.String("id", id), logx.Int("remaining", sum.Total-len(sum.Results)))
			break
		}
		res := e.deliver(ctx, rep, t)
		sum.Results = append(sum.Results, res.TargetResult)
		switch res.Outcome {
		case Delivered:
			sum.Delivered++
		case TransientFailure:
			sum.Transient++
			e.log.Warn("delivery failed", logx.String("target", t), logx.String("outcome", res.Outcome.String()), logx.Err(res.err))
		case PermanentFailure:
			sum.Permanent++
			if res.Pruned {
				sum.Pruned = append(sum.Pruned, t)
			}
			e.log.Warn("delivery refused, subscriber dropped", logx.String("target", t), logx.Bool("pruned", res.Pruned), logx.Err(res.err))
		}
	}
	sum.FinishedAt = time.Now()
	e.record(sum)

	e.log.Info("broadcast done",
		logx.String("id", id),
		logx.Int("total", sum.Total),
		logx.Int("delivered", sum.Delivered),
		logx.Int("transient", sum.Transient),
		logx.Int("permanent", sum.Permanent),
		logx.Duration("took", sum.Took()),
	)
	return sum
}

// DeliverOne serves a single requester. Failures come back as *Error; a
// revoked target is pruned just like in Broadcast.
func (e *Engine) DeliverOne(ctx context.Context, rep *report.Report, target string) error {
	res := e.deliver(ctx, rep, target)
	if res.Outcome == Delivered {
		return nil
	}
	return &Error{Target: target, Outcome: res.Outcome, Pruned: res.Pruned, Err: res.err}
}

type attempt struct {
	TargetResult
	err error
}

func (e *Engine) deliver(ctx context.Context, rep *report.Report, target string) (res attempt) {
	res.Target = target
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("delivery panicked", logx.String("target", target), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res.Outcome = TransientFailure
			res.err = fmt.Errorf("panic: %v", r)
			res.Error = res.err.Error()
		}
	}()

	err := e.send(ctx, rep, target)
	res.Outcome = Classify(err)
	res.err = err
	if err != nil {
		res.Error = err.Error()
	}
	if res.Outcome == PermanentFailure && e.remover != nil {
		rctx := registry.WithReason(ctx, "forbidden")
		removed, rerr := e.remover.Remove(rctx, target)
		if rerr != nil {
			e.log.Error("prune failed", logx.String("target", target), logx.Err(rerr))
		}
		res.Pruned = removed
	}
	return res
}

// send posts the text, then the attachment. The attachment file is opened
// for this target only and closed on every path.
func (e *Engine) send(ctx context.Context, rep *report.Report, target string) error {
	if rep == nil {
		return fmt.Errorf("nil report")
	}
	cfg, lim := e.current()
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	to := kit.ChatTarget{ChatID: target}
	opt := &kit.SendOptions{ParseMode: rep.ParseMode, DisablePreview: true}
	if _, err := e.sender.SendText(sctx, to, rep.Text, opt); err != nil {
		return err
	}

	att := rep.Attachment
	if att == nil {
		return nil
	}
	f, err := os.Open(att.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	doc := kit.Document{Name: att.Name, MIME: att.MIME, Caption: rep.Caption, Reader: f}
	_, err = e.sender.SendDocument(sctx, to, doc, &kit.SendOptions{ParseMode: rep.ParseMode})
	return err
}

var _ Remover = (*registry.Registry)(nil)
