package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"reportbot/internal/checker"
	"reportbot/internal/pipeline"
	"reportbot/internal/registry"
	"reportbot/internal/report"
	rtsup "reportbot/internal/runtime/supervisor"
	"reportbot/internal/task/scheduler"
	kit "reportbot/internal/transport"
	"reportbot/internal/transport/telegram/router"
	logx "reportbot/pkg/logx"
	"reportbot/pkg/tgui"
)

const (
	reportSchedule = "report"

	msgLoading      = "⏳ Preparing the report, please wait..."
	msgReportFailed = "❌ Could not prepare the report. Please try again later."
	msgRegisterFail = "❌ Could not register the chat. Please try again later."
	msgStatsLoading = "📊 Preparing statistics..."
	msgStatsFailed  = "⚠️ Could not prepare statistics. Please try again later."
	msgStatusRuns   = 5
	maxRunErrLen    = 200
)

type botPipeline interface {
	Register(ctx context.Context, id string) (bool, error)
	Unregister(ctx context.Context, id string) (bool, error)
	RunOnDemand(ctx context.Context, target string) error
	History() []pipeline.Run
}

type scheduleView interface {
	Snapshot() scheduler.Snapshot
}

type leadSource interface {
	FetchRecords(ctx context.Context) ([]checker.Record, error)
}

type statsBuilder interface {
	BuildStats(ctx context.Context, records []checker.Record) (*report.StatsReport, error)
}

type commandSet struct {
	pipe        botPipeline
	sched       scheduleView
	leads       leadSource
	stats       statsBuilder
	subscribers func() int
	runTimeout  time.Duration
	runtime     func() rtsup.Counters
}

func (c *commandSet) commands() []router.Command {
	return []router.Command{
		{
			Name:        "register",
			Aliases:     []string{"join"},
			Description: "subscribe a chat to periodic reports",
			Usage:       "/register [chat_id]",
			Timeout:     30 * time.Second,
			Handle:      c.register,
		},
		{
			Name:        "unregister",
			Aliases:     []string{"leave"},
			Description: "stop periodic reports for a chat",
			Usage:       "/unregister <chat_id>",
			Access:      router.AccessOwnerOnly,
			Timeout:     30 * time.Second,
			Handle:      c.unregister,
		},
		{
			Name:        "report",
			Aliases:     []string{"malumot"},
			Description: "get the current report now",
			Usage:       "/report",
			Timeout:     c.runTimeout,
			Handle:      c.report,
		},
		{
			Name:        "statistika",
			Aliases:     []string{"stats"},
			Description: "lead statistics by day and site",
			Usage:       "/statistika",
			Timeout:     c.runTimeout,
			Handle:      c.statistics,
		},
		{
			Name:        "status",
			Description: "subscribers, next run and recent runs",
			Usage:       "/status",
			Timeout:     10 * time.Second,
			Handle:      c.status,
		},
	}
}

// register subscribes args[0], or the requesting chat when no id is given.
func (c *commandSet) register(ctx context.Context, req *router.Request) error {
	id := req.Chat.ChatID
	if len(req.Args) > 0 {
		id = strings.TrimSpace(req.Args[0])
	}
	added, err := c.pipe.Register(registry.WithActor(ctx, req.FromID), id)
	switch {
	case errors.Is(err, registry.ErrInvalidID):
		_, rerr := req.Reply(ctx, "Usage: <code>/register [chat_id]</code>")
		return rerr
	case err != nil:
		_, _ = req.Reply(ctx, msgRegisterFail)
		return err
	}

	code := tgui.Code(id).String()
	text := "✅ Chat " + code + " registered for periodic reports."
	if !added {
		text = "ℹ️ Chat " + code + " is already registered."
	}
	_, err = req.Reply(ctx, text)
	return err
}

func (c *commandSet) unregister(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		_, err := req.Reply(ctx, "Usage: <code>/unregister &lt;chat_id&gt;</code>")
		return err
	}
	id := strings.TrimSpace(req.Args[0])
	removed, err := c.pipe.Unregister(registry.WithReason(registry.WithActor(ctx, req.FromID), "command"), id)
	if err != nil {
		_, _ = req.Reply(ctx, "❌ Could not unregister the chat.")
		return err
	}
	text := "🗑 Chat " + tgui.Code(id).String() + " unregistered."
	if !removed {
		text = "Chat " + tgui.Code(id).String() + " was not registered."
	}
	_, err = req.Reply(ctx, text)
	return err
}

// report answers the requester only. The loading notice is removed whether
// the run worked or not; a failure always gets a reply.
func (c *commandSet) report(ctx context.Context, req *router.Request) error {
	loading, lerr := req.Reply(ctx, msgLoading)

	err := c.pipe.RunOnDemand(ctx, req.Chat.ChatID)

	if lerr == nil {
		dropLoading(ctx, req, loading)
	}
	if err != nil {
		replyDetached(ctx, req, msgReportFailed)
		return err
	}
	return nil
}

// statistics fetches the backend leads and answers with the summary text
// followed by the table files. Same loading and failure contract as report.
func (c *commandSet) statistics(ctx context.Context, req *router.Request) error {
	loading, lerr := req.Reply(ctx, msgStatsLoading)

	var rep *report.StatsReport
	records, err := c.leads.FetchRecords(ctx)
	if err == nil {
		rep, err = c.stats.BuildStats(ctx, records)
	}

	if lerr == nil {
		dropLoading(ctx, req, loading)
	}
	if err != nil {
		replyDetached(ctx, req, msgStatsFailed)
		return err
	}
	defer func() {
		if cerr := rep.Cleanup(); cerr != nil {
			req.Logger.Warn("stats files not removed", logx.Err(cerr))
		}
	}()

	if _, err := req.Reply(ctx, rep.Text); err != nil {
		return err
	}
	for _, att := range rep.Attachments {
		if err := replyAttachment(ctx, req, att); err != nil {
			return fmt.Errorf("send %s: %w", att.Name, err)
		}
	}
	return nil
}

func replyAttachment(ctx context.Context, req *router.Request, att *report.Attachment) error {
	f, err := os.Open(att.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = req.ReplyDocument(ctx, kit.Document{Name: att.Name, MIME: att.MIME, Reader: f})
	return err
}

func dropLoading(ctx context.Context, req *router.Request, loading kit.MessageRef) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := req.Delete(dctx, loading); err != nil {
		req.Logger.Debug("loading notice not deleted", logx.Err(err))
	}
}

// replyDetached still reaches the user after the command deadline passed.
func replyDetached(ctx context.Context, req *router.Request, text string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, _ = req.Reply(rctx, text)
}

func (c *commandSet) status(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, c.statusText(time.Now()))
	return err
}

func (c *commandSet) statusText(now time.Time) string {
	card := tgui.NewCard("📋 Status").
		Field("Subscribers", tgui.B(strconv.Itoa(c.subscribers())))

	snap := c.sched.Snapshot()
	next := "disabled"
	if snap.Enabled {
		next = "not scheduled"
		for _, s := range snap.Schedules {
			if s.Name != reportSchedule || s.Next.IsZero() {
				continue
			}
			next = s.Next.Format("15:04:05") + " (" + humanize.RelTime(s.Next, now, "ago", "from now") + ")"
			if s.Running {
				next += ", running now"
			}
		}
	}
	card.Field("Next report", tgui.Esc(next))
	if snap.Timezone != "" {
		card.Field("Zone", tgui.Esc(snap.Timezone))
	}
	if c.runtime != nil {
		rc := c.runtime()
		card.Field("Workers", tgui.Esc(fmt.Sprintf("%d running, %d restarts", rc.Active, rc.Restarts)))
	}

	runs := c.pipe.History()
	if len(runs) == 0 {
		return card.Section("").Line("No runs yet.").String()
	}
	card.Section("Recent runs")
	for _, r := range runs[:min(len(runs), msgStatusRuns)] {
		card.Line(runLine(r, now))
	}
	return card.String()
}

func runLine(r pipeline.Run, now time.Time) tgui.H {
	icon := "✅"
	switch {
	case r.Skipped:
		icon = "⏭"
	case r.Failed():
		icon = "❌"
	case r.Transient > 0 || len(r.Pruned) > 0:
		icon = "⚠️"
	}
	line := fmt.Sprintf("%s %s %s, %s", icon, r.Trigger, humanize.RelTime(r.StartedAt, now, "ago", "from now"), r.Took().Round(time.Millisecond))
	switch {
	case r.Skipped:
		line += ", no subscribers"
	case r.Failed():
		line += ": " + tgui.TruncRunes(r.Error, maxRunErrLen)
	default:
		line += fmt.Sprintf(", sent %d", r.Delivered)
		if r.Transient > 0 {
			line += fmt.Sprintf(", failed %d", r.Transient)
		}
		if len(r.Pruned) > 0 {
			line += fmt.Sprintf(", pruned %d", len(r.Pruned))
		}
	}
	return tgui.Esc(line)
}
