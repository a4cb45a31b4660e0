package app

import (
	"context"
	"strings"

	"reportbot/internal/config"
	"reportbot/internal/eventbus"
	logx "reportbot/pkg/logx"
)

// reloadLoop applies validated configs published by the manager. Bursts
// are coalesced to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
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
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("fields", restart))
	}
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	// Target before Apply, so enabling the sink never sees an empty chat.
	a.logs.SetTelegramTarget(newCfg.Telegram.GroupLog, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.checker.Apply(mapCheckerConfig(newCfg))
	a.builder.Apply(mapReportConfig(newCfg))
	a.delivery.Apply(mapDeliveryConfig(newCfg))

	if oldCfg.Scheduler.Schedule != newCfg.Scheduler.Schedule ||
		oldCfg.Scheduler.RunTimeoutOrDefault() != newCfg.Scheduler.RunTimeoutOrDefault() {
		if err := a.sched.AddSchedule(reportSchedule, newCfg.Scheduler.Schedule, newCfg.Scheduler.RunTimeoutOrDefault(), scheduledJob(a.pipe)); err != nil {
			a.log.Warn("schedule update rejected; keeping previous", logx.String("schedule", newCfg.Scheduler.Schedule), logx.Err(err))
		}
		a.cmds.runTimeout = newCfg.Scheduler.RunTimeoutOrDefault()
		a.router.SetCommands(a.cmds.commands())
	}
	a.sched.Apply(mapSchedulerConfig(newCfg))

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Data: map[string]any{"sections": sections}})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
