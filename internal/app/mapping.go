package app

import (
	"fmt"
	"strings"
	"time"

	"reportbot/internal/checker"
	"reportbot/internal/config"
	"reportbot/internal/delivery"
	"reportbot/internal/report"
	"reportbot/internal/storage"
	"reportbot/internal/task/scheduler"
	logx "reportbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = config.DefaultStorePath
	}
	switch driver := strings.ToLower(strings.TrimSpace(sc.Driver)); driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path, Audit: sc.Audit}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, Audit: sc.Audit, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapLogConfig keeps the Telegram sink off when no log chat is set.
func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) != "",
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapCheckerConfig(cfg *config.Config) checker.Config {
	sources := make([]checker.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, checker.Source{Name: strings.TrimSpace(s.Name), URL: strings.TrimSpace(s.URL)})
	}
	return checker.Config{
		Sources:        sources,
		Timeout:        config.Duration(cfg.Checker.Timeout, 0),
		Workers:        cfg.Checker.Workers,
		BackendURL:     strings.TrimSpace(cfg.Backend.BaseURL),
		UsersPath:      cfg.Backend.UsersPath,
		BackendTimeout: config.Duration(cfg.Backend.Timeout, 0),
		UserAgent:      cfg.Checker.UserAgent,
	}
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Title:      cfg.Report.Title,
		Location:   cfg.Location(),
		Attachment: cfg.Report.AttachmentEnabled(),
		TempDir:    cfg.Report.TempDir,
	}
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{
		RatePerSec:  cfg.Delivery.RatePerSec,
		SendTimeout: config.Duration(cfg.Delivery.SendTimeout, 0),
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:     cfg.Scheduler.IsEnabled(),
		Timezone:    cfg.Scheduler.Timezone,
		HistorySize: cfg.Scheduler.HistorySize,
	}
}
