package config

import (
	"os"
	"strings"
	"time"
)

const (
	TokenEnv = "TELEGRAM_BOT_TOKEN"

	DefaultSchedule    = "*/15 * * * *"
	DefaultTimezone    = "Asia/Tashkent"
	DefaultRunTimeout  = 10 * time.Minute
	DefaultStorePath   = "./chat_ids.json"
	DefaultPollTimeout = 10 * time.Second
)

// ApplyDefaults fills empty fields in place and resolves the token from
// the environment.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Scheduler.Schedule == "" {
		cfg.Scheduler.Schedule = DefaultSchedule
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = DefaultTimezone
	}
	if cfg.Backend.UsersPath == "" {
		cfg.Backend.UsersPath = "/users"
	}
	if cfg.Report.Title == "" {
		cfg.Report.Title = "Status report"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStorePath
	}
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s SchedulerConfig) RunTimeoutOrDefault() time.Duration {
	return mustDuration("scheduler.run_timeout", s.RunTimeout, DefaultRunTimeout)
}

func (r ReportConfig) AttachmentEnabled() bool { return r.Attachment == nil || *r.Attachment }

func (t TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return mustDuration("telegram.poll_timeout", t.PollTimeout, DefaultPollTimeout)
}

// IsOwner reports whether userID is listed in owner_user_ids.
func (t TelegramConfig) IsOwner(userID int64) bool {
	for _, id := range t.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Location loads the scheduler zone, falling back to Local.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// mustDuration is for fields already checked by Validate.
func mustDuration(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return def
	}
	return d
}

// Duration resolves an optional duration field, returning def when the
// field is empty or invalid.
func Duration(raw string, def time.Duration) time.Duration { return mustDuration("", raw, def) }
