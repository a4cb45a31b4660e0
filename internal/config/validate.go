package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"reportbot/internal/task/scheduler"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks a defaulted config. Every problem is reported, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token: required (or set %s)", TokenEnv)
	}
	if err := scheduler.ValidateSchedule(cfg.Scheduler.Schedule); err != nil {
		add("scheduler.schedule: %v", err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	seen := map[string]bool{}
	for i, s := range cfg.Sources {
		if strings.TrimSpace(s.Name) == "" {
			add("sources[%d].name: required", i)
		} else if seen[s.Name] {
			add("sources[%d].name: duplicate %q", i, s.Name)
		}
		seen[s.Name] = true
		if err := checkHTTPURL(s.URL); err != nil {
			add("sources[%d].url: %v", i, err)
		}
	}
	if cfg.Backend.BaseURL != "" {
		if err := checkHTTPURL(cfg.Backend.BaseURL); err != nil {
			add("backend.base_url: %v", err)
		}
	}
	if cfg.Checker.Workers < 0 {
		add("checker.workers: must be >= 0")
	}
	if cfg.Delivery.RatePerSec < 0 {
		add("delivery.rate_per_sec: must be >= 0")
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"scheduler.run_timeout": cfg.Scheduler.RunTimeout,
		"backend.timeout":       cfg.Backend.Timeout,
		"checker.timeout":       cfg.Checker.Timeout,
		"delivery.send_timeout": cfg.Delivery.SendTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown %q (use file or sqlite)", cfg.Storage.Driver)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host required")
	}
	return nil
}
