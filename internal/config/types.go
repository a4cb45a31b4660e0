package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("10s", "15m"); empty means the default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Sources   []SourceConfig  `json:"sources"`
	Backend   BackendConfig   `json:"backend"`
	Checker   CheckerConfig   `json:"checker"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Report    ReportConfig    `json:"report"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	// Token falls back to TELEGRAM_BOT_TOKEN when empty.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the periodic report. Enabled defaults to true.
type SchedulerConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Schedule    string `json:"schedule"`
	Timezone    string `json:"timezone"`
	RunTimeout  string `json:"run_timeout"`
	HistorySize int    `json:"history_size,omitempty"`
}

type SourceConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type BackendConfig struct {
	BaseURL   string `json:"base_url"`
	UsersPath string `json:"users_path"`
	Timeout   string `json:"timeout"`
}

type CheckerConfig struct {
	Timeout   string `json:"timeout"`
	Workers   int    `json:"workers"`
	UserAgent string `json:"user_agent,omitempty"`
}

type DeliveryConfig struct {
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout"`
}

// ReportConfig shapes the message. Attachment (the users table file)
// defaults to true.
type ReportConfig struct {
	Title      string `json:"title"`
	Attachment *bool  `json:"attachment,omitempty"`
	TempDir    string `json:"temp_dir,omitempty"`
}

// StorageConfig selects where subscribers are kept.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./chat_ids.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Audit       bool   `json:"audit,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}
