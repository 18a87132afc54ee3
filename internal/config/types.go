package config

// Config is the daemon configuration, loaded from a YAML file.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	Dispatch DispatchConfig  `yaml:"dispatch"`
	Storage  *StorageConfig  `yaml:"storage,omitempty"`
	API      *APIConfig      `yaml:"api,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Sweep    SweepConfig     `yaml:"sweep"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"file"`
}

// DispatchConfig controls the notification pipeline.
type DispatchConfig struct {
	RatePerSec int `yaml:"rate_per_sec"`
	Burst      int `yaml:"burst"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	storage:
//	  driver: file
//	  path: ./gather_store
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"` // sqlite only
}

// APIConfig points the derived-event creator at the group-event REST API.
// When omitted, derived events are created locally.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout,omitempty"`
}

// TelegramConfig enables the Telegram delivery sink.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Token    string `yaml:"token"`
	ChatID   int64  `yaml:"chat_id"`
	ThreadID int    `yaml:"thread_id,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
}

// SweepConfig controls periodic maintenance: notification retention and
// engine status logging.
type SweepConfig struct {
	Enabled bool `yaml:"enabled"`
	// Spec is a cron expression (minute granularity) or "@every <dur>".
	Spec      string `yaml:"spec,omitempty"`
	Retention string `yaml:"retention,omitempty"`
}
