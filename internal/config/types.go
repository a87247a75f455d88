package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via TELEGRAM_BOT_TOKEN.
	Token string `json:"token" validate:"required"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// RatePerSec caps all outbound calls (send, copy, edit). 0 disables the cap.
	RatePerSec int `json:"rate_per_sec,omitempty" validate:"gte=0,lte=1000"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// BroadcastConfig tunes admission and pacing. Changes apply to broadcasts
// admitted after the reload.
//
// Defaults (when fields are omitted):
//   - messages_per_second: 30
//   - batch_interval: "1s"
//   - cooldown: "10s"
//   - cooldown_enabled: true
//   - cancel_enabled: true
//   - progress_every: "1s" ("0s" pushes every batch)
type BroadcastConfig struct {
	MessagesPerSecond int    `json:"messages_per_second,omitempty" validate:"gte=0,lte=1000"`
	BatchInterval     string `json:"batch_interval,omitempty"`
	Cooldown          string `json:"cooldown,omitempty"`
	CooldownEnabled   *bool  `json:"cooldown_enabled,omitempty"`
	CancelEnabled     *bool  `json:"cancel_enabled,omitempty"`
	ProgressEvery     string `json:"progress_every,omitempty"`
}

// StorageConfig controls the optional audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./castbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Path          string `json:"path,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof exposes /debug/pprof/ on the metrics listener.
	Pprof         bool   `json:"pprof,omitempty"`
}

// BoolOr returns *b, or def when b is nil.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
