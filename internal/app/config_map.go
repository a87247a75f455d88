package app

import (
	"fmt"
	"strings"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/observability/metrics"
	"castbot/internal/storage"
	telegram "castbot/internal/transport/telegram/adapter"
	logx "castbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		RatePerSec:  float64(cfg.Telegram.RatePerSec),
	}, nil
}

// mapBroadcastOptions fills omitted fields from broadcast.DefaultOptions.
// "0s" is meaningful for batch_interval and progress_every, so only an
// empty string means default.
func mapBroadcastOptions(cfg *config.Config) (broadcast.Options, error) {
	opts := broadcast.DefaultOptions()
	b := cfg.Broadcast
	if b.MessagesPerSecond > 0 {
		opts.BatchSize = b.MessagesPerSecond
	}
	fields := []struct {
		path, raw string
		dst       *time.Duration
	}{
		{"broadcast.batch_interval", b.BatchInterval, &opts.Interval},
		{"broadcast.cooldown", b.Cooldown, &opts.Cooldown},
		{"broadcast.progress_every", b.ProgressEvery, &opts.ProgressEvery},
	}
	for _, f := range fields {
		d, set, err := config.ParseDuration(f.path, f.raw)
		if err != nil {
			return broadcast.Options{}, err
		}
		if set {
			*f.dst = d
		}
	}
	opts.CooldownEnabled = config.BoolOr(b.CooldownEnabled, opts.CooldownEnabled)
	opts.CancelEnabled = config.BoolOr(b.CancelEnabled, opts.CancelEnabled)
	return opts, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	m := cfg.Metrics
	return metrics.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          strings.TrimSpace(m.Addr),
		Path:          strings.TrimSpace(m.Path),
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
	}
}
