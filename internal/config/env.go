package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides are read from the process environment on every parse.
// Set values win over the file.
type envOverrides struct {
	Token    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	LogLevel string `envconfig:"CASTBOT_LOG_LEVEL"`
	Metrics  string `envconfig:"CASTBOT_METRICS_TOKEN"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}
	if v := strings.TrimSpace(env.Token); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(env.Metrics); v != "" {
		cfg.Metrics.Token = v
	}
	return nil
}
