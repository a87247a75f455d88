package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so errors match what the operator wrote.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and duration syntax.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			ns := fe.Namespace()
			if _, rest, ok := strings.Cut(ns, "."); ok {
				ns = rest
			}
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", ns, fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"broadcast.batch_interval", cfg.Broadcast.BatchInterval},
		{"broadcast.cooldown", cfg.Broadcast.Cooldown},
		{"broadcast.progress_every", cfg.Broadcast.ProgressEvery},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, _, err := ParseDuration(d.path, d.raw); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	if s := cfg.Storage; s != nil {
		drv := strings.ToLower(strings.TrimSpace(s.Driver))
		if drv != "" && drv != "none" && strings.TrimSpace(s.Path) == "" {
			return errors.New("invalid config: storage.path is required for driver " + drv)
		}
	}
	return nil
}
