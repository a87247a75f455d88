package config

import (
	"sort"
	"strings"

	logx "castbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens are never included, only whether one is set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.RatePerSec != nt.RatePerSec || ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.rate_per_sec", nt.RatePerSec),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ob, nb := oldCfg.Broadcast, newCfg.Broadcast
	if ob.MessagesPerSecond != nb.MessagesPerSecond ||
		strings.TrimSpace(ob.BatchInterval) != strings.TrimSpace(nb.BatchInterval) ||
		strings.TrimSpace(ob.Cooldown) != strings.TrimSpace(nb.Cooldown) ||
		strings.TrimSpace(ob.ProgressEvery) != strings.TrimSpace(nb.ProgressEvery) ||
		BoolOr(ob.CooldownEnabled, true) != BoolOr(nb.CooldownEnabled, true) ||
		BoolOr(ob.CancelEnabled, true) != BoolOr(nb.CancelEnabled, true) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.messages_per_second", nb.MessagesPerSecond),
			logx.String("broadcast.batch_interval", strings.TrimSpace(nb.BatchInterval)),
			logx.String("broadcast.cooldown", strings.TrimSpace(nb.Cooldown)),
			logx.Bool("broadcast.cooldown_enabled", BoolOr(nb.CooldownEnabled, true)),
			logx.Bool("broadcast.cancel_enabled", BoolOr(nb.CancelEnabled, true)),
		)
	}

	// Nil means disabled. Storage is opened once; a change needs a restart.
	var osc, nsc StorageConfig
	if oldCfg.Storage != nil {
		osc = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nsc = *newCfg.Storage
	}
	if strings.TrimSpace(osc.Driver) != strings.TrimSpace(nsc.Driver) ||
		strings.TrimSpace(osc.BusyTimeout) != strings.TrimSpace(nsc.BusyTimeout) ||
		strings.TrimSpace(osc.Path) != strings.TrimSpace(nsc.Path) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nsc.Driver)),
			logx.Bool("storage.path_set", set(nsc.Path)),
			logx.Bool("storage.restart_required", true),
		)
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om.Enabled != nm.Enabled ||
		strings.TrimSpace(om.Addr) != strings.TrimSpace(nm.Addr) ||
		strings.TrimSpace(om.Path) != strings.TrimSpace(nm.Path) ||
		om.AllowInsecure != nm.AllowInsecure ||
		om.Pprof != nm.Pprof ||
		om.Token != nm.Token {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.token_set", set(nm.Token)),
			logx.Bool("metrics.allow_insecure", nm.AllowInsecure),
			logx.Bool("metrics.pprof", nm.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
