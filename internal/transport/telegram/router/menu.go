package router

import (
	"strings"
	"unicode"
)

// sanitizeTelegramCommand converts a name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/")))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_', r == '-', r == '/', unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out == "" {
		return ""
	}
	// Clients expect commands to start with a letter.
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}
