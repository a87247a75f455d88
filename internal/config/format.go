package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// toJSON returns data as JSON so both formats go through the same strict
// decoder. YAML mapping keys must be strings.
func toJSON(f format, data []byte) ([]byte, error) {
	if f != formatYAML {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	doc, err := stringKeys(doc, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func stringKeys(v any, at string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			c, err := stringKeys(child, joinKey(at, k))
			if err != nil {
				return nil, err
			}
			x[k] = c
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, child := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml: %s: non-string key %v", orRoot(at), k)
			}
			c, err := stringKeys(child, joinKey(at, ks))
			if err != nil {
				return nil, err
			}
			m[ks] = c
		}
		return m, nil
	case []any:
		for i, child := range x {
			c, err := stringKeys(child, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			x[i] = c
		}
		return x, nil
	default:
		return v, nil
	}
}

func joinKey(at, k string) string {
	if at == "" {
		return k
	}
	return at + "." + k
}

func orRoot(at string) string {
	if at == "" {
		return "<root>"
	}
	return at
}

// ParseDuration parses an optional Go duration field. set is false when raw
// is blank; "0s" is a valid explicit zero.
func ParseDuration(path, raw string) (d time.Duration, set bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	d, err = time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%s: duration must be >= 0, got %s", path, s)
	}
	return d, true, nil
}

// DurationOr is ParseDuration for fields where zero means "use def".
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, _, err := ParseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
