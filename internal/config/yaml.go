package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk encoding, chosen by file extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// coerceToJSONBytes converts YAML input to JSON so that both formats share the
// strict JSON decoder and its json tags.
func coerceToJSONBytes(path string, data []byte) ([]byte, Format, error) {
	f := FormatOf(path)
	if f == FormatJSON {
		return data, f, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, f, fmt.Errorf("yaml: %w", err)
	}
	norm, err := jsonCompatible(doc, "")
	if err != nil {
		return nil, f, err
	}
	if norm == nil {
		norm = map[string]any{}
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return nil, f, fmt.Errorf("yaml: %w", err)
	}
	return out, f, nil
}

// jsonCompatible rejects non-string mapping keys, which JSON cannot express.
func jsonCompatible(v any, at string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			n, err := jsonCompatible(item, at+"."+k)
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, item := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml: %s: non-string key %v", strings.TrimPrefix(at, "."), k)
			}
			n, err := jsonCompatible(item, at+"."+ks)
			if err != nil {
				return nil, err
			}
			m[ks] = n
		}
		return m, nil
	case []any:
		for i := range x {
			n, err := jsonCompatible(x[i], fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
		return x, nil
	}
	return v, nil
}

// Encode renders cfg for path: indented JSON, or YAML with the same keys.
func Encode(path string, cfg *Config) ([]byte, error) {
	if FormatOf(path) == FormatJSON {
		return json.MarshalIndent(cfg, "", "  ")
	}
	jb, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(jb, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}
