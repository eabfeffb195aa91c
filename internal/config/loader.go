package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Load reads, expands, parses, defaults, env-overrides, and validates a
// configuration file. The extension picks the parser: .json/.json5 use
// JSON5, everything else YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse([]byte(os.ExpandEnv(string(data))), path)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes. pathHint only selects the format.
func Parse(data []byte, pathHint string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		// JSON5 has no strict mode; round-trip through YAML to reuse the
		// known-fields check.
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		payload, err := yaml.Marshal(raw)
		if err != nil {
			return nil, err
		}
		if err := decodeStrict(payload, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := decodeStrict(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeStrict(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("expected a single document")
	}
	return nil
}
