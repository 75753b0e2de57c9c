package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override configuration.
const EnvPrefix = "ARGUS_"

// Load reads and merges configuration from global and project paths.
//
// Precedence, highest first: environment, project file, global file,
// defaults. Maps merge key by key, so a project file can override one field
// of a built-in agent. Lists replace. Missing files are not errors;
// malformed YAML is.
//
// Environment variables drop the ARGUS_ prefix, lowercase, and use a double
// underscore for nesting:
//
//	ARGUS_LOGGING__LEVEL=debug           -> logging.level
//	ARGUS_AGENTS__ARCHITECT__MODEL=opus  -> agents.architect.model
func Load(globalPath, projectPath string) (*Config, error) {
	k := koanf.New(".")

	defaults, err := yamlv3.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := loadFile(k, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := loadFile(k, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.argus/config.yaml
// Project: .argus/config.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".argus", "config.yaml")
	projectPath := filepath.Join(".argus", "config.yaml")

	return Load(globalPath, projectPath)
}

func loadFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
