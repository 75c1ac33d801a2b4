package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

// GlobalConfigPath returns ~/.assistant-llm.yaml
func GlobalConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, globalConfigName), nil
}

// ProjectConfigPath returns ./assistant-llm.yaml
func ProjectConfigPath() string {
	return projectConfigName
}

// Save writes cfg as YAML to path. The file is created with mode 0600 since it
// may hold an inline api_key.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.NewConfigurationError("cannot save a nil configuration")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewConfigFileError(path, err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.NewConfigFileError(path, err)
	}
	return nil
}

// Marshal renders cfg as YAML, masking inline credentials
func Marshal(cfg *Config) ([]byte, error) {
	masked := *cfg
	masked.Backends = make(map[string]BackendConfig, len(cfg.Backends))
	for kind, b := range cfg.Backends {
		b = b.Clone()
		if b.APIKey != "" {
			b.APIKey = maskSecret(b.APIKey)
		}
		masked.Backends[kind] = b
	}
	return yaml.Marshal(&masked)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
