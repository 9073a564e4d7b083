package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/vmlens/internal/safe"
)

// Loader resolves and reads the configuration file.
type Loader struct {
	baseDir string
}

// NewLoader creates a loader rooted at the user's home directory, or at
// VMLENS_HOME when set. Minimal containers without a home directory fall
// back to a directory under the system temp dir; Load then returns
// defaults with environment overrides.
func NewLoader() *Loader {
	if dir := os.Getenv("VMLENS_HOME"); dir != "" {
		return &Loader{baseDir: dir}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return &Loader{baseDir: home}
	}
	return &Loader{baseDir: filepath.Join(os.TempDir(), "vmlens-fallback")}
}

// ConfigPath returns the file Load reads: VMLENS_CONFIG when set, else
// ~/.vmlens/config.yaml.
func (l *Loader) ConfigPath() string {
	if path := os.Getenv("VMLENS_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(l.baseDir, DefaultDir, ConfigFile)
}

// Load reads path, or ConfigPath when path is empty. A missing file yields
// the defaults. Environment overrides are applied last and the result is
// validated.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		path = l.ConfigPath()
	}

	cfg := Default()
	data, err := safe.ReadFile(path, &safe.ReadOptions{AllowSymlinks: true})
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryPath(l.baseDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, or ConfigPath when path is empty.
func (l *Loader) Save(cfg *Config, path string) error {
	if path == "" {
		path = l.ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
