package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// tomlFile mirrors the .testmap.toml layout.
type tomlFile struct {
	Version int         `toml:"version"`
	Project tomlProject `toml:"project"`
	Sync    tomlSync    `toml:"sync"`
	Configs []tomlRun   `toml:"config"`
}

type tomlProject struct {
	Root string `toml:"root"`
	Name string `toml:"name"`
}

type tomlSync struct {
	MaxFileSize      string `toml:"max_file_size"`
	WatchMode        *bool  `toml:"watch_mode"`
	WatchDebounceMs  int    `toml:"watch_debounce_ms"`
	RescanDebounceMs int    `toml:"rescan_debounce_ms"`
	MaxGoroutines    int    `toml:"max_goroutines"`
}

type tomlRun struct {
	Name     string   `toml:"name"`
	Extract  string   `toml:"extract"`
	Files    []string `toml:"files"`
	Patterns []string `toml:"patterns"`
	Suites   []string `toml:"suites"`
	Tests    []string `toml:"tests"`
}

// LoadTOML attempts to load configuration from a .testmap.toml file.
// Returns (nil, nil) when no file exists.
func LoadTOML(projectRoot string) (*Config, error) {
	tomlPath := filepath.Join(projectRoot, ".testmap.toml")

	if _, err := os.Stat(tomlPath); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(tomlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .testmap.toml: %w", err)
	}

	var tf tomlFile
	if err := toml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	base := Default(".")
	cfg := &Config{
		Version: 1,
		Project: Project{Root: tf.Project.Root, Name: tf.Project.Name},
		Sync:    base.Sync,
	}
	if tf.Version != 0 {
		cfg.Version = tf.Version
	}

	if tf.Sync.MaxFileSize != "" {
		sz, err := parseSize(tf.Sync.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("invalid max_file_size %q: %w", tf.Sync.MaxFileSize, err)
		}
		cfg.Sync.MaxFileSize = sz
	}
	if tf.Sync.WatchMode != nil {
		cfg.Sync.WatchMode = *tf.Sync.WatchMode
	}
	if tf.Sync.WatchDebounceMs > 0 {
		cfg.Sync.WatchDebounceMs = tf.Sync.WatchDebounceMs
	}
	if tf.Sync.RescanDebounceMs > 0 {
		cfg.Sync.RescanDebounceMs = tf.Sync.RescanDebounceMs
	}
	if tf.Sync.MaxGoroutines > 0 {
		cfg.Sync.MaxGoroutines = tf.Sync.MaxGoroutines
	}

	for _, tr := range tf.Configs {
		rc := defaultRunConfig(tr.Name)
		rc.Patterns = nil
		if tr.Extract != "" {
			mode, err := parseExtractMode(tr.Extract)
			if err != nil {
				return nil, fmt.Errorf("config %q: %w", tr.Name, err)
			}
			rc.Mode = mode
		}
		if len(tr.Files) > 0 {
			rc.Files = tr.Files
		}
		if len(tr.Patterns) > 0 {
			rc.Patterns = tr.Patterns
		}
		if len(tr.Suites) > 0 {
			rc.SuiteIdentifiers = tr.Suites
		}
		if len(tr.Tests) > 0 {
			rc.TestIdentifiers = tr.Tests
		}
		if len(rc.Files) == 0 && len(rc.Patterns) == 0 {
			rc.Patterns = defaultRunConfig("").Patterns
		}
		cfg.Configs = append(cfg.Configs, rc)
	}
	if len(cfg.Configs) == 0 {
		cfg.Configs = []RunConfig{defaultRunConfig("default")}
	}

	resolveRoot(cfg, projectRoot)
	return cfg, nil
}
