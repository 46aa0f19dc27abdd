package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/testmap/internal/types"
)

// Default limits applied when no config file overrides them
const (
	DefaultMaxFileSize      = 10 * 1024 * 1024
	DefaultWatchDebounceMs  = 300
	DefaultRescanDebounceMs = 500
)

type Config struct {
	Version int
	Project Project
	Sync    Sync
	// Configs are the run configurations. A file may be included by
	// several; the tree tags every item with the indices of the
	// configurations that contributed it.
	Configs []RunConfig
}

type Project struct {
	Root string
	Name string
}

type Sync struct {
	MaxFileSize      int64
	WatchMode        bool // Enable file system watching for automatic resync
	WatchDebounceMs  int  // Debounce time for file change events
	RescanDebounceMs int  // Debounce time for config-change full rescans
	MaxGoroutines    int  // Concurrency limit for full rescans
}

// RunConfig describes one test configuration: which compiled files it
// covers and how declarations are extracted from them.
type RunConfig struct {
	Name             string
	Mode             types.ExtractMode
	Files            []string // explicit compiled file paths, relative to root
	Patterns         []string // doublestar globs, relative to root
	SuiteIdentifiers []string
	TestIdentifiers  []string
}

// Default returns the built-in configuration for a workspace root.
// A single syntax-mode configuration covering common spec bundles.
func Default(root string) *Config {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	return &Config{
		Version: 1,
		Project: Project{Root: absRoot},
		Sync: Sync{
			MaxFileSize:      DefaultMaxFileSize,
			WatchMode:        true,
			WatchDebounceMs:  DefaultWatchDebounceMs,
			RescanDebounceMs: DefaultRescanDebounceMs,
			MaxGoroutines:    runtime.NumCPU(),
		},
		Configs: []RunConfig{defaultRunConfig("default")},
	}
}

func defaultRunConfig(name string) RunConfig {
	return RunConfig{
		Name:             name,
		Mode:             types.ExtractSyntax,
		Patterns:         []string{"**/*.spec.js", "**/*.test.js"},
		SuiteIdentifiers: []string{"describe", "suite", "context"},
		TestIdentifiers:  []string{"it", "test", "specify"},
	}
}

// Load reads the configuration for a workspace root. `.testmap.kdl` wins
// over `.testmap.toml`; when neither exists the defaults apply.
func Load(root string) (*Config, error) {
	cfg, err := LoadKDL(root)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, cfg.Validate()
	}

	cfg, err = LoadTOML(root)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, cfg.Validate()
	}

	return Default(root), nil
}

// ConfigFilePaths returns the config file locations probed by Load,
// in precedence order. The watch driver uses this to recognize
// configuration-change events.
func ConfigFilePaths(root string) []string {
	return []string{
		filepath.Join(root, ".testmap.kdl"),
		filepath.Join(root, ".testmap.toml"),
	}
}

// Validate checks structural requirements on the loaded configuration.
func (c *Config) Validate() error {
	if len(c.Configs) == 0 {
		return fmt.Errorf("no test configurations defined")
	}
	seen := make(map[string]bool, len(c.Configs))
	for i, rc := range c.Configs {
		if rc.Name == "" {
			return fmt.Errorf("config %d: missing name", i)
		}
		if seen[rc.Name] {
			return fmt.Errorf("config %q: duplicate name", rc.Name)
		}
		seen[rc.Name] = true
		if len(rc.Files) == 0 && len(rc.Patterns) == 0 {
			return fmt.Errorf("config %q: no files or patterns", rc.Name)
		}
		if len(rc.SuiteIdentifiers) == 0 && len(rc.TestIdentifiers) == 0 {
			return fmt.Errorf("config %q: no suite or test identifiers", rc.Name)
		}
		for _, p := range rc.Patterns {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("config %q: invalid pattern %q", rc.Name, p)
			}
		}
	}
	if c.Sync.WatchDebounceMs <= 0 {
		c.Sync.WatchDebounceMs = DefaultWatchDebounceMs
	}
	if c.Sync.RescanDebounceMs <= 0 {
		c.Sync.RescanDebounceMs = DefaultRescanDebounceMs
	}
	if c.Sync.MaxFileSize <= 0 {
		c.Sync.MaxFileSize = DefaultMaxFileSize
	}
	if c.Sync.MaxGoroutines <= 0 {
		c.Sync.MaxGoroutines = runtime.NumCPU()
	}
	return nil
}

// ConfigsForFile is the membership predicate: the indices of every run
// configuration that includes path as a test file. Empty means excluded.
func (c *Config) ConfigsForFile(path string) []int {
	rel := c.relative(path)
	var indices []int
	for i := range c.Configs {
		if c.Configs[i].includes(rel) {
			indices = append(indices, i)
		}
	}
	return indices
}

func (rc *RunConfig) includes(rel string) bool {
	for _, f := range rc.Files {
		if filepath.ToSlash(filepath.Clean(f)) == rel {
			return true
		}
	}
	for _, p := range rc.Patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// relative converts an absolute or root-relative path to the
// slash-separated root-relative form patterns are matched against.
func (c *Config) relative(path string) string {
	if filepath.IsAbs(path) && c.Project.Root != "" {
		if r, err := filepath.Rel(c.Project.Root, path); err == nil {
			return filepath.ToSlash(r)
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// AbsolutePath resolves a config-relative file reference against the root.
func (c *Config) AbsolutePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Project.Root, path)
}

// CandidateFiles expands every run configuration's explicit files and
// glob patterns against the workspace and returns the deduplicated union
// of absolute paths. This is the rough candidate set for a full rescan;
// per-file membership is still re-checked during each sync.
func (c *Config) CandidateFiles() ([]string, error) {
	set := make(map[string]struct{})
	fsys := os.DirFS(c.Project.Root)
	for i := range c.Configs {
		rc := &c.Configs[i]
		for _, f := range rc.Files {
			set[c.AbsolutePath(f)] = struct{}{}
		}
		for _, p := range rc.Patterns {
			matches, err := doublestar.Glob(fsys, p)
			if err != nil {
				return nil, fmt.Errorf("expanding pattern %q: %w", p, err)
			}
			for _, m := range matches {
				set[filepath.Join(c.Project.Root, filepath.FromSlash(m))] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out, nil
}
