package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/testmap/internal/types"
)

func TestParseKDL_Defaults(t *testing.T) {
	cfg, err := parseKDL("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.Len(t, cfg.Configs, 1)
	assert.Equal(t, "default", cfg.Configs[0].Name)
	assert.Equal(t, types.ExtractSyntax, cfg.Configs[0].Mode)
	assert.Equal(t, []string{"**/*.spec.js", "**/*.test.js"}, cfg.Configs[0].Patterns)
	assert.Equal(t, []string{"describe", "suite", "context"}, cfg.Configs[0].SuiteIdentifiers)
	assert.Equal(t, []string{"it", "test", "specify"}, cfg.Configs[0].TestIdentifiers)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.Sync.MaxFileSize)
}

func TestParseKDL_FullConfig(t *testing.T) {
	kdlContent := `
project {
    name "frontend"
}
sync {
    max_file_size "2MB"
    watch_mode false
    watch_debounce_ms 100
    rescan_debounce_ms 250
    max_goroutines 2
}
config "unit" {
    extract "syntax"
    patterns "dist/**/*.spec.js"
    suites "describe" "context"
    tests "it"
}
config "integration" {
    extract "eval"
    files "build/int.test.js"
    suites "suite"
    tests "test"
}
`
	cfg, err := parseKDL(kdlContent)
	require.NoError(t, err)

	assert.Equal(t, "frontend", cfg.Project.Name)
	assert.Equal(t, int64(2*1024*1024), cfg.Sync.MaxFileSize)
	assert.False(t, cfg.Sync.WatchMode)
	assert.Equal(t, 100, cfg.Sync.WatchDebounceMs)
	assert.Equal(t, 250, cfg.Sync.RescanDebounceMs)
	assert.Equal(t, 2, cfg.Sync.MaxGoroutines)

	require.Len(t, cfg.Configs, 2)
	unit := cfg.Configs[0]
	assert.Equal(t, "unit", unit.Name)
	assert.Equal(t, types.ExtractSyntax, unit.Mode)
	assert.Equal(t, []string{"dist/**/*.spec.js"}, unit.Patterns)
	assert.Empty(t, unit.Files)
	assert.Equal(t, []string{"describe", "context"}, unit.SuiteIdentifiers)

	integ := cfg.Configs[1]
	assert.Equal(t, types.ExtractEval, integ.Mode)
	assert.Equal(t, []string{"build/int.test.js"}, integ.Files)
	// Explicit files suppress the default pattern fallback.
	assert.Empty(t, integ.Patterns)
}

func TestParseKDL_InvalidExtractMode(t *testing.T) {
	_, err := parseKDL(`
config "bad" {
    extract "regex"
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract mode")
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
version = 1

[project]
name = "backend"

[sync]
max_file_size = "1MB"

[[config]]
name = "unit"
extract = "eval"
patterns = ["out/**/*.test.js"]
suites = ["describe"]
tests = ["it", "test"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".testmap.toml"), []byte(tomlContent), 0o644))

	cfg, err := LoadTOML(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "backend", cfg.Project.Name)
	assert.Equal(t, int64(1048576), cfg.Sync.MaxFileSize)
	require.Len(t, cfg.Configs, 1)
	assert.Equal(t, types.ExtractEval, cfg.Configs[0].Mode)
	assert.Equal(t, []string{"out/**/*.test.js"}, cfg.Configs[0].Patterns)
}

func TestLoad_KDLWinsOverTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".testmap.kdl"),
		[]byte("project {\n    name \"from-kdl\"\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".testmap.toml"),
		[]byte("[project]\nname = \"from-toml\"\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-kdl", cfg.Project.Name)
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Configs, 1)
	assert.Equal(t, "default", cfg.Configs[0].Name)
}

func TestValidate(t *testing.T) {
	cfg := Default(t.TempDir())
	require.NoError(t, cfg.Validate())

	dup := Default(t.TempDir())
	dup.Configs = append(dup.Configs, defaultRunConfig("default"))
	require.Error(t, dup.Validate())

	empty := Default(t.TempDir())
	empty.Configs = nil
	require.Error(t, empty.Validate())

	noIdents := Default(t.TempDir())
	noIdents.Configs[0].SuiteIdentifiers = nil
	noIdents.Configs[0].TestIdentifiers = nil
	require.Error(t, noIdents.Validate())
}

func TestConfigsForFile(t *testing.T) {
	root := t.TempDir()
	cfg := Default(root)
	cfg.Configs = []RunConfig{
		{
			Name:            "unit",
			Patterns:        []string{"dist/**/*.spec.js"},
			TestIdentifiers: []string{"it"},
		},
		{
			Name:            "smoke",
			Files:           []string{"dist/app.spec.js"},
			TestIdentifiers: []string{"it"},
		},
	}
	require.NoError(t, cfg.Validate())

	both := cfg.ConfigsForFile(filepath.Join(root, "dist", "app.spec.js"))
	assert.Equal(t, []int{0, 1}, both)

	one := cfg.ConfigsForFile(filepath.Join(root, "dist", "deep", "other.spec.js"))
	assert.Equal(t, []int{0}, one)

	assert.Empty(t, cfg.ConfigsForFile(filepath.Join(root, "src", "app.ts")))
	assert.Empty(t, cfg.ConfigsForFile(filepath.Join(root, "dist", "app.js")))
}

func TestCandidateFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist", "sub"), 0o755))
	for _, p := range []string{
		filepath.Join(root, "dist", "a.spec.js"),
		filepath.Join(root, "dist", "sub", "b.spec.js"),
		filepath.Join(root, "dist", "ignored.js"),
	} {
		require.NoError(t, os.WriteFile(p, []byte("// empty"), 0o644))
	}

	cfg := Default(root)
	cfg.Configs = []RunConfig{
		{
			Name:            "unit",
			Patterns:        []string{"dist/**/*.spec.js"},
			Files:           []string{"dist/explicit.js"},
			TestIdentifiers: []string{"it"},
		},
	}

	files, err := cfg.CandidateFiles()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(root, "dist", "a.spec.js"),
		filepath.Join(root, "dist", "sub", "b.spec.js"),
		filepath.Join(root, "dist", "explicit.js"),
	}, files)
}

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"512":   512,
		"10KB":  10 * 1024,
		"2MB":   2 * 1024 * 1024,
		"1GB":   1024 * 1024 * 1024,
		" 5mb ": 5 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := parseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseSize("lots")
	require.Error(t, err)
}
