package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/standardbeagle/testmap/internal/types"
)

// LoadKDL attempts to load configuration from a .testmap.kdl file.
// Returns (nil, nil) when no file exists.
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, ".testmap.kdl")

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .testmap.kdl: %w", err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}

	resolveRoot(cfg, projectRoot)
	return cfg, nil
}

// resolveRoot makes the configured root absolute, anchored at the
// directory containing the config file.
func resolveRoot(cfg *Config, projectRoot string) {
	if cfg.Project.Root != "" && !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(projectRoot, cfg.Project.Root))
		return
	}
	if cfg.Project.Root == "" {
		absRoot, err := filepath.Abs(projectRoot)
		if err != nil {
			absRoot = projectRoot
		}
		cfg.Project.Root = absRoot
	}
}

func parseKDL(content string) (*Config, error) {
	base := Default(".")
	cfg := &Config{
		Version: 1,
		Sync:    base.Sync,
	}

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "sync":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_file_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Sync.MaxFileSize = int64(v)
					}
					if s, ok := firstStringArg(cn); ok {
						if sz, err := parseSize(s); err == nil {
							cfg.Sync.MaxFileSize = sz
						}
					}
				case "watch_mode":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Sync.WatchMode = b
					}
				case "watch_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Sync.WatchDebounceMs = v
					}
				case "rescan_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Sync.RescanDebounceMs = v
					}
				case "max_goroutines":
					if v, ok := firstIntArg(cn); ok {
						cfg.Sync.MaxGoroutines = v
					}
				}
			}
		case "config":
			rc, err := parseRunConfigNode(n)
			if err != nil {
				return nil, err
			}
			cfg.Configs = append(cfg.Configs, rc)
		}
	}

	if len(cfg.Configs) == 0 {
		cfg.Configs = []RunConfig{defaultRunConfig("default")}
	}

	return cfg, nil
}

func parseRunConfigNode(n *document.Node) (RunConfig, error) {
	rc := defaultRunConfig("")
	rc.Patterns = nil
	if s, ok := firstStringArg(n); ok {
		rc.Name = s
	}
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "extract":
			s, ok := firstStringArg(cn)
			if !ok {
				return rc, fmt.Errorf("config %q: extract needs a string argument", rc.Name)
			}
			mode, err := parseExtractMode(s)
			if err != nil {
				return rc, fmt.Errorf("config %q: %w", rc.Name, err)
			}
			rc.Mode = mode
		case "files":
			rc.Files = collectStringArgs(cn)
		case "patterns":
			rc.Patterns = collectStringArgs(cn)
		case "suites":
			rc.SuiteIdentifiers = collectStringArgs(cn)
		case "tests":
			rc.TestIdentifiers = collectStringArgs(cn)
		}
	}
	if len(rc.Files) == 0 && len(rc.Patterns) == 0 {
		rc.Patterns = defaultRunConfig("").Patterns
	}
	return rc, nil
}

func parseExtractMode(s string) (types.ExtractMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "syntax", "syntaxtree", "ast":
		return types.ExtractSyntax, nil
	case "eval", "evaluation":
		return types.ExtractEval, nil
	default:
		return 0, fmt.Errorf("unknown extract mode %q", s)
	}
}

// Helper functions leveraging the kdl-go document model
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	// Block format: strings appear as child nodes
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// parseSize handles size strings like "10MB", "500KB", "1GB"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		multiplier = 1
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}
