package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/testmap/internal/config"
	"github.com/standardbeagle/testmap/internal/debug"
	"github.com/standardbeagle/testmap/internal/extract"
	"github.com/standardbeagle/testmap/internal/mcp"
	"github.com/standardbeagle/testmap/internal/sourcemap"
	"github.com/standardbeagle/testmap/internal/tree"
	"github.com/standardbeagle/testmap/internal/version"
	"github.com/standardbeagle/testmap/internal/watch"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	root := c.String("root")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		root = cwd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path %q: %w", root, err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, err
	}

	if includeFlags := c.StringSlice("include"); len(includeFlags) > 0 {
		for i := range cfg.Configs {
			cfg.Configs[i].Patterns = includeFlags
			cfg.Configs[i].Files = nil
		}
	}

	return cfg, nil
}

func newSynchronizer(cfg *config.Config) *tree.Synchronizer {
	t := tree.New(cfg.Project.Root)
	ex := extract.New(cfg.Sync.MaxFileSize)
	maps := sourcemap.NewStore()
	return tree.NewSynchronizer(t, ex, maps, cfg)
}

// newDriver wires a driver whose rescans re-apply CLI flag overrides.
func newDriver(c *cli.Context, syncer *tree.Synchronizer) (*watch.Driver, error) {
	driver, err := watch.NewDriver(syncer)
	if err != nil {
		return nil, err
	}
	driver.SetConfigLoader(func() (*config.Config, error) {
		return loadConfigWithOverrides(c)
	})
	return driver, nil
}

func main() {
	app := &cli.App{
		Name:                   "testmap",
		Usage:                  "Incremental test tree synchronization for compiled JavaScript and TypeScript test files",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory (defaults to current directory)",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Override configured file patterns (e.g., --include 'dist/**/*.spec.js')",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging on stderr",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				debug.EnableDebug = "true"
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:    "scan",
				Aliases: []string{"s"},
				Usage:   "Scan all configured test files once and print the synchronized tree",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
					&cli.BoolFlag{
						Name:  "conflicts",
						Usage: "List duplicate declarations after the tree",
					},
				},
				Action: scanCommand,
			},
			{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Scan, then keep the tree synchronized as files change",
				Action:  watchCommand,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the synchronized tree over MCP stdio",
				Action: mcpCommand,
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(c *cli.Context) error {
					fmt.Println(version.FullInfo())
					return nil
				},
			},
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func scanCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	syncer := newSynchronizer(cfg)
	driver, err := newDriver(c, syncer)
	if err != nil {
		return err
	}
	defer driver.Stop()

	if err := driver.Rescan(context.Background()); err != nil {
		return err
	}

	t := syncer.Tree()
	if c.Bool("json") {
		return printTreeJSON(t)
	}

	printTree(t.Root(), "")
	if c.Bool("conflicts") {
		printConflicts(t)
	}
	return nil
}

func watchCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	cfg.Sync.WatchMode = true

	syncer := newSynchronizer(cfg)
	syncer.Tree().OnChange(func() {
		debug.LogWatch("tree changed\n")
	})

	driver, err := newDriver(c, syncer)
	if err != nil {
		return err
	}
	if err := driver.Start(); err != nil {
		driver.Stop()
		return err
	}

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", cfg.Project.Root)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return driver.Stop()
}

func mcpCommand(c *cli.Context) error {
	debug.SetMCPMode(true)

	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	syncer := newSynchronizer(cfg)
	driver, err := newDriver(c, syncer)
	if err != nil {
		return err
	}
	cfg.Sync.WatchMode = true
	if err := driver.Start(); err != nil {
		driver.Stop()
		return err
	}
	defer driver.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	server := mcp.NewServer(syncer)
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		cancel()
		return nil
	}
}

var (
	suiteColor = color.New(color.FgCyan, color.Bold)
	testColor  = color.New(color.FgGreen)
	dimColor   = color.New(color.Faint)
	errColor   = color.New(color.FgRed)
)

func printTree(item *tree.Item, indent string) {
	for _, child := range item.Children() {
		switch child.Kind {
		case tree.ItemSuite:
			suiteColor.Printf("%s%s\n", indent, child.Label)
		case tree.ItemTest:
			testColor.Printf("%s%s", indent, child.Label)
			if loc := child.Location; loc != nil {
				dimColor.Printf("  %s:%d", loc.URI, loc.Range.Start.Line+1)
			}
			fmt.Println()
		case tree.ItemError:
			errColor.Printf("%s%s: %s\n", indent, child.Label, child.Err)
		default:
			dimColor.Printf("%s%s/\n", indent, child.Label)
		}
		if child.Err != "" && child.Kind != tree.ItemError {
			errColor.Printf("%s  ! %s\n", indent, child.Err)
		}
		printTree(child, indent+"  ")
	}
}

func printConflicts(t *tree.Tree) {
	all := t.Conflicts()
	if len(all) == 0 {
		return
	}
	paths := make([]string, 0, len(all))
	for path := range all {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	fmt.Println()
	errColor.Println("Duplicate declarations:")
	for _, path := range paths {
		for _, conflict := range all[path] {
			fmt.Printf("  %s: %q at %s:%d (first at %s:%d)\n",
				path, conflict.Name,
				conflict.Location.URI, conflict.Location.Range.Start.Line+1,
				conflict.First.URI, conflict.First.Range.Start.Line+1)
		}
	}
}

type jsonNode struct {
	Label    string      `json:"label"`
	Kind     string      `json:"kind"`
	Location interface{} `json:"location,omitempty"`
	Error    string      `json:"error,omitempty"`
	Children []jsonNode  `json:"children,omitempty"`
}

func printTreeJSON(t *tree.Tree) error {
	var convert func(item *tree.Item) jsonNode
	convert = func(item *tree.Item) jsonNode {
		node := jsonNode{
			Label: item.Label,
			Kind:  item.Kind.String(),
			Error: item.Err,
		}
		if item.Location != nil {
			node.Location = item.Location
		}
		for _, child := range item.Children() {
			node.Children = append(node.Children, convert(child))
		}
		return node
	}

	out := struct {
		Tree      jsonNode                   `json:"tree"`
		Conflicts map[string][]tree.Conflict `json:"conflicts,omitempty"`
	}{
		Tree:      convert(t.Root()),
		Conflicts: t.Conflicts(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
