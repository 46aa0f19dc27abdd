package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/testmap/internal/config"
	"github.com/standardbeagle/testmap/internal/debug"
	"github.com/standardbeagle/testmap/internal/errors"
	"github.com/standardbeagle/testmap/internal/tree"
)

// FileEventType represents the type of file system event
type FileEventType int

const (
	FileEventCreate FileEventType = iota
	FileEventWrite
	FileEventRemove
	FileEventRename
)

// Driver reacts to file create/change/delete and configuration changes
// by invoking the synchronizer per affected file, and performs full
// workspace rescans when the include-set changes.
type Driver struct {
	syncer    *tree.Synchronizer
	coalescer *Coalescer
	watcher   *fsnotify.Watcher
	debouncer *eventDebouncer
	// rescanDebounced collapses bursts of configuration-change events
	// into one full rescan.
	rescanDebounced func(func())
	loadConfig      func() (*config.Config, error)

	root   string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDriver creates a driver for the synchronizer's workspace.
func NewDriver(syncer *tree.Synchronizer) (*Driver, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cfg := syncer.Config()
	ctx, cancel := context.WithCancel(context.Background())

	d := &Driver{
		syncer:          syncer,
		watcher:         watcher,
		root:            cfg.Project.Root,
		rescanDebounced: debounce.New(time.Duration(cfg.Sync.RescanDebounceMs) * time.Millisecond),
		ctx:             ctx,
		cancel:          cancel,
	}
	d.loadConfig = func() (*config.Config, error) { return config.Load(d.root) }
	d.coalescer = NewCoalescer(func(ctx context.Context, key string, input Input) error {
		return syncer.SyncFile(ctx, key, input.Contents)
	})
	d.debouncer = newEventDebouncer(time.Duration(cfg.Sync.WatchDebounceMs)*time.Millisecond, d)

	return d, nil
}

// SetConfigLoader replaces how rescans obtain configuration. The CLI
// uses this to keep flag overrides in effect across rescans.
func (d *Driver) SetConfigLoader(load func() (*config.Config, error)) {
	d.loadConfig = load
}

// ScheduleSync requests a coalesced resync of one compiled file.
func (d *Driver) ScheduleSync(path string, contents []byte) <-chan error {
	return d.coalescer.Schedule(d.ctx, path, Input{Contents: contents})
}

// Start performs the initial full rescan and begins watching.
func (d *Driver) Start() error {
	if err := d.Rescan(d.ctx); err != nil {
		// The tree already shows the configuration failure; watching
		// continues so a fixed config file recovers automatically.
		log.Printf("Initial rescan failed: %v", err)
	}

	if !d.syncer.Config().Sync.WatchMode {
		log.Printf("File watching disabled in configuration")
		return nil
	}

	debug.LogWatch("Starting file watcher for directory: %s\n", d.root)

	if err := d.addWatches(d.root); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.processEvents()

	return nil
}

// Stop stops the driver and waits for its goroutines.
func (d *Driver) Stop() error {
	d.cancel()

	if err := d.watcher.Close(); err != nil {
		log.Printf("Error closing fsnotify watcher: %v", err)
	}

	d.wg.Wait()
	return nil
}

// addWatches recursively adds watches to all relevant directories
func (d *Driver) addWatches(root string) error {
	// Track visited directories to prevent infinite loops from symlink cycles
	visitedDirs := make(map[string]bool)

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}

		if !info.IsDir() {
			return nil
		}

		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visitedDirs[realPath] {
			return filepath.SkipDir
		}
		visitedDirs[realPath] = true

		if shouldIgnoreDirectory(path) {
			return filepath.SkipDir
		}

		if err := d.watcher.Add(path); err != nil {
			log.Printf("Warning: failed to add watch for %s: %v", path, err)
			return nil
		}

		return nil
	})
}

// shouldIgnoreDirectory filters directories no compiled test bundle
// lives under. Hidden directories are skipped except the root itself.
func shouldIgnoreDirectory(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") && base != "." && base != ".." {
		return true
	}
	switch base {
	case "node_modules", "vendor", "bower_components":
		return true
	}
	return false
}

// processEvents processes file system events from fsnotify
func (d *Driver) processEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
		}
	}
}

// handleEvent handles a single file system event
func (d *Driver) handleEvent(event fsnotify.Event) {
	path := event.Name
	debug.LogWatch("received event %v for path %s\n", event.Op, path)

	if d.isConfigPath(path) {
		d.rescanDebounced(func() {
			if err := d.Rescan(d.ctx); err != nil {
				log.Printf("Rescan failed: %v", err)
			}
		})
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Gone from disk: removals and renames prune immediately,
		// including every tracked file nested under a removed directory.
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			d.debouncer.addEvent(path, FileEventRemove)
		}
		return
	}

	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 && !shouldIgnoreDirectory(path) {
			if err := d.watcher.Add(path); err != nil {
				log.Printf("Warning: failed to add watch for new directory %s: %v", path, err)
			}
		}
		return
	}

	if !d.shouldProcessPath(path) {
		debug.LogWatch("ignoring file %s (not included by any configuration)\n", path)
		return
	}

	var eventType FileEventType
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = FileEventCreate
	case event.Op&fsnotify.Write != 0:
		eventType = FileEventWrite
	case event.Op&fsnotify.Remove != 0:
		eventType = FileEventRemove
	case event.Op&fsnotify.Rename != 0:
		eventType = FileEventRename
	default:
		return
	}

	d.debouncer.addEvent(path, eventType)
}

func (d *Driver) isConfigPath(path string) bool {
	for _, p := range config.ConfigFilePaths(d.root) {
		if filepath.Clean(path) == p {
			return true
		}
	}
	return false
}

// shouldProcessPath checks membership against the current configuration.
func (d *Driver) shouldProcessPath(path string) bool {
	return len(d.syncer.Config().ConfigsForFile(path)) > 0
}

// Rescan reloads the configuration, syncs every candidate file
// concurrently, then prunes every previously tracked file absent from
// the candidate set. Configuration load failure clears all tracked
// state behind a single synthetic error node instead of leaving a
// half-updated tree.
func (d *Driver) Rescan(ctx context.Context) error {
	cfg, err := d.loadConfig()
	if err != nil {
		cerr := errors.NewConfigError(d.root, err)
		d.syncer.FailAll(cerr)
		return cerr
	}
	d.syncer.SetConfig(cfg)

	candidates, err := cfg.CandidateFiles()
	if err != nil {
		cerr := errors.NewConfigError(d.root, err)
		d.syncer.FailAll(cerr)
		return cerr
	}

	debug.LogWatch("full rescan: %d candidate files\n", len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Sync.MaxGoroutines)
	for _, path := range candidates {
		g.Go(func() error {
			// Through the coalescer, so a rescan sync and a watch-event
			// sync of the same file never overlap.
			return <-d.coalescer.Schedule(gctx, path, Input{})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Pruning runs against the joined candidate snapshot.
	inCandidates := make(map[string]struct{}, len(candidates))
	for _, p := range candidates {
		inCandidates[p] = struct{}{}
	}
	for _, tracked := range d.syncer.Tree().TrackedFiles() {
		if _, ok := inCandidates[tracked]; !ok {
			d.syncer.RemoveFile(tracked)
		}
	}

	return nil
}

// eventDebouncer batches file events to avoid excessive processing
type eventDebouncer struct {
	events   map[string]FileEventType
	mutex    sync.Mutex
	debounce time.Duration
	timer    *time.Timer
	driver   *Driver
}

func newEventDebouncer(debounce time.Duration, driver *Driver) *eventDebouncer {
	return &eventDebouncer{
		events:   make(map[string]FileEventType),
		debounce: debounce,
		driver:   driver,
	}
}

// addEvent adds a file event to be debounced
func (e *eventDebouncer) addEvent(path string, eventType FileEventType) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	// Store the latest event for this path
	e.events[path] = eventType

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, e.flush)
}

// flush processes all accumulated events
func (e *eventDebouncer) flush() {
	e.mutex.Lock()
	events := e.events
	e.events = make(map[string]FileEventType)
	e.mutex.Unlock()

	if len(events) == 0 {
		return
	}

	debug.LogWatch("processing %d debounced file events\n", len(events))

	// Removals first, to free tracked state before resyncs run.
	for path, eventType := range events {
		if eventType == FileEventRemove {
			e.driver.syncer.RemovePath(path)
		}
	}
	for path, eventType := range events {
		switch eventType {
		case FileEventCreate, FileEventWrite, FileEventRename:
			e.driver.ScheduleSync(path, nil)
		}
	}
}
