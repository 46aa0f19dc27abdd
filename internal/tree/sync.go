package tree

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/standardbeagle/testmap/internal/config"
	"github.com/standardbeagle/testmap/internal/debug"
	"github.com/standardbeagle/testmap/internal/extract"
	"github.com/standardbeagle/testmap/internal/sourcemap"
	"github.com/standardbeagle/testmap/internal/types"
)

// Synchronizer merges extracted declarations into the tree. For one file
// the merge step runs to completion under the tree lock; concurrent
// syncs of the same file are prevented by the coalescer, not here.
type Synchronizer struct {
	tree      *Tree
	extractor *extract.Extractor
	maps      *sourcemap.Store

	cfgMu sync.Mutex
	cfg   *config.Config
}

// NewSynchronizer wires a synchronizer to its collaborators.
func NewSynchronizer(t *Tree, e *extract.Extractor, maps *sourcemap.Store, cfg *config.Config) *Synchronizer {
	return &Synchronizer{tree: t, extractor: e, maps: maps, cfg: cfg}
}

// Config returns the current configuration.
func (s *Synchronizer) Config() *config.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

// SetConfig swaps the configuration after a successful reload.
func (s *Synchronizer) SetConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg
}

// Tree returns the tree this synchronizer mutates.
func (s *Synchronizer) Tree() *Tree {
	return s.tree
}

// symbolsFor merges the identifier sets of every configuration that
// includes the file. Extraction runs once per file even when several
// configurations cover it; the mode comes from the first.
func symbolsFor(cfg *config.Config, indices []int) extract.Symbols {
	var suites, tests []string
	mode := types.ExtractSyntax
	for n, i := range indices {
		rc := &cfg.Configs[i]
		if n == 0 {
			mode = rc.Mode
		}
		suites = append(suites, rc.SuiteIdentifiers...)
		tests = append(tests, rc.TestIdentifiers...)
	}
	return extract.NewSymbols(mode, suites, tests)
}

// SyncFile brings the tree branch for one compiled file up to date with
// its current contents. contents may be an in-memory override; nil reads
// from disk. A sync either fully commits its merge/prune or removes the
// file's branch; partial updates are never visible.
func (s *Synchronizer) SyncFile(ctx context.Context, path string, contents []byte) error {
	cfg := s.Config()

	// Exclusion is treated as deletion.
	indices := cfg.ConfigsForFile(path)
	if len(indices) == 0 {
		s.RemoveFile(path)
		return nil
	}

	prev := s.tree.Fingerprint(path)
	res, err := s.extractor.Extract(ctx, path, contents, prev, symbolsFor(cfg, indices))
	if err != nil {
		// Unreadable or oversized files contribute zero declarations;
		// whatever they contributed before is cleared.
		debug.LogSync("%s: extraction unavailable, clearing: %v\n", path, err)
		s.RemoveFile(path)
		return nil
	}

	if res.Unchanged {
		return nil
	}

	if len(res.Nodes) == 0 {
		// Still included, but no tests left in the file.
		s.RemoveFile(path)
		return nil
	}

	handle := s.maps.Maintain(path)
	handle.Refresh(contents)

	s.tree.mu.Lock()
	s.mergeFile(path, res, handle, indices)
	s.tree.mu.Unlock()

	s.tree.notifyChanged()
	return nil
}

// mergeFile commits one extraction result. Caller holds the tree lock.
func (s *Synchronizer) mergeFile(path string, res types.ExtractResult, handle *sourcemap.Handle, indices []int) {
	t := s.tree
	var conflicts []Conflict

	newItems := make(map[string]*Item, len(res.Nodes))
	for _, node := range res.Nodes {
		if first, ok := newItems[node.Name]; ok {
			conflicts = append(conflicts, duplicateConflict(node, first, handle))
			continue
		}
		loc := handle.OriginalRange(node.Start, node.End)
		parent := t.ensureContainerChain(loc.URI, indices)
		newItems[node.Name] = s.mergeNode(parent, node, handle, indices, &conflicts)
	}

	// Previously tracked top-level names absent from the new set are
	// pruned, cascading up through emptied containers.
	if old, ok := t.files[path]; ok {
		for name, item := range old.items {
			// A name surviving under a different container is a move;
			// the stale item goes too.
			if kept, ok := newItems[name]; !ok || kept != item {
				t.removeWithCascade(item)
			}
		}
	}

	t.files[path] = &fileEntry{
		fingerprint: res.Hash,
		handle:      handle,
		items:       newItems,
	}
	if len(conflicts) > 0 {
		t.conflicts[path] = conflicts
	} else {
		delete(t.conflicts, path)
	}
}

// mergeNode merges one declaration and its children under parent,
// preserving the identity of existing items. Duplicate sibling names are
// reported and skipped; first occurrence wins.
func (s *Synchronizer) mergeNode(parent *Item, decl *types.DeclNode, handle *sourcemap.Handle, indices []int, conflicts *[]Conflict) *Item {
	loc := handle.OriginalRange(decl.Start, decl.End)
	kind := ItemSuite
	if decl.Kind == types.DeclTest {
		kind = ItemTest
	}

	item := parent.Child(decl.Name)
	if item == nil {
		item = newItem(parent, decl.Name, kind)
		parent.addChild(item)
	}
	item.Kind = kind
	item.Location = &loc
	item.Err = decl.Err
	item.setTags(indices)

	seen := make(map[string]bool, len(decl.Children))
	for _, child := range decl.Children {
		if seen[child.Name] {
			first := item.Child(child.Name)
			*conflicts = append(*conflicts, duplicateConflict(child, first, handle))
			continue
		}
		seen[child.Name] = true
		s.mergeNode(item, child, handle, indices, conflicts)
	}

	// Renamed or removed nested declarations.
	for _, existing := range item.Children() {
		if !seen[existing.Label] {
			item.removeChild(existing.Label)
		}
	}

	return item
}

func duplicateConflict(later *types.DeclNode, first *Item, handle *sourcemap.Handle) Conflict {
	c := Conflict{
		Name:     later.Name,
		Location: handle.OriginalRange(later.Start, later.End),
	}
	if first != nil && first.Location != nil {
		c.First = *first.Location
	}
	return c
}

// RemoveFile prunes everything a compiled file contributed. Removing an
// untracked file is a no-op and fires no notification.
func (s *Synchronizer) RemoveFile(path string) {
	s.tree.mu.Lock()
	removed := s.removeFileLocked(path)
	s.tree.mu.Unlock()

	if removed {
		s.tree.notifyChanged()
	}
}

func (s *Synchronizer) removeFileLocked(path string) bool {
	entry, ok := s.tree.files[path]
	if !ok {
		return false
	}
	for _, item := range entry.items {
		s.tree.removeWithCascade(item)
	}
	delete(s.tree.files, path)
	delete(s.tree.conflicts, path)
	s.maps.Release(path)
	debug.LogSync("%s: removed from tree\n", path)
	return true
}

// RemovePath prunes a deleted path: the file itself plus every tracked
// file nested under it when the path was a directory. At most one
// change notification fires.
func (s *Synchronizer) RemovePath(path string) {
	prefix := path + string(filepath.Separator)

	s.tree.mu.Lock()
	removed := false
	for tracked := range s.tree.files {
		if tracked == path || strings.HasPrefix(tracked, prefix) {
			if s.removeFileLocked(tracked) {
				removed = true
			}
		}
	}
	s.tree.mu.Unlock()

	if removed {
		s.tree.notifyChanged()
	}
}

// FailAll replaces the whole tree with a single synthetic error node.
// Used when configuration loading fails: tracked state is cleared rather
// than left half-updated, and the next successful configuration read
// rebuilds everything.
func (s *Synchronizer) FailAll(err error) {
	t := s.tree

	t.mu.Lock()
	t.rootItem = newItem(nil, "", ItemDir)
	t.files = make(map[string]*fileEntry)
	t.conflicts = make(map[string][]Conflict)

	errItem := newItem(t.rootItem, "configuration error", ItemError)
	errItem.Err = err.Error()
	t.rootItem.addChild(errItem)
	t.mu.Unlock()

	t.notifyChanged()
}
