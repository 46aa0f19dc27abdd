// Package tree holds the long-lived test tree and the synchronizer that
// merges extracted declarations into it. The tree is mutated only as a
// side effect of per-file tracking entry changes; there is no
// independent mutation path.
package tree

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/standardbeagle/testmap/internal/sourcemap"
	"github.com/standardbeagle/testmap/internal/types"
)

// Conflict records two sibling declarations sharing a name within one
// extraction pass. The later declaration is dropped from the tree; the
// conflict is advisory, anchored at the later location.
type Conflict struct {
	Name     string         `json:"name"`
	Location types.Location `json:"location"`
	First    types.Location `json:"first"`
}

// fileEntry is the authoritative record of what one compiled file
// currently contributes to the tree.
type fileEntry struct {
	fingerprint types.Fingerprint
	handle      *sourcemap.Handle
	// items maps top-level declaration names to their tree items.
	items map[string]*Item
}

// Tree is the session-scoped context object owning the test tree, the
// per-file tracking map, and the duplicate-conflict collection.
type Tree struct {
	root string // workspace root, for container path layout

	mu        sync.RWMutex
	rootItem  *Item
	files     map[string]*fileEntry
	conflicts map[string][]Conflict
	listeners []func()
}

// New creates an empty tree for a workspace root.
func New(root string) *Tree {
	return &Tree{
		root:      root,
		rootItem:  newItem(nil, "", ItemDir),
		files:     make(map[string]*fileEntry),
		conflicts: make(map[string][]Conflict),
	}
}

// Root returns the tree root. The root itself is never removed.
func (t *Tree) Root() *Item {
	return t.rootItem
}

// OnChange registers a listener fired at most once per sync pass.
func (t *Tree) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Tree) notifyChanged() {
	t.mu.RLock()
	listeners := make([]func(), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// TrackedFiles returns the compiled paths currently contributing items.
func (t *Tree) TrackedFiles() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.files))
	for p := range t.files {
		out = append(out, p)
	}
	return out
}

// Fingerprint returns the last committed fingerprint for a compiled
// file, zero when the file is untracked.
func (t *Tree) Fingerprint(path string) types.Fingerprint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.files[path]; ok {
		return e.fingerprint
	}
	return 0
}

// Conflicts returns the duplicate-name conflicts recorded by the last
// sync of each compiled file.
func (t *Tree) Conflicts() map[string][]Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]Conflict, len(t.conflicts))
	for p, cs := range t.conflicts {
		out[p] = append([]Conflict(nil), cs...)
	}
	return out
}

// ConflictsFor returns the conflicts recorded for one compiled file.
func (t *Tree) ConflictsFor(path string) []Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Conflict(nil), t.conflicts[path]...)
}

// ContainerChain returns the chain of container items from the root down
// to the container holding a given original-source file URI. Nil when
// the file has no items in the tree.
func (t *Tree) ContainerChain(uri string) []*Item {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var chain []*Item
	current := t.rootItem
	for _, label := range t.containerLabels(uri) {
		child := current.Child(label)
		if child == nil {
			return nil
		}
		chain = append(chain, child)
		current = child
	}
	return chain
}

// containerLabels computes the container path components for an
// original-source URI: relative to the workspace root when the file is
// inside it, otherwise the URI's own path components.
func (t *Tree) containerLabels(uri string) []string {
	p := uri
	if t.root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(t.root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "/")

	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// ensureContainerChain creates (or extends) the container chain for an
// original-source URI and returns the file-level container. Caller must
// hold t.mu.
func (t *Tree) ensureContainerChain(uri string, indices []int) *Item {
	labels := t.containerLabels(uri)
	current := t.rootItem
	for i, label := range labels {
		kind := ItemDir
		if i == len(labels)-1 {
			kind = ItemFile
		}
		child := current.Child(label)
		if child == nil {
			child = newItem(current, label, kind)
			current.addChild(child)
		}
		child.addTags(indices)
		current = child
	}
	return current
}

// removeWithCascade deletes an item and walks upward removing any
// now-empty synthetic container, stopping at the first ancestor that
// still has other children or is the root. Declared nodes (suites) are
// never removed by the cascade; they are pruned by the name-set diff of
// their own level. Caller must hold t.mu.
func (t *Tree) removeWithCascade(item *Item) {
	parent := item.Parent()
	if parent == nil {
		return
	}
	parent.removeChild(item.Label)

	for p := parent; p != nil && p != t.rootItem; p = p.Parent() {
		if !p.isContainer() || p.ChildCount() > 0 {
			break
		}
		if pp := p.Parent(); pp != nil {
			pp.removeChild(p.Label)
		}
	}
}
