package tree

import (
	"fmt"
	"sort"

	"github.com/standardbeagle/testmap/internal/types"
)

// ItemKind classifies nodes in the long-lived test tree.
type ItemKind uint8

const (
	ItemSuite ItemKind = iota
	ItemTest
	// ItemDir and ItemFile are synthetic containers mirroring the
	// original-source path hierarchy above the first suite. They exist
	// only to host declared nodes and are removed when emptied.
	ItemDir
	ItemFile
	ItemError
)

func (k ItemKind) String() string {
	switch k {
	case ItemSuite:
		return "suite"
	case ItemTest:
		return "test"
	case ItemDir:
		return "directory"
	case ItemFile:
		return "file"
	case ItemError:
		return "error"
	default:
		return fmt.Sprintf("ItemKind(%d)", uint8(k))
	}
}

// Item is a persistent node in the test tree. Identity (ID) is derived
// from the declaration name and nesting, so it survives resyncs as long
// as name and nesting are unchanged. Parents own children exclusively;
// the parent pointer is a lookup relation for upward pruning walks only,
// never an ownership edge.
type Item struct {
	ID       string
	Label    string
	Kind     ItemKind
	Location *types.Location
	Err      string

	tags     map[int]struct{}
	children map[string]*Item
	order    []string
	parent   *Item
}

func newItem(parent *Item, label string, kind ItemKind) *Item {
	id := label
	if parent != nil && parent.ID != "" {
		id = parent.ID + "/" + label
	}
	return &Item{
		ID:       id,
		Label:    label,
		Kind:     kind,
		tags:     make(map[int]struct{}),
		children: make(map[string]*Item),
		parent:   parent,
	}
}

// Parent returns the owning node, nil for the root.
func (it *Item) Parent() *Item {
	return it.parent
}

// Child looks up a direct child by label.
func (it *Item) Child(label string) *Item {
	return it.children[label]
}

// ChildCount returns the number of direct children.
func (it *Item) ChildCount() int {
	return len(it.children)
}

// Children returns direct children in insertion order.
func (it *Item) Children() []*Item {
	out := make([]*Item, 0, len(it.order))
	for _, label := range it.order {
		if c, ok := it.children[label]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Tags returns the sorted configuration indices attached to this node.
func (it *Item) Tags() []int {
	out := make([]int, 0, len(it.tags))
	for i := range it.tags {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (it *Item) addTags(indices []int) {
	for _, i := range indices {
		it.tags[i] = struct{}{}
	}
}

func (it *Item) setTags(indices []int) {
	it.tags = make(map[int]struct{}, len(indices))
	it.addTags(indices)
}

func (it *Item) addChild(child *Item) {
	it.children[child.Label] = child
	it.order = append(it.order, child.Label)
}

func (it *Item) removeChild(label string) {
	if _, ok := it.children[label]; !ok {
		return
	}
	delete(it.children, label)
	for i, l := range it.order {
		if l == label {
			it.order = append(it.order[:i], it.order[i+1:]...)
			break
		}
	}
}

// isContainer reports whether the node is synthetic path scaffolding.
func (it *Item) isContainer() bool {
	return it.Kind == ItemDir || it.Kind == ItemFile
}
