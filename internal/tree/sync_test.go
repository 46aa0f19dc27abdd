package tree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/testmap/internal/config"
	"github.com/standardbeagle/testmap/internal/extract"
	"github.com/standardbeagle/testmap/internal/sourcemap"
)

type syncFixture struct {
	root    string
	syncer  *Synchronizer
	changes int
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default(root)
	f := &syncFixture{root: root}
	f.syncer = NewSynchronizer(New(root), extract.New(0), sourcemap.NewStore(), cfg)
	f.syncer.Tree().OnChange(func() { f.changes++ })
	return f
}

func (f *syncFixture) path(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *syncFixture) sync(t *testing.T, rel, contents string) {
	t.Helper()
	require.NoError(t, f.syncer.SyncFile(context.Background(), f.path(rel), []byte(contents)))
}

// find walks the tree by slash-separated labels.
func (f *syncFixture) find(path string) *Item {
	current := f.syncer.Tree().Root()
	for _, label := range splitLabels(path) {
		current = current.Child(label)
		if current == nil {
			return nil
		}
	}
	return current
}

func splitLabels(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

const basicSpec = `describe("math", () => {
  it("adds", () => {});
  it("subtracts", () => {});
});
`

func TestSyncFile_BuildsContainerChain(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)

	math := f.find("dist/app.spec.js/math")
	require.NotNil(t, math)
	assert.Equal(t, ItemSuite, math.Kind)
	assert.Equal(t, 2, math.ChildCount())

	dir := f.find("dist")
	require.NotNil(t, dir)
	assert.Equal(t, ItemDir, dir.Kind)
	file := f.find("dist/app.spec.js")
	require.NotNil(t, file)
	assert.Equal(t, ItemFile, file.Kind)

	chain := f.syncer.Tree().ContainerChain(f.path("dist/app.spec.js"))
	require.Len(t, chain, 2)
	assert.Equal(t, "dist", chain[0].Label)
	assert.Equal(t, "app.spec.js", chain[1].Label)

	assert.Equal(t, 1, f.changes)
	assert.Equal(t, []string{f.path("dist/app.spec.js")}, f.syncer.Tree().TrackedFiles())
}

func TestSyncFile_SourceMapRedirectsContainers(t *testing.T) {
	f := newSyncFixture(t)

	// Maps generated line N to original line N in ../src/app.ts.
	mapJSON := `{"version":3,"file":"app.spec.js","sources":["../src/app.ts"],"names":[],"mappings":"AAAA;AACA;AACA;AACA"}`
	require.NoError(t, os.MkdirAll(f.path("dist"), 0o755))
	require.NoError(t, os.WriteFile(f.path("dist/app.spec.js.map"), []byte(mapJSON), 0o644))

	f.sync(t, "dist/app.spec.js", basicSpec+"//# sourceMappingURL=app.spec.js.map\n")

	// Containers mirror the original source path, not the compiled one.
	math := f.find("src/app.ts/math")
	require.NotNil(t, math)
	assert.Equal(t, ItemSuite, math.Kind)
	assert.Nil(t, f.find("dist"))

	adds := math.Child("adds")
	require.NotNil(t, adds)
	require.NotNil(t, adds.Location)
	assert.Equal(t, f.path("src/app.ts"), adds.Location.URI)
	assert.Equal(t, 1, adds.Location.Range.Start.Line)

	assert.Equal(t, []string{f.path("dist/app.spec.js")}, f.syncer.Tree().TrackedFiles())
}

func TestSyncFile_UnchangedContentsSkipsNotification(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)
	require.Equal(t, 1, f.changes)

	f.sync(t, "dist/app.spec.js", basicSpec)
	assert.Equal(t, 1, f.changes)
}

func TestSyncFile_IdentityPreservedAcrossSiblingRename(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)

	adds := f.find("dist/app.spec.js/math/adds")
	require.NotNil(t, adds)

	renamed := `describe("math", () => {
  it("adds", () => {});
  it("multiplies", () => {});
});
`
	f.sync(t, "dist/app.spec.js", renamed)

	after := f.find("dist/app.spec.js/math/adds")
	require.NotNil(t, after)
	assert.Same(t, adds, after)

	assert.Nil(t, f.find("dist/app.spec.js/math/subtracts"))
	assert.NotNil(t, f.find("dist/app.spec.js/math/multiplies"))
}

func TestSyncFile_DuplicateSiblingsFirstWins(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/dup.spec.js", `describe("suite", () => {
  it("same", () => {});
  it("same", () => {});
  it("other", () => {});
});
`)

	suite := f.find("dist/dup.spec.js/suite")
	require.NotNil(t, suite)
	assert.Equal(t, 2, suite.ChildCount())

	conflicts := f.syncer.Tree().ConflictsFor(f.path("dist/dup.spec.js"))
	require.Len(t, conflicts, 1)
	assert.Equal(t, "same", conflicts[0].Name)
	// The advisory anchors at the later declaration, past the first.
	assert.Greater(t, conflicts[0].Location.Range.Start.Line, conflicts[0].First.Range.Start.Line)
}

func TestSyncFile_ConflictsClearedOnResync(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/dup.spec.js", `it("same", () => {});
it("same", () => {});
`)
	require.Len(t, f.syncer.Tree().ConflictsFor(f.path("dist/dup.spec.js")), 1)

	f.sync(t, "dist/dup.spec.js", `it("same", () => {});
it("different", () => {});
`)
	assert.Empty(t, f.syncer.Tree().ConflictsFor(f.path("dist/dup.spec.js")))
}

func TestSyncFile_EmptyFilePrunesEverything(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)
	require.NotNil(t, f.find("dist"))

	f.sync(t, "dist/app.spec.js", "// all tests deleted\n")

	assert.Nil(t, f.find("dist"))
	assert.Empty(t, f.syncer.Tree().TrackedFiles())
	assert.Equal(t, 2, f.changes)
}

func TestSyncFile_PruneKeepsSharedContainers(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/a.spec.js", `it("a", () => {});`)
	f.sync(t, "dist/b.spec.js", `it("b", () => {});`)

	f.sync(t, "dist/a.spec.js", "")

	assert.Nil(t, f.find("dist/a.spec.js"))
	assert.NotNil(t, f.find("dist/b.spec.js"))
	assert.NotNil(t, f.find("dist"))
}

func TestSyncFile_ExcludedPathTreatedAsDeletion(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)
	require.Equal(t, 1, f.changes)

	// Narrow the configuration so the file is no longer included.
	cfg := config.Default(f.root)
	cfg.Configs[0].Patterns = []string{"other/**/*.spec.js"}
	f.syncer.SetConfig(cfg)

	f.sync(t, "dist/app.spec.js", basicSpec)
	assert.Empty(t, f.syncer.Tree().TrackedFiles())
	assert.Equal(t, 2, f.changes)

	// Excluded and untracked: no further notification.
	f.sync(t, "dist/app.spec.js", basicSpec)
	assert.Equal(t, 2, f.changes)
}

func TestRemoveFile(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)

	f.syncer.RemoveFile(f.path("dist/app.spec.js"))
	assert.Nil(t, f.find("dist"))
	assert.Empty(t, f.syncer.Tree().TrackedFiles())
	assert.Equal(t, 2, f.changes)

	// Idempotent; no notification for untracked files.
	f.syncer.RemoveFile(f.path("dist/app.spec.js"))
	assert.Equal(t, 2, f.changes)
}

func TestRemovePath_DirectoryPrunesNestedFiles(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/sub/a.spec.js", `it("a", () => {});`)
	f.sync(t, "dist/sub/b.spec.js", `it("b", () => {});`)
	f.sync(t, "dist/c.spec.js", `it("c", () => {});`)
	require.Equal(t, 3, f.changes)

	f.syncer.RemovePath(f.path("dist/sub"))

	assert.Nil(t, f.find("dist/sub"))
	assert.NotNil(t, f.find("dist/c.spec.js"))
	assert.Equal(t, []string{f.path("dist/c.spec.js")}, f.syncer.Tree().TrackedFiles())
	// One notification covers both nested removals.
	assert.Equal(t, 4, f.changes)
}

func TestSyncFile_UnreadableFileClears(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)

	// nil contents forces a disk read; the file was never written.
	require.NoError(t, f.syncer.SyncFile(context.Background(), f.path("dist/app.spec.js"), nil))
	assert.Empty(t, f.syncer.Tree().TrackedFiles())
	assert.Nil(t, f.find("dist"))
}

func TestFailAll(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)

	f.syncer.FailAll(assert.AnError)

	root := f.syncer.Tree().Root()
	require.Equal(t, 1, root.ChildCount())
	errItem := root.Children()[0]
	assert.Equal(t, ItemError, errItem.Kind)
	assert.Equal(t, assert.AnError.Error(), errItem.Err)
	assert.Empty(t, f.syncer.Tree().TrackedFiles())
	assert.Empty(t, f.syncer.Tree().Conflicts())
	assert.Equal(t, 2, f.changes)
}

func TestItemIDsEncodeNesting(t *testing.T) {
	f := newSyncFixture(t)
	f.sync(t, "dist/app.spec.js", basicSpec)

	adds := f.find("dist/app.spec.js/math/adds")
	require.NotNil(t, adds)
	assert.Equal(t, "dist/app.spec.js/math/adds", adds.ID)
}
