package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/testmap/internal/types"
)

func defaultSymbols(mode types.ExtractMode) Symbols {
	return NewSymbols(mode,
		[]string{"describe", "suite", "context"},
		[]string{"it", "test", "specify"})
}

func extractSyntax(t *testing.T, path, content string) []*types.DeclNode {
	t.Helper()
	e := New(0)
	res, err := e.Extract(context.Background(), path, []byte(content), 0, defaultSymbols(types.ExtractSyntax))
	require.NoError(t, err)
	require.False(t, res.Unchanged)
	return res.Nodes
}

func TestSyntaxExtraction_Nesting(t *testing.T) {
	content := `describe("math", () => {
  it("adds", () => { expect(1 + 1).toBe(2); });
  describe("negatives", function () {
    it("subtracts", () => {});
  });
});
it("top-level", () => {});
`
	nodes := extractSyntax(t, "/tmp/math.spec.js", content)
	require.Len(t, nodes, 2)

	math := nodes[0]
	assert.Equal(t, "math", math.Name)
	assert.Equal(t, types.DeclSuite, math.Kind)
	assert.Equal(t, 0, math.Start.Line)
	require.Len(t, math.Children, 2)

	assert.Equal(t, "adds", math.Children[0].Name)
	assert.Equal(t, types.DeclTest, math.Children[0].Kind)
	assert.Equal(t, 1, math.Children[0].Start.Line)

	neg := math.Children[1]
	assert.Equal(t, "negatives", neg.Name)
	assert.Equal(t, types.DeclSuite, neg.Kind)
	require.Len(t, neg.Children, 1)
	assert.Equal(t, "subtracts", neg.Children[0].Name)

	assert.Equal(t, "top-level", nodes[1].Name)
	assert.Equal(t, types.DeclTest, nodes[1].Kind)
}

func TestSyntaxExtraction_MarkedVariants(t *testing.T) {
	content := `describe.only("focused", () => {
  it.skip("skipped", () => {});
  test.todo("later");
});
`
	nodes := extractSyntax(t, "/tmp/marked.spec.js", content)
	require.Len(t, nodes, 1)
	assert.Equal(t, "focused", nodes[0].Name)
	require.Len(t, nodes[0].Children, 2)
	assert.Equal(t, "skipped", nodes[0].Children[0].Name)
	assert.Equal(t, "later", nodes[0].Children[1].Name)
}

func TestSyntaxExtraction_DeclarationInsideTestBody(t *testing.T) {
	content := `it("outer", () => {
  it("dynamic child", () => {});
});
`
	nodes := extractSyntax(t, "/tmp/dynamic.spec.js", content)
	require.Len(t, nodes, 1)
	assert.Equal(t, "outer", nodes[0].Name)
	assert.Equal(t, types.DeclTest, nodes[0].Kind)
	require.Len(t, nodes[0].Children, 1)
	assert.Equal(t, "dynamic child", nodes[0].Children[0].Name)
}

func TestSyntaxExtraction_StringForms(t *testing.T) {
	content := "describe('single', () => {\n  it(`template`, () => {});\n});\n"
	nodes := extractSyntax(t, "/tmp/strings.spec.js", content)
	require.Len(t, nodes, 1)
	assert.Equal(t, "single", nodes[0].Name)
	require.Len(t, nodes[0].Children, 1)
	assert.Equal(t, "template", nodes[0].Children[0].Name)
}

func TestSyntaxExtraction_IgnoresUnrecognizedCalls(t *testing.T) {
	content := `beforeEach(() => {});
console.log("hello");
describe(dynamicName, () => {});
fancy.describe.only("deep", () => {});
it("kept", () => {});
`
	nodes := extractSyntax(t, "/tmp/noise.spec.js", content)
	require.Len(t, nodes, 1)
	assert.Equal(t, "kept", nodes[0].Name)
}

func TestSyntaxExtraction_NonStringFirstArgScansOn(t *testing.T) {
	// Some frameworks pass options before the name; the first string
	// argument is still taken as the declaration name.
	content := `it(42, "named later", () => {});`
	nodes := extractSyntax(t, "/tmp/opts.spec.js", content)
	require.Len(t, nodes, 1)
	assert.Equal(t, "named later", nodes[0].Name)
}

func TestSyntaxExtraction_PartialFile(t *testing.T) {
	// Truncated mid-write: earlier complete declarations still extract.
	content := `describe("done", () => {
  it("finished", () => {});
});
describe("broken", (
`
	nodes := extractSyntax(t, "/tmp/partial.spec.js", content)
	require.NotEmpty(t, nodes)
	assert.Equal(t, "done", nodes[0].Name)
	require.Len(t, nodes[0].Children, 1)
}

func TestSyntaxExtraction_TypeScript(t *testing.T) {
	content := `describe("typed", (): void => {
  it("checks", (): void => {
    const x: number = 1;
  });
});
`
	nodes := extractSyntax(t, "/tmp/typed.spec.ts", content)
	require.Len(t, nodes, 1)
	assert.Equal(t, "typed", nodes[0].Name)
	require.Len(t, nodes[0].Children, 1)
	assert.Equal(t, "checks", nodes[0].Children[0].Name)
}

func TestExtract_FingerprintShortCircuit(t *testing.T) {
	e := New(0)
	content := []byte(`it("same", () => {});`)

	first, err := e.Extract(context.Background(), "/tmp/same.spec.js", content, 0, defaultSymbols(types.ExtractSyntax))
	require.NoError(t, err)
	require.False(t, first.Unchanged)
	require.NotZero(t, first.Hash)

	second, err := e.Extract(context.Background(), "/tmp/same.spec.js", content, first.Hash, defaultSymbols(types.ExtractSyntax))
	require.NoError(t, err)
	assert.True(t, second.Unchanged)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Nil(t, second.Nodes)
}

func TestExtract_SizeLimit(t *testing.T) {
	e := New(16)
	_, err := e.Extract(context.Background(), "/tmp/big.spec.js",
		[]byte(`it("definitely more than sixteen bytes", () => {});`), 0,
		defaultSymbols(types.ExtractSyntax))
	require.Error(t, err)
}

func TestExtract_MissingFile(t *testing.T) {
	e := New(0)
	_, err := e.Extract(context.Background(), "/tmp/does-not-exist.spec.js", nil, 0,
		defaultSymbols(types.ExtractSyntax))
	require.Error(t, err)
}
