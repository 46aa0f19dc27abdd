package types

import "fmt"

// DeclKind distinguishes suites from tests in extracted declarations.
type DeclKind uint8

const (
	DeclSuite DeclKind = iota
	DeclTest
)

func (k DeclKind) String() string {
	switch k {
	case DeclSuite:
		return "suite"
	case DeclTest:
		return "test"
	default:
		return fmt.Sprintf("DeclKind(%d)", uint8(k))
	}
}

// Position is a zero-based line/column pair in generated or original source.
// Zero-based matches what tree-sitter reports; conversion to one-based
// happens only at display boundaries.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range spans from Start to End (inclusive start, exclusive end column).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location anchors a range in a concrete file.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.URI, l.Range.Start.Line+1, l.Range.Start.Column+1)
}

// DeclNode is one suite or test declaration found during extraction.
// Sibling names are not required to be unique here; duplicate detection
// happens during the tree merge, not during extraction.
type DeclNode struct {
	Name     string
	Kind     DeclKind
	Start    Position
	End      Position
	Children []*DeclNode
	// Err carries a parse or evaluation failure localized to this
	// declaration. Extraction of siblings continues regardless.
	Err string
}

// Fingerprint is an opaque digest of a compiled file's contents.
// The zero value means "never seen".
type Fingerprint uint64

// ExtractMode selects the declaration extraction strategy.
type ExtractMode uint8

const (
	// ExtractSyntax parses the compiled contents permissively with
	// tree-sitter and walks call expressions.
	ExtractSyntax ExtractMode = iota
	// ExtractEval executes the compiled contents in an instrumented
	// Risor sandbox that intercepts suite/test calls.
	ExtractEval
)

func (m ExtractMode) String() string {
	switch m {
	case ExtractSyntax:
		return "syntax"
	case ExtractEval:
		return "eval"
	default:
		return fmt.Sprintf("ExtractMode(%d)", uint8(m))
	}
}

// ExtractResult is what the extractor hands the synchronizer for one file.
// Nodes == nil with Unchanged set means the fingerprint matched and the
// previous tree branch must be left untouched.
type ExtractResult struct {
	Hash      Fingerprint
	Nodes     []*DeclNode
	Unchanged bool
}
