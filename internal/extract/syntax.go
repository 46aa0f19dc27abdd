package extract

import (
	"path/filepath"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/standardbeagle/testmap/internal/types"
)

// parserSet lazily initializes one tree-sitter parser per language.
// Parser instances are not safe for concurrent Parse calls, so all
// parsing goes through the mutex.
type parserSet struct {
	mu      sync.Mutex
	parsers map[string]*tree_sitter.Parser
}

func newParserSet() *parserSet {
	return &parserSet{parsers: make(map[string]*tree_sitter.Parser)}
}

func languageForExt(ext string) *tree_sitter.Language {
	switch ext {
	case ".ts":
		return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	case ".tsx":
		return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())
	default:
		// Compiled test bundles are overwhelmingly JS; treat unknown
		// extensions as JavaScript rather than refusing to parse.
		return tree_sitter.NewLanguage(tree_sitter_javascript.Language())
	}
}

func (ps *parserSet) parse(ext string, content []byte) *tree_sitter.Tree {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	key := ext
	switch ext {
	case ".ts", ".tsx":
	default:
		key = ".js"
	}

	parser, ok := ps.parsers[key]
	if !ok {
		parser = tree_sitter.NewParser()
		if err := parser.SetLanguage(languageForExt(key)); err != nil {
			return nil
		}
		ps.parsers[key] = parser
	}

	return parser.Parse(content, nil)
}

// parseSyntax walks call expressions looking for suite/test identifiers.
// tree-sitter recovers from syntax errors, so a partial file degrades to
// a best-effort partial forest instead of total failure.
func (e *Extractor) parseSyntax(path string, content []byte, sym Symbols) []*types.DeclNode {
	tree := e.parsers.parse(filepath.Ext(path), content)
	if tree == nil {
		return nil
	}
	defer tree.Close()

	w := &syntaxWalker{content: content, sym: sym}
	return w.collect(tree.RootNode())
}

type syntaxWalker struct {
	content []byte
	sym     Symbols
}

// collect walks node's subtree and returns the declarations found,
// in source order. Recognized calls are not descended into generically;
// their function argument bodies are walked as child scopes instead.
func (w *syntaxWalker) collect(node *tree_sitter.Node) []*types.DeclNode {
	var out []*types.DeclNode
	w.walk(node, &out)
	return out
}

func (w *syntaxWalker) walk(node *tree_sitter.Node, out *[]*types.DeclNode) {
	if node.Kind() == "call_expression" {
		if decl := w.declFromCall(node); decl != nil {
			*out = append(*out, decl)
			return
		}
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		w.walk(node.Child(i), out)
	}
}

// declFromCall recognizes `ident("name", fn)` and marked variants such
// as `ident.only("name", fn)`. Returns nil when the callee is not one of
// the configured identifiers or the first argument is not a string.
func (w *syntaxWalker) declFromCall(call *tree_sitter.Node) *types.DeclNode {
	callee := call.ChildByFieldName("function")
	if callee == nil {
		return nil
	}

	ident := w.calleeIdentifier(callee)
	if ident == "" {
		return nil
	}

	var kind types.DeclKind
	if _, ok := w.sym.Suites[ident]; ok {
		kind = types.DeclSuite
	} else if _, ok := w.sym.Tests[ident]; ok {
		kind = types.DeclTest
	} else {
		return nil
	}

	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}

	name, ok := w.firstStringArgument(args)
	if !ok {
		return nil
	}

	decl := &types.DeclNode{
		Name:  name,
		Kind:  kind,
		Start: pointToPosition(call.StartPosition()),
		End:   pointToPosition(call.EndPosition()),
	}

	if body := w.functionArgumentBody(args); body != nil {
		decl.Children = w.collect(body)
	}

	return decl
}

// calleeIdentifier resolves the identifier a call is made through.
// `describe` yields "describe"; `describe.only` and `describe.skip`
// also yield "describe". Anything deeper (a.b.c) is not a declaration.
func (w *syntaxWalker) calleeIdentifier(callee *tree_sitter.Node) string {
	switch callee.Kind() {
	case "identifier":
		return callee.Utf8Text(w.content)
	case "member_expression":
		obj := callee.ChildByFieldName("object")
		prop := callee.ChildByFieldName("property")
		if obj == nil || prop == nil || obj.Kind() != "identifier" {
			return ""
		}
		switch prop.Utf8Text(w.content) {
		case "only", "skip", "todo":
			return obj.Utf8Text(w.content)
		}
	}
	return ""
}

// firstStringArgument returns the unquoted value of the first string or
// template literal in an arguments node.
func (w *syntaxWalker) firstStringArgument(args *tree_sitter.Node) (string, bool) {
	for i := uint(0); i < args.NamedChildCount(); i++ {
		arg := args.NamedChild(i)
		switch arg.Kind() {
		case "string":
			return unquote(arg.Utf8Text(w.content)), true
		case "template_string":
			return unquote(arg.Utf8Text(w.content)), true
		}
	}
	return "", false
}

// functionArgumentBody returns the statement body of the first function
// or arrow-function argument, where nested declarations live.
func (w *syntaxWalker) functionArgumentBody(args *tree_sitter.Node) *tree_sitter.Node {
	for i := uint(0); i < args.NamedChildCount(); i++ {
		arg := args.NamedChild(i)
		switch arg.Kind() {
		case "arrow_function", "function_expression", "function", "generator_function":
			if body := arg.ChildByFieldName("body"); body != nil {
				return body
			}
		}
	}
	return nil
}

func pointToPosition(p tree_sitter.Point) types.Position {
	return types.Position{Line: int(p.Row), Column: int(p.Column)}
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch {
		case strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`),
			strings.HasPrefix(s, `'`) && strings.HasSuffix(s, `'`),
			strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`"):
			return s[1 : len(s)-1]
		}
	}
	return s
}
