// Package extract turns a compiled test file's contents into an ordered
// forest of suite/test declarations. Two strategies share the output
// shape: a permissive tree-sitter parse of call expressions, and an
// instrumented evaluation that intercepts suite/test calls in a sandbox.
package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/testmap/internal/debug"
	"github.com/standardbeagle/testmap/internal/errors"
	"github.com/standardbeagle/testmap/internal/types"
)

// Symbols configures which call identifiers are recognized as suite or
// test declarations, and which extraction strategy to use.
type Symbols struct {
	Mode   types.ExtractMode
	Suites map[string]struct{}
	Tests  map[string]struct{}
}

// NewSymbols builds a Symbols set from identifier lists.
func NewSymbols(mode types.ExtractMode, suites, tests []string) Symbols {
	s := Symbols{
		Mode:   mode,
		Suites: make(map[string]struct{}, len(suites)),
		Tests:  make(map[string]struct{}, len(tests)),
	}
	for _, id := range suites {
		s.Suites[id] = struct{}{}
	}
	for _, id := range tests {
		s.Tests[id] = struct{}{}
	}
	return s
}

// Extractor extracts declarations from compiled files. Safe for
// concurrent use; tree-sitter parsers are initialized lazily per
// language and guarded by a mutex.
type Extractor struct {
	maxFileSize int64
	parsers     *parserSet
}

// New creates an Extractor. maxFileSize <= 0 disables the size guard.
func New(maxFileSize int64) *Extractor {
	return &Extractor{
		maxFileSize: maxFileSize,
		parsers:     newParserSet(),
	}
}

// Extract resolves contents (in-memory override wins over disk), computes
// the fingerprint, and short-circuits when it matches prev. An unreadable
// or oversized file returns an error; the caller treats that as "zero
// declarations" and clears whatever the file contributed before.
func (e *Extractor) Extract(ctx context.Context, path string, contents []byte, prev types.Fingerprint, sym Symbols) (types.ExtractResult, error) {
	if contents == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return types.ExtractResult{}, errors.NewSyncError("read", err).
				WithType(errors.ErrorTypeFileNotFound).WithFile(path)
		}
		contents = data
	}

	if e.maxFileSize > 0 && int64(len(contents)) > e.maxFileSize {
		err := fmt.Errorf("file size %d exceeds limit %d", len(contents), e.maxFileSize)
		return types.ExtractResult{}, errors.NewSyncError("read", err).
			WithType(errors.ErrorTypeFileTooLarge).WithFile(path)
	}

	hash := types.Fingerprint(xxhash.Sum64(contents))
	if prev != 0 && hash == prev {
		debug.LogExtract("%s unchanged (fingerprint %x)\n", path, uint64(hash))
		return types.ExtractResult{Hash: hash, Unchanged: true}, nil
	}

	var nodes []*types.DeclNode
	switch sym.Mode {
	case types.ExtractEval:
		nodes = e.evaluate(ctx, path, contents, sym)
	default:
		nodes = e.parseSyntax(path, contents, sym)
	}

	debug.LogExtract("%s: %d top-level declarations (fingerprint %x)\n", path, len(nodes), uint64(hash))
	return types.ExtractResult{Hash: hash, Nodes: nodes}, nil
}
