// Package sourcemap maps positions in compiled files back to original
// source locations. When a file has no usable source map, positions pass
// through unchanged; correlation failure never aborts a sync.
package sourcemap

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sourcemap/sourcemap"

	"github.com/standardbeagle/testmap/internal/debug"
	"github.com/standardbeagle/testmap/internal/errors"
	"github.com/standardbeagle/testmap/internal/types"
)

// Store hands out one Handle per compiled file, reused across resyncs so
// unchanged maps are not reparsed.
type Store struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewStore creates an empty handle store.
func NewStore() *Store {
	return &Store{handles: make(map[string]*Handle)}
}

// Maintain returns the handle for a compiled file, creating it on first use.
func (s *Store) Maintain(path string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[path]
	if !ok {
		h = &Handle{path: path}
		s.handles[path] = h
	}
	return h
}

// Release drops the handle for a deleted or excluded file.
func (s *Store) Release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, path)
}

// Handle is the correlator for one compiled file. Refresh must be called
// before position queries reflect the latest contents.
type Handle struct {
	mu       sync.Mutex
	path     string
	mapHash  uint64
	consumer *sourcemap.Consumer
}

// Refresh (re)loads the source map referenced by the compiled contents.
// Passing nil contents reads the file from disk. Idempotent when the
// underlying map bytes have not changed; a load or parse failure
// degrades to identity mapping.
func (h *Handle) Refresh(contents []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if contents == nil {
		data, err := os.ReadFile(h.path)
		if err != nil {
			h.consumer = nil
			h.mapHash = 0
			return
		}
		contents = data
	}

	raw := h.loadRawMap(contents)
	if raw == nil {
		h.consumer = nil
		h.mapHash = 0
		return
	}

	hash := xxhash.Sum64(raw)
	if hash == h.mapHash && h.consumer != nil {
		return
	}

	consumer, err := sourcemap.Parse(h.path, raw)
	if err != nil {
		serr := errors.NewSyncError("parse", err).
			WithType(errors.ErrorTypeSourceMap).WithFile(h.path)
		debug.Log("SOURCEMAP", "using identity mapping: %v\n", serr)
		h.consumer = nil
		h.mapHash = 0
		return
	}

	h.consumer = consumer
	h.mapHash = hash
}

// loadRawMap locates the map referenced by a sourceMappingURL comment:
// either an inline base64 data URI or a file next to the compiled file.
func (h *Handle) loadRawMap(contents []byte) []byte {
	url := sourceMappingURL(contents)
	if url == "" {
		return nil
	}

	if strings.HasPrefix(url, "data:") {
		idx := strings.Index(url, "base64,")
		if idx < 0 {
			return nil
		}
		raw, err := base64.StdEncoding.DecodeString(url[idx+len("base64,"):])
		if err != nil {
			return nil
		}
		return raw
	}

	mapPath := url
	if !filepath.IsAbs(mapPath) {
		mapPath = filepath.Join(filepath.Dir(h.path), filepath.FromSlash(url))
	}
	raw, err := os.ReadFile(mapPath)
	if err != nil {
		return nil
	}
	return raw
}

// sourceMappingURL extracts the last `//# sourceMappingURL=` comment value.
func sourceMappingURL(contents []byte) string {
	const marker = "sourceMappingURL="
	idx := bytes.LastIndex(contents, []byte(marker))
	if idx < 0 {
		return ""
	}
	rest := contents[idx+len(marker):]
	if end := bytes.IndexAny(rest, "\r\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(string(rest))
}

// OriginalPosition maps a generated position to its original source
// location. When no map is loaded or the position has no mapping, the
// generated file and position are returned unchanged.
func (h *Handle) OriginalPosition(pos types.Position) types.Location {
	h.mu.Lock()
	consumer := h.consumer
	h.mu.Unlock()

	identity := types.Location{
		URI:   h.path,
		Range: types.Range{Start: pos, End: pos},
	}
	if consumer == nil {
		return identity
	}

	// go-sourcemap speaks one-based lines but zero-based columns.
	source, _, line, col, ok := consumer.Source(pos.Line+1, pos.Column)
	if !ok || source == "" {
		return identity
	}

	mapped := types.Position{Line: max(line-1, 0), Column: col}
	return types.Location{
		URI:   h.resolveSource(source),
		Range: types.Range{Start: mapped, End: mapped},
	}
}

// OriginalRange correlates a start/end pair. Both ends must land in the
// same original file to be usable as one range; otherwise the range
// collapses to the correlated start.
func (h *Handle) OriginalRange(start, end types.Position) types.Location {
	from := h.OriginalPosition(start)
	to := h.OriginalPosition(end)
	if to.URI != from.URI {
		return from
	}
	from.Range.End = to.Range.Start
	return from
}

// resolveSource anchors a relative original-source path at the compiled
// file's directory. Bundler pseudo-schemes (webpack://...) pass through.
func (h *Handle) resolveSource(source string) string {
	if filepath.IsAbs(source) || strings.Contains(source, "://") {
		return source
	}
	return filepath.Clean(filepath.Join(filepath.Dir(h.path), filepath.FromSlash(source)))
}
