package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/testmap/internal/debug"
	"github.com/standardbeagle/testmap/internal/tree"
	"github.com/standardbeagle/testmap/internal/types"
	"github.com/standardbeagle/testmap/internal/version"
)

// Server exposes the synchronized test tree over MCP stdio.
type Server struct {
	syncer *tree.Synchronizer
	server *mcp.Server
}

// TreeParams selects a subtree of the synchronized test tree.
type TreeParams struct {
	Path     string `json:"path,omitempty"`      // container path prefix, empty for whole tree
	MaxDepth int    `json:"max_depth,omitempty"` // 0 means unlimited
}

// ConflictParams scopes the conflict listing to one compiled file.
type ConflictParams struct {
	File string `json:"file,omitempty"`
}

// FilesParams has no options yet; kept as a struct for schema symmetry.
type FilesParams struct{}

// TreeNode is the wire form of a tree item.
type TreeNode struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Kind     string          `json:"kind"`
	Location *types.Location `json:"location,omitempty"`
	Error    string          `json:"error,omitempty"`
	Configs  []int           `json:"configs,omitempty"`
	Children []*TreeNode     `json:"children,omitempty"`
}

// TreeResponse is the result payload of the test_tree tool.
type TreeResponse struct {
	Root  *TreeNode `json:"root"`
	Items int       `json:"items"`
}

// ConflictEntry pairs a compiled file with its duplicate declarations.
type ConflictEntry struct {
	File      string          `json:"file"`
	Conflicts []tree.Conflict `json:"conflicts"`
}

// ConflictResponse is the result payload of the test_conflicts tool.
type ConflictResponse struct {
	Files []ConflictEntry `json:"files"`
	Total int             `json:"total"`
}

// FilesResponse is the result payload of the test_files tool.
type FilesResponse struct {
	Files []FileEntry `json:"files"`
	Count int         `json:"count"`
}

// FileEntry describes one tracked compiled file.
type FileEntry struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
}

// NewServer creates an MCP server over an already running synchronizer.
func NewServer(syncer *tree.Synchronizer) *Server {
	s := &Server{
		syncer: syncer,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "testmap-mcp-server",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "test_tree",
		Description: "Get the synchronized test declaration tree. Optionally scope to a container path and limit depth.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": {
					Type:        "string",
					Description: "Container path prefix relative to the workspace root (e.g. 'dist/app.spec.js'). Empty returns the whole tree.",
				},
				"max_depth": {
					Type:        "integer",
					Description: "Maximum tree depth to return. 0 means unlimited.",
				},
			},
		},
	}, s.handleTestTree)

	s.server.AddTool(&mcp.Tool{
		Name:        "test_conflicts",
		Description: "List duplicate test declarations detected during synchronization, grouped by compiled file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file": {
					Type:        "string",
					Description: "Absolute compiled file path. Empty lists conflicts for all tracked files.",
				},
			},
		},
	}, s.handleTestConflicts)

	s.server.AddTool(&mcp.Tool{
		Name:        "test_files",
		Description: "List all compiled test files currently tracked by the synchronizer, with content fingerprints.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleTestFiles)
}

func (s *Server) handleTestTree(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params TreeParams
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
			return errorResult(fmt.Errorf("invalid parameters: %w", err)), nil
		}
	}

	t := s.syncer.Tree()
	item := t.Root()
	if params.Path != "" {
		item = findByPath(item, params.Path)
		if item == nil {
			return errorResult(fmt.Errorf("no tree item at path %q", params.Path)), nil
		}
	}

	count := 0
	node := convertItem(item, params.MaxDepth, 0, &count)
	return jsonResult(&TreeResponse{Root: node, Items: count})
}

func (s *Server) handleTestConflicts(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ConflictParams
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
			return errorResult(fmt.Errorf("invalid parameters: %w", err)), nil
		}
	}

	t := s.syncer.Tree()
	resp := &ConflictResponse{Files: []ConflictEntry{}}
	if params.File != "" {
		conflicts := t.ConflictsFor(params.File)
		if len(conflicts) > 0 {
			resp.Files = append(resp.Files, ConflictEntry{File: params.File, Conflicts: conflicts})
			resp.Total = len(conflicts)
		}
		return jsonResult(resp)
	}

	all := t.Conflicts()
	paths := make([]string, 0, len(all))
	for path := range all {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		resp.Files = append(resp.Files, ConflictEntry{File: path, Conflicts: all[path]})
		resp.Total += len(all[path])
	}
	return jsonResult(resp)
}

func (s *Server) handleTestFiles(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t := s.syncer.Tree()
	files := t.TrackedFiles()
	sort.Strings(files)

	resp := &FilesResponse{Files: make([]FileEntry, 0, len(files)), Count: len(files)}
	for _, path := range files {
		fp := t.Fingerprint(path)
		resp.Files = append(resp.Files, FileEntry{
			Path:        path,
			Fingerprint: fmt.Sprintf("%016x", uint64(fp)),
		})
	}
	return jsonResult(resp)
}

// findByPath descends from item following slash-separated child labels.
func findByPath(item *tree.Item, path string) *tree.Item {
	current := item
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		current = current.Child(part)
		if current == nil {
			return nil
		}
	}
	return current
}

func convertItem(item *tree.Item, maxDepth, depth int, count *int) *TreeNode {
	*count++
	node := &TreeNode{
		ID:       item.ID,
		Label:    item.Label,
		Kind:     item.Kind.String(),
		Location: item.Location,
		Error:    item.Err,
		Configs:  item.Tags(),
	}
	if maxDepth > 0 && depth+1 >= maxDepth {
		return node
	}
	for _, child := range item.Children() {
		node.Children = append(node.Children, convertItem(child, maxDepth, depth+1, count))
	}
	return node
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
	}
}

// Run serves MCP over stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	debug.SetMCPMode(true)
	debug.LogSync("MCP server starting on stdio\n")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
