package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultMaxReadBytes = 200_000

// ReadFileTool implements spec.md §4.4's read_file: a workspace-bounded read
// with optional offset/max_bytes and a truncated flag. Grounded on
// internal/tools/files/read.go, adapted to tools.Tool's context.Context
// signature.
type ReadFileTool struct {
	resolver resolver
	maxBytes int
}

// NewReadFileTool builds a ReadFileTool scoped to workspace.
func NewReadFileTool(workspace string, maxBytes int) *ReadFileTool {
	if maxBytes <= 0 {
		maxBytes = defaultMaxReadBytes
	}
	return &ReadFileTool{resolver: resolver{Root: workspace}, maxBytes: maxBytes}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the workspace with optional offset and byte limit." }

func (t *ReadFileTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"path":      map[string]any{"type": "string", "description": "Path to the file, relative to the workspace."},
		"offset":    map[string]any{"type": "integer", "minimum": 0, "description": "Byte offset to start reading from."},
		"max_bytes": map[string]any{"type": "integer", "minimum": 0, "description": "Maximum bytes to read, capped by the tool default."},
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	if in.Offset < 0 {
		return toolError("offset must be >= 0")
	}
	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolError(err.Error())
	}

	f, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err))
	}
	if in.Offset > 0 {
		if _, err := f.Seek(in.Offset, io.SeekStart); err != nil {
			return toolError(fmt.Sprintf("seek file: %v", err))
		}
	}

	limit := t.maxBytes
	if in.MaxBytes > 0 && in.MaxBytes < limit {
		limit = in.MaxBytes
	}
	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - in.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(f, remaining))
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err))
	}
	truncated := info.Size() > 0 && in.Offset+int64(len(buf)) < info.Size()

	return encodeResult(map[string]any{
		"path":      in.Path,
		"content":   string(buf),
		"offset":    in.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	})
}

// WriteFileTool implements write_file: create or overwrite a file within
// the workspace, creating parent directories as needed.
type WriteFileTool struct {
	resolver resolver
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{resolver: resolver{Root: workspace}}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Create or overwrite a file in the workspace." }

func (t *WriteFileTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"path":    map[string]any{"type": "string", "description": "Path to the file, relative to the workspace."},
		"content": map[string]any{"type": "string", "description": "Full file content to write."},
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolError(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create parent directories: %v", err))
	}
	if err := atomicWrite(resolved, []byte(in.Content)); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err))
	}
	return encodeResult(map[string]any{"path": in.Path, "bytes": len(in.Content)})
}

// atomicWrite writes to a temp file in the same directory, then renames
// over the destination — a crash or concurrent reader never observes a
// partially-written file.
func atomicWrite(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ListFilesTool implements list_files: a shallow or recursive directory
// listing, workspace-bounded.
type ListFilesTool struct {
	resolver resolver
}

func NewListFilesTool(workspace string) *ListFilesTool {
	return &ListFilesTool{resolver: resolver{Root: workspace}}
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List files and directories under a workspace path." }

func (t *ListFilesTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"path":      map[string]any{"type": "string", "description": "Directory to list, relative to the workspace. Defaults to the workspace root."},
		"recursive": map[string]any{"type": "boolean", "description": "Walk subdirectories instead of listing one level."},
	})
}

func (t *ListFilesTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return toolError(fmt.Sprintf("invalid input: %v", err))
		}
	}
	if in.Path == "" {
		in.Path = "."
	}
	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolError(err.Error())
	}

	var entries []string
	if in.Recursive {
		err = filepath.WalkDir(resolved, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == resolved {
				return nil
			}
			if d.Name() == ".git" {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(resolved, p)
			if relErr != nil {
				return relErr
			}
			if d.IsDir() {
				rel += "/"
			}
			entries = append(entries, rel)
			return nil
		})
	} else {
		var dirEntries []os.DirEntry
		dirEntries, err = os.ReadDir(resolved)
		for _, d := range dirEntries {
			name := d.Name()
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	}
	if err != nil {
		return toolError(fmt.Sprintf("list directory: %v", err))
	}
	sort.Strings(entries)
	return encodeResult(map[string]any{"path": in.Path, "entries": entries})
}

const searchFilesMaxMatches = 100

// SearchFilesTool implements search_files: a bounded substring grep over
// workspace text files, skipping binary content and .git.
type SearchFilesTool struct {
	resolver resolver
}

func NewSearchFilesTool(workspace string) *SearchFilesTool {
	return &SearchFilesTool{resolver: resolver{Root: workspace}}
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return fmt.Sprintf("Search workspace text files for a substring, returning up to %d matches.", searchFilesMaxMatches)
}

func (t *SearchFilesTool) InputSchema() []byte {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "description": "Substring to search for."},
		"path":  map[string]any{"type": "string", "description": "Directory to search under, relative to the workspace. Defaults to the workspace root."},
	}, "query")
}

type fileMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchFilesTool) Execute(ctx context.Context, input []byte) (string, bool) {
	var in struct {
		Query string `json:"query"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid input: %v", err))
	}
	if strings.TrimSpace(in.Query) == "" {
		return toolError("query is required")
	}
	if in.Path == "" {
		in.Path = "."
	}
	root, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return toolError(err.Error())
	}

	var matches []fileMatch
	truncated := false
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if len(matches) >= searchFilesMaxMatches {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil // unreadable file, skip rather than abort the walk
		}
		if isBinary(data) {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			rel = p
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, in.Query) {
				if len(matches) >= searchFilesMaxMatches {
					truncated = true
					break
				}
				matches = append(matches, fileMatch{Path: rel, Line: i + 1, Text: strings.TrimRight(line, "\r")})
			}
		}
		return nil
	})
	if walkErr != nil {
		return toolError(fmt.Sprintf("search: %v", walkErr))
	}

	return encodeResult(map[string]any{"matches": matches, "truncated": truncated})
}

// isBinary applies the common NUL-byte heuristic over a content sample.
func isBinary(data []byte) bool {
	sample := data
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	return bytes.IndexByte(sample, 0) != -1
}

func encodeResult(v any) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return string(b), false
}
