package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sandbox confines filesystem tools to a single root directory. Every path
// from tool input is resolved and checked before use; traversal outside the
// root is rejected.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at dir. The directory is created if
// it does not exist.
func NewSandbox(dir string) (*Sandbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// resolve maps a tool-supplied relative path into the sandbox, rejecting
// anything that would escape the root.
func (s *Sandbox) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed")
	}
	full := filepath.Join(s.root, filepath.Clean(rel))
	if full != s.root && !strings.HasPrefix(full, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return full, nil
}

// FSTools returns the sandboxed filesystem tool set.
func FSTools(s *Sandbox) []Tool {
	return []Tool{
		&fsRead{s}, &fsWrite{s}, &fsCreate{s}, &fsDelete{s},
		&fsList{s}, &fsExists{s}, &fsSearch{s},
	}
}

type pathInput struct {
	Path string `json:"path"`
}

type pathContentInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

const pathSchema = `{"type":"object","properties":{"path":{"type":"string","description":"path relative to the workspace root"}},"required":["path"]}`

const pathContentSchema = `{"type":"object","properties":{"path":{"type":"string","description":"path relative to the workspace root"},"content":{"type":"string"}},"required":["path","content"]}`

const fsFileLimit = 256 * 1024

type fsRead struct{ sb *Sandbox }

func (t *fsRead) Name() string        { return "fs_read" }
func (t *fsRead) Description() string { return "Read a file from the workspace." }
func (t *fsRead) InputSchema() string { return pathSchema }

func (t *fsRead) Execute(_ context.Context, input string) (string, error) {
	var in pathInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("parsing input: %w", err)
	}
	full, err := t.sb.resolve(in.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", in.Path, err)
	}
	if info.Size() > fsFileLimit {
		return "", fmt.Errorf("file too large: %d bytes", info.Size())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", in.Path, err)
	}
	return marshalResult(map[string]any{"path": in.Path, "content": string(data)})
}

type fsWrite struct{ sb *Sandbox }

func (t *fsWrite) Name() string        { return "fs_write" }
func (t *fsWrite) Description() string { return "Write content to a file, overwriting it if present." }
func (t *fsWrite) InputSchema() string { return pathContentSchema }

func (t *fsWrite) Execute(_ context.Context, input string) (string, error) {
	var in pathContentInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("parsing input: %w", err)
	}
	full, err := t.sb.resolve(in.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(in.Content), 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", in.Path, err)
	}
	return marshalResult(map[string]any{"path": in.Path, "bytes": len(in.Content)})
}

type fsCreate struct{ sb *Sandbox }

func (t *fsCreate) Name() string        { return "fs_create" }
func (t *fsCreate) Description() string { return "Create a new file; fails if the file already exists." }
func (t *fsCreate) InputSchema() string { return pathContentSchema }

func (t *fsCreate) Execute(_ context.Context, input string) (string, error) {
	var in pathContentInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("parsing input: %w", err)
	}
	full, err := t.sb.resolve(in.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", in.Path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(in.Content); err != nil {
		return "", fmt.Errorf("writing %s: %w", in.Path, err)
	}
	return marshalResult(map[string]any{"path": in.Path, "created": true})
}

type fsDelete struct{ sb *Sandbox }

func (t *fsDelete) Name() string        { return "fs_delete" }
func (t *fsDelete) Description() string { return "Delete a file from the workspace." }
func (t *fsDelete) InputSchema() string { return pathSchema }

func (t *fsDelete) Execute(_ context.Context, input string) (string, error) {
	var in pathInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("parsing input: %w", err)
	}
	full, err := t.sb.resolve(in.Path)
	if err != nil {
		return "", err
	}
	if err := os.Remove(full); err != nil {
		return "", fmt.Errorf("deleting %s: %w", in.Path, err)
	}
	return marshalResult(map[string]any{"path": in.Path, "deleted": true})
}

type fsList struct{ sb *Sandbox }

func (t *fsList) Name() string        { return "fs_list" }
func (t *fsList) Description() string { return "List directory entries in the workspace." }
func (t *fsList) InputSchema() string {
	return `{"type":"object","properties":{"path":{"type":"string","description":"directory relative to the workspace root; defaults to the root"}}}`
}

func (t *fsList) Execute(_ context.Context, input string) (string, error) {
	var in pathInput
	if input != "" {
		if err := json.Unmarshal([]byte(input), &in); err != nil {
			return "", fmt.Errorf("parsing input: %w", err)
		}
	}
	if in.Path == "" {
		in.Path = "."
	}
	full, err := t.sb.resolve(in.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", in.Path, err)
	}
	type entry struct {
		Name string `json:"name"`
		Dir  bool   `json:"dir"`
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entry{Name: e.Name(), Dir: e.IsDir()})
	}
	return marshalResult(map[string]any{"path": in.Path, "entries": out})
}

type fsExists struct{ sb *Sandbox }

func (t *fsExists) Name() string        { return "fs_exists" }
func (t *fsExists) Description() string { return "Check whether a workspace path exists." }
func (t *fsExists) InputSchema() string { return pathSchema }

func (t *fsExists) Execute(_ context.Context, input string) (string, error) {
	var in pathInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("parsing input: %w", err)
	}
	full, err := t.sb.resolve(in.Path)
	if err != nil {
		return "", err
	}
	_, err = os.Stat(full)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", in.Path, err)
	}
	return marshalResult(map[string]any{"path": in.Path, "exists": exists})
}

type fsSearch struct{ sb *Sandbox }

func (t *fsSearch) Name() string { return "fs_search" }
func (t *fsSearch) Description() string {
	return "Search workspace files for a substring; returns matching files and lines."
}
func (t *fsSearch) InputSchema() string {
	return `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`
}

func (t *fsSearch) Execute(ctx context.Context, input string) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("parsing input: %w", err)
	}
	if in.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	type match struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match

	err := filepath.WalkDir(t.sb.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, err := d.Info()
		if err != nil || info.Size() > fsFileLimit {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(t.sb.root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, in.Query) {
				matches = append(matches, match{Path: rel, Line: i + 1, Text: strings.TrimSpace(line)})
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching workspace: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Path != matches[j].Path {
			return matches[i].Path < matches[j].Path
		}
		return matches[i].Line < matches[j].Line
	})
	if len(matches) > 100 {
		matches = matches[:100]
	}
	return marshalResult(map[string]any{"query": in.Query, "matches": matches})
}

func marshalResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(out), nil
}
