// Package memory exposes the gateway's persistent memory files to the
// panel: a primary memory.md document plus any supporting markdown the
// agent keeps alongside it. All paths are confined to the memory root
// via traversal protection.
package memory

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MainFile is the primary memory document shown in the panel editor.
	MainFile = "memory.md"

	maxFileBytes   = 1 * 1024 * 1024 // 1 MB
	maxListEntries = 500
	maxSearchDepth = 3
	maxSearchHits  = 100
)

// Entry describes one file under the memory root.
type Entry struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchHit is a single line match from Search.
type SearchHit struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// Workspace is a sandboxed view of the memory directory.
type Workspace struct {
	root string
}

// NewWorkspace opens (creating if needed) the memory directory at root.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("memory: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create root dir: %w", err)
	}
	// Resolve symlinks in root so containment checks compare real paths.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("memory: eval symlinks on root: %w", err)
	}
	return &Workspace{root: resolved}, nil
}

// resolve validates that path stays under the memory root and returns
// the absolute path.
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("memory: empty path")
	}

	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("memory: absolute path not allowed: %s", path)
	}
	full := filepath.Join(w.root, cleaned)

	// Resolve symlinks so a link cannot point outside the root. New
	// files do not exist yet, so walk up to the deepest existing
	// ancestor and resolve from there.
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		resolved, err = evalSymlinksPartial(full)
		if err != nil {
			return "", fmt.Errorf("memory: resolve symlinks: %w", err)
		}
	}

	if resolved != w.root && !strings.HasPrefix(resolved, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("memory: path traversal blocked: %s", path)
	}
	return resolved, nil
}

func evalSymlinksPartial(abs string) (string, error) {
	current := abs
	var trailing []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(trailing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, trailing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		trailing = append(trailing, filepath.Base(current))
		current = parent
	}
}

// Main reads memory.md. A missing file yields empty content rather than
// an error so a fresh home directory renders an empty editor.
func (w *Workspace) Main() (string, error) {
	content, err := w.Read(MainFile)
	if err != nil && os.IsNotExist(err) {
		return "", nil
	}
	return content, err
}

// SaveMain writes memory.md.
func (w *Workspace) SaveMain(content string) error {
	return w.Write(MainFile, content)
}

// Read reads one file under the memory root. Maximum size is 1 MB.
func (w *Workspace) Read(path string) (string, error) {
	resolved, err := w.resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("memory: path is a directory")
	}
	if info.Size() > maxFileBytes {
		return "", fmt.Errorf("memory: file too large: %d bytes (max %d)", info.Size(), maxFileBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("memory: read: %w", err)
	}
	return string(data), nil
}

// Write writes content to a file atomically (temp file + rename).
// Parent directories are created as needed.
func (w *Workspace) Write(path, content string) error {
	if len(content) > maxFileBytes {
		return fmt.Errorf("memory: content too large: %d bytes (max %d)", len(content), maxFileBytes)
	}
	resolved, err := w.resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mem-*.tmp")
	if err != nil {
		return fmt.Errorf("memory: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("memory: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: close temp: %w", err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("memory: rename: %w", err)
	}
	return nil
}

// List returns every file under the memory root, relative paths sorted
// by the walk order, capped at 500 entries.
func (w *Workspace) List() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != w.root {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if len(entries) >= maxListEntries {
			return fs.SkipAll
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		var size int64
		var mod time.Time
		if info, infoErr := d.Info(); infoErr == nil {
			size = info.Size()
			mod = info.ModTime()
		}
		entries = append(entries, Entry{Path: rel, Size: size, UpdatedAt: mod})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: list walk: %w", err)
	}
	return entries, nil
}

// Search performs a case-insensitive substring search across text files
// under the memory root. It walks up to maxSearchDepth levels, skips
// binary-looking files, and returns at most maxSearchHits results.
func (w *Workspace) Search(query string) ([]SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("memory: empty search query")
	}

	lowerQuery := strings.ToLower(query)
	var hits []SearchHit

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(hits) >= maxSearchHits {
			return fs.SkipAll
		}

		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if d.IsDir() {
			if depth > maxSearchDepth {
				return fs.SkipDir
			}
			return nil
		}
		if depth > maxSearchDepth {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxFileBytes {
			return nil
		}

		f, fErr := os.Open(path)
		if fErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if !utf8.ValidString(line) {
				return nil // skip this file entirely
			}
			if strings.Contains(strings.ToLower(line), lowerQuery) {
				hits = append(hits, SearchHit{
					Path:    rel,
					Line:    lineNum,
					Content: truncate(line, 200),
				})
				if len(hits) >= maxSearchHits {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: search walk: %w", err)
	}
	return hits, nil
}

// Delete removes a single file. Directories cannot be deleted.
func (w *Workspace) Delete(path string) error {
	resolved, err := w.resolve(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("memory: cannot delete directory")
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Errorf("memory: remove: %w", err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
