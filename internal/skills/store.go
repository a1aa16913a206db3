// Package skills manages the directory of skill markdown files the gateway
// loads its capabilities from. The panel does plain name-keyed CRUD; all
// paths are confined to the skills directory via traversal protection.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const maxSkillBytes = 1 * 1024 * 1024 // 1 MB

// validName keeps skill names to a single safe filename stem.
var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ -]*$`)

// Skill is one markdown file in the skills directory.
type Skill struct {
	Name      string    `json:"name"`
	Content   string    `json:"content,omitempty"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a name-keyed markdown file store rooted at one directory.
type Store struct {
	rootDir string
}

// NewStore creates a Store rooted at rootDir, creating the directory if
// needed. The root has its symlinks resolved once so later containment
// checks compare real paths.
func NewStore(rootDir string) (*Store, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("skills: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("skills: create root dir: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("skills: eval symlinks on root: %w", err)
	}
	return &Store{rootDir: resolved}, nil
}

func (s *Store) Dir() string { return s.rootDir }

// resolve maps a skill name to its file path, rejecting anything that would
// escape the root.
func (s *Store) resolve(name string) (string, error) {
	name = strings.TrimSpace(strings.TrimSuffix(name, ".md"))
	if name == "" {
		return "", fmt.Errorf("skills: empty name")
	}
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("skills: invalid name %q", name)
	}
	full := filepath.Join(s.rootDir, name+".md")
	if !strings.HasPrefix(full, s.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("skills: path traversal blocked: %s", name)
	}
	return full, nil
}

// List returns all skills without their content, sorted by name.
func (s *Store) List() ([]Skill, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("skills: read dir: %w", err)
	}
	var out []Skill
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".md") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, Skill{
			Name:      strings.TrimSuffix(ent.Name(), ".md"),
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get reads one skill with content. Returns os.ErrNotExist when absent.
func (s *Store) Get(name string) (Skill, error) {
	path, err := s.resolve(name)
	if err != nil {
		return Skill{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Skill{}, err
	}
	if info.Size() > maxSkillBytes {
		return Skill{}, fmt.Errorf("skills: %s too large: %d bytes", name, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	return Skill{
		Name:      strings.TrimSuffix(filepath.Base(path), ".md"),
		Content:   string(data),
		Size:      info.Size(),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Save writes a skill atomically (temp file + rename), creating or
// replacing it.
func (s *Store) Save(name, content string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if len(content) > maxSkillBytes {
		return fmt.Errorf("skills: content too large: %d bytes", len(content))
	}

	tmp, err := os.CreateTemp(s.rootDir, ".skill-*.tmp")
	if err != nil {
		return fmt.Errorf("skills: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("skills: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("skills: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("skills: rename: %w", err)
	}
	return nil
}

// Delete removes a skill. Returns os.ErrNotExist when absent.
func (s *Store) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}
