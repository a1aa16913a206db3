package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Format identifies the serialization of the gateway config document.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// DetectFormat picks the document format from the file extension.
// Anything that is not .toml is treated as JSON.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

// DocumentStore reads and writes the gateway's own config document: an
// arbitrarily nested string-keyed mapping the gateway process consumes.
// The panel edits it whole-document; writes are atomic (temp file + rename)
// so the gateway never observes a half-written file.
type DocumentStore struct {
	mu        sync.Mutex
	path      string
	format    Format
	validator *DocumentValidator
}

// NewDocumentStore creates a store for the document at path. validator may
// be nil to skip schema checking.
func NewDocumentStore(path string, validator *DocumentValidator) *DocumentStore {
	return &DocumentStore{
		path:      path,
		format:    DetectFormat(path),
		validator: validator,
	}
}

func (s *DocumentStore) Path() string   { return s.path }
func (s *DocumentStore) Format() Format { return s.format }

// Load reads the document from disk. A missing file yields an empty map.
func (s *DocumentStore) Load() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return s.decode(data)
}

func (s *DocumentStore) decode(data []byte) (map[string]interface{}, error) {
	doc := make(map[string]interface{})
	if len(data) == 0 {
		return doc, nil
	}
	switch s.format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.path, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.path, err)
		}
	}
	return doc, nil
}

// Save validates (when a validator is attached) and writes the document
// atomically.
func (s *DocumentStore) Save(doc map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.validator != nil {
		if err := s.validator.Validate(doc); err != nil {
			return err
		}
	}

	var data []byte
	switch s.format {
	case FormatTOML:
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(doc); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
		data = []byte(sb.String())
	default:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		data = append(out, '\n')
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".gateway-config-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Fingerprint hashes the current document content for change events.
func (s *DocumentStore) Fingerprint() (string, error) {
	doc, err := s.Load()
	if err != nil {
		return "", err
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("doc-%x", fnvSum(canonical)), nil
}

func fnvSum(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}
