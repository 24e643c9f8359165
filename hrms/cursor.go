package hrms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CursorStore persists poll cursors across restarts. Keys are adapter
// keys (source plus organization).
type CursorStore interface {
	LoadCursor(key string) (Cursor, error)
	SaveCursor(key string, cursor Cursor) error
}

// MemoryCursorStore keeps cursors in memory. Missing keys load as the
// zero cursor. Used by tests and ephemeral runs.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]Cursor
}

// NewMemoryCursorStore creates an empty in-memory store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]Cursor)}
}

func (s *MemoryCursorStore) LoadCursor(key string) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[key], nil
}

func (s *MemoryCursorStore) SaveCursor(key string, cursor Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = cursor
	return nil
}

// FileCursorStore persists every cursor in one JSON document on disk, so
// pollers resume where they stopped after a restart.
type FileCursorStore struct {
	mu      sync.Mutex
	path    string
	cursors map[string]Cursor
}

// NewFileCursorStore opens or creates the cursor file at path.
func NewFileCursorStore(path string) (*FileCursorStore, error) {
	s := &FileCursorStore{
		path:    path,
		cursors: make(map[string]Cursor),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor file: %w", err)
	}
	if err := json.Unmarshal(data, &s.cursors); err != nil {
		return nil, fmt.Errorf("failed to parse cursor file: %w", err)
	}
	return s, nil
}

func (s *FileCursorStore) LoadCursor(key string) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[key], nil
}

func (s *FileCursorStore) SaveCursor(key string, cursor Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[key] = cursor

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create cursor directory: %w", err)
	}
	data, err := json.MarshalIndent(s.cursors, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cursors: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cursor file: %w", err)
	}
	return nil
}
