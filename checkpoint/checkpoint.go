// Package checkpoint persists run progress to a JSON state file. The file is
// advisory: it lets an operator see where an interrupted run stopped and feed
// the position back as explicit start arguments. Writes are atomic (temp file
// plus rename) so a crash mid-write never leaves a corrupt snapshot.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oranbench/gridrunner/types"
)

// DefaultFilename is the checkpoint file name under the run directory.
const DefaultFilename = "checkpoint.json"

// Store reads and writes a single checkpoint file. Safe for concurrent use,
// though the orchestrator only writes from the grid goroutine.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the checkpoint atomically, stamping UpdatedAt.
func (s *Store) Save(cp *types.RunCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	// Write to temp file, then rename for atomicity
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint file. Returns (nil, nil) when no checkpoint
// exists yet.
func (s *Store) Load() (*types.RunCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp types.RunCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Remove deletes the checkpoint file. Missing file is not an error.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
