// Package storage persists engine state: the snapshot file that makes
// restarts seamless and the journals that keep a queryable trade log.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raykavin/dryrun/internal/core"
)

// ErrCorruptSnapshot marks a snapshot file that exists but cannot be parsed
var ErrCorruptSnapshot = errors.New("snapshot file is corrupt")

// FileSnapshotStore keeps the snapshot as one JSON document, replaced
// atomically on every save. Safe for a single writer and any number of
// concurrent readers: a reader never observes a partial write.
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore creates a store writing to path
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Path returns the snapshot file location
func (s *FileSnapshotStore) Path() string { return s.path }

// Load reads the stored snapshot. A missing file yields an empty snapshot,
// an unreadable one fails with ErrCorruptSnapshot so the caller can decide
// whether to halt or reset.
func (s *FileSnapshotStore) Load() (*core.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return core.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot core.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	if err := migrate(&snapshot); err != nil {
		return nil, err
	}

	if snapshot.Strategies == nil {
		snapshot.Strategies = make(map[string]*core.StrategyState)
	}

	return &snapshot, nil
}

// migrate upgrades older snapshot layouts in place
func migrate(snapshot *core.Snapshot) error {
	switch snapshot.Schema {
	case core.SnapshotSchemaVersion:
		return nil
	case 0:
		// Files written before schema tagging carry a zero version and are
		// otherwise identical to version 1
		snapshot.Schema = core.SnapshotSchemaVersion
		return nil
	default:
		return fmt.Errorf("snapshot schema %d is newer than this build supports", snapshot.Schema)
	}
}

// Save atomically replaces the stored snapshot using a temp file, fsync and
// rename, so a crash mid-write never damages the previous good state.
func (s *FileSnapshotStore) Save(snapshot *core.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}
