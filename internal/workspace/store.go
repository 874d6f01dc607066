// Package workspace owns every file the pipeline itself writes: the
// receipt, the recovery state, the lock, the staging area, and the
// generated artifacts. A Store is an explicit injected value with no
// package-level singletons, so one process can drive several
// workspaces and tests get full isolation from t.TempDir alone.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// metaDirName is the workspace-local directory holding pipeline
// metadata (receipt, state, lock, events, history, staging).
const metaDirName = ".loom"

// Store resolves paths inside one workspace and provides the atomic
// write primitives every pipeline mutation goes through.
type Store struct {
	root string
}

// NewStore opens a workspace rooted at root, creating the metadata
// directory if needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolving root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, metaDirName), 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating metadata directory: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string {
	return s.root
}

// MetaDir returns the absolute metadata directory.
func (s *Store) MetaDir() string {
	return filepath.Join(s.root, metaDirName)
}

// ManifestPath returns the conventional manifest location.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.root, "loom.toml")
}

// ReceiptPath returns the receipt file location.
func (s *Store) ReceiptPath() string {
	return filepath.Join(s.MetaDir(), "receipt.json")
}

// StatePath returns the recovery-state file location.
func (s *Store) StatePath() string {
	return filepath.Join(s.MetaDir(), "state.json")
}

// LockPath returns the lock file location.
func (s *Store) LockPath() string {
	return filepath.Join(s.MetaDir(), "lock.json")
}

// EventsPath returns the telemetry JSONL stream location.
func (s *Store) EventsPath() string {
	return filepath.Join(s.MetaDir(), "events.jsonl")
}

// HistoryPath returns the run-history database location.
func (s *Store) HistoryPath() string {
	return filepath.Join(s.MetaDir(), "history.db")
}

// StagingDir returns the staging directory location.
func (s *Store) StagingDir() string {
	return filepath.Join(s.MetaDir(), "staging")
}

// Resolve joins a workspace-relative path onto the root.
func (s *Store) Resolve(rel string) string {
	return filepath.Join(s.root, rel)
}

// WriteFileAtomic writes data to a workspace-relative path via write
// temp + rename, creating parent directories as needed. A crash
// mid-write never leaves a partially written file at the final path.
func (s *Store) WriteFileAtomic(rel string, data []byte) error {
	full := s.Resolve(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("workspace: creating %s: %w", filepath.Dir(rel), err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("workspace: writing %s: %w", rel, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workspace: renaming %s: %w", rel, err)
	}
	return nil
}

// ReadFile reads a workspace-relative path.
func (s *Store) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(s.Resolve(rel))
}

// FileSize returns the size in bytes of a workspace-relative file.
func (s *Store) FileSize(rel string) (int64, error) {
	info, err := os.Stat(s.Resolve(rel))
	if err != nil {
		return 0, fmt.Errorf("workspace: sizing %s: %w", rel, err)
	}
	return info.Size(), nil
}

// RemoveOutputs deletes the given workspace-relative artifact paths,
// ignoring files that are already gone.
func (s *Store) RemoveOutputs(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(s.Resolve(p)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("workspace: removing %s: %w", p, err)
		}
	}
	return nil
}
