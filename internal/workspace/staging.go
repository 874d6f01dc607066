package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Staging is an all-or-nothing write transaction. Files are staged
// under the metadata directory and only reach their final workspace
// paths on Commit, each moved by an atomic rename. Rollback discards
// the whole staging area and leaves the workspace untouched.
type Staging struct {
	store     *Store
	dir       string
	files     map[string]bool
	committed bool
}

// BeginStaging opens a fresh staging transaction, discarding any
// staging leftovers from a previous crashed run.
func (s *Store) BeginStaging() (*Staging, error) {
	dir := s.StagingDir()
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("workspace: clearing stale staging: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating staging: %w", err)
	}
	return &Staging{store: s, dir: dir, files: make(map[string]bool)}, nil
}

// ResumeStaging reopens the staging area left by an interrupted run,
// rebuilding the staged-file set from what is on disk. Returns
// (nil, nil) when no staging directory survives.
func (s *Store) ResumeStaging() (*Staging, error) {
	dir := s.StagingDir()
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace: inspecting staging: %w", err)
	}

	files := make(map[string]bool)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[rel] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: scanning staging: %w", err)
	}
	return &Staging{store: s, dir: dir, files: files}, nil
}

// Read returns the staged content for a workspace-relative path.
func (st *Staging) Read(rel string) ([]byte, error) {
	if !st.files[filepath.Clean(rel)] {
		return nil, fmt.Errorf("workspace: %q is not staged", rel)
	}
	data, err := os.ReadFile(filepath.Join(st.dir, filepath.Clean(rel)))
	if err != nil {
		return nil, fmt.Errorf("workspace: reading staged %s: %w", rel, err)
	}
	return data, nil
}

// Write stages content for a workspace-relative path. The path must
// stay inside the workspace: absolute paths and ".." traversal are
// rejected.
func (st *Staging) Write(rel string, data []byte) error {
	if rel == "" || filepath.IsAbs(rel) {
		return fmt.Errorf("workspace: invalid staged path %q", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("workspace: staged path %q escapes the workspace", rel)
	}

	full := filepath.Join(st.dir, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("workspace: staging %s: %w", rel, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("workspace: staging %s: %w", rel, err)
	}
	st.files[clean] = true
	return nil
}

// Files returns the staged workspace-relative paths, sorted.
func (st *Staging) Files() []string {
	out := make([]string, 0, len(st.files))
	for f := range st.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Commit moves every staged file onto its final workspace path and
// removes the staging directory. Each move is an atomic rename on the
// same filesystem.
func (st *Staging) Commit() error {
	if st.committed {
		return fmt.Errorf("workspace: staging already committed")
	}
	for _, rel := range st.Files() {
		final := st.store.Resolve(rel)
		if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
			return fmt.Errorf("workspace: committing %s: %w", rel, err)
		}
		if err := os.Rename(filepath.Join(st.dir, rel), final); err != nil {
			return fmt.Errorf("workspace: committing %s: %w", rel, err)
		}
	}
	st.committed = true
	return os.RemoveAll(st.dir)
}

// Rollback discards all staged files. Safe to call after Commit, where
// it is a no-op.
func (st *Staging) Rollback() error {
	if st.committed {
		return nil
	}
	return os.RemoveAll(st.dir)
}
