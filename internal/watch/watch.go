// Package watch monitors the files a manifest declares as inputs and emits
// debounced change batches, so the pipeline can re-run incrementally whenever
// a source, shape, query, or template file is edited.
package watch

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind describes the type of file change detected.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota // Tracked input edited or created
	ChangeRemoved                    // Tracked input deleted
)

// Change represents a detected change to one tracked input file.
type Change struct {
	Kind ChangeKind
	Path string // Workspace-relative path as declared in the manifest
}

// Watcher monitors a set of tracked input files using fsnotify. Events are
// debounced so a burst of writes to the same file produces a single change.
type Watcher struct {
	Changes <-chan Change // Read-only external channel

	root    string
	tracked map[string]string // absolute path -> manifest-relative path
	changes chan Change       // Internal write channel
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// New creates a watcher for the given workspace root and tracked relative
// paths. Watching starts on Start.
func New(root string, paths []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	tracked := make(map[string]string, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(filepath.Join(root, p))
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch: resolve %q: %w", p, err)
		}
		tracked[abs] = p
	}

	ch := make(chan Change, 16)
	w := &Watcher{
		Changes: ch,
		root:    root,
		tracked: tracked,
		changes: ch,
		done:    make(chan struct{}),
		watcher: fw,
	}
	return w, nil
}

// Start registers the directories containing the tracked files and begins
// the event loop. Directories are watched rather than the files themselves,
// so editors that replace files by rename are still observed.
func (w *Watcher) Start() error {
	dirs := make(map[string]struct{})
	for abs := range w.tracked {
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch: add %q: %w", dir, err)
		}
	}

	go w.loop()
	return nil
}

// Stop closes the watcher and channels.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: track last event per file.
	const debounce = 100 * time.Millisecond
	pending := make(map[string]ChangeKind)
	deadline := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				// Drain pending on close.
				for abs, kind := range pending {
					w.emit(abs, kind)
				}
				return
			}

			if _, tracked := w.tracked[event.Name]; !tracked {
				continue
			}

			switch {
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				pending[event.Name] = ChangeRemoved
				deadline[event.Name] = time.Now()
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				pending[event.Name] = ChangeModified
				deadline[event.Name] = time.Now()
			}

		case _, ok := <-ticker.C:
			if !ok {
				return
			}
			now := time.Now()
			for abs, t := range deadline {
				if now.Sub(t) >= debounce {
					w.emit(abs, pending[abs])
					delete(pending, abs)
					delete(deadline, abs)
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Ignore watch errors; they're non-fatal.
		}
	}
}

func (w *Watcher) emit(abs string, kind ChangeKind) {
	w.changes <- Change{
		Kind: kind,
		Path: w.tracked[abs],
	}
}
