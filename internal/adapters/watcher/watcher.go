// Package watcher reloads sources when dataset files or the sources file change.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jobrunner/geosource/internal/domain"
)

// Event is a settled change of one file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler receives every file that changed during one quiet period. Calls
// are serialized.
type Handler func(ctx context.Context, events []Event) error

// Config holds watcher configuration.
type Config struct {
	DataDirs []string      // Directories holding dataset files
	Files    []string      // Individual files, e.g. the sources file
	Debounce time.Duration // Quiet period before the handler runs
}

// Watcher batches file changes and hands them to a handler once the files
// have been quiet for the debounce period.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	debounce  time.Duration

	dirs  []string
	files map[string]bool // absolute paths watched individually

	mu       sync.Mutex
	pending  map[string]Operation
	lastSeen time.Time
	started  bool
	done     chan struct{}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		debounce:  cfg.Debounce,
		files:     make(map[string]bool),
		pending:   make(map[string]Operation),
		done:      make(chan struct{}),
	}
	for _, dir := range cfg.DataDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			w.dirs = append(w.dirs, abs)
		}
	}
	for _, file := range cfg.Files {
		if abs, err := filepath.Abs(file); err == nil {
			w.files[abs] = true
		}
	}
	return w, nil
}

// Start watches the data directories and the parent directories of the
// individual files. Editors replace files on save, so a watch on the file
// itself would be lost.
func (w *Watcher) Start(ctx context.Context) error {
	watched := make(map[string]bool)
	add := func(dir string) {
		if watched[dir] {
			return
		}
		watched[dir] = true
		if err := w.fsWatcher.Add(dir); err != nil {
			w.logger.Warn("failed to watch path", "path", dir, "error", err)
			return
		}
		w.logger.Info("watching directory", "path", dir)
	}

	for _, dir := range w.dirs {
		add(dir)
	}
	for file := range w.files {
		add(filepath.Dir(file))
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for a running handler to return.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.record(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case <-ticker.C:
			if events := w.settled(time.Now()); len(events) > 0 {
				w.dispatch(ctx, events)
			}
		}
	}
}

// record adds a relevant fsnotify event to the pending batch.
func (w *Watcher) record(event fsnotify.Event) {
	if !w.relevant(event.Name) {
		return
	}
	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	op := fsnotifyOpToOperation(event.Op)
	if previous, ok := w.pending[event.Name]; ok {
		op = mergeOperations(previous, op)
	}
	w.pending[event.Name] = op
	w.lastSeen = time.Now()
}

// relevant reports whether path is a watched file or a dataset file in a
// watched directory.
func (w *Watcher) relevant(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	if !domain.IsDatasetFile(abs) {
		return false
	}
	dir := filepath.Dir(abs)
	for _, d := range w.dirs {
		if dir == d {
			return true
		}
	}
	return false
}

// settled returns and clears the pending batch once no event arrived for
// the debounce period.
func (w *Watcher) settled(now time.Time) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 || now.Sub(w.lastSeen) < w.debounce {
		return nil
	}

	events := make([]Event, 0, len(w.pending))
	for path, op := range w.pending {
		events = append(events, Event{Path: path, Operation: op})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	w.pending = make(map[string]Operation)
	return events
}

func (w *Watcher) dispatch(ctx context.Context, events []Event) {
	for _, e := range events {
		w.logger.Info("processing file event", "path", e.Path, "operation", e.Operation.String())
	}
	if err := w.handler(ctx, events); err != nil {
		w.logger.Error("handler error", "events", len(events), "error", err)
	}
}

// mergeOperations folds a new operation into a pending one. A delete wins,
// and a file deleted then recreated counts as created.
func mergeOperations(previous, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case previous == OpDelete && next == OpCreate:
		return OpCreate
	case previous == OpCreate:
		return OpCreate
	default:
		return next
	}
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}
