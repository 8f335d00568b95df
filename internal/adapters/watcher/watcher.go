// Package watcher invalidates cached layer bounds when another process
// rewrites a file-backed catalog.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stratumgis/stratum/internal/domain"
)

// Event reports a changed layer metadata record.
type Event struct {
	Path  string
	Layer domain.LayerID
}

// Handler is called when a layer's metadata record changes on disk.
type Handler func(ctx context.Context, event Event) error

// pendingEvent holds a debounced event.
type pendingEvent struct {
	timestamp time.Time
	layer     domain.LayerID
}

// Watcher watches a file catalog's attributes directory for metadata
// rewrites. Rapid successive events for the same record collapse into one
// handler call.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	dir       string
	debounce  time.Duration
	mu        sync.Mutex
	pending   map[string]*pendingEvent
}

// Config holds watcher configuration.
type Config struct {
	// Dir is the catalog's attributes directory.
	Dir      string
	Debounce time.Duration
}

// New creates a new metadata watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		dir:       cfg.Dir,
		debounce:  cfg.Debounce,
		pending:   make(map[string]*pendingEvent),
	}, nil
}

// Start starts watching the attributes directory.
func (w *Watcher) Start(ctx context.Context) error {
	absPath, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}
	w.logger.Info("watching catalog attributes", "path", absPath)

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent processes a single fsnotify event. Only metadata records
// matter; header and tile objects never affect cached bounds.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	id, ok := parseMetadataFile(filepath.Base(event.Name))
	if !ok {
		return
	}

	w.logger.Debug("metadata event", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, exists := w.pending[event.Name]; exists {
		existing.timestamp = time.Now()
		return
	}
	w.pending[event.Name] = &pendingEvent{
		timestamp: time.Now(),
		layer:     id,
	}
}

// debounceLoop processes debounced events.
func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// processPending fires handler calls for events older than the debounce
// window.
func (w *Watcher) processPending(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for path, pending := range w.pending {
		if now.Sub(pending.timestamp) < w.debounce {
			continue
		}

		delete(w.pending, path)

		event := Event{Path: path, Layer: pending.layer}

		w.logger.Info("layer metadata changed",
			"path", path,
			"layer", event.Layer.Name,
			"zoom", event.Layer.Zoom,
		)

		// Call handler in goroutine to not block
		go func(e Event) {
			if err := w.handler(ctx, e); err != nil {
				w.logger.Error("handler error", "path", e.Path, "error", err)
			}
		}(event)
	}
}

// parseMetadataFile recovers a layer identifier from a metadata file name
// of the form "<name>__<zoom>__metadata.json".
func parseMetadataFile(name string) (domain.LayerID, bool) {
	base, found := strings.CutSuffix(name, "__metadata.json")
	if !found {
		return domain.LayerID{}, false
	}

	idx := strings.LastIndex(base, "__")
	if idx < 1 {
		return domain.LayerID{}, false
	}

	zoom, err := strconv.Atoi(base[idx+2:])
	if err != nil || zoom < 0 {
		return domain.LayerID{}, false
	}

	return domain.LayerID{Name: base[:idx], Zoom: zoom}, true
}
