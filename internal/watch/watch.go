// Package watch submits image files that appear in watched directories.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dpr/internal/imageio"
)

// DefaultDebounce is how long a file must stay quiet before it is submitted.
const DefaultDebounce = 2 * time.Second

// SubmitFunc hands a settled file to the pipeline.
type SubmitFunc func(path string) error

// Watcher monitors directories for new or rewritten images.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	submit   SubmitFunc
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingFile
}

// pendingFile is one armed quiet period. A fired timer only submits while
// its entry is still the one in pending.
type pendingFile struct {
	timer *time.Timer
}

// New creates a watcher; debounce <= 0 means DefaultDebounce.
func New(dirs []string, debounce time.Duration, submit SubmitFunc, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dirs:     dirs,
		debounce: debounce,
		submit:   submit,
		log:      logger,
		pending:  make(map[string]*pendingFile),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Info("watching directory", "dir", dir)
	}
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !imageio.IsImageFile(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.schedule(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.cancel(event.Name)
	}
}

// schedule (re)starts the quiet period for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// a timer that already fired is replaced rather than re-armed
	if p, ok := w.pending[path]; ok && p.timer.Stop() {
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingFile{}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(path, p) })
	w.pending[path] = p
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) fire(path string, p *pendingFile) {
	w.mu.Lock()
	if w.pending[path] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	if err := w.submit(path); err != nil {
		w.log.Warn("submit watched file", "path", path, "error", err)
		return
	}
	w.log.Info("watched file submitted", "path", path)
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
}
