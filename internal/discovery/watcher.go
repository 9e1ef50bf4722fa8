package discovery

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tracehub/tracehub/internal/config"
)

// DirtyEvent is a single coalesced "this path changed" signal.
type DirtyEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher recursively watches every enabled source profile's roots and
// emits coalesced dirty-path events, debounced by batchDebounceMs
// (spec.md §4.1: "within batchDebounceMs, duplicate dirty paths collapse;
// the queue is a set with FIFO tiebreak"). Grounded on the pack's
// internal/indexing/watcher.go FileWatcher/eventDebouncer pair.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	dirty    chan DirtyEvent

	mu      sync.Mutex
	queue   []string // FIFO order of first-seen path per debounce window
	pending map[string]fsnotify.Op
	timer   *time.Timer

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a Watcher over every root named by cfg's enabled
// source profiles.
func NewWatcher(cfg *config.Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       fsw,
		debounce: time.Duration(cfg.Scan.BatchDebounceMs) * time.Millisecond,
		dirty:    make(chan DirtyEvent, 256),
		pending:  make(map[string]fsnotify.Op),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = 500 * time.Millisecond
	}

	for name, profile := range cfg.Sources {
		if !profile.Enabled {
			continue
		}
		for _, rawRoot := range profile.Roots {
			root := expandHome(rawRoot)
			if err := w.addTree(root); err != nil {
				log.Printf("[discovery] watcher: failed to watch root %s (%s): %v", root, name, err)
			}
		}
	}

	return w, nil
}

// addTree adds fsnotify watches for root and every subdirectory beneath it.
// Unreadable directories are logged and skipped (spec.md §4.1 Failure).
func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("[discovery] watcher: skipping %s: %v", path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			log.Printf("[discovery] watcher: failed to add watch for %s: %v", path, err)
		}
		return nil
	})
}

// Dirty returns the channel of coalesced dirty-path events.
func (w *Watcher) Dirty() <-chan DirtyEvent { return w.dirty }

// Run starts the event loop. It blocks until Close is called.
func (w *Watcher) Run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("[discovery] watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(ev.Name); err != nil {
				log.Printf("[discovery] watcher: failed to add watch for new directory %s: %v", ev.Name, err)
			}
		}
	}

	w.mu.Lock()
	if _, seen := w.pending[ev.Name]; !seen {
		w.queue = append(w.queue, ev.Name)
	}
	w.pending[ev.Name] = ev.Op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
	w.mu.Unlock()
}

// flush drains the coalesced queue in FIFO order onto the dirty channel.
func (w *Watcher) flush() {
	w.mu.Lock()
	queue := w.queue
	pending := w.pending
	w.queue = nil
	w.pending = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	for _, path := range queue {
		select {
		case w.dirty <- DirtyEvent{Path: path, Op: pending[path]}:
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher and releases its fsnotify handle. The dirty
// channel is intentionally left open rather than closed: a debounce timer
// may still be in flight when Close returns, and closing here would race
// its send against a concurrent flush. Callers should stop reading from
// Dirty() once Close has been called rather than relying on channel
// closure as an end-of-stream signal.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.fs.Close()
	<-w.done
	return err
}
