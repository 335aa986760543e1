package preview

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay is how long a prospect's events are coalesced before one
// reload fires. Uploads and editor saves produce bursts.
var debounceDelay = 200 * time.Millisecond

// newWatcherFunc creates an fsnotify watcher; tests may replace it to inject
// errors.
type newWatcherFunc func() (*fsnotify.Watcher, error)

// Notifier receives the debounced change signal. *Hub satisfies it.
type Notifier interface {
	Broadcast(prospectID string)
}

// Watcher watches the prospects root for file changes and tells the notifier
// which prospect changed. fsnotify does not recurse, so the root, every
// prospect dir, and their asset dirs are added individually; dirs created
// later are picked up from create events.
type Watcher struct {
	root         string
	notify       Notifier
	logger       *slog.Logger
	watcher      *fsnotify.Watcher
	done         chan struct{}
	mu           sync.Mutex
	running      bool
	newWatcherFn newWatcherFunc

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// NewWatcher creates a watcher over the prospects root. Call Start to begin
// and Stop to release resources.
func NewWatcher(root string, notify Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:   filepath.Clean(root),
		notify: notify,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

func (w *Watcher) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Start begins watching. Start must not be called again without an
// intervening Stop.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.notify == nil {
		return errors.New("preview: notifier must not be nil")
	}
	if w.running {
		return errors.New("preview: watcher already started")
	}

	newWatcher := fsnotify.NewWatcher
	if w.newWatcherFn != nil {
		newWatcher = w.newWatcherFn
	}
	watcher, err := newWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.root); err != nil {
		watcher.Close()
		return err
	}

	// Register existing prospect dirs and their asset dirs.
	if entries, err := os.ReadDir(w.root); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := filepath.Join(w.root, entry.Name())
			if err := watcher.Add(dir); err != nil {
				w.log().Warn("cannot watch prospect dir", "dir", dir, "error", err)
				continue
			}
			assets := filepath.Join(dir, "assets")
			if fi, err := os.Stat(assets); err == nil && fi.IsDir() {
				if err := watcher.Add(assets); err != nil {
					w.log().Warn("cannot watch assets dir", "dir", assets, "error", err)
				}
			}
		}
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.running = true

	go w.eventLoop()
	return nil
}

// Stop ceases watching and releases resources. Safe to call when not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.running = false

	w.timersMu.Lock()
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	w.timersMu.Unlock()

	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log().Warn("preview watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	prospectID := parts[0]
	base := filepath.Base(event.Name)

	// New directories (fresh prospects, fresh asset dirs) must be added to the
	// watch set; their creation alone is not a visible change.
	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if !strings.HasPrefix(base, ".") {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log().Warn("cannot watch new dir", "dir", event.Name, "error", err)
				}
			}
			return
		}
	}

	// Dotfiles cover temp files from atomic writes and the thumbnail cache.
	// conversation.json changes every turn and is not part of the rendered site.
	if strings.HasPrefix(base, ".") || strings.HasPrefix(prospectID, ".") || base == "conversation.json" {
		return
	}
	if len(parts) > 1 && parts[1] == ".thumbs" {
		return
	}

	w.scheduleReload(prospectID)
}

// scheduleReload debounces per prospect: the timer resets on every qualifying
// event and fires once the burst settles.
func (w *Watcher) scheduleReload(prospectID string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if timer, ok := w.timers[prospectID]; ok {
		timer.Stop()
	}
	w.timers[prospectID] = time.AfterFunc(debounceDelay, func() {
		w.timersMu.Lock()
		delete(w.timers, prospectID)
		w.timersMu.Unlock()
		w.notify.Broadcast(prospectID)
	})
}
