package source

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event for a catalog
// before a change is emitted.
const DefaultDebounce = 250 * time.Millisecond

// Watcher monitors a source directory and emits the id of each catalog whose
// descriptor file changed. Bursts of events for one catalog collapse into a
// single change after the debounce period.
type Watcher struct {
	Dir     string
	Changes <-chan string

	changes  chan string
	quit     chan struct{}
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir. A non-positive debounce uses
// DefaultDebounce; a nil logger uses slog.Default.
func NewWatcher(dir string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	ch := make(chan string, 16)
	return &Watcher{
		Dir:      dir,
		Changes:  ch,
		changes:  ch,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Start begins watching. After a failed Start the watcher is closed and
// Stop returns immediately.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.Dir); err != nil {
		_ = w.watcher.Close()
		close(w.done)
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher, waits for the loop and closes Changes.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		_ = w.watcher.Close()
		<-w.done
		close(w.changes)
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	tick := w.debounce / 2
	if tick <= 0 {
		tick = w.debounce
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				for id := range pending {
					if !w.emit(id) {
						return
					}
				}
				return
			}
			id := CatalogForPath(event.Name)
			if id == "" || strings.HasPrefix(id, ".") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[id] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for id, at := range pending {
				if now.Sub(at) >= w.debounce {
					if !w.emit(id) {
						return
					}
					delete(pending, id)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("source watch error", "dir", w.Dir, "error", err)
		}
	}
}

// emit delivers id unless the watcher is stopping.
func (w *Watcher) emit(id string) bool {
	select {
	case w.changes <- id:
		return true
	case <-w.quit:
		return false
	}
}
