// Package watch signals changes to a single file, such as the config file.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultPollInterval is the stat period when fsnotify is unavailable.
	DefaultPollInterval = 2 * time.Second
	// DefaultDebounce is how long the file must stay quiet before a change
	// is reported. Editors often save with several writes.
	DefaultDebounce = 200 * time.Millisecond
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher reports changes to config.toml so the daemon can reload it. It
// watches the parent directory, which keeps working when an editor replaces
// the file by rename, and falls back to stat polling when fsnotify fails.
type Watcher struct {
	path   string
	events chan struct{} // cap 1, pending signals coalesce
	done   chan struct{}
	fsw    *fsnotify.Watcher
	once   sync.Once

	polling      atomic.Bool
	pollInterval time.Duration
	debounce     time.Duration
	log          *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounce overrides [DefaultDebounce]. Zero reports every event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithPolling forces the stat-based fallback.
func WithPolling() Option {
	return func(w *Watcher) { w.polling.Store(true) }
}

// New starts watching path.
func New(path string, log *slog.Logger, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	w := &Watcher{
		path:         abs,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounce,
		log:          log,
	}
	for _, o := range opts {
		o(w)
	}
	if w.polling.Load() {
		go w.poll(w.snapshot())
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fsw.Add(filepath.Dir(abs)); err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		log.Info("fsnotify unavailable, polling config file", "path", abs, "error", err)
		w.polling.Store(true)
		go w.poll(w.snapshot())
		return w, nil
	}

	w.fsw = fsw
	go w.watch()
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool { return w.polling.Load() }

// Events returns a channel that receives a signal when the file changes.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}

// relevant is the set of operations that can change the file's content.
const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// watch reports write, create and rename events for the file once it has
// been quiet for the debounce period. On an fsnotify error it switches to
// [Watcher.poll].
func (w *Watcher) watch() {
	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&relevant == 0 {
				continue
			}
			if w.debounce == 0 {
				w.notify()
				continue
			}
			quiet.Reset(w.debounce)
		case <-quiet.C:
			w.notify()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Info("fsnotify error, switching to polling", "error", err)
			w.polling.Store(true)
			go w.poll(w.snapshot())
			return
		}
	}
}

// stamp identifies one version of the file for polling.
type stamp struct {
	mod  time.Time
	size int64
}

func statStamp(path string) (stamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return stamp{}, false
	}
	return stamp{mod: info.ModTime(), size: info.Size()}, true
}

// snapshot is the polling baseline. It is taken before the poll goroutine
// starts so that changes made right after [New] returns are reported.
func (w *Watcher) snapshot() stamp {
	st, _ := statStamp(w.path)
	return st
}

// poll stats the file every pollInterval and signals when its modification
// time or size differs from last. A file that appears counts as a change.
func (w *Watcher) poll(last stamp) {

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			cur, ok := statStamp(w.path)
			if !ok || cur == last {
				continue
			}
			last = cur
			w.notify()
		}
	}
}

// notify sends one signal; a pending signal absorbs the new one.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
