package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher holds the live Config behind an atomic pointer so readers never
// block on a reload in progress, and notifies subscribers once a new
// version has been swapped in.
type Watcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Config]

	mu   sync.Mutex
	subs []chan *Config
}

// NewWatcher loads path once and starts watching it for changes.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, logger: logger}
	w.current.Store(cfg)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.watch(fsw)
	return w, nil
}

// Current returns the most recently loaded configuration. Safe for
// concurrent use; never blocks on an in-flight reload.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Subscribe returns a channel that receives every successfully reloaded
// Config. The channel is never closed; callers stop reading when done.
func (w *Watcher) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	defer fsw.Close()
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.logger != nil {
					w.logger.Warn("config reload failed, keeping prior config", zap.Error(err))
				}
				continue
			}
			w.current.Store(cfg)
			w.notify(cfg)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) notify(cfg *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}
