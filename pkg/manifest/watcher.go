package manifest

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/drover-ai/drover/pkg/tool"
)

// Watcher hot-reloads a tool manifest into a registry when the file changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	registry *tool.Registry
	debounce time.Duration
	done     chan struct{}
	stopOnce sync.Once
	timerMu  sync.Mutex
	timer    *time.Timer
	onReload func(*Manifest, error)
}

// WatcherConfig holds configuration for the manifest watcher.
type WatcherConfig struct {
	Path     string
	Registry *tool.Registry
	Debounce time.Duration

	// OnReload, if set, observes every reload attempt and its outcome.
	OnReload func(*Manifest, error)
}

// NewWatcher creates a manifest watcher. The manifest is loaded once up front;
// a broken initial manifest is a hard error, later breakage only logs.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("manifest watcher requires a registry")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 200 * time.Millisecond
	}

	m, err := Load(cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := m.Register(cfg.Registry); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		path:     cfg.Path,
		registry: cfg.Registry,
		debounce: cfg.Debounce,
		done:     make(chan struct{}),
		onReload: cfg.OnReload,
	}, nil
}

// Start begins watching the manifest file.
func (w *Watcher) Start() error {
	// Watch the directory; editors replace files by rename, which would drop
	// a watch on the file itself.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch manifest: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.path).Msg("Manifest watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	log.Info().Msg("Manifest watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Manifest watcher error")

		case <-w.done:
			return
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

func (w *Watcher) reload() {
	m, err := Load(w.path)
	if err == nil {
		err = m.Register(w.registry)
	}

	if err != nil {
		// Keep the last good registration; a broken edit must not drop tools.
		log.Error().Err(err).Str("path", w.path).Msg("Manifest reload failed")
	} else {
		log.Info().Str("path", w.path).Int("tools", len(m.Tools)).Msg("Manifest reloaded")
	}

	if w.onReload != nil {
		w.onReload(m, err)
	}
}
