// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/soothill/alert-destinations/pkg/logger"
)

// Reload is the outcome of one configuration reload attempt.
type Reload struct {
	Config *Config
	Error  error
}

// Watcher handles hot reloading of the configuration file. A reload is
// triggered by SIGHUP or by a write to the file.
type Watcher struct {
	path       string
	files      *fsnotify.Watcher
	reloadChan chan os.Signal
	cancelFunc context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once

	// Reloaded receives every reload attempt, successful or not.
	Reloaded chan Reload
}

// NewWatcher creates a new configuration watcher for path. The parent
// directory is watched so a save that renames a new file over path is seen.
func NewWatcher(path string) (*Watcher, error) {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	files, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := files.Add(filepath.Dir(path)); err != nil {
		_ = files.Close()
		return nil, err
	}

	return &Watcher{
		path:       path,
		files:      files,
		reloadChan: make(chan os.Signal, 1),
		done:       make(chan struct{}),
		Reloaded:   make(chan Reload, 1),
	}, nil
}

// Start begins watching for SIGHUP signals and file changes.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancelFunc = context.WithCancel(ctx)
	signal.Notify(w.reloadChan, syscall.SIGHUP)

	logger.Info().Str("path", w.path).Msg("Watching configuration for changes")
	go w.watch(ctx)
}

// Close stops the watcher and releases the file watch.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		signal.Stop(w.reloadChan)
		if w.cancelFunc != nil {
			w.cancelFunc()
			<-w.done
		}
		if err := w.files.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close configuration file watcher")
		}
	})
}

// watch listens for reload triggers and reloads the configuration.
func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reloadChan:
			logger.Info().Msg("SIGHUP received, reloading configuration")
			w.reload(ctx)
		case event, ok := <-w.files.Events:
			if !ok {
				return
			}
			if !w.isChange(event) {
				continue
			}
			logger.Info().Str("path", w.path).Str("op", event.Op.String()).Msg("Configuration file changed, reloading")
			w.reload(ctx)
		case err, ok := <-w.files.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Configuration file watcher error")
		}
	}
}

// isChange reports whether event leaves new content at the watched path.
// A file renamed over path arrives as Create.
func (w *Watcher) isChange(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload configuration, keeping previous configuration")
	} else {
		logger.Info().Int("destinations", len(cfg.Destinations)).Msg("Configuration reloaded successfully")
	}

	select {
	case w.Reloaded <- Reload{Config: cfg, Error: err}:
	case <-ctx.Done():
	}
}
