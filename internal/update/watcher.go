package update

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tronos/internal/image"
)

// ImageCallback receives the freshly decoded target image after the
// watched file changes.
type ImageCallback func(img *image.DiskImage)

// WatchTarget watches an exported disk-image file on the host disk
// and invokes cb each time a valid new version is written, until ctx
// is cancelled. Editors typically replace files via rename, so the
// watch is on the containing directory with events filtered to the
// file, and reloads are debounced.
func WatchTarget(ctx context.Context, file string, logger *slog.Logger, cb ImageCallback) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("file", abs))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(200 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reloadCh:
			data, readErr := os.ReadFile(abs)
			if readErr != nil {
				logger.Warn("watcher: read failed", slog.String("error", readErr.Error()))
				continue
			}
			img, decErr := image.Decode(data)
			if decErr != nil {
				logger.Warn("watcher: decode failed", slog.String("error", decErr.Error()))
				continue
			}
			logger.Debug("watcher: target image reloaded", slog.String("name", img.Name))
			cb(img)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
