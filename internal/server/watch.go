package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the bursts of events editors produce for
// one save.
const reloadDebounce = 50 * time.Millisecond

// watch reloads path into the engine whenever it is written. The
// directory is watched rather than the file so saves that replace the
// file are seen.
func (s *Server) watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	slog.Info("watching document", "path", abs)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(reloadDebounce)
			}

		case <-timer.C:
			data, err := os.ReadFile(abs)
			if err != nil {
				slog.Warn("cannot read watched document", "path", abs, "error", err)
				continue
			}
			if err := s.eng.Reload(data); err != nil {
				return nil
			}
			slog.Info("document changed, reloading", "path", abs)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "path", abs, "error", err)
		}
	}
}
