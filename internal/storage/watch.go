package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"gastos/internal/log"
)

// watchDebounce coalesces the burst of events editors emit for one save.
const watchDebounce = 150 * time.Millisecond

// Watch blocks until ctx is cancelled, calling onChange whenever the file
// backing key is changed by another process. Changes made through Set are
// not reported.
func (f *FileStore) Watch(ctx context.Context, key string, onChange func(context.Context)) error {
	if err := validateKey(key); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(f.dir); err != nil {
		return fmt.Errorf("watch %s: %w", f.dir, err)
	}

	target := filepath.Clean(f.Path(key))
	logger := f.logger.WithComponent(log.ComponentWatcher)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	fire := func() {
		data, err := os.ReadFile(target)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnContext(ctx, "Failed reading watched file", log.FieldPath, target, log.FieldError, err)
			return
		}
		if err == nil && f.writtenByUs(key, data) {
			return
		}
		logger.InfoContext(ctx, "Ledger file changed on disk", log.FieldPath, target)
		onChange(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, fire)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "File watcher error", log.FieldPath, target, log.FieldError, err)
		}
	}
}
