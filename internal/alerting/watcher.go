package alerting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

const defaultWatchDebounce = 500 * time.Millisecond

// WatchDefinitions calls apply with the parsed contents of the definitions
// file at path every time it changes, until ctx is done. A file that fails
// to parse is logged and skipped. The parent directory is watched so that
// editors replacing the file by rename are picked up.
func WatchDefinitions(ctx context.Context, path string, debounce time.Duration, log logrus.FieldLogger, apply func(context.Context, []*models.Alert)) error {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve definitions path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log = log.WithFields(logrus.Fields{"component": "definitions", "path": abs})

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("definitions watcher error")
		case <-timer.C:
			alerts, err := LoadDefinitionsFromFile(abs)
			if err != nil {
				log.WithError(err).Error("failed to reload alert definitions")
				continue
			}
			log.WithField("alerts", len(alerts)).Info("alert definitions changed")
			apply(ctx, alerts)
		}
	}
}
