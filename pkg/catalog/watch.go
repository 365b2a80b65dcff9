package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sonastea/questbot/pkg/logger"
)

const reloadDebounce = 250 * time.Millisecond

var log = logger.Named("catalog")

// Watch reloads the catalog whenever a yaml file in its override directory
// changes. It blocks until ctx is done. onReload, if set, runs after every
// successful reload.
func (c *Catalog) Watch(ctx context.Context, onReload func()) error {
	if c.dir == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", c.dir, err)
	}
	log.Info("Watching %s for boss and gear changes", c.dir)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !isSpecFile(event.Name) {
				continue
			}
			pending = time.After(reloadDebounce)
		case <-pending:
			pending = nil
			if err := c.Reload(); err != nil {
				log.Error("Reload failed, keeping previous tables: %v", err)
				continue
			}
			log.Info("Reloaded %d boss templates", len(c.Bosses()))
			if onReload != nil {
				onReload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watcher error: %v", err)
		}
	}
}

func isSpecFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
