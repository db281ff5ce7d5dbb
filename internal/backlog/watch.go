package backlog

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"artistbatch/internal/event"
	"artistbatch/internal/logging"
)

// Watch observes the directory holding the stores and publishes a
// StatusEvent whenever one of the database files changes on disk. This is
// purely informational: an operator editing the source store mid-run sees
// the change acknowledged, but the running session keeps its backlog
// snapshot until the next reload.
func Watch(ctx context.Context, paths Paths, bus *event.Bus, log *logging.Logger) error {
	if log == nil {
		log = logging.NopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(paths.Source)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	watched := map[string]struct{}{
		paths.Source:   {},
		paths.Progress: {},
		paths.Metadata: {},
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, tracked := watched[ev.Name]; !tracked {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				log.Debug("store file changed", "file", ev.Name, "op", ev.Op.String())
				bus.Publish(event.NewStatusEvent(
					"store changed on disk: " + filepath.Base(ev.Name) + " (takes effect at next backlog load)"))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("store watcher error", "error", err)
			}
		}
	}()
	return nil
}
