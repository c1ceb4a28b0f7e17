package allowlist

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the watcher waits after the last write before
// refreshing, so editors that write in bursts trigger a single reload.
const watchDebounce = 500 * time.Millisecond

// Watcher refreshes the cache when the local allowlist file changes, so an
// operator's edit takes effect without waiting out the refresh interval.
type Watcher struct {
	watcher *fsnotify.Watcher
	cache   *Cache
	path    string
}

// NewWatcher creates a file watcher for the cache's local source. It returns
// (nil, nil) when path is empty or the file does not exist yet; the watcher
// is an optimization, not a required source.
func NewWatcher(cache *Cache, path string) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %q: %w", path, err)
	}
	return &Watcher{watcher: watcher, cache: cache, path: path}, nil
}

// Run watches for file changes and forces cache refreshes. Blocks until ctx
// is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					snapshot := w.cache.ForceRefresh(context.Background())
					log.Printf("allowlist: file change reloaded, source=%s", snapshot.Source())
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("allowlist: file watcher: %v", err)
		}
	}
}
