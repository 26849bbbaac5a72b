package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceInterval = 100 * time.Millisecond

// WatchPolicies re-reads the config file whenever it changes and swaps the
// new route policies into store. The parent directory is watched rather than
// the file itself so editors that replace via rename keep triggering events.
// A broken file is logged and skipped; the last good policies stay active.
// Blocks until ctx is cancelled.
func WatchPolicies(ctx context.Context, path string, store *PolicyStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info().Str("path", path).Msg("watching config for policy changes")

	var mu sync.Mutex
	var timer *time.Timer

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("config reload failed, keeping previous policies")
			return
		}
		store.Replace(cfg.Default, cfg.Policies)
		log.Info().Int("policies", len(cfg.Policies)).Msg("route policies reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			// debounce: editors fire several events per save
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
