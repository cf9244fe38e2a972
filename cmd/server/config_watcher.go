package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Tyrowin/whisperchat/internal/server"
)

// debounceWindow coalesces the burst of write events most editors emit when
// saving a file.
const debounceWindow = 200 * time.Millisecond

// watchConfig hot-reloads the JSON config file whenever it changes. Address
// changes are ignored until restart; runtime settings such as origins and
// rate limits take effect immediately. The directory is watched rather than
// the file so rename-based saves keep working.
func watchConfig(path string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	go watchLoop(watcher, path)

	slog.Info("watching config file for changes", "path", path)
	return watcher, nil
}

func watchLoop(watcher *fsnotify.Watcher, path string) {
	var reloadAt <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !sameFile(event.Name, path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reloadAt = time.After(debounceWindow)

		case <-reloadAt:
			reloadAt = nil
			reloadConfig(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func reloadConfig(path string) {
	config, err := server.LoadConfigFile(path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous settings", "path", path, "error", err)
		return
	}

	server.SetConfig(config)
	slog.Info("config reloaded", "path", path)
}

func sameFile(eventName, path string) bool {
	return strings.EqualFold(filepath.Clean(eventName), filepath.Clean(path)) ||
		filepath.Base(eventName) == filepath.Base(path)
}
