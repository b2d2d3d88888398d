package config

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-camviewer/internal/log"
)

// Watch follows the config file and calls onLevel whenever log.level changes.
// Nothing else is reloaded: camera descriptors are fixed for the process
// lifetime. Returns when ctx is done.
func Watch(ctx context.Context, path string, current string, onLevel func(string)) error {
	logger := log.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// atomic save: the old inode is gone, follow the new file
				time.Sleep(100 * time.Millisecond)
				if err := watcher.Add(path); err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("config file vanished")
					continue
				}
			} else if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// editors write in several steps
			time.Sleep(100 * time.Millisecond)

			level, err := readLogLevel(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("config reload failed")
				continue
			}
			if level != "" && level != current {
				logger.Info().Str("from", current).Str("to", level).Msg("log level changed")
				current = level
				onLevel(level)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func readLogLevel(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var partial struct {
		Log LogConfig `yaml:"log"`
	}
	if err := yaml.Unmarshal(raw, &partial); err != nil {
		return "", err
	}
	return partial.Log.Level, nil
}
