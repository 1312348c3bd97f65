package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is the YAML configuration file.
//
//	pipeline:
//	  line: L1
//	  horizon_hours: 12
//	  lags: [1, 2, 4, 10]
//	  schedule: ["07:30", "19:30"]
//	auth:
//	  user: admin
//	  pass: secret
type File struct {
	Pipeline FilePipeline `yaml:"pipeline"`
	Auth     Auth         `yaml:"auth"`
}

// FilePipeline is the pipeline section. MaxRows is a pointer so that an
// explicit max_rows: 0 can be told apart from an absent key.
type FilePipeline struct {
	Pipeline `yaml:",inline"`
	MaxRows  *int `yaml:"max_rows"`
}

// Load reads and parses the YAML file at path. Unknown keys are rejected.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	defer f.Close()

	var file File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return &file, nil
}

// Watch monitors path and calls onChange with the newly loaded File each time
// it is written or replaced. It runs until ctx is cancelled.
//
// The parent directory is watched so that editors saving through a rename
// are seen. A file that fails to parse is logged and onChange is not called.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*File)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger.Info("watching config file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			file, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}

			logger.Info("config reloaded", "path", path)
			onChange(file)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
