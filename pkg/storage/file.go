package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/HatiCode/linecast/pkg/forecast"
)

// FileStore writes each result to forecast_{line}_{hours}h_{date}.csv in a
// directory. Writes to the same key are serialized and the file is replaced
// atomically, so readers never see a partial file.
type FileStore struct {
	dir   string
	locks sync.Map // file name -> *sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("output directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the output directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file path of key.
func (s *FileStore) Path(key Key) string {
	return filepath.Join(s.dir, key.FileName())
}

func (s *FileStore) lock(name string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Put writes res to its file, replacing any earlier run of the same key.
func (s *FileStore) Put(ctx context.Context, res *forecast.Result) error {
	key := KeyFor(res)
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := key.FileName()
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if err := WriteCSV(tmp, res); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// Get reads the file of key.
func (s *FileStore) Get(ctx context.Context, key Key) (*forecast.Result, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	path := s.Path(key)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to open %s: %w", key.FileName(), err)
	}
	defer f.Close()

	res, err := ReadCSV(f)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", key.FileName(), err)
	}
	res.Line = key.Line
	res.Hours = key.Hours
	if info, err := f.Stat(); err == nil {
		res.GeneratedAt = info.ModTime()
	}
	return res, true, nil
}

// GetLatest reads the most recently dated file of line and hours.
func (s *FileStore) GetLatest(ctx context.Context, line string, hours int) (*forecast.Result, bool, error) {
	if err := ValidateLine(line); err != nil {
		return nil, false, err
	}

	prefix := fmt.Sprintf("forecast_%s_%dh_", line, hours)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read output directory: %w", err)
	}

	latest := ""
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".csv")
		if _, err := time.Parse(DateLayout, date); err != nil {
			continue
		}
		if date > latest {
			latest = date
		}
	}
	if latest == "" {
		return nil, false, nil
	}
	return s.Get(ctx, Key{Line: line, Hours: hours, Date: latest})
}
