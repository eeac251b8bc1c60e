package datasets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
)

// WatchConfig holds configuration for watching a directory for CSV files
type WatchConfig struct {
	Dir            string
	IncludePattern string // matched against the base name, e.g. "*.csv"
	IgnoreDirs     []string
	DebounceTime   int // milliseconds
	NameFn         func(path string) string
}

// NewWatchConfig creates a new WatchConfig with default values
func NewWatchConfig(dir string) *WatchConfig {
	return &WatchConfig{
		Dir:            dir,
		IncludePattern: "*.csv",
		IgnoreDirs:     []string{".git"},
		DebounceTime:   500,
	}
}

// Validate validates the WatchConfig and returns an error if invalid
func (c *WatchConfig) Validate() error {
	if c.Dir == "" {
		return errors.New("watch directory is required")
	}
	if c.DebounceTime < 0 {
		return errors.Errorf("debounce time cannot be negative: %d", c.DebounceTime)
	}
	if _, err := filepath.Match(c.IncludePattern, "x"); err != nil {
		return errors.Wrapf(err, "invalid include pattern %q", c.IncludePattern)
	}
	return nil
}

// FileEvent represents a file system event with additional metadata
type FileEvent struct {
	Path string
	Op   fsnotify.Op
	Time time.Time
}

// Watch ingests every matching file created or written under cfg.Dir until
// ctx is cancelled. Each ingestion outcome is reported to onResult.
func (s *Store) Watch(ctx context.Context, cfg *WatchConfig, onResult func(path string, res *IngestResult, err error)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	nameFn := cfg.NameFn
	if nameFn == nil {
		nameFn = NameFromPath
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	err = filepath.WalkDir(cfg.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != cfg.Dir && cfg.ignored(path) {
			return filepath.SkipDir
		}
		logger.G(ctx).WithField("directory", path).Debug("adding directory to watcher")
		return watcher.Add(path)
	})
	if err != nil {
		return errors.Wrap(err, "failed to watch directories")
	}

	events := make(chan FileEvent)
	debounced := make(chan FileEvent)
	go debounceFileEvents(ctx, events, debounced, time.Duration(cfg.DebounceTime)*time.Millisecond)

	logger.G(ctx).WithField("dir", cfg.Dir).Info("watching for new datasets")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || cfg.ignored(event.Name) {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Op&fsnotify.Create != 0 {
					if err := watcher.Add(event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("directory", event.Name).Warn("failed to watch new directory")
					}
				}
				continue
			}
			if matched, _ := filepath.Match(cfg.IncludePattern, filepath.Base(event.Name)); !matched {
				continue
			}
			select {
			case events <- FileEvent{Path: event.Name, Op: event.Op, Time: time.Now()}:
			case <-ctx.Done():
				return nil
			}
		case event := <-debounced:
			raw, err := os.ReadFile(event.Path)
			if err != nil {
				onResult(event.Path, nil, errors.Wrapf(err, "failed to read %s", event.Path))
				continue
			}
			res, err := s.Ingest(ctx, nameFn(event.Path), raw)
			if res != nil {
				res.Source = event.Path
			}
			onResult(event.Path, res, err)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Error("error watching files")
		}
	}
}

func (c *WatchConfig) ignored(path string) bool {
	for _, dir := range c.IgnoreDirs {
		if filepath.Base(path) == dir || strings.Contains(path, string(os.PathSeparator)+dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// debounceFileEvents forwards the last event per path once no further event
// for that path arrived within delay.
func debounceFileEvents(ctx context.Context, input <-chan FileEvent, output chan<- FileEvent, delay time.Duration) {
	var mu sync.Mutex
	pending := make(map[string]*time.Timer)

	stopAll := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, timer := range pending {
			timer.Stop()
		}
	}

	for {
		select {
		case event, ok := <-input:
			if !ok {
				stopAll()
				return
			}
			mu.Lock()
			if timer, exists := pending[event.Path]; exists {
				timer.Stop()
			}
			var timer *time.Timer
			timer = time.AfterFunc(delay, func() {
				mu.Lock()
				if pending[event.Path] == timer {
					delete(pending, event.Path)
				}
				mu.Unlock()
				select {
				case output <- event:
				case <-ctx.Done():
				}
			})
			pending[event.Path] = timer
			mu.Unlock()
		case <-ctx.Done():
			stopAll()
			return
		}
	}
}
