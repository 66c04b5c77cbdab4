package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/progress"
)

type FileStore struct {
	mu    sync.Mutex
	path  string
	log   zerolog.Logger
	clock storeClock
}

func NewFileStore(path string, log zerolog.Logger, opts ...StoreOption) *FileStore {
	return &FileStore{path: path, log: log, clock: newStoreClock(opts)}
}

// load never fails: a missing or unreadable document is an empty store.
func (s *FileStore) load() *History {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("read snapshot file failed, starting empty")
		}
		return emptyHistory()
	}
	h := emptyHistory()
	if err := json.Unmarshal(raw, h); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("malformed snapshot file, starting empty")
		return emptyHistory()
	}
	if h.Snapshots == nil {
		h.Snapshots = map[string]map[string]DayValue{}
	}
	if h.GitActivity == nil {
		h.GitActivity = map[string]issues.Activity{}
	}
	if h.Developers == nil {
		h.Developers = map[string]issues.Roster{}
	}
	return h
}

func (s *FileStore) Save(_ context.Context, res *Result) error {
	if res == nil {
		return fmt.Errorf("%w: nil result", issues.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.load()
	cutoff := progress.Cutoff(res.At)
	if res.Mode.Trend() {
		for key, daily := range res.Trend {
			for day, v := range daily {
				if day < cutoff {
					continue
				}
				if h.Snapshots[day] == nil {
					h.Snapshots[day] = map[string]DayValue{}
				}
				h.Snapshots[day][key] = DayValue{Progress: v}
			}
		}
		h.Developers = map[string]issues.Roster{}
		for k, v := range res.Roster {
			h.Developers[k] = v
		}
	}
	if res.Mode.Git() {
		h.GitActivity = map[string]issues.Activity{}
		for k, v := range res.Activity {
			h.GitActivity[k] = v
		}
	}
	at := res.At.UTC()
	h.LastRun = &at
	prune(h, cutoff)
	return s.write(h)
}

func (s *FileStore) write(h *History) error {
	raw, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) History(_ context.Context) (*History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.load()
	prune(h, progress.Cutoff(s.clock.now()))
	return h, nil
}

func prune(h *History, cutoff string) {
	for day := range h.Snapshots {
		if day < cutoff {
			delete(h.Snapshots, day)
		}
	}
}
