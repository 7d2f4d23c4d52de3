// Package rewards persists the reward-to-media mapping as a flat JSON file.
package rewards

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pscheid92/redeemcast/internal/domain"
	"github.com/pscheid92/redeemcast/internal/metrics"
)

// Store is the in-memory view of the rewards file.
//
// Readers see either the mapping before a write or after it. Writes build a
// new map, persist it with write-temp-then-rename under a cross-process file
// lock, and only then swap it in.
type Store struct {
	path     string
	lockPath string

	mu      sync.RWMutex
	mapping domain.RewardMapping
}

// Open loads the mapping at path. A missing file is an empty mapping; the
// file is created on the first write.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create rewards directory: %w", err)
	}

	s := &Store{
		path:     path,
		lockPath: path + ".lock",
		mapping:  domain.RewardMapping{},
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Lookup returns the media mapped to key (a reward title or id).
func (s *Store) Lookup(key string) (string, bool) {
	s.mu.RLock()
	media, ok := s.mapping[key]
	s.mu.RUnlock()

	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.RewardLookupsTotal.WithLabelValues(result).Inc()
	return media, ok
}

// All returns a copy of the current mapping.
func (s *Store) All() domain.RewardMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapping.Clone()
}

// Upsert maps title to media and persists the result.
func (s *Store) Upsert(title, media string) error {
	title = strings.TrimSpace(title)
	media = strings.TrimSpace(media)
	if title == "" || media == "" {
		return errors.New("title and media are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.mapping[title]; ok && current == media {
		return nil
	}

	next := s.mapping.Clone()
	next[title] = media
	return s.commit(next)
}

// Delete removes title, trimmed the same way Upsert trims it. It reports
// false if title was not mapped.
func (s *Store) Delete(title string) (bool, error) {
	title = strings.TrimSpace(title)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mapping[title]; !ok {
		return false, nil
	}

	next := s.mapping.Clone()
	delete(next, title)
	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// Reload replaces the in-memory mapping with the file's contents. On a
// parse error the current mapping is kept.
func (s *Store) Reload() error {
	// Same lock order as writers: s.mu, then the file lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	// Each acquisition opens its own descriptor so readers and writers in
	// this process exclude each other too.
	lock := flock.New(s.lockPath)
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("lock rewards file: %w", err)
	}
	data, err := os.ReadFile(s.path)
	_ = lock.Unlock()

	next := domain.RewardMapping{}
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		metrics.RewardStoreReloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("read rewards file: %w", err)
	case len(strings.TrimSpace(string(data))) > 0:
		if err := json.Unmarshal(data, &next); err != nil {
			metrics.RewardStoreReloadsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("parse rewards file %s: %w", s.path, err)
		}
	}

	s.mapping = next

	metrics.RewardMappings.Set(float64(len(next)))
	metrics.RewardStoreReloadsTotal.WithLabelValues("success").Inc()
	slog.Debug("Rewards loaded", "path", s.path, "mappings", len(next))
	return nil
}

// commit persists next and swaps it in. Caller holds s.mu.
func (s *Store) commit(next domain.RewardMapping) error {
	if err := s.persist(next); err != nil {
		return err
	}
	s.mapping = next
	metrics.RewardMappings.Set(float64(len(next)))
	return nil
}

func (s *Store) persist(mapping domain.RewardMapping) error {
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rewards: %w", err)
	}
	data = append(data, '\n')

	lock := flock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock rewards file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rewards-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp rewards file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp rewards file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp rewards file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp rewards file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace rewards file: %w", err)
	}
	return nil
}
