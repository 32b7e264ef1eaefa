package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore persists transfers as a JSON array in a single file. It keeps
// the full set in memory and rewrites the file on every mutation, which is
// fine at the retained-record scale (default 100).
type FileStore struct {
	mu           sync.Mutex
	path         string
	maxTransfers int
	transfers    map[string]*Transfer
	logger       *zap.Logger
}

// NewFileStore opens (or creates) the store at path. A missing or corrupt
// file starts the store empty rather than failing.
func NewFileStore(path string, maxTransfers int, logger *zap.Logger) (*FileStore, error) {
	if maxTransfers <= 0 {
		return nil, fmt.Errorf("max transfers must be positive, got %d", maxTransfers)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		path:         path,
		maxTransfers: maxTransfers,
		transfers:    make(map[string]*Transfer),
		logger:       logger,
	}
	s.load()
	return s, nil
}

func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read transfer store, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}

	var records []*Transfer
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("Failed to decode transfer store, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	for _, t := range records {
		s.transfers[t.ID] = t
	}
	s.logger.Info("Loaded transfer store",
		zap.String("path", s.path), zap.Int("transfers", len(records)))
}

// Save upserts the transfer, stamps UpdatedAt and truncates the retained set
// to the configured maximum, oldest-by-UpdatedAt first. Write failures are
// logged and swallowed.
func (s *FileStore) Save(t *Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := t.Clone()
	c.UpdatedAt = time.Now()
	s.transfers[c.ID] = c
	t.UpdatedAt = c.UpdatedAt

	s.truncateLocked()
	s.persistLocked()
	return nil
}

// truncateLocked drops the oldest records beyond the retention cap.
func (s *FileStore) truncateLocked() {
	if len(s.transfers) <= s.maxTransfers {
		return
	}
	sorted := s.sortedLocked()
	for _, t := range sorted[s.maxTransfers:] {
		delete(s.transfers, t.ID)
	}
}

// sortedLocked returns all transfers ordered by UpdatedAt, newest first.
func (s *FileStore) sortedLocked() []*Transfer {
	records := make([]*Transfer, 0, len(s.transfers))
	for _, t := range s.transfers {
		records = append(records, t)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records
}

func (s *FileStore) persistLocked() {
	data, err := json.MarshalIndent(s.sortedLocked(), "", "  ")
	if err != nil {
		s.logger.Error("Failed to encode transfer store", zap.Error(err))
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("Failed to write transfer store", zap.String("path", s.path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("Failed to replace transfer store", zap.String("path", s.path), zap.Error(err))
	}
}

func (s *FileStore) Get(id string) (*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *FileStore) ListAll() ([]*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.sortedLocked()
	out := make([]*Transfer, len(records))
	for i, t := range records {
		out[i] = t.Clone()
	}
	return out, nil
}

func (s *FileStore) ListByStatus(status TransferStatus) ([]*Transfer, error) {
	return s.filter(func(t *Transfer) bool { return t.Status == status })
}

func (s *FileStore) ListActive() ([]*Transfer, error) {
	return s.filter(func(t *Transfer) bool { return t.Active() })
}

func (s *FileStore) filter(keep func(*Transfer) bool) ([]*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Transfer
	for _, t := range s.sortedLocked() {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[id]; !ok {
		return nil
	}
	delete(s.transfers, id)
	s.persistLocked()
	return nil
}

func (s *FileStore) Prune(maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range s.transfers {
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			delete(s.transfers, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Pruned old transfers", zap.Int("removed", removed))
		s.persistLocked()
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
