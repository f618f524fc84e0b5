// Package store persists the set of gifts that have been announced.
//
// The backing format is a single JSON document {"star_gifts": [...]} with
// the array kept sorted ascending by gift id. The file is rewritten
// wholesale on every flush; flushes are debounced so a burst of updates
// produces a single durable write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/giftwatch/giftwatch/internal/models"
)

type document struct {
	StarGifts []models.GiftRecord `json:"star_gifts"`
}

// Store is the ordered, id-keyed collection of announced gifts backed by a
// JSON file. All mutation and flush calls are serialized by one mutex so
// concurrent dispatchers cannot interleave partial writes.
type Store struct {
	mu        sync.Mutex
	path      string
	debounce  time.Duration
	gifts     []models.GiftRecord
	dirty     bool
	lastFlush time.Time
}

// Load reads the store file. A missing file yields an empty store; any
// other read or decode failure is returned as-is, since silently starting
// from an empty store would re-announce every known gift.
func Load(path string, debounce time.Duration) (*Store, error) {
	s := &Store{path: path, debounce: debounce}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("gift store file not found, starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gift store %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode gift store %s: %w", path, err)
	}
	s.gifts = doc.StarGifts
	sort.Slice(s.gifts, func(i, j int) bool { return s.gifts[i].ID < s.gifts[j].ID })
	slog.Info("gift store loaded", "path", path, "gifts", len(s.gifts))
	return s, nil
}

// Upsert inserts g at its sorted position or replaces the record with the
// same id in place.
func (s *Store) Upsert(g models.GiftRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.gifts), func(i int) bool { return s.gifts[i].ID >= g.ID })
	if i < len(s.gifts) && s.gifts[i].ID == g.ID {
		s.gifts[i] = g
	} else {
		s.gifts = append(s.gifts, models.GiftRecord{})
		copy(s.gifts[i+1:], s.gifts[i:])
		s.gifts[i] = g
	}
	s.dirty = true
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id int64) (models.GiftRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.gifts), func(i int) bool { return s.gifts[i].ID >= id })
	if i < len(s.gifts) && s.gifts[i].ID == id {
		return s.gifts[i], true
	}
	return models.GiftRecord{}, false
}

// All returns a copy of the stored records in ascending id order.
func (s *Store) All() []models.GiftRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.GiftRecord, len(s.gifts))
	copy(out, s.gifts)
	return out
}

// Index returns the stored records keyed by id.
func (s *Store) Index() map[int64]models.GiftRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]models.GiftRecord, len(s.gifts))
	for _, g := range s.gifts {
		out[g.ID] = g
	}
	return out
}

// Len returns the number of stored gifts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gifts)
}

// Flush writes the store to disk unless a flush already happened within the
// debounce interval. The pending state stays dirty in that case and is
// picked up by a later Flush or by ForceFlush.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if time.Since(s.lastFlush) < s.debounce {
		return nil
	}
	return s.flushLocked()
}

// ForceFlush writes any pending state regardless of the debounce interval.
// It is called on shutdown and after upgrade notices.
func (s *Store) ForceFlush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(document{StarGifts: s.gifts}, "", "    ")
	if err != nil {
		return fmt.Errorf("encode gift store: %w", err)
	}

	// Write-then-rename keeps the previous file intact if the process dies
	// mid-write.
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write gift store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace gift store: %w", err)
	}

	s.dirty = false
	s.lastFlush = time.Now()
	slog.Debug("gift store flushed", "path", s.path, "gifts", len(s.gifts))
	return nil
}
