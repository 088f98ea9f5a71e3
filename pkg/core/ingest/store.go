package ingest

import (
	"sync"
	"time"
)

// Dataset is a series together with where it came from.
type Dataset struct {
	Series    *Series   `json:"series"`
	Source    string    `json:"source"` // file name or "synthetic"
	Path      string    `json:"path,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store holds the most recently uploaded or generated dataset of a server
// process. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current *Dataset
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// Set replaces the current dataset.
func (s *Store) Set(series *Series, source, path string) Dataset {
	d := Dataset{Series: series, Source: source, Path: path, UpdatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.current = &d
	s.mu.Unlock()
	return d
}

// Current returns the dataset, if any.
func (s *Store) Current() (Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Dataset{}, false
	}
	return *s.current, true
}

// Clear forgets the current dataset.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
