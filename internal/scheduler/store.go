package scheduler

import (
	"sync"

	"texforge/internal/backend"
)

// Record is the externally visible snapshot of a job. The scheduler drops
// terminal jobs from its own bookkeeping immediately, so records are what
// the API serves after a build finishes.
type Record struct {
	Job
	Result *backend.BuildResult `json:"result,omitempty"`
}

type Store interface {
	Create(rec *Record) error
	Update(rec *Record) error
	Get(id string) (*Record, bool)
}

// InMemoryStore keeps records for the lifetime of the process. Queue state is
// deliberately not persisted across restarts.
type InMemoryStore struct {
	data sync.Map
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Create(rec *Record) error {
	s.data.Store(rec.ID, rec)
	return nil
}

func (s *InMemoryStore) Update(rec *Record) error {
	s.data.Store(rec.ID, rec)
	return nil
}

func (s *InMemoryStore) Get(id string) (*Record, bool) {
	if v, ok := s.data.Load(id); ok {
		return v.(*Record), true
	}
	return nil, false
}
