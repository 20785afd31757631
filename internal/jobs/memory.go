package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// MemoryStore keeps jobs in process memory. Records are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Put(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := CheckTransition(s.jobs[job.ID], job); err != nil {
		return err
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Job, error) {
	s.mu.RLock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.matches(j) {
			out = append(out, j.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if n := filter.MaxResults(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func sortNewestFirst(js []*models.Job) {
	sort.Slice(js, func(a, b int) bool {
		if js[a].CreatedAt.Equal(js[b].CreatedAt) {
			return js[a].ID.String() > js[b].ID.String()
		}
		return js[a].CreatedAt.After(js[b].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
