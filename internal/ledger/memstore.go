package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps projects in process. Each project has its own mutex
// held across load, mutate and commit.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*memEntry
}

type memEntry struct {
	clientID string

	mu sync.Mutex
	p  Project
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*memEntry)}
}

func (s *MemoryStore) Create(ctx context.Context, p Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	s.projects[p.ID] = &memEntry{clientID: p.ClientID, p: p.Clone()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, projectID, clientID string) (Project, error) {
	e, err := s.entry(ctx, projectID, clientID)
	if err != nil {
		return Project{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, projectID, clientID string, fn MutateFunc) (Project, error) {
	e, err := s.entry(ctx, projectID, clientID)
	if err != nil {
		return Project{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Project{}, err
	}
	next, err := fn(e.p.Clone())
	if err != nil {
		return Project{}, err
	}
	next.Version = e.p.Version + 1
	e.p = next.Clone()
	return next, nil
}

func (s *MemoryStore) entry(ctx context.Context, projectID, clientID string) (*memEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.projects[normalize(projectID)]
	s.mu.RUnlock()
	if !ok || e.clientID != normalize(clientID) {
		return nil, ProjectNotFound()
	}
	return e, nil
}
