package memory

import (
	"context"
	"errors"
	"sync"

	checks "fixedrate-billing/internal/checks/domain"
)

// Store keeps jobs in process memory.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*checks.Job
	order []string
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*checks.Job)}
}

// Create inserts a job.
func (s *Store) Create(_ context.Context, job *checks.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("memory job store: job id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errors.New("memory job store: duplicate job id")
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	return nil
}

// Update replaces a stored job.
func (s *Store) Update(_ context.Context, job *checks.Job) error {
	if job == nil {
		return errors.New("memory job store: nil job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return checks.ErrJobNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job.
func (s *Store) Get(_ context.Context, id string) (*checks.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, checks.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns up to limit jobs, newest first. A limit <= 0 returns all.
func (s *Store) List(_ context.Context, limit int) ([]*checks.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*checks.Job
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, s.jobs[s.order[i]].Clone())
	}
	return result, nil
}
