// Package store implements analysis.Store in memory and on PostgreSQL.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jobmate/analysis-service/internal/analysis"
)

// Memory is an in-process analysis.Store. A single mutex guards every
// read-modify-write, which makes claims exclusive within one process.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*analysis.Job
	order  []string          // job ids in creation order
	active map[string]string // application id → non-terminal job id
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[string]*analysis.Job),
		active: make(map[string]string),
	}
}

var _ analysis.Store = (*Memory)(nil)

// Create implements analysis.Store.
func (m *Memory) Create(_ context.Context, j *analysis.Job) (*analysis.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.active[j.ApplicationID]; ok {
		return m.jobs[id].Clone(), false, nil
	}
	if _, dup := m.jobs[j.ID]; dup {
		return nil, false, fmt.Errorf("job %s already exists", j.ID)
	}

	m.jobs[j.ID] = j.Clone()
	m.order = append(m.order, j.ID)
	if !j.State.IsTerminal() {
		m.active[j.ApplicationID] = j.ID
	}
	return j.Clone(), true, nil
}

// Get implements analysis.Store.
func (m *Memory) Get(_ context.Context, id string) (*analysis.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", analysis.ErrNotFound, id)
	}
	return j.Clone(), nil
}

// ClaimNext implements analysis.Store.
func (m *Memory) ClaimNext(_ context.Context, claim func(*analysis.Job) error) (*analysis.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if m.jobs[id].State != analysis.StateQueued {
			continue
		}
		return m.apply(id, claim)
	}
	return nil, analysis.ErrNoJob
}

// Update implements analysis.Store.
func (m *Memory) Update(_ context.Context, id string, mutate func(*analysis.Job) error) (*analysis.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", analysis.ErrNotFound, id)
	}
	return m.apply(id, mutate)
}

// apply runs mutate on a copy and swaps it in on success. m.mu must be held.
func (m *Memory) apply(id string, mutate func(*analysis.Job) error) (*analysis.Job, error) {
	next := m.jobs[id].Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	m.jobs[id] = next
	if next.State.IsTerminal() && m.active[next.ApplicationID] == id {
		delete(m.active, next.ApplicationID)
	}
	return next.Clone(), nil
}

// LatestCompleted implements analysis.Store.
func (m *Memory) LatestCompleted(_ context.Context, applicationID string) (*analysis.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *analysis.Job
	for _, id := range m.order {
		j := m.jobs[id]
		if j.ApplicationID != applicationID || j.State != analysis.StateCompleted {
			continue
		}
		if latest == nil || !j.UpdatedAt.Before(latest.UpdatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", analysis.ErrNotAnalyzed, applicationID)
	}
	return latest.Clone(), nil
}

// ListStale implements analysis.Store.
func (m *Memory) ListStale(_ context.Context, claimedBefore time.Time) ([]*analysis.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*analysis.Job
	for _, id := range m.order {
		j := m.jobs[id]
		if j.State == analysis.StateRunning && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			stale = append(stale, j.Clone())
		}
	}
	return stale, nil
}
