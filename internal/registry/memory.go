package registry

import (
	"context"
	"sync"

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

// MemoryRegistry keeps runs in process memory
type MemoryRegistry struct {
	mu   sync.RWMutex
	runs map[string]*models.Run
	log  *logger.Logger
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		runs: make(map[string]*models.Run),
		log:  logger.ForRegistry("memory"),
	}
}

// Get implements Registry
func (r *MemoryRegistry) Get(ctx context.Context, id models.RunID) (*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id.Key()]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// Put implements Registry
func (r *MemoryRegistry) Put(ctx context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := run.ID.Key()
	if _, ok := r.runs[key]; ok {
		return scrapeerrors.NewRegistry("memory", "run "+key+" already committed", ErrRunExists)
	}

	stored := cloneRun(run)
	stored.AssignIndexes()
	r.runs[key] = stored
	run.AssignIndexes()

	r.log.Debug().Str("run", key).Int("listings", len(run.Listings)).Msg("Run committed")
	return nil
}

// Location implements Registry
func (r *MemoryRegistry) Location(id models.RunID) string {
	return "memory:" + id.Key()
}

// Close implements Registry
func (r *MemoryRegistry) Close() error {
	return nil
}
