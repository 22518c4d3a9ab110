package registry

import (
	"context"
	"errors"

	"sjsage522/suumoworker/internal/models"
)

var (
	// ErrRunNotFound is returned by Get when no run is stored for the identity
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned by Put when the identity is already committed
	ErrRunExists = errors.New("run already exists")
)

// Registry stores committed runs keyed by their identity. Put is atomic and
// happens at most once per identity.
type Registry interface {
	// Get returns the run stored under id, or ErrRunNotFound
	Get(ctx context.Context, id models.RunID) (*models.Run, error)

	// Put commits run under run.ID, or fails with ErrRunExists
	Put(ctx context.Context, run *models.Run) error

	// Location tells a human where the run for id can be found
	Location(id models.RunID) string

	// Close releases the backend
	Close() error
}

// cloneRun copies run so callers cannot mutate stored state
func cloneRun(run *models.Run) *models.Run {
	out := *run
	out.Listings = make([]models.Listing, len(run.Listings))
	for i, l := range run.Listings {
		l.Thumbnails = append([]string(nil), l.Thumbnails...)
		if l.Thumbnails == nil {
			l.Thumbnails = []string{}
		}
		if l.SearchParams != nil {
			params := make(map[string]string, len(l.SearchParams))
			for k, v := range l.SearchParams {
				params[k] = v
			}
			l.SearchParams = params
		}
		out.Listings[i] = l
	}
	return &out
}
