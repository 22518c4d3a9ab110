package diff

import (
	"context"
	"errors"

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/internal/registry"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

// Result describes the outcome of diffing one run. AlreadyCommitted is set
// when the same listings were committed under the run's identity before.
type Result struct {
	Run              *models.Run
	Prior            models.RunID
	ColdStart        bool
	AlreadyCommitted bool
	NewCount         int
	Location         string
}

// Engine compares a run with its predecessor and commits it
type Engine struct {
	registry registry.Registry
	log      *logger.Logger
}

// NewEngine creates a diff engine on top of reg
func NewEngine(reg registry.Registry) *Engine {
	return &Engine{
		registry: reg,
		log:      logger.ForDiff(),
	}
}

// Tag marks every listing whose URL is absent from prior as new and every
// other listing as not new. A nil prior marks everything new. It returns the
// number of new listings.
func Tag(listings []models.Listing, prior *models.Run) int {
	var known map[string]struct{}
	if prior != nil {
		known = prior.URLSet()
	}

	count := 0
	for i := range listings {
		_, seen := known[listings[i].URL]
		listings[i].IsNew = !seen
		if listings[i].IsNew {
			count++
		}
	}
	return count
}

// Diff tags run against the run preceding it and commits it under run.ID. A
// missing or unreadable predecessor makes every listing new. Failing to
// commit is an error, except when the same listings are already committed
// under run.ID.
func (e *Engine) Diff(ctx context.Context, run *models.Run) (*Result, error) {
	if run.ID.IsZero() {
		return nil, scrapeerrors.NewRegistry("diff", "run has no identity", nil)
	}

	result := &Result{
		Run:      run,
		Prior:    run.ID.Previous(),
		Location: e.registry.Location(run.ID),
	}
	log := e.log.WithFields(logger.Fields{"run": run.ID.String(), "prior": result.Prior.String()})

	prior, err := e.registry.Get(ctx, result.Prior)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrRunNotFound):
		log.Info().Msg("No prior run, treating every listing as new")
		prior = nil
	default:
		log.Warn().Err(err).Msg("Prior run unreadable, treating every listing as new")
		prior = nil
	}
	result.ColdStart = prior == nil

	result.NewCount = Tag(run.Listings, prior)

	if err := e.registry.Put(ctx, run); err != nil {
		if !errors.Is(err, registry.ErrRunExists) {
			log.Error().Err(err).Int("listings", len(run.Listings)).Msg("Failed to commit run")
			if !scrapeerrors.IsType(err, scrapeerrors.ErrorTypeRegistry) {
				err = scrapeerrors.NewRegistry("diff", "failed to commit run "+run.ID.Key(), err)
			}
			return result, err
		}

		existing, getErr := e.registry.Get(ctx, run.ID)
		if getErr != nil || !existing.SameListings(run) {
			log.Error().Int("listings", len(run.Listings)).Msg("Run already committed with different listings")
			return result, scrapeerrors.NewRegistry("diff", "run "+run.ID.Key()+" already committed with different listings", err)
		}
		run.AssignIndexes()
		result.AlreadyCommitted = true
		log.Info().Msg("Run already committed, nothing to write")
	}

	log.Info().
		Int("listings", len(run.Listings)).
		Int("new", result.NewCount).
		Bool("cold_start", result.ColdStart).
		Msg("Run diffed")
	return result, nil
}
