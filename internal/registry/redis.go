package registry

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

// RedisRegistry stores each run as one JSON value. SETNX makes a commit
// atomic and refuses a second commit for the same identity.
type RedisRegistry struct {
	client    *redis.Client
	keyPrefix string
	log       *logger.Logger
}

// NewRedisRegistry creates a registry on client using keys under keyPrefix
func NewRedisRegistry(client *redis.Client, keyPrefix string) *RedisRegistry {
	return &RedisRegistry{
		client:    client,
		keyPrefix: keyPrefix,
		log:       logger.ForRegistry("redis"),
	}
}

func (r *RedisRegistry) key(id models.RunID) string {
	return r.keyPrefix + ":" + id.Key()
}

// Get implements Registry
func (r *RedisRegistry) Get(ctx context.Context, id models.RunID) (*models.Run, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, scrapeerrors.NewRegistry("redis", "failed to read run "+id.Key(), err)
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, scrapeerrors.NewRegistry("redis", "stored run "+id.Key()+" is corrupt", err)
	}
	return &run, nil
}

// Put implements Registry
func (r *RedisRegistry) Put(ctx context.Context, run *models.Run) error {
	stored := cloneRun(run)
	stored.AssignIndexes()

	data, err := json.Marshal(stored)
	if err != nil {
		return scrapeerrors.NewRegistry("redis", "failed to encode run "+run.ID.Key(), err)
	}

	ok, err := r.client.SetNX(ctx, r.key(run.ID), data, 0).Result()
	if err != nil {
		return scrapeerrors.NewRegistry("redis", "failed to write run "+run.ID.Key(), err)
	}
	if !ok {
		return scrapeerrors.NewRegistry("redis", "run "+run.ID.Key()+" already committed", ErrRunExists)
	}

	run.AssignIndexes()
	r.log.Debug().Str("key", r.key(run.ID)).Int("listings", len(run.Listings)).Msg("Run committed")
	return nil
}

// Location implements Registry
func (r *RedisRegistry) Location(id models.RunID) string {
	return "redis://" + r.client.Options().Addr + "/" + r.key(id)
}

// Close implements Registry
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
