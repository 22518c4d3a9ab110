package internal

import (
	"sjsage522/suumoworker/internal/registry"
	"sjsage522/suumoworker/logger"
	"sjsage522/suumoworker/services/cache"
	"sjsage522/suumoworker/services/publisher"
)

// Dependencies holds all service dependencies
type Dependencies struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Registry  registry.Registry
}

// Cleanup closes every service that holds a connection
func (d *Dependencies) Cleanup() {
	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			logger.Warn("Failed to close publisher: %v", err)
		}
	}
	if d.Registry != nil {
		if err := d.Registry.Close(); err != nil {
			logger.Warn("Failed to close registry: %v", err)
		}
	}
}
