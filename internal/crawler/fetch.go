package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"sjsage522/suumoworker/helpers"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
	"sjsage522/suumoworker/services/cache"
)

// HTTPFetcherConfig configures the plain HTTP page fetcher
type HTTPFetcherConfig struct {
	Timeout   time.Duration
	CacheKey  string
	BlockTime time.Duration
}

// HTTPFetcher fetches pages without a browser. A rate-limit answer from the
// catalog blocks further requests for BlockTime through the cache.
type HTTPFetcher struct {
	client    *http.Client
	CacheKey  string
	CacheSvc  cache.CacheService
	BlockTime time.Duration
	log       *logger.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher. cacheSvc may be nil.
func NewHTTPFetcher(cfg HTTPFetcherConfig, cacheSvc cache.CacheService) *HTTPFetcher {
	return &HTTPFetcher{
		client:    helpers.NewClient(cfg.Timeout),
		CacheKey:  cfg.CacheKey,
		CacheSvc:  cacheSvc,
		BlockTime: cfg.BlockTime,
		log:       logger.ForCrawler("http"),
	}
}

// Fetch fetches a URL, honouring and maintaining the rate limit block
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.Reader, error) {
	if f.blocked() {
		return nil, scrapeerrors.NewFetch("http", fmt.Sprintf("%s: no requests for %d seconds", f.CacheKey, int(f.BlockTime/time.Second)), nil)
	}

	body, err := helpers.FetchWithRandomHeaders(ctx, f.client, url)
	if err != nil {
		if scrapeerrors.IsType(err, scrapeerrors.ErrorTypeRateLimit) {
			f.block()
		}
		return nil, scrapeerrors.NewFetch("http", fmt.Sprintf("fetch %s failed", url), err)
	}
	return body, nil
}

// Close implements Session
func (f *HTTPFetcher) Close() error {
	return nil
}

func (f *HTTPFetcher) blocked() bool {
	if f.CacheSvc == nil || f.CacheKey == "" {
		return false
	}
	_, err := f.CacheSvc.Get(f.CacheKey)
	return err == nil
}

func (f *HTTPFetcher) block() {
	if f.CacheSvc == nil || f.CacheKey == "" || f.BlockTime <= 0 {
		return
	}
	value := []byte(fmt.Sprintf("%d", int(f.BlockTime/time.Second)))
	if err := f.CacheSvc.Set(f.CacheKey, value, f.BlockTime); err != nil {
		f.log.Warn().Err(err).Str("key", f.CacheKey).Msg("Failed to store rate limit block")
		return
	}
	f.log.Warn().Str("key", f.CacheKey).Dur("block", f.BlockTime).Msg("Rate limited, blocking further requests")
}
