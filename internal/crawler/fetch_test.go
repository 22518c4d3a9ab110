package crawler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

func TestHTTPFetcherFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>賃貸物件</body></html>"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(HTTPFetcherConfig{Timeout: 5 * time.Second}, NewMockCacheService())
	reader, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(body), "賃貸物件")
	assert.NoError(t, f.Close())
}

func TestHTTPFetcherServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	f := NewHTTPFetcher(HTTPFetcherConfig{Timeout: 5 * time.Second}, nil)
	_, err := f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, scrapeerrors.IsType(err, scrapeerrors.ErrorTypeFetch))
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPFetcherRateLimitBlocks(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	mockCache := NewMockCacheService()
	f := NewHTTPFetcher(HTTPFetcherConfig{
		Timeout:   5 * time.Second,
		CacheKey:  "suumo_rate_limited",
		BlockTime: 500 * time.Second,
	}, mockCache)

	_, err := f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, scrapeerrors.IsType(err, scrapeerrors.ErrorTypeFetch))
	assert.True(t, scrapeerrors.IsType(err, scrapeerrors.ErrorTypeRateLimit))

	value, err := mockCache.Get("suumo_rate_limited")
	require.NoError(t, err)
	assert.Equal(t, "500", string(value))

	// Blocked: the server is not contacted again
	_, err = f.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no requests for 500 seconds")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// Unblocked once the key is gone
	require.NoError(t, mockCache.Delete("suumo_rate_limited"))
	_, _ = f.Fetch(context.Background(), server.URL)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
