package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sjsage522/suumoworker/config"
	"sjsage522/suumoworker/internal/crawler"
	"sjsage522/suumoworker/internal/diff"
	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/internal/registry"
	"sjsage522/suumoworker/services/cache"
	"sjsage522/suumoworker/services/notifier"
	"sjsage522/suumoworker/services/publisher"
	"sjsage522/suumoworker/services/worker"
)

// catalogServer serves a paginated result list whose content can be swapped
type catalogServer struct {
	mu    sync.Mutex
	pages [][]string
	*httptest.Server
}

func newCatalogServer(pages ...[]string) *catalogServer {
	c := &catalogServer{pages: pages}
	c.Server = httptest.NewServer(http.HandlerFunc(c.handle))
	return c
}

func (c *catalogServer) setPages(pages ...[]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = pages
}

func (c *catalogServer) handle(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	fmt.Sscanf(r.URL.Query().Get("page"), "%d", &n)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, "<html><body>")
	if n >= 1 && n <= len(c.pages) {
		for _, id := range c.pages[n-1] {
			fmt.Fprintf(w, `<div class="cassetteitem">
				<div class="cassetteitem_content-title">物件%s</div>
				<li class="cassetteitem_detail-col1">東京都渋谷区</li>
				<span class="cassetteitem_price--rent">9.8万円</span>
				<span class="cassetteitem_madori">1K</span>
				<a class="js-cassette_link_href" href="/chintai/%s/?bc=%d">詳細</a>
			</div>`, id, id, n)
		}
		if n < len(c.pages) {
			fmt.Fprintf(w, `<div class="pagination-parts"><ol><li><a href="/jj/chintai/ichiran/FR301FC001/?page=%d">%d</a></li></ol></div>`, n+1, n+1)
		}
	}
	io.WriteString(w, "</body></html>")
}

func newTestWorker(t *testing.T, server *catalogServer, reg registry.Registry, pub publisher.Publisher) *worker.Worker {
	t.Helper()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	cfg := &config.Config{
		CatalogURL:    server.URL + "/jj/chintai/ichiran/FR301FC001/",
		CatalogOrigin: server.URL,
		Fetcher:       config.FetcherHTTP,
		PageTimeout:   5 * time.Second,
		BlockTime:     500 * time.Second,
	}
	cacheSvc := cache.NewMemoryCache()

	return worker.NewWorker(worker.Options{
		Catalog:      crawler.CatalogFromConfig(cfg),
		SearchParams: map[string]string{"ar": "030", "bs": "040", "ta": "13", "sc": ""},
		OpenSession: func() (crawler.Session, error) {
			return crawler.OpenSession(cfg, cacheSvc)
		},
		Engine:   diff.NewEngine(reg),
		Notifier: notifier.New(pub, 5),
		Location: tokyo,
	})
}

func readNotifications(t *testing.T, client *redis.Client, stream string) []notifier.Notification {
	t.Helper()

	entries, err := client.XRange(context.Background(), stream, "-", "+").Result()
	require.NoError(t, err)

	var out []notifier.Notification
	for _, e := range entries {
		decoded, err := base64.StdEncoding.DecodeString(e.Values[notifier.MessageKey].(string))
		require.NoError(t, err)

		var n notifier.Notification
		require.NoError(t, json.Unmarshal(decoded, &n))
		out = append(out, n)
	}
	return out
}

// TestIntegration tests the entire application flow against redis
func TestIntegration(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	registryClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := registry.NewRedisRegistry(registryClient, "suumo:runs")
	defer reg.Close()

	streamClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pub := publisher.NewRedisPublisher(streamClient, "suumo:notifications", 100)
	defer pub.Close()

	server := newCatalogServer([]string{"a", "b"}, []string{"c"})
	defer server.Close()

	w := newTestWorker(t, server, reg, pub)

	// 2024-05-10 06:00 JST: cold start, everything is new
	morning := time.Date(2024, time.May, 10, 6, 0, 0, 0, time.FixedZone("JST", 9*60*60))
	report := w.RunOnce(ctx, morning)
	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.New)
	assert.Equal(t, server.URL+"/jj/chintai/ichiran/FR301FC001/?ar=030&bs=040&ta=13", report.SearchURL)

	// 18:00 JST: a and b gone, d and e added
	server.setPages([]string{"c", "d"}, []string{"e"})
	report = w.RunOnce(ctx, morning.Add(12*time.Hour))
	require.NoError(t, report.Err)
	assert.Equal(t, models.SlotPM, report.RunID.Slot)
	assert.Equal(t, 2, report.New)

	// Next morning: nothing changed, no notification
	report = w.RunOnce(ctx, morning.Add(24*time.Hour))
	require.NoError(t, report.Err)
	assert.Equal(t, 0, report.New)
	assert.False(t, report.Notified)

	notifications := readNotifications(t, streamClient, "suumo:notifications")
	require.Len(t, notifications, 2)

	second := notifications[1]
	assert.Equal(t, 2, second.NewCount)
	assert.Equal(t, 3, second.Total)
	require.Len(t, second.Listings, 2)
	assert.Equal(t, server.URL+"/chintai/d/", second.Listings[0].URL)
	assert.Equal(t, server.URL+"/chintai/e/", second.Listings[1].URL)
	assert.Equal(t, "物件d", second.Listings[0].Name)
	assert.Equal(t, models.Unavailable, second.Listings[0].Access)
	assert.Contains(t, second.Location, "suumo:runs:2024-05-10-PM")

	stored, err := reg.Get(ctx, models.NewRunID(2024, time.May, 10, models.SlotPM))
	require.NoError(t, err)
	require.Len(t, stored.Listings, 3)
	assert.False(t, stored.Listings[0].IsNew)
	assert.True(t, stored.Listings[1].IsNew)
	assert.Equal(t, "030", stored.Listings[0].SearchParams["ar"])
}

// TestIntegrationWorkbook checks the spreadsheet layout written by a run
func TestIntegrationWorkbook(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.xlsx")
	reg := registry.NewExcelRegistry(path)

	server := newCatalogServer([]string{"a", "b"})
	defer server.Close()

	w := newTestWorker(t, server, reg, nil)

	morning := time.Date(2024, time.May, 10, 6, 0, 0, 0, time.FixedZone("JST", 9*60*60))
	require.NoError(t, w.RunOnce(ctx, morning).Err)

	server.setPages([]string{"a", "c"})
	report := w.RunOnce(ctx, morning.Add(12*time.Hour))
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.New)
	assert.True(t, report.Notified)
	assert.Equal(t, path+"#2024-05-10-PM", report.Location)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"2024-05-10-AM", "2024-05-10-PM"}, f.GetSheetList())

	rows, err := f.GetRows("2024-05-10-PM")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 5)
	assert.True(t, strings.HasPrefix(rows[0][0], "スクレイピングURL: "+server.URL))
	assert.Equal(t, models.Columns, rows[2])
	assert.Equal(t, "物件a", rows[3][0])
	assert.Equal(t, "物件c", rows[4][0])

	plain, err := f.GetCellStyle("2024-05-10-PM", "A4")
	require.NoError(t, err)
	highlighted, err := f.GetCellStyle("2024-05-10-PM", "A5")
	require.NoError(t, err)
	assert.Zero(t, plain)
	assert.NotZero(t, highlighted)
}
