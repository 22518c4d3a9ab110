package crawler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"sjsage522/suumoworker/services/cache"
)

// MockCacheService implements a simple in-memory cache for testing
type MockCacheService struct {
	mu    sync.Mutex
	cache map[string][]byte
}

var _ cache.CacheService = (*MockCacheService)(nil)

func NewMockCacheService() *MockCacheService {
	return &MockCacheService{
		cache: make(map[string][]byte),
	}
}

func (m *MockCacheService) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.cache[key]; ok {
		return val, nil
	}
	return nil, &mockError{message: "cache miss"}
}

func (m *MockCacheService) Set(key string, value []byte, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = value
	return nil
}

func (m *MockCacheService) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

type mockError struct {
	message string
}

func (e *mockError) Error() string {
	return e.message
}

// MockFetcher serves pages by page number and records requested URLs
type MockFetcher struct {
	Pages  map[string]string
	Errors map[string]error
	URLs   []string
}

var _ Fetcher = (*MockFetcher)(nil)

func (m *MockFetcher) Fetch(ctx context.Context, url string) (io.Reader, error) {
	m.URLs = append(m.URLs, url)
	page := pageOf(url)
	if err, ok := m.Errors[page]; ok {
		return nil, err
	}
	if body, ok := m.Pages[page]; ok {
		return strings.NewReader(body), nil
	}
	return strings.NewReader("<html><body></body></html>"), nil
}

func pageOf(url string) string {
	i := strings.Index(url, "page=")
	if i < 0 {
		return ""
	}
	rest := url[i+len("page="):]
	if j := strings.IndexByte(rest, '&'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// listingFragment renders one result-list entry the way the catalog does
func listingFragment(name, href string) string {
	return fmt.Sprintf(`
<div class="cassetteitem">
  <div class="cassetteitem_content-title">%s</div>
  <ul>
    <li class="cassetteitem_detail-col1">東京都港区六本木1</li>
    <li class="cassetteitem_detail-col2"><div>東京メトロ南北線/六本木一丁目駅 歩4分</div></li>
    <li class="cassetteitem_detail-col3"><div>築5年</div><div>10階建</div></li>
  </ul>
  <div class="cassetteitem_object-item"><img src="https://img01.suumo.com/front/gazo/%s.jpg"></div>
  <div class="casssetteitem_other-thumbnail" data-imgs="https://img01.suumo.com/a.jpg,https://img01.suumo.com/b.jpg"></div>
  <table><tbody><tr>
    <td><span class="cassetteitem_price cassetteitem_price--rent"><span>12.5万円</span></span></td>
    <td><span class="cassetteitem_price cassetteitem_price--administration">10000円</span></td>
    <td><span class="cassetteitem_price cassetteitem_price--deposit">12.5万円</span></td>
    <td><span class="cassetteitem_price cassetteitem_price--gratuity">-</span></td>
    <td><span class="cassetteitem_madori">1LDK</span></td>
    <td><span class="cassetteitem_menseki">40.5m<sup>2</sup></span></td>
    <td><a class="js-cassette_link_href" href="%s">詳細を見る</a></td>
  </tr></tbody></table>
</div>`, name, name, href)
}

// resultPage wraps fragments in a page with an optional pagination block
func resultPage(pagination string, fragments ...string) string {
	return `<html><body><div id="js-bukkenList">` + strings.Join(fragments, "\n") +
		`</div>` + pagination + `</body></html>`
}

func nextLabelPagination() string {
	return `<div class="pagination-parts"><a href="/jj/chintai/ichiran/FR301FC001/?page=9">次へ</a></div>`
}

func numberedPagination(pages ...int) string {
	var b strings.Builder
	b.WriteString(`<div class="pagination-parts"><ol>`)
	for _, p := range pages {
		fmt.Fprintf(&b, `<li><a href="/jj/chintai/ichiran/FR301FC001/?ar=030&amp;page=%d">%d</a></li>`, p, p)
	}
	b.WriteString(`</ol></div>`)
	return b.String()
}
