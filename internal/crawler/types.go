package crawler

import (
	"context"
	"io"

	"sjsage522/suumoworker/internal/models"
)

// Fetcher loads a catalog page and returns its markup as UTF-8
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.Reader, error)
}

// Session is a Fetcher holding resources that must be released after a run
type Session interface {
	Fetcher
	Close() error
}

// Selectors contains CSS selectors for the elements of a result page
type Selectors struct {
	ListingList   string
	Name          string
	Location      string
	Access        string
	Age           string
	Rent          string
	ManagementFee string
	Deposit       string
	KeyMoney      string
	FloorPlan     string
	FloorArea     string
	Link          string
	Image         string
	Thumbnails    string
	ThumbnailAttr string
	ThumbnailSep  string

	// Pagination
	NextLabelLink string
	NextLabel     string
	PageLink      string
	PageParam     string
}

// CatalogConfig contains configuration for a catalog crawler
type CatalogConfig struct {
	Name      string
	URL       string
	Origin    string
	MaxPages  int
	Selectors Selectors
}

// Result is the outcome of one crawl. On failure it holds whatever was
// gathered before the failing page.
type Result struct {
	Listings  []models.Listing
	SearchURL string
	Pages     int
}
