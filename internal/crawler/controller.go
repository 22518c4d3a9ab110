package crawler

import (
	"context"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/suumoworker/helpers"
	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

// Crawler walks the paginated result list of a catalog
type Crawler struct {
	catalog   CatalogConfig
	fetcher   Fetcher
	extractor *Extractor
	log       *logger.Logger
}

// NewCrawler creates a crawler for catalog using fetcher for every page
func NewCrawler(catalog CatalogConfig, fetcher Fetcher) *Crawler {
	return &Crawler{
		catalog:   catalog,
		fetcher:   fetcher,
		extractor: NewExtractor(catalog.Selectors, catalog.Origin),
		log:       logger.ForCrawler(catalog.Name),
	}
}

// SearchURL is the catalog URL carrying params, without a page number
func (c *Crawler) SearchURL(params map[string]string) string {
	return helpers.BuildURL(c.catalog.URL, params)
}

// PageURL is the URL of result page n for params
func (c *Crawler) PageURL(params map[string]string, page int) string {
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged[c.pageParam()] = strconv.Itoa(page)
	return helpers.BuildURL(c.catalog.URL, merged)
}

// Crawl fetches pages 1, 2, ... sequentially until a page has no listings or
// no way forward. A fetch failure ends the crawl at once: the result still
// holds every listing gathered so far and the error is a fetch error.
func (c *Crawler) Crawl(ctx context.Context, params map[string]string) (*Result, error) {
	result := &Result{
		Listings:  []models.Listing{},
		SearchURL: c.SearchURL(params),
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return result, c.abort(result, page, scrapeerrors.NewFetch(c.catalog.Name, "crawl cancelled", err))
		}

		pageURL := c.PageURL(params, page)
		c.log.Debug().Int("page", page).Str("url", pageURL).Msg("Fetching page")

		body, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if !scrapeerrors.IsType(err, scrapeerrors.ErrorTypeFetch) {
				err = scrapeerrors.NewFetch(c.catalog.Name, "fetch page "+strconv.Itoa(page)+" failed", err)
			}
			return result, c.abort(result, page, err)
		}

		doc, err := createDocument(body)
		if err != nil {
			return result, c.abort(result, page, scrapeerrors.NewFetch(c.catalog.Name, "page "+strconv.Itoa(page)+" is not readable", err))
		}

		listings := c.extractor.ExtractDocument(doc, params)
		result.Pages = page
		result.Listings = append(result.Listings, listings...)

		c.log.Info().
			Int("page", page).
			Int("listings", len(listings)).
			Int("total", len(result.Listings)).
			Msg("Page extracted")

		if len(listings) == 0 {
			break
		}
		if !c.hasNextPage(doc, page) {
			break
		}
		if c.catalog.MaxPages > 0 && page >= c.catalog.MaxPages {
			c.log.Warn().Int("max_pages", c.catalog.MaxPages).Msg("Page limit reached")
			break
		}
	}

	c.log.Info().Int("pages", result.Pages).Int("total", len(result.Listings)).Msg("Crawl complete")
	return result, nil
}

// hasNextPage reports whether the page offers a way to page+1: a link
// labelled as "next", or a pagination link whose page parameter is page+1.
func (c *Crawler) hasNextPage(doc *goquery.Document, page int) bool {
	sel := c.catalog.Selectors

	if sel.NextLabelLink != "" && sel.NextLabel != "" {
		found := false
		doc.Find(sel.NextLabelLink).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			found = strings.Contains(a.Text(), sel.NextLabel)
			return !found
		})
		if found {
			return true
		}
	}

	if sel.PageLink != "" {
		want := strconv.Itoa(page + 1)
		found := false
		doc.Find(sel.PageLink).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			found = helpers.QueryParam(href, c.pageParam()) == want
			return !found
		})
		return found
	}

	return false
}

func (c *Crawler) pageParam() string {
	if c.catalog.Selectors.PageParam != "" {
		return c.catalog.Selectors.PageParam
	}
	return "page"
}

func (c *Crawler) abort(result *Result, page int, err error) error {
	c.log.Error().
		Err(err).
		Int("page", page).
		Int("gathered", len(result.Listings)).
		Msg("Crawl aborted")
	return err
}
