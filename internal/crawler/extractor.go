package crawler

import (
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/suumoworker/helpers"
	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
)

// Extractor turns a result page into listing records
type Extractor struct {
	Selectors Selectors
	Origin    string
	log       *logger.Logger
}

// NewExtractor creates an extractor for the given page layout. Root-relative
// links are resolved against origin.
func NewExtractor(selectors Selectors, origin string) *Extractor {
	return &Extractor{
		Selectors: selectors,
		Origin:    origin,
		log:       logger.ForCrawler("extractor"),
	}
}

// Extract parses markup and returns its listings in page order. A page with no
// listing fragments yields an empty slice.
func (e *Extractor) Extract(r io.Reader, params map[string]string) ([]models.Listing, error) {
	doc, err := createDocument(r)
	if err != nil {
		return nil, err
	}
	return e.ExtractDocument(doc, params), nil
}

// ExtractDocument is Extract for an already parsed page
func (e *Extractor) ExtractDocument(doc *goquery.Document, params map[string]string) []models.Listing {
	fragments := doc.Find(e.Selectors.ListingList)
	return processListings(fragments, func(s *goquery.Selection) (*models.Listing, error) {
		return e.processListing(s, params)
	}, e.log)
}

// text returns the trimmed text of the first match, or the sentinel
func (e *Extractor) text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return models.Unavailable
	}
	value := strings.TrimSpace(s.Find(selector).First().Text())
	if value == "" {
		return models.Unavailable
	}
	return value
}

// attr returns the trimmed attribute of the first match, or ""
func (e *Extractor) attr(s *goquery.Selection, selector, name string) string {
	if selector == "" {
		return ""
	}
	value, _ := s.Find(selector).First().Attr(name)
	return strings.TrimSpace(value)
}

// processListing extracts a single listing. Every field is read on its own;
// a missing one becomes models.Unavailable. Only a link that cannot be
// resolved fails the fragment.
func (e *Extractor) processListing(s *goquery.Selection, params map[string]string) (*models.Listing, error) {
	sel := e.Selectors

	listing := &models.Listing{
		Name:          e.text(s, sel.Name),
		Location:      e.text(s, sel.Location),
		Access:        e.text(s, sel.Access),
		Age:           e.text(s, sel.Age),
		Rent:          e.text(s, sel.Rent),
		ManagementFee: e.text(s, sel.ManagementFee),
		Deposit:       e.text(s, sel.Deposit),
		KeyMoney:      e.text(s, sel.KeyMoney),
		FloorPlan:     e.text(s, sel.FloorPlan),
		FloorArea:     e.text(s, sel.FloorArea),
		URL:           models.Unavailable,
		ImageURL:      models.Unavailable,
		Thumbnails:    []string{},
		SearchParams:  copyParams(params),
	}

	if href := e.attr(s, sel.Link, "href"); href != "" {
		if _, err := url.Parse(href); err != nil {
			return nil, fragmentError("detail link", err)
		}
		listing.URL = helpers.CanonicalURL(href, e.Origin)
	}

	if src := e.attr(s, sel.Image, "src"); src != "" {
		listing.ImageURL = src
	}

	if imgs := e.attr(s, sel.Thumbnails, sel.ThumbnailAttr); imgs != "" {
		listing.Thumbnails = helpers.SplitList(imgs, sel.ThumbnailSep)
	}

	return listing, nil
}

func copyParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
