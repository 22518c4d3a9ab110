package crawler

import (
	"fmt"
	"io"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

// createDocument creates a goquery document from a reader
func createDocument(reader io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, scrapeerrors.NewParsing("document", "HTML parsing failed", err)
	}
	return doc, nil
}

// processListings processes fragments in parallel using goroutines. Each
// goroutine writes to its own slot so the output keeps document order.
// Fragments whose processor fails are logged and skipped.
func processListings(selections *goquery.Selection, processor func(*goquery.Selection) (*models.Listing, error), log *logger.Logger) []models.Listing {
	slots := make([]*models.Listing, selections.Length())
	var wg sync.WaitGroup

	selections.Each(func(i int, s *goquery.Selection) {
		wg.Add(1)
		go func(i int, s *goquery.Selection) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Warn().Int("fragment", i).Interface("panic", r).Msg("Skipping malformed listing")
				}
			}()

			listing, err := processor(s)
			if err != nil {
				log.Warn().Int("fragment", i).Err(err).Msg("Skipping malformed listing")
				return
			}
			slots[i] = listing
		}(i, s)
	})

	wg.Wait()

	listings := make([]models.Listing, 0, len(slots))
	for _, l := range slots {
		if l != nil {
			listings = append(listings, *l)
		}
	}
	return listings
}

func fragmentError(field string, err error) error {
	return scrapeerrors.NewParsing("extractor", fmt.Sprintf("malformed %s", field), err)
}
