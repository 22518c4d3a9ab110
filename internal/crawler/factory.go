package crawler

import (
	"sjsage522/suumoworker/config"
	"sjsage522/suumoworker/helpers"
	"sjsage522/suumoworker/logger"
	"sjsage522/suumoworker/services/cache"
)

// SuumoSelectors is the page layout of the SUUMO rental result list
var SuumoSelectors = Selectors{
	ListingList:   "div.cassetteitem",
	Name:          ".cassetteitem_content-title",
	Location:      ".cassetteitem_detail-col1",
	Access:        ".cassetteitem_detail-col2",
	Age:           ".cassetteitem_detail-col3",
	Rent:          ".cassetteitem_price--rent",
	ManagementFee: ".cassetteitem_price--administration",
	Deposit:       ".cassetteitem_price--deposit",
	KeyMoney:      ".cassetteitem_price--gratuity",
	FloorPlan:     ".cassetteitem_madori",
	FloorArea:     ".cassetteitem_menseki",
	Link:          ".js-cassette_link_href",
	Image:         ".cassetteitem_object-item img",
	Thumbnails:    ".casssetteitem_other-thumbnail",
	ThumbnailAttr: "data-imgs",
	ThumbnailSep:  ",",

	NextLabelLink: ".pagination-parts a",
	NextLabel:     "次へ",
	PageLink:      ".pagination-parts li a",
	PageParam:     "page",
}

// CatalogFromConfig builds the catalog definition from the application configuration.
// Without CATALOG_ORIGIN, links are resolved against the catalog URL's host.
func CatalogFromConfig(cfg *config.Config) CatalogConfig {
	origin := cfg.CatalogOrigin
	if origin == "" {
		origin = helpers.Origin(cfg.CatalogURL)
	}
	return CatalogConfig{
		Name:      "suumo",
		URL:       cfg.CatalogURL,
		Origin:    origin,
		MaxPages:  cfg.MaxPages,
		Selectors: SuumoSelectors,
	}
}

// OpenSession creates the page fetcher selected by FETCHER. The chrome session
// owns a browser process; callers must Close it on every exit path.
func OpenSession(cfg *config.Config, cacheSvc cache.CacheService) (Session, error) {
	switch cfg.Fetcher {
	case config.FetcherHTTP:
		logger.Info("Using standard fetch for %s", cfg.CatalogURL)
		return NewHTTPFetcher(HTTPFetcherConfig{
			Timeout:   cfg.PageTimeout,
			CacheKey:  "suumo_rate_limited",
			BlockTime: cfg.BlockTime,
		}, cacheSvc), nil
	default:
		logger.Info("Using headless chrome for %s", cfg.CatalogURL)
		return NewChromeSession(ChromeConfig{
			ExecPath:     cfg.ChromeBin,
			WaitSelector: SuumoSelectors.ListingList,
			WaitTimeout:  cfg.PageTimeout,
			SettleDelay:  cfg.SettleDelay,
		})
	}
}
