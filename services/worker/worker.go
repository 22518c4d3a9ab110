package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sjsage522/suumoworker/internal/crawler"
	"sjsage522/suumoworker/internal/diff"
	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
	"sjsage522/suumoworker/services/notifier"
)

// SessionFactory opens the page fetcher used by one run
type SessionFactory func() (crawler.Session, error)

// Options configures a Worker
type Options struct {
	Catalog      crawler.CatalogConfig
	SearchParams map[string]string
	OpenSession  SessionFactory
	Engine       *diff.Engine
	Notifier     *notifier.Notifier
	Location     *time.Location
	RunTimeout   time.Duration
}

// Report summarises one run. Err is set when the run aborted; Total then
// holds the number of listings gathered before the failure. Partial marks an
// aborted run whose gathered listings were still committed.
type Report struct {
	RunID     models.RunID
	SearchURL string
	Pages     int
	Total     int
	New       int
	Location  string
	Notified  bool
	Partial   bool
	Duration  time.Duration
	Err       error
}

// Worker handles the crawl, diff and notify process
type Worker struct {
	opts Options
	mu   sync.Mutex
	log  *logger.Logger
}

// NewWorker creates a new worker
func NewWorker(opts Options) *Worker {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Worker{
		opts: opts,
		log:  logger.ForWorker(),
	}
}

// RunOnce executes one run for the slot containing now. Runs never overlap.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) *Report {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	report := &Report{RunID: models.RunIDAt(now.In(w.opts.Location))}
	log := w.log.WithField("run", report.RunID.String())

	defer func() {
		report.Duration = time.Since(start)
		var event *zerolog.Event
		if report.Err != nil {
			event = log.Error().Err(report.Err)
		} else {
			event = log.Info()
		}
		event.
			Int("pages", report.Pages).
			Int("total", report.Total).
			Int("new", report.New).
			Bool("notified", report.Notified).
			Bool("partial", report.Partial).
			Dur("elapsed", report.Duration).
			Msg("Run finished")
	}()

	if w.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.RunTimeout)
		defer cancel()
	}

	session, err := w.opts.OpenSession()
	if err != nil {
		report.Err = err
		return report
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session")
		}
	}()

	result, crawlErr := crawler.NewCrawler(w.opts.Catalog, session).Crawl(ctx, w.opts.SearchParams)
	if result != nil {
		report.SearchURL = result.SearchURL
		report.Pages = result.Pages
		report.Total = len(result.Listings)
	}
	if crawlErr != nil {
		report.Err = crawlErr
		if result == nil || len(result.Listings) == 0 {
			return report
		}
		// Commit what was gathered so the next run still has a predecessor
		report.Partial = true
		log.Warn().Int("gathered", len(result.Listings)).Msg("Crawl aborted, committing partial run")
	}

	run := &models.Run{
		ID:        report.RunID,
		SearchURL: result.SearchURL,
		Listings:  result.Listings,
		CreatedAt: now,
	}

	commitCtx := ctx
	if report.Partial {
		// ctx may be the reason the crawl stopped
		commitCtx = context.WithoutCancel(ctx)
	}

	diffResult, err := w.opts.Engine.Diff(commitCtx, run)
	if err != nil {
		if report.Partial {
			logger.LogError("worker", err, "partial run %s not committed", report.RunID)
			return report
		}
		report.Err = err
		return report
	}
	report.New = diffResult.NewCount
	report.Location = diffResult.Location

	switch {
	case w.opts.Notifier == nil:
	case report.Partial:
		log.Info().Int("new", diffResult.NewCount).Msg("Partial run, notification withheld")
	case diffResult.AlreadyCommitted:
		log.Info().Msg("Run was already committed, notification not repeated")
	default:
		notified, err := w.opts.Notifier.Notify(ctx, run, diffResult.NewCount, diffResult.Location)
		if err != nil {
			// The run is committed; a lost notification does not fail it
			logger.LogError("notifier", err, "notification for %s not delivered", report.RunID)
		}
		report.Notified = notified
	}

	return report
}

// Start runs RunOnce on the cron schedule spec until ctx is cancelled.
// Schedule times are interpreted in the worker's location.
func (w *Worker) Start(ctx context.Context, spec string) error {
	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(w.opts.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DefaultLogger)),
	)

	if _, err := c.AddFunc(spec, func() {
		w.RunOnce(ctx, time.Now())
	}); err != nil {
		return scrapeerrors.NewConfiguration("invalid SCHEDULE "+spec, err)
	}

	c.Start()
	w.log.Info().Str("schedule", spec).Str("timezone", w.opts.Location.String()).Msg("Scheduler started")

	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	w.log.Info().Msg("Scheduler stopped")
	return nil
}
