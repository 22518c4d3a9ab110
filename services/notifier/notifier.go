package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
	"sjsage522/suumoworker/services/publisher"
)

// MessageKey is the stream field carrying the encoded notification
const MessageKey = "b64_notification"

// Notification summarises the listings that appeared since the previous run
type Notification struct {
	Subject   string           `json:"subject"`
	RunID     models.RunID     `json:"run_id"`
	NewCount  int              `json:"new_count"`
	Total     int              `json:"total"`
	Listings  []models.Listing `json:"listings"`
	Truncated bool             `json:"truncated"`
	Location  string           `json:"location"`
	SearchURL string           `json:"search_url"`
	SentAt    time.Time        `json:"sent_at"`
}

// Notifier publishes new-listing notifications
type Notifier struct {
	publisher   publisher.Publisher
	maxListings int
	now         func() time.Time
	log         *logger.Logger
}

// New creates a notifier that includes at most maxListings listings per
// notification. pub may be nil, in which case notifications are only logged.
func New(pub publisher.Publisher, maxListings int) *Notifier {
	if maxListings < 1 {
		maxListings = 5
	}
	return &Notifier{
		publisher:   pub,
		maxListings: maxListings,
		now:         time.Now,
		log:         logger.ForPublisher().WithField("stage", "notify"),
	}
}

// Build assembles the notification for a committed run
func (n *Notifier) Build(run *models.Run, newCount int, location string) *Notification {
	fresh := run.NewListings()
	shown := fresh
	if len(shown) > n.maxListings {
		shown = shown[:n.maxListings]
	}

	sentAt := n.now()
	return &Notification{
		Subject:   fmt.Sprintf("SUUMO新着物件通知 (%s)", sentAt.Format("2006/01/02 15:04")),
		RunID:     run.ID,
		NewCount:  newCount,
		Total:     len(run.Listings),
		Listings:  shown,
		Truncated: newCount > len(shown),
		Location:  location,
		SearchURL: run.SearchURL,
		SentAt:    sentAt,
	}
}

// Notify publishes a notification when newCount is positive. It reports
// whether a notification was sent.
func (n *Notifier) Notify(ctx context.Context, run *models.Run, newCount int, location string) (bool, error) {
	if newCount == 0 {
		n.log.Info().Str("run", run.ID.String()).Msg("No new listings, notification suppressed")
		return false, nil
	}

	notification := n.Build(run, newCount, location)

	if n.publisher == nil {
		n.log.Info().
			Str("run", run.ID.String()).
			Int("new", newCount).
			Str("location", location).
			Msg(notification.Subject)
		return true, nil
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return false, scrapeerrors.NewPublisher("notifier", "failed to encode notification", err)
	}

	if err := n.publisher.Publish(ctx, MessageKey, payload); err != nil {
		return false, err
	}

	n.log.Info().
		Str("run", run.ID.String()).
		Int("new", newCount).
		Int("shown", len(notification.Listings)).
		Msg("Notification published")
	return true, nil
}
