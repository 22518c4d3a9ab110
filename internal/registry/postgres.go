package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/logger"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 5

	// DefaultConnMaxLifetime is the default maximum lifetime of a connection
	DefaultConnMaxLifetime = 5 * time.Minute

	// DefaultPingTimeout is the default timeout for pinging the database
	DefaultPingTimeout = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         BIGSERIAL PRIMARY KEY,
	run_date   DATE        NOT NULL,
	slot       TEXT        NOT NULL,
	search_url TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (run_date, slot)
);

CREATE TABLE IF NOT EXISTS run_listings (
	run_id   BIGINT  NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	url      TEXT    NOT NULL,
	is_new   BOOLEAN NOT NULL,
	data     JSONB   NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_run_listings_url ON run_listings (url);
`

type runRow struct {
	ID        int64     `db:"id"`
	SearchURL string    `db:"search_url"`
	CreatedAt time.Time `db:"created_at"`
}

type listingRow struct {
	Position int    `db:"position"`
	IsNew    bool   `db:"is_new"`
	Data     []byte `db:"data"`
}

// PostgresRegistry stores runs in two tables. A commit is one transaction and
// the (run_date, slot) constraint enforces put-once.
type PostgresRegistry struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresRegistry wraps an open database handle
func NewPostgresRegistry(db *sqlx.DB) *PostgresRegistry {
	return &PostgresRegistry{
		db:  db,
		log: logger.ForRegistry("postgres"),
	}
}

// ConnectPostgres opens and verifies a connection for dsn
func ConnectPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, scrapeerrors.NewRegistry("postgres", "failed to connect to database", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		db.Close()
		return nil, scrapeerrors.NewRegistry("postgres", "failed to ping database", pingErr)
	}
	return db, nil
}

// Migrate creates the tables when they do not exist
func (r *PostgresRegistry) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return scrapeerrors.NewRegistry("postgres", "failed to create schema", err)
	}
	return nil
}

// Get implements Registry
func (r *PostgresRegistry) Get(ctx context.Context, id models.RunID) (*models.Run, error) {
	var row runRow
	query := `SELECT id, search_url, created_at FROM runs WHERE run_date = $1 AND slot = $2`
	if err := r.db.GetContext(ctx, &row, query, id.DateString(), string(id.Slot)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, scrapeerrors.NewRegistry("postgres", "failed to read run "+id.Key(), err)
	}

	var rows []listingRow
	query = `SELECT position, is_new, data FROM run_listings WHERE run_id = $1 ORDER BY position`
	if err := r.db.SelectContext(ctx, &rows, query, row.ID); err != nil {
		return nil, scrapeerrors.NewRegistry("postgres", "failed to read listings of run "+id.Key(), err)
	}

	run := &models.Run{
		ID:        id,
		SearchURL: row.SearchURL,
		CreatedAt: row.CreatedAt,
		Listings:  make([]models.Listing, 0, len(rows)),
	}
	for _, lr := range rows {
		var listing models.Listing
		if err := json.Unmarshal(lr.Data, &listing); err != nil {
			return nil, scrapeerrors.NewRegistry("postgres", fmt.Sprintf("listing %d of run %s is corrupt", lr.Position, id.Key()), err)
		}
		listing.Index = lr.Position
		listing.IsNew = lr.IsNew
		run.Listings = append(run.Listings, listing)
	}
	return run, nil
}

// Put implements Registry
func (r *PostgresRegistry) Put(ctx context.Context, run *models.Run) (err error) {
	stored := cloneRun(run)
	stored.AssignIndexes()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return scrapeerrors.NewRegistry("postgres", "failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var runID int64
	query := `
		INSERT INTO runs (run_date, slot, search_url, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_date, slot) DO NOTHING
		RETURNING id
	`
	if err = tx.GetContext(ctx, &runID, query, run.ID.DateString(), string(run.ID.Slot), run.SearchURL, run.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scrapeerrors.NewRegistry("postgres", "run "+run.ID.Key()+" already committed", ErrRunExists)
		}
		return scrapeerrors.NewRegistry("postgres", "failed to insert run "+run.ID.Key(), err)
	}

	query = `INSERT INTO run_listings (run_id, position, url, is_new, data) VALUES ($1, $2, $3, $4, $5)`
	for _, listing := range stored.Listings {
		data, marshalErr := json.Marshal(listing)
		if marshalErr != nil {
			err = marshalErr
			return scrapeerrors.NewRegistry("postgres", "failed to encode listing", err)
		}
		if _, err = tx.ExecContext(ctx, query, runID, listing.Index, listing.URL, listing.IsNew, data); err != nil {
			return scrapeerrors.NewRegistry("postgres", fmt.Sprintf("failed to insert listing %d of run %s", listing.Index, run.ID.Key()), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return scrapeerrors.NewRegistry("postgres", "failed to commit run "+run.ID.Key(), err)
	}

	run.AssignIndexes()
	r.log.Debug().Str("run", run.ID.Key()).Int64("id", runID).Int("listings", len(run.Listings)).Msg("Run committed")
	return nil
}

// Location implements Registry
func (r *PostgresRegistry) Location(id models.RunID) string {
	return fmt.Sprintf("postgres:runs?run_date=%s&slot=%s", id.DateString(), id.Slot)
}

// Close implements Registry
func (r *PostgresRegistry) Close() error {
	return r.db.Close()
}
