package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

func init() {
	sqlx.BindDriver("duckdb", sqlx.QUESTION)
}

// RevertStore is the append-only revert event store. It runs on SQLite by
// default or on DuckDB. Writes go through a single connection; reads never
// see a partial batch.
type RevertStore struct {
	db     *sqlx.DB
	driver string
	logger zerolog.Logger
}

// revertRow is the on-disk shape of a RevertEvent. Timestamps are stored as
// unix seconds, which is all the precision the windows need.
type revertRow struct {
	Article     string         `db:"article"`
	User        string         `db:"user"`
	RevID       int64          `db:"revid"`
	OldRevID    int64          `db:"old_revid"`
	TS          int64          `db:"ts"`
	IsVandalism bool           `db:"is_vandalism"`
	Comment     sql.NullString `db:"comment"`
}

const revertColumns = `article, "user", revid, old_revid, ts, is_vandalism, comment`

// NewRevertStore opens (or creates) the store described by cfg and runs
// migrations.
func NewRevertStore(cfg config.Store, logger zerolog.Logger) (*RevertStore, error) {
	dsn := cfg.Path
	if cfg.Driver == "sqlite3" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &RevertStore{
		db:     db,
		driver: cfg.Driver,
		logger: logger.With().Str("component", "revert-store").Str("driver", cfg.Driver).Logger(),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	store.logger.Info().Str("path", cfg.Path).Msg("Revert store ready")
	return store, nil
}

// migrate creates the schema if it doesn't exist.
func (s *RevertStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS revert_events (
		article      TEXT NOT NULL,
		"user"       TEXT NOT NULL,
		revid        BIGINT PRIMARY KEY,
		old_revid    BIGINT NOT NULL DEFAULT 0,
		ts           BIGINT NOT NULL,
		is_vandalism BOOLEAN NOT NULL DEFAULT FALSE,
		comment      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_revert_events_article_user ON revert_events(article, "user");
	CREATE INDEX IF NOT EXISTS idx_revert_events_ts ON revert_events(ts);
	`
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *RevertStore) Close() error {
	return s.db.Close()
}

// Append writes events in one transaction and returns how many were new.
// Events whose revid is already stored are skipped, so overlapping polls do
// not double count. Any failure rolls back the whole batch.
func (s *RevertStore) Append(ctx context.Context, events []models.RevertEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	for i := range events {
		if err := events[i].Validate(); err != nil {
			return 0, fmt.Errorf("append: %w", err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT INTO revert_events (` + revertColumns + `)
		VALUES (:article, :user, :revid, :old_revid, :ts, :is_vandalism, :comment)
		ON CONFLICT (revid) DO NOTHING`

	written := 0
	for _, e := range events {
		res, err := tx.NamedExecContext(ctx, query, toRow(e))
		if err != nil {
			return 0, fmt.Errorf("insert revert %d: %w", e.RevID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected for revert %d: %w", e.RevID, err)
		}
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}

	s.logger.Debug().Int("batch", len(events)).Int("written", written).Msg("Appended revert events")
	return written, nil
}

// QueryNonVandalism returns every stored revert that is not a vandalism
// revert. This is the snapshot the detectors run over.
func (s *RevertStore) QueryNonVandalism(ctx context.Context) ([]models.RevertEvent, error) {
	return s.query(ctx, `WHERE is_vandalism = FALSE`)
}

// QueryByArticle returns all reverts on one article, vandalism included.
func (s *RevertStore) QueryByArticle(ctx context.Context, article string) ([]models.RevertEvent, error) {
	return s.query(ctx, `WHERE article = ?`, article)
}

// QueryByUser returns all reverts made by one user, vandalism included.
func (s *RevertStore) QueryByUser(ctx context.Context, user string) ([]models.RevertEvent, error) {
	return s.query(ctx, `WHERE "user" = ?`, user)
}

// QuerySince returns all reverts at or after since, vandalism included.
func (s *RevertStore) QuerySince(ctx context.Context, since time.Time) ([]models.RevertEvent, error) {
	return s.query(ctx, `WHERE ts >= ?`, since.Unix())
}

// Count returns the number of stored reverts, vandalism included.
func (s *RevertStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM revert_events`); err != nil {
		return 0, fmt.Errorf("count revert events: %w", err)
	}
	return n, nil
}

// query selects rows matching where, ordered by timestamp then revid. A row
// that cannot become a valid RevertEvent fails the whole query rather than
// being skipped.
func (s *RevertStore) query(ctx context.Context, where string, args ...interface{}) ([]models.RevertEvent, error) {
	var rows []revertRow
	q := `SELECT ` + revertColumns + ` FROM revert_events ` + where + ` ORDER BY ts, revid`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("query revert events: %w", err)
	}

	events := make([]models.RevertEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func toRow(e models.RevertEvent) revertRow {
	return revertRow{
		Article:     e.Article,
		User:        e.User,
		RevID:       e.RevID,
		OldRevID:    e.OldRevID,
		TS:          e.Timestamp.Unix(),
		IsVandalism: e.IsVandalism,
		Comment:     sql.NullString{String: e.Comment, Valid: e.Comment != ""},
	}
}

func (r revertRow) toEvent() (models.RevertEvent, error) {
	if r.TS <= 0 {
		return models.RevertEvent{}, fmt.Errorf("stored revert %d has invalid timestamp %d", r.RevID, r.TS)
	}
	e := models.RevertEvent{
		Article:     r.Article,
		User:        r.User,
		RevID:       r.RevID,
		OldRevID:    r.OldRevID,
		Timestamp:   time.Unix(r.TS, 0).UTC(),
		IsVandalism: r.IsVandalism,
		Comment:     r.Comment.String,
	}
	if err := e.Validate(); err != nil {
		return models.RevertEvent{}, fmt.Errorf("stored %w", err)
	}
	return e, nil
}
