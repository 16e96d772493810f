// Package relational provides the database-backed sink. Activities are
// stored in an activities table keyed by native id; de-duplication is
// enforced by the primary key plus an idempotent insert, with an
// application-level existence check as a fast path only.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"edcollect/internal/activity"
	"edcollect/internal/logging"
	"edcollect/internal/sink"
)

// storedTimeFormat is the normalized posted_at layout.
const storedTimeFormat = "2006-01-02 15:04:05"

// sanitizer replaces characters the legacy schema treated as unsafe in
// free text. Statement safety comes from parameter binding; this only
// preserves the historical data shape.
var sanitizer = strings.NewReplacer("'", "_", `\`, "_")

// Sink stores activities in a relational database. It implements
// sink.Sink.
type Sink struct {
	db      *sql.DB
	logger  *slog.Logger
	existsQ string
	insertQ string
}

// Config holds relational sink configuration.
type Config struct {
	// Driver is "postgres" or "sqlite".
	Driver string

	// DSN is the driver-specific data source name.
	DSN string

	// Logger for structured logging.
	Logger *slog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New opens the database, applies pragmas and migrations, and returns
// the sink.
func New(cfg Config) (*Sink, error) {
	var driverName string
	switch cfg.Driver {
	case "postgres":
		driverName = "postgres"
	case "sqlite":
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal_mode: %w", err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Sink{
		db:     db,
		logger: logging.Default(cfg.Logger).With("component", "sink", "type", "relational", "driver", cfg.Driver),
	}
	s.buildQueries(cfg.Driver)
	return s, nil
}

// buildQueries prepares driver-specific statement text. The shapes are
// identical; only the placeholder style differs.
func (s *Sink) buildQueries(driver string) {
	if driver == "postgres" {
		s.existsQ = `SELECT 1 FROM activities WHERE native_id = $1`
		s.insertQ = `INSERT INTO activities
			(native_id, posted_at, content, body, rule_value, rule_tag, publisher, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (native_id) DO NOTHING`
		return
	}
	s.existsQ = `SELECT 1 FROM activities WHERE native_id = ?`
	s.insertQ = `INSERT INTO activities
		(native_id, posted_at, content, body, rule_value, rule_tag, publisher, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (native_id) DO NOTHING`
}

// Close closes the underlying database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Store persists one activity. The fast-path SELECT catches most
// duplicates; the ON CONFLICT insert makes the outcome correct even
// when the fast path misses.
func (s *Sink) Store(ctx context.Context, act activity.Activity) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.existsQ, act.NativeID).Scan(&one)
	switch {
	case err == nil:
		return sink.ErrDuplicate
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check existing activity: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.insertQ,
		act.NativeID,
		normalizeTimestamp(act.PostedAt),
		sanitizer.Replace(act.RawContent),
		sanitizer.Replace(act.Body),
		strings.Join(act.RuleValues, ","),
		strings.Join(act.RuleTags, ","),
		act.Publisher,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert activity %s: %w", act.NativeID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Lost the race to another writer; same outcome as the fast path.
		return sink.ErrDuplicate
	}

	s.logger.Debug("activity written", "native_id", act.NativeID, "publisher", act.Publisher)
	return nil
}

// normalizeTimestamp converts a parseable activity timestamp to
// "YYYY-MM-DD HH:MM:SS" UTC. Unparseable values are stored verbatim
// rather than dropped.
func normalizeTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, storedTimeFormat, "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Format(storedTimeFormat)
		}
	}
	return ts
}
