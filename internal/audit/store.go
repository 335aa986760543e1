package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"

	// Registers "libsql" with database/sql. Handles remote URLs
	// (libsql://, https://, wss://).
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Pure-Go SQLite driver for local file: URLs; libsql-client-go
	// delegates file: URLs to it.
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver to use. Production always uses
// "libsql"; tests may override to exercise open failures.
var driverName = "libsql"

// recordTimeout bounds each best-effort insert so a hung database cannot pile
// up goroutines.
const recordTimeout = 5 * time.Second

// timeLayout is fixed width so string comparison on created_at matches
// chronological order; Prune relies on that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	prospect         TEXT    NOT NULL,
	completion_calls INTEGER NOT NULL,
	tool_calls       INTEGER NOT NULL,
	stop_reason      TEXT    NOT NULL,
	duration_ms      INTEGER NOT NULL,
	limit_hit        INTEGER NOT NULL,
	error            TEXT    NOT NULL DEFAULT '',
	created_at       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at);
CREATE INDEX IF NOT EXISTS idx_turns_prospect ON turns(prospect, created_at);
`

// Open connects to the audit database and verifies it with a ping.
//
// Supported URL schemes:
//
//	Local file:   "file:path/to/audit.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
//
// A bare path is treated as a local file.
func Open(dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("audit: database URL must not be empty")
	}
	if !strings.Contains(dbURL, "://") && !strings.HasPrefix(dbURL, "file:") {
		dbURL = "file:" + dbURL
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: connect to database: %w", err)
	}
	return db, nil
}

// Store writes and reads the turn log. Recording is best effort: a failed
// insert is logged and dropped, never surfaced to the chat path.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

var _ domain.TurnRecorder = (*Store)(nil)

// NewStore migrates the turns table and returns a ready Store.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: db must not be nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit: migrate turns table: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func (s *Store) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// Record inserts one turn. The insert detaches from the request's cancellation
// so an impatient client does not lose the audit row, but still times out.
func (s *Store) Record(ctx context.Context, rec domain.TurnRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (prospect, completion_calls, tool_calls, stop_reason, duration_ms, limit_hit, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Prospect,
		rec.CompletionCalls,
		rec.ToolCalls,
		string(rec.StopReason),
		rec.Duration.Milliseconds(),
		boolToInt(rec.LimitHit),
		rec.Err,
		created.UTC().Format(timeLayout),
	)
	if err != nil {
		s.log().Warn("audit record dropped", "prospect", rec.Prospect, "error", err)
	}
}

// RecentTurns returns the newest turns, newest first. A non-positive limit
// defaults to 20.
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT prospect, completion_calls, tool_calls, stop_reason, duration_ms, limit_hit, error, created_at
		 FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent turns: %w", err)
	}
	defer rows.Close()

	var out []domain.TurnRecord
	for rows.Next() {
		var (
			rec        domain.TurnRecord
			stopReason string
			durationMS int64
			limitHit   int
			createdAt  string
		)
		if err := rows.Scan(&rec.Prospect, &rec.CompletionCalls, &rec.ToolCalls, &stopReason, &durationMS, &limitHit, &rec.Err, &createdAt); err != nil {
			return nil, fmt.Errorf("audit: scan turn: %w", err)
		}
		rec.StopReason = domain.StopReason(stopReason)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.LimitHit = limitHit != 0
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate turns: %w", err)
	}
	return out, nil
}

// Prune deletes turns older than the cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE created_at < ?`,
		olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("audit: prune turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: prune row count: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
