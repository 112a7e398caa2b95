package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/uhwio/whatsappaibot/internal/domain"
	"github.com/uhwio/whatsappaibot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryConfig
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a turn pair is being appended.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryConfig}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		summarized_up_to INTEGER NOT NULL DEFAULT 0,
		last_summary_at INTEGER,
		last_user_at INTEGER,
		last_rate_limit_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		user_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, seq)
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		message_id TEXT PRIMARY KEY,
		expire_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processed_messages_expire ON processed_messages(expire_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Timestamps are stored as unix milliseconds so sub-second spacing works.
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

// execAffected runs a write with conflict retries and returns rows affected.
func (s *SQLiteStore) execAffected(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	var rows int64
	err := shared.RetryOnConflict(ctx, op, s.retry, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// inTx runs fn in a transaction with conflict retries.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := shared.RetryOnConflict(ctx, op, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("rollback failed", "op", op, "error", rbErr)
			}
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Touch creates the session if needed and gates on the per-user spacing.
func (s *SQLiteStore) Touch(ctx context.Context, userID string, now time.Time, minSpacing time.Duration) (bool, error) {
	query := `
	INSERT INTO sessions (user_id, last_user_at, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		last_user_at = excluded.last_user_at,
		updated_at = excluded.updated_at
	WHERE sessions.last_user_at IS NULL OR sessions.last_user_at <= ?`

	ts := millis(now)
	rows, err := s.execAffected(ctx, "touch session", query, userID, ts, ts, ts, millis(now.Add(-minSpacing)))
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetSession retrieves a session by user ID. History is not loaded.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `
		SELECT s.user_id, s.mode, s.summary, s.summarized_up_to,
		       s.last_summary_at, s.last_user_at, s.last_rate_limit_at,
		       s.created_at, s.updated_at,
		       (SELECT COALESCE(MAX(t.seq) + 1, 0) FROM turns t WHERE t.user_id = s.user_id)
		FROM sessions s WHERE s.user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var session domain.Session
	var mode string
	var lastSummary, lastUser, lastRateLimit sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.UserID, &mode, &session.Summary, &session.SummarizedUpTo,
		&lastSummary, &lastUser, &lastRateLimit,
		&createdAt, &updatedAt,
		&session.TurnCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Mode = domain.Mode(mode)
	session.LastSummaryAt = fromMillis(lastSummary)
	session.LastUserAt = fromMillis(lastUser)
	session.LastRateLimitAt = fromMillis(lastRateLimit)
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)

	return &session, nil
}

// SetMode sets the interaction mode, creating the session if needed.
func (s *SQLiteStore) SetMode(ctx context.Context, userID string, mode domain.Mode) error {
	query := `
	INSERT INTO sessions (user_id, mode, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		mode = excluded.mode,
		updated_at = excluded.updated_at`

	now := millis(time.Now())
	_, err := s.execAffected(ctx, "set mode", query, userID, string(mode), now, now)
	return err
}

// AppendExchange appends a user turn and its reply with consecutive sequence
// numbers. The pair is written only if the session still exists.
func (s *SQLiteStore) AppendExchange(ctx context.Context, userID, userText, assistantText string) error {
	insert := `
	WITH next AS (SELECT COALESCE(MAX(seq) + 1, 0) AS n FROM turns WHERE user_id = ?)
	INSERT INTO turns (user_id, seq, role, text, created_at)
	SELECT ?, n, ?, ?, ? FROM next
	UNION ALL
	SELECT ?, n + 1, ?, ?, ? FROM next`

	return s.inTx(ctx, "append exchange", func(tx *sql.Tx) error {
		now := millis(time.Now())
		result, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE user_id = ?`, now, userID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrSessionGone
		}
		_, err = tx.ExecContext(ctx, insert,
			userID,
			userID, string(domain.RoleUser), userText, now,
			userID, string(domain.RoleAssistant), assistantText, now,
		)
		return err
	})
}

// RecentTurns returns up to n of the newest turns, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, userID string, n int) ([]domain.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	query := `
		SELECT role, text FROM (
			SELECT seq, role, text FROM turns WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
	return s.queryTurns(ctx, "recent turns", query, userID, n)
}

// TurnRange returns turns with index in [from, to), oldest first.
func (s *SQLiteStore) TurnRange(ctx context.Context, userID string, from, to int) ([]domain.Turn, error) {
	if to <= from {
		return nil, nil
	}
	query := `SELECT role, text FROM turns WHERE user_id = ? AND seq >= ? AND seq < ? ORDER BY seq ASC`
	return s.queryTurns(ctx, "turn range", query, userID, from, to)
}

func (s *SQLiteStore) queryTurns(ctx context.Context, op, query string, args ...interface{}) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", op, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "op", op, "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", op, err)
		}
		turns = append(turns, domain.Turn{Role: domain.Role(role), Text: text})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}
	return turns, nil
}

// ApplySummary is a compare-and-set on (created_at, summarized_up_to).
func (s *SQLiteStore) ApplySummary(ctx context.Context, userID string, createdAt time.Time, expectedUpTo, newUpTo int, summary string, at time.Time) (bool, error) {
	if newUpTo < expectedUpTo {
		return false, fmt.Errorf("apply summary: pointer would move backwards (%d -> %d)", expectedUpTo, newUpTo)
	}
	query := `
	UPDATE sessions SET
		summary = ?,
		summarized_up_to = ?,
		last_summary_at = ?,
		updated_at = ?
	WHERE user_id = ? AND created_at = ? AND summarized_up_to = ?
	  AND ? <= (SELECT COALESCE(MAX(seq) + 1, 0) FROM turns WHERE user_id = ?)`

	ts := millis(at)
	rows, err := s.execAffected(ctx, "apply summary", query,
		summary, newUpTo, ts, ts, userID, millis(createdAt), expectedUpTo, newUpTo, userID)
	if err != nil {
		return false, err
	}
	if rows == 0 {
		slog.Debug("ApplySummary affected 0 rows", "user_id", userID, "expected_up_to", expectedUpTo)
	}
	return rows > 0, nil
}

// MarkRateLimitNotice sets last_rate_limit_at unless it is newer than minInterval.
func (s *SQLiteStore) MarkRateLimitNotice(ctx context.Context, userID string, now time.Time, minInterval time.Duration) (bool, error) {
	query := `
	UPDATE sessions SET last_rate_limit_at = ?
	WHERE user_id = ? AND (last_rate_limit_at IS NULL OR last_rate_limit_at <= ?)`

	rows, err := s.execAffected(ctx, "mark rate limit notice", query, millis(now), userID, millis(now.Add(-minInterval)))
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteSession removes the session and its whole history.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	return s.inTx(ctx, "delete session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
		return err
	})
}

// InsertMarker is a single upsert: it inserts a fresh marker or revives an
// expired one, and changes nothing while a live marker exists.
func (s *SQLiteStore) InsertMarker(ctx context.Context, id string, now, expireAt time.Time) (bool, error) {
	query := `
	INSERT INTO processed_messages (message_id, expire_at) VALUES (?, ?)
	ON CONFLICT(message_id) DO UPDATE SET expire_at = excluded.expire_at
	WHERE processed_messages.expire_at <= ?`

	rows, err := s.execAffected(ctx, "insert marker", query, id, millis(expireAt), millis(now))
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// PurgeExpiredMarkers deletes markers whose expiry has passed.
func (s *SQLiteStore) PurgeExpiredMarkers(ctx context.Context, now time.Time) (int64, error) {
	return s.execAffected(ctx, "purge expired markers",
		`DELETE FROM processed_messages WHERE expire_at <= ?`, millis(now))
}

// PurgeIdleSessions deletes sessions, and their turns, not updated since cutoff.
func (s *SQLiteStore) PurgeIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.inTx(ctx, "purge idle sessions", func(tx *sql.Tx) error {
		ts := millis(cutoff)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM turns WHERE user_id IN (SELECT user_id FROM sessions WHERE updated_at < ?)`, ts); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, ts)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
