package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/watch-progress/services/progress/internal/domain"
)

// SQLiteStore is a Backend for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at dsn.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, key domain.Key) (*domain.Progress, error) {
	q := `SELECT ` + progressColumns + ` FROM video_progress WHERE user_id=? AND video_id=?`
	p, err := scanSQLiteProgress(s.db.QueryRowContext(ctx, q, key.UserID, key.VideoID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get", err)
	}
	return p, nil
}

func (s *SQLiteStore) Put(ctx context.Context, p *domain.Progress) error {
	intervals, err := json.Marshal(p.WatchedIntervals.Pairs())
	if err != nil {
		return storageErr("encode intervals", err)
	}

	var res sql.Result
	if p.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
INSERT INTO video_progress (user_id, video_id, duration, watched_intervals, last_position,
                            percentage, is_completed, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (user_id, video_id) DO NOTHING`,
			p.UserID, p.VideoID, p.Duration, string(intervals), p.LastPosition,
			p.Percentage, p.IsCompleted, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	} else {
		res, err = s.db.ExecContext(ctx, `
UPDATE video_progress SET
  duration = ?, watched_intervals = ?, last_position = ?, percentage = ?,
  is_completed = ?, updated_at = ?, version = version + 1
WHERE user_id = ? AND video_id = ? AND version = ?`,
			p.Duration, string(intervals), p.LastPosition, p.Percentage,
			p.IsCompleted, formatTime(p.UpdatedAt), p.UserID, p.VideoID, p.Version)
	}
	if err != nil {
		return storageErr("put", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("put", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]*domain.Progress, error) {
	q := `SELECT ` + progressColumns + ` FROM video_progress
	      WHERE user_id=? ORDER BY updated_at DESC, video_id DESC`
	return s.list(ctx, q, userID)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*domain.Progress, error) {
	q := `SELECT ` + progressColumns + ` FROM video_progress ORDER BY updated_at DESC, video_id DESC`
	return s.list(ctx, q)
}

func (s *SQLiteStore) list(ctx context.Context, q string, args ...any) ([]*domain.Progress, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	out := make([]*domain.Progress, 0)
	for rows.Next() {
		p, err := scanSQLiteProgress(rows)
		if err != nil {
			return nil, storageErr("scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key domain.Key) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM video_progress WHERE user_id=? AND video_id=?`, key.UserID, key.VideoID)
	if err != nil {
		return storageErr("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProgress(row sqlScanner) (*domain.Progress, error) {
	var (
		p       domain.Progress
		raw     string
		created string
		updated string
	)
	err := row.Scan(&p.UserID, &p.VideoID, &p.Duration, &raw, &p.LastPosition,
		&p.Percentage, &p.IsCompleted, &p.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	if p.WatchedIntervals, err = decodeIntervals([]byte(raw)); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = time.Parse(sqliteTimeLayout, updated); err != nil {
		return nil, err
	}
	return &p, nil
}

// Fixed-width so that ORDER BY updated_at sorts chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}
