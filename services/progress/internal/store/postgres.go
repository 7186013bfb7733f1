package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/watch-progress/services/progress/internal/domain"
	"github.com/example/watch-progress/services/progress/internal/interval"
)

// PostgresStore is the production Postgres-backed Backend.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const progressColumns = `user_id, video_id, duration, watched_intervals, last_position,
       percentage, is_completed, version, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, key domain.Key) (*domain.Progress, error) {
	q := `SELECT ` + progressColumns + ` FROM video_progress WHERE user_id=$1 AND video_id=$2`
	p, err := scanProgress(s.db.QueryRow(ctx, q, key.UserID, key.VideoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get", err)
	}
	return p, nil
}

func (s *PostgresStore) Put(ctx context.Context, p *domain.Progress) error {
	intervals, err := json.Marshal(p.WatchedIntervals.Pairs())
	if err != nil {
		return storageErr("encode intervals", err)
	}

	if p.Version == 0 {
		const q = `
INSERT INTO video_progress (user_id, video_id, duration, watched_intervals, last_position,
                            percentage, is_completed, version, created_at, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, 1, $8, $9)
ON CONFLICT (user_id, video_id) DO NOTHING`
		tag, err := s.db.Exec(ctx, q, p.UserID, p.VideoID, p.Duration, string(intervals),
			p.LastPosition, p.Percentage, p.IsCompleted, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return storageErr("insert", err)
		}
		// Another writer created the row first.
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		p.Version = 1
		return nil
	}

	const q = `
UPDATE video_progress SET
  duration          = $3,
  watched_intervals = $4::jsonb,
  last_position     = $5,
  percentage        = $6,
  is_completed      = $7,
  updated_at        = $8,
  version           = version + 1
WHERE user_id = $1 AND video_id = $2 AND version = $9`
	tag, err := s.db.Exec(ctx, q, p.UserID, p.VideoID, p.Duration, string(intervals),
		p.LastPosition, p.Percentage, p.IsCompleted, p.UpdatedAt, p.Version)
	if err != nil {
		return storageErr("update", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*domain.Progress, error) {
	q := `SELECT ` + progressColumns + ` FROM video_progress
	      WHERE user_id=$1 ORDER BY updated_at DESC, video_id DESC`
	return s.list(ctx, q, userID)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*domain.Progress, error) {
	q := `SELECT ` + progressColumns + ` FROM video_progress ORDER BY updated_at DESC, video_id DESC`
	return s.list(ctx, q)
}

func (s *PostgresStore) list(ctx context.Context, q string, args ...any) ([]*domain.Progress, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	out := make([]*domain.Progress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
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

func (s *PostgresStore) Delete(ctx context.Context, key domain.Key) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM video_progress WHERE user_id=$1 AND video_id=$2`, key.UserID, key.VideoID)
	if err != nil {
		return storageErr("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func scanProgress(row pgx.Row) (*domain.Progress, error) {
	var (
		p   domain.Progress
		raw []byte
	)
	err := row.Scan(&p.UserID, &p.VideoID, &p.Duration, &raw, &p.LastPosition,
		&p.Percentage, &p.IsCompleted, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.WatchedIntervals, err = decodeIntervals(raw); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func decodeIntervals(raw []byte) (interval.Set, error) {
	if len(raw) == 0 {
		return interval.Set{}, nil
	}
	var pairs [][2]float64
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, err
	}
	return interval.FromPairs(pairs), nil
}
