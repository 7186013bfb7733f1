package idempotency

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

func newPostgresStore(pool *pgxpool.Pool) *postgresStore {
	return &postgresStore{pool: pool}
}

// Seen uses INSERT ... ON CONFLICT to atomically deduplicate.
// Table processed_events is created by the progress migrations.
func (s *postgresStore) Seen(ctx context.Context, subject, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	const q = `INSERT INTO processed_events (event_id, subject, created_at)
	           VALUES ($1, $2, now())
	           ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, subject+":"+id, subject)
	if err != nil {
		return false, err
	}
	// RowsAffected == 0 means the row already existed.
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Release(ctx context.Context, subject, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, subject+":"+id)
	return err
}
