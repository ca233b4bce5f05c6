package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// LeaseRepository implements the backfill claim protocol on a single
// backfill_lease row per project. Expiry comparisons run on the database
// clock so all contenders agree on "expired".
type LeaseRepository struct {
	pool *Pool
}

// NewLeaseRepository creates a new PostgreSQL lease repository.
func NewLeaseRepository(pool *Pool) *LeaseRepository {
	return &LeaseRepository{pool: pool}
}

// Acquire claims the project lease for owner. An expired lease is taken
// over in the same statement; a live lease held by someone else returns
// false. Re-acquiring one's own lease renews it.
func (r *LeaseRepository) Acquire(ctx context.Context, projectID int64, owner string, ttl time.Duration) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO backfill_lease (project_id, owner, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 second')
		ON CONFLICT (project_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE backfill_lease.expires_at < NOW() OR backfill_lease.owner = EXCLUDED.owner
	`, projectID, owner, int(ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease rows affected: %w", err)
	}
	return affected > 0, nil
}

// Renew extends the lease expiry (heartbeat). Returns ErrNotFound if the
// lease is no longer held by owner, which tells the engine to stop.
func (r *LeaseRepository) Renew(ctx context.Context, projectID int64, owner string, ttl time.Duration) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE backfill_lease
		SET expires_at = NOW() + $3 * INTERVAL '1 second'
		WHERE project_id = $1 AND owner = $2 AND expires_at >= NOW()
	`, projectID, owner, int(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("renew lease rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("lease for project %d lost by %s: %w", projectID, owner, database.ErrNotFound)
	}
	return nil
}

// Release drops the lease if still held by owner. Releasing a lease that
// already expired or changed hands is a no-op.
func (r *LeaseRepository) Release(ctx context.Context, projectID int64, owner string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM backfill_lease WHERE project_id = $1 AND owner = $2`,
		projectID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
