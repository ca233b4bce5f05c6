package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// FileRepository maintains the local mirror of the scanner's file table.
// Rows are upserted during sync; the core never deletes or reorders them.
type FileRepository struct {
	pool *Pool
}

// NewFileRepository creates a new PostgreSQL file repository.
func NewFileRepository(pool *Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// Upsert writes a batch of scanner rows into media_file. Re-syncing the
// same rows refreshes metadata without disturbing instance linkage.
func (r *FileRepository) Upsert(ctx context.Context, occurrences []database.FileOccurrence) error {
	if len(occurrences) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO media_file (id, project_id, path, size_bytes, captured_at,
			width, height, source_device, import_session, screenshot, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (project_id, id) DO UPDATE SET
			path = EXCLUDED.path,
			size_bytes = EXCLUDED.size_bytes,
			captured_at = EXCLUDED.captured_at,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			source_device = EXCLUDED.source_device,
			import_session = EXCLUDED.import_session,
			screenshot = EXCLUDED.screenshot,
			synced_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare file upsert: %w", err)
	}
	defer stmt.Close()

	for _, occ := range occurrences {
		var capturedAt sql.NullTime
		if occ.CapturedAt != nil {
			capturedAt = sql.NullTime{Time: *occ.CapturedAt, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			occ.ID, occ.ProjectID, occ.Path, occ.SizeBytes, capturedAt,
			occ.Width, occ.Height, occ.SourceDevice, occ.ImportSession, occ.Screenshot,
		)
		if err != nil {
			return fmt.Errorf("upsert file %d: %w", occ.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit file sync batch: %w", err)
	}
	return nil
}

// PruneStats summarizes one deletion-propagation sweep.
type PruneStats struct {
	FilesRemoved      int64 `json:"files_removed"`
	AssetsRemoved     int64 `json:"assets_removed"`
	StacksInvalidated int64 `json:"stacks_invalidated"`
}

// SyncMark returns the database clock. Taken before a sync run, it divides
// rows the run refreshed from rows the scanner no longer has.
func (r *FileRepository) SyncMark(ctx context.Context) (time.Time, error) {
	var mark time.Time
	if err := r.pool.QueryRow(ctx, `SELECT NOW()`).Scan(&mark); err != nil {
		return time.Time{}, fmt.Errorf("read sync mark: %w", err)
	}
	return mark, nil
}

// PruneMissing removes mirror rows the last full sync did not touch and
// sweeps up the wreckage: instances and stack memberships cascade with
// their file rows, assets that lost their last instance are deleted, and
// stacks whose representative vanished or that fell below two members are
// invalidated. Only call after a sync that walked the whole project,
// a partial run would prune rows that still exist upstream.
func (r *FileRepository) PruneMissing(ctx context.Context, projectID int64, syncedBefore time.Time) (*PruneStats, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stats := &PruneStats{}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM media_file
		WHERE project_id = $1 AND synced_at < $2
	`, projectID, syncedBefore)
	if err != nil {
		return nil, fmt.Errorf("prune stale files: %w", err)
	}
	stats.FilesRemoved, _ = res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE media_asset a
		SET representative_instance = NULL, updated_at = NOW()
		WHERE a.project_id = $1
		  AND a.representative_instance IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM media_instance i WHERE i.id = a.representative_instance)
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("clear dangling representatives: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		DELETE FROM media_asset a
		WHERE a.project_id = $1
		  AND NOT EXISTS (SELECT 1 FROM media_instance i WHERE i.asset_id = a.id)
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("remove orphaned assets: %w", err)
	}
	stats.AssetsRemoved, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		DELETE FROM media_stack s
		WHERE s.project_id = $1
		  AND (NOT EXISTS (SELECT 1 FROM media_instance i WHERE i.id = s.representative_instance)
		       OR (SELECT COUNT(*) FROM media_stack_member m WHERE m.stack_id = s.id) < 2)
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("invalidate broken stacks: %w", err)
	}
	stats.StacksInvalidated, _ = res.RowsAffected()

	// Error rows for files the scanner dropped would otherwise keep
	// counting against backfill progress forever.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM backfill_error e
		WHERE e.project_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM media_file f
			WHERE f.project_id = e.project_id AND f.id = e.file_id
		  )
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("prune stale backfill errors: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit prune: %w", err)
	}
	return stats, nil
}

// Count returns the number of mirrored file occurrences for a project.
func (r *FileRepository) Count(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM media_file WHERE project_id = $1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return count, nil
}

// Get returns one file occurrence, or nil if absent.
func (r *FileRepository) Get(ctx context.Context, projectID, fileID int64) (*database.FileOccurrence, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, project_id, path, size_bytes, captured_at,
		       width, height, source_device, import_session, screenshot
		FROM media_file
		WHERE project_id = $1 AND id = $2
	`, projectID, fileID)

	occ, err := scanFileOccurrenceRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &occ, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileOccurrence(rows *sql.Rows) (database.FileOccurrence, error) {
	return scanFileOccurrenceRow(rows)
}

func scanFileOccurrenceRow(row rowScanner) (database.FileOccurrence, error) {
	var occ database.FileOccurrence
	var capturedAt sql.NullTime

	err := row.Scan(
		&occ.ID, &occ.ProjectID, &occ.Path, &occ.SizeBytes, &capturedAt,
		&occ.Width, &occ.Height, &occ.SourceDevice, &occ.ImportSession, &occ.Screenshot,
	)
	if err == sql.ErrNoRows {
		return occ, err
	}
	if err != nil {
		return occ, fmt.Errorf("scan file occurrence: %w", err)
	}

	if capturedAt.Valid {
		t := capturedAt.Time
		occ.CapturedAt = &t
	}
	return occ, nil
}
