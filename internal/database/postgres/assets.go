package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// AssetRepository provides PostgreSQL-backed storage for assets and
// instances. It is the only writer of media_asset and media_instance rows.
type AssetRepository struct {
	pool *Pool
}

// NewAssetRepository creates a new PostgreSQL asset repository.
func NewAssetRepository(pool *Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

// FindByHash looks up an asset by content hash, returns nil if not found.
func (r *AssetRepository) FindByHash(ctx context.Context, projectID int64, contentHash string) (*database.Asset, error) {
	query := `
		SELECT id, project_id, content_hash, perceptual_hash, representative_instance, created_at, updated_at
		FROM media_asset
		WHERE project_id = $1 AND content_hash = $2
	`

	var asset database.Asset
	var pHash sql.NullString
	var rep sql.NullInt64

	err := r.pool.QueryRow(ctx, query, projectID, contentHash).Scan(
		&asset.ID,
		&asset.ProjectID,
		&asset.ContentHash,
		&pHash,
		&rep,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query asset by hash: %w", err)
	}

	asset.PerceptualHash = pHash.String
	if rep.Valid {
		asset.RepresentativeID = &rep.Int64
	}
	return &asset, nil
}

// CreateAssetIfMissing returns the existing asset id for the hash or creates
// a new asset. The unique constraint on (project_id, content_hash) makes
// this safe under concurrent callers; a conflicting insert falls back to a
// re-read.
func (r *AssetRepository) CreateAssetIfMissing(ctx context.Context, projectID int64, contentHash, perceptualHash string) (int64, error) {
	id, err := createAssetIfMissingTx(ctx, r.pool.DB(), projectID, contentHash, perceptualHash)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// execer covers both *sql.DB and *sql.Tx so the idempotent link operations
// can run standalone or inside a batch transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func createAssetIfMissingTx(ctx context.Context, db execer, projectID int64, contentHash, perceptualHash string) (int64, error) {
	insert := `
		INSERT INTO media_asset (project_id, content_hash, perceptual_hash)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (project_id, content_hash) DO NOTHING
		RETURNING id
	`

	var id int64
	err := db.QueryRowContext(ctx, insert, projectID, contentHash, perceptualHash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("insert asset: %w", err)
	}

	// Lost the insert race (or the asset already existed): re-read.
	err = db.QueryRowContext(ctx,
		`SELECT id FROM media_asset WHERE project_id = $1 AND content_hash = $2`,
		projectID, contentHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("re-read asset after conflict: %w", err)
	}
	return id, nil
}

// LinkInstance attaches a file occurrence to an asset. Re-linking the same
// photo record is a no-op success returning the existing instance id.
func (r *AssetRepository) LinkInstance(ctx context.Context, projectID, assetID int64, occ database.FileOccurrence) (int64, error) {
	return linkInstanceTx(ctx, r.pool.DB(), projectID, assetID, occ)
}

func linkInstanceTx(ctx context.Context, db execer, projectID, assetID int64, occ database.FileOccurrence) (int64, error) {
	insert := `
		INSERT INTO media_instance (project_id, asset_id, photo_record_id, source_path, source_device, import_session)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, photo_record_id) DO NOTHING
		RETURNING id
	`

	var id int64
	err := db.QueryRowContext(ctx, insert,
		projectID, assetID, occ.ID, occ.Path, occ.SourceDevice, occ.ImportSession,
	).Scan(&id)
	if err == nil {
		// First instance becomes the representative until an election
		// with more candidates replaces it.
		_, err = db.ExecContext(ctx, `
			UPDATE media_asset SET representative_instance = $1, updated_at = NOW()
			WHERE id = $2 AND representative_instance IS NULL
		`, id, assetID)
		if err != nil {
			return 0, fmt.Errorf("seed representative: %w", err)
		}
		// A successful link clears any failure recorded for this file.
		if _, err := db.ExecContext(ctx,
			`DELETE FROM backfill_error WHERE project_id = $1 AND file_id = $2`,
			projectID, occ.ID,
		); err != nil {
			return 0, fmt.Errorf("clear backfill error: %w", err)
		}
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("insert instance: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT id FROM media_instance WHERE project_id = $1 AND photo_record_id = $2`,
		projectID, occ.ID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("re-read instance after conflict: %w", err)
	}
	return id, nil
}

// ApplyLinks commits a batch of hash results in one transaction. Returns
// the distinct asset ids that gained an instance.
func (r *AssetRepository) ApplyLinks(ctx context.Context, projectID int64, links []database.InstanceLink) ([]int64, error) {
	if len(links) == 0 {
		return nil, nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	seen := make(map[int64]bool, len(links))
	var touched []int64

	for _, link := range links {
		assetID, err := createAssetIfMissingTx(ctx, tx, projectID, link.ContentHash, link.PerceptualHash)
		if err != nil {
			return nil, err
		}
		if _, err := linkInstanceTx(ctx, tx, projectID, assetID, link.Occurrence); err != nil {
			return nil, err
		}
		if !seen[assetID] {
			seen[assetID] = true
			touched = append(touched, assetID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit link batch: %w", err)
	}
	return touched, nil
}

// SetRepresentative picks the display instance for an asset. Returns
// ErrNotFound if the instance does not belong to the asset.
func (r *AssetRepository) SetRepresentative(ctx context.Context, projectID, assetID, instanceID int64) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE media_asset SET representative_instance = $1, updated_at = NOW()
		WHERE id = $2 AND project_id = $3
		  AND EXISTS (
			SELECT 1 FROM media_instance
			WHERE id = $1 AND asset_id = $2 AND project_id = $3
		  )
	`, instanceID, assetID, projectID)
	if err != nil {
		return fmt.Errorf("set representative: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set representative rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("instance %d does not belong to asset %d: %w", instanceID, assetID, database.ErrNotFound)
	}
	return nil
}

// ListDuplicateAssets returns assets with at least minInstances instances,
// ordered by instance count descending then asset id ascending.
func (r *AssetRepository) ListDuplicateAssets(ctx context.Context, projectID int64, minInstances int) ([]database.AssetSummary, error) {
	if minInstances < 2 {
		minInstances = 2
	}

	query := `
		SELECT a.id, a.content_hash, a.representative_instance, COUNT(i.id) AS instance_count
		FROM media_asset a
		JOIN media_instance i ON i.asset_id = a.id
		WHERE a.project_id = $1
		GROUP BY a.id, a.content_hash, a.representative_instance
		HAVING COUNT(i.id) >= $2
		ORDER BY instance_count DESC, a.id ASC
	`

	rows, err := r.pool.Query(ctx, query, projectID, minInstances)
	if err != nil {
		return nil, fmt.Errorf("query duplicate assets: %w", err)
	}
	defer rows.Close()

	var summaries []database.AssetSummary
	for rows.Next() {
		var s database.AssetSummary
		var rep sql.NullInt64
		if err := rows.Scan(&s.AssetID, &s.ContentHash, &rep, &s.InstanceCount); err != nil {
			return nil, fmt.Errorf("scan asset summary: %w", err)
		}
		if rep.Valid {
			s.RepresentativeID = &rep.Int64
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset summaries: %w", err)
	}
	return summaries, nil
}

// InstancesWithoutAsset is the backfill backlog query: file occurrences
// with no instance yet, in ascending file-id order after afterID. The
// anti-join makes crash recovery a re-scan, not a checkpoint replay.
func (r *AssetRepository) InstancesWithoutAsset(ctx context.Context, projectID, afterID int64, limit int) ([]database.FileOccurrence, error) {
	query := `
		SELECT f.id, f.project_id, f.path, f.size_bytes, f.captured_at,
		       f.width, f.height, f.source_device, f.import_session, f.screenshot
		FROM media_file f
		LEFT JOIN media_instance i
		  ON i.project_id = f.project_id AND i.photo_record_id = f.id
		WHERE f.project_id = $1 AND f.id > $2 AND i.id IS NULL
		ORDER BY f.id ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, projectID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	defer rows.Close()

	var occurrences []database.FileOccurrence
	for rows.Next() {
		occ, err := scanFileOccurrence(rows)
		if err != nil {
			return nil, err
		}
		occurrences = append(occurrences, occ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backlog: %w", err)
	}
	return occurrences, nil
}

const instanceDetailColumns = `
	i.id, i.project_id, i.asset_id, i.photo_record_id, i.source_path,
	i.source_device, i.import_session, i.created_at,
	f.path, f.size_bytes, f.width, f.height, f.captured_at, f.screenshot,
	COALESCE(a.perceptual_hash, '')
`

// InstanceDetailsForAsset returns the asset's instances joined with file
// metadata, ordered by instance id.
func (r *AssetRepository) InstanceDetailsForAsset(ctx context.Context, projectID, assetID int64) ([]database.InstanceDetail, error) {
	query := `
		SELECT ` + instanceDetailColumns + `
		FROM media_instance i
		JOIN media_asset a ON a.id = i.asset_id
		JOIN media_file f ON f.project_id = i.project_id AND f.id = i.photo_record_id
		WHERE i.project_id = $1 AND i.asset_id = $2
		ORDER BY i.id ASC
	`

	return r.queryInstanceDetails(ctx, query, projectID, assetID)
}

// ListInstanceDetails snapshots all linked instances with file metadata for
// a project, ordered by photo record id.
func (r *AssetRepository) ListInstanceDetails(ctx context.Context, projectID int64) ([]database.InstanceDetail, error) {
	query := `
		SELECT ` + instanceDetailColumns + `
		FROM media_instance i
		JOIN media_asset a ON a.id = i.asset_id
		JOIN media_file f ON f.project_id = i.project_id AND f.id = i.photo_record_id
		WHERE i.project_id = $1
		ORDER BY i.photo_record_id ASC
	`

	return r.queryInstanceDetails(ctx, query, projectID)
}

func (r *AssetRepository) queryInstanceDetails(ctx context.Context, query string, args ...any) ([]database.InstanceDetail, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instance details: %w", err)
	}
	defer rows.Close()

	var details []database.InstanceDetail
	for rows.Next() {
		var d database.InstanceDetail
		var capturedAt sql.NullTime
		err := rows.Scan(
			&d.ID, &d.ProjectID, &d.AssetID, &d.PhotoRecordID, &d.SourcePath,
			&d.SourceDevice, &d.ImportSession, &d.CreatedAt,
			&d.Path, &d.SizeBytes, &d.Width, &d.Height, &capturedAt, &d.Screenshot,
			&d.PerceptualHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan instance detail: %w", err)
		}
		if capturedAt.Valid {
			t := capturedAt.Time
			d.CapturedAt = &t
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instance details: %w", err)
	}
	return details, nil
}

// Progress reports scanned/linked/error counts for the project.
func (r *AssetRepository) Progress(ctx context.Context, projectID int64) (database.BackfillProgress, error) {
	var p database.BackfillProgress

	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM media_file WHERE project_id = $1),
			(SELECT COUNT(*) FROM media_instance WHERE project_id = $1),
			(SELECT COUNT(*) FROM backfill_error WHERE project_id = $1)
	`, projectID).Scan(&p.Scanned, &p.Linked, &p.Errors)
	if err != nil {
		return p, fmt.Errorf("query backfill progress: %w", err)
	}

	p.Total = p.Scanned
	return p, nil
}

// RecordBackfillError persists a per-file failure. Repeated failures for
// the same file keep only the latest message.
func (r *AssetRepository) RecordBackfillError(ctx context.Context, projectID, fileID int64, message string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO backfill_error (project_id, file_id, message)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, file_id)
		DO UPDATE SET message = EXCLUDED.message, occurred_at = NOW()
	`, projectID, fileID, message)
	if err != nil {
		return fmt.Errorf("record backfill error: %w", err)
	}
	return nil
}
