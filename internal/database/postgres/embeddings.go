package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/kozaktomas/photo-stacker/internal/database"
)

// EmbeddingRepository provides PostgreSQL-backed access to the embedding
// collaborator's vectors. The core only reads; Save exists for tests and
// tooling that seed vectors directly.
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository.
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// Get retrieves an embedding by photo record id, returns nil if not found.
func (r *EmbeddingRepository) Get(ctx context.Context, photoRecordID int64) (*database.StoredEmbedding, error) {
	query := `
		SELECT photo_record_id, embedding, model, dim, created_at
		FROM media_embedding
		WHERE photo_record_id = $1
	`

	var emb database.StoredEmbedding
	var vec pgvector.Vector

	err := r.pool.QueryRow(ctx, query, photoRecordID).Scan(
		&emb.PhotoRecordID,
		&vec,
		&emb.Model,
		&emb.Dim,
		&emb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// GetByRecordIDs fetches vectors for a batch of photo record ids. Missing
// ids are simply absent from the result map.
func (r *EmbeddingRepository) GetByRecordIDs(ctx context.Context, photoRecordIDs []int64) (map[int64][]float32, error) {
	if len(photoRecordIDs) == 0 {
		return map[int64][]float32{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT photo_record_id, embedding
		FROM media_embedding
		WHERE photo_record_id = ANY($1)
	`, pq.Array(photoRecordIDs))
	if err != nil {
		return nil, fmt.Errorf("query embeddings batch: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]float32, len(photoRecordIDs))
	for rows.Next() {
		var id int64
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		result[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return result, nil
}

// Count returns the total number of embeddings stored.
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM media_embedding").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// MissingForProject returns files that have no embedding yet, in ascending
// file-id order after afterID. Used by the embed command to page through
// the embedding backlog.
func (r *EmbeddingRepository) MissingForProject(ctx context.Context, projectID, afterID int64, limit int) ([]database.FileOccurrence, error) {
	query := `
		SELECT f.id, f.project_id, f.path, f.size_bytes, f.captured_at,
		       f.width, f.height, f.source_device, f.import_session, f.screenshot
		FROM media_file f
		LEFT JOIN media_embedding e ON e.photo_record_id = f.id
		WHERE f.project_id = $1 AND f.id > $2 AND e.photo_record_id IS NULL
		ORDER BY f.id ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, projectID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query embedding backlog: %w", err)
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
		return nil, fmt.Errorf("iterate embedding backlog: %w", err)
	}
	return occurrences, nil
}

// Save stores or replaces an embedding vector.
func (r *EmbeddingRepository) Save(ctx context.Context, photoRecordID int64, embedding []float32, model string) error {
	vec := pgvector.NewVector(embedding)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO media_embedding (photo_record_id, embedding, model, dim)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (photo_record_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			dim = EXCLUDED.dim
	`, photoRecordID, vec, model, len(embedding))
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}
