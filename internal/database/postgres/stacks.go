package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/kozaktomas/photo-stacker/internal/database"
)

// StackRepository provides PostgreSQL-backed storage for stacks, their
// members, and their write-once parameter records.
type StackRepository struct {
	pool *Pool
}

// NewStackRepository creates a new PostgreSQL stack repository.
func NewStackRepository(pool *Pool) *StackRepository {
	return &StackRepository{pool: pool}
}

// CreateStack inserts a new stack row and returns its id.
func (r *StackRepository) CreateStack(ctx context.Context, projectID int64, stackType database.StackType, representativeInstance int64, ruleVersion string) (int64, error) {
	if !database.ValidStackType(stackType) {
		return 0, fmt.Errorf("unknown stack type %q: %w", stackType, database.ErrInvariant)
	}

	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO media_stack (project_id, stack_type, representative_instance, rule_version)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, projectID, string(stackType), representativeInstance, ruleVersion).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert stack: %w", err)
	}
	return id, nil
}

// AddMembersBatch bulk-inserts members for a stack. The overlap check runs
// in the same transaction as the inserts, so an invariant violation leaves
// no partial rows behind.
func (r *StackRepository) AddMembersBatch(ctx context.Context, projectID, stackID int64, members []database.StackMember) error {
	if len(members) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stackType string
	err = tx.QueryRowContext(ctx,
		`SELECT stack_type FROM media_stack WHERE id = $1 AND project_id = $2`,
		stackID, projectID,
	).Scan(&stackType)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("stack %d: %w", stackID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query stack type: %w", err)
	}

	// Stacks of one type must partition their members.
	recordIDs := make([]int64, len(members))
	for i, m := range members {
		recordIDs[i] = m.PhotoRecordID
	}

	var overlapping int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(m.photo_record_id), 0)
		FROM media_stack_member m
		JOIN media_stack s ON s.id = m.stack_id
		WHERE s.project_id = $1 AND s.stack_type = $2 AND m.photo_record_id = ANY($3)
	`, projectID, stackType, pq.Array(recordIDs)).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("check member overlap: %w", err)
	}
	if overlapping != 0 {
		return fmt.Errorf("photo record %d already belongs to a %s stack: %w",
			overlapping, stackType, database.ErrInvariant)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO media_stack_member (stack_id, photo_record_id, instance_id, similarity_score, rank)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare member insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range members {
		var score sql.NullFloat64
		if m.Score != nil {
			score = sql.NullFloat64{Float64: *m.Score, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, stackID, m.PhotoRecordID, m.InstanceID, score, m.Rank); err != nil {
			return fmt.Errorf("insert member %d: %w", m.PhotoRecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member batch: %w", err)
	}
	return nil
}

// ClearStacksByType deletes all stacks of a type, optionally scoped to one
// rule version. Members and meta rows cascade.
func (r *StackRepository) ClearStacksByType(ctx context.Context, projectID int64, stackType database.StackType, ruleVersion string) (int64, error) {
	var result sql.Result
	var err error

	if ruleVersion == "" {
		result, err = r.pool.Exec(ctx,
			`DELETE FROM media_stack WHERE project_id = $1 AND stack_type = $2`,
			projectID, string(stackType))
	} else {
		result, err = r.pool.Exec(ctx,
			`DELETE FROM media_stack WHERE project_id = $1 AND stack_type = $2 AND rule_version = $3`,
			projectID, string(stackType), ruleVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("clear stacks: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear stacks rows affected: %w", err)
	}
	return count, nil
}

// ListStacks pages stack summaries with member counts. An empty stackType
// lists all types.
func (r *StackRepository) ListStacks(ctx context.Context, projectID int64, stackType database.StackType, limit, offset int) ([]database.StackSummary, error) {
	query := `
		SELECT s.id, s.stack_type, s.rule_version, s.representative_instance, s.created_at,
		       COUNT(m.photo_record_id) AS member_count
		FROM media_stack s
		LEFT JOIN media_stack_member m ON m.stack_id = s.id
		WHERE s.project_id = $1 AND ($2 = '' OR s.stack_type = $2)
		GROUP BY s.id, s.stack_type, s.rule_version, s.representative_instance, s.created_at
		ORDER BY s.created_at DESC, s.id ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, projectID, string(stackType), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query stacks: %w", err)
	}
	defer rows.Close()

	var summaries []database.StackSummary
	for rows.Next() {
		var s database.StackSummary
		var st string
		if err := rows.Scan(&s.ID, &st, &s.RuleVersion, &s.RepresentativeID, &s.CreatedAt, &s.MemberCount); err != nil {
			return nil, fmt.Errorf("scan stack summary: %w", err)
		}
		s.Type = database.StackType(st)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stack summaries: %w", err)
	}
	return summaries, nil
}

// ListMembers returns a stack's members ordered by rank ascending, then
// similarity score descending.
func (r *StackRepository) ListMembers(ctx context.Context, projectID, stackID int64) ([]database.StackMember, error) {
	query := `
		SELECT m.stack_id, m.photo_record_id, m.instance_id, m.similarity_score, m.rank
		FROM media_stack_member m
		JOIN media_stack s ON s.id = m.stack_id
		WHERE s.project_id = $1 AND m.stack_id = $2
		ORDER BY m.rank ASC, m.similarity_score DESC NULLS LAST, m.photo_record_id ASC
	`

	rows, err := r.pool.Query(ctx, query, projectID, stackID)
	if err != nil {
		return nil, fmt.Errorf("query stack members: %w", err)
	}
	defer rows.Close()

	var members []database.StackMember
	for rows.Next() {
		var m database.StackMember
		var score sql.NullFloat64
		if err := rows.Scan(&m.StackID, &m.PhotoRecordID, &m.InstanceID, &score, &m.Rank); err != nil {
			return nil, fmt.Errorf("scan stack member: %w", err)
		}
		if score.Valid {
			m.Score = &score.Float64
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stack members: %w", err)
	}
	return members, nil
}

// FindStacksForInstance returns ids of all stacks containing the instance.
func (r *StackRepository) FindStacksForInstance(ctx context.Context, projectID, instanceID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.stack_id
		FROM media_stack_member m
		JOIN media_stack s ON s.id = m.stack_id
		WHERE s.project_id = $1 AND m.instance_id = $2
		ORDER BY m.stack_id ASC
	`, projectID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query stacks for instance: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stack id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stack ids: %w", err)
	}
	return ids, nil
}

// WriteMeta attaches the generation parameters to a stack. The in-memory
// record stays typed; JSON serialization happens only here, at the storage
// boundary. Write-once: a second write returns ErrConflict.
func (r *StackRepository) WriteMeta(ctx context.Context, projectID, stackID int64, params any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal stack meta: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		INSERT INTO media_stack_meta (stack_id, params)
		SELECT id, $1 FROM media_stack WHERE id = $2 AND project_id = $3
		ON CONFLICT (stack_id) DO NOTHING
	`, data, stackID, projectID)
	if err != nil {
		return fmt.Errorf("insert stack meta: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("stack meta rows affected: %w", err)
	}
	if affected == 0 {
		// Either the stack does not exist or meta was already written.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM media_stack WHERE id = $1 AND project_id = $2)`,
			stackID, projectID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check stack exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("stack %d: %w", stackID, database.ErrNotFound)
		}
		return fmt.Errorf("meta already written for stack %d: %w", stackID, database.ErrConflict)
	}
	return nil
}
