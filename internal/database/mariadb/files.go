package mariadb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// ListFileOccurrences pages the scanner's indexed_files table in ascending
// id order starting after afterID. The scanner appends rows and never
// reuses ids, so this cursor is stable across sync runs.
func (p *Pool) ListFileOccurrences(ctx context.Context, projectID, afterID int64, limit int) ([]database.FileOccurrence, error) {
	query := `
		SELECT id, project_id, path, size_bytes, taken_at,
		       width, height, device, session_id, is_screenshot
		FROM indexed_files
		WHERE project_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := p.db.QueryContext(ctx, query, projectID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scanner files: %w", err)
	}
	defer rows.Close()

	var occurrences []database.FileOccurrence
	for rows.Next() {
		var occ database.FileOccurrence
		var takenAt sql.NullTime
		var device, session sql.NullString

		err := rows.Scan(
			&occ.ID, &occ.ProjectID, &occ.Path, &occ.SizeBytes, &takenAt,
			&occ.Width, &occ.Height, &device, &session, &occ.Screenshot,
		)
		if err != nil {
			return nil, fmt.Errorf("scan scanner file: %w", err)
		}

		if takenAt.Valid {
			t := takenAt.Time
			occ.CapturedAt = &t
		}
		occ.SourceDevice = device.String
		occ.ImportSession = session.String
		occurrences = append(occurrences, occ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scanner files: %w", err)
	}
	return occurrences, nil
}

// CountFileOccurrences returns the scanner's total row count for a project.
func (p *Pool) CountFileOccurrences(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM indexed_files WHERE project_id = ?`, projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count scanner files: %w", err)
	}
	return count, nil
}
