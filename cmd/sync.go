package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/constants"
	"github.com/kozaktomas/photo-stacker/internal/database/mariadb"
	"github.com/kozaktomas/photo-stacker/internal/database/postgres"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror scanner rows into the local media_file table",
	Long: `Mirror file occurrences from the scanner's MariaDB database into the
local PostgreSQL media_file table.

The scanner owns file discovery; this command keeps the local mirror
current so backfill and stack generation can run against PostgreSQL
alone. Re-running is safe: rows are upserted by (project_id, id).

Examples:
  # Mirror project 1 (the default)
  photo-stacker sync

  # Mirror a specific project with JSON output
  photo-stacker sync --project 2 --json`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Int64("project", 1, "Project to mirror")
	syncCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// SyncResult represents the result of a sync operation
type SyncResult struct {
	Success           bool   `json:"success"`
	RowsMirrored      int    `json:"rows_mirrored"`
	RowsPruned        int64  `json:"rows_pruned"`
	AssetsRemoved     int64  `json:"assets_removed"`
	StacksInvalidated int64  `json:"stacks_invalidated"`
	DurationMs        int64  `json:"duration_ms"`
	DurationHuman     string `json:"duration_human,omitempty"`
}

func runSync(cmd *cobra.Command, args []string) error {
	projectID := mustGetInt64(cmd, "project")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()
	startTime := time.Now()

	if cfg.Scanner.DatabaseURL == "" {
		return errors.New("SCANNER_DATABASE_URL environment variable is required")
	}

	pool, err := initPostgresBackend(cfg)
	if err != nil {
		return err
	}
	fileRepo := postgres.NewFileRepository(pool)

	if !jsonOutput {
		fmt.Println("Connecting to scanner database...")
	}
	scanner, err := mariadb.NewPool(cfg.Scanner.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to scanner database: %w", err)
	}
	defer scanner.Close()

	total, err := scanner.CountFileOccurrences(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to count scanner rows: %w", err)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Found %d scanner rows to mirror\n\n", total)
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Mirroring files"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	// Taken before the first upsert: rows still carrying an older synced_at
	// after the full walk are gone upstream.
	syncMark, err := fileRepo.SyncMark(ctx)
	if err != nil {
		return err
	}

	mirrored := 0
	var afterID int64
	for {
		occurrences, err := scanner.ListFileOccurrences(ctx, projectID, afterID, constants.SyncPageSize)
		if err != nil {
			return fmt.Errorf("failed to list scanner rows: %w", err)
		}
		if len(occurrences) == 0 {
			break
		}

		if err := fileRepo.Upsert(ctx, occurrences); err != nil {
			return fmt.Errorf("failed to upsert files: %w", err)
		}

		mirrored += len(occurrences)
		afterID = occurrences[len(occurrences)-1].ID
		if bar != nil {
			bar.Add(len(occurrences))
		}
	}

	if bar != nil {
		fmt.Println()
	}

	// The walk covered the whole project, so anything not refreshed was
	// deleted upstream. Cascades take instances and stack members with it.
	pruned, err := fileRepo.PruneMissing(ctx, projectID, syncMark)
	if err != nil {
		return fmt.Errorf("failed to prune removed files: %w", err)
	}

	duration := time.Since(startTime)
	result := SyncResult{
		Success:           true,
		RowsMirrored:      mirrored,
		RowsPruned:        pruned.FilesRemoved,
		AssetsRemoved:     pruned.AssetsRemoved,
		StacksInvalidated: pruned.StacksInvalidated,
		DurationMs:        duration.Milliseconds(),
		DurationHuman:     formatDuration(duration),
	}

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\nSync complete!")
	fmt.Printf("  Rows mirrored: %d\n", result.RowsMirrored)
	fmt.Printf("  Rows pruned:   %d\n", result.RowsPruned)
	if result.AssetsRemoved > 0 {
		fmt.Printf("  Assets removed: %d\n", result.AssetsRemoved)
	}
	if result.StacksInvalidated > 0 {
		fmt.Printf("  Stacks invalidated: %d\n", result.StacksInvalidated)
	}
	fmt.Printf("  Duration:      %s\n", result.DurationHuman)

	return nil
}
