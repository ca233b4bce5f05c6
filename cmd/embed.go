package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/constants"
	"github.com/kozaktomas/photo-stacker/internal/fingerprint"
	"github.com/kozaktomas/photo-stacker/internal/database/postgres"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Compute image embeddings for files that have none",
	Long: `Compute image embeddings for mirrored files that have no vector yet,
using the embedding server, and store them in PostgreSQL.

Similar and burst stack generation falls back to perceptual hashes for
files without embeddings, so this command is optional but improves
grouping quality.

Requires the embedding server (EMBEDDING_URL, default
http://localhost:8000) to be running.

Examples:
  # Embed everything missing for project 1
  photo-stacker embed

  # JSON output for scripting
  photo-stacker embed --json`,
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)

	embedCmd.Flags().Int64("project", 1, "Project to embed")
	embedCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// EmbedResult represents the result of an embed operation
type EmbedResult struct {
	Success       bool   `json:"success"`
	Embedded      int    `json:"embedded"`
	Errors        int    `json:"errors"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

func runEmbed(cmd *cobra.Command, args []string) error {
	projectID := mustGetInt64(cmd, "project")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()
	startTime := time.Now()

	pool, err := initPostgresBackend(cfg)
	if err != nil {
		return err
	}
	embeddingRepo := postgres.NewEmbeddingRepository(pool)
	client := fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Dim)

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Embedding files"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	embedded := 0
	errorCount := 0
	var afterID int64
	for {
		occurrences, err := embeddingRepo.MissingForProject(ctx, projectID, afterID, constants.SyncPageSize)
		if err != nil {
			return fmt.Errorf("failed to list embedding backlog: %w", err)
		}
		if len(occurrences) == 0 {
			break
		}

		for _, occ := range occurrences {
			data, err := os.ReadFile(filepath.Join(cfg.Scanner.MediaRoot, occ.Path))
			if err != nil {
				errorCount++
				continue
			}
			vec, model, err := client.ComputeEmbedding(ctx, data)
			if err != nil {
				errorCount++
				continue
			}
			if err := embeddingRepo.Save(ctx, occ.ID, vec, model); err != nil {
				return fmt.Errorf("failed to save embedding: %w", err)
			}
			embedded++
			if bar != nil {
				bar.Add(1)
			}
		}

		afterID = occurrences[len(occurrences)-1].ID
	}

	if bar != nil {
		fmt.Println()
	}

	duration := time.Since(startTime)
	result := EmbedResult{
		Success:       true,
		Embedded:      embedded,
		Errors:        errorCount,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\nEmbedding complete!")
	fmt.Printf("  Embedded: %d\n", result.Embedded)
	if result.Errors > 0 {
		fmt.Printf("  Errors:   %d\n", result.Errors)
	}
	fmt.Printf("  Duration: %s\n", result.DurationHuman)

	return nil
}
