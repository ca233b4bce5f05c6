package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/kozaktomas/photo-stacker/internal/backfill"
	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/fingerprint"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Link mirrored files to content-identity assets",
	Long: `Walk the backlog of mirrored files that have no asset yet, hash each
file and link it to its content-identity asset. Files with identical
bytes share one asset; the best instance of each asset is elected as
its representative.

The run holds a per-project lease, so only one backfill can run at a
time. Progress is committed per batch: an interrupted run resumes
where it stopped.

Examples:
  # Backfill project 1 (the default)
  photo-stacker backfill

  # Smaller batches, JSON output
  photo-stacker backfill --batch-size 100 --json`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().Int64("project", 1, "Project to backfill")
	backfillCmd.Flags().Int("batch-size", 0, "Files per transaction (default 500)")
	backfillCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	projectID := mustGetInt64(cmd, "project")
	batchSize := mustGetInt(cmd, "batch-size")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()

	if _, err := initPostgresBackend(cfg); err != nil {
		return err
	}

	assets, err := database.GetAssetStore(ctx)
	if err != nil {
		return err
	}
	leases, err := database.GetLeaseStore(ctx)
	if err != nil {
		return err
	}

	hasher := backfill.NewHasher(cfg.Scanner.MediaRoot, fingerprint.NewExtractor())
	engine := backfill.New(assets, leases, hasher)

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Linking files"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	result, err := engine.Run(ctx, backfill.Options{
		ProjectID: projectID,
		BatchSize: batchSize,
		OnProgress: func(p backfill.ProgressInfo) {
			if bar == nil {
				return
			}
			if p.Total > 0 && bar.GetMax() != p.Total {
				bar.ChangeMax(p.Total)
			}
			bar.Set(p.Current)
		},
	})
	if err != nil {
		if errors.Is(err, backfill.ErrLeaseHeld) {
			return errors.New("another backfill run holds the project lease")
		}
		return fmt.Errorf("backfill failed: %w", err)
	}

	if bar != nil {
		fmt.Println()
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("\nBackfill complete!")
	fmt.Printf("  %s\n", result)
	fmt.Printf("  Duration: %s\n", formatDuration(result.Elapsed.Round(time.Second)))

	return nil
}
