package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/database"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Inspect content-identity assets",
}

var assetsDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List assets with multiple identical instances",
	Long: `List assets that more than one file links to, i.e. exact byte-level
duplicates discovered by backfill.

Examples:
  # All duplicate assets for project 1
  photo-stacker assets duplicates

  # Only assets with at least 3 copies, as JSON
  photo-stacker assets duplicates --min-instances 3 --json`,
	RunE: runAssetsDuplicates,
}

func init() {
	rootCmd.AddCommand(assetsCmd)
	assetsCmd.AddCommand(assetsDuplicatesCmd)

	assetsDuplicatesCmd.Flags().Int64("project", 1, "Project to inspect")
	assetsDuplicatesCmd.Flags().Int("min-instances", 2, "Minimum instances per asset")
	assetsDuplicatesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAssetsDuplicates(cmd *cobra.Command, args []string) error {
	projectID := mustGetInt64(cmd, "project")
	minInstances := mustGetInt(cmd, "min-instances")
	jsonOutput := mustGetBool(cmd, "json")

	if minInstances < 2 {
		minInstances = 2
	}

	ctx := context.Background()
	cfg := config.Load()

	if _, err := initPostgresBackend(cfg); err != nil {
		return err
	}

	assets, err := database.GetAssetStore(ctx)
	if err != nil {
		return err
	}

	summaries, err := assets.ListDuplicateAssets(ctx, projectID, minInstances)
	if err != nil {
		return fmt.Errorf("failed to list duplicate assets: %w", err)
	}

	if jsonOutput {
		return outputJSON(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No duplicate assets found.")
		return nil
	}

	fmt.Printf("%-8s %-12s %-10s %s\n", "ASSET", "INSTANCES", "REP", "CONTENT HASH")
	for _, s := range summaries {
		rep := "-"
		if s.RepresentativeID != nil {
			rep = fmt.Sprintf("%d", *s.RepresentativeID)
		}
		fmt.Printf("%-8d %-12d %-10s %s\n", s.AssetID, s.InstanceCount, rep, s.ContentHash)
	}
	fmt.Printf("\n%d duplicate assets\n", len(summaries))

	return nil
}
