package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/constants"
	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/stacker"
)

var stacksCmd = &cobra.Command{
	Use:   "stacks",
	Short: "Generate and inspect photo stacks",
}

var stacksGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Rebuild all stacks of one type for a project",
	Long: `Rebuild all stacks of the given type for a project. Generation is a
full replace: previous stacks of the type are cleared and fresh ones
are written from the current assets, hashes and embeddings.

Examples:
  # Exact-duplicate stacks from content hashes
  photo-stacker stacks generate --type duplicate

  # Similar stacks with a stricter threshold
  photo-stacker stacks generate --type similar --threshold 0.95`,
	RunE: runStacksGenerate,
}

var stacksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stacks for a project",
	RunE:  runStacksList,
}

func init() {
	rootCmd.AddCommand(stacksCmd)
	stacksCmd.AddCommand(stacksGenerateCmd)
	stacksCmd.AddCommand(stacksListCmd)

	stacksGenerateCmd.Flags().Int64("project", 1, "Project to generate stacks for")
	stacksGenerateCmd.Flags().String("type", "", "Stack type: duplicate, near_duplicate, similar, burst")
	stacksGenerateCmd.Flags().String("rule-version", "", "Override the configured rule version")
	stacksGenerateCmd.Flags().Float64("threshold", 0, "Override the embedding similarity threshold")
	stacksGenerateCmd.Flags().Int("hamming", 0, "Override the perceptual-hash Hamming threshold")
	stacksGenerateCmd.Flags().Int("window", 0, "Override the capture window in seconds")
	stacksGenerateCmd.Flags().Bool("json", false, "Output stats as JSON")
	stacksGenerateCmd.MarkFlagRequired("type")

	stacksListCmd.Flags().Int64("project", 1, "Project to list stacks for")
	stacksListCmd.Flags().String("type", "", "Filter by stack type")
	stacksListCmd.Flags().Int("limit", constants.DefaultHandlerPageSize, "Maximum stacks to list")
	stacksListCmd.Flags().Int("offset", 0, "Listing offset")
	stacksListCmd.Flags().Bool("json", false, "Output as JSON")
}

// mergeRuleOverrides applies non-zero flag values on top of the configured
// generation rules.
func mergeRuleOverrides(cmd *cobra.Command, rules config.StackRules) config.StackRules {
	if v := mustGetString(cmd, "rule-version"); v != "" {
		rules.RuleVersion = v
	}
	if v := mustGetFloat64(cmd, "threshold"); v > 0 {
		rules.SimilarityThreshold = v
	}
	if v := mustGetInt(cmd, "hamming"); v > 0 {
		rules.HammingThreshold = v
	}
	if v := mustGetInt(cmd, "window"); v > 0 {
		rules.CaptureWindowSeconds = v
	}
	return rules
}

func runStacksGenerate(cmd *cobra.Command, args []string) error {
	projectID := mustGetInt64(cmd, "project")
	stackType := database.StackType(mustGetString(cmd, "type"))
	jsonOutput := mustGetBool(cmd, "json")

	if !database.ValidStackType(stackType) {
		return fmt.Errorf("unknown stack type %q", stackType)
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
	stacks, err := database.GetStackStore(ctx)
	if err != nil {
		return err
	}
	embeddings, err := database.GetEmbeddingReader(ctx)
	if err != nil {
		return err
	}

	rules := mergeRuleOverrides(cmd, cfg.Rules.Rules)

	if !jsonOutput {
		fmt.Printf("Generating %s stacks (rule version %s)...\n", stackType, rules.RuleVersion)
	}

	generator := stacker.NewGenerator(assets, stacks, embeddings, rules)
	stats, err := generator.Generate(ctx, projectID, stackType)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(stats)
	}

	fmt.Println("\nGeneration complete!")
	fmt.Printf("  Stacks cleared: %d\n", stats.StacksCleared)
	fmt.Printf("  Stacks created: %d\n", stats.StacksCreated)
	fmt.Printf("  Members added:  %d\n", stats.MembersAdded)
	fmt.Printf("  Duration:       %s\n", formatDuration(stats.Elapsed.Round(time.Second)))

	return nil
}

func runStacksList(cmd *cobra.Command, args []string) error {
	projectID := mustGetInt64(cmd, "project")
	stackType := database.StackType(mustGetString(cmd, "type"))
	limit := mustGetInt(cmd, "limit")
	offset := mustGetInt(cmd, "offset")
	jsonOutput := mustGetBool(cmd, "json")

	if stackType != "" && !database.ValidStackType(stackType) {
		return fmt.Errorf("unknown stack type %q", stackType)
	}

	ctx := context.Background()
	cfg := config.Load()

	if _, err := initPostgresBackend(cfg); err != nil {
		return err
	}

	stacks, err := database.GetStackStore(ctx)
	if err != nil {
		return err
	}

	summaries, err := stacks.ListStacks(ctx, projectID, stackType, limit, offset)
	if err != nil {
		return fmt.Errorf("failed to list stacks: %w", err)
	}

	if jsonOutput {
		return outputJSON(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No stacks found.")
		return nil
	}

	fmt.Printf("%-8s %-15s %-10s %-8s %s\n", "ID", "TYPE", "RULE", "MEMBERS", "REPRESENTATIVE")
	for _, s := range summaries {
		fmt.Printf("%-8d %-15s %-10s %-8d %d\n", s.ID, s.Type, s.RuleVersion, s.MemberCount, s.RepresentativeID)
	}
	fmt.Printf("\n%d stacks\n", len(summaries))

	return nil
}
