package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photo-stacker",
	Short: "A CLI tool for deduplicating and stacking photos",
	Long: `Photo Stacker links scanned media files to content-identity assets
and materializes duplicate, near-duplicate, similar and burst stacks
from content hashes, perceptual hashes and image embeddings.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
