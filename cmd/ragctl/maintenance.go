package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/serisow/ragone/config"
)

var (
	defaultStaleAfter = config.DefaultRAG().StaleProcessingAfter
	staleOlderThan    time.Duration
)

var resetStaleCmd = &cobra.Command{
	Use:   "reset-stale",
	Short: "Mark documents stuck in processing as failed",
	Long: `Documents abandoned mid-ingestion, for example by a restart, stay in
processing forever. This marks every document that has been processing for
longer than --older-than as failed so it can be reprocessed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd.Context(), func(svc *services) error {
			n, err := svc.maintenance.ResetStaleProcessing(cmd.Context(), staleOlderThan)
			if err != nil {
				return err
			}
			cmd.Printf("Reset %d stale documents.\n", n)
			return nil
		})
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector indexes for the current row counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withServices(cmd.Context(), func(svc *services) error {
			cmd.Println("Rebuilding vector indexes...")
			if err := svc.indexes.RebuildAll(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Vector indexes rebuilt.")
			return nil
		})
	},
}

func init() {
	resetStaleCmd.Flags().DurationVar(&staleOlderThan, "older-than", defaultStaleAfter, "minimum time spent in processing")
	rootCmd.AddCommand(resetStaleCmd, reindexCmd)
}
