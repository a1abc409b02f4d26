package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the local record database",
}

// dbPathCmd implements: gridpulse db path
var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the resolved database path",
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(dbPath(cmd))
		if err != nil {
			return err
		}
		fmt.Println(abs)
		return nil
	},
}

// dbStatsCmd implements: gridpulse db stats
var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts and coverage per granularity",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("database is empty")
			return nil
		}
		for _, s := range stats {
			fmt.Printf("%-6s %8d records  %s .. %s\n", s.Scope, s.Records, s.Oldest, s.Newest)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbPathCmd)
	dbCmd.AddCommand(dbStatsCmd)
}
