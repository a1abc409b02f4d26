package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/gridpulse/gridpulse/internal/utils"
	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/ingest"
)

// backfillCmd implements: gridpulse backfill
//
// Loads a historical window in 30-day chunks (configurable), continuing
// past failed chunks instead of aborting.
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load historical balance records in chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		scopeStr, _ := cmd.Flags().GetString("scope")
		force, _ := cmd.Flags().GetBool("force")

		scope, err := balance.ParseTimeScope(scopeStr)
		if err != nil {
			return err
		}

		end := time.Now()
		start := end.AddDate(0, 0, -days)

		db, release, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer release()

		utils.Log.Infof("backfilling %d days of %s records", days, scope)
		res, err := buildPipeline(db).Backfill(cmd.Context(), ingest.Request{
			Start: start,
			End:   end,
			Scope: scope,
			Force: force,
		})
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().Int("days", 60, "How many days back to load")
	backfillCmd.Flags().String("scope", "day", "Granularity: hour, day, month or year")
	backfillCmd.Flags().BoolP("force", "f", false, "Re-fetch and overwrite records that already exist")
}
