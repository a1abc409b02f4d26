package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridpulse/gridpulse/pkg/analytics"
	"github.com/gridpulse/gridpulse/pkg/ingest"
)

// statsCmd implements: gridpulse stats
//
// Offline analytics over already-stored records; nothing is fetched.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Derive analytics from stored records",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		scope, _ := cmd.Flags().GetString("scope")
		indicator, _ := cmd.Flags().GetString("indicator")

		req, err := ingest.ParseRequest(start, end, scope, false)
		if err != nil {
			return err
		}

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		engine := analytics.NewEngine(db)
		ctx := cmd.Context()

		aggregate, err := engine.Aggregate(ctx, req.Start, req.End, req.Scope)
		if err != nil {
			return err
		}
		analysis, err := engine.Analyze(ctx, indicator, req.Start, req.End, req.Scope)
		if err != nil {
			return err
		}
		sustainability, err := engine.Sustainability(ctx, req.Start, req.End, req.Scope)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"aggregate":      aggregate,
			"analysis":       analysis,
			"sustainability": sustainability,
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("start", "", "Range start (YYYY-MM-DD)")
	statsCmd.Flags().String("end", "", "Range end (YYYY-MM-DD)")
	statsCmd.Flags().String("scope", "day", "Granularity: hour, day, month or year")
	statsCmd.Flags().String("indicator", "totalGeneration", "Series for trend/anomaly analysis: totalGeneration, totalDemand, balance, renewablePercentage")
	statsCmd.MarkFlagRequired("start")
	statsCmd.MarkFlagRequired("end")
}
