package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridpulse/gridpulse/internal/server"
	"github.com/gridpulse/gridpulse/pkg/analytics"
	"github.com/gridpulse/gridpulse/pkg/scheduler"
)

// serveCmd implements: gridpulse serve
//
// Runs the full collector: scheduled ingestion per granularity (with the
// startup backfill) plus the JSON status/analytics API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled collector and the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, release, err := openLockedDB(cmd)
		if err != nil {
			return err
		}
		defer release()

		pipeline := buildPipeline(db)
		sched := scheduler.New(pipeline, buildSchedulerConfig())
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()

		srv := server.New(
			db,
			analytics.NewEngine(db),
			sched,
			viper.GetString("server.username"),
			viper.GetString("server.password"),
		)

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = viper.GetString("server.addr")
		}
		return srv.Start(addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default from config, :8585)")
}
