package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/gridpulse/gridpulse/internal/utils"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gridpulse",
	Short: "Collector and analytics for national grid balance data.",
	Long: `gridpulse ingests hourly/daily/monthly/yearly electricity balance data
(generation, demand, international interchange) from the public grid operator
API, stores it locally, and derives trends, anomalies, correlations and
sustainability metrics over any date range.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gridpulse.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: gridpulse.sqlite in CWD)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".gridpulse")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.gridpulse.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Upstream source
	viper.SetDefault("source.baseurl", "")
	viper.SetDefault("source.timeout_seconds", 30)

	// Ingestion pipeline
	viper.SetDefault("ingest.max_retries", 3)
	viper.SetDefault("ingest.retry_base_seconds", 1)
	viper.SetDefault("ingest.chunk_days", 30)
	viper.SetDefault("ingest.chunk_delay_ms", 500)
	viper.SetDefault("ingest.max_range_days", 366)

	// Per-granularity schedules and lookbacks
	viper.SetDefault("schedule.hour.cron", "10 * * * *")
	viper.SetDefault("schedule.hour.backfill_days", 2)
	viper.SetDefault("schedule.hour.refresh_days", 1)
	viper.SetDefault("schedule.day.cron", "30 2 * * *")
	viper.SetDefault("schedule.day.backfill_days", 60)
	viper.SetDefault("schedule.day.refresh_days", 2)
	viper.SetDefault("schedule.month.cron", "0 4 1 * *")
	viper.SetDefault("schedule.month.backfill_days", 365)
	viper.SetDefault("schedule.month.refresh_days", 35)
	viper.SetDefault("schedule.year.cron", "0 5 1 1 *")
	viper.SetDefault("schedule.year.backfill_days", 1825)
	viper.SetDefault("schedule.year.refresh_days", 366)
	viper.SetDefault("schedule.retry_delay_minutes", 5)
	viper.SetDefault("schedule.max_retries", 3)
	viper.SetDefault("schedule.backfill_on_start", true)

	// Status server
	viper.SetDefault("server.addr", ":8585")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
