package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridpulse/gridpulse/internal/utils"
	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/ingest"
	"github.com/gridpulse/gridpulse/pkg/ree"
	"github.com/gridpulse/gridpulse/pkg/scheduler"
	"github.com/gridpulse/gridpulse/pkg/storage"
)

func dbPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("dbpath")
	if path == "" {
		path = "gridpulse.sqlite"
	}
	return path
}

func openDB(cmd *cobra.Command) (*storage.DB, error) {
	return storage.Open(dbPath(cmd))
}

// openLockedDB is openDB plus the cross-process writer lock. Commands that
// write to the database use this; the returned release closes the database
// and drops the lock.
func openLockedDB(cmd *cobra.Command) (*storage.DB, func(), error) {
	path := dbPath(cmd)
	lock, err := utils.NewDBLock(path)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(path)
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	release := func() {
		db.Close()
		if err := lock.Unlock(); err != nil {
			utils.Log.Warnf("releasing database lock: %v", err)
		}
	}
	return db, release, nil
}

// buildPipeline wires the upstream client and the store into a pipeline from
// config values.
func buildPipeline(db *storage.DB) *ingest.Pipeline {
	client := ree.NewClient(
		viper.GetString("source.baseurl"),
		time.Duration(viper.GetInt("source.timeout_seconds"))*time.Second,
	)
	cfg := ingest.Config{
		MaxRetries:   viper.GetInt("ingest.max_retries"),
		RetryBase:    time.Duration(viper.GetInt("ingest.retry_base_seconds")) * time.Second,
		ChunkDays:    viper.GetInt("ingest.chunk_days"),
		ChunkDelay:   time.Duration(viper.GetInt("ingest.chunk_delay_ms")) * time.Millisecond,
		MaxRangeDays: viper.GetInt("ingest.max_range_days"),
	}
	return ingest.New(client, db, cfg)
}

func buildSchedulerConfig() scheduler.Config {
	scopes := make(map[balance.TimeScope]scheduler.ScopeConfig, len(balance.AllScopes))
	for _, scope := range balance.AllScopes {
		key := "schedule." + string(scope)
		scopes[scope] = scheduler.ScopeConfig{
			Cron:         viper.GetString(key + ".cron"),
			BackfillDays: viper.GetInt(key + ".backfill_days"),
			RefreshDays:  viper.GetInt(key + ".refresh_days"),
		}
	}
	return scheduler.Config{
		Scopes:          scopes,
		RetryDelay:      time.Duration(viper.GetInt("schedule.retry_delay_minutes")) * time.Minute,
		MaxRetries:      viper.GetInt("schedule.max_retries"),
		BackfillOnStart: viper.GetBool("schedule.backfill_on_start"),
	}
}
