package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nullstream/eventstream/internal/logging"
	"github.com/nullstream/eventstream/migration"
	"github.com/nullstream/eventstream/migration/lock"
	"github.com/nullstream/eventstream/migration/lock/memlock"
	"github.com/nullstream/eventstream/migration/lock/redislock"
)

var (
	migrateObjectName string
	migrateObjectID   string
	migrateOldStream  string
	migrateNewStream  string
	migrateRedisURL   string
)

// backupStore backs every saga run issued from this process; a real
// deployment persists it (see migration.BackupStore) instead of keeping
// it in-process.
var backupStore = migration.NewMemoryBackupStore()

// migrateCmd represents the migrate command group: running a schema or
// storage migration saga against a single object's stream.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run a stream migration saga",
	Long:  `Drives an object's event stream through the six-step migration saga: backup, analyze, copy-transform, verify, cutover, close-books.`,
}

var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a migration for one object",
	Long:  `Runs the full migration saga for a single object, copying its stream from the old stream identifier to the new one, with identity transform.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		doc, err := rawDocs.Load(ctx, migrateObjectName, migrateObjectID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to load document %s/%s: %w", migrateObjectName, migrateObjectID, err))
			return
		}

		locker, release, err := resolveMigrateLocker(ctx)
		if err != nil {
			exitWithError(fmt.Errorf("failed to acquire a migration locker: %w", err))
			return
		}
		if release != nil {
			defer release()
		}

		migrationID := uuid.NewString()
		saga := migration.New(migration.Config{
			ObjectName: migrateObjectName,
			ObjectID:   migrateObjectID,
			OldStream:  migrateOldStream,
			NewStream:  migrateNewStream,
			Data:       rawData,
			Docs:       rawDocs,
			Routing:    routingTable,
			Locker:     locker,
			Backups:    backupStore,
			Log:        logging.Default(),
		}, migrationID)

		// Saga.Progress never closes on its own, so watch it from a
		// goroutine that stops as soon as Run returns rather than
		// ranging over the channel.
		stopProgress := make(chan struct{})
		go func() {
			for {
				select {
				case p := <-saga.Progress():
					fmt.Printf("  [%s] phase=%s processed=%d/%d\n", migrationID, p.Phase, p.EventsProcessed, p.TotalEvents)
				case <-stopProgress:
					return
				}
			}
		}()

		err = saga.Run(ctx, doc)
		close(stopProgress)
		if err != nil {
			exitWithError(fmt.Errorf("migration %s failed: %w", migrationID, err))
			return
		}

		fmt.Printf("Migration %s for %s/%s completed: %s -> %s\n", migrationID, migrateObjectName, migrateObjectID, migrateOldStream, migrateNewStream)
	},
}

// resolveMigrateLocker picks the saga's distributed lock: redislock when
// --redis-url is given, the in-process memlock otherwise. The returned
// func, when non-nil, releases resources the locker opened and must run
// after the saga completes.
func resolveMigrateLocker(ctx context.Context) (lock.Locker, func(), error) {
	if migrateRedisURL == "" {
		return memlock.New(), nil, nil
	}
	locker, err := redislock.New(ctx, redislock.Config{RedisURL: migrateRedisURL}, logging.Default())
	if err != nil {
		return nil, nil, err
	}
	return locker, func() { _ = locker.Close() }, nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateRunCmd)

	migrateRunCmd.Flags().StringVar(&migrateObjectName, "object", "Account", "Object name to migrate")
	migrateRunCmd.Flags().StringVar(&migrateObjectID, "id", "", "Object ID to migrate (required)")
	migrateRunCmd.Flags().StringVar(&migrateOldStream, "old-stream", "", "Old stream identifier (required)")
	migrateRunCmd.Flags().StringVar(&migrateNewStream, "new-stream", "", "New stream identifier (required)")
	migrateRunCmd.Flags().StringVar(&migrateRedisURL, "redis-url", "", "Redis URL for a distributed migration lock (migration/lock/redislock); the in-process memlock is used when empty")
	_ = migrateRunCmd.MarkFlagRequired("id")
	_ = migrateRunCmd.MarkFlagRequired("old-stream")
	_ = migrateRunCmd.MarkFlagRequired("new-stream")
}
