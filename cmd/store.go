package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nullstream/eventstream/config"
	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/datastore/boltstore"
	"github.com/nullstream/eventstream/datastore/memstore"
	"github.com/nullstream/eventstream/datastore/pgstore"
	"github.com/nullstream/eventstream/datastore/resilient"
	"github.com/nullstream/eventstream/errcode"
)

var (
	dataStoreFlag   string
	boltPathFlag    string
	postgresDSNFlag string
	resilientFlag   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataStoreFlag, "data-store", "",
		`Backing store to use: "memory", "bolt", or "postgres" (defaults to config.Default()'s "memory")`)
	rootCmd.PersistentFlags().StringVar(&boltPathFlag, "bolt-path", "ledger.bolt",
		"bbolt database file path, used when --data-store=bolt")
	rootCmd.PersistentFlags().StringVar(&postgresDSNFlag, "postgres-dsn", "",
		"PostgreSQL connection string, required when --data-store=postgres")
	rootCmd.PersistentFlags().BoolVar(&resilientFlag, "resilient", false,
		"Wrap the selected data store with exponential-backoff retry (datastore/resilient)")
}

// buildBackingStore resolves the operative config.Settings (config.Default,
// overridden by --data-store) and constructs the concrete DataStore/
// DocumentStore pair it names. The config package itself stays ignorant
// of memstore/boltstore/pgstore by design (spec.md §6 treats Settings as
// a pure validated record); this function is the one place that maps a
// resolved store name onto a real backend.
func buildBackingStore() (datastore.DataStore, datastore.DocumentStore, error) {
	settings := config.Default()
	if dataStoreFlag != "" {
		resolved, err := config.New(config.Settings{
			DefaultDataStore:    dataStoreFlag,
			AutoCreateContainer: true,
			DefaultChunkSize:    1000,
		})
		if err != nil {
			return nil, nil, err
		}
		settings = resolved
	}

	switch settings.DefaultDataStore {
	case "memory":
		store := memstore.New()
		return wrapResilient(store), store, nil

	case "bolt":
		store, err := boltstore.Open(boltPathFlag)
		if err != nil {
			return nil, nil, fmt.Errorf("cmd: open bolt store at %s: %w", boltPathFlag, err)
		}
		return wrapResilient(store), store, nil

	case "postgres":
		if postgresDSNFlag == "" {
			return nil, nil, fmt.Errorf("cmd: --postgres-dsn is required when --data-store=postgres")
		}
		pool, err := pgxpool.New(context.Background(), postgresDSNFlag)
		if err != nil {
			return nil, nil, fmt.Errorf("cmd: connect to postgres: %w", err)
		}
		store := pgstore.New(pool)
		// pgstore does not implement DocumentStore (see its package
		// comment): object documents live alongside it in an in-process
		// store rather than a second Postgres table this CLI would need
		// its own migration for.
		return wrapResilient(store), memstore.New(), nil

	default:
		return nil, nil, errcode.New(errcode.CodeUnresolvedStore, errcode.Configuration,
			fmt.Sprintf("unknown data store %q", settings.DefaultDataStore), nil)
	}
}

func wrapResilient(store datastore.DataStore) datastore.DataStore {
	if !resilientFlag {
		return store
	}
	return resilient.Wrap(store)
}
