// Package config holds the backend settings record (spec.md §6): which
// named stores back each concern, and the chunking/container defaults
// every backend shares.
package config

import (
	"fmt"

	"github.com/nullstream/eventstream/errcode"
)

// Settings is the validated configuration record. DefaultDataStore is
// the only required field; the other store names default to it.
type Settings struct {
	DefaultDataStore             string `json:"defaultDataStore"`
	DefaultDocumentStore         string `json:"defaultDocumentStore"`
	DefaultSnapshotStore         string `json:"defaultSnapshotStore"`
	DefaultTagStore              string `json:"defaultTagStore"`
	AutoCreateContainer          bool   `json:"autoCreateContainer"`
	EnableStreamChunks           bool   `json:"enableStreamChunks"`
	DefaultChunkSize             int64  `json:"defaultChunkSize"`
	DefaultDocumentContainerName string `json:"defaultDocumentContainerName"`
}

// New validates raw and fills in defaults, replacing the teacher's
// log.Fatal-on-nil-dependency pattern (app.NewAccountService) with a
// returned ConfigurationError so callers can recover from bad settings
// instead of crashing the process.
func New(raw Settings) (Settings, error) {
	if raw.DefaultDataStore == "" {
		return Settings{}, errcode.New(errcode.CodeMissingSetting, errcode.Configuration,
			"default_data_store is required", nil)
	}
	if raw.DefaultDocumentStore == "" {
		raw.DefaultDocumentStore = raw.DefaultDataStore
	}
	if raw.DefaultSnapshotStore == "" {
		raw.DefaultSnapshotStore = raw.DefaultDataStore
	}
	if raw.DefaultTagStore == "" {
		raw.DefaultTagStore = raw.DefaultDataStore
	}
	if raw.EnableStreamChunks && raw.DefaultChunkSize < 1 {
		return Settings{}, errcode.New(errcode.CodeMissingSetting, errcode.Configuration,
			fmt.Sprintf("default_chunk_size must be >= 1 when stream chunks are enabled, got %d", raw.DefaultChunkSize), nil)
	}
	if raw.DefaultDocumentContainerName == "" {
		raw.DefaultDocumentContainerName = "documents"
	}
	return raw, nil
}

// Default returns the in-memory single-node defaults used by the worked
// example and tests.
func Default() Settings {
	s, err := New(Settings{
		DefaultDataStore:    "memory",
		AutoCreateContainer: true,
		EnableStreamChunks:  false,
		DefaultChunkSize:    1000,
	})
	if err != nil {
		// Default() builds a known-valid literal; a failure here is a
		// programming error in this package, not a caller mistake.
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	return s
}

// ResolveDocumentStore reports the effective document store name, honoring
// the "each defaults to DefaultDataStore" rule even if called before New
// has filled fields (e.g. on a zero-value Settings).
func (s Settings) ResolveDocumentStore() string {
	if s.DefaultDocumentStore != "" {
		return s.DefaultDocumentStore
	}
	return s.DefaultDataStore
}

func (s Settings) ResolveSnapshotStore() string {
	if s.DefaultSnapshotStore != "" {
		return s.DefaultSnapshotStore
	}
	return s.DefaultDataStore
}

func (s Settings) ResolveTagStore() string {
	if s.DefaultTagStore != "" {
		return s.DefaultTagStore
	}
	return s.DefaultDataStore
}
