package config_test

import (
	"testing"

	"github.com/nullstream/eventstream/config"
)

func TestNewRequiresDefaultDataStore(t *testing.T) {
	_, err := config.New(config.Settings{})
	if err == nil {
		t.Fatalf("expected error for missing default_data_store")
	}
}

func TestNewFillsDefaults(t *testing.T) {
	s, err := config.New(config.Settings{DefaultDataStore: "bolt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DefaultDocumentStore != "bolt" || s.DefaultSnapshotStore != "bolt" || s.DefaultTagStore != "bolt" {
		t.Fatalf("expected all stores to default to bolt, got %+v", s)
	}
	if s.DefaultDocumentContainerName != "documents" {
		t.Fatalf("expected default container name, got %q", s.DefaultDocumentContainerName)
	}
}

func TestNewRejectsChunkingWithoutSize(t *testing.T) {
	_, err := config.New(config.Settings{DefaultDataStore: "bolt", EnableStreamChunks: true})
	if err == nil {
		t.Fatalf("expected error for chunking enabled with chunk size 0")
	}
}

func TestDefaultIsValid(t *testing.T) {
	s := config.Default()
	if s.DefaultDataStore != "memory" {
		t.Fatalf("expected memory store, got %q", s.DefaultDataStore)
	}
}
