package testsupport

import (
	"context"
	"fmt"
	"testing"

	"pulmo/internal/config"
	"pulmo/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

var requestCounter int

// NewRequest creates a queued request for tests using the provided store.
func NewRequest(t testing.TB, store *registry.Store, fileName string) *registry.Request {
	t.Helper()

	requestCounter++
	req, err := store.Create(context.Background(), registry.NewRequest{
		ID:       fmt.Sprintf("test-req-%s-%d", t.Name(), requestCounter),
		FileName: fileName,
		FileType: "txt",
		FileSize: 512,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return req
}
