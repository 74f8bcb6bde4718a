package redmap

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/redmap/internal/db"
)

func TestMigratorRun_CreatesMissingIndex(t *testing.T) {
	var created *db.IndexDefinition
	var storedKey string
	var storedValue []byte
	store := &mockStore{
		createIndexFn: func(_ context.Context, def *db.IndexDefinition) error {
			created = def
			return nil
		},
		setFn: func(_ context.Context, key string, value []byte) error {
			storedKey, storedValue = key, value
			return nil
		},
	}
	c := testClient(store)
	repo := newNoteRepo(t, store)

	if err := c.Migrator().Run(context.Background(), repo); err != nil {
		t.Fatal(err)
	}
	if created == nil || created.Name != "test:note_model:index" {
		t.Fatalf("index not created: %+v", created)
	}
	if storedKey != "test:note_model:index:hash" {
		t.Errorf("fingerprint key = %q", storedKey)
	}
	if string(storedValue) != schemaFingerprint(created) {
		t.Error("stored fingerprint does not match the schema")
	}
}

func TestMigratorRun_SkipsUnchangedIndex(t *testing.T) {
	repo := newNoteRepo(t, &mockStore{})
	sum := schemaFingerprint(repo.IndexDefinition())

	createCalls := 0
	store := &mockStore{
		getFn: func(_ context.Context, key string) ([]byte, error) {
			return []byte(sum), nil
		},
		indexExistsFn: func(_ context.Context, name string) (bool, error) {
			return true, nil
		},
		createIndexFn: func(_ context.Context, def *db.IndexDefinition) error {
			createCalls++
			return nil
		},
	}
	c := testClient(store)
	repo = newNoteRepo(t, store)

	if err := c.Migrator().Run(context.Background(), repo); err != nil {
		t.Fatal(err)
	}
	if createCalls != 0 {
		t.Errorf("unchanged index should not be recreated, create called %d times", createCalls)
	}
}

func TestMigratorRun_RecreatesDriftedIndex(t *testing.T) {
	var dropped string
	createCalls := 0
	store := &mockStore{
		getFn: func(_ context.Context, key string) ([]byte, error) {
			return []byte("stale-fingerprint"), nil
		},
		indexExistsFn: func(_ context.Context, name string) (bool, error) {
			return true, nil
		},
		dropIndexFn: func(_ context.Context, name string) error {
			dropped = name
			return nil
		},
		createIndexFn: func(_ context.Context, def *db.IndexDefinition) error {
			createCalls++
			return nil
		},
	}
	c := testClient(store)
	repo := newNoteRepo(t, store)

	if err := c.Migrator().Run(context.Background(), repo); err != nil {
		t.Fatal(err)
	}
	if dropped != "test:note_model:index" {
		t.Errorf("dropped = %q", dropped)
	}
	if createCalls != 1 {
		t.Errorf("create called %d times, want 1", createCalls)
	}
}

func TestMigratorRun_StoreErrorSurfaces(t *testing.T) {
	boom := errors.New("LOADING Redis is loading the dataset in memory")
	store := &mockStore{
		indexExistsFn: func(_ context.Context, name string) (bool, error) {
			return false, boom
		},
	}
	c := testClient(store)
	repo := newNoteRepo(t, store)

	if err := c.Migrator().Run(context.Background(), repo); !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestMigratorDrop(t *testing.T) {
	var dropped, deleted string
	store := &mockStore{
		dropIndexFn: func(_ context.Context, name string) error {
			dropped = name
			return nil
		},
		delFn: func(_ context.Context, key string) error {
			deleted = key
			return nil
		},
	}
	c := testClient(store)
	repo := newNoteRepo(t, store)

	if err := c.Migrator().Drop(context.Background(), repo); err != nil {
		t.Fatal(err)
	}
	if dropped != "test:note_model:index" {
		t.Errorf("dropped = %q", dropped)
	}
	if deleted != "test:note_model:index:hash" {
		t.Errorf("fingerprint key deleted = %q", deleted)
	}
}

func TestMigratorDrop_ToleratesMissingIndex(t *testing.T) {
	store := &mockStore{
		dropIndexFn: func(_ context.Context, name string) error {
			return db.ErrIndexNotFound
		},
	}
	c := testClient(store)
	repo := newNoteRepo(t, store)

	if err := c.Migrator().Drop(context.Background(), repo); err != nil {
		t.Errorf("missing index should not fail Drop: %v", err)
	}
}
