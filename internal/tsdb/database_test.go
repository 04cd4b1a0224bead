package tsdb

import (
	"errors"
	"testing"
)

func TestCreateDatabaseThenOpen(t *testing.T) {
	root := newTestRoot(t, DefaultConfig())
	db, err := root.CreateDatabase("events")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	defer db.Close()

	reopened, err := root.OpenDatabase("events")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer reopened.Close()
	if reopened.Name() != "events" {
		t.Fatalf("Name() = %q", reopened.Name())
	}
}

func TestCreateDatabaseIdempotent(t *testing.T) {
	root := newTestRoot(t, DefaultConfig())
	db1, err := root.CreateDatabase("events")
	if err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	db1.Close()

	db2, err := root.CreateDatabase("events")
	if err != nil {
		t.Fatalf("CreateDatabase (idempotent): %v", err)
	}
	defer db2.Close()
	if db2.Name() != "events" {
		t.Fatalf("Name() = %q", db2.Name())
	}
}

func TestOpenDatabaseNoSuchDatabase(t *testing.T) {
	root := newTestRoot(t, DefaultConfig())
	_, err := root.OpenDatabase("missing")
	if !errors.Is(err, ErrNoSuchDatabase) {
		t.Fatalf("expected ErrNoSuchDatabase, got %v", err)
	}
}

func TestListDatabases(t *testing.T) {
	root := newTestRoot(t, DefaultConfig())
	for _, name := range []string{"alpha", "beta"} {
		db, err := root.CreateDatabase(name)
		if err != nil {
			t.Fatalf("CreateDatabase(%q): %v", name, err)
		}
		db.Close()
	}
	names, err := root.ListDatabases()
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("ListDatabases() = %v, want 2 entries", names)
	}
}

func TestCreateDatabaseRejectsInvalidName(t *testing.T) {
	root := newTestRoot(t, DefaultConfig())
	if _, err := root.CreateDatabase("has/slash"); err == nil {
		t.Fatal("expected error for invalid database name")
	}
}
