package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/haldvik/skribo/internal/document"
)

func newTestSQLiteAdapter(t *testing.T) *SQLiteAdapter {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "skribo.db"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adapter, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return adapter
}

func TestSQLiteAdapterRoundTrip(t *testing.T) {
	adapter := newTestSQLiteAdapter(t)

	archive := sampleArchive()
	archive.Accounts["mara"] = document.Account{Secret: "hash", Document: document.New()}

	if err := adapter.Save(context.Background(), archive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc := loaded.Accounts[document.DefaultAccountID].Document
	if doc.QuickNote != "scratch" {
		t.Fatalf("unexpected quick note: %q", doc.QuickNote)
	}
	if len(doc.Categories["Work"]) != 1 || doc.Categories["Work"][0].Text != "Buy milk" {
		t.Fatalf("unexpected categories: %+v", doc.Categories)
	}
	if loaded.Accounts["mara"].Secret != "hash" {
		t.Fatalf("expected the credential hash to survive, got %+v", loaded.Accounts["mara"])
	}
	if len(loaded.Feed) != 1 || loaded.Feed[0].Author != "mara" {
		t.Fatalf("unexpected feed: %+v", loaded.Feed)
	}
}

func TestSQLiteAdapterEmptyDatabaseYieldsEmptyArchive(t *testing.T) {
	adapter := newTestSQLiteAdapter(t)

	archive, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := archive.Accounts[document.DefaultAccountID]; !ok {
		t.Fatalf("expected a normalized empty archive, got %+v", archive)
	}
	if len(archive.Feed) != 0 {
		t.Fatalf("expected an empty feed, got %+v", archive.Feed)
	}
}

func TestSQLiteAdapterSavePrunesRemovedAccounts(t *testing.T) {
	adapter := newTestSQLiteAdapter(t)

	first := sampleArchive()
	first.Accounts["mara"] = document.Account{Secret: "hash", Document: document.New()}
	if err := adapter.Save(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := sampleArchive()
	if err := adapter.Save(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := loaded.Accounts["mara"]; ok {
		t.Fatalf("expected the removed account to be pruned, got %+v", loaded.Accounts)
	}
}

func TestSQLiteAdapterSaveOverwritesInPlace(t *testing.T) {
	adapter := newTestSQLiteAdapter(t)

	archive := sampleArchive()
	if err := adapter.Save(context.Background(), archive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	account := archive.Accounts[document.DefaultAccountID]
	account.Document.QuickNote = "updated"
	archive.Accounts[document.DefaultAccountID] = account
	if err := adapter.Save(context.Background(), archive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := loaded.Accounts[document.DefaultAccountID].Document.QuickNote; got != "updated" {
		t.Fatalf("expected the second save to win, got %q", got)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}

func TestNewSQLiteRequiresHandle(t *testing.T) {
	if _, err := NewSQLite(nil); err == nil {
		t.Fatalf("expected an error for a nil handle")
	}
}
