package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/haldvik/skribo/internal/document"
)

func archiveWithQuickNote(text string) document.Archive {
	archive := document.NewArchive()
	account := archive.Accounts[document.DefaultAccountID]
	account.Document.QuickNote = text
	archive.Accounts[document.DefaultAccountID] = account
	return archive
}

func TestSaverWritesLatestStateOnClose(t *testing.T) {
	adapter := newMemoryAdapter()
	writer := newSaver(adapter, zap.NewNop())
	writer.start()

	writer.enqueue(archiveWithQuickNote("first"))
	writer.enqueue(archiveWithQuickNote("second"))
	writer.enqueue(archiveWithQuickNote("third"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := writer.close(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved := adapter.lastSave()
	got := saved.Accounts[document.DefaultAccountID].Document.QuickNote
	if got != "third" {
		t.Fatalf("expected the newest state to be persisted, got %q", got)
	}
}

func TestSaverCoalescesBurstsIntoFewerWrites(t *testing.T) {
	adapter := newMemoryAdapter()
	writer := newSaver(adapter, zap.NewNop())

	// With the run loop not yet started, every enqueue lands before the first
	// flush; a burst must collapse to a single write of the newest state.
	for index := 0; index < 25; index++ {
		writer.enqueue(archiveWithQuickNote("burst"))
	}
	writer.start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := writer.close(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if count := adapter.saveCount(); count != 1 {
		t.Fatalf("expected the burst to coalesce into one write, got %d", count)
	}
}

func TestSaverSwallowsBackendErrors(t *testing.T) {
	adapter := newMemoryAdapter()
	adapter.saveErr = errors.New("disk full")
	writer := newSaver(adapter, zap.NewNop())
	writer.start()

	writer.enqueue(archiveWithQuickNote("lost write"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := writer.close(ctx); err != nil {
		t.Fatalf("expected save failures to be swallowed, got %v", err)
	}

	// The backend recovers; the next write goes through.
	adapter.mu.Lock()
	adapter.saveErr = nil
	adapter.mu.Unlock()

	recovered := newSaver(adapter, zap.NewNop())
	recovered.start()
	recovered.enqueue(archiveWithQuickNote("durable again"))
	if err := recovered.close(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := adapter.lastSave().Accounts[document.DefaultAccountID].Document.QuickNote
	if got != "durable again" {
		t.Fatalf("expected the recovered write to persist, got %q", got)
	}
}

func TestSaverCloseIsIdempotent(t *testing.T) {
	writer := newSaver(newMemoryAdapter(), zap.NewNop())
	writer.start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := writer.close(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := writer.close(ctx); err != nil {
		t.Fatalf("expected a second close to be a no-op, got %v", err)
	}
}
