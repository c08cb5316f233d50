package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haldvik/skribo/internal/broadcast"
	"github.com/haldvik/skribo/internal/document"
	"github.com/haldvik/skribo/internal/persistence"
)

const (
	defaultHistoryLimit = 50
	defaultNotesLimit   = 500
)

var noOpLogger = zap.NewNop()

// Config describes the dependencies and limits of a Store.
type Config struct {
	Adapter     persistence.Adapter
	Broadcaster *broadcast.Broadcaster
	Clock       func() time.Time
	Logger      *zap.Logger
	// HistoryLimit caps the cleared-quick-note history per account.
	HistoryLimit int
	// NotesLimit caps the note list of each category.
	NotesLimit int
}

// Store owns the canonical in-memory archive: one document per account plus
// the feed shared across accounts. Every mutation runs to completion behind
// one mutex, hands the new state to the background saver, and publishes a
// fresh snapshot to the broadcaster.
type Store struct {
	adapter      persistence.Adapter
	broadcaster  *broadcast.Broadcaster
	clock        func() time.Time
	logger       *zap.Logger
	historyLimit int
	notesLimit   int
	saver        *saver

	mu      sync.Mutex
	ready   bool
	archive document.Archive
}

// NewStore constructs a Store in the uninitialized state; call Open before
// issuing operations.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Adapter == nil {
		return nil, newStoreError(opNew, "missing_adapter", errMissingAdapter)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	notesLimit := cfg.NotesLimit
	if notesLimit <= 0 {
		notesLimit = defaultNotesLimit
	}

	return &Store{
		adapter:      cfg.Adapter,
		broadcaster:  cfg.Broadcaster,
		clock:        clock,
		logger:       logger,
		historyLimit: historyLimit,
		notesLimit:   notesLimit,
		saver:        newSaver(cfg.Adapter, logger),
	}, nil
}

// Open performs the initial load and marks the store ready. A broken backend
// never prevents startup: load failures fall back to an empty archive so the
// service keeps serving, with durability restored on the next good save.
func (s *Store) Open(ctx context.Context) error {
	archive, err := s.adapter.Load(ctx)
	if err != nil {
		s.logger.Warn("initial load failed, starting from empty state", zap.Error(err))
		archive = document.NewArchive()
	}
	archive.Normalize()

	s.mu.Lock()
	s.archive = archive
	s.ready = true
	s.mu.Unlock()

	s.saver.start()
	s.logger.Info("store ready", zap.Int("accounts", len(archive.Accounts)))
	return nil
}

// Close flushes any pending save and stops the background saver.
func (s *Store) Close(ctx context.Context) error {
	return s.saver.close(ctx)
}

// Snapshot returns a deep copy of the account's current document with the
// shared feed folded in. It never mutates state.
func (s *Store) Snapshot(accountID string) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return document.Document{}, newStoreError(opSnapshot, "not_ready", ErrNotReady)
	}
	account, ok := s.archive.Accounts[accountID]
	if !ok {
		return document.Document{}, newStoreError(opSnapshot, "account_not_found", ErrAccountNotFound)
	}
	return s.snapshotLocked(account), nil
}

func (s *Store) snapshotLocked(account document.Account) document.Document {
	doc := account.Document.Clone()
	doc.Feed = document.ClonePosts(s.archive.Feed)
	if doc.Feed == nil {
		doc.Feed = []document.Post{}
	}
	return doc
}

// SetQuickNote replaces the scratch text, pushing the previous text onto the
// history. When arbitration metadata is supplied the update applies only if
// it wins last-writer-wins against the stored metadata; a losing or equal
// update is silently ignored so concurrent editors converge.
func (s *Store) SetQuickNote(accountID, text string, meta *document.QuickMeta) error {
	return s.mutateAccount(opSetQuickNote, accountID, func(doc *document.Document) error {
		if meta != nil && doc.QuickMeta != nil && !quickUpdateWins(*meta, *doc.QuickMeta) {
			return errNoChange
		}
		if doc.QuickNote == text {
			return errNoChange
		}
		if doc.QuickNote != "" {
			s.pushHistory(doc, doc.QuickNote)
		}
		doc.QuickNote = text
		doc.QuickMeta = cloneMeta(meta)
		return nil
	})
}

// ClearQuickNote moves the current scratch text into the history and empties
// it. Clearing an already-empty note is a no-op, as is re-clearing text that
// already sits at the head of the history.
func (s *Store) ClearQuickNote(accountID string) error {
	return s.mutateAccount(opClearQuickNote, accountID, func(doc *document.Document) error {
		if doc.QuickNote == "" {
			return errNoChange
		}
		if len(doc.History) == 0 || doc.History[0].Text != doc.QuickNote {
			s.pushHistory(doc, doc.QuickNote)
		}
		doc.QuickNote = ""
		doc.QuickMeta = nil
		return nil
	})
}

// AddCategory inserts an empty category at the front of the display order.
// Existing names and blank names are silent no-ops; the command router is
// expected to reject blank names before they reach the store.
func (s *Store) AddCategory(accountID, name string) error {
	return s.mutateAccount(opAddCategory, accountID, func(doc *document.Document) error {
		if strings.TrimSpace(name) == "" {
			return errNoChange
		}
		if _, exists := doc.Categories[name]; exists {
			return errNoChange
		}
		doc.Categories[name] = []document.Note{}
		doc.CategoryOrder = append([]string{name}, doc.CategoryOrder...)
		return nil
	})
}

// RenameCategory moves a note list to a new name, placing it at the front of
// the display order. A collision with an existing name overwrites that
// category's notes; callers should guard against it.
func (s *Store) RenameCategory(accountID, oldName, newName string) error {
	return s.mutateAccount(opRenameCategory, accountID, func(doc *document.Document) error {
		if strings.TrimSpace(newName) == "" || oldName == newName {
			return errNoChange
		}
		notes, exists := doc.Categories[oldName]
		if !exists {
			return errNoChange
		}
		delete(doc.Categories, oldName)
		doc.Categories[newName] = notes
		doc.CategoryOrder = append([]string{newName}, removeName(doc.CategoryOrder, oldName, newName)...)
		return nil
	})
}

// DeleteCategory removes the category and all its notes irrecoverably.
func (s *Store) DeleteCategory(accountID, name string) error {
	return s.mutateAccount(opDeleteCategory, accountID, func(doc *document.Document) error {
		if _, exists := doc.Categories[name]; !exists {
			return errNoChange
		}
		delete(doc.Categories, name)
		doc.CategoryOrder = removeName(doc.CategoryOrder, name)
		return nil
	})
}

// AddNote prepends a note to the category.
func (s *Store) AddNote(accountID, category, text string) error {
	return s.mutateAccount(opAddNote, accountID, func(doc *document.Document) error {
		notes, exists := doc.Categories[category]
		if !exists {
			return newStoreError(opAddNote, "category_not_found", ErrCategoryNotFound)
		}
		notes = append([]document.Note{{Text: text, Time: s.nowMillis()}}, notes...)
		if len(notes) > s.notesLimit {
			notes = notes[:s.notesLimit]
		}
		doc.Categories[category] = notes
		return nil
	})
}

// EditNote replaces a note's text in place, preserving its time and comments.
func (s *Store) EditNote(accountID, category string, index int, text string) error {
	return s.mutateAccount(opEditNote, accountID, func(doc *document.Document) error {
		notes, exists := doc.Categories[category]
		if !exists {
			return newStoreError(opEditNote, "category_not_found", ErrCategoryNotFound)
		}
		if index < 0 || index >= len(notes) {
			return newStoreError(opEditNote, "index_out_of_range", ErrIndexOutOfRange)
		}
		notes[index].Text = text
		return nil
	})
}

// DeleteNote removes the note at index.
func (s *Store) DeleteNote(accountID, category string, index int) error {
	return s.mutateAccount(opDeleteNote, accountID, func(doc *document.Document) error {
		notes, exists := doc.Categories[category]
		if !exists {
			return newStoreError(opDeleteNote, "category_not_found", ErrCategoryNotFound)
		}
		if index < 0 || index >= len(notes) {
			return newStoreError(opDeleteNote, "index_out_of_range", ErrIndexOutOfRange)
		}
		doc.Categories[category] = append(notes[:index], notes[index+1:]...)
		return nil
	})
}

// AddNoteComment appends a comment to the note at index.
func (s *Store) AddNoteComment(accountID, category string, index int, author, text string) error {
	return s.mutateAccount(opAddNoteComment, accountID, func(doc *document.Document) error {
		notes, exists := doc.Categories[category]
		if !exists {
			return newStoreError(opAddNoteComment, "category_not_found", ErrCategoryNotFound)
		}
		if index < 0 || index >= len(notes) {
			return newStoreError(opAddNoteComment, "index_out_of_range", ErrIndexOutOfRange)
		}
		notes[index].Comments = append(notes[index].Comments, document.Comment{
			Author: author,
			Text:   text,
			Time:   s.nowMillis(),
		})
		return nil
	})
}

// AddHistoryEntry pushes a snapshot onto the front of the history.
func (s *Store) AddHistoryEntry(accountID, text string) error {
	return s.mutateAccount(opAddHistoryEntry, accountID, func(doc *document.Document) error {
		s.pushHistory(doc, text)
		return nil
	})
}

// DeleteHistoryEntry removes the history entry at index.
func (s *Store) DeleteHistoryEntry(accountID string, index int) error {
	return s.mutateAccount(opDeleteHistoryEntry, accountID, func(doc *document.Document) error {
		if index < 0 || index >= len(doc.History) {
			return newStoreError(opDeleteHistoryEntry, "index_out_of_range", ErrIndexOutOfRange)
		}
		doc.History = append(doc.History[:index], doc.History[index+1:]...)
		return nil
	})
}

// RestoreHistoryEntry copies the entry's text back into the quick note. The
// history entry itself stays in place.
func (s *Store) RestoreHistoryEntry(accountID string, index int) error {
	return s.mutateAccount(opRestoreHistoryEntry, accountID, func(doc *document.Document) error {
		if index < 0 || index >= len(doc.History) {
			return newStoreError(opRestoreHistoryEntry, "index_out_of_range", ErrIndexOutOfRange)
		}
		doc.QuickNote = doc.History[index].Text
		doc.QuickMeta = nil
		return nil
	})
}

// ReplaceDocument wholesale-replaces the account's document from a backup.
// A payload carrying a feed also replaces the shared feed.
func (s *Store) ReplaceDocument(accountID string, doc document.Document) error {
	if doc.Categories == nil {
		return newStoreError(opReplaceDocument, "invalid_document", document.ErrInvalidDocument)
	}
	replacement := doc.Clone()
	replacement.Normalize()
	return s.mutateArchive(opReplaceDocument, func(archive *document.Archive) ([]string, error) {
		account, ok := archive.Accounts[accountID]
		if !ok {
			return nil, newStoreError(opReplaceDocument, "account_not_found", ErrAccountNotFound)
		}
		if replacement.Feed != nil {
			archive.Feed = replacement.Feed
			replacement.Feed = nil
		}
		account.Document = replacement
		archive.Accounts[accountID] = account
		return []string{accountID}, nil
	})
}

// AddFeedPost prepends a post to the cross-account feed.
func (s *Store) AddFeedPost(author, text string) error {
	if strings.TrimSpace(author) == "" {
		author = "Anon"
	}
	return s.mutateFeed(opAddFeedPost, func(feed *[]document.Post) error {
		post := document.Post{
			Author:   author,
			Text:     text,
			Time:     s.nowMillis(),
			Comments: []document.Comment{},
		}
		*feed = append([]document.Post{post}, *feed...)
		return nil
	})
}

// DeleteFeedPost removes the post at index. Any caller supplying a valid
// index may delete any post; authorship is not checked, matching the source
// systems this store consolidates.
func (s *Store) DeleteFeedPost(index int) error {
	return s.mutateFeed(opDeleteFeedPost, func(feed *[]document.Post) error {
		if index < 0 || index >= len(*feed) {
			return newStoreError(opDeleteFeedPost, "index_out_of_range", ErrIndexOutOfRange)
		}
		*feed = append((*feed)[:index], (*feed)[index+1:]...)
		return nil
	})
}

// AddFeedComment appends a comment to the post at index.
func (s *Store) AddFeedComment(index int, author, text string) error {
	return s.mutateFeed(opAddFeedComment, func(feed *[]document.Post) error {
		if index < 0 || index >= len(*feed) {
			return newStoreError(opAddFeedComment, "index_out_of_range", ErrIndexOutOfRange)
		}
		(*feed)[index].Comments = append((*feed)[index].Comments, document.Comment{
			Author: author,
			Text:   text,
			Time:   s.nowMillis(),
		})
		return nil
	})
}

// RegisterAccount creates a new account with the given credential hash.
func (s *Store) RegisterAccount(accountID, secretHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return newStoreError(opRegisterAccount, "not_ready", ErrNotReady)
	}
	if _, exists := s.archive.Accounts[accountID]; exists {
		return newStoreError(opRegisterAccount, "account_exists", ErrAccountExists)
	}
	s.archive.Accounts[accountID] = document.Account{
		Secret:   secretHash,
		Document: document.New(),
	}
	s.saver.enqueue(s.archive.Clone())
	return nil
}

// AccountSecret returns the stored credential hash for login checks.
func (s *Store) AccountSecret(accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return "", newStoreError(opAccountSecret, "not_ready", ErrNotReady)
	}
	account, ok := s.archive.Accounts[accountID]
	if !ok {
		return "", newStoreError(opAccountSecret, "account_not_found", ErrAccountNotFound)
	}
	return account.Secret, nil
}

// mutateAccount serializes a mutation of one account's document, then hands
// the new archive to the saver and publishes the account's fresh snapshot.
func (s *Store) mutateAccount(operation, accountID string, fn func(doc *document.Document) error) error {
	return s.mutateArchive(operation, func(archive *document.Archive) ([]string, error) {
		account, ok := archive.Accounts[accountID]
		if !ok {
			return nil, newStoreError(operation, "account_not_found", ErrAccountNotFound)
		}
		if err := fn(&account.Document); err != nil {
			return nil, err
		}
		archive.Accounts[accountID] = account
		return []string{accountID}, nil
	})
}

// mutateFeed serializes a mutation of the shared feed. Feed changes surface
// in every account's snapshot, so the new state is published to all accounts.
func (s *Store) mutateFeed(operation string, fn func(feed *[]document.Post) error) error {
	return s.mutateArchive(operation, func(archive *document.Archive) ([]string, error) {
		if err := fn(&archive.Feed); err != nil {
			return nil, err
		}
		accountIDs := make([]string, 0, len(archive.Accounts))
		for id := range archive.Accounts {
			accountIDs = append(accountIDs, id)
		}
		return accountIDs, nil
	})
}

func (s *Store) mutateArchive(operation string, fn func(archive *document.Archive) ([]string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return newStoreError(operation, "not_ready", ErrNotReady)
	}

	notifyIDs, err := fn(&s.archive)
	if err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		s.logError(operation, err)
		return err
	}

	// Enqueue and publish under the mutex: backend writes and broadcasts
	// must apply in mutation order. Neither call blocks.
	s.saver.enqueue(s.archive.Clone())
	if s.broadcaster != nil {
		for _, id := range notifyIDs {
			if account, ok := s.archive.Accounts[id]; ok {
				s.broadcaster.Publish(id, s.snapshotLocked(account))
			}
		}
	}
	return nil
}

func (s *Store) pushHistory(doc *document.Document, text string) {
	doc.History = append([]document.HistoryEntry{{Text: text, Time: s.nowMillis()}}, doc.History...)
	if len(doc.History) > s.historyLimit {
		doc.History = doc.History[:s.historyLimit]
	}
}

func (s *Store) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

func (s *Store) logError(operation string, err error) {
	s.logger.Debug("store operation rejected",
		zap.String("operation", operation),
		zap.Error(err))
}

func cloneMeta(meta *document.QuickMeta) *document.QuickMeta {
	if meta == nil {
		return nil
	}
	copied := *meta
	return &copied
}

func removeName(order []string, names ...string) []string {
	out := make([]string, 0, len(order))
	for _, name := range order {
		drop := false
		for _, candidate := range names {
			if name == candidate {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, name)
		}
	}
	return out
}
