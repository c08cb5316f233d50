package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady indicates an operation attempted before the initial load completed.
	ErrNotReady = errors.New("store: not ready")
	// ErrCategoryNotFound indicates the named category does not exist.
	ErrCategoryNotFound = errors.New("store: category not found")
	// ErrIndexOutOfRange indicates an index-addressed entry does not exist.
	ErrIndexOutOfRange = errors.New("store: index out of range")
	// ErrAccountNotFound indicates the account id is unknown.
	ErrAccountNotFound = errors.New("store: account not found")
	// ErrAccountExists indicates a registration collision.
	ErrAccountExists = errors.New("store: account already exists")

	errMissingAdapter = errors.New("persistence adapter is required")

	// errNoChange short-circuits mutations that leave state untouched so no
	// save or broadcast is issued. Never returned to callers.
	errNoChange = errors.New("store: no change")
)

// StoreError carries a structured code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable `operation.reason` code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

const (
	opNew                 = "store.new"
	opOpen                = "store.open"
	opSnapshot            = "store.snapshot"
	opSetQuickNote        = "store.set_quick_note"
	opClearQuickNote      = "store.clear_quick_note"
	opAddCategory         = "store.add_category"
	opRenameCategory      = "store.rename_category"
	opDeleteCategory      = "store.delete_category"
	opAddNote             = "store.add_note"
	opEditNote            = "store.edit_note"
	opDeleteNote          = "store.delete_note"
	opAddNoteComment      = "store.add_note_comment"
	opAddHistoryEntry     = "store.add_history_entry"
	opDeleteHistoryEntry  = "store.delete_history_entry"
	opRestoreHistoryEntry = "store.restore_history_entry"
	opAddFeedPost         = "store.add_feed_post"
	opDeleteFeedPost      = "store.delete_feed_post"
	opAddFeedComment      = "store.add_feed_comment"
	opReplaceDocument     = "store.replace_document"
	opRegisterAccount     = "store.register_account"
	opAccountSecret       = "store.account_secret"
)
