package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/haldvik/skribo/internal/document"
)

// Command is the transport-agnostic envelope: one op per store operation,
// carrying that operation's named inputs. WebSocket frames and the POST
// endpoints both reduce to this shape.
type Command struct {
	Op        string `json:"op"`
	Name      string `json:"name,omitempty"`
	Old       string `json:"old,omitempty"`
	New       string `json:"new,omitempty"`
	Cat       string `json:"cat,omitempty"`
	Index     int    `json:"i"`
	Text      string `json:"text,omitempty"`
	Author    string `json:"author,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Command vocabulary.
const (
	OpQuick          = "quick"
	OpClear          = "clear"
	OpAddCategory    = "addCat"
	OpRenameCategory = "renameCat"
	OpDeleteCategory = "delCat"
	OpAddNote        = "addNote"
	OpEditNote       = "editNote"
	OpDeleteNote     = "delNote"
	OpCommentNote    = "commentNote"
	OpAddHistory     = "addHist"
	OpDeleteHistory  = "delHist"
	OpRestoreHistory = "restoreHist"
	OpAddPost        = "addPost"
	OpDeletePost     = "delPost"
	OpCommentPost    = "commentPost"
)

var errUnknownOp = fmt.Errorf("unknown op")

func (cmd Command) validate() error {
	switch cmd.Op {
	case OpQuick, OpClear, OpDeleteHistory, OpRestoreHistory, OpDeletePost:
		return nil
	case OpAddCategory:
		return validation.Validate(strings.TrimSpace(cmd.Name), validation.Required)
	case OpRenameCategory:
		return validation.Errors{
			"old": validation.Validate(cmd.Old, validation.Required),
			"new": validation.Validate(strings.TrimSpace(cmd.New), validation.Required),
		}.Filter()
	case OpDeleteCategory:
		return validation.Validate(cmd.Name, validation.Required)
	case OpAddNote:
		return validation.Errors{
			"cat":  validation.Validate(cmd.Cat, validation.Required),
			"text": validation.Validate(strings.TrimSpace(cmd.Text), validation.Required),
		}.Filter()
	case OpEditNote, OpDeleteNote:
		return validation.Validate(cmd.Cat, validation.Required)
	case OpCommentNote:
		return validation.Errors{
			"cat":  validation.Validate(cmd.Cat, validation.Required),
			"text": validation.Validate(strings.TrimSpace(cmd.Text), validation.Required),
		}.Filter()
	case OpAddHistory:
		return validation.Validate(strings.TrimSpace(cmd.Text), validation.Required)
	case OpAddPost, OpCommentPost:
		return validation.Validate(strings.TrimSpace(cmd.Text), validation.Required)
	default:
		return errUnknownOp
	}
}

// dispatch translates a validated command into the matching store operation.
func (h *httpHandler) dispatch(accountID string, cmd Command) error {
	switch cmd.Op {
	case OpQuick:
		return h.store.SetQuickNote(accountID, cmd.Text, quickMetaFrom(cmd))
	case OpClear:
		return h.store.ClearQuickNote(accountID)
	case OpAddCategory:
		return h.store.AddCategory(accountID, strings.TrimSpace(cmd.Name))
	case OpRenameCategory:
		return h.store.RenameCategory(accountID, cmd.Old, strings.TrimSpace(cmd.New))
	case OpDeleteCategory:
		return h.store.DeleteCategory(accountID, cmd.Name)
	case OpAddNote:
		return h.store.AddNote(accountID, cmd.Cat, cmd.Text)
	case OpEditNote:
		return h.store.EditNote(accountID, cmd.Cat, cmd.Index, cmd.Text)
	case OpDeleteNote:
		return h.store.DeleteNote(accountID, cmd.Cat, cmd.Index)
	case OpCommentNote:
		return h.store.AddNoteComment(accountID, cmd.Cat, cmd.Index, cmd.Author, cmd.Text)
	case OpAddHistory:
		return h.store.AddHistoryEntry(accountID, cmd.Text)
	case OpDeleteHistory:
		return h.store.DeleteHistoryEntry(accountID, cmd.Index)
	case OpRestoreHistory:
		return h.store.RestoreHistoryEntry(accountID, cmd.Index)
	case OpAddPost:
		return h.store.AddFeedPost(cmd.Author, cmd.Text)
	case OpDeletePost:
		return h.store.DeleteFeedPost(cmd.Index)
	case OpCommentPost:
		return h.store.AddFeedComment(cmd.Index, cmd.Author, cmd.Text)
	default:
		return errUnknownOp
	}
}

func quickMetaFrom(cmd Command) *document.QuickMeta {
	if cmd.ClientID == "" && cmd.Timestamp == 0 {
		return nil
	}
	return &document.QuickMeta{
		OriginClientID: cmd.ClientID,
		Timestamp:      cmd.Timestamp,
	}
}

// runCommand binds, validates, dispatches, and renders one POST command.
func (h *httpHandler) runCommand(c *gin.Context, cmd Command) {
	if err := cmd.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.dispatch(h.accountID(c), cmd); err != nil {
		h.renderStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) bindCommand(c *gin.Context, op string) (Command, bool) {
	var cmd Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return Command{}, false
	}
	cmd.Op = op
	return cmd, true
}

func (h *httpHandler) handleQuick(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpQuick); ok {
		h.runCommand(c, cmd)
	}
}

// handleClear accepts an empty body; the original clients POST without one.
func (h *httpHandler) handleClear(c *gin.Context) {
	h.runCommand(c, Command{Op: OpClear})
}

func (h *httpHandler) handleHistoryAdd(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpAddHistory); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleHistoryDelete(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpDeleteHistory); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleHistoryRestore(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpRestoreHistory); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleCategoryAdd(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpAddCategory); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleCategoryRename(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpRenameCategory); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleCategoryDelete(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpDeleteCategory); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleNoteAdd(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpAddNote); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleNoteEdit(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpEditNote); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleNoteDelete(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpDeleteNote); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleNoteComment(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpCommentNote); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleFeedAdd(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpAddPost); ok {
		if cmd.Author == "" {
			cmd.Author = h.accountID(c)
		}
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleFeedDelete(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpDeletePost); ok {
		h.runCommand(c, cmd)
	}
}

func (h *httpHandler) handleFeedComment(c *gin.Context) {
	if cmd, ok := h.bindCommand(c, OpCommentPost); ok {
		if cmd.Author == "" {
			cmd.Author = h.accountID(c)
		}
		h.runCommand(c, cmd)
	}
}
