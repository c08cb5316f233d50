package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/haldvik/skribo/internal/accounts"
	"github.com/haldvik/skribo/internal/auth"
	"github.com/haldvik/skribo/internal/broadcast"
	"github.com/haldvik/skribo/internal/document"
	"github.com/haldvik/skribo/internal/store"
)

const accountContextKey = "skribo_account_id"

var (
	errMissingStore         = errors.New("note store dependency required")
	errMissingBroadcaster   = errors.New("broadcaster dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies wires the HTTP surface. Accounts and Tokens are both nil in
// single-user mode and both non-nil in multi-account mode.
type Dependencies struct {
	Store       *store.Store
	Broadcaster *broadcast.Broadcaster
	Accounts    *accounts.Service
	Tokens      *auth.TokenIssuer
	Logger      *zap.Logger
}

// NewHTTPHandler builds the full route surface: pull endpoints, one command
// endpoint per store operation, backup/restore, and the WebSocket live sync.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:       deps.Store,
		broadcaster: deps.Broadcaster,
		accounts:    deps.Accounts,
		tokens:      deps.Tokens,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if handler.multiAccount() {
		router.POST("/auth/register", handler.handleRegister)
		router.POST("/auth/login", handler.handleLogin)
	}

	protected := router.Group("/")
	protected.Use(handler.resolveAccount)
	protected.GET("/data", handler.handleData)
	protected.GET("/backup", handler.handleBackup)
	protected.POST("/restore", handler.handleRestore)
	protected.GET("/ws", handler.handleWebSocket)

	protected.POST("/quick", handler.handleQuick)
	protected.POST("/clear", handler.handleClear)
	protected.POST("/history/add", handler.handleHistoryAdd)
	protected.POST("/history/delete", handler.handleHistoryDelete)
	protected.POST("/history/restore", handler.handleHistoryRestore)
	protected.POST("/cat/add", handler.handleCategoryAdd)
	protected.POST("/cat/rename", handler.handleCategoryRename)
	protected.POST("/cat/delete", handler.handleCategoryDelete)
	protected.POST("/note/add", handler.handleNoteAdd)
	protected.POST("/note/edit", handler.handleNoteEdit)
	protected.POST("/note/delete", handler.handleNoteDelete)
	protected.POST("/note/comment", handler.handleNoteComment)
	protected.POST("/feed/add", handler.handleFeedAdd)
	protected.POST("/feed/delete", handler.handleFeedDelete)
	protected.POST("/feed/comment", handler.handleFeedComment)

	return router, nil
}

type httpHandler struct {
	store       *store.Store
	broadcaster *broadcast.Broadcaster
	accounts    *accounts.Service
	tokens      *auth.TokenIssuer
	logger      *zap.Logger
}

func (h *httpHandler) multiAccount() bool {
	return h.accounts != nil && h.tokens != nil
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type credentialsPayload struct {
	Account string `json:"account"`
	Secret  string `json:"secret"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.accounts.Register(request.Account, request.Secret); err != nil {
		switch {
		case errors.Is(err, accounts.ErrAccountTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "account_taken"})
		case errors.Is(err, accounts.ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_credentials"})
		default:
			h.logger.Error("account registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	h.issueToken(c, request.Account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.accounts.Authenticate(request.Account, request.Secret); err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.issueToken(c, request.Account)
}

func (h *httpHandler) issueToken(c *gin.Context, accountID string) {
	token, expiresIn, err := h.tokens.IssueToken(accountID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

// resolveAccount binds the request to an account. In single-user mode every
// request maps to the default account; in multi-account mode a valid session
// token is required. WebSocket clients may carry the token in a query
// parameter since browsers cannot set headers on the upgrade request.
func (h *httpHandler) resolveAccount(c *gin.Context) {
	if !h.multiAccount() {
		c.Set(accountContextKey, document.DefaultAccountID)
		c.Next()
		return
	}

	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	accountID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(accountContextKey, accountID)
	c.Next()
}

func (h *httpHandler) accountID(c *gin.Context) string {
	return c.GetString(accountContextKey)
}

func (h *httpHandler) handleData(c *gin.Context) {
	snapshot, err := h.store.Snapshot(h.accountID(c))
	if err != nil {
		h.renderStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleBackup(c *gin.Context) {
	snapshot, err := h.store.Snapshot(h.accountID(c))
	if err != nil {
		h.renderStoreError(c, err)
		return
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		h.logger.Error("backup encoding failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backup_failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename=skribo-backup.json`)
	c.Data(http.StatusOK, "application/json", payload)
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	doc, err := document.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document"})
		return
	}
	if err := h.store.ReplaceDocument(h.accountID(c), doc); err != nil {
		h.renderStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// renderStoreError maps the store's error taxonomy onto HTTP statuses. The
// client contract is uniform: an error response means the operation did not
// apply and state is unchanged; clients resynchronize via a fresh snapshot.
func (h *httpHandler) renderStoreError(c *gin.Context, err error) {
	payload := gin.H{}
	var coded *store.StoreError
	if errors.As(err, &coded) {
		payload["code"] = coded.Code()
	}

	switch {
	case errors.Is(err, store.ErrNotReady):
		payload["error"] = "not_ready"
		c.JSON(http.StatusServiceUnavailable, payload)
	case errors.Is(err, store.ErrCategoryNotFound):
		payload["error"] = "category_not_found"
		c.JSON(http.StatusNotFound, payload)
	case errors.Is(err, store.ErrAccountNotFound):
		payload["error"] = "account_not_found"
		c.JSON(http.StatusNotFound, payload)
	case errors.Is(err, store.ErrIndexOutOfRange):
		payload["error"] = "index_out_of_range"
		c.JSON(http.StatusBadRequest, payload)
	case errors.Is(err, document.ErrInvalidDocument):
		payload["error"] = "invalid_document"
		c.JSON(http.StatusBadRequest, payload)
	default:
		h.logger.Error("store operation failed", zap.Error(err))
		payload["error"] = "internal_error"
		c.JSON(http.StatusInternalServerError, payload)
	}
}
