package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/haldvik/skribo/internal/broadcast"
	"github.com/haldvik/skribo/internal/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// handleWebSocket upgrades the connection and runs the live-sync session:
// inbound frames carry the command vocabulary, outbound frames are full
// document snapshots from the broadcaster, starting with one immediately.
func (h *httpHandler) handleWebSocket(c *gin.Context) {
	accountID := h.accountID(c)

	snapshot, err := h.store.Snapshot(accountID)
	if err != nil {
		h.renderStoreError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// The request context ends when this handler returns, which is before
	// the session does; the session owns its own lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	stream, unsubscribe := h.broadcaster.Subscribe(ctx, accountID, snapshot)

	session := &wsSession{
		id:        uuid.NewString(),
		accountID: accountID,
		conn:      conn,
		stream:    stream,
		cancel:    cancel,
		handler:   h,
	}

	h.logger.Debug("websocket session started",
		zap.String("session_id", session.id),
		zap.String("account_id", accountID))

	go session.writePump()
	go session.readPump(unsubscribe)
}

type wsSession struct {
	id        string
	accountID string
	conn      *websocket.Conn
	stream    <-chan broadcast.SyncMessage
	cancel    context.CancelFunc
	handler   *httpHandler

	// writeMu serializes writes: the write pump and the read pump's error
	// frames share one connection.
	writeMu sync.Mutex
}

// writePump forwards sync messages to the peer and keeps the connection
// alive with pings. It exits when the session context ends.
func (s *wsSession) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.stream:
			if !ok {
				return
			}
			if err := s.writeJSON(message); err != nil {
				s.cancel()
				return
			}
		case <-ticker.C:
			if err := s.writePing(); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// readPump consumes command frames until the peer goes away. A failed
// command is answered with an error frame; state is unchanged and the client
// is expected to resynchronize from the next snapshot.
func (s *wsSession) readPump(unsubscribe func()) {
	defer func() {
		unsubscribe()
		s.cancel()
		s.conn.Close()
		s.handler.logger.Debug("websocket session closed", zap.String("session_id", s.id))
	}()

	s.conn.SetReadLimit(wsReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.handler.logger.Debug("websocket read failed",
					zap.String("session_id", s.id),
					zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			s.writeError("invalid_frame", "")
			continue
		}
		if err := cmd.validate(); err != nil {
			s.writeError("invalid_request", "")
			continue
		}
		if err := s.handler.dispatch(s.accountID, cmd); err != nil {
			code := ""
			var coded *store.StoreError
			if errors.As(err, &coded) {
				code = coded.Code()
			}
			s.writeError("rejected", code)
		}
	}
}

func (s *wsSession) writeError(reason, code string) {
	s.writeJSON(wsErrorMessage{Type: "error", Error: reason, Code: code}) //nolint:errcheck
}

func (s *wsSession) writeJSON(message any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return s.conn.WriteJSON(message)
}

func (s *wsSession) writePing() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
