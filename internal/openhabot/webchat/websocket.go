package webchat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// handleWebSocket runs one chat session. Every client frame is a
// messageRequest; every server frame a messageResponse. The conversation is
// fixed for the whole socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversation := q.Get("conversation_id")
	if conversation == "" {
		conversation = uuid.NewString()
	}
	user := q.Get("user_id")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		slog.Warn("webchat: websocket accept", "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxRequestBody)

	ctx := r.Context()
	slog.Info("webchat: session opened", "conversation", conversation)

	for {
		var req messageRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			s.logClose(conversation, err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			continue
		}
		req.ConversationID = conversation
		if user != "" {
			req.UserID = user
		}

		reply := s.handler.HandleTurn(ctx, toIncoming(req))
		if err := wsjson.Write(ctx, ws, messageResponse{ConversationID: conversation, Reply: reply}); err != nil {
			slog.Warn("webchat: websocket write", "conversation", conversation, "err", err)
			return
		}
	}
}

func (s *Server) logClose(conversation string, err error) {
	switch {
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway,
		errors.Is(err, context.Canceled):
		slog.Info("webchat: session closed", "conversation", conversation)
	default:
		slog.Warn("webchat: session ended", "conversation", conversation, "err", err)
	}
}
