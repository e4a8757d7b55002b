// Package webchat serves the HTTP side of the bot: a JSON message endpoint,
// a WebSocket chat for browser clients, and the health and status probes.
package webchat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bdobrica/openhabot/common/version"
	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/state"
)

// ChannelName identifies web chat in channel.Metadata.
const ChannelName = "webchat"

const maxRequestBody = 64 << 10

// Pinger reports whether a dependency is healthy. *store.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource counts stored dialogs and logins. *state.Manager implements it.
type StatsSource interface {
	Stats(ctx context.Context) (state.Stats, error)
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// Token, when set, must be presented as a bearer token (or the token
	// query parameter on WebSocket upgrades) on the chat endpoints.
	Token string
	// AllowedOrigins lists WebSocket origin patterns. Empty allows only
	// same-origin browsers.
	AllowedOrigins []string
	// Database is checked by /status. Optional.
	Database Pinger
	// State is reported by /status. Optional.
	State StatsSource
}

// Server is the HTTP front end.
type Server struct {
	cfg       Config
	handler   channel.Handler
	startedAt time.Time
	router    chi.Router
	server    *http.Server
}

// New returns a Server routing chat turns to h.
func New(cfg Config, h channel.Handler) *Server {
	s := &Server{cfg: cfg, handler: h, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/api/conversations", s.handleNewConversation)
		r.Post("/api/messages", s.handleMessage)
		r.Get("/ws/chat", s.handleWebSocket)
	})

	s.router = r
	return s
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on cfg.Addr and serves in the background. It returns once
// the port is open.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("webchat: listen %s: %w", s.cfg.Addr, err)
	}
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.Info("webchat: listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webchat: server stopped", "err", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to five seconds for requests in
// flight.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("webchat: shutdown", "err", err)
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string       `json:"status"`
	Version    string       `json:"version"`
	Commit     string       `json:"commit"`
	BuildTime  string       `json:"build_time"`
	StartedAt  time.Time    `json:"started_at"`
	UptimeSecs float64      `json:"uptime_secs"`
	Database   string       `json:"database,omitempty"`
	Store      *state.Stats `json:"store,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version, Commit: version.GitCommit})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
	}
	code := http.StatusOK
	if s.cfg.Database != nil {
		resp.Database = "ok"
		if err := s.cfg.Database.Ping(r.Context()); err != nil {
			slog.Warn("webchat: database ping failed", "err", err)
			resp.Status, resp.Database = "degraded", "error"
			code = http.StatusServiceUnavailable
		}
	}
	if s.cfg.State != nil && code == http.StatusOK {
		stats, err := s.cfg.State.Stats(r.Context())
		if err != nil {
			slog.Warn("webchat: read state stats", "err", err)
		} else {
			resp.Store = &stats
		}
	}
	writeJSON(w, code, resp)
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleNewConversation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, conversationResponse{ConversationID: uuid.NewString()})
}

// messageRequest is one utterance posted to /api/messages or sent as a
// WebSocket frame.
type messageRequest struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Text           string          `json:"text"`
	Device         json.RawMessage `json:"device,omitempty"`
}

type messageResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Reply          channel.OutgoingMessage `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	reply := s.handler.HandleTurn(r.Context(), toIncoming(req))
	writeJSON(w, http.StatusOK, messageResponse{ConversationID: req.ConversationID, Reply: reply})
}

// toIncoming maps a request to a turn. Without a user ID the conversation
// doubles as the user.
func toIncoming(req messageRequest) channel.IncomingMessage {
	user := req.UserID
	if user == "" {
		user = req.ConversationID
	}
	return channel.IncomingMessage{
		Text: req.Text,
		Metadata: channel.Metadata{
			Channel:        ChannelName,
			ConversationID: req.ConversationID,
			UserID:         user,
			Raw:            req.Device,
		},
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got == r.Header.Get("Authorization") {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("webchat: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("webchat: encode response", "err", err)
	}
}
