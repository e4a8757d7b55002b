package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/state"
)

type recorder struct {
	mu   sync.Mutex
	msgs []channel.IncomingMessage
}

func (r *recorder) HandleTurn(_ context.Context, msg channel.IncomingMessage) channel.OutgoingMessage {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return channel.OutgoingMessage{Text: "echo: " + msg.Text, InputHint: channel.AcceptingInput}
}

func (r *recorder) last(t *testing.T) channel.IncomingMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		t.Fatal("handler was not called")
	}
	return r.msgs[len(r.msgs)-1]
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fixedStats struct {
	stats state.Stats
	err   error
}

func (f fixedStats) Stats(context.Context) (state.Stats, error) { return f.stats, f.err }

type reply struct {
	ConversationID string `json:"conversation_id"`
	Reply          struct {
		Text      string `json:"text"`
		InputHint string `json:"input_hint"`
	} `json:"reply"`
}

func post(t *testing.T, s http.Handler, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(Config{}, &recorder{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
}

func TestStatusReportsDatabase(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		wantCode int
		wantDB   string
	}{
		{"no database", nil, http.StatusOK, ""},
		{"healthy", pinger{}, http.StatusOK, "ok"},
		{"failing", pinger{err: errors.New("disk gone")}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{Database: tt.db}, &recorder{})
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var body statusResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Database != tt.wantDB {
				t.Errorf("database = %q, want %q", body.Database, tt.wantDB)
			}
		})
	}
}

func TestStatusReportsStoredState(t *testing.T) {
	s := New(Config{State: fixedStats{stats: state.Stats{Dialogs: 2, Logins: 5}}}, &recorder{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Store == nil || *body.Store != (state.Stats{Dialogs: 2, Logins: 5}) {
		t.Errorf("store = %+v, want 2 dialogs and 5 logins", body.Store)
	}

	s = New(Config{State: fixedStats{err: errors.New("locked")}}, &recorder{})
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), `"store"`) {
		t.Errorf("status = %d body %s, want 200 without store", rec.Code, rec.Body)
	}
}

func TestMessageRoutesTurn(t *testing.T) {
	h := &recorder{}
	s := New(Config{}, h)

	rec := post(t, s, "/api/messages", `{"conversation_id":"c1","user_id":"u1","text":"turn on the lights","device":{"id":"kitchen"}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got reply
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConversationID != "c1" || got.Reply.Text != "echo: turn on the lights" || got.Reply.InputHint != "acceptingInput" {
		t.Errorf("reply = %+v", got)
	}

	msg := h.last(t)
	if msg.Metadata.Channel != ChannelName || msg.Metadata.ConversationID != "c1" || msg.Metadata.UserID != "u1" {
		t.Errorf("metadata = %+v", msg.Metadata)
	}
	if string(msg.Metadata.Raw) != `{"id":"kitchen"}` {
		t.Errorf("raw = %s", msg.Metadata.Raw)
	}
}

func TestMessageAssignsConversation(t *testing.T) {
	h := &recorder{}
	s := New(Config{}, h)

	rec := post(t, s, "/api/messages", `{"text":"hello"}`, "")
	var got reply
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConversationID == "" {
		t.Fatal("no conversation id assigned")
	}
	if msg := h.last(t); msg.Metadata.UserID != got.ConversationID {
		t.Errorf("user = %q, want conversation id %q", msg.Metadata.UserID, got.ConversationID)
	}
}

func TestMessageRejectsBadBodies(t *testing.T) {
	s := New(Config{}, &recorder{})
	for _, body := range []string{`not json`, `{"text":"   "}`, `{}`} {
		if rec := post(t, s, "/api/messages", body, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestTokenRequired(t *testing.T) {
	s := New(Config{Token: "s3cret"}, &recorder{})

	if rec := post(t, s, "/api/messages", `{"text":"hi"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := post(t, s, "/api/messages", `{"text":"hi"}`, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}
	if rec := post(t, s, "/api/messages", `{"text":"hi"}`, "s3cret"); rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", rec.Code)
	}
	if rec := post(t, s, "/api/conversations?token=s3cret", ``, ""); rec.Code != http.StatusCreated {
		t.Errorf("query token: status = %d, want 201", rec.Code)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health behind token: status = %d", rec.Code)
	}
}

func TestWebSocketChat(t *testing.T) {
	h := &recorder{}
	srv := httptest.NewServer(New(Config{}, h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?conversation_id=room-7&user_id=alice"
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	for _, text := range []string{"first", "second"} {
		if err := wsjson.Write(ctx, ws, messageRequest{Text: text, ConversationID: "ignored"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		var got reply
		if err := wsjson.Read(ctx, ws, &got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.ConversationID != "room-7" || got.Reply.Text != "echo: "+text {
			t.Errorf("reply = %+v", got)
		}
	}

	msg := h.last(t)
	if msg.Metadata.ConversationID != "room-7" || msg.Metadata.UserID != "alice" {
		t.Errorf("metadata = %+v", msg.Metadata)
	}
	ws.Close(websocket.StatusNormalClosure, "done")
}

func TestStartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, &recorder{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
