// Package matrix is the Matrix chat transport: it syncs with a homeserver,
// turns room messages into turns for the router and posts the replies.
package matrix

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/openhabot/internal/openhabot/channel"
)

// ChannelName identifies Matrix in channel.Metadata.
const ChannelName = "matrix"

// Config configures the Matrix transport.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms restricts the bot to these room IDs. Empty means every room the
	// bot is in.
	Rooms []string
	// AutoJoin accepts invites to allowed rooms.
	AutoJoin bool
	// DB persists the sync position. Nil keeps it in memory, which replays
	// recent history after a restart.
	DB *sql.DB
}

// api is the subset of *mautrix.Client used to talk back to the homeserver.
type api interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// Client runs the transport.
type Client struct {
	mxc     *mautrix.Client
	api     api
	cfg     Config
	handler channel.Handler
	queue   *serialQueue

	mu sync.Mutex
	// secretNext holds room|sender pairs whose next message answers a
	// sensitive prompt and must be redacted.
	secretNext map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Client delivering turns to h.
func New(cfg Config, h channel.Handler) (*Client, error) {
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	if cfg.DB != nil {
		mxc.Store = NewDBSyncStore(cfg.DB)
	} else {
		slog.Warn("matrix: no database, sync position is kept in memory")
	}
	c := newClient(cfg, mxc, h)
	c.mxc = mxc
	return c, nil
}

func newClient(cfg Config, a api, h channel.Handler) *Client {
	return &Client{
		api:        a,
		cfg:        cfg,
		handler:    h,
		queue:      newSerialQueue(),
		secretNext: make(map[string]bool),
	}
}

// Start joins the configured rooms and syncs in the background until Stop
// or ctx is done.
func (c *Client) Start(ctx context.Context) error {
	slog.Warn("matrix: end-to-end encryption is not enabled; passwords typed in rooms are redacted but reach the homeserver in plain text")

	syncer, ok := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.onMessage)
	syncer.OnEventType(event.StateMember, c.onMember)

	for _, room := range c.cfg.Rooms {
		if err := c.join(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", room, err)
		}
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	defer close(c.done)
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.mxc.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = backoffMin
			continue
		}
		slog.Error("matrix: sync failed, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends syncing and waits for turns in flight.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.mxc.StopSync()
	<-c.done
	c.queue.Wait()
}

func (c *Client) allowed(roomID id.RoomID) bool {
	return len(c.cfg.Rooms) == 0 || slices.Contains(c.cfg.Rooms, roomID.String())
}

func (c *Client) onMember(ctx context.Context, evt *event.Event) {
	if !c.cfg.AutoJoin || evt.GetStateKey() != c.cfg.UserID {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if !c.allowed(evt.RoomID) {
		slog.Info("matrix: ignoring invite to a room outside the allowlist", "room", evt.RoomID, "inviter", evt.Sender)
		return
	}
	if err := c.join(ctx, evt.RoomID); err != nil {
		slog.Warn("matrix: accept invite", "room", evt.RoomID, "err", err)
	}
}

func (c *Client) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.cfg.UserID) || !c.allowed(evt.RoomID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	roomID, sender, eventID, body := evt.RoomID, evt.Sender, evt.ID, msg.Body
	c.queue.Submit(roomID.String(), func() {
		c.handle(context.WithoutCancel(ctx), roomID, sender, eventID, body)
	})
}

// handle runs one turn. Turns of a room are handled in arrival order.
func (c *Client) handle(ctx context.Context, roomID id.RoomID, sender id.UserID, eventID id.EventID, body string) {
	secretKey := roomID.String() + "|" + sender.String()
	c.mu.Lock()
	secret := c.secretNext[secretKey]
	delete(c.secretNext, secretKey)
	c.mu.Unlock()

	if secret {
		if _, err := c.api.RedactEvent(ctx, roomID, eventID, mautrix.ReqRedact{Reason: "password"}); err != nil {
			slog.Warn("matrix: redact password message", "room", roomID, "err", err)
		}
	}

	reply := c.handler.HandleTurn(ctx, channel.IncomingMessage{
		Text:     body,
		Metadata: metadata(roomID, sender, eventID),
	})

	if reply.Sensitive {
		c.mu.Lock()
		c.secretNext[secretKey] = true
		c.mu.Unlock()
	}

	content := replyContent(reply)
	if _, err := c.api.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		slog.Error("matrix: send reply", "room", roomID, "err", err)
	}
}

func metadata(roomID id.RoomID, sender id.UserID, eventID id.EventID) channel.Metadata {
	raw, _ := json.Marshal(map[string]string{
		"room_id":  roomID.String(),
		"event_id": eventID.String(),
		"sender":   sender.String(),
	})
	return channel.Metadata{
		Channel:        ChannelName,
		ConversationID: roomID.String(),
		UserID:         sender.String(),
		Raw:            raw,
	}
}

// replyContent builds an m.text event; cards travel as an HTML body with a
// plain-text fallback.
func replyContent(msg channel.OutgoingMessage) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: msg.Text}
	if msg.Card == nil {
		return content
	}
	if text := msg.Card.PlainText(); text != "" {
		content.Body = strings.TrimSpace(msg.Text + "\n\n" + text)
	}
	content.Format = event.FormatHTML
	content.FormattedBody = "<p>" + strings.ReplaceAll(html.EscapeString(msg.Text), "\n", "<br/>") + "</p>" + msg.Card.HTML()
	return content
}

func (c *Client) join(ctx context.Context, roomID id.RoomID) error {
	_, err := c.api.JoinRoomByID(ctx, roomID)
	if errors.Is(err, mautrix.MForbidden) {
		slog.Warn("matrix: join refused, assuming already a member", "room", roomID)
		return nil
	}
	return err
}
