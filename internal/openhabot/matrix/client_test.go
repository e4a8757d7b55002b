package matrix

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/openhabot/internal/openhabot/cards"
	"github.com/bdobrica/openhabot/internal/openhabot/channel"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []*event.MessageEventContent
	redacted []id.EventID
	joined   []id.RoomID
}

func (f *fakeAPI) SendMessageEvent(_ context.Context, _ id.RoomID, _ event.Type, content interface{}, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content.(*event.MessageEventContent))
	return &mautrix.RespSendEvent{}, nil
}

func (f *fakeAPI) RedactEvent(_ context.Context, _ id.RoomID, eventID id.EventID, _ ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redacted = append(f.redacted, eventID)
	return &mautrix.RespSendEvent{}, nil
}

func (f *fakeAPI) JoinRoomByID(_ context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return &mautrix.RespJoinRoom{}, nil
}

func textEvent(room, sender, eventID, body string) *event.Event {
	return &event.Event{
		Type:    event.EventMessage,
		RoomID:  id.RoomID(room),
		Sender:  id.UserID(sender),
		ID:      id.EventID(eventID),
		Content: event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body}},
	}
}

func TestOnMessage_RunsTurnAndReplies(t *testing.T) {
	a := &fakeAPI{}
	var got []channel.IncomingMessage
	c := newClient(Config{UserID: "@bot:hs"}, a, channel.HandlerFunc(func(_ context.Context, msg channel.IncomingMessage) channel.OutgoingMessage {
		got = append(got, msg)
		return channel.OutgoingMessage{Text: "hi " + msg.Text}
	}))

	c.onMessage(context.Background(), textEvent("!r:hs", "@alice:hs", "$1", "hello"))
	c.onMessage(context.Background(), textEvent("!r:hs", "@bot:hs", "$2", "my own echo"))
	c.queue.Wait()

	if len(got) != 1 {
		t.Fatalf("turns = %d, want 1", len(got))
	}
	meta := got[0].Metadata
	if meta.Channel != ChannelName || meta.ConversationID != "!r:hs" || meta.UserID != "@alice:hs" {
		t.Errorf("metadata = %+v", meta)
	}
	if !meta.HasScreen() {
		t.Error("matrix clients have a screen")
	}
	if len(a.sent) != 1 || a.sent[0].Body != "hi hello" {
		t.Errorf("sent = %+v", a.sent)
	}
}

func TestOnMessage_RoomAllowlist(t *testing.T) {
	a := &fakeAPI{}
	calls := 0
	c := newClient(Config{UserID: "@bot:hs", Rooms: []string{"!ok:hs"}}, a, channel.HandlerFunc(func(context.Context, channel.IncomingMessage) channel.OutgoingMessage {
		calls++
		return channel.OutgoingMessage{Text: "x"}
	}))

	c.onMessage(context.Background(), textEvent("!other:hs", "@alice:hs", "$1", "hello"))
	c.onMessage(context.Background(), textEvent("!ok:hs", "@alice:hs", "$2", "hello"))
	c.queue.Wait()

	if calls != 1 {
		t.Errorf("turns = %d, want 1", calls)
	}
}

func TestSensitiveAnswerIsRedacted(t *testing.T) {
	a := &fakeAPI{}
	c := newClient(Config{UserID: "@bot:hs"}, a, channel.HandlerFunc(func(_ context.Context, msg channel.IncomingMessage) channel.OutgoingMessage {
		if msg.Text == "alice" {
			return channel.OutgoingMessage{Text: "What is your password?", Sensitive: true}
		}
		return channel.OutgoingMessage{Text: "ok"}
	}))

	c.onMessage(context.Background(), textEvent("!r:hs", "@alice:hs", "$user", "alice"))
	c.onMessage(context.Background(), textEvent("!r:hs", "@alice:hs", "$pw", "s3cret"))
	c.onMessage(context.Background(), textEvent("!r:hs", "@alice:hs", "$next", "lights on"))
	c.queue.Wait()

	if len(a.redacted) != 1 || a.redacted[0] != "$pw" {
		t.Errorf("redacted = %v, want [$pw]", a.redacted)
	}
}

func TestOnMember_AutoJoin(t *testing.T) {
	a := &fakeAPI{}
	c := newClient(Config{UserID: "@bot:hs", AutoJoin: true, Rooms: []string{"!ok:hs"}}, a, nil)

	invite := func(room string) *event.Event {
		stateKey := "@bot:hs"
		return &event.Event{
			Type:     event.StateMember,
			RoomID:   id.RoomID(room),
			Sender:   "@alice:hs",
			StateKey: &stateKey,
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
		}
	}
	c.onMember(context.Background(), invite("!ok:hs"))
	c.onMember(context.Background(), invite("!nope:hs"))

	if len(a.joined) != 1 || a.joined[0] != "!ok:hs" {
		t.Errorf("joined = %v", a.joined)
	}
}

func TestReplyContent(t *testing.T) {
	plain := replyContent(channel.OutgoingMessage{Text: "just text"})
	if plain.Format != "" || plain.Body != "just text" {
		t.Errorf("plain = %+v", plain)
	}

	withCard := replyContent(channel.OutgoingMessage{
		Text: "Here <you> go",
		Card: &cards.Card{Title: "Kitchen", Body: []cards.Element{cards.TextBlock{Text: "Temp = 20"}}},
	})
	if withCard.Format != event.FormatHTML {
		t.Errorf("format = %q", withCard.Format)
	}
	if !strings.Contains(withCard.Body, "Kitchen\nTemp = 20") {
		t.Errorf("body = %q", withCard.Body)
	}
	if !strings.Contains(withCard.FormattedBody, "Here &lt;you&gt; go") || !strings.Contains(withCard.FormattedBody, "<strong>Kitchen</strong>") {
		t.Errorf("formatted = %q", withCard.FormattedBody)
	}
}

func TestMetadataRaw(t *testing.T) {
	m := metadata("!r:hs", "@a:hs", "$e")
	var raw map[string]string
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["event_id"] != "$e" {
		t.Errorf("raw = %v", raw)
	}
}
