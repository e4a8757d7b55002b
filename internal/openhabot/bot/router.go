// Package bot is the turn router: it decides, for each incoming message,
// whether to continue a login dialog, start one, run a local command or
// forward the text to the openHAB chat endpoint.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bdobrica/openhabot/common/redact"
	"github.com/bdobrica/openhabot/common/trace"
	"github.com/bdobrica/openhabot/internal/openhabot/cards"
	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/commands"
	"github.com/bdobrica/openhabot/internal/openhabot/login"
	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
	"github.com/bdobrica/openhabot/internal/openhabot/ratelimit"
	"github.com/bdobrica/openhabot/internal/openhabot/state"
)

const (
	// DefaultTurnTimeout bounds all network work of one turn.
	DefaultTurnTimeout = 30 * time.Second

	commitTimeout = 5 * time.Second
)

// RemoteClient is the part of the openHAB API the router uses.
// *openhab.Client implements it.
type RemoteClient interface {
	Ping(ctx context.Context) error
	Chat(ctx context.Context, text string) (*openhab.ChatResponse, error)
	ItemState(ctx context.Context, name string) (string, error)
	Items(ctx context.Context) ([]openhab.Item, error)
}

// ClientFactory builds a RemoteClient for a user's saved credentials.
type ClientFactory func(creds openhab.Credentials) RemoteClient

// NewClientFactory returns a ClientFactory producing *openhab.Client values
// configured with cfg.
func NewClientFactory(cfg openhab.ClientConfig) ClientFactory {
	return func(creds openhab.Credentials) RemoteClient {
		return openhab.NewClient(creds, cfg)
	}
}

// Config wires a Router.
type Config struct {
	Flow    *login.Flow
	State   *state.Manager
	Clients ClientFactory

	// Limiter guards the chat endpoint per user. Nil disables limiting.
	Limiter *ratelimit.Limiter
	// TurnTimeout defaults to DefaultTurnTimeout.
	TurnTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Router handles turns. It is safe for concurrent use; turns of one
// conversation are serialized by the state manager.
type Router struct {
	flow        *login.Flow
	state       *state.Manager
	clients     ClientFactory
	limiter     *ratelimit.Limiter
	turnTimeout time.Duration
	now         func() time.Time
	commands    *commands.Router
}

var _ channel.Handler = (*Router)(nil)

// New returns a Router. Flow, State and Clients are required.
func New(cfg Config) (*Router, error) {
	switch {
	case cfg.Flow == nil:
		return nil, errors.New("bot: login flow is required")
	case cfg.State == nil:
		return nil, errors.New("bot: state manager is required")
	case cfg.Clients == nil:
		return nil, errors.New("bot: client factory is required")
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Router{
		flow:        cfg.Flow,
		state:       cfg.State,
		clients:     cfg.Clients,
		limiter:     cfg.Limiter,
		turnTimeout: cfg.TurnTimeout,
		now:         cfg.Now,
		commands:    commands.NewRouter(),
	}
	r.registerCommands()
	return r, nil
}

// HandleTurn answers one message. It never fails: unexpected errors and
// panics are logged and answered with an apology, and the turn's state
// changes are then discarded.
func (r *Router) HandleTurn(ctx context.Context, msg channel.IncomingMessage) (out channel.OutgoingMessage) {
	ctx = trace.WithTraceID(ctx, trace.NewID())
	ctx, cancel := context.WithTimeout(ctx, r.turnTimeout)
	defer cancel()

	log := slog.With("channel", msg.Metadata.Channel, "conversation", msg.Metadata.ConversationID, "user", msg.Metadata.UserID)

	turn, err := r.state.Begin(ctx, msg.Metadata)
	if err != nil {
		log.ErrorContext(ctx, "bot: load turn state", "err", err)
		return apology()
	}
	defer turn.Release()

	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "bot: panic during turn", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			out = apology()
		}
	}()

	out, err = r.dispatch(ctx, turn, msg)
	if err != nil {
		log.ErrorContext(ctx, "bot: turn failed", "err", redact.Error(err, turn.Credentials.Password))
		return apology()
	}

	commitCtx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancelCommit()
	if err := r.state.Commit(commitCtx, turn); err != nil {
		log.ErrorContext(ctx, "bot: save turn state", "err", err)
		return apology()
	}
	return out
}

// dispatch picks the single branch that handles msg.
func (r *Router) dispatch(ctx context.Context, turn *state.Turn, msg channel.IncomingMessage) (channel.OutgoingMessage, error) {
	now := r.now()

	switch {
	case turn.Dialog.Active(now) && turn.Dialog.OwnedBy(msg.Metadata.UserID):
		return r.continueLogin(ctx, turn, msg, now), nil
	case turn.Dialog.Active(now):
		// Another user of the conversation is logging in. Their dialog is
		// left alone; a logged-in sender is served as usual.
		if !turn.Credentials.Valid {
			slog.InfoContext(ctx, "bot: login busy in conversation", "owner", turn.Dialog.Owner)
			return loginBusy(), nil
		}
	case turn.Dialog.Step != login.StepNone:
		slog.InfoContext(ctx, "bot: login dialog expired", "step", turn.Dialog.Step)
		turn.Dialog = login.State{}
	}

	if !turn.Credentials.Valid {
		return r.startLogin(ctx, turn, msg, now), nil
	}

	out, err := r.commands.Route(ctx, turn, msg)
	if !errors.Is(err, commands.ErrNotACommand) {
		return out, err
	}
	return r.chat(ctx, turn, msg), nil
}

func (r *Router) startLogin(ctx context.Context, turn *state.Turn, msg channel.IncomingMessage, now time.Time) channel.OutgoingMessage {
	if !msg.Metadata.HasScreen() {
		slog.InfoContext(ctx, "bot: login requested from a voice-only device")
		return channel.OutgoingMessage{
			Text:      "I need you to login on another device with a screen",
			Speech:    "I cannot configure this service on a speaker only device, sorry.",
			InputHint: channel.IgnoringInput,
		}
	}

	res := r.flow.Begin(now)
	turn.Dialog = res.State
	turn.Dialog.Owner = msg.Metadata.UserID
	slog.InfoContext(ctx, "bot: login dialog started")

	out := promptMessage(res.Prompt, "")
	out.Text = introText + "\n\n" + out.Text
	out.Speech = "Let's get started. " + out.Speech
	return out
}

func loginBusy() channel.OutgoingMessage {
	const text = "Someone else in this conversation is logging in right now. Please try again when they are done."
	return channel.OutgoingMessage{Text: text, Speech: text, InputHint: channel.AcceptingInput}
}

const introText = "Let's get started. For now I can only use basic authentication, which means I will ask for your username and password here."

func (r *Router) continueLogin(ctx context.Context, turn *state.Turn, msg channel.IncomingMessage, now time.Time) channel.OutgoingMessage {
	res := r.flow.Advance(ctx, turn.Dialog, msg.Text, now)
	slog.InfoContext(ctx, "bot: login dialog advanced", "from", turn.Dialog.Step, "to", res.State.Step, "result", res.Kind)
	turn.Dialog = res.State
	if turn.Dialog.Step != login.StepNone && turn.Dialog.Owner == "" {
		turn.Dialog.Owner = msg.Metadata.UserID
	}

	switch res.Kind {
	case login.KindCompleted:
		turn.Credentials = res.Credentials
		text := fmt.Sprintf("Logging on to %s.", res.Credentials.ServerURL)
		return channel.OutgoingMessage{Text: text, Speech: text, InputHint: channel.AcceptingInput}
	case login.KindCancelled:
		return channel.OutgoingMessage{Text: res.Notice, Speech: res.Notice, InputHint: channel.AcceptingInput}
	default:
		return promptMessage(res.Prompt, res.Notice)
	}
}

// promptMessage renders a dialog question, preceded by notice if any.
func promptMessage(p login.Prompt, notice string) channel.OutgoingMessage {
	out := channel.OutgoingMessage{
		Text:      p.Text,
		Speech:    p.Speech,
		InputHint: channel.ExpectingInput,
		Choices:   p.Choices,
		Sensitive: p.Sensitive,
	}
	if notice != "" {
		out.Text = notice + "\n\n" + out.Text
		out.Speech = notice + " " + out.Speech
	}
	return out
}

func (r *Router) chat(ctx context.Context, turn *state.Turn, msg channel.IncomingMessage) channel.OutgoingMessage {
	if r.limiter != nil {
		if ok, wait := r.limiter.Allow(state.UserKey(msg.Metadata)); !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			slog.WarnContext(ctx, "bot: chat rate limited", "retry_after", wait)
			text := fmt.Sprintf("You are sending messages too quickly. Please try again in %d seconds.", max(secs, 1))
			return channel.OutgoingMessage{Text: text, Speech: "Please slow down.", InputHint: channel.AcceptingInput}
		}
	}

	client := r.clients(turn.Credentials)
	resp, err := client.Chat(ctx, msg.Text)
	if err != nil {
		slog.WarnContext(ctx, "bot: chat request failed, login invalidated",
			"server", turn.Credentials.ServerURL, "err", redact.Error(err, turn.Credentials.Password))
		turn.Credentials.Valid = false
		const text = "I am not able to connect to the openHAB server"
		return channel.OutgoingMessage{Text: text, Speech: text, InputHint: channel.IgnoringInput}
	}

	out := channel.OutgoingMessage{Text: resp.Answer, Speech: resp.Answer, InputHint: channel.AcceptingInput}
	if resp.Hint != "" {
		out.Text += "\n\n" + resp.Hint
	}
	if resp.Card != nil {
		out.Card = cards.NewRenderer(client).RenderCard(ctx, resp.Card)
	}
	return out
}

func apology() channel.OutgoingMessage {
	const text = "Sorry, it looks like something went wrong."
	return channel.OutgoingMessage{Text: text, Speech: text, InputHint: channel.AcceptingInput}
}
