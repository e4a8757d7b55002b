package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/openhabot/common/redact"
	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/commands"
	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
	"github.com/bdobrica/openhabot/internal/openhabot/state"
)

func (r *Router) registerCommands() {
	r.commands.Register("logout", "Forget your openHAB login", r.handleLogout, "log out")
	r.commands.Register("test connection", "Check that the openHAB server accepts your login", r.handleTestConnection)
	r.commands.Register("enumerate items", "Count the items on your openHAB server", r.handleEnumerateItems)
	r.commands.Register("show device data", "Show what your chat client tells me about itself", r.handleShowDeviceData)
	r.commands.Register("help", "List these commands", r.handleHelp)
}

func (r *Router) handleLogout(ctx context.Context, _ *commands.Command, turn *state.Turn, _ channel.IncomingMessage) (channel.OutgoingMessage, error) {
	slog.InfoContext(ctx, "bot: logout", "server", turn.Credentials.ServerURL)
	turn.Credentials = openhab.Credentials{}
	return channel.OutgoingMessage{Text: "Logging out", Speech: "Sorry to see you go", InputHint: channel.IgnoringInput}, nil
}

func (r *Router) handleTestConnection(ctx context.Context, _ *commands.Command, turn *state.Turn, _ channel.IncomingMessage) (channel.OutgoingMessage, error) {
	if err := r.clients(turn.Credentials).Ping(ctx); err != nil {
		return diagnosticFailure(ctx, "test connection", err, turn.Credentials.Password), nil
	}
	return channel.OutgoingMessage{
		Text:      "All is well",
		Speech:    "I am connected to the openHAB server",
		InputHint: channel.IgnoringInput,
	}, nil
}

func (r *Router) handleEnumerateItems(ctx context.Context, _ *commands.Command, turn *state.Turn, _ channel.IncomingMessage) (channel.OutgoingMessage, error) {
	items, err := r.clients(turn.Credentials).Items(ctx)
	if err != nil {
		return diagnosticFailure(ctx, "enumerate items", err, turn.Credentials.Password), nil
	}
	return channel.OutgoingMessage{
		Text:      fmt.Sprintf("There are %d items", len(items)),
		Speech:    fmt.Sprintf("I found %d items on the openHAB instance", len(items)),
		InputHint: channel.IgnoringInput,
	}, nil
}

func (r *Router) handleShowDeviceData(_ context.Context, _ *commands.Command, _ *state.Turn, msg channel.IncomingMessage) (channel.OutgoingMessage, error) {
	data, err := json.MarshalIndent(msg.Metadata, "", "  ")
	if err != nil {
		return channel.OutgoingMessage{}, fmt.Errorf("bot: encode device data: %w", err)
	}
	return channel.OutgoingMessage{
		Text:      "This is the device data:\n" + string(data),
		InputHint: channel.IgnoringInput,
	}, nil
}

func (r *Router) handleHelp(_ context.Context, _ *commands.Command, _ *state.Turn, _ channel.IncomingMessage) (channel.OutgoingMessage, error) {
	var sb strings.Builder
	sb.WriteString("Ask me anything about your home, for example \"what is the temperature in the kitchen\". I also understand:")
	for _, c := range r.commands.Commands() {
		fmt.Fprintf(&sb, "\n- %s: %s", c.Name, c.Summary)
	}
	return channel.OutgoingMessage{
		Text:      sb.String(),
		Speech:    "Ask me anything about your home.",
		InputHint: channel.AcceptingInput,
	}, nil
}

// diagnosticFailure reports a failed read-only check without touching the
// saved login.
func diagnosticFailure(ctx context.Context, what string, err error, password string) channel.OutgoingMessage {
	msg := redact.Error(err, password)
	slog.WarnContext(ctx, "bot: diagnostic failed", "command", what, "err", msg)
	return channel.OutgoingMessage{
		Text:      "I experienced an error: " + msg,
		Speech:    "Something went wrong while talking to the openHAB server.",
		InputHint: channel.IgnoringInput,
	}
}
