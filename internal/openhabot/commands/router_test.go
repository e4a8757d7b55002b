package commands_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/commands"
	"github.com/bdobrica/openhabot/internal/openhabot/state"
)

func reply(text string) commands.Handler {
	return func(_ context.Context, cmd *commands.Command, _ *state.Turn, _ channel.IncomingMessage) (channel.OutgoingMessage, error) {
		return channel.OutgoingMessage{Text: text + ":" + cmd.Name}, nil
	}
}

func newRouter() *commands.Router {
	r := commands.NewRouter()
	r.Register("logout", "Forget my openHAB login", reply("bye"), "log out")
	r.Register("test connection", "Check the openHAB server", reply("test"))
	return r
}

func TestMatch(t *testing.T) {
	r := newRouter()
	cases := map[string]string{
		"logout":             "logout",
		"  LOG   out ":       "logout",
		"Log Out":            "logout",
		"test connection":    "test connection",
		"TEST\tCONNECTION\n": "test connection",
	}
	for in, want := range cases {
		cmd, err := r.Match(in)
		if err != nil {
			t.Errorf("Match(%q): %v", in, err)
			continue
		}
		if cmd.Name != want {
			t.Errorf("Match(%q) = %q, want %q", in, cmd.Name, want)
		}
	}
}

func TestMatch_NotACommand(t *testing.T) {
	r := newRouter()
	for _, in := range []string{"", "please logout", "logout now", "test", "turn on the light"} {
		if _, err := r.Match(in); !errors.Is(err, commands.ErrNotACommand) {
			t.Errorf("Match(%q) err = %v, want ErrNotACommand", in, err)
		}
	}
}

func TestRoute(t *testing.T) {
	r := newRouter()
	out, err := r.Route(context.Background(), &state.Turn{}, channel.IncomingMessage{Text: "Log out"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if out.Text != "bye:logout" {
		t.Errorf("got %q, want %q", out.Text, "bye:logout")
	}

	if _, err := r.Route(context.Background(), &state.Turn{}, channel.IncomingMessage{Text: "hello"}); !errors.Is(err, commands.ErrNotACommand) {
		t.Errorf("err = %v, want ErrNotACommand", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := newRouter()
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate phrase")
		}
	}()
	r.Register("Log  Out", "dup", reply("x"))
}

func TestCommandsSorted(t *testing.T) {
	got := newRouter().Commands()
	if len(got) != 2 || got[0].Name != "logout" || got[1].Name != "test connection" {
		t.Errorf("Commands() = %+v", got)
	}
}
