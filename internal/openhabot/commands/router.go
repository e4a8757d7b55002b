// Package commands recognizes the fixed phrases the bot handles locally
// instead of forwarding them to openHAB.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/state"
)

// ErrNotACommand is returned when text is not a registered phrase. Callers
// forward such text to the chat endpoint.
var ErrNotACommand = errors.New("commands: not a command")

// Command is a matched phrase.
type Command struct {
	// Name is the canonical phrase the handler was registered under.
	Name string
}

// Handler executes a command within the current turn. A returned error is
// unexpected; expected failures are reported in the message.
type Handler func(ctx context.Context, cmd *Command, turn *state.Turn, msg channel.IncomingMessage) (channel.OutgoingMessage, error)

// Info describes a registered command for help output.
type Info struct {
	Name    string
	Aliases []string
	Summary string
}

type entry struct {
	info    Info
	handler Handler
}

// Router maps phrases to handlers. Register everything before the first
// Route; Router is not safe for concurrent registration.
type Router struct {
	byPhrase map[string]*entry
	entries  []*entry
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{byPhrase: make(map[string]*entry)}
}

// Register binds name and its aliases to h. Phrases are matched after
// Normalize. Registering a phrase twice panics.
func (r *Router) Register(name, summary string, h Handler, aliases ...string) {
	e := &entry{info: Info{Name: Normalize(name), Aliases: aliases, Summary: summary}, handler: h}
	for _, phrase := range append([]string{name}, aliases...) {
		p := Normalize(phrase)
		if _, dup := r.byPhrase[p]; dup {
			panic(fmt.Sprintf("commands: phrase %q registered twice", p))
		}
		r.byPhrase[p] = e
	}
	r.entries = append(r.entries, e)
}

// Match returns the command text names, or ErrNotACommand.
func (r *Router) Match(text string) (*Command, error) {
	e, ok := r.byPhrase[Normalize(text)]
	if !ok {
		return nil, ErrNotACommand
	}
	return &Command{Name: e.info.Name}, nil
}

// Route matches msg.Text and runs its handler.
func (r *Router) Route(ctx context.Context, turn *state.Turn, msg channel.IncomingMessage) (channel.OutgoingMessage, error) {
	cmd, err := r.Match(msg.Text)
	if err != nil {
		return channel.OutgoingMessage{}, err
	}
	return r.byPhrase[Normalize(msg.Text)].handler(ctx, cmd, turn, msg)
}

// Commands lists the registered commands by name.
func (r *Router) Commands() []Info {
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Normalize lowercases text, trims it and collapses inner whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
