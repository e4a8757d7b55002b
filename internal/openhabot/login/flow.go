// Package login implements the credential-collection dialog as an explicit
// state machine.
//
// A dialog walks through
//
//	AskUsePublicServer -> [AskServerURL] -> AskUsername -> AskPassword -> Done
//
// one user answer per call to Flow.Advance. The flow holds no state of its
// own: the caller stores the returned State between turns and passes it back
// in. The password never enters State; it is only held for the duration of
// the turn that verifies it.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
)

// DefaultTTL is how long an unanswered dialog stays alive.
const DefaultTTL = 10 * time.Minute

// Step identifies the question last put to the user.
type Step string

const (
	StepNone               Step = ""
	StepAskUsePublicServer Step = "ask_use_public_server"
	StepAskServerURL       Step = "ask_server_url"
	StepAskUsername        Step = "ask_username"
	StepAskPassword        Step = "ask_password"
	StepDone               Step = "done"
)

// State is the persisted position of one conversation in the dialog.
type State struct {
	Step      Step                `json:"step"`
	Pending   openhab.Credentials `json:"pending"`
	ExpiresAt time.Time           `json:"expires_at"`
	// Owner is the user the dialog collects credentials for. Only that user
	// may answer it. Set by the caller; the flow carries it across steps.
	Owner string `json:"owner,omitempty"`
}

// OwnedBy reports whether user may answer the dialog. Dialogs stored
// without an owner accept anyone.
func (s State) OwnedBy(user string) bool {
	return s.Owner == "" || s.Owner == user
}

// Active reports whether s is a dialog in progress that has not expired.
func (s State) Active(now time.Time) bool {
	if s.Step == StepNone || s.Step == StepDone {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// Kind classifies a Result.
type Kind int

const (
	// KindPrompt means the dialog advanced and asks its next question.
	KindPrompt Kind = iota
	// KindRetry means the answer was rejected; Notice explains why and
	// Prompt repeats the question now expected.
	KindRetry
	// KindCompleted means the credentials were verified. State is reset.
	KindCompleted
	// KindCancelled means the user abandoned the dialog. State is reset.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindPrompt:
		return "prompt"
	case KindRetry:
		return "retry"
	case KindCompleted:
		return "completed"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Prompt is a question for the user.
type Prompt struct {
	Text   string
	Speech string
	// Choices lists the expected answers of a closed question.
	Choices []string
	// Sensitive marks a question whose answer is a secret.
	Sensitive bool
}

// Result is the outcome of one dialog transition.
type Result struct {
	Kind  Kind
	State State
	// Notice precedes the prompt: a corrective message on retry or the
	// farewell on cancellation.
	Notice string
	Prompt Prompt
	// Credentials is set on KindCompleted, with Valid true.
	Credentials openhab.Credentials
}

// Verifier performs the network checks run once the password is known.
// *openhab.Prober satisfies it.
type Verifier interface {
	CheckReachable(ctx context.Context, serverURL string) error
	CheckCredentials(ctx context.Context, serverURL, username, password string) error
}

// Config configures a Flow.
type Config struct {
	// PublicServer is the URL used when the user answers yes to the public
	// server question. Defaults to openhab.PublicServerURL.
	PublicServer string
	// TTL bounds the time between two answers. Defaults to DefaultTTL.
	TTL time.Duration
}

// Flow drives login dialogs. It is stateless and safe for concurrent use.
type Flow struct {
	verifier     Verifier
	publicServer string
	ttl          time.Duration
}

// NewFlow returns a Flow that verifies credentials with v.
func NewFlow(v Verifier, cfg Config) *Flow {
	if cfg.PublicServer == "" {
		cfg.PublicServer = openhab.PublicServerURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Flow{verifier: v, publicServer: cfg.PublicServer, ttl: cfg.TTL}
}

// PublicServer returns the URL offered as the public server.
func (f *Flow) PublicServer() string { return f.publicServer }

// Begin starts a dialog with the public server question.
func (f *Flow) Begin(now time.Time) Result {
	return f.ask(StepAskUsePublicServer, openhab.Credentials{}, now)
}

// Advance feeds one user answer into the dialog at st. A state that is not
// active, including an expired one, starts a new dialog and ignores input.
func (f *Flow) Advance(ctx context.Context, st State, input string, now time.Time) Result {
	if !st.Active(now) {
		res := f.Begin(now)
		res.State.Owner = st.Owner
		return res
	}
	res := f.advance(ctx, st, input, now)
	if res.State.Step != StepNone {
		res.State.Owner = st.Owner
	}
	return res
}

func (f *Flow) advance(ctx context.Context, st State, input string, now time.Time) Result {

	answer := strings.TrimSpace(input)
	if isCancel(st.Step, answer) {
		return Result{
			Kind:   KindCancelled,
			Notice: "Login cancelled. Send me any message when you want to try again.",
		}
	}

	switch st.Step {
	case StepAskUsePublicServer:
		switch {
		case isYes(answer):
			pending := openhab.Credentials{ServerURL: f.publicServer}
			return f.ask(StepAskUsername, pending, now)
		case isNo(answer):
			return f.ask(StepAskServerURL, openhab.Credentials{}, now)
		default:
			return f.retry(st, "Sorry, I did not get that. Please answer yes or no.", now)
		}

	case StepAskServerURL:
		canonical, err := openhab.ValidateURL(answer)
		if err != nil {
			return f.retry(st, urlNotice(err), now)
		}
		pending := st.Pending
		pending.ServerURL = canonical
		return f.ask(StepAskUsername, pending, now)

	case StepAskUsername:
		if answer == "" {
			return f.retry(st, "The username cannot be empty.", now)
		}
		pending := st.Pending
		pending.Username = answer
		return f.ask(StepAskPassword, pending, now)

	case StepAskPassword:
		// Passwords may legitimately carry surrounding spaces.
		if strings.TrimSpace(input) == "" {
			return f.retry(st, "The password cannot be empty.", now)
		}
		return f.verify(ctx, st.Pending, input, now)
	}

	return f.Begin(now)
}

// verify runs the reachability probe and then the credential check. Either
// failure sends the user back to the server question.
func (f *Flow) verify(ctx context.Context, pending openhab.Credentials, password string, now time.Time) Result {
	if err := f.verifier.CheckReachable(ctx, pending.ServerURL); err != nil {
		return f.restart("I was not able to find the server online, are you sure you gave the correct information?", now)
	}
	if err := f.verifier.CheckCredentials(ctx, pending.ServerURL, pending.Username, password); err != nil {
		return f.restart("I was not able to connect to the server with the provided credentials, are you sure you gave the correct information?", now)
	}

	creds := pending
	creds.Password = password
	creds.Valid = true
	return Result{Kind: KindCompleted, Credentials: creds}
}

func (f *Flow) ask(step Step, pending openhab.Credentials, now time.Time) Result {
	return Result{
		Kind:   KindPrompt,
		State:  State{Step: step, Pending: pending, ExpiresAt: now.Add(f.ttl)},
		Prompt: f.prompt(step),
	}
}

func (f *Flow) retry(st State, notice string, now time.Time) Result {
	st.ExpiresAt = now.Add(f.ttl)
	return Result{Kind: KindRetry, State: st, Notice: notice, Prompt: f.prompt(st.Step)}
}

func (f *Flow) restart(notice string, now time.Time) Result {
	st := State{Step: StepAskServerURL, ExpiresAt: now.Add(f.ttl)}
	return Result{Kind: KindRetry, State: st, Notice: notice, Prompt: f.prompt(StepAskServerURL)}
}

func (f *Flow) prompt(step Step) Prompt {
	switch step {
	case StepAskUsePublicServer:
		host := f.publicServer
		if u, err := url.Parse(f.publicServer); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
		return Prompt{
			Text:    fmt.Sprintf("Are you using the public server (%s)? Please answer yes or no.", host),
			Speech:  "Are you using the public server?",
			Choices: []string{"yes", "no"},
		}
	case StepAskServerURL:
		return Prompt{
			Text:   "Please tell me the openHAB server name. Like this: " + f.publicServer,
			Speech: "Please tell me the openHAB server name.",
		}
	case StepAskUsername:
		return Prompt{Text: "What is your openHAB username?", Speech: "What is your username?"}
	case StepAskPassword:
		return Prompt{Text: "What is your openHAB password?", Speech: "What is your password?", Sensitive: true}
	}
	return Prompt{}
}

func urlNotice(err error) string {
	switch {
	case errors.Is(err, openhab.ErrEmptyInput):
		return "The server field is empty."
	case errors.Is(err, openhab.ErrReservedSuffix):
		return `Please leave out the "/rest" part of the url, I just need to know the root of your openHAB installation.`
	default:
		return "I could not interpret the server field as a url."
	}
}
