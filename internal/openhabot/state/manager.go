package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bdobrica/openhabot/common/crypto"
	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/login"
	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
)

const (
	conversationPrefix = "conversation/"
	userPrefix         = "user/"
)

// ConversationKey is the key holding the dialog state of the conversation
// described by m.
func ConversationKey(m channel.Metadata) string {
	return conversationPrefix + m.Channel + "/" + m.ConversationID
}

// UserKey is the key holding the saved credentials of the user described
// by m.
func UserKey(m channel.Metadata) string {
	return userPrefix + m.Channel + "/" + m.UserID
}

// credentialRecord is the stored form of openhab.Credentials. With a master
// key the password is kept only in sealed form.
type credentialRecord struct {
	ServerURL         string `json:"server_url"`
	Username          string `json:"username"`
	Password          string `json:"password,omitempty"`
	PasswordEncrypted string `json:"password_enc,omitempty"`
	Valid             bool   `json:"valid"`
}

// Manager loads and saves per-turn state and serializes turns: while a Turn
// is open no other Turn can be opened for the same conversation or user.
type Manager struct {
	kv    KV
	key   []byte
	locks *keyedMutex
}

// NewManager returns a Manager over kv. masterKey, when non-nil, must be
// crypto.KeySize bytes and seals stored passwords.
func NewManager(kv KV, masterKey []byte) (*Manager, error) {
	if masterKey != nil && len(masterKey) != crypto.KeySize {
		return nil, crypto.ErrInvalidKeySize
	}
	if masterKey == nil {
		slog.Warn("state: no master key configured, passwords are stored in plain text")
	}
	return &Manager{kv: kv, key: masterKey, locks: newKeyedMutex()}, nil
}

// Turn is the state visible to one turn. Handlers mutate Dialog and
// Credentials freely; nothing is written until Manager.Commit.
type Turn struct {
	Dialog      login.State
	Credentials openhab.Credentials

	convKey string
	userKey string
	before  map[string][]byte // nil value: key was absent
	unlock  []func()
	// unreadable is set when the stored credentials could not be decoded.
	// They are left in place unless the turn sets new ones.
	unreadable bool
}

// Release unlocks the conversation and user. It is safe to call more than
// once and after Commit.
func (t *Turn) Release() {
	for i := len(t.unlock) - 1; i >= 0; i-- {
		t.unlock[i]()
	}
	t.unlock = nil
}

// Begin locks the conversation, then the user, and loads their state. The
// caller must Release the returned Turn.
func (m *Manager) Begin(ctx context.Context, meta channel.Metadata) (*Turn, error) {
	t := &Turn{
		convKey: ConversationKey(meta),
		userKey: UserKey(meta),
		before:  make(map[string][]byte, 2),
	}

	unlockConv, err := m.locks.Lock(ctx, t.convKey)
	if err != nil {
		return nil, fmt.Errorf("state: lock conversation: %w", err)
	}
	t.unlock = append(t.unlock, unlockConv)

	if t.userKey != t.convKey {
		unlockUser, err := m.locks.Lock(ctx, t.userKey)
		if err != nil {
			t.Release()
			return nil, fmt.Errorf("state: lock user: %w", err)
		}
		t.unlock = append(t.unlock, unlockUser)
	}

	if err := m.load(ctx, t); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

func (m *Manager) load(ctx context.Context, t *Turn) error {
	for _, key := range []string{t.convKey, t.userKey} {
		raw, err := m.kv.Get(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			t.before[key] = nil
		case err != nil:
			return err
		default:
			t.before[key] = raw
		}
	}

	if raw := t.before[t.convKey]; raw != nil {
		if err := json.Unmarshal(raw, &t.Dialog); err != nil {
			slog.Warn("state: discarding unreadable dialog state", "key", t.convKey, "err", err)
			t.Dialog = login.State{}
		}
	}
	if raw := t.before[t.userKey]; raw != nil {
		creds, err := m.decodeCredentials(raw)
		if err != nil {
			slog.Warn("state: ignoring unreadable credentials", "key", t.userKey, "err", err)
			creds = openhab.Credentials{}
			t.unreadable = true
		}
		t.Credentials = creds
	}
	return nil
}

// Commit writes the dialog and credentials of t. When a write fails, keys
// already written in this commit are restored to their pre-turn values.
func (m *Manager) Commit(ctx context.Context, t *Turn) error {
	dialog, err := m.encodeDialog(t.Dialog)
	if err != nil {
		return err
	}
	creds, err := m.encodeCredentials(t.Credentials)
	if err != nil {
		return err
	}

	type write struct {
		key   string
		value []byte
	}
	writes := []write{{t.convKey, dialog}}
	if t.unreadable && t.Credentials.IsZero() {
		creds = t.before[t.userKey]
	} else {
		writes = append(writes, write{t.userKey, creds})
	}

	var done []string
	for _, w := range writes {
		if err := m.put(ctx, w.key, w.value); err != nil {
			m.restore(ctx, t, done)
			return fmt.Errorf("state: commit %q: %w", w.key, err)
		}
		done = append(done, w.key)
	}

	t.before[t.convKey] = dialog
	t.before[t.userKey] = creds
	if !t.Credentials.IsZero() {
		t.unreadable = false
	}
	return nil
}

// Stats counts what the store holds.
type Stats struct {
	Dialogs int `json:"dialogs"`
	Logins  int `json:"logins"`
}

// Stats returns the number of stored login dialogs and saved logins.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	dialogs, err := m.kv.List(ctx, conversationPrefix)
	if err != nil {
		return Stats{}, fmt.Errorf("state: list dialogs: %w", err)
	}
	logins, err := m.kv.List(ctx, userPrefix)
	if err != nil {
		return Stats{}, fmt.Errorf("state: list logins: %w", err)
	}
	return Stats{Dialogs: len(dialogs), Logins: len(logins)}, nil
}

// put stores value, or deletes key when value is nil.
func (m *Manager) put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		return m.kv.Delete(ctx, key)
	}
	return m.kv.Set(ctx, key, value)
}

func (m *Manager) restore(ctx context.Context, t *Turn, keys []string) {
	// The turn context may be what failed the write.
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := m.put(ctx, key, t.before[key]); err != nil {
			slog.Error("state: restore after failed commit", "key", key, "err", err)
		}
	}
}

func (m *Manager) encodeDialog(d login.State) ([]byte, error) {
	if d.Step == login.StepNone || d.Step == login.StepDone {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("state: encode dialog: %w", err)
	}
	return raw, nil
}

func (m *Manager) encodeCredentials(c openhab.Credentials) ([]byte, error) {
	if c.IsZero() {
		return nil, nil
	}
	rec := credentialRecord{ServerURL: c.ServerURL, Username: c.Username, Valid: c.Valid}
	if m.key != nil && c.Password != "" {
		sealed, err := crypto.SealString(m.key, c.Password)
		if err != nil {
			return nil, fmt.Errorf("state: seal password: %w", err)
		}
		rec.PasswordEncrypted = sealed
	} else {
		rec.Password = c.Password
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("state: encode credentials: %w", err)
	}
	return raw, nil
}

func (m *Manager) decodeCredentials(raw []byte) (openhab.Credentials, error) {
	var rec credentialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return openhab.Credentials{}, err
	}
	c := openhab.Credentials{ServerURL: rec.ServerURL, Username: rec.Username, Password: rec.Password, Valid: rec.Valid}
	if rec.PasswordEncrypted != "" {
		if m.key == nil {
			return openhab.Credentials{}, errors.New("password is sealed but no master key is configured")
		}
		pw, err := crypto.OpenString(m.key, rec.PasswordEncrypted)
		if err != nil {
			return openhab.Credentials{}, err
		}
		c.Password = pw
	}
	return c, nil
}
