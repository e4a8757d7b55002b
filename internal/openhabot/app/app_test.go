package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/openhabot/internal/openhabot/channel"
)

func testConfig(t *testing.T, dbPath string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = dbPath
	cfg.MasterKey = strings.Repeat("ab", 32)
	return cfg
}

func consoleMessage(text string) channel.IncomingMessage {
	return channel.IncomingMessage{
		Text:     text,
		Metadata: channel.Metadata{Channel: "console", ConversationID: "local", UserID: "local"},
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "state.db"))
	cfg.MasterKey = "not-hex"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for bad master key")
	}
}

func TestRun_NeedsAChannel(t *testing.T) {
	a, err := New(testConfig(t, filepath.Join(t.TempDir(), "state.db")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop()

	if err := a.Run(context.Background()); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("Run = %v, want ErrNoChannels", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "state.db"))
	cfg.HTTPAddr = "127.0.0.1:0"
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDialogSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, err := New(testConfig(t, dbPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := first.Handler().HandleTurn(ctx, consoleMessage("hello"))
	if !strings.Contains(out.Text, "public server") {
		t.Fatalf("first reply = %q, want the public server question", out.Text)
	}
	first.Stop()

	second, err := New(testConfig(t, dbPath))
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer second.Stop()

	out = second.Handler().HandleTurn(ctx, consoleMessage("yes"))
	if out.Text != "What is your openHAB username?" {
		t.Fatalf("reply after restart = %q", out.Text)
	}
	if out.InputHint != channel.ExpectingInput {
		t.Errorf("InputHint = %q", out.InputHint)
	}
}
