// Package app wires the openHAbot components together and runs the
// configured channels.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/openhabot/internal/openhabot/bot"
	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/login"
	"github.com/bdobrica/openhabot/internal/openhabot/matrix"
	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
	"github.com/bdobrica/openhabot/internal/openhabot/ratelimit"
	"github.com/bdobrica/openhabot/internal/openhabot/state"
	"github.com/bdobrica/openhabot/internal/openhabot/store"
	"github.com/bdobrica/openhabot/internal/openhabot/webchat"
)

// ErrNoChannels is returned by Run when neither the web chat nor Matrix is
// configured.
var ErrNoChannels = errors.New("app: no channel configured (set OPENHABOT_HTTP_ADDR or MATRIX_HOMESERVER)")

// App is the openHAbot application.
type App struct {
	config  *Config
	store   *store.Store
	router  *bot.Router
	limiter *ratelimit.Limiter
	web     *webchat.Server
	matrix  *matrix.Client
}

// New validates config and builds every component. Channels are created but
// not started.
func New(config *Config) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	key, err := config.masterKey()
	if err != nil {
		return nil, err
	}

	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	manager, err := state.NewManager(state.NewSQLiteKV(st), key)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}

	var limiter *ratelimit.Limiter
	if config.ChatRateLimit > 0 {
		limiter = ratelimit.New(config.ChatRateLimit, ratelimit.DefaultWindow)
	}

	router, err := bot.New(bot.Config{
		Flow: login.NewFlow(openhab.NewProber(config.ProbeTimeout), login.Config{
			PublicServer: config.PublicServer,
			TTL:          config.LoginTTL,
		}),
		State:       manager,
		Clients:     bot.NewClientFactory(openhab.ClientConfig{Timeout: config.RequestTimeout}),
		Limiter:     limiter,
		TurnTimeout: config.TurnTimeout,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	a := &App{config: config, store: st, router: router, limiter: limiter}

	if config.HTTPAddr != "" {
		a.web = webchat.New(webchat.Config{
			Addr:           config.HTTPAddr,
			Token:          config.WebchatToken,
			AllowedOrigins: config.AllowedOrigins,
			Database:       st,
			State:          manager,
		}, router)
	}

	if config.MatrixEnabled() {
		a.matrix, err = matrix.New(matrix.Config{
			Homeserver:  config.Matrix.Homeserver,
			UserID:      config.Matrix.UserID,
			AccessToken: config.Matrix.AccessToken,
			Rooms:       config.Matrix.Rooms,
			AutoJoin:    config.Matrix.AutoJoin,
			DB:          st.DB(),
		}, router)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	return a, nil
}

// Handler returns the turn router, for channels driven outside Run such as
// the console.
func (a *App) Handler() channel.Handler {
	return a.router
}

// Run starts the configured channels and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.web == nil && a.matrix == nil {
		return ErrNoChannels
	}

	if a.web != nil {
		if err := a.web.Start(ctx); err != nil {
			return err
		}
	}
	if a.matrix != nil {
		slog.Info("starting Matrix sync", "user", a.config.Matrix.UserID)
		if err := a.matrix.Start(ctx); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
	}
	if a.limiter != nil {
		go a.sweepLimiter(ctx)
	}

	slog.Info("openhabot is running")
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// sweepLimiter drops idle rate-limit entries once per window.
func (a *App) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(ratelimit.DefaultWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.Sweep()
		}
	}
}

// Stop stops the channels and closes the database.
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.web != nil {
		slog.Info("stopping web chat server")
		a.web.Stop()
	}
	slog.Info("closing database")
	if err := a.store.Close(); err != nil {
		slog.Warn("close database", "err", err)
	}
}
