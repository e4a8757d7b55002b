// Openhabot is a conversational front end for openHAB's HABot chat
// endpoint.
//
// Usage:
//
//	openhabot serve [--config file]
//	openhabot chat [--config file]
//	openhabot version
//
// Settings are read from an optional YAML file and then from the
// environment; a .env file in the working directory is loaded first.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bdobrica/openhabot/common/version"
	"github.com/bdobrica/openhabot/internal/openhabot/app"
	"github.com/bdobrica/openhabot/internal/openhabot/channel"
	"github.com/bdobrica/openhabot/internal/openhabot/observability"
)

var configPath string

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "openhabot",
	Short:         "Chat with your openHAB server",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.AddCommand(serveCmd, chatCmd, versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web chat and Matrix channels",
	Example: `  # Web chat on port 8080
  OPENHABOT_HTTP_ADDR=:8080 openhabot serve

  # Matrix bot with settings from a file
  openhabot serve --config /etc/openhabot.yaml`,
	RunE: runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot from the terminal",
	RunE:  runChat,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)
	slog.Info("starting", "version", version.Info())

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	// Replies go to stdout; keep log lines on stderr and quiet by default.
	level := cfg.Log.Level
	if os.Getenv("LOG_LEVEL") == "" && configPath == "" {
		level = "warn"
	}
	lvl, err := observability.ParseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(observability.NewHandler(os.Stderr, lvl, cfg.Log.Format)))

	// The console never serves the network channels.
	cfg.HTTPAddr = ""
	cfg.Matrix = app.MatrixConfig{}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	user := os.Getenv("USER")
	if user == "" {
		user = "local"
	}
	console := &channel.Console{
		In:  cmd.InOrStdin(),
		Out: cmd.OutOrStdout(),
		Metadata: channel.Metadata{
			Channel:        "console",
			ConversationID: "console/" + user,
			UserID:         user,
		},
	}
	if err := console.Run(ctx, a.Handler()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
