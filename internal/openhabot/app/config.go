package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/openhabot/common/crypto"
	"github.com/bdobrica/openhabot/common/environment"
	"github.com/bdobrica/openhabot/internal/openhabot/bot"
	"github.com/bdobrica/openhabot/internal/openhabot/login"
	"github.com/bdobrica/openhabot/internal/openhabot/openhab"
	"github.com/bdobrica/openhabot/internal/openhabot/ratelimit"
)

// Config holds application configuration. Values come from DefaultConfig,
// then an optional YAML file, then the environment.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	// MasterKey is 64 hex characters sealing stored passwords. Empty stores
	// them in plain text.
	MasterKey string `yaml:"master_key"`

	// HTTPAddr enables the web chat and health server (e.g. ":8080").
	HTTPAddr       string   `yaml:"http_addr"`
	WebchatToken   string   `yaml:"webchat_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	PublicServer   string        `yaml:"public_server"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
	LoginTTL       time.Duration `yaml:"login_ttl"`
	// ChatRateLimit is the number of chat messages per user per minute.
	// Zero or below disables limiting.
	ChatRateLimit int `yaml:"chat_rate_limit"`

	Matrix MatrixConfig `yaml:"matrix"`
	Log    LogConfig    `yaml:"log"`
}

// MatrixConfig enables the Matrix channel when Homeserver is set.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
	AutoJoin    bool     `yaml:"auto_join"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:  "./openhabot.db",
		PublicServer:  openhab.PublicServerURL,
		ProbeTimeout:  openhab.DefaultProbeTimeout,
		TurnTimeout:   bot.DefaultTurnTimeout,
		LoginTTL:      login.DefaultTTL,
		ChatRateLimit: ratelimit.DefaultLimit,
		Matrix:        MatrixConfig{AutoJoin: true},
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig builds a Config from the defaults, the YAML file at path (if
// path is not empty) and the environment, in that order of precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabasePath = environment.StringOr("OPENHABOT_DATABASE_PATH", c.DatabasePath)
	c.MasterKey = environment.StringOr("OPENHABOT_MASTER_KEY", c.MasterKey)
	c.HTTPAddr = environment.StringOr("OPENHABOT_HTTP_ADDR", c.HTTPAddr)
	c.WebchatToken = environment.StringOr("OPENHABOT_WEBCHAT_TOKEN", c.WebchatToken)
	c.AllowedOrigins = environment.StringSliceOr("OPENHABOT_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.PublicServer = environment.StringOr("OPENHABOT_PUBLIC_SERVER", c.PublicServer)
	c.ProbeTimeout = environment.DurationOr("OPENHABOT_PROBE_TIMEOUT", c.ProbeTimeout)
	c.RequestTimeout = environment.DurationOr("OPENHABOT_REQUEST_TIMEOUT", c.RequestTimeout)
	c.TurnTimeout = environment.DurationOr("OPENHABOT_TURN_TIMEOUT", c.TurnTimeout)
	c.LoginTTL = environment.DurationOr("OPENHABOT_LOGIN_TTL", c.LoginTTL)
	c.ChatRateLimit = environment.IntOr("OPENHABOT_CHAT_RATE_LIMIT", c.ChatRateLimit)

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	c.Matrix.Rooms = environment.StringSliceOr("MATRIX_ROOMS", c.Matrix.Rooms)
	c.Matrix.AutoJoin = environment.BoolOr("MATRIX_AUTO_JOIN", c.Matrix.AutoJoin)

	c.Log.Level = environment.StringOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = environment.StringOr("LOG_FORMAT", c.Log.Format)
}

// MatrixEnabled reports whether the Matrix channel is configured.
func (c *Config) MatrixEnabled() bool {
	return c.Matrix.Homeserver != ""
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("OPENHABOT_DATABASE_PATH is required"))
	}
	if c.MasterKey != "" {
		if _, err := crypto.ParseMasterKey(c.MasterKey); err != nil {
			errs = append(errs, fmt.Errorf("OPENHABOT_MASTER_KEY: %w", err))
		}
	}
	if _, err := openhab.ValidateURL(c.PublicServer); err != nil {
		errs = append(errs, fmt.Errorf("OPENHABOT_PUBLIC_SERVER: %w", err))
	}
	if c.ProbeTimeout < 0 || c.RequestTimeout < 0 || c.TurnTimeout < 0 || c.LoginTTL < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MatrixEnabled() {
		if c.Matrix.UserID == "" {
			errs = append(errs, errors.New("MATRIX_USER_ID is required when MATRIX_HOMESERVER is set"))
		}
		if c.Matrix.AccessToken == "" {
			errs = append(errs, errors.New("MATRIX_ACCESS_TOKEN is required when MATRIX_HOMESERVER is set"))
		}
	}
	return errors.Join(errs...)
}

// masterKey decodes MasterKey. A nil key means passwords are not sealed.
func (c *Config) masterKey() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, nil
	}
	return crypto.ParseMasterKey(c.MasterKey)
}
