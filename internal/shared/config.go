package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Server      ServerConfig      `toml:"server"`
	Sync        SyncConfig        `toml:"sync"`
	Access      AccessConfig      `toml:"access"`
	Canvas      CanvasConfig      `toml:"canvas"`
	Sessions    SessionsConfig    `toml:"sessions"`
	Database    DatabaseConfig    `toml:"database"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials and the persisted OAuth token.
type SpotifyConfig struct {
	ClientID     string    `toml:"client_id"`
	ClientSecret string    `toml:"client_secret"`
	RedirectURI  string    `toml:"redirect_uri"`
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	TokenType    string    `toml:"token_type"`
	Expiry       time.Time `toml:"expiry"`
}

// ServerConfig contains websocket/HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	Path string `toml:"path"`
}

// SyncConfig tunes the poll/reconcile loop.
type SyncConfig struct {
	PollInterval    time.Duration `toml:"poll_interval"`
	DriftTolerance  time.Duration `toml:"drift_tolerance"`
	IdlePollLimit   int           `toml:"idle_poll_limit"`
	DisconnectAfter int           `toml:"disconnect_after"`
	MaxBackoff      time.Duration `toml:"max_backoff"`
	CommandRate     float64       `toml:"command_rate"`
	CommandBurst    int           `toml:"command_burst"`
}

// AccessConfig selects the control arbitration mode: public, shared or exclusive.
type AccessConfig struct {
	Mode string `toml:"mode"`
}

// CanvasConfig contains canvas/artwork lookup settings.
type CanvasConfig struct {
	APIURL    string        `toml:"api_url"`
	CacheSize int           `toml:"cache_size"`
	TTL       time.Duration `toml:"ttl"`
}

// SessionsConfig bounds per-client delivery.
type SessionsConfig struct {
	SendBuffer      int           `toml:"send_buffer"`
	MaxSendFailures int           `toml:"max_send_failures"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
}

// DatabaseConfig contains the audit log database settings. An empty path disables it.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the configuration back to path as TOML.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values the sync core depends on.
func (c *Config) Validate() error {
	switch c.Access.Mode {
	case "public", "shared", "exclusive":
	default:
		return fmt.Errorf("%w: access.mode must be public, shared or exclusive, got %q", ErrInvalidConfig, c.Access.Mode)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("%w: sync.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Sync.DriftTolerance < 0 {
		return fmt.Errorf("%w: sync.drift_tolerance must not be negative", ErrInvalidConfig)
	}
	if c.Canvas.CacheSize <= 0 {
		return fmt.Errorf("%w: canvas.cache_size must be positive", ErrInvalidConfig)
	}
	if c.Sessions.SendBuffer <= 0 {
		return fmt.Errorf("%w: sessions.send_buffer must be positive", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Map returns the credentials in the form expected by services.NewSpotifyService.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
	}
}

// Token returns the persisted OAuth token, or nil when none has been saved.
func (s SpotifyConfig) Token() *oauth2.Token {
	if s.AccessToken == "" && s.RefreshToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.Expiry,
	}
}

// Update stores token fields for persistence. A refresh token is only replaced when the new token carries one.
func (s *SpotifyConfig) Update(token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("%w: nil token", ErrInvalidArgument)
	}
	s.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.RefreshToken = token.RefreshToken
	}
	s.TokenType = token.TokenType
	s.Expiry = token.Expiry
	return nil
}
