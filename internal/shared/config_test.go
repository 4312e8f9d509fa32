package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Server.Port != 8765 {
			t.Errorf("expected server port 8765, got %d", config.Server.Port)
		}
		if config.Server.Path != "/ws" {
			t.Errorf("expected websocket path /ws, got %s", config.Server.Path)
		}
		if config.Sync.PollInterval != time.Second {
			t.Errorf("expected poll interval 1s, got %v", config.Sync.PollInterval)
		}
		if config.Sync.DriftTolerance != 2500*time.Millisecond {
			t.Errorf("expected drift tolerance 2.5s, got %v", config.Sync.DriftTolerance)
		}
		if config.Access.Mode != "exclusive" {
			t.Errorf("expected access mode exclusive, got %s", config.Access.Mode)
		}
		if config.Canvas.CacheSize != 256 {
			t.Errorf("expected canvas cache size 256, got %d", config.Canvas.CacheSize)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}
		if config.Server.Addr() != DefaultConfig().Server.Addr() {
			t.Errorf("created config address doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		testConfig := `[server]
host = "0.0.0.0"
port = 9000

[sync]
poll_interval = "2s"
drift_tolerance = "3s"

[access]
mode = "shared"

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Server.Addr() != "0.0.0.0:9000" {
			t.Errorf("expected addr 0.0.0.0:9000, got %s", config.Server.Addr())
		}
		if config.Sync.PollInterval != 2*time.Second {
			t.Errorf("expected poll interval 2s, got %v", config.Sync.PollInterval)
		}
		if config.Access.Mode != "shared" {
			t.Errorf("expected mode shared, got %s", config.Access.Mode)
		}
		if config.Canvas.CacheSize != 256 {
			t.Errorf("missing values should keep defaults, got cache size %d", config.Canvas.CacheSize)
		}
		if config.Credentials.Spotify.ClientID != "test_client_id" {
			t.Errorf("expected client_id test_client_id, got %s", config.Credentials.Spotify.ClientID)
		}
	})

	t.Run("LoadConfig rejects unknown mode", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[access]\nmode = \"anarchy\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("SaveConfig round trip", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		config := DefaultConfig()
		expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

		if err := config.Credentials.Spotify.Update(&oauth2.Token{
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			Expiry:       expiry,
		}); err != nil {
			t.Fatalf("failed to update token: %v", err)
		}

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}

		token := loaded.Credentials.Spotify.Token()
		if token == nil {
			t.Fatal("expected token to be persisted")
		}
		if token.AccessToken != "access" || token.RefreshToken != "refresh" {
			t.Errorf("unexpected token %+v", token)
		}
		if !token.Expiry.Equal(expiry) {
			t.Errorf("expected expiry %v, got %v", expiry, token.Expiry)
		}
		if loaded.Sync.PollInterval != config.Sync.PollInterval {
			t.Errorf("poll interval changed across save: %v", loaded.Sync.PollInterval)
		}
	})

	t.Run("Token keeps refresh token", func(t *testing.T) {
		sc := SpotifyConfig{RefreshToken: "keep"}
		if err := sc.Update(&oauth2.Token{AccessToken: "new"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sc.RefreshToken != "keep" {
			t.Errorf("refresh token should be kept, got %q", sc.RefreshToken)
		}
		if err := sc.Update(nil); err == nil {
			t.Error("expected error for nil token")
		}
		if (SpotifyConfig{}).Token() != nil {
			t.Error("expected nil token for empty config")
		}
	})
}
