// Spotify implementation of [Player] on top of github.com/zmb3/spotify/v2
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"

	defaultRedirectURI = "http://127.0.0.1:8765/callback"
	playlistPageSize   = 50
)

// SpotifyOption configures a [SpotifyService].
type SpotifyOption func(*SpotifyService)

// WithCommandLimit bounds control commands to r per second with the given burst.
func WithCommandLimit(r float64, burst int) SpotifyOption {
	return func(s *SpotifyService) {
		if r > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

// WithBaseURL points the API client at another host. The URL must end with a slash.
func WithBaseURL(u string) SpotifyOption {
	return func(s *SpotifyService) { s.baseURL = u }
}

// WithSpotifyLogger sets the logger used for request diagnostics.
func WithSpotifyLogger(l *log.Logger) SpotifyOption {
	return func(s *SpotifyService) { s.logger = l }
}

// SpotifyService implements [OAuthService] for the Spotify Web API.
// Uses [oauth2] for authentication and [spotify.Client] for player and playlist endpoints.
type SpotifyService struct {
	config  *oauth2.Config
	baseURL string
	limiter *rate.Limiter
	logger  *log.Logger

	mu             sync.RWMutex
	token          *oauth2.Token
	client         *spotify.Client
	onTokenRefresh func(*oauth2.Token)
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts ...SpotifyOption) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = defaultRedirectURI
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-playback-state",
			"user-modify-playback-state",
			"user-read-currently-playing",
			"playlist-read-private",
			"playlist-read-collaborative",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	s := &SpotifyService{
		config: config,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// GetOAuthConfig returns the OAuth2 configuration used for the authorization code flow.
func (s *SpotifyService) GetOAuthConfig() *oauth2.Config {
	return s.config
}

// Authenticate performs OAuth2 authentication with Spotify. Expects either an "access_token" or "auth_code" in credentials.
//
// An access token may be accompanied by "refresh_token", "token_type" and an RFC 3339 "expiry".
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if accessToken, ok := credentials["access_token"]; ok && accessToken != "" {
		token := &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: credentials["refresh_token"],
			TokenType:    credentials["token_type"],
		}
		if exp := credentials["expiry"]; exp != "" {
			t, err := time.Parse(time.RFC3339, exp)
			if err != nil {
				return fmt.Errorf("%w: expiry: %v", shared.ErrInvalidInput, err)
			}
			token.Expiry = t
		}
		s.useToken(ctx, token)
		return nil
	}

	if authCode, ok := credentials["auth_code"]; ok && authCode != "" {
		token, err := s.config.Exchange(ctx, authCode)
		if err != nil {
			return fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
		}
		s.useToken(ctx, token)
		s.notifyRefresh(token)
		return nil
	}

	return fmt.Errorf("%w: missing access_token or auth_code", shared.ErrMissingCredentials)
}

// SetToken authenticates with a previously persisted token.
func (s *SpotifyService) SetToken(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return shared.ErrNotAuthenticated
	}
	s.useToken(ctx, token)
	return nil
}

// Token returns the token the service was last authenticated with.
func (s *SpotifyService) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetTokenRefreshCallback registers fn to be called whenever the OAuth2 client obtains a new access token.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokenRefresh = fn
}

func (s *SpotifyService) notifyRefresh(token *oauth2.Token) {
	s.mu.Lock()
	s.token = token
	fn := s.onTokenRefresh
	s.mu.Unlock()
	if fn != nil {
		fn(token)
	}
}

func (s *SpotifyService) useToken(ctx context.Context, token *oauth2.Token) {
	source := &refreshableTokenSource{
		source:   s.config.TokenSource(context.WithoutCancel(ctx), token),
		callback: s.notifyRefresh,
		last:     token.AccessToken,
	}
	httpClient := oauth2.NewClient(context.WithoutCancel(ctx), source)

	var opts []spotify.ClientOption
	if s.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(s.baseURL))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.client = spotify.New(httpClient, opts...)
}

func (s *SpotifyService) api() (*spotify.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}
	return s.client, nil
}

// CurrentPlayback reads the player state and maps it to [models.Playback].
func (s *SpotifyService) CurrentPlayback(ctx context.Context) (*models.Playback, error) {
	client, err := s.api()
	if err != nil {
		return nil, err
	}

	state, err := client.PlayerState(ctx)
	if err != nil {
		return nil, remoteError("player state", err)
	}

	// The endpoint answers 204 with no body when nothing is active.
	if state == nil || state.Item == nil || state.Device.ID == "" {
		return nil, shared.ErrNoActiveDevice
	}

	return &models.Playback{
		Track:      convertTrack(state.Item),
		PositionMS: int(state.Progress),
		IsPlaying:  state.Playing,
		DeviceID:   string(state.Device.ID),
		DeviceName: state.Device.Name,
	}, nil
}

func (s *SpotifyService) Play(ctx context.Context) error {
	return s.command(ctx, "play", func(c *spotify.Client) error { return c.Play(ctx) })
}

func (s *SpotifyService) Pause(ctx context.Context) error {
	return s.command(ctx, "pause", func(c *spotify.Client) error { return c.Pause(ctx) })
}

func (s *SpotifyService) Seek(ctx context.Context, positionMS int) error {
	if positionMS < 0 {
		return fmt.Errorf("%w: negative seek position %d", shared.ErrInvalidArgument, positionMS)
	}
	return s.command(ctx, "seek", func(c *spotify.Client) error { return c.Seek(ctx, positionMS) })
}

func (s *SpotifyService) Next(ctx context.Context) error {
	return s.command(ctx, "next", func(c *spotify.Client) error { return c.Next(ctx) })
}

func (s *SpotifyService) Previous(ctx context.Context) error {
	return s.command(ctx, "previous", func(c *spotify.Client) error { return c.Previous(ctx) })
}

func (s *SpotifyService) TransferPlayback(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id", shared.ErrMissingArgument)
	}
	return s.command(ctx, "transfer", func(c *spotify.Client) error {
		return c.TransferPlayback(ctx, spotify.ID(deviceID), true)
	})
}

func (s *SpotifyService) PlayPlaylist(ctx context.Context, playlistID string) error {
	if playlistID == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	uri := spotify.URI("spotify:playlist:" + playlistID)
	return s.command(ctx, "play playlist", func(c *spotify.Client) error {
		return c.PlayOpt(ctx, &spotify.PlayOptions{PlaybackContext: &uri})
	})
}

// command runs a player write through the rate limiter. An exhausted limiter fails immediately.
func (s *SpotifyService) command(ctx context.Context, op string, fn func(*spotify.Client) error) error {
	client, err := s.api()
	if err != nil {
		return err
	}

	if s.limiter != nil && !s.limiter.Allow() {
		return shared.NewRemoteError(http.StatusTooManyRequests, fmt.Errorf("%s: %w", op, shared.ErrRateLimited))
	}

	if err := fn(client); err != nil {
		return remoteError(op, err)
	}
	return nil
}

// Playlists pages through the current user's playlists.
func (s *SpotifyService) Playlists(ctx context.Context, identity string) ([]models.Playlist, error) {
	client, err := s.api()
	if err != nil {
		return nil, err
	}

	page, err := client.CurrentUsersPlaylists(ctx, spotify.Limit(playlistPageSize))
	if err != nil {
		return nil, remoteError("playlists", err)
	}

	playlists := make([]models.Playlist, 0, int(page.Total))
	for {
		for _, p := range page.Playlists {
			playlists = append(playlists, convertPlaylist(p))
		}

		err := client.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, remoteError("playlists", err)
		}
	}

	s.logger.Debug("listed playlists", "identity", identity, "count", len(playlists))
	return playlists, nil
}

func convertTrack(t *spotify.FullTrack) models.Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	track := models.Track{
		ID:         string(t.ID),
		URI:        string(t.URI),
		Title:      t.Name,
		Artists:    artists,
		Album:      t.Album.Name,
		DurationMS: int(t.Duration),
	}
	if len(t.Album.Images) > 0 {
		track.CoverURL = t.Album.Images[0].URL
	}
	return track
}

func convertPlaylist(p spotify.SimplePlaylist) models.Playlist {
	playlist := models.Playlist{
		ID:          string(p.ID),
		URI:         string(p.URI),
		Name:        p.Name,
		Description: p.Description,
		TrackCount:  int(p.Tracks.Total),
		Public:      p.IsPublic,
	}
	if len(p.Images) > 0 {
		playlist.ImageURL = p.Images[0].URL
	}
	return playlist
}

// remoteError maps a client failure to [shared.RemoteError].
func remoteError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var status int
	var message string

	var serr spotify.Error
	var pserr *spotify.Error
	switch {
	case errors.As(err, &serr):
		status, message = serr.Status, serr.Message
	case errors.As(err, &pserr):
		status, message = pserr.Status, pserr.Message
	default:
		return &shared.RemoteError{Retryable: true, Err: fmt.Errorf("%s: %w: %v", op, shared.ErrRemoteUnavailable, err)}
	}

	switch status {
	case http.StatusUnauthorized:
		return shared.NewRemoteError(status, fmt.Errorf("%s: %w: %s", op, shared.ErrTokenExpired, message))
	case http.StatusTooManyRequests:
		return shared.NewRemoteError(status, fmt.Errorf("%s: %w: %s", op, shared.ErrRateLimited, message))
	case http.StatusNotFound:
		return shared.NewRemoteError(status, fmt.Errorf("%s: %w: %s", op, shared.ErrNoActiveDevice, message))
	default:
		return shared.NewRemoteError(status, fmt.Errorf("%s: %s", op, message))
	}
}

// refreshableTokenSource wraps an [oauth2.TokenSource] and reports each new access token to callback.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := token.AccessToken != r.last
	r.last = token.AccessToken
	r.mu.Unlock()

	if changed && r.callback != nil {
		r.callback(token)
	}
	return token, nil
}
