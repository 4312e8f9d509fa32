package services

import (
	"context"

	"github.com/desertthunder/spotbridge/internal/models"
	"golang.org/x/oauth2"
)

// Player is the capability surface of the remote playback account.
//
// Every method that talks to the remote side fails with a [shared.RemoteError] carrying the status code.
type Player interface {
	// CurrentPlayback returns what the account is playing.
	// Returns [shared.ErrNoActiveDevice] when nothing is active.
	CurrentPlayback(ctx context.Context) (*models.Playback, error)

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMS int) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error

	// TransferPlayback moves playback to deviceID and keeps it playing.
	TransferPlayback(ctx context.Context, deviceID string) error

	// PlayPlaylist starts playlistID from its first track on the active device.
	PlayPlaylist(ctx context.Context, playlistID string) error

	// Playlists lists the playlists visible to the authorized account in library order.
	// identity is the requesting client and only used for logging.
	Playlists(ctx context.Context, identity string) ([]models.Playlist, error)

	// Name returns the name of the service (e.g., "Spotify")
	Name() string
}

// ArtworkSource resolves displayable art for a track.
type ArtworkSource interface {
	// Artwork returns [shared.ErrArtworkNotFound] when the track has no art at all.
	Artwork(ctx context.Context, track models.Track) (models.Artwork, error)
}

// OAuthService extends [Player] with the authorization code flow.
type OAuthService interface {
	Player

	// GetAuthURL returns the URL the user visits to grant access.
	GetAuthURL(state string) string

	// GetOAuthConfig exposes the client configuration for the callback exchange.
	GetOAuthConfig() *oauth2.Config

	// Authenticate accepts either an "access_token" (plus optional "refresh_token") or an "auth_code".
	Authenticate(ctx context.Context, credentials map[string]string) error
}
