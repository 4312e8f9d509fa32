// Package services defines the [Player] interface for the remote playback account and implements it for Spotify.
//
// # Player Interface
//
// The sync engine never talks to Spotify directly. It consumes [Player], which covers reading the current playback,
// issuing transport commands, listing playlists and resolving artwork.
//
// # Spotify Implementation
//
// [SpotifyService] wraps github.com/zmb3/spotify/v2 over an OAuth2 client with automatic token refresh.
// Refreshed tokens are reported through [SpotifyService.SetTokenRefreshCallback] so the CLI can persist them.
//
// Control commands pass through a token bucket ([golang.org/x/time/rate]). When the bucket is empty the command fails
// immediately with a retryable 429 [shared.RemoteError] instead of queueing.
//
// # Canvas Lookup
//
// [CanvasClient] queries the canvas API with a track URI. When the API has no canvas for the track the album cover is
// used instead.
//
// # Error Handling
//
// Services use typed errors from the shared package:
//   - [shared.ErrNoActiveDevice] : no device is playing; not a failure
//   - [shared.RemoteError] : HTTP failure with status code and retry hint
//   - [shared.ErrTokenExpired] : wrapped by a 401 RemoteError, reauthorization needed
//   - [shared.ErrArtworkNotFound] : neither a canvas nor a cover exists
//   - [shared.ErrArtworkUnavailable] : the canvas API could not be reached
package services
