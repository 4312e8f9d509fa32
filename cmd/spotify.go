package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/spotbridge/internal/formatter"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/server"
	"github.com/desertthunder/spotbridge/internal/services"
	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const authTimeout = 2 * time.Minute

// SpotifyAuth performs OAuth2 authentication flow for Spotify.
//
// Starts a local HTTP server, opens browser for user authorization, and exchanges auth code for tokens.
func (r *Runner) SpotifyAuth(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in %s", shared.ErrMissingCredentials, r.configPath)
	}

	svc, err := r.newSpotifyService()
	if err != nil {
		return err
	}

	r.writePlainHeader("Spotify authorization")
	token, err := r.doOAuth(ctx, svc, "authorization")
	if err != nil {
		return err
	}
	if err := r.saveTokens(token); err != nil {
		return err
	}
	if err := svc.SetToken(ctx, token); err != nil {
		return err
	}
	r.spotify = svc

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Tokens saved to %s\n\n", r.configPath)
	r.writePlain("You can now use: spotbridge serve\n")
	return nil
}

// SpotifyPlaylists lists the account's playlists in the requested format.
func (r *Runner) SpotifyPlaylists(ctx context.Context, cmd *cli.Command) error {
	limit := cmd.Int("limit")
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	if r.spotify == nil {
		return fmt.Errorf("%w: Spotify service not initialized", shared.ErrServiceUnavailable)
	}

	r.logger.Debug("listing spotify playlists", "limit", limit)

	var playlists []models.Playlist
	err = r.withReauth(ctx, func() error {
		var err error
		playlists, err = r.spotify.Playlists(ctx, "cli")
		return err
	})
	if err != nil {
		return err
	}

	if limit > 0 && limit < len(playlists) {
		playlists = playlists[:limit]
	}

	data, err := formatter.Playlists(format, playlists)
	if err != nil {
		return err
	}
	return r.writeOutput(cmd.String("output"), data)
}

// SpotifyNow prints a single observation of the remote player.
func (r *Runner) SpotifyNow(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	if r.spotify == nil {
		return fmt.Errorf("%w: Spotify service not initialized", shared.ErrServiceUnavailable)
	}

	var pb *models.Playback
	err = r.withReauth(ctx, func() error {
		var err error
		pb, err = r.spotify.CurrentPlayback(ctx)
		return err
	})
	if err != nil && !errors.Is(err, shared.ErrNoActiveDevice) {
		return err
	}

	data, err := formatter.Playback(format, observed(pb, time.Now()))
	if err != nil {
		return err
	}
	return r.writeOutput("", data)
}

// observed converts a single poll into the state clients render. A nil playback means no active device.
func observed(pb *models.Playback, now time.Time) models.PlaybackState {
	st := models.PlaybackState{Status: models.StatusIdle, AnchoredAt: now}
	if pb == nil {
		return st
	}
	st.Track = pb.Track
	st.PositionMS = pb.PositionMS
	st.IsPlaying = pb.IsPlaying
	st.DeviceID = pb.DeviceID
	st.DeviceName = pb.DeviceName
	st.Status = models.StatusPaused
	if pb.IsPlaying {
		st.Status = models.StatusPlaying
	}
	return st
}

// withReauth runs fn and, when it fails with an expired token, reauthorizes once and retries.
func (r *Runner) withReauth(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, shared.ErrTokenExpired) {
		return err
	}

	svc, ok := r.spotify.(*services.SpotifyService)
	if !ok {
		return err
	}

	r.writePlainln("⚠ Authentication token expired. Starting reauthorization...")
	token, authErr := r.doOAuth(ctx, svc, "reauthorization")
	if authErr != nil {
		return fmt.Errorf("reauthorization failed: %w", authErr)
	}
	if err := r.saveTokens(token); err != nil {
		return err
	}
	if err := svc.SetToken(ctx, token); err != nil {
		return fmt.Errorf("failed to authenticate with new tokens: %w", err)
	}

	r.writePlainln("✓ Successfully reauthenticated. Retrying operation...")
	return fn()
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, oauthSrv services.OAuthService, prefix string) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := oauthSrv.GetAuthURL(state)
	oauthHandler := server.NewOAuthHandler(oauthSrv.GetOAuthConfig(), state)
	router := server.NewBasicRouter()
	router.Use(server.RecoverMiddleware(r.logger))
	router.Handler(oauthHandler)

	serverAddr := r.config.Server.Addr()
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server for %s at %v", prefix, serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	r.writePlain("→ Opening browser for Spotify %s...\n", prefix)
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, result.Err)
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}
	return result.Token, nil
}
