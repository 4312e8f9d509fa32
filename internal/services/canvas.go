// Canvas API client: resolves the looping video shown behind a track, with album-cover fallback.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
)

const DefaultCanvasAPIURL = "https://spotify-canvas-api-weld.vercel.app/spotify"

// maxCanvasBody bounds how much of a canvas API response is read.
const maxCanvasBody = 1 << 20

// CanvasClient implements [ArtworkSource] against a canvas lookup API.
type CanvasClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewCanvasClient creates a canvas client. An empty baseURL uses [DefaultCanvasAPIURL].
func NewCanvasClient(baseURL string, client *http.Client) *CanvasClient {
	if baseURL == "" {
		baseURL = DefaultCanvasAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &CanvasClient{
		baseURL:    baseURL,
		httpClient: client,
		now:        time.Now,
	}
}

// canvasResponse covers the shapes the lookup API answers with.
type canvasResponse struct {
	CanvasURL    string `json:"canvasUrl"`
	URL          string `json:"url"`
	CanvasesList []struct {
		CanvasURL string `json:"canvasUrl"`
	} `json:"canvasesList"`
	Data struct {
		CanvasesList []struct {
			CanvasURL string `json:"canvasUrl"`
		} `json:"canvasesList"`
	} `json:"data"`
}

func (r canvasResponse) first() string {
	switch {
	case r.CanvasURL != "":
		return r.CanvasURL
	case r.URL != "":
		return r.URL
	case len(r.CanvasesList) > 0:
		return r.CanvasesList[0].CanvasURL
	case len(r.Data.CanvasesList) > 0:
		return r.Data.CanvasesList[0].CanvasURL
	}
	return ""
}

// Artwork resolves the canvas for track, falling back to its album cover.
//
// Transport failures and 5xx answers return [shared.ErrArtworkUnavailable] so callers can retry later;
// a track with neither canvas nor cover returns [shared.ErrArtworkNotFound].
func (c *CanvasClient) Artwork(ctx context.Context, track models.Track) (models.Artwork, error) {
	if track.ID == "" {
		return models.NoArtwork, fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}

	canvasURL, err := c.lookup(ctx, track)
	if err != nil {
		return models.NoArtwork, err
	}

	if canvasURL != "" {
		return models.Artwork{TrackID: track.ID, Kind: models.ArtworkCanvas, URL: canvasURL, FetchedAt: c.now()}, nil
	}
	if track.CoverURL != "" {
		return models.Artwork{TrackID: track.ID, Kind: models.ArtworkCover, URL: track.CoverURL, FetchedAt: c.now()}, nil
	}
	return models.NoArtwork, fmt.Errorf("%w: %s", shared.ErrArtworkNotFound, track.ID)
}

// lookup returns the canvas URL for track, or "" when the API has none.
func (c *CanvasClient) lookup(ctx context.Context, track models.Track) (string, error) {
	id := track.URI
	if id == "" {
		id = "spotify:track:" + track.ID
	}

	fullURL := c.baseURL + "?id=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", shared.ErrArtworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status %d", shared.ErrArtworkUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCanvasBody))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", shared.ErrArtworkUnavailable, err)
	}

	var parsed canvasResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		return parsed.first(), nil
	}

	// Some deployments answer with the bare URL.
	if text := strings.TrimSpace(string(body)); strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		return text, nil
	}
	return "", nil
}
