package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
)

func TestCanvasClient(t *testing.T) {
	track := models.Track{ID: "A", URI: "spotify:track:A", CoverURL: "https://cover/a"}

	newClient := func(t *testing.T, status int, body string) (*CanvasClient, *string) {
		t.Helper()
		var gotID string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID = r.URL.Query().Get("id")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
		}))
		t.Cleanup(srv.Close)
		return NewCanvasClient(srv.URL+"/spotify", srv.Client()), &gotID
	}

	t.Run("canvas from json", func(t *testing.T) {
		c, gotID := newClient(t, http.StatusOK, `{"canvasesList": [{"canvasUrl": "https://canvas/a.mp4"}]}`)

		art, err := c.Artwork(context.Background(), track)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if art.Kind != models.ArtworkCanvas || art.URL != "https://canvas/a.mp4" || art.TrackID != "A" {
			t.Errorf("unexpected artwork %+v", art)
		}
		if *gotID != "spotify:track:A" {
			t.Errorf("expected lookup by track uri, got %q", *gotID)
		}
	})

	t.Run("canvas from nested data", func(t *testing.T) {
		c, _ := newClient(t, http.StatusOK, `{"data": {"canvasesList": [{"canvasUrl": "https://canvas/b.mp4"}]}}`)

		art, err := c.Artwork(context.Background(), track)
		if err != nil || art.URL != "https://canvas/b.mp4" {
			t.Errorf("unexpected result %+v, %v", art, err)
		}
	})

	t.Run("canvas from plain text", func(t *testing.T) {
		c, _ := newClient(t, http.StatusOK, "https://canvas/c.mp4\n")

		art, err := c.Artwork(context.Background(), track)
		if err != nil || art.URL != "https://canvas/c.mp4" {
			t.Errorf("unexpected result %+v, %v", art, err)
		}
	})

	t.Run("falls back to cover", func(t *testing.T) {
		c, _ := newClient(t, http.StatusNotFound, `{"error": "no canvas"}`)

		art, err := c.Artwork(context.Background(), track)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if art.Kind != models.ArtworkCover || art.URL != "https://cover/a" {
			t.Errorf("expected cover fallback, got %+v", art)
		}
	})

	t.Run("uri derived from id", func(t *testing.T) {
		c, gotID := newClient(t, http.StatusOK, `{}`)

		_, _ = c.Artwork(context.Background(), models.Track{ID: "B", CoverURL: "https://cover/b"})
		if *gotID != "spotify:track:B" {
			t.Errorf("expected derived uri, got %q", *gotID)
		}
	})

	t.Run("not found without cover", func(t *testing.T) {
		c, _ := newClient(t, http.StatusOK, `{"canvasesList": []}`)

		art, err := c.Artwork(context.Background(), models.Track{ID: "C"})
		if !errors.Is(err, shared.ErrArtworkNotFound) {
			t.Errorf("expected ErrArtworkNotFound, got %v", err)
		}
		if art.Found() {
			t.Errorf("expected sentinel, got %+v", art)
		}
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		c, _ := newClient(t, http.StatusBadGateway, "")

		if _, err := c.Artwork(context.Background(), track); !errors.Is(err, shared.ErrArtworkUnavailable) {
			t.Errorf("expected ErrArtworkUnavailable, got %v", err)
		}
	})

	t.Run("missing track id", func(t *testing.T) {
		c := NewCanvasClient("", nil)
		if _, err := c.Artwork(context.Background(), models.Track{}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}
