package formatter

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
	th "github.com/desertthunder/spotbridge/internal/testing"
)

var playlists = []models.Playlist{
	{
		ID:         "pl1",
		URI:        "spotify:playlist:pl1",
		Name:       "Late Night",
		ImageURL:   "https://i.scdn.co/image/abc",
		TrackCount: 42,
		Public:     true,
	},
	{ID: "pl2", URI: "spotify:playlist:pl2", Name: "Draft | WIP", TrackCount: 3},
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"txt", FormatText, false},
		{"MD", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"csv", FormatCSV, false},
		{" json ", FormatJSON, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestPlaylists(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out := string(PlaylistsToText(playlists))
		for _, want := range []string{"Playlists: 2", "1. Late Night (42 tracks, public)", "2. Draft | WIP (3 tracks, private)"} {
			if !strings.Contains(out, want) {
				t.Errorf("text missing %q, got:\n%s", want, out)
			}
		}
	})

	t.Run("markdown", func(t *testing.T) {
		out := string(PlaylistsToMarkdown(playlists))
		if !strings.Contains(out, "![cover](https://i.scdn.co/image/abc)") {
			t.Errorf("markdown missing cover, got:\n%s", out)
		}
		if !strings.Contains(out, `Draft \| WIP`) {
			t.Errorf("markdown did not escape pipe, got:\n%s", out)
		}
	})

	t.Run("csv", func(t *testing.T) {
		data, err := PlaylistsToCSV(playlists)
		if err != nil {
			t.Fatalf("PlaylistsToCSV failed: %v", err)
		}
		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected header + 2 rows, got %d", len(records))
		}
		if got := strings.Join(records[0], ","); got != "ID,Name,Tracks,Public,URI,Image" {
			t.Errorf("unexpected header %s", got)
		}
		if records[1][2] != "42" || records[1][3] != "true" {
			t.Errorf("unexpected row %v", records[1])
		}
	})

	t.Run("json", func(t *testing.T) {
		data, err := Playlists(FormatJSON, playlists)
		if err != nil {
			t.Fatalf("Playlists failed: %v", err)
		}
		var decoded []models.Playlist
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != 2 || decoded[1].Name != "Draft | WIP" {
			t.Errorf("unexpected decoded playlists %+v", decoded)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := Playlists(Format("xml"), playlists); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestPlaybackLine(t *testing.T) {
	track := models.Track{ID: "t", Title: "Teardrop", Artists: []string{"Massive Attack"}, DurationMS: 330000}

	tests := []struct {
		name string
		st   models.PlaybackState
		want string
	}{
		{
			name: "playing",
			st: models.PlaybackState{
				Status: models.StatusPlaying, Track: track, PositionMS: 62000, IsPlaying: true, DeviceName: "Desk",
			},
			want: "▶ Massive Attack - Teardrop [1:02 / 5:30] on Desk",
		},
		{
			name: "paused",
			st:   models.PlaybackState{Status: models.StatusPaused, Track: track},
			want: "❚❚ Massive Attack - Teardrop [0:00 / 5:30]",
		},
		{name: "idle", st: models.PlaybackState{Status: models.StatusIdle}, want: "■ no active device"},
		{name: "disconnected", st: models.PlaybackState{Status: models.StatusDisconnected}, want: "✕ disconnected from Spotify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlaybackLine(tt.st); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("csv unsupported", func(t *testing.T) {
		if _, err := Playback(FormatCSV, models.PlaybackState{}); err == nil {
			t.Error("expected error for CSV playback")
		}
	})
}

func TestEvents(t *testing.T) {
	at := time.Date(2025, 3, 1, 20, 30, 0, 0, time.UTC)
	events := []models.ControlEvent{
		{ID: "e1", Sequence: 1, Identity: "alice", Action: "grant", Mode: models.ModeExclusive, CreatedAt: at},
		{ID: "e2", Sequence: 2, Identity: "bob", Action: "command", Mode: models.ModeShared, Detail: "pause", CreatedAt: at},
	}

	t.Run("text", func(t *testing.T) {
		out := string(EventsToText(events))
		if strings.Count(out, "\n") != 2 || !strings.Contains(out, "(pause)") {
			t.Errorf("unexpected text:\n%s", out)
		}
	})

	t.Run("csv", func(t *testing.T) {
		data, err := Events(FormatCSV, events)
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		out := string(data)
		if !strings.Contains(out, "e2,2,bob,command,shared,pause,2025-03-01T20:30:00Z") {
			t.Errorf("unexpected CSV:\n%s", out)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		out := string(EventsToMarkdown(events))
		if !strings.Contains(out, "| 1 | 2025-03-01T20:30:00Z | alice | grant | exclusive |  |") {
			t.Errorf("unexpected markdown:\n%s", out)
		}
	})
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlists.csv")
	data, err := PlaylistsToCSV(playlists)
	if err != nil {
		t.Fatalf("PlaylistsToCSV failed: %v", err)
	}
	if err := WriteFile(path, data); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	th.AssertFileExists(t, path)
	if got := th.MustReadFile(t, path); got != string(data) {
		t.Errorf("file content mismatch:\n%s", got)
	}

	if err := WriteFile(filepath.Join(t.TempDir(), "missing", "x.csv"), data); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}
