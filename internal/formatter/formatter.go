// package formatter renders playlists, playback state and control events as text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
)

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatText, FormatMarkdown, FormatCSV, FormatJSON}

// ParseFormat accepts a format name or its short alias (txt, md).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// Playlists renders playlists in format f.
func Playlists(f Format, playlists []models.Playlist) ([]byte, error) {
	switch f {
	case FormatText:
		return PlaylistsToText(playlists), nil
	case FormatMarkdown:
		return PlaylistsToMarkdown(playlists), nil
	case FormatCSV:
		return PlaylistsToCSV(playlists)
	case FormatJSON:
		return toJSON(playlists)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, f)
	}
}

// PlaylistsToText lists one playlist per line with its track count.
func PlaylistsToText(playlists []models.Playlist) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlists: %d\n\n", len(playlists))
	for i, p := range playlists {
		fmt.Fprintf(&buf, "%d. %s (%d tracks, %s)\n", i+1, p.Name, p.TrackCount, visibility(p.Public))
	}
	return buf.Bytes()
}

// PlaylistsToMarkdown renders a table with a cover thumbnail column.
func PlaylistsToMarkdown(playlists []models.Playlist) []byte {
	var buf bytes.Buffer

	buf.WriteString("# Playlists\n\n")
	buf.WriteString("| # | Cover | Name | Tracks | Visibility |\n")
	buf.WriteString("|---|-------|------|--------|------------|\n")
	for i, p := range playlists {
		cover := ""
		if p.ImageURL != "" {
			cover = fmt.Sprintf("![cover](%s)", p.ImageURL)
		}
		fmt.Fprintf(&buf, "| %d | %s | %s | %d | %s |\n", i+1, cover, escapeCell(p.Name), p.TrackCount, visibility(p.Public))
	}
	return buf.Bytes()
}

// PlaylistsToCSV converts playlists to CSV with columns: ID, Name, Tracks, Public, URI, Image
func PlaylistsToCSV(playlists []models.Playlist) ([]byte, error) {
	rows := make([][]string, 0, len(playlists))
	for _, p := range playlists {
		rows = append(rows, []string{
			p.ID,
			p.Name,
			strconv.Itoa(p.TrackCount),
			strconv.FormatBool(p.Public),
			p.URI,
			p.ImageURL,
		})
	}
	return writeCSV([]string{"ID", "Name", "Tracks", "Public", "URI", "Image"}, rows)
}

// Playback renders the current playback state in format f. CSV is not supported for a single state.
func Playback(f Format, st models.PlaybackState) ([]byte, error) {
	switch f {
	case FormatText, FormatMarkdown:
		return []byte(PlaybackLine(st) + "\n"), nil
	case FormatJSON:
		return toJSON(st)
	default:
		return nil, fmt.Errorf("%w: %s output for playback", shared.ErrInvalidArgument, f)
	}
}

// PlaybackLine summarizes st on one line, e.g. "▶ Artist - Title [1:02 / 3:45] on Desk".
func PlaybackLine(st models.PlaybackState) string {
	switch st.Status {
	case models.StatusIdle:
		return "■ no active device"
	case models.StatusDisconnected:
		return "✕ disconnected from Spotify"
	}

	icon := "❚❚"
	if st.IsPlaying {
		icon = "▶"
	}
	line := fmt.Sprintf("%s %s - %s [%s / %s]", icon,
		shared.JoinArtists(st.Track.Artists), st.Track.Title,
		shared.FormatDuration(st.PositionMS), shared.FormatDuration(st.Track.DurationMS))
	if st.DeviceName != "" {
		line += " on " + st.DeviceName
	}
	return line
}

// Events renders control events in format f.
func Events(f Format, events []models.ControlEvent) ([]byte, error) {
	switch f {
	case FormatText:
		return EventsToText(events), nil
	case FormatMarkdown:
		return EventsToMarkdown(events), nil
	case FormatCSV:
		return EventsToCSV(events)
	case FormatJSON:
		return toJSON(events)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, f)
	}
}

func EventsToText(events []models.ControlEvent) []byte {
	var buf bytes.Buffer
	for _, ev := range events {
		fmt.Fprintf(&buf, "%s  #%-5d %-10s %-10s %s", ev.CreatedAt.Local().Format(time.DateTime), ev.Sequence,
			ev.Action, ev.Identity, ev.Mode)
		if ev.Detail != "" {
			fmt.Fprintf(&buf, " (%s)", ev.Detail)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func EventsToMarkdown(events []models.ControlEvent) []byte {
	var buf bytes.Buffer

	buf.WriteString("| Seq | Time | Identity | Action | Mode | Detail |\n")
	buf.WriteString("|-----|------|----------|--------|------|--------|\n")
	for _, ev := range events {
		fmt.Fprintf(&buf, "| %d | %s | %s | %s | %s | %s |\n", ev.Sequence, ev.CreatedAt.UTC().Format(time.RFC3339),
			escapeCell(ev.Identity), ev.Action, ev.Mode, escapeCell(ev.Detail))
	}
	return buf.Bytes()
}

// EventsToCSV converts events to CSV with columns: ID, Sequence, Identity, Action, Mode, Detail, CreatedAt
func EventsToCSV(events []models.ControlEvent) ([]byte, error) {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.ID,
			strconv.Itoa(ev.Sequence),
			ev.Identity,
			ev.Action,
			string(ev.Mode),
			ev.Detail,
			ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return writeCSV([]string{"ID", "Sequence", "Identity", "Action", "Mode", "Detail", "CreatedAt"}, rows)
}

// WriteFile writes data to path, or to stdout when path is empty or "-".
func WriteFile(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write CSV records: %w", err)
	}
	return buf.Bytes(), nil
}

func toJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func visibility(public bool) string {
	if public {
		return "public"
	}
	return "private"
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
