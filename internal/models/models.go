package models

import (
	"fmt"
	"time"
)

// Track represents the track currently loaded on the remote player.
type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri,omitempty"`
	Title      string   `json:"title"`
	Artists    []string `json:"artists,omitempty"`
	Album      string   `json:"album,omitempty"`
	DurationMS int      `json:"duration_ms"`
	CoverURL   string   `json:"cover_url,omitempty"`
}

// Playback is one observation of the remote player.
type Playback struct {
	Track      Track
	PositionMS int
	IsPlaying  bool
	DeviceID   string
	DeviceName string
}

// Playlist is a playlist summary.
type Playlist struct {
	ID          string `json:"id"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	TrackCount  int    `json:"track_count"`
	Public      bool   `json:"public"`
}

// ArtworkKind tells clients how to render an [Artwork] reference.
type ArtworkKind string

const (
	ArtworkNone   ArtworkKind = ""
	ArtworkCanvas ArtworkKind = "canvas"
	ArtworkCover  ArtworkKind = "cover"
)

// Artwork is displayable art for a track: a looping canvas video or a cover image.
type Artwork struct {
	TrackID   string      `json:"track_id"`
	Kind      ArtworkKind `json:"kind"`
	URL       string      `json:"url"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// NoArtwork is the sentinel returned when art could not be resolved.
var NoArtwork = Artwork{}

// Found reports whether a carries a usable reference.
func (a Artwork) Found() bool {
	return a.Kind != ArtworkNone && a.URL != ""
}

// Status is the visibility state clients render.
type Status int

const (
	// StatusIdle means no device is active (also the state before the first poll).
	StatusIdle Status = iota
	StatusPlaying
	StatusPaused
	// StatusDisconnected means polls have failed repeatedly.
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// HasDevice reports whether s is one of the states with an active device.
func (s Status) HasDevice() bool {
	return s == StatusPlaying || s == StatusPaused
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StatusIdle
	case "playing":
		*s = StatusPlaying
	case "paused":
		*s = StatusPaused
	case "disconnected":
		*s = StatusDisconnected
	default:
		return fmt.Errorf("unknown status %q", string(b))
	}
	return nil
}

// PlaybackState is the canonical snapshot.
//
// PositionMS was true at AnchoredAt; while Status is [StatusPlaying] the current position is
// extrapolated from that anchor. AnchoredAt never decreases across successive versions and
// PositionMS never exceeds Track.DurationMS.
type PlaybackState struct {
	Version    uint64    `json:"version"`
	Status     Status    `json:"status"`
	Track      Track     `json:"track"`
	PositionMS int       `json:"position_ms"`
	AnchoredAt time.Time `json:"anchored_at"`
	IsPlaying  bool      `json:"is_playing"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	Canvas     *Artwork  `json:"canvas,omitempty"`
}

// HasDevice reports whether the state refers to an active device.
func (s PlaybackState) HasDevice() bool {
	return s.Status.HasDevice()
}

// ControlMode selects how control requests are arbitrated.
type ControlMode string

const (
	ModePublic    ControlMode = "public"
	ModeShared    ControlMode = "shared"
	ModeExclusive ControlMode = "exclusive"
)

// ParseControlMode validates a configured mode.
func ParseControlMode(s string) (ControlMode, error) {
	switch m := ControlMode(s); m {
	case ModePublic, ModeShared, ModeExclusive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown control mode %q", s)
	}
}

// Lease is the current control grant. Holder is empty when nobody holds exclusive control.
type Lease struct {
	Holder    string      `json:"holder,omitempty"`
	GrantedAt time.Time   `json:"granted_at,omitempty"`
	Mode      ControlMode `json:"mode"`
}

// Held reports whether an identity holds the lease.
func (l Lease) Held() bool {
	return l.Holder != ""
}

// CommandKind enumerates control commands.
type CommandKind string

const (
	CommandPlay         CommandKind = "play"
	CommandPause        CommandKind = "pause"
	CommandSeek         CommandKind = "seek"
	CommandNext         CommandKind = "next"
	CommandPrevious     CommandKind = "previous"
	CommandTransfer     CommandKind = "transfer"
	CommandPlayPlaylist CommandKind = "play_playlist"
)

// Command is a control request from a client.
type Command struct {
	Kind       CommandKind `json:"command"`
	PositionMS int         `json:"position_ms,omitempty"`
	DeviceID   string      `json:"device_id,omitempty"`
	PlaylistID string      `json:"playlist_id,omitempty"`
}

// Validate checks that the command carries the arguments its kind needs.
func (c Command) Validate() error {
	switch c.Kind {
	case CommandPlay, CommandPause, CommandNext, CommandPrevious:
		return nil
	case CommandSeek:
		if c.PositionMS < 0 {
			return fmt.Errorf("seek position must not be negative")
		}
		return nil
	case CommandTransfer:
		if c.DeviceID == "" {
			return fmt.Errorf("transfer requires a device id")
		}
		return nil
	case CommandPlayPlaylist:
		if c.PlaylistID == "" {
			return fmt.Errorf("play_playlist requires a playlist id")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", c.Kind)
	}
}

// ControlEvent attributes a control action to an identity.
type ControlEvent struct {
	ID        string      `json:"id"`
	Sequence  int         `json:"sequence"`
	Identity  string      `json:"identity"`
	Action    string      `json:"action"`
	Mode      ControlMode `json:"mode"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
