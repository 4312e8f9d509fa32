package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
)

// MessageType names a protocol message.
type MessageType string

// Server → client
const (
	TypeSnapshot  MessageType = "snapshot"
	TypeDelta     MessageType = "delta"
	TypeResult    MessageType = "result"
	TypeError     MessageType = "error"
	TypeLease     MessageType = "lease"
	TypePlaylists MessageType = "playlists"
)

// Client → server
const (
	TypeCommand        MessageType = "command"
	TypeRequestControl MessageType = "request_control"
	TypeReleaseControl MessageType = "release_control"
	TypeResync         MessageType = "resync"
	TypeAck            MessageType = "ack"
	TypeListPlaylists  MessageType = "playlists"
)

// Error codes carried by result and error messages.
const (
	CodeUnauthorized      = "unauthorized"
	CodeAlreadyHeld       = "already_held"
	CodeRemoteRejected    = "remote_rejected"
	CodeRemoteUnavailable = "remote_unavailable"
	CodeInvalidRequest    = "invalid_request"
	CodeInternal          = "internal"
)

// Outbound is a server → client message.
type Outbound struct {
	Type      MessageType           `json:"type"`
	Version   uint64                `json:"version,omitempty"`
	State     *models.PlaybackState `json:"state,omitempty"`
	RequestID string                `json:"request_id,omitempty"`
	OK        bool                  `json:"ok,omitempty"`
	Code      string                `json:"code,omitempty"`
	Error     string                `json:"error,omitempty"`
	Lease     *models.Lease         `json:"lease,omitempty"`
	Playlists []models.Playlist     `json:"playlists,omitempty"`
}

// Inbound is a client → server message.
type Inbound struct {
	Type       MessageType        `json:"type"`
	RequestID  string             `json:"request_id,omitempty"`
	Command    models.CommandKind `json:"command,omitempty"`
	PositionMS int                `json:"position_ms,omitempty"`
	DeviceID   string             `json:"device_id,omitempty"`
	PlaylistID string             `json:"playlist_id,omitempty"`
	Version    uint64             `json:"version,omitempty"`

	// legacy marks messages that arrived as plain text frames.
	legacy bool
}

// ToCommand extracts the control command.
func (in Inbound) ToCommand() models.Command {
	return models.Command{
		Kind:       in.Command,
		PositionMS: in.PositionMS,
		DeviceID:   in.DeviceID,
		PlaylistID: in.PlaylistID,
	}
}

func stateMessage(t MessageType, st models.PlaybackState) Outbound {
	return Outbound{Type: t, Version: st.Version, State: &st}
}

func leaseMessage(l models.Lease) Outbound {
	return Outbound{Type: TypeLease, Lease: &l}
}

func resultMessage(requestID string, err error) Outbound {
	if err == nil {
		return Outbound{Type: TypeResult, RequestID: requestID, OK: true}
	}
	return Outbound{Type: TypeResult, RequestID: requestID, Code: errorCode(err), Error: err.Error()}
}

func errorMessage(requestID string, err error) Outbound {
	return Outbound{Type: TypeError, RequestID: requestID, Code: errorCode(err), Error: err.Error()}
}

// errorCode maps the error taxonomy onto wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, shared.ErrAlreadyHeld):
		return CodeAlreadyHeld
	case errors.Is(err, shared.ErrRemoteRejected):
		return CodeRemoteRejected
	case errors.Is(err, shared.ErrRemoteUnavailable):
		return CodeRemoteUnavailable
	case errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidInput):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// DecodeInbound parses a client frame. Frames that are not JSON objects are read as legacy text commands.
func DecodeInbound(data []byte) (Inbound, error) {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		if in.Type == "" {
			return Inbound{}, fmt.Errorf("%w: missing message type", shared.ErrInvalidInput)
		}
		return in, nil
	}
	return decodeLegacy(text)
}

// decodeLegacy reads the semicolon separated text commands ("current", "seek;1000", ...). On error the returned
// message is still marked legacy so the reply goes out as text.
func decodeLegacy(text string) (Inbound, error) {
	name, arg, _ := strings.Cut(text, ";")
	in := Inbound{legacy: true}

	switch name {
	case "current":
		in.Type = TypeResync
	case "playlists":
		in.Type = TypeListPlaylists
	case "play", "pause", "next", "previous":
		in.Type = TypeCommand
		in.Command = models.CommandKind(name)
	case "seek":
		ms, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return in, fmt.Errorf("%w: seek position %q", shared.ErrInvalidArgument, arg)
		}
		in.Type = TypeCommand
		in.Command = models.CommandSeek
		in.PositionMS = ms
	case "playlist":
		in.Type = TypeCommand
		in.Command = models.CommandPlayPlaylist
		in.PlaylistID = strings.TrimSpace(arg)
	default:
		return in, fmt.Errorf("%w: unknown command %q", shared.ErrInvalidInput, name)
	}
	return in, nil
}

// legacyCurrent renders the "!current" reply: artists and title separated by a tab, or "!currentNone".
func legacyCurrent(st models.PlaybackState) string {
	if !st.HasDevice() || st.Track.ID == "" {
		return "!currentNone"
	}
	return "!current" + shared.JoinArtists(st.Track.Artists) + "\t" + st.Track.Title
}

// legacyPlaylists renders the "!playlists" reply: name and image URL pairs, all tab separated.
func legacyPlaylists(playlists []models.Playlist) string {
	parts := make([]string, 0, len(playlists))
	for _, p := range playlists {
		image := p.ImageURL
		if image == "" {
			image = "No Image"
		}
		parts = append(parts, p.Name+"\t"+image)
	}
	return "!playlists" + strings.Join(parts, "\t")
}

func legacyError(err error) string {
	return "!error" + errorCode(err) + "\t" + err.Error()
}
