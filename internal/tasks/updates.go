package tasks

import (
	"fmt"

	"github.com/desertthunder/spotbridge/internal/models"
)

// Update is a lifecycle event emitted by the [Engine].
//
// Used to report what the sync loop is doing to the CLI layer for display.
type Update struct {
	Kind    UpdateKind // Event kind
	Version uint64     // State version after the event (0 when unchanged)
	Message string     // Human-readable message for display
	Data    any        // Optional kind-specific data
}

// Event kind enumeration
type UpdateKind int

const (
	StateChanged UpdateKind = iota
	PollFailed
	PollDiscarded
	DeviceLost
	Disconnected
	Reconnected
	CommandApplied
	CommandRejected
	CanvasAttached
)

func (k UpdateKind) String() string {
	switch k {
	case StateChanged:
		return "state_changed"
	case PollFailed:
		return "poll_failed"
	case PollDiscarded:
		return "poll_discarded"
	case DeviceLost:
		return "device_lost"
	case Disconnected:
		return "disconnected"
	case Reconnected:
		return "reconnected"
	case CommandApplied:
		return "command_applied"
	case CommandRejected:
		return "command_rejected"
	case CanvasAttached:
		return "canvas_attached"
	default:
		return ""
	}
}

func stateChangedUpdate(st models.PlaybackState) Update {
	msg := fmt.Sprintf("v%d %s", st.Version, st.Status)
	if st.Track.ID != "" {
		msg = fmt.Sprintf("v%d %s: %s", st.Version, st.Status, trackLabel(st.Track))
	}
	return Update{Kind: StateChanged, Version: st.Version, Message: msg, Data: st}
}

func pollFailedUpdate(failures int, err error) Update {
	return Update{
		Kind:    PollFailed,
		Message: fmt.Sprintf("poll failed (%d consecutive): %v", failures, err),
		Data:    err,
	}
}

func pollDiscardedUpdate() Update {
	return Update{Kind: PollDiscarded, Message: "discarded poll started before a command"}
}

func deviceLostUpdate(version uint64) Update {
	return Update{Kind: DeviceLost, Version: version, Message: "no active device"}
}

func disconnectedUpdate(version uint64, failures int) Update {
	return Update{
		Kind:    Disconnected,
		Version: version,
		Message: fmt.Sprintf("remote unreachable after %d polls", failures),
	}
}

func reconnectedUpdate(version uint64) Update {
	return Update{Kind: Reconnected, Version: version, Message: "remote reachable again"}
}

func commandAppliedUpdate(identity string, cmd models.Command, version uint64) Update {
	return Update{
		Kind:    CommandApplied,
		Version: version,
		Message: fmt.Sprintf("%s by %s", cmd.Kind, identity),
		Data:    cmd,
	}
}

func commandRejectedUpdate(identity string, cmd models.Command, err error) Update {
	return Update{
		Kind:    CommandRejected,
		Message: fmt.Sprintf("%s by %s: %v", cmd.Kind, identity, err),
		Data:    err,
	}
}

func canvasAttachedUpdate(art models.Artwork, version uint64) Update {
	return Update{
		Kind:    CanvasAttached,
		Version: version,
		Message: fmt.Sprintf("%s art for %s", art.Kind, art.TrackID),
		Data:    art,
	}
}

func trackLabel(t models.Track) string {
	if len(t.Artists) == 0 {
		return t.Title
	}
	return fmt.Sprintf("%s - %s", t.Artists[0], t.Title)
}
