// Package models defines the data shared between the bridge's components.
//
// The package contains three groups of types:
//
// 1. Remote data: what the playback service reports
//   - [Track] : Track metadata (id, title, artists, duration, cover)
//   - [Playback] : One poll result (track, position, playing flag, device)
//   - [Playlist] : Playlist summary for browsing
//   - [Artwork] : Canvas or cover reference resolved for a track
//
// 2. Canonical state: what observers see
//   - [PlaybackState] : Versioned snapshot with a (position, timestamp) anchor
//   - [Status] : Idle, Playing, Paused or Disconnected
//
// 3. Control: who may change playback
//   - [Command] : A control request (play, pause, seek, ...)
//   - [Lease] : The current control grant and [ControlMode]
//   - [ControlEvent] : Attribution record for grants and commands
//
// Values are passed between components by copy; no component holds a pointer into another's state.
package models
