// Package ui implements the terminal monitor behind "spotbridge watch" using bubbletea's Elm architecture.
//
// The monitor is an ordinary bridge client: it connects to the websocket, renders the synchronized playback state
// and, when allowed, sends control commands. It has two views:
//  1. [NowPlayingView] : track, artists, device, lease holder and a progress bar that advances locally between deltas
//  2. [PlaylistView] : browse playlists and start one
//
// Server messages arrive through a [Remote] and are fed to the [Model] as Msg values. The model acknowledges every
// state version and asks for a full resync when it notices a gap.
//
// Keyboard bindings (space, n/p, ←/→, c/x, l, r, q) are listed with charmbracelet/bubbles/help.
package ui
