// Package tasks runs the sync loop that keeps one canonical playback state in step with the remote player.
//
// # Engine
//
// [Engine] owns the [models.PlaybackState] and its version counter. Two paths change it:
//
//  1. [Engine.Poll] : reads the remote player on an interval
//     - material differences produce a new version; identical polls are no-ops
//     - a polled position within the drift tolerance of the [ProgressClock] is ignored
//     - no active device produces the Idle state; repeated failures produce Disconnected
//     - a new track starts artwork resolution in the background
//
//  2. [Engine.ApplyCommand] : authorizes, issues the remote call, then updates the state optimistically
//     - unauthorized commands have no side effect
//     - remote failures leave the state unchanged
//     - commands are refused while the player has stayed idle
//
// Both paths end in one commit step under the engine lock. Remote calls never hold the lock; a poll
// that was in flight while a command was applied is discarded rather than overwriting the command's effect.
//
// # Progress Reporting
//
// Lifecycle events are sent as [Update] values on an optional channel. Sends use select with default
// so a slow consumer never stalls the loop.
package tasks
