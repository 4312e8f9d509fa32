// Package server exposes the playback engine to clients.
//
// # Sessions
//
// Clients connect over a websocket ([WSHandler]). On connect a session is added to the [Registry], which queues a
// full snapshot before anything else, then one delta per committed state version. Each session has a bounded send
// queue and its own writer goroutine; a client that falls behind is dropped rather than slowing the others. When the
// last session of an identity disconnects, any control lease that identity held is released.
//
// # Protocol
//
// Messages are JSON objects with a "type" field (see [Outbound] and [Inbound]). Plain text frames are also accepted
// for simple remotes: "current", "playlists", "play", "pause", "next", "previous", "seek;<ms>" and
// "playlist;<id>". Their replies are "!current", "!playlists" and "!error" prefixed text.
//
// # HTTP
//
// [StatusHandler] serves GET /state and GET /healthz. [OAuthHandler] handles the one-shot Spotify authorization
// callback used by the auth command. [BasicRouter] wires handlers with [Middleware], applied in reverse order (last
// added executes first).
package server
