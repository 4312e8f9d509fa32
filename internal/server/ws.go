package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 << 10
	pongWait       = 60 * time.Second
	commandTimeout = 10 * time.Second
)

// Engine is the playback state authority behind the websocket.
type Engine interface {
	ApplyCommand(ctx context.Context, identity string, cmd models.Command) (models.PlaybackState, error)
	Current() models.PlaybackState
	Playlists(ctx context.Context, identity string) ([]models.Playlist, error)
}

// Lessor arbitrates who may control playback.
type Lessor interface {
	Releaser
	RequestControl(identity string) (models.Lease, error)
	ReleaseControl(identity string) bool
	Lease() models.Lease
}

// WSHandler upgrades clients to websocket sessions and serves the control protocol over them.
type WSHandler struct {
	path     string
	engine   Engine
	access   Lessor
	registry *Registry
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWSHandler creates a websocket handler mounted at path.
func NewWSHandler(path string, engine Engine, access Lessor, registry *Registry, logger *log.Logger) *WSHandler {
	if path == "" {
		path = "/ws"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WSHandler{
		path:     path,
		engine:   engine,
		access:   access,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.WithPrefix("ws"),
	}
}

// Routes returns the websocket path.
func (h *WSHandler) Routes() []string {
	return []string{h.path}
}

// ServeHTTP upgrades the request and runs the session read loop until the client goes away.
//
// The client names itself with the identity query parameter or the X-Identity header; anonymous clients get a
// generated guest identity.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := clientIdentity(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sess, err := h.registry.Register(conn, identity)
	if err != nil {
		h.logger.Error("register failed", "identity", identity, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	defer h.leave(sess)

	_ = h.registry.Send(sess.ID, leaseMessage(h.access.Lease()))

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", "session", sess.ID, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		h.handle(ctx, sess, data)
	}
}

// leave unregisters sess and releases its identity once no session of it remains. A dropped session may have been
// granted control after the registry already released it.
func (h *WSHandler) leave(sess *Session) {
	h.registry.Unregister(sess.ID)
	if !h.registry.Connected(sess.Identity) {
		h.access.Disconnected(sess.Identity)
	}
}

// handle processes one client message. Replies go through the session queue so they stay ordered with broadcasts.
func (h *WSHandler) handle(ctx context.Context, sess *Session, data []byte) {
	in, err := DecodeInbound(data)
	if err != nil {
		h.reply(sess, in, err)
		return
	}

	switch in.Type {
	case TypeCommand, TypeRequestControl, TypeReleaseControl:
		if !h.registry.Active(sess.ID) {
			h.logger.Debug("ignoring message from dropped session", "session", sess.ID, "type", in.Type)
			return
		}
	}

	switch in.Type {
	case TypeCommand:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		_, err := h.engine.ApplyCommand(ctx, sess.Identity, in.ToCommand())
		if err != nil {
			h.logger.Info("command rejected", "identity", sess.Identity, "command", in.Command, "err", err)
		}
		if in.legacy {
			if err != nil {
				_ = h.registry.SendText(sess.ID, legacyError(err))
			}
			return
		}
		_ = h.registry.Send(sess.ID, resultMessage(in.RequestID, err))
	case TypeRequestControl:
		_, err := h.access.RequestControl(sess.Identity)
		_ = h.registry.Send(sess.ID, resultMessage(in.RequestID, err))
	case TypeReleaseControl:
		if !h.access.ReleaseControl(sess.Identity) {
			err = fmt.Errorf("%w: control not held by %s", shared.ErrInvalidArgument, sess.Identity)
		}
		_ = h.registry.Send(sess.ID, resultMessage(in.RequestID, err))
	case TypeResync:
		if in.legacy {
			_ = h.registry.SendText(sess.ID, legacyCurrent(h.engine.Current()))
			return
		}
		_ = h.registry.Resync(sess.ID)
	case TypeAck:
		sess.Ack(in.Version)
	case TypeListPlaylists:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		playlists, err := h.engine.Playlists(ctx, sess.Identity)
		if err != nil {
			h.reply(sess, in, err)
			return
		}
		if in.legacy {
			_ = h.registry.SendText(sess.ID, legacyPlaylists(playlists))
			return
		}
		_ = h.registry.Send(sess.ID, Outbound{Type: TypePlaylists, RequestID: in.RequestID, OK: true, Playlists: playlists})
	default:
		h.reply(sess, in, fmt.Errorf("%w: unknown message type %q", shared.ErrInvalidInput, in.Type))
	}
}

func (h *WSHandler) reply(sess *Session, in Inbound, err error) {
	if in.legacy {
		_ = h.registry.SendText(sess.ID, legacyError(err))
		return
	}
	_ = h.registry.Send(sess.ID, errorMessage(in.RequestID, err))
}

func clientIdentity(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("identity")); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get("X-Identity")); id != "" {
		return id
	}
	return "guest-" + shared.GenerateID()[:8]
}
