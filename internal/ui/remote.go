package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/desertthunder/spotbridge/internal/server"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Remote is the monitor's connection to a bridge.
type Remote interface {
	// Messages yields server messages until the connection ends. Err reports why it ended.
	Messages() <-chan server.Outbound
	Err() error
	Send(in server.Inbound) error
	Close() error
}

// WSRemote is a [Remote] over a websocket.
type WSRemote struct {
	conn     *websocket.Conn
	messages chan server.Outbound
	writeMu  sync.Mutex
	err      error
	done     chan struct{}
	closing  chan struct{}
	once     sync.Once
}

// Dial connects to the bridge websocket at rawURL as identity.
func Dial(ctx context.Context, rawURL, identity string) (*WSRemote, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if identity != "" {
		q := u.Query()
		q.Set("identity", identity)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", u.Redacted(), err)
	}

	r := &WSRemote{
		conn:     conn,
		messages: make(chan server.Outbound, 16),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go r.read()
	return r, nil
}

func (r *WSRemote) read() {
	defer close(r.done)
	defer close(r.messages)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.err = err
			}
			return
		}
		var msg server.Outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case r.messages <- msg:
		case <-r.closing:
			return
		}
	}
}

func (r *WSRemote) Messages() <-chan server.Outbound { return r.messages }

// Err is only meaningful once Messages is closed.
func (r *WSRemote) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *WSRemote) Send(in server.Inbound) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_ = r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := r.conn.WriteJSON(in); err != nil {
		return fmt.Errorf("send %s: %w", in.Type, err)
	}
	return nil
}

// Close sends a close frame and tears the connection down.
func (r *WSRemote) Close() error {
	r.once.Do(func() { close(r.closing) })
	r.writeMu.Lock()
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	r.writeMu.Unlock()
	return r.conn.Close()
}
