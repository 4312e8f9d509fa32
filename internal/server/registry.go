package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultSendBuffer      = 32
	DefaultMaxSendFailures = 3
	DefaultWriteTimeout    = 5 * time.Second
	DefaultPingPeriod      = 30 * time.Second
)

// Conn is the write side of a client connection. [*websocket.Conn] satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Releaser is notified when the last session of an identity goes away.
type Releaser interface {
	Disconnected(identity string)
}

// RegistryOptions bounds per-session delivery.
type RegistryOptions struct {
	SendBuffer      int
	MaxSendFailures int
	WriteTimeout    time.Duration
	PingPeriod      time.Duration // zero disables keepalive pings
	MaxSessions     int           // zero means unbounded
	Logger          *log.Logger
	Now             func() time.Time
}

type frame struct {
	kind int
	data []byte
}

// Session is one connected client.
type Session struct {
	ID          string
	Identity    string
	ConnectedAt time.Time

	conn     Conn
	send     chan frame
	done     chan struct{}
	stop     sync.Once
	acked    atomic.Uint64
	sent     atomic.Uint64
	failures int
}

// Acked returns the last version the client acknowledged.
func (s *Session) Acked() uint64 { return s.acked.Load() }

// Ack records a client acknowledgement. Older versions are ignored.
func (s *Session) Ack(version uint64) {
	for {
		cur := s.acked.Load()
		if version <= cur || s.acked.CompareAndSwap(cur, version) {
			return
		}
	}
}

func (s *Session) close() {
	s.stop.Do(func() { close(s.done) })
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	ConnectedAt time.Time `json:"connected_at"`
	SentVersion uint64    `json:"sent_version"`
	AckVersion  uint64    `json:"ack_version"`
}

// Registry tracks connected sessions and fans state out to them.
//
// Broadcast never blocks: each session owns a bounded queue drained by its own writer goroutine, and a session whose
// queue overflows is dropped.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	latest   models.PlaybackState
	releaser Releaser
	opts     RegistryOptions
	logger   *log.Logger
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry. releaser may be nil.
func NewRegistry(releaser Releaser, opts RegistryOptions) *Registry {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.MaxSendFailures <= 0 {
		opts.MaxSendFailures = DefaultMaxSendFailures
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		releaser: releaser,
		opts:     opts,
		logger:   logger.WithPrefix("sessions"),
	}
}

// Register adds a session and queues a full snapshot of the latest state as its first message.
func (r *Registry) Register(conn Conn, identity string) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: connection", shared.ErrMissingArgument)
	}

	r.mu.Lock()
	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session limit %d reached", shared.ErrServiceUnavailable, r.opts.MaxSessions)
	}

	data, err := json.Marshal(stateMessage(TypeSnapshot, r.latest))
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	s := &Session{
		ID:          uuid.NewString(),
		Identity:    identity,
		ConnectedAt: r.opts.Now(),
		conn:        conn,
		send:        make(chan frame, r.opts.SendBuffer),
		done:        make(chan struct{}),
	}
	s.send <- frame{kind: websocket.TextMessage, data: data}
	s.sent.Store(r.latest.Version)
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.write(s)

	r.logger.Info("session registered", "session", s.ID, "identity", identity, "sessions", count)
	return s, nil
}

// Unregister removes a session. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	last := !r.identityConnected(s.Identity)
	count := len(r.sessions)
	r.mu.Unlock()

	r.finish(s, last)
	r.logger.Info("session unregistered", "session", id, "identity", s.Identity, "sessions", count)
}

// Broadcast records st as the latest state and queues it to every session.
//
// Safe to call while holding other locks: it only takes the registry lock and never waits on a client.
func (r *Registry) Broadcast(st models.PlaybackState) {
	data, err := json.Marshal(stateMessage(TypeDelta, st))
	if err != nil {
		r.logger.Error("encode state failed", "version", st.Version, "err", err)
		return
	}

	r.mu.Lock()
	if st.Version < r.latest.Version {
		r.mu.Unlock()
		return
	}
	r.latest = st
	dropped := r.enqueueAll(frame{kind: websocket.TextMessage, data: data}, st.Version)
	r.mu.Unlock()

	r.drop(dropped)
}

// Publish queues msg to every session without touching the latest state.
func (r *Registry) Publish(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("encode message failed", "type", msg.Type, "err", err)
		return
	}

	r.mu.Lock()
	dropped := r.enqueueAll(frame{kind: websocket.TextMessage, data: data}, 0)
	r.mu.Unlock()

	r.drop(dropped)
}

// PublishLease announces a control lease change to every session.
func (r *Registry) PublishLease(l models.Lease) {
	r.Publish(leaseMessage(l))
}

// Send queues msg to a single session.
func (r *Registry) Send(id string, msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return r.sendFrame(id, frame{kind: websocket.TextMessage, data: data}, msg.Version)
}

// SendText queues a raw text frame to a single session.
func (r *Registry) SendText(id, text string) error {
	return r.sendFrame(id, frame{kind: websocket.TextMessage, data: []byte(text)}, 0)
}

// Resync queues a full snapshot of the latest state to a single session.
func (r *Registry) Resync(id string) error {
	r.mu.Lock()
	st := r.latest
	r.mu.Unlock()
	return r.Send(id, stateMessage(TypeSnapshot, st))
}

// Latest returns the last broadcast state.
func (r *Registry) Latest() models.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Active reports whether the session id is still registered.
func (r *Registry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Connected reports whether identity has at least one registered session.
func (r *Registry) Connected(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identityConnected(identity)
}

// Len returns the number of connected sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions lists connected sessions, oldest first.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, SessionInfo{
			ID:          s.ID,
			Identity:    s.Identity,
			ConnectedAt: s.ConnectedAt,
			SentVersion: s.sent.Load(),
			AckVersion:  s.Acked(),
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// Close drops every session and waits for the writers to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.finish(s, true)
	}
	r.wg.Wait()
}

func (r *Registry) sendFrame(id string, f frame, version uint64) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s", shared.ErrInvalidArgument, id)
	}
	var dropped []*Session
	if !r.enqueue(s, f, version) {
		dropped = r.remove(s)
	}
	r.mu.Unlock()

	r.drop(dropped)
	if dropped != nil {
		return fmt.Errorf("%w: session %s send queue full", shared.ErrServiceUnavailable, id)
	}
	return nil
}

// enqueueAll must be called with r.mu held. It returns the sessions that overflowed, already removed from the map.
func (r *Registry) enqueueAll(f frame, version uint64) []*Session {
	var dropped []*Session
	for _, s := range r.sessions {
		if !r.enqueue(s, f, version) {
			dropped = append(dropped, s)
		}
	}
	for _, s := range dropped {
		delete(r.sessions, s.ID)
	}
	return dropped
}

func (r *Registry) enqueue(s *Session, f frame, version uint64) bool {
	select {
	case s.send <- f:
		if version > 0 {
			s.sent.Store(version)
		}
		return true
	default:
		return false
	}
}

// remove must be called with r.mu held.
func (r *Registry) remove(s *Session) []*Session {
	delete(r.sessions, s.ID)
	return []*Session{s}
}

// drop finishes sessions removed for overflowing. Must be called without r.mu held.
//
// Callers may hold the engine lock, so releases run on their own goroutine.
func (r *Registry) drop(sessions []*Session) {
	for _, s := range sessions {
		r.logger.Warn("session dropped: send queue full", "session", s.ID, "identity", s.Identity)
		s.close()
		r.releaseLater(s.Identity)
	}
}

// releaseLater releases identity in the background unless it has reconnected by then.
func (r *Registry) releaseLater(identity string) {
	if r.releaser == nil || identity == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.Connected(identity) {
			return
		}
		r.releaser.Disconnected(identity)
	}()
}

// finish stops the writer and, when it was the identity's last session, releases whatever the identity held.
func (r *Registry) finish(s *Session, last bool) {
	s.close()
	if last && r.releaser != nil && s.Identity != "" {
		r.releaser.Disconnected(s.Identity)
	}
}

// identityConnected must be called with r.mu held.
func (r *Registry) identityConnected(identity string) bool {
	for _, s := range r.sessions {
		if s.Identity == identity {
			return true
		}
	}
	return false
}

// write drains a session queue onto its connection until the session is closed or fails too often.
func (r *Registry) write(s *Session) {
	defer r.wg.Done()
	defer s.conn.Close()

	var ping <-chan time.Time
	if r.opts.PingPeriod > 0 {
		ticker := time.NewTicker(r.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case f := <-s.send:
			if !r.writeFrame(s, f) {
				return
			}
		case <-ping:
			if !r.writeFrame(s, frame{kind: websocket.PingMessage}) {
				return
			}
		}
	}
}

// writeFrame reports whether the writer should keep going.
func (r *Registry) writeFrame(s *Session, f frame) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
	if err := s.conn.WriteMessage(f.kind, f.data); err != nil {
		s.failures++
		r.logger.Debug("write failed", "session", s.ID, "failures", s.failures, "err", err)
		if s.failures >= r.opts.MaxSendFailures {
			r.logger.Warn("session dropped: too many send failures", "session", s.ID, "identity", s.Identity)
			go r.Unregister(s.ID)
			return false
		}
		return true
	}
	s.failures = 0
	return true
}
