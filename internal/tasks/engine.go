package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/services"
	"github.com/desertthunder/spotbridge/internal/shared"
)

const (
	DefaultPollInterval    = time.Second
	DefaultDriftTolerance  = 2500 * time.Millisecond
	DefaultIdlePollLimit   = 1
	DefaultDisconnectAfter = 3
	DefaultMaxBackoff      = 30 * time.Second
)

// Broadcaster receives every state the engine emits, in version order.
//
// Broadcast is called with the engine lock held and must not block or call back into the engine.
type Broadcaster interface {
	Broadcast(state models.PlaybackState)
}

// Authorizer decides whether identity may issue cmd.
type Authorizer interface {
	Authorize(identity string, cmd models.Command) error
}

// ArtworkResolver maps a track to displayable art. It never fails; missing art is [models.NoArtwork].
type ArtworkResolver interface {
	Resolve(ctx context.Context, track models.Track) models.Artwork
}

// Options tunes the [Engine]. Zero values take the package defaults.
type Options struct {
	PollInterval   time.Duration
	DriftTolerance time.Duration
	// IdlePollLimit is the number of consecutive idle polls after which commands other than transfer are
	// rejected. A poll that finds an active device resets the count.
	IdlePollLimit   int
	DisconnectAfter int
	MaxBackoff      time.Duration

	Logger *log.Logger

	// Updates receives lifecycle events. Sends never block; events are dropped when it is full.
	Updates chan<- Update

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DriftTolerance <= 0 {
		o.DriftTolerance = DefaultDriftTolerance
	}
	if o.IdlePollLimit <= 0 {
		o.IdlePollLimit = DefaultIdlePollLimit
	}
	if o.DisconnectAfter <= 0 {
		o.DisconnectAfter = DefaultDisconnectAfter
	}
	if o.MaxBackoff < o.PollInterval {
		o.MaxBackoff = max(DefaultMaxBackoff, o.PollInterval)
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine owns the canonical [models.PlaybackState] and keeps it reconciled with the remote player.
//
// Polls and commands funnel into one commit path under mu; remote calls run outside it.
type Engine struct {
	player services.Player
	access Authorizer
	art    ArtworkResolver
	out    Broadcaster
	opts   Options
	logger *log.Logger

	mu        sync.Mutex
	state     models.PlaybackState
	clock     ProgressClock
	epoch     uint64 // bumped by every applied command
	idlePolls int
	failures  int

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewEngine creates an engine in the Idle state. access, art and out may be nil.
func NewEngine(player services.Player, access Authorizer, art ArtworkResolver, out Broadcaster, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		player: player,
		access: access,
		art:    art,
		out:    out,
		opts:   opts,
		logger: shared.WithLogger(opts.Logger, "component", "engine"),
		state:  models.PlaybackState{Status: models.StatusIdle},
		wake:   make(chan struct{}, 1),
	}
}

// State returns the canonical state as last emitted.
func (e *Engine) State() models.PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Current returns the canonical state re-anchored at now with the extrapolated position.
func (e *Engine) Current() models.PlaybackState {
	now := e.opts.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state
	if st.HasDevice() {
		st.PositionMS = e.clock.Position(now)
		if now.After(st.AnchoredAt) {
			st.AnchoredAt = now
		}
	}
	return st
}

// Run polls until ctx is cancelled. Failed polls back off exponentially up to MaxBackoff.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync loop started", "interval", e.opts.PollInterval, "player", e.player.Name())
	defer e.wg.Wait()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return nil
		case <-timer.C:
		case <-e.wake:
		}

		err := e.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			e.logger.Warn("poll failed", "error", err)
		}
		timer.Reset(e.nextDelay())
	}
}

func (e *Engine) nextDelay() time.Duration {
	e.mu.Lock()
	failures := e.failures
	e.mu.Unlock()

	delay := e.opts.PollInterval
	for i := 1; i < failures && delay < e.opts.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, e.opts.MaxBackoff)
}

// requestPoll asks Run to poll without waiting for the interval.
func (e *Engine) requestPoll() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until background artwork resolution has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Poll reads the remote player once and reconciles the result.
//
// A poll that started before a command was applied is discarded. Failures return an error wrapping
// [shared.ErrRemoteUnavailable]; an inactive device is not a failure.
func (e *Engine) Poll(ctx context.Context) error {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()

	pb, err := e.player.CurrentPlayback(ctx)
	now := e.opts.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if epoch != e.epoch {
		e.logger.Debug("stale poll discarded")
		e.notify(pollDiscardedUpdate())
		return nil
	}

	switch {
	case errors.Is(err, shared.ErrNoActiveDevice):
		e.recovered()
		e.idlePolls++
		if st, changed := e.commit(candidate{status: models.StatusIdle}, now); changed {
			e.logger.Info("no active device", "version", st.Version)
			e.notify(deviceLostUpdate(st.Version))
		}
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.failures++
		e.notify(pollFailedUpdate(e.failures, err))
		if e.failures >= e.opts.DisconnectAfter {
			if st, changed := e.commit(candidate{status: models.StatusDisconnected}, now); changed {
				e.logger.Error("remote unreachable", "failures", e.failures, "version", st.Version)
				e.notify(disconnectedUpdate(st.Version, e.failures))
			}
		}
		return fmt.Errorf("%w: %w", shared.ErrRemoteUnavailable, err)
	}

	e.recovered()
	e.idlePolls = 0

	prevTrack := e.state.Track.ID
	st, changed := e.commit(candidate{
		status:     statusFor(pb.IsPlaying),
		track:      pb.Track,
		positionMS: pb.PositionMS,
		isPlaying:  pb.IsPlaying,
		deviceID:   pb.DeviceID,
		deviceName: pb.DeviceName,
		observed:   true,
	}, now)
	if !changed {
		e.logger.Debug("poll unchanged", "version", st.Version)
		return nil
	}

	if st.Track.ID != "" && st.Track.ID != prevTrack {
		e.resolveArtwork(ctx, st.Track)
	}
	return nil
}

// recovered resets the failure counter. Must be called with mu held.
func (e *Engine) recovered() {
	if e.failures >= e.opts.DisconnectAfter {
		e.notify(reconnectedUpdate(e.state.Version))
		e.logger.Info("remote reachable again")
	}
	e.failures = 0
}

// ApplyCommand authorizes cmd for identity, issues it remotely and applies its effect optimistically.
//
// Errors wrap [shared.ErrUnauthorized] (no side effect), [shared.ErrRemoteRejected] (state unchanged) or
// [shared.ErrInvalidArgument].
func (e *Engine) ApplyCommand(ctx context.Context, identity string, cmd models.Command) (models.PlaybackState, error) {
	if err := cmd.Validate(); err != nil {
		return e.State(), fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	if e.access != nil {
		if err := e.access.Authorize(identity, cmd); err != nil {
			e.notify(commandRejectedUpdate(identity, cmd, err))
			return e.State(), err
		}
	}

	e.mu.Lock()
	blocked := e.state.Status == models.StatusIdle && e.idlePolls >= e.opts.IdlePollLimit && cmd.Kind != models.CommandTransfer
	e.mu.Unlock()
	if blocked {
		err := fmt.Errorf("%w: %w", shared.ErrRemoteRejected, shared.ErrNoActiveDevice)
		e.notify(commandRejectedUpdate(identity, cmd, err))
		return e.State(), err
	}

	if err := e.dispatch(ctx, cmd); err != nil {
		err = fmt.Errorf("%w: %s: %w", shared.ErrRemoteRejected, cmd.Kind, err)
		e.logger.Warn("command rejected", "command", cmd.Kind, "identity", identity, "error", err)
		e.notify(commandRejectedUpdate(identity, cmd, err))
		return e.State(), err
	}

	now := e.opts.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.epoch++
	st := e.state
	if c, ok := e.optimistic(cmd, now); ok {
		st, _ = e.commit(c, now)
	}

	switch cmd.Kind {
	case models.CommandNext, models.CommandPrevious, models.CommandPlayPlaylist, models.CommandTransfer:
		e.requestPoll()
	}

	e.logger.Info("command applied", "command", cmd.Kind, "identity", identity, "version", st.Version)
	e.notify(commandAppliedUpdate(identity, cmd, st.Version))
	return st, nil
}

func (e *Engine) dispatch(ctx context.Context, cmd models.Command) error {
	switch cmd.Kind {
	case models.CommandPlay:
		return e.player.Play(ctx)
	case models.CommandPause:
		return e.player.Pause(ctx)
	case models.CommandSeek:
		return e.player.Seek(ctx, cmd.PositionMS)
	case models.CommandNext:
		return e.player.Next(ctx)
	case models.CommandPrevious:
		return e.player.Previous(ctx)
	case models.CommandTransfer:
		return e.player.TransferPlayback(ctx, cmd.DeviceID)
	case models.CommandPlayPlaylist:
		return e.player.PlayPlaylist(ctx, cmd.PlaylistID)
	default:
		return fmt.Errorf("%w: unknown command %q", shared.ErrInvalidArgument, cmd.Kind)
	}
}

// optimistic predicts the state after cmd succeeded. Without a known device there is nothing to predict
// and the next poll fills the state in. Must be called with mu held.
func (e *Engine) optimistic(cmd models.Command, now time.Time) (candidate, bool) {
	cur := e.state
	if !cur.HasDevice() {
		return candidate{}, false
	}

	c := candidate{
		status:     cur.Status,
		track:      cur.Track,
		positionMS: e.clock.Position(now),
		isPlaying:  cur.IsPlaying,
		deviceID:   cur.DeviceID,
		deviceName: cur.DeviceName,
		force:      true,
	}

	switch cmd.Kind {
	case models.CommandPlay:
		c.isPlaying = true
	case models.CommandPause:
		c.isPlaying = false
	case models.CommandSeek:
		c.positionMS = cmd.PositionMS
	case models.CommandNext, models.CommandPrevious:
		c.positionMS = 0
	case models.CommandPlayPlaylist:
		c.positionMS = 0
		c.isPlaying = true
	case models.CommandTransfer:
		c.deviceID = cmd.DeviceID
		c.deviceName = ""
		c.isPlaying = true
	}
	c.status = statusFor(c.isPlaying)
	return c, true
}

// candidate is a proposed next state from a poll or a command.
type candidate struct {
	status     models.Status
	track      models.Track
	positionMS int
	isPlaying  bool
	deviceID   string
	deviceName string

	// observed marks a polled position, which is subject to drift tolerance.
	observed bool
	// force emits a new version even when nothing material changed.
	force bool
}

// commit diffs c against the canonical state and emits a new version when they differ materially.
// Must be called with mu held.
func (e *Engine) commit(c candidate, now time.Time) (models.PlaybackState, bool) {
	prev := e.state
	if !c.status.HasDevice() {
		c = candidate{status: c.status, force: c.force}
	}

	sameTrack := sameTrack(prev.Track, c.track)
	expected := e.clock.Position(now)
	position := c.positionMS
	moved := true

	switch {
	case !c.status.HasDevice():
		moved = false
	case c.observed && sameTrack && prev.HasDevice():
		if absDiff(c.positionMS, expected) <= int(e.opts.DriftTolerance.Milliseconds()) {
			position = expected
			moved = false
		}
	}

	material := c.force ||
		moved ||
		c.status != prev.Status ||
		!sameTrack ||
		c.isPlaying != prev.IsPlaying ||
		c.deviceID != prev.DeviceID
	if !material {
		return prev, false
	}

	next := models.PlaybackState{
		Version:    prev.Version + 1,
		Status:     c.status,
		Track:      c.track,
		IsPlaying:  c.isPlaying,
		DeviceID:   c.deviceID,
		DeviceName: c.deviceName,
	}
	// Art is keyed by track id; a metadata correction keeps it.
	if c.track.ID != "" && c.track.ID == prev.Track.ID {
		next.Canvas = prev.Canvas
	}
	next.PositionMS, next.AnchoredAt = e.clock.Anchor(position, c.track.DurationMS, now, c.isPlaying)

	e.publish(next)
	return next, true
}

// publish makes st canonical and hands it to the broadcaster. Must be called with mu held.
func (e *Engine) publish(st models.PlaybackState) {
	e.state = st
	if e.out != nil {
		e.out.Broadcast(st)
	}
	e.notify(stateChangedUpdate(st))
}

// resolveArtwork looks up art for track in the background and attaches it if the track is still current.
// Must be called with mu held.
func (e *Engine) resolveArtwork(ctx context.Context, track models.Track) {
	if e.art == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		art := e.art.Resolve(ctx, track)
		if !art.Found() {
			e.logger.Debug("no artwork", "track", track.ID)
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.state.Track.ID != track.ID {
			return
		}
		if e.state.Canvas != nil && *e.state.Canvas == art {
			return
		}

		next := e.state
		next.Version++
		next.Canvas = &art
		e.publish(next)
		e.notify(canvasAttachedUpdate(art, next.Version))
	}()
}

// Playlists lists playlists for identity straight from the remote player.
func (e *Engine) Playlists(ctx context.Context, identity string) ([]models.Playlist, error) {
	playlists, err := e.player.Playlists(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRemoteUnavailable, err)
	}
	return playlists, nil
}

func (e *Engine) notify(u Update) {
	if e.opts.Updates == nil {
		return
	}
	select {
	case e.opts.Updates <- u:
	default:
	}
}

func statusFor(playing bool) models.Status {
	if playing {
		return models.StatusPlaying
	}
	return models.StatusPaused
}

func sameTrack(a, b models.Track) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.DurationMS == b.DurationMS &&
		slices.Equal(a.Artists, b.Artists)
}
