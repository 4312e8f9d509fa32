// Package access arbitrates who may control playback.
//
// The [Controller] owns the single [models.Lease]. In exclusive mode only the holder may issue commands;
// in shared mode anyone may, and every grant and command is attributed; in public mode anyone may and only
// control requests are attributed.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
)

// Actions recorded in [models.ControlEvent].
const (
	ActionGrant      = "grant"
	ActionRequest    = "request"
	ActionRelease    = "release"
	ActionDisconnect = "disconnect"
	ActionCommand    = "command"
)

const (
	DefaultHistorySize = 128
	recordTimeout      = 5 * time.Second
)

// Recorder persists attribution events.
type Recorder interface {
	Record(ctx context.Context, ev *models.ControlEvent) error
}

// Options configures a [Controller].
type Options struct {
	Recorder    Recorder
	HistorySize int
	Logger      *log.Logger
	Now         func() time.Time
}

// Controller tracks the control lease and authorizes commands.
type Controller struct {
	mode     models.ControlMode
	recorder Recorder
	history  *shared.RingBuffer[models.ControlEvent]
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	lease    models.Lease
	onChange func(models.Lease)
}

// NewController creates a controller for mode with no holder.
func NewController(mode models.ControlMode, opts Options) *Controller {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		mode:     mode,
		recorder: opts.Recorder,
		history:  shared.NewRingBuffer[models.ControlEvent](opts.HistorySize),
		logger:   shared.WithLogger(opts.Logger, "component", "access", "mode", mode),
		now:      opts.Now,
		lease:    models.Lease{Mode: mode},
	}
}

func (c *Controller) Mode() models.ControlMode { return c.mode }

// Lease returns the current lease.
func (c *Controller) Lease() models.Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease
}

// OnLeaseChange registers fn to be called after every grant or release. fn runs without the controller lock.
func (c *Controller) OnLeaseChange(fn func(models.Lease)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Authorize reports whether identity may issue cmd, returning an error wrapping [shared.ErrUnauthorized] if not.
func (c *Controller) Authorize(identity string, cmd models.Command) error {
	switch c.mode {
	case models.ModeExclusive:
		c.mu.Lock()
		holder := c.lease.Holder
		c.mu.Unlock()

		if holder == "" {
			return fmt.Errorf("%w: request control first", shared.ErrUnauthorized)
		}
		if holder != identity {
			return fmt.Errorf("%w: control is held by %s", shared.ErrUnauthorized, holder)
		}
		return nil
	case models.ModeShared:
		c.record(identity, ActionCommand, string(cmd.Kind))
		return nil
	default:
		return nil
	}
}

// RequestControl grants control to identity.
//
// In exclusive mode a second identity gets [shared.ErrAlreadyHeld]; the holder asking again is a no-op.
// In shared and public mode the request always succeeds and is recorded for attribution.
func (c *Controller) RequestControl(identity string) (models.Lease, error) {
	if identity == "" {
		return models.Lease{}, fmt.Errorf("%w: identity", shared.ErrMissingArgument)
	}

	if c.mode != models.ModeExclusive {
		c.record(identity, ActionRequest, "")
		return c.Lease(), nil
	}

	c.mu.Lock()
	switch c.lease.Holder {
	case identity:
		lease := c.lease
		c.mu.Unlock()
		return lease, nil
	case "":
		c.lease = models.Lease{Holder: identity, GrantedAt: c.now(), Mode: c.mode}
	default:
		holder := c.lease.Holder
		c.mu.Unlock()
		return models.Lease{}, fmt.Errorf("%w: by %s", shared.ErrAlreadyHeld, holder)
	}
	lease, fn := c.lease, c.onChange
	c.mu.Unlock()

	c.logger.Info("control granted", "identity", identity)
	c.record(identity, ActionGrant, "")
	if fn != nil {
		fn(lease)
	}
	return lease, nil
}

// ReleaseControl releases the lease if identity holds it; otherwise it is a no-op.
func (c *Controller) ReleaseControl(identity string) bool {
	return c.release(identity, ActionRelease)
}

// Disconnected releases the lease held by a departing identity.
func (c *Controller) Disconnected(identity string) {
	c.release(identity, ActionDisconnect)
}

func (c *Controller) release(identity, action string) bool {
	c.mu.Lock()
	if identity == "" || c.lease.Holder != identity {
		c.mu.Unlock()
		return false
	}
	c.lease = models.Lease{Mode: c.mode}
	lease, fn := c.lease, c.onChange
	c.mu.Unlock()

	c.logger.Info("control released", "identity", identity, "reason", action)
	c.record(identity, action, "")
	if fn != nil {
		fn(lease)
	}
	return true
}

// History returns up to limit of the most recent events, oldest first. A negative limit returns all kept events.
func (c *Controller) History(limit int) []models.ControlEvent {
	return c.history.Recent(limit)
}

func (c *Controller) record(identity, action, detail string) {
	ev := models.ControlEvent{
		ID:        shared.GenerateID(),
		Identity:  identity,
		Action:    action,
		Mode:      c.mode,
		Detail:    detail,
		CreatedAt: c.now(),
	}

	if c.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := c.recorder.Record(ctx, &ev); err != nil {
			c.logger.Warn("failed to record control event", "action", action, "identity", identity, "error", err)
		}
	}
	c.history.Push(ev)
}
