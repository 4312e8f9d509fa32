package tasks

import "time"

// ProgressClock extrapolates playback position from the last (position, timestamp) anchor.
type ProgressClock struct {
	positionMS int
	durationMS int
	anchoredAt time.Time
	running    bool
}

// Anchor re-anchors the clock and returns the clamped position it stored.
//
// An anchor earlier than the current one is moved forward to keep anchors non-decreasing.
func (c *ProgressClock) Anchor(positionMS, durationMS int, at time.Time, running bool) (int, time.Time) {
	if !c.anchoredAt.IsZero() && at.Before(c.anchoredAt) {
		at = c.anchoredAt
	}
	c.positionMS = clampPosition(positionMS, durationMS)
	c.durationMS = durationMS
	c.anchoredAt = at
	c.running = running
	return c.positionMS, c.anchoredAt
}

// Position returns the extrapolated position at now.
func (c ProgressClock) Position(now time.Time) int {
	pos := c.positionMS
	if c.running && now.After(c.anchoredAt) {
		pos += int(now.Sub(c.anchoredAt).Milliseconds())
	}
	return clampPosition(pos, c.durationMS)
}

func (c ProgressClock) AnchoredAt() time.Time { return c.anchoredAt }

// clampPosition bounds pos to [0, duration]. A zero duration means unknown and only the lower bound applies.
func clampPosition(pos, durationMS int) int {
	if pos < 0 {
		return 0
	}
	if durationMS > 0 && pos > durationMS {
		return durationMS
	}
	return pos
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
