// Package canvas caches track artwork so each track is looked up remotely at most once per TTL.
//
// Entries live in a bounded LRU ([lru.Cache]); concurrent misses for the same track share one fetch
// through a [singleflight.Group]. Lookups never fail: anything that goes wrong yields [models.NoArtwork].
package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/services"
	"github.com/desertthunder/spotbridge/internal/shared"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize         = 256
	DefaultTTL          = 6 * time.Hour
	DefaultFetchTimeout = 10 * time.Second
)

// Options configures a [Cache]. Zero values take the package defaults; a negative TTL disables expiry.
type Options struct {
	Size         int
	TTL          time.Duration
	FetchTimeout time.Duration
	Logger       *log.Logger
	Now          func() time.Time
}

type entry struct {
	art       models.Artwork
	fetchedAt time.Time
	// cover is the track cover URL the entry was resolved against.
	cover string
}

// Stats reports cache activity.
type Stats struct {
	Size    int    `json:"size"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Fetches uint64 `json:"fetches"`
	Failed  uint64 `json:"failed"`
}

// Cache resolves tracks to artwork through an [services.ArtworkSource].
type Cache struct {
	source  services.ArtworkSource
	entries *lru.Cache[string, entry]
	group   singleflight.Group
	opts    Options
	logger  *log.Logger

	hits, misses, fetches, failed atomic.Uint64
}

// New creates a cache in front of source.
func New(source services.ArtworkSource, opts Options) (*Cache, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: artwork source", shared.ErrMissingArgument)
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	entries, err := lru.New[string, entry](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create artwork cache: %w", err)
	}

	return &Cache{
		source:  source,
		entries: entries,
		opts:    opts,
		logger:  shared.WithLogger(opts.Logger, "component", "canvas"),
	}, nil
}

// Resolve returns art for track, fetching it on a miss.
//
// The fetch is detached from ctx so a caller giving up does not abort it for the others waiting on it;
// the caller still returns [models.NoArtwork] as soon as ctx is done.
func (c *Cache) Resolve(ctx context.Context, track models.Track) models.Artwork {
	if track.ID == "" {
		return models.NoArtwork
	}

	if art, ok := c.lookup(track); ok {
		c.hits.Add(1)
		return art
	}
	c.misses.Add(1)

	ch := c.group.DoChan(track.ID, func() (any, error) {
		if art, ok := c.lookup(track); ok {
			return art, nil
		}
		return c.fetch(context.WithoutCancel(ctx), track)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.NoArtwork
		}
		return res.Val.(models.Artwork)
	case <-ctx.Done():
		return models.NoArtwork
	}
}

func (c *Cache) fetch(ctx context.Context, track models.Track) (models.Artwork, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	c.fetches.Add(1)
	art, err := c.source.Artwork(ctx, track)
	switch {
	case err == nil:
		if art.TrackID == "" {
			art.TrackID = track.ID
		}
	case errors.Is(err, shared.ErrArtworkNotFound):
		art = models.NoArtwork
	default:
		c.failed.Add(1)
		c.logger.Warn("artwork lookup failed", "track", track.ID, "error", err)
		return models.NoArtwork, fmt.Errorf("%w: %w", shared.ErrArtworkUnavailable, err)
	}

	c.entries.Add(track.ID, entry{art: art, fetchedAt: c.opts.Now(), cover: track.CoverURL})
	c.logger.Debug("artwork cached", "track", track.ID, "kind", art.Kind)
	return art, nil
}

// lookup returns a fresh entry. An entry resolved against a different cover is invalidated.
func (c *Cache) lookup(track models.Track) (models.Artwork, bool) {
	e, ok := c.entries.Get(track.ID)
	if !ok {
		return models.NoArtwork, false
	}
	if e.cover != track.CoverURL {
		c.Invalidate(track.ID)
		return models.NoArtwork, false
	}
	if c.opts.TTL > 0 && c.opts.Now().Sub(e.fetchedAt) > c.opts.TTL {
		return models.NoArtwork, false
	}
	return e.art, true
}

// Invalidate drops the entry for trackID so the next Resolve fetches again.
func (c *Cache) Invalidate(trackID string) bool {
	return c.entries.Remove(trackID)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:    c.entries.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Failed:  c.failed.Load(),
	}
}
