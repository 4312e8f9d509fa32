// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
)

// MockPlayer is a test double for [services.Player].
//
// Play, Pause and Seek update the stored playback so later polls observe them, like the remote would.
type MockPlayer struct {
	mu        sync.Mutex
	playback  *models.Playback
	pollErr   error
	cmdErr    error
	playlists []models.Playlist
	calls     []string

	// OnPoll runs after CurrentPlayback has captured its result and before it returns.
	OnPoll func()
}

// NewMockPlayer returns a player reporting pb (nil means no active device).
func NewMockPlayer(pb *models.Playback) *MockPlayer {
	return &MockPlayer{playback: pb}
}

func (m *MockPlayer) SetPlayback(pb *models.Playback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback = pb
}

func (m *MockPlayer) SetPollError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErr = err
}

func (m *MockPlayer) SetCommandError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmdErr = err
}

func (m *MockPlayer) SetPlaylists(p []models.Playlist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists = p
}

// Calls returns the commands issued so far, in order.
func (m *MockPlayer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockPlayer) CurrentPlayback(ctx context.Context) (*models.Playback, error) {
	m.mu.Lock()
	var (
		pb  *models.Playback
		err = m.pollErr
	)
	if m.playback != nil {
		cp := *m.playback
		pb = &cp
	}
	hook := m.OnPoll
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if pb == nil {
		return nil, shared.ErrNoActiveDevice
	}
	return pb, nil
}

func (m *MockPlayer) command(name string, apply func(pb *models.Playback)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.cmdErr != nil {
		return m.cmdErr
	}
	if m.playback != nil && apply != nil {
		apply(m.playback)
	}
	return nil
}

func (m *MockPlayer) Play(ctx context.Context) error {
	return m.command("play", func(pb *models.Playback) { pb.IsPlaying = true })
}

func (m *MockPlayer) Pause(ctx context.Context) error {
	return m.command("pause", func(pb *models.Playback) { pb.IsPlaying = false })
}

func (m *MockPlayer) Seek(ctx context.Context, positionMS int) error {
	return m.command("seek", func(pb *models.Playback) { pb.PositionMS = positionMS })
}

func (m *MockPlayer) Next(ctx context.Context) error     { return m.command("next", nil) }
func (m *MockPlayer) Previous(ctx context.Context) error { return m.command("previous", nil) }

func (m *MockPlayer) TransferPlayback(ctx context.Context, deviceID string) error {
	return m.command("transfer", func(pb *models.Playback) { pb.DeviceID = deviceID })
}

func (m *MockPlayer) PlayPlaylist(ctx context.Context, playlistID string) error {
	return m.command("play_playlist", nil)
}

func (m *MockPlayer) Playlists(ctx context.Context, identity string) ([]models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	return append([]models.Playlist(nil), m.playlists...), nil
}

func (m *MockPlayer) Name() string { return "mock" }

// MockArtwork is a test double for [services.ArtworkSource] that counts fetches.
//
// When Gate is non-nil every fetch blocks until it is closed.
type MockArtwork struct {
	Gate    chan struct{}
	Err     error
	fetches atomic.Int32
}

func (m *MockArtwork) Artwork(ctx context.Context, track models.Track) (models.Artwork, error) {
	m.fetches.Add(1)
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return models.NoArtwork, ctx.Err()
		}
	}
	if m.Err != nil {
		return models.NoArtwork, m.Err
	}
	return models.Artwork{TrackID: track.ID, Kind: models.ArtworkCanvas, URL: "https://canvas/" + track.ID}, nil
}

// Fetches returns how many lookups reached the source.
func (m *MockArtwork) Fetches() int {
	return int(m.fetches.Load())
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
