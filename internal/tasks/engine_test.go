package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/spotbridge/internal/models"
	"github.com/desertthunder/spotbridge/internal/shared"
	tu "github.com/desertthunder/spotbridge/internal/testing"
)

type recorder struct {
	mu     sync.Mutex
	states []models.PlaybackState
}

func (r *recorder) Broadcast(st models.PlaybackState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) all() []models.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PlaybackState(nil), r.states...)
}

type authorizer struct{ err error }

func (a *authorizer) Authorize(string, models.Command) error { return a.err }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubResolver struct {
	gate chan struct{}
}

func (s *stubResolver) Resolve(ctx context.Context, track models.Track) models.Artwork {
	if s.gate != nil {
		<-s.gate
	}
	return models.Artwork{TrackID: track.ID, Kind: models.ArtworkCanvas, URL: "https://canvas/" + track.ID}
}

var trackA = models.Track{ID: "A", URI: "spotify:track:A", Title: "Song A", Artists: []string{"X"}, DurationMS: 200000}
var trackB = models.Track{ID: "B", URI: "spotify:track:B", Title: "Song B", Artists: []string{"Y"}, DurationMS: 180000}

func playing(track models.Track, pos int) *models.Playback {
	return &models.Playback{Track: track, PositionMS: pos, IsPlaying: true, DeviceID: "dev1", DeviceName: "Desk"}
}

type fixture struct {
	player *tu.MockPlayer
	access *authorizer
	out    *recorder
	clock  *fakeClock
	engine *Engine
}

func newFixture(t *testing.T, art ArtworkResolver, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		player: tu.NewMockPlayer(nil),
		access: &authorizer{},
		out:    &recorder{},
		clock:  newFakeClock(),
	}
	opts.Now = f.clock.Now
	if opts.DriftTolerance == 0 {
		opts.DriftTolerance = DefaultDriftTolerance
	}
	f.engine = NewEngine(f.player, f.access, art, f.out, opts)
	return f
}

func (f *fixture) poll(t *testing.T) {
	t.Helper()
	if err := f.engine.Poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
}

func TestEngineScenario(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	f.player.SetPlayback(playing(trackA, 1000))
	f.poll(t)

	st := f.engine.State()
	if st.Version != 1 || st.Status != models.StatusPlaying || st.PositionMS != 1000 || st.Track.ID != "A" {
		t.Fatalf("unexpected first state %+v", st)
	}

	st, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandPause})
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if st.Version != 2 || st.IsPlaying || st.Status != models.StatusPaused {
		t.Fatalf("expected paused v2, got %+v", st)
	}

	f.player.SetPlayback(&models.Playback{Track: trackA, PositionMS: 1005, DeviceID: "dev1", DeviceName: "Desk"})
	f.poll(t)
	if v := f.engine.State().Version; v != 2 {
		t.Errorf("poll without material change bumped version to %d", v)
	}

	f.player.SetPlayback(nil)
	f.poll(t)
	st = f.engine.State()
	if st.Version != 3 || st.Status != models.StatusIdle {
		t.Fatalf("expected idle v3, got %+v", st)
	}

	_, err = f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandPlay})
	if !errors.Is(err, shared.ErrRemoteRejected) {
		t.Errorf("expected ErrRemoteRejected while idle, got %v", err)
	}

	if calls := f.player.Calls(); len(calls) != 1 || calls[0] != "pause" {
		t.Errorf("expected only the pause to reach the remote, got %v", calls)
	}

	var versions []uint64
	for _, s := range f.out.all() {
		versions = append(versions, s.Version)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[1] != 2 || versions[2] != 3 {
		t.Errorf("expected broadcast versions [1 2 3], got %v", versions)
	}
}

func TestEnginePoll(t *testing.T) {
	t.Run("identical polls do not bump the version", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, 1000))

		for range 3 {
			f.poll(t)
		}
		if v := f.engine.State().Version; v != 1 {
			t.Errorf("expected version 1, got %d", v)
		}
		if n := len(f.out.all()); n != 1 {
			t.Errorf("expected one broadcast, got %d", n)
		}
	})

	t.Run("drift within tolerance keeps the extrapolated position", func(t *testing.T) {
		f := newFixture(t, nil, Options{DriftTolerance: 2500 * time.Millisecond})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)

		f.clock.Advance(2 * time.Second)
		f.player.SetPlayback(playing(trackA, 3500))
		f.poll(t)
		if v := f.engine.State().Version; v != 1 {
			t.Fatalf("jitter should not produce a new version, got %d", v)
		}

		pb := playing(trackA, 3400)
		pb.DeviceID = "dev2"
		f.player.SetPlayback(pb)
		f.poll(t)

		st := f.engine.State()
		if st.Version != 2 || st.DeviceID != "dev2" {
			t.Fatalf("expected device change in v2, got %+v", st)
		}
		if st.PositionMS != 3000 {
			t.Errorf("expected extrapolated anchor 3000, got %d", st.PositionMS)
		}
	})

	t.Run("drift beyond tolerance accepts the polled position", func(t *testing.T) {
		f := newFixture(t, nil, Options{DriftTolerance: 2500 * time.Millisecond})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)

		f.player.SetPlayback(playing(trackA, 60000))
		f.poll(t)

		st := f.engine.State()
		if st.Version != 2 || st.PositionMS != 60000 {
			t.Errorf("expected seek to 60000 in v2, got %+v", st)
		}
	})

	t.Run("track change is material", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)

		f.player.SetPlayback(playing(trackB, 1000))
		f.poll(t)

		st := f.engine.State()
		if st.Version != 2 || st.Track.ID != "B" {
			t.Errorf("expected track B in v2, got %+v", st)
		}
	})

	t.Run("position is clamped to duration", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, trackA.DurationMS+5000))
		f.poll(t)

		if pos := f.engine.State().PositionMS; pos != trackA.DurationMS {
			t.Errorf("expected clamped position %d, got %d", trackA.DurationMS, pos)
		}
	})

	t.Run("sustained failure disconnects and recovers", func(t *testing.T) {
		updates := make(chan Update, 32)
		f := newFixture(t, nil, Options{DisconnectAfter: 3, Updates: updates})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)

		f.player.SetPollError(shared.NewRemoteError(http.StatusBadGateway, errors.New("bad gateway")))
		for i := 1; i <= 3; i++ {
			err := f.engine.Poll(context.Background())
			if !errors.Is(err, shared.ErrRemoteUnavailable) {
				t.Fatalf("poll %d: expected ErrRemoteUnavailable, got %v", i, err)
			}
			st := f.engine.State()
			if i < 3 && st.Status != models.StatusPlaying {
				t.Errorf("poll %d: state should hold until the limit, got %v", i, st.Status)
			}
		}

		if st := f.engine.State(); st.Status != models.StatusDisconnected || st.Version != 2 {
			t.Fatalf("expected disconnected v2, got %+v", st)
		}

		_ = f.engine.Poll(context.Background())
		if v := f.engine.State().Version; v != 2 {
			t.Errorf("repeated failures should not bump the version, got %d", v)
		}

		f.player.SetPollError(nil)
		f.poll(t)
		if st := f.engine.State(); st.Status != models.StatusPlaying || st.Version != 3 {
			t.Errorf("expected playing v3 after recovery, got %+v", st)
		}

		close(updates)
		seen := map[UpdateKind]bool{}
		for u := range updates {
			seen[u.Kind] = true
		}
		for _, k := range []UpdateKind{PollFailed, Disconnected, Reconnected, StateChanged} {
			if !seen[k] {
				t.Errorf("expected %s update", k)
			}
		}
	})

	t.Run("backoff doubles up to the cap", func(t *testing.T) {
		f := newFixture(t, nil, Options{PollInterval: time.Second, MaxBackoff: 4 * time.Second})

		tc := map[int]time.Duration{0: time.Second, 1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 10: 4 * time.Second}
		for failures, want := range tc {
			f.engine.mu.Lock()
			f.engine.failures = failures
			f.engine.mu.Unlock()
			if got := f.engine.nextDelay(); got != want {
				t.Errorf("failures=%d: expected %v, got %v", failures, want, got)
			}
		}
	})

	t.Run("stale poll is discarded", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)

		var once sync.Once
		f.player.OnPoll = func() {
			once.Do(func() {
				if _, err := f.engine.ApplyCommand(context.Background(), "alice", models.Command{Kind: models.CommandPause}); err != nil {
					t.Errorf("pause failed: %v", err)
				}
			})
		}
		f.poll(t)

		st := f.engine.State()
		if st.IsPlaying || st.Version != 2 {
			t.Errorf("stale poll overwrote the command: %+v", st)
		}

		f.player.OnPoll = nil
		f.poll(t)
		if st := f.engine.State(); st.IsPlaying || st.Version != 2 {
			t.Errorf("follow-up poll should agree with the command, got %+v", st)
		}
	})
}

func TestEngineCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthorized has no side effect", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)
		f.access.err = shared.ErrUnauthorized

		_, err := f.engine.ApplyCommand(ctx, "mallory", models.Command{Kind: models.CommandPause})
		if !errors.Is(err, shared.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if calls := f.player.Calls(); len(calls) != 0 {
			t.Errorf("expected no remote calls, got %v", calls)
		}
		if v := f.engine.State().Version; v != 1 {
			t.Errorf("expected version unchanged, got %d", v)
		}
	})

	t.Run("remote failure leaves state unchanged", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)
		f.player.SetCommandError(shared.NewRemoteError(http.StatusServiceUnavailable, errors.New("down")))

		_, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandPause})
		if !errors.Is(err, shared.ErrRemoteRejected) {
			t.Errorf("expected ErrRemoteRejected, got %v", err)
		}
		if !shared.IsRetryable(err) {
			t.Errorf("expected retry hint to survive wrapping: %v", err)
		}
		if st := f.engine.State(); st.Version != 1 || !st.IsPlaying {
			t.Errorf("expected unchanged state, got %+v", st)
		}
	})

	t.Run("invalid command", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		_, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandSeek, PositionMS: -5})
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("seek re-anchors", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)

		st, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandSeek, PositionMS: 90000})
		if err != nil {
			t.Fatalf("seek failed: %v", err)
		}
		if st.PositionMS != 90000 || st.Version != 2 || !st.AnchoredAt.Equal(f.clock.Now()) {
			t.Errorf("unexpected state after seek %+v", st)
		}
	})

	t.Run("next resets position and requests a poll", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.player.SetPlayback(playing(trackA, 50000))
		f.poll(t)

		st, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandNext})
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if st.PositionMS != 0 {
			t.Errorf("expected position 0, got %d", st.PositionMS)
		}
		if len(f.engine.wake) != 1 {
			t.Error("expected an immediate poll to be requested")
		}
	})

	t.Run("transfer is allowed while idle", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		f.poll(t)

		if _, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandPause}); !errors.Is(err, shared.ErrRemoteRejected) {
			t.Errorf("expected pause to be refused while idle, got %v", err)
		}

		st, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandTransfer, DeviceID: "dev9"})
		if err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
		if st.Status != models.StatusIdle {
			t.Errorf("transfer from idle should wait for the next poll, got %v", st.Status)
		}
		if calls := f.player.Calls(); len(calls) != 1 || calls[0] != "transfer" {
			t.Errorf("expected transfer call, got %v", calls)
		}
	})

	t.Run("idle poll limit", func(t *testing.T) {
		for _, limit := range []int{1, 3} {
			t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
				f := newFixture(t, nil, Options{IdlePollLimit: limit})
				play := models.Command{Kind: models.CommandPlay}

				for n := 1; n <= limit+1; n++ {
					f.poll(t)
					_, err := f.engine.ApplyCommand(ctx, "alice", play)
					if n >= limit {
						if !errors.Is(err, shared.ErrNoActiveDevice) {
							t.Errorf("after %d idle polls: expected ErrNoActiveDevice, got %v", n, err)
						}
						continue
					}
					if err != nil {
						t.Errorf("after %d idle polls: expected play to pass, got %v", n, err)
					}
				}

				f.player.SetPlayback(playing(trackA, 1000))
				f.poll(t)
				if _, err := f.engine.ApplyCommand(ctx, "alice", play); err != nil {
					t.Errorf("expected play to pass with an active device, got %v", err)
				}

				f.player.SetPlayback(nil)
				f.poll(t)
				_, err := f.engine.ApplyCommand(ctx, "alice", play)
				if blocked := errors.Is(err, shared.ErrNoActiveDevice); blocked != (limit == 1) {
					t.Errorf("one idle poll after recovery: blocked=%v, err=%v", blocked, err)
				}
			})
		}
	})

	t.Run("commands before the first poll are allowed", func(t *testing.T) {
		f := newFixture(t, nil, Options{})
		if _, err := f.engine.ApplyCommand(ctx, "alice", models.Command{Kind: models.CommandPlay}); err != nil {
			t.Errorf("expected play to pass before any poll, got %v", err)
		}
	})
}

func TestEngineArtwork(t *testing.T) {
	t.Run("attaches resolved art", func(t *testing.T) {
		f := newFixture(t, &stubResolver{}, Options{})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)
		f.engine.Wait()

		st := f.engine.State()
		if st.Version != 2 || st.Canvas == nil || st.Canvas.URL != "https://canvas/A" {
			t.Fatalf("expected canvas in v2, got %+v", st)
		}

		f.clock.Advance(time.Second)
		f.poll(t)
		if st := f.engine.State(); st.Canvas == nil {
			t.Error("canvas should survive polls of the same track")
		}
	})

	t.Run("metadata correction keeps art", func(t *testing.T) {
		f := newFixture(t, &stubResolver{}, Options{})
		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)
		f.engine.Wait()

		renamed := trackA
		renamed.Title = "Song A (Remastered)"
		f.player.SetPlayback(playing(renamed, 1000))
		f.poll(t)
		f.engine.Wait()

		st := f.engine.State()
		if st.Track.Title != renamed.Title {
			t.Fatalf("expected corrected title, got %q", st.Track.Title)
		}
		if st.Canvas == nil || st.Canvas.TrackID != "A" {
			t.Errorf("expected A's art to survive, got %+v", st.Canvas)
		}
	})

	t.Run("late art for an old track is dropped", func(t *testing.T) {
		gate := make(chan struct{})
		f := newFixture(t, &stubResolver{gate: gate}, Options{})

		f.player.SetPlayback(playing(trackA, 1000))
		f.poll(t)
		f.player.SetPlayback(playing(trackB, 0))
		f.poll(t)

		close(gate)
		f.engine.Wait()

		st := f.engine.State()
		if st.Track.ID != "B" || st.Canvas == nil || st.Canvas.TrackID != "B" {
			t.Errorf("expected only B's art attached, got %+v", st)
		}
		if st.Version != 3 {
			t.Errorf("expected exactly one canvas version, got %d", st.Version)
		}
	})
}

func TestEngineOrdering(t *testing.T) {
	f := newFixture(t, &stubResolver{}, Options{})
	f.player.SetPlayback(playing(trackA, 1000))
	f.poll(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.clock.Advance(10 * time.Millisecond)
			_ = f.engine.Poll(context.Background())
		}()
		go func() {
			defer wg.Done()
			_, _ = f.engine.ApplyCommand(context.Background(), "alice", models.Command{Kind: models.CommandSeek, PositionMS: i * 1000})
		}()
	}
	wg.Wait()
	f.engine.Wait()

	states := f.out.all()
	for i := 1; i < len(states); i++ {
		if states[i].Version != states[i-1].Version+1 {
			t.Errorf("versions not consecutive at %d: %d then %d", i, states[i-1].Version, states[i].Version)
		}
		if states[i].AnchoredAt.Before(states[i-1].AnchoredAt) {
			t.Errorf("anchor moved backwards at version %d", states[i].Version)
		}
	}
}

func TestEngineCurrent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.player.SetPlayback(playing(trackA, 1000))
	f.poll(t)

	f.clock.Advance(1500 * time.Millisecond)
	if pos := f.engine.Current().PositionMS; pos != 2500 {
		t.Errorf("expected extrapolated 2500, got %d", pos)
	}

	f.clock.Advance(time.Hour)
	if pos := f.engine.Current().PositionMS; pos != trackA.DurationMS {
		t.Errorf("expected position clamped to %d, got %d", trackA.DurationMS, pos)
	}
}

func TestEngineRun(t *testing.T) {
	player := tu.NewMockPlayer(playing(trackA, 1000))
	out := &recorder{}
	e := NewEngine(player, nil, nil, out, Options{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for e.State().Version == 0 {
		select {
		case <-deadline:
			t.Fatal("loop never polled")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}
