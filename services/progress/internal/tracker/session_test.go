package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/example/learning-platform/services/progress/internal/catalog"
	"github.com/example/learning-platform/services/progress/internal/playback"
	"github.com/example/learning-platform/services/progress/internal/rewards"
	"github.com/example/learning-platform/services/progress/internal/store"
)

type sinkRecorder struct {
	mu   sync.Mutex
	cmds []playback.Command
}

func (s *sinkRecorder) SendCommand(c playback.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, c)
	return nil
}

func (s *sinkRecorder) snapshot() []playback.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playback.Command(nil), s.cmds...)
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context, userID, subjectID, categoryID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingEmbed struct{}

func (failingEmbed) Load(ctx context.Context) error { return errors.New("script blocked") }
func (failingEmbed) CurrentTime(ctx context.Context) (float64, error) {
	return 0, errors.New("not loaded")
}
func (failingEmbed) Duration(ctx context.Context) (float64, error) { return 0, errors.New("not loaded") }
func (failingEmbed) SeekTo(ctx context.Context, seconds float64) error {
	return errors.New("not loaded")
}
func (failingEmbed) StateChanges() <-chan playback.State { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// push feeds one report and waits until the session drained the event queue,
// so no sample is dropped.
func push(t *testing.T, a *playback.NativeAdapter, r playback.Report) {
	t.Helper()
	if err := a.Push(r); err != nil {
		t.Fatalf("push %s: %v", r.Event, err)
	}
	waitFor(t, "event drain", func() bool { return len(a.Events()) == 0 })
}

type harness struct {
	user, episode uuid.UUID
	ep            catalog.Episode
	progress      *store.InMemoryProgressStore
	gateway       *rewards.InMemoryGateway
	inval         *countingInvalidator
	sink          *sinkRecorder
	adapter       *playback.NativeAdapter
	session       *Session
	notices       chan Notice
}

func newHarness() *harness {
	h := &harness{
		user:     uuid.New(),
		episode:  uuid.New(),
		progress: store.NewInMemoryProgressStore(),
		gateway:  rewards.NewInMemoryGateway(10),
		inval:    &countingInvalidator{},
		sink:     &sinkRecorder{},
		notices:  make(chan Notice, 256),
	}
	h.ep = catalog.Episode{ID: h.episode, SubjectID: uuid.New(), Ordinal: 1, MediaKind: catalog.MediaNative, Published: true}
	h.adapter = playback.NewNative(h.sink)
	h.session = NewSession(Deps{
		Progress:    h.progress,
		Rewards:     h.gateway,
		Invalidator: h.inval,
		Config:      Config{Guard: SeekGuard{Buffer: 2}},
		RetryBase:   time.Millisecond,
	}, h.user, h.ep, uuid.New(), h.adapter, func(n Notice) {
		select {
		case h.notices <- n:
		default:
		}
	})
	return h
}

func (h *harness) start(ctx context.Context) chan error {
	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx) }()
	return done
}

func (h *harness) percent() float64 {
	rec, _ := h.progress.Get(context.Background(), h.user, h.episode)
	if rec == nil {
		return -1
	}
	return rec.WatchedPercent
}

func TestSession_CrossingThresholdGrantsOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)

	push(t, h.adapter, playback.Report{Event: "loadedmetadata", Duration: 100})
	push(t, h.adapter, playback.Report{Event: "play", Duration: 100})
	for pos := 0.0; pos <= 91; pos++ {
		push(t, h.adapter, playback.Report{Event: "timeupdate", Position: pos, Duration: 100})
	}
	waitFor(t, "a save at or over 90%", func() bool {
		if h.percent() >= 90 {
			return true
		}
		_ = h.adapter.Push(playback.Report{Event: "timeupdate", Position: 91.5, Duration: 100})
		return false
	})
	waitFor(t, "grant", func() bool { return h.gateway.Calls() == 1 })

	for pos := 92.0; pos <= 99; pos++ {
		push(t, h.adapter, playback.Report{Event: "timeupdate", Position: pos, Duration: 100})
	}
	push(t, h.adapter, playback.Report{Event: "ended", Position: 100, Duration: 100})
	waitFor(t, "terminal save", func() bool { return h.percent() == 100 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	h.session.WaitBackground()

	if h.gateway.Calls() != 1 || h.gateway.GrantCount() != 1 {
		t.Fatalf("expected exactly one grant call, got calls=%d grants=%d", h.gateway.Calls(), h.gateway.GrantCount())
	}
	if h.inval.count() != 1 {
		t.Fatalf("expected one aggregate invalidation, got %d", h.inval.count())
	}
	rec, _ := h.progress.Get(context.Background(), h.user, h.episode)
	if rec.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}
}

func TestSession_BackfillsCompletedRecordWithoutGrant(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness()
	_, _ = h.progress.Upsert(context.Background(), h.user, h.episode, store.Update{WatchedPercent: 100, LastPositionSeconds: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	push(t, h.adapter, playback.Report{Event: "loadedmetadata", Duration: 100})
	waitFor(t, "backfill grant", func() bool { return h.gateway.Calls() == 1 })
	waitFor(t, "restore seek", func() bool { return len(h.sink.snapshot()) == 1 })

	cmds := h.sink.snapshot()
	if len(cmds) != 1 || !cmds[0].Exempt || cmds[0].Position != 100 {
		t.Fatalf("expected one exempt restore to 100, got %+v", cmds)
	}

	// Re-watching the tail saves >= 90% again but must not grant again.
	push(t, h.adapter, playback.Report{Event: "play", Position: 100, Duration: 100})
	push(t, h.adapter, playback.Report{Event: "timeupdate", Position: 99, Duration: 100})

	cancel()
	<-done
	h.session.WaitBackground()
	if h.gateway.Calls() != 1 {
		t.Fatalf("expected exactly one backfill call, got %d", h.gateway.Calls())
	}
}

func TestSession_CompletedWithGrantDoesNotCallRewards(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness()
	_, _ = h.progress.Upsert(context.Background(), h.user, h.episode, store.Update{WatchedPercent: 95, LastPositionSeconds: 95})
	_, _ = h.gateway.CompleteEpisode(context.Background(), h.user, h.episode)

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	push(t, h.adapter, playback.Report{Event: "loadedmetadata", Duration: 100})
	push(t, h.adapter, playback.Report{Event: "play", Position: 95, Duration: 100})
	push(t, h.adapter, playback.Report{Event: "timeupdate", Position: 96, Duration: 100})
	waitFor(t, "started save", func() bool {
		select {
		case n := <-h.notices:
			return n.Type == "saved"
		default:
			return false
		}
	})
	push(t, h.adapter, playback.Report{Event: "timeupdate", Position: 97, Duration: 100})

	cancel()
	<-done
	h.session.WaitBackground()
	if h.gateway.Calls() != 1 {
		t.Fatalf("expected no further grant calls, got %d total", h.gateway.Calls())
	}
}

func TestSession_ForwardSeekIsCorrected(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)

	push(t, h.adapter, playback.Report{Event: "loadedmetadata", Duration: 300})
	push(t, h.adapter, playback.Report{Event: "play", Duration: 300})
	for pos := 0.0; pos <= 12; pos++ {
		push(t, h.adapter, playback.Report{Event: "timeupdate", Position: pos, Duration: 300})
	}
	push(t, h.adapter, playback.Report{Event: "timeupdate", Position: 200, Duration: 300})

	waitFor(t, "corrective seek", func() bool { return len(h.sink.snapshot()) == 1 })
	cmd := h.sink.snapshot()[0]
	if cmd.Exempt || cmd.Position != 12 {
		t.Fatalf("expected corrective seek to 12, got %+v", cmd)
	}

	cancel()
	<-done
	h.session.WaitBackground()
	rec, _ := h.progress.Get(context.Background(), h.user, h.episode)
	if rec != nil && rec.LastPositionSeconds > 14 {
		t.Fatalf("expected persisted position <= 14, got %v", rec.LastPositionSeconds)
	}
}

func TestSession_CloseFlushesUnsavedProgress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)

	push(t, h.adapter, playback.Report{Event: "loadedmetadata", Duration: 100})
	push(t, h.adapter, playback.Report{Event: "play", Duration: 100})
	push(t, h.adapter, playback.Report{Event: "timeupdate", Position: 0, Duration: 100})
	waitFor(t, "started save", func() bool {
		select {
		case n := <-h.notices:
			return n.Type == "saved"
		default:
			return false
		}
	})
	// Below the percent step and inside the save interval: debounced.
	push(t, h.adapter, playback.Report{Event: "timeupdate", Position: 0.5, Duration: 100})

	cancel()
	<-done
	h.session.WaitBackground()
	rec, _ := h.progress.Get(context.Background(), h.user, h.episode)
	if rec == nil || rec.LastPositionSeconds != 0.5 || rec.WatchedPercent != 0.5 {
		t.Fatalf("expected close to flush 0.5%% at 0.5s, got %+v", rec)
	}
}

func TestSession_PlayerErrorIsReported(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness()
	adapter := playback.NewEmbed(failingEmbed{}, time.Millisecond)
	s := NewSession(Deps{Progress: h.progress, Rewards: h.gateway}, h.user, h.ep, uuid.New(), adapter, func(n Notice) { h.notices <- n })

	err := s.Run(context.Background())
	var perr *playback.PlayerError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PlayerError, got %v", err)
	}
	n := <-h.notices
	if n.Type != "player_error" {
		t.Fatalf("expected player_error notice, got %+v", n)
	}
	if rec, _ := h.progress.Get(context.Background(), h.user, h.episode); rec != nil {
		t.Fatalf("expected no progress written, got %+v", rec)
	}
}

func TestSession_CancelBeforeReady(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}
