package tracker

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/example/learning-platform/services/progress/internal/playback"
	"github.com/example/learning-platform/services/progress/internal/store"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func playing(tr *Tracker) {
	tr.Handle(playback.Event{Kind: playback.EventState, State: playback.StatePlaying, At: t0})
}

func sample(tr *Tracker, pos float64, at time.Time) []Command {
	return tr.Handle(playback.Event{Kind: playback.EventTime, State: playback.StatePlaying, Position: pos, Duration: 100, At: at})
}

func saves(cmds []Command) []SaveCommand {
	var out []SaveCommand
	for _, c := range cmds {
		if s, ok := c.(SaveCommand); ok {
			out = append(out, s)
		}
	}
	return out
}

func seeks(cmds []Command) []SeekCommand {
	var out []SeekCommand
	for _, c := range cmds {
		if s, ok := c.(SeekCommand); ok {
			out = append(out, s)
		}
	}
	return out
}

func grants(cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(GrantCommand); ok {
			n++
		}
	}
	return n
}

func TestSeekGuard_SnapsForwardSeekOnce(t *testing.T) {
	g := SeekGuard{Buffer: 2}
	st := State{MaxWatchedSeconds: 12}

	st, v := g.Observe(st, 10)
	if v.Correct || st.MaxWatchedSeconds != 12 {
		t.Fatalf("expected backward position to pass, got %+v max=%v", v, st.MaxWatchedSeconds)
	}

	st, v = g.Observe(st, 200)
	if !v.Correct || v.SeekTo != 12 || v.Position != 12 {
		t.Fatalf("expected correction to 12, got %+v", v)
	}
	if !st.GuardSuppressed {
		t.Fatalf("expected guard suppressed after correction")
	}

	// The player's reaction to the corrective seek.
	st, v = g.Observe(st, 12)
	if v.Correct || st.GuardSuppressed {
		t.Fatalf("expected follow-up to pass unvalidated, got %+v suppressed=%v", v, st.GuardSuppressed)
	}

	st, v = g.Observe(st, 13)
	if v.Correct || st.MaxWatchedSeconds != 13 {
		t.Fatalf("expected normal advance to 13, got %+v max=%v", v, st.MaxWatchedSeconds)
	}
}

func TestSeekGuard_WithinBufferAdvances(t *testing.T) {
	g := SeekGuard{}
	st, v := g.Observe(State{MaxWatchedSeconds: 10}, 12)
	if v.Correct || st.MaxWatchedSeconds != 12 {
		t.Fatalf("expected 12 within default buffer, got %+v max=%v", v, st.MaxWatchedSeconds)
	}
}

func TestSeekGuard_StaleSampleAfterCorrectionNotPersisted(t *testing.T) {
	g := SeekGuard{Buffer: 2}
	st, _ := g.Observe(State{MaxWatchedSeconds: 12}, 200)
	st, v := g.Observe(st, 201)
	if v.Correct {
		t.Fatalf("expected no second correction")
	}
	if v.Position != 12 || st.MaxWatchedSeconds != 12 {
		t.Fatalf("expected stale sample clamped to 12, got %+v max=%v", v, st.MaxWatchedSeconds)
	}
}

func TestTracker_MaxWatchedMonotonicAndPositionBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := New(Config{Guard: SeekGuard{Buffer: 2}})
	playing(tr)

	prevMax := 0.0
	at := t0
	for i := 0; i < 2000; i++ {
		var pos float64
		switch rng.Intn(4) {
		case 0:
			pos = rng.Float64() * 100
		default:
			pos = tr.State().MaxWatchedSeconds + rng.Float64()*1.5
		}
		at = at.Add(time.Second)
		maxBefore := tr.State().MaxWatchedSeconds
		cmds := sample(tr, pos, at)
		st := tr.State()
		if st.MaxWatchedSeconds < prevMax {
			t.Fatalf("max watched decreased from %v to %v", prevMax, st.MaxWatchedSeconds)
		}
		prevMax = st.MaxWatchedSeconds
		for _, s := range saves(cmds) {
			if s.Update.LastPositionSeconds > maxBefore+2 {
				t.Fatalf("persisted position %v exceeds max %v + buffer", s.Update.LastPositionSeconds, maxBefore)
			}
			tr.SaveDone(s, nil, at)
		}
	}
}

func TestTracker_FirstSampleAfterPlayWritesImmediately(t *testing.T) {
	tr := New(Config{})
	if cmds := sample(tr, 0.3, t0); len(saves(cmds)) != 1 {
		t.Fatalf("expected started write on first sample (time event carries playing), got %v", cmds)
	}
	if tr.State().Phase != PhaseStarted {
		t.Fatalf("expected started, got %s", tr.State().Phase)
	}
}

func TestTracker_NoWriteBeforePlay(t *testing.T) {
	tr := New(Config{})
	cmds := tr.Handle(playback.Event{Kind: playback.EventTime, State: playback.StatePaused, Position: 0, Duration: 100, At: t0})
	if len(saves(cmds)) != 0 || tr.State().Phase != PhaseIdle {
		t.Fatalf("expected no write while idle, got %v phase=%s", cmds, tr.State().Phase)
	}
}

func TestTracker_StartedWriteUsesResumedPercent(t *testing.T) {
	tr := New(Config{})
	cmds := tr.Ready(&store.ProgressRecord{WatchedPercent: 40, LastPositionSeconds: 40}, 100)
	sk := seeks(cmds)
	if len(sk) != 1 || !sk[0].Exempt || sk[0].Position != 40 {
		t.Fatalf("expected one exempt restore to 40, got %v", cmds)
	}
	if tr.State().MaxWatchedSeconds != 40 {
		t.Fatalf("expected max seeded to 40, got %v", tr.State().MaxWatchedSeconds)
	}

	playing(tr)
	sv := saves(sample(tr, 40.5, t0))
	if len(sv) != 1 || sv[0].Update.WatchedPercent != 40 || sv[0].Update.LastPositionSeconds != 40.5 {
		t.Fatalf("expected started write at 40%%/40.5s, got %+v", sv)
	}
}

func TestTracker_NoRestoreForZeroPosition(t *testing.T) {
	tr := New(Config{})
	if cmds := tr.Ready(&store.ProgressRecord{WatchedPercent: 0}, 100); len(cmds) != 0 {
		t.Fatalf("expected no restore, got %v", cmds)
	}
}

func TestTracker_DebounceByPercentAndInterval(t *testing.T) {
	tr := New(Config{SaveInterval: 5 * time.Second, PercentStep: 1})
	playing(tr)
	first := saves(sample(tr, 0, t0))
	tr.SaveDone(first[0], nil, t0)

	// 0.5% after 1s: neither threshold crossed.
	if sv := saves(sample(tr, 0.5, t0.Add(time.Second))); len(sv) != 0 {
		t.Fatalf("expected debounced sample, got %+v", sv)
	}
	// 1.6%: percent step crossed.
	sv := saves(sample(tr, 1.6, t0.Add(2*time.Second)))
	if len(sv) != 1 || sv[0].Update.WatchedPercent != 1.6 {
		t.Fatalf("expected percent-driven save at 1.6, got %+v", sv)
	}
	tr.SaveDone(sv[0], nil, t0.Add(2*time.Second))

	// Small advance but more than 5s since the last write.
	sv = saves(sample(tr, 1.9, t0.Add(8*time.Second)))
	if len(sv) != 1 {
		t.Fatalf("expected interval-driven save, got %+v", sv)
	}
}

func TestTracker_InFlightSaveSuppressesDebouncedWrites(t *testing.T) {
	tr := New(Config{})
	playing(tr)
	saves(sample(tr, 0, t0))
	if sv := saves(sample(tr, 2, t0.Add(time.Second))); len(sv) != 0 {
		t.Fatalf("expected no overlapping save, got %+v", sv)
	}
}

func TestTracker_PercentMonotonicWithinSession(t *testing.T) {
	tr := New(Config{})
	playing(tr)
	tr.SaveDone(saves(sample(tr, 0, t0))[0], nil, t0)
	for i := 1; i <= 50; i++ {
		for _, s := range saves(sample(tr, float64(i), t0.Add(time.Duration(i)*time.Second))) {
			tr.SaveDone(s, nil, t0.Add(time.Duration(i)*time.Second))
		}
	}
	// Rewind to 10s and keep watching past the interval.
	cmds := sample(tr, 10, t0.Add(100*time.Second))
	for _, s := range saves(cmds) {
		if s.Update.WatchedPercent < 50 {
			t.Fatalf("expected persisted percent to stay >= 50, got %v", s.Update.WatchedPercent)
		}
		if s.Update.LastPositionSeconds != 10 {
			t.Fatalf("expected rewound position 10, got %v", s.Update.LastPositionSeconds)
		}
	}
}

func TestTracker_FailedSaveKeepsLastSaved(t *testing.T) {
	tr := New(Config{})
	playing(tr)
	tr.SaveDone(saves(sample(tr, 0, t0))[0], nil, t0)
	sample(tr, 1, t0.Add(time.Second))
	sv := saves(sample(tr, 2, t0.Add(2*time.Second)))
	if len(sv) != 1 {
		t.Fatalf("expected save at 2%%, got %+v", sv)
	}
	tr.SaveDone(sv[0], errors.New("network"), t0.Add(2*time.Second))
	if tr.State().LastSavedPercent != 0 || tr.State().SaveInFlight {
		t.Fatalf("expected failed save to leave lastSaved at 0, got %+v", tr.State())
	}
	if sv := saves(sample(tr, 3.2, t0.Add(3*time.Second))); len(sv) != 1 {
		t.Fatalf("expected retry on next sample, got %+v", sv)
	}
}

func TestTracker_NaturalEndWrites100(t *testing.T) {
	tr := New(Config{})
	playing(tr)
	tr.SaveDone(saves(sample(tr, 0, t0))[0], nil, t0)
	for i := 1; i <= 99; i++ {
		sample(tr, float64(i), t0.Add(time.Duration(i)*time.Second))
	}
	// A save is in flight; the terminal save must still be issued.
	cmds := tr.Handle(playback.Event{Kind: playback.EventState, State: playback.StateEnded, Position: 100, Duration: 100, At: t0.Add(101 * time.Second)})
	sv := saves(cmds)
	if len(sv) != 1 || !sv[0].Terminal || sv[0].Update.WatchedPercent != 100 || sv[0].Update.CompletedAt == nil {
		t.Fatalf("expected terminal 100%% save with completion, got %+v", sv)
	}
	if tr.State().Phase != PhaseCompleted {
		t.Fatalf("expected completed phase, got %s", tr.State().Phase)
	}
	if cmds := sample(tr, 50, t0.Add(200*time.Second)); len(cmds) != 0 {
		t.Fatalf("expected completed session to ignore samples, got %v", cmds)
	}
}

func TestTracker_PauseFlushesUnsavedProgress(t *testing.T) {
	tr := New(Config{SaveInterval: time.Minute, PercentStep: 5})
	playing(tr)
	tr.SaveDone(saves(sample(tr, 0, t0))[0], nil, t0)
	for i := 1; i <= 3; i++ {
		if sv := saves(sample(tr, float64(i), t0.Add(time.Duration(i)*time.Second))); len(sv) != 0 {
			t.Fatalf("expected debounced sample, got %+v", sv)
		}
	}

	pause := playback.Event{Kind: playback.EventState, State: playback.StatePaused, Position: 3, Duration: 100, At: t0.Add(4 * time.Second)}
	sv := saves(tr.Handle(pause))
	if len(sv) != 1 || !sv[0].Terminal || sv[0].Update.WatchedPercent != 3 || sv[0].Update.LastPositionSeconds != 3 {
		t.Fatalf("expected one terminal save at 3%%/3s, got %+v", sv)
	}
	if sv[0].Update.CompletedAt != nil {
		t.Fatalf("expected no completion below threshold, got %v", sv[0].Update.CompletedAt)
	}
	tr.SaveDone(sv[0], nil, pause.At)

	if sv := saves(tr.Handle(pause)); len(sv) != 0 {
		t.Fatalf("expected nothing to flush after saved pause, got %+v", sv)
	}
}

func TestTracker_FlushSkipsIdleAndCompleted(t *testing.T) {
	tr := New(Config{})
	tr.Ready(&store.ProgressRecord{WatchedPercent: 40, LastPositionSeconds: 40}, 100)
	if cmds := tr.Flush(t0); len(cmds) != 0 {
		t.Fatalf("expected no flush before playback, got %v", cmds)
	}

	playing(tr)
	sample(tr, 40.5, t0)
	tr.Handle(playback.Event{Kind: playback.EventState, State: playback.StateEnded, Position: 41, Duration: 100, At: t0.Add(time.Minute)})
	if tr.State().Phase != PhaseCompleted {
		t.Fatalf("expected completed phase, got %s", tr.State().Phase)
	}
	if cmds := tr.Flush(t0.Add(2 * time.Minute)); len(cmds) != 0 {
		t.Fatalf("expected no flush after natural end, got %v", cmds)
	}
}

func TestTracker_FailedGrantAfterEndWaitsForNextSession(t *testing.T) {
	tr := New(Config{})
	playing(tr)
	tr.SaveDone(saves(sample(tr, 0, t0))[0], nil, t0)
	for i := 1; i <= 99; i++ {
		sample(tr, float64(i), t0.Add(time.Duration(i)*time.Second))
	}
	end := tr.Handle(playback.Event{Kind: playback.EventState, State: playback.StateEnded, Position: 100, Duration: 100, At: t0.Add(time.Minute)})
	sv := saves(end)
	if grants(tr.SaveDone(sv[0], nil, t0.Add(time.Minute))) != 1 {
		t.Fatal("expected grant after terminal save")
	}
	tr.GrantDone(errors.New("rewards down"))

	// The session is over; further events never retry the grant.
	if cmds := sample(tr, 100, t0.Add(2*time.Minute)); len(cmds) != 0 {
		t.Fatalf("expected completed session to stay quiet, got %v", cmds)
	}

	// The next session's startup check backfills it.
	next := New(Config{})
	done := t0.Add(time.Minute)
	cmds := next.Reconcile(&store.ProgressRecord{WatchedPercent: 100, CompletedAt: &done}, false)
	if grants(cmds) != 1 {
		t.Fatalf("expected backfill on next session, got %v", cmds)
	}
}

func TestTracker_SkipToEndIsNotCompletion(t *testing.T) {
	tr := New(Config{Guard: SeekGuard{Buffer: 2}})
	playing(tr)
	for i := 0; i <= 10; i++ {
		sample(tr, float64(i), t0.Add(time.Duration(i)*time.Second))
	}
	cmds := tr.Handle(playback.Event{Kind: playback.EventState, State: playback.StateEnded, Position: 100, Duration: 100, At: t0.Add(time.Second)})
	if len(saves(cmds)) != 0 {
		t.Fatalf("expected no terminal save, got %v", cmds)
	}
	sk := seeks(cmds)
	if len(sk) != 1 || sk[0].Position != 10 {
		t.Fatalf("expected correction to 10, got %v", cmds)
	}
	if tr.State().Phase == PhaseCompleted {
		t.Fatalf("expected session not completed")
	}
}

func TestGate_91GrantsOnce95DoesNot(t *testing.T) {
	tr := New(Config{})
	playing(tr)
	tr.SaveDone(saves(sample(tr, 0, t0))[0], nil, t0)

	cmds := tr.SaveDone(SaveCommand{Update: store.Update{WatchedPercent: 91}}, nil, t0)
	if grants(cmds) != 1 {
		t.Fatalf("expected one grant at 91%%, got %v", cmds)
	}
	tr.GrantDone(nil)
	cmds = tr.SaveDone(SaveCommand{Update: store.Update{WatchedPercent: 95}}, nil, t0)
	if grants(cmds) != 0 {
		t.Fatalf("expected no grant at 95%%, got %v", cmds)
	}
}

func TestGate_NoGrantOnFailedSave(t *testing.T) {
	tr := New(Config{})
	if cmds := tr.SaveDone(SaveCommand{Update: store.Update{WatchedPercent: 95}}, errors.New("db"), t0); grants(cmds) != 0 {
		t.Fatalf("expected no grant for a failed save, got %v", cmds)
	}
}

func TestGate_FailedGrantRearms(t *testing.T) {
	tr := New(Config{})
	if grants(tr.SaveDone(SaveCommand{Update: store.Update{WatchedPercent: 90}}, nil, t0)) != 1 {
		t.Fatalf("expected grant at exactly 90%%")
	}
	tr.GrantDone(errors.New("rewards down"))
	if tr.State().CompletionTriggered {
		t.Fatalf("expected flag reset after failed grant")
	}
	if grants(tr.SaveDone(SaveCommand{Update: store.Update{WatchedPercent: 92}}, nil, t0)) != 1 {
		t.Fatalf("expected retry on next qualifying save")
	}
}

func TestGate_BelowThreshold(t *testing.T) {
	tr := New(Config{})
	if grants(tr.SaveDone(SaveCommand{Update: store.Update{WatchedPercent: 89.9}}, nil, t0)) != 0 {
		t.Fatalf("expected no grant below 90%%")
	}
}

func TestReconcile_CompletedWithoutGrantBackfillsOnce(t *testing.T) {
	now := t0
	prior := &store.ProgressRecord{WatchedPercent: 100, CompletedAt: &now}
	tr := New(Config{})
	cmds := tr.Reconcile(prior, false)
	if len(cmds) != 1 {
		t.Fatalf("expected one backfill, got %v", cmds)
	}
	if g, ok := cmds[0].(GrantCommand); !ok || !g.Backfill {
		t.Fatalf("expected backfill grant, got %v", cmds[0])
	}
	if grants(tr.SaveDone(SaveCommand{Update: store.Update{WatchedPercent: 100}}, nil, t0)) != 0 {
		t.Fatalf("expected no threshold grant after backfill")
	}
}

func TestReconcile_CompletedWithGrantSetsFlag(t *testing.T) {
	prior := &store.ProgressRecord{WatchedPercent: 95}
	tr := New(Config{})
	if cmds := tr.Reconcile(prior, true); len(cmds) != 0 {
		t.Fatalf("expected no backfill, got %v", cmds)
	}
	if !tr.State().CompletionTriggered {
		t.Fatalf("expected flag set")
	}
}

func TestReconcile_IncompleteIsNoop(t *testing.T) {
	tr := New(Config{})
	if cmds := tr.Reconcile(&store.ProgressRecord{WatchedPercent: 50}, false); len(cmds) != 0 {
		t.Fatalf("expected no backfill for incomplete record, got %v", cmds)
	}
	if cmds := tr.Reconcile(nil, false); len(cmds) != 0 {
		t.Fatalf("expected no backfill without record, got %v", cmds)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := map[int]time.Duration{0: time.Second, 1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 10: time.Minute}
	for attempt, want := range cases {
		if got := retryDelay(attempt, time.Second); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}
