package tracker

import (
	"math"
	"time"

	"github.com/example/learning-platform/services/progress/internal/playback"
	"github.com/example/learning-platform/services/progress/internal/store"
)

const (
	DefaultSaveInterval = 5 * time.Second
	DefaultPercentStep  = 1.0
)

type Config struct {
	SaveInterval time.Duration
	// PercentStep is the percent delta that forces a save before SaveInterval elapses.
	PercentStep float64
	Guard       SeekGuard
	Gate        Gate
}

func (c Config) withDefaults() Config {
	if c.SaveInterval <= 0 {
		c.SaveInterval = DefaultSaveInterval
	}
	if c.PercentStep <= 0 {
		c.PercentStep = DefaultPercentStep
	}
	return c
}

// Command is an effect requested by the Tracker.
type Command interface{ command() }

type SeekCommand struct {
	Position float64
	// Exempt marks the resume restore, which the guard does not see.
	Exempt bool
}

type SaveCommand struct {
	Update store.Update
	// Terminal saves are sent regardless of debounce and in-flight saves.
	Terminal bool
}

type GrantCommand struct {
	Backfill bool
}

func (SeekCommand) command()  {}
func (SaveCommand) command()  {}
func (GrantCommand) command() {}

// Tracker holds one session's State and applies playback events to it.
// It is not safe for concurrent use.
type Tracker struct {
	cfg Config
	st  State
}

func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg.withDefaults()}
}

func (t *Tracker) State() State { return t.st }

// Reconcile applies the startup completion check.
func (t *Tracker) Reconcile(prior *store.ProgressRecord, hasGrant bool) []Command {
	st, fire := t.cfg.Gate.Reconcile(t.st, prior, hasGrant)
	t.st = st
	if fire {
		return []Command{GrantCommand{Backfill: true}}
	}
	return nil
}

// Ready seeds the session from prior progress once the adapter is ready. A
// saved position yields one guard-exempt restore seek.
func (t *Tracker) Ready(prior *store.ProgressRecord, duration float64) []Command {
	if duration > 0 {
		t.st.Duration = duration
	}
	if prior == nil {
		return nil
	}
	t.st.Percent = prior.WatchedPercent
	t.st.LastSavedPercent = prior.WatchedPercent
	pos := prior.LastPositionSeconds
	if pos <= 0 {
		return nil
	}
	if t.st.Duration > 0 {
		pos = math.Min(pos, t.st.Duration)
	}
	t.st.MaxWatchedSeconds = math.Max(t.st.MaxWatchedSeconds, pos)
	t.st.Position = pos
	t.st.LastSavedPosition = pos
	return []Command{SeekCommand{Position: pos, Exempt: true}}
}

// Handle applies one adapter event.
func (t *Tracker) Handle(ev playback.Event) []Command {
	if ev.Duration > 0 {
		t.st.Duration = ev.Duration
	}
	if t.st.Phase == PhaseCompleted {
		return nil
	}
	switch ev.Kind {
	case playback.EventState:
		return t.onState(ev)
	case playback.EventTime:
		if ev.State == playback.StatePlaying {
			t.st.Playing = true
		}
		return t.onSample(ev.Position, ev.At)
	}
	return nil
}

func (t *Tracker) onState(ev playback.Event) []Command {
	switch ev.State {
	case playback.StatePlaying:
		t.st.Playing = true
		if t.st.Phase == PhaseStarted || t.st.Phase == PhasePaused {
			t.st.Phase = PhasePlaying
		}
	case playback.StatePaused:
		t.st.Playing = false
		if t.st.Phase != PhaseIdle {
			t.st.Phase = PhasePaused
			return t.Flush(ev.At)
		}
	case playback.StateEnded:
		return t.onEnded(ev.Position, ev.At)
	}
	return nil
}

func (t *Tracker) onSample(pos float64, at time.Time) []Command {
	st, v := t.cfg.Guard.Observe(t.st, pos)
	t.st = st
	t.st.Position = v.Position

	var cmds []Command
	if v.Correct {
		cmds = append(cmds, SeekCommand{Position: v.SeekTo})
	}
	if !t.st.Playing {
		return cmds
	}

	if t.st.Phase == PhaseIdle {
		t.st.Phase = PhaseStarted
		return append(cmds, t.save(t.st.Percent, v.Position, at, false))
	}
	t.st.Phase = PhasePlaying

	if t.st.Duration <= 0 {
		return cmds
	}
	pct := clampPercent(v.Position / t.st.Duration * 100)
	t.st.Percent = math.Max(t.st.Percent, pct)
	if t.st.SaveInFlight {
		return cmds
	}
	if math.Abs(t.st.Percent-t.st.LastSavedPercent) > t.cfg.PercentStep || at.Sub(t.st.LastSaveAt) > t.cfg.SaveInterval {
		cmds = append(cmds, t.save(t.st.Percent, v.Position, at, false))
	}
	return cmds
}

// onEnded treats a natural end as 100%. An end reached by skipping past the
// guard window is treated as a pause and corrected instead.
func (t *Tracker) onEnded(pos float64, at time.Time) []Command {
	t.st.Playing = false
	if t.cfg.Guard.Illegal(t.st, pos) {
		st, v := t.cfg.Guard.Observe(t.st, pos)
		t.st = st
		t.st.Position = v.Position
		if t.st.Phase != PhaseIdle {
			t.st.Phase = PhasePaused
		}
		if v.Correct {
			return []Command{SeekCommand{Position: v.SeekTo}}
		}
		return nil
	}
	t.st.MaxWatchedSeconds = math.Max(t.st.MaxWatchedSeconds, pos)
	t.st.Position = pos
	t.st.Percent = 100
	t.st.Phase = PhaseCompleted
	cmd := t.save(100, pos, at, true)
	return []Command{cmd}
}

// Flush issues a terminal save of progress not yet persisted. It runs on pause
// and when the session closes; nothing is flushed before playback has started
// or after the natural end.
func (t *Tracker) Flush(at time.Time) []Command {
	if t.st.Phase == PhaseIdle || t.st.Phase == PhaseCompleted {
		return nil
	}
	if t.st.Percent == t.st.LastSavedPercent && t.st.Position == t.st.LastSavedPosition {
		return nil
	}
	return []Command{t.save(t.st.Percent, t.st.Position, at, true)}
}

func (t *Tracker) save(pct, pos float64, at time.Time, terminal bool) SaveCommand {
	t.st.SaveInFlight = true
	u := store.Update{WatchedPercent: pct, LastPositionSeconds: pos, ClientTsMs: at.UnixMilli()}
	if pct >= store.CompletionThreshold {
		ts := at.UTC()
		u.CompletedAt = &ts
	}
	return SaveCommand{Update: u, Terminal: terminal}
}

// SaveDone applies the outcome of a save. A failed save is dropped; the next
// sample retries.
func (t *Tracker) SaveDone(cmd SaveCommand, err error, at time.Time) []Command {
	t.st.SaveInFlight = false
	if err != nil {
		return nil
	}
	t.st.LastSavedPercent = math.Max(t.st.LastSavedPercent, cmd.Update.WatchedPercent)
	t.st.LastSavedPosition = cmd.Update.LastPositionSeconds
	t.st.LastSaveAt = at
	st, fire := t.cfg.Gate.OnSaved(t.st, cmd.Update.WatchedPercent)
	t.st = st
	if fire {
		return []Command{GrantCommand{}}
	}
	return nil
}

func (t *Tracker) GrantDone(err error) {
	t.st = t.cfg.Gate.OnGrantResult(t.st, err)
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}
