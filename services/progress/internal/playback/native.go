package playback

import (
	"context"
	"math"
	"sync"
	"time"
)

// Command is an instruction for the client-side player.
type Command struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
	// Exempt marks the one-time resume seek, which is not a correction.
	Exempt bool `json:"exempt,omitempty"`
}

// CommandSink delivers commands to the client that renders the media element.
type CommandSink interface {
	SendCommand(Command) error
}

// Report is a media element event relayed by the client.
type Report struct {
	Event    string  `json:"event"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// NativeAdapter wraps a natively rendered media element. The element pushes
// its own time updates; seeks travel back through the CommandSink.
type NativeAdapter struct {
	sink CommandSink
	now  func() time.Time

	mu        sync.Mutex
	state     State
	pos       float64
	dur       float64
	events    eventQueue
	ready     chan struct{}
	readyOnce sync.Once
}

func NewNative(sink CommandSink) *NativeAdapter {
	return &NativeAdapter{
		sink:   sink,
		now:    time.Now,
		state:  StateLoading,
		events: newEventQueue(),
		ready:  make(chan struct{}),
	}
}

// Push feeds one element event into the adapter.
func (a *NativeAdapter) Push(r Report) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events.closed {
		return ErrClosed
	}
	if validSeconds(r.Duration) && r.Duration > 0 {
		a.dur = r.Duration
	}
	if validSeconds(r.Position) {
		a.pos = math.Max(0, r.Position)
	}

	at := a.now()
	switch r.Event {
	case "loadedmetadata", "durationchange", "canplay":
		a.markReady()
		return nil
	case "timeupdate", "seeked":
		a.markReady()
		a.events.push(Event{Kind: EventTime, State: a.state, Position: a.pos, Duration: a.dur, At: at})
		return nil
	case "play", "playing":
		a.setState(StatePlaying, at)
	case "pause":
		a.setState(StatePaused, at)
	case "ended":
		a.setState(StateEnded, at)
	}
	return nil
}

func (a *NativeAdapter) setState(s State, at time.Time) {
	a.markReady()
	if a.state == s {
		return
	}
	a.state = s
	a.events.push(Event{Kind: EventState, State: s, Position: a.pos, Duration: a.dur, At: at})
}

func (a *NativeAdapter) markReady() {
	a.readyOnce.Do(func() {
		if a.state == StateLoading {
			a.state = StatePaused
		}
		close(a.ready)
	})
}

func (a *NativeAdapter) Ready(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *NativeAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *NativeAdapter) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

func (a *NativeAdapter) Duration() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dur, a.dur > 0
}

func (a *NativeAdapter) SeekTo(seconds float64) error {
	return a.seek(Command{Type: "seek", Position: seconds})
}

// RestoreTo issues the guard-exempt resume seek.
func (a *NativeAdapter) RestoreTo(seconds float64) error {
	return a.seek(Command{Type: "seek", Position: seconds, Exempt: true})
}

func (a *NativeAdapter) seek(cmd Command) error {
	a.mu.Lock()
	if a.events.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.pos = math.Max(0, cmd.Position)
	a.mu.Unlock()
	return a.sink.SendCommand(cmd)
}

func (a *NativeAdapter) Events() <-chan Event { return a.events.ch }

func (a *NativeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events.close()
	return nil
}

func validSeconds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
