// Package playback hides the two media backends (a native media element that pushes
// time updates and an embedded third-party player that must be polled) behind one
// Adapter contract.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateLoading, StatePlaying, StatePaused, StateEnded:
		return State(s), true
	}
	return "", false
}

type EventKind int

const (
	EventState EventKind = iota
	EventTime
)

// Event is either a state change or a position sample.
type Event struct {
	Kind     EventKind
	State    State
	Position float64
	// Duration is zero while unknown.
	Duration float64
	At       time.Time
}

var ErrClosed = errors.New("playback: adapter closed")

// PlayerError reports a backend that failed to initialise. It is a playback
// failure, never a progress-tracking failure.
type PlayerError struct {
	Backend string
	Err     error
}

func (e *PlayerError) Error() string {
	return fmt.Sprintf("playback: %s player failed to load: %v", e.Backend, e.Err)
}

func (e *PlayerError) Unwrap() error { return e.Err }

// Adapter is the uniform facade over a media backend.
type Adapter interface {
	// Ready blocks until the backend is initialised. Until then State reports loading.
	Ready(ctx context.Context) error
	State() State
	Position() float64
	// Duration returns false while the duration is unknown.
	Duration() (float64, bool)
	SeekTo(seconds float64) error
	// Events is closed by Close.
	Events() <-chan Event
	Close() error
}

const eventBuffer = 64

// eventQueue is a bounded, never-blocking event channel. When full the oldest
// event is dropped; a fresher sample supersedes it.
type eventQueue struct {
	ch     chan Event
	closed bool
}

func newEventQueue() eventQueue {
	return eventQueue{ch: make(chan Event, eventBuffer)}
}

// push must be called with the owning adapter's mutex held.
func (q *eventQueue) push(ev Event) {
	if q.closed {
		return
	}
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// close must be called with the owning adapter's mutex held.
func (q *eventQueue) close() {
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
