package playback

import (
	"context"
	"math"
	"sync"
	"time"
)

// EmbedPlayer is a third-party player embedded in the client. It exposes no
// continuous time events, so position must be queried.
type EmbedPlayer interface {
	// Load injects the player script and constructs the player.
	Load(ctx context.Context) error
	CurrentTime(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	SeekTo(ctx context.Context, seconds float64) error
	// StateChanges is closed when the player goes away.
	StateChanges() <-chan State
}

const (
	DefaultPollInterval = time.Second
	queryTimeout        = 3 * time.Second
)

// EmbedAdapter polls an EmbedPlayer on a fixed interval while it reports
// playing. The ticker is stopped on pause, end and Close.
type EmbedAdapter struct {
	player   EmbedPlayer
	interval time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready    chan struct{}
	readyErr error

	mu         sync.Mutex
	state      State
	pos        float64
	dur        float64
	events     eventQueue
	stopPoll   context.CancelFunc
	pollDone   chan struct{}
	lastSample time.Time
}

func NewEmbed(player EmbedPlayer, interval time.Duration) *EmbedAdapter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &EmbedAdapter{
		player:   player,
		interval: interval,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		state:    StateLoading,
		events:   newEventQueue(),
	}
	a.wg.Add(1)
	go a.init()
	return a
}

func (a *EmbedAdapter) init() {
	defer a.wg.Done()
	if err := a.player.Load(a.ctx); err != nil {
		a.readyErr = &PlayerError{Backend: "embed", Err: err}
		close(a.ready)
		return
	}
	qctx, cancel := context.WithTimeout(a.ctx, queryTimeout)
	dur, err := a.player.Duration(qctx)
	cancel()

	a.mu.Lock()
	if err == nil && validSeconds(dur) && dur > 0 {
		a.dur = dur
	}
	if a.state == StateLoading {
		a.state = StatePaused
	}
	a.mu.Unlock()
	close(a.ready)

	a.watchStates()
}

func (a *EmbedAdapter) watchStates() {
	changes := a.player.StateChanges()
	for {
		select {
		case <-a.ctx.Done():
			return
		case s, ok := <-changes:
			if !ok {
				return
			}
			a.applyState(s)
		}
	}
}

func (a *EmbedAdapter) applyState(s State) {
	switch s {
	case StatePlaying:
		a.startPolling()
	case StatePaused, StateEnded:
		a.stopPolling()
		// Final sample so the position at pause or end is not a full interval stale.
		a.sample()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == s {
		return
	}
	a.state = s
	a.events.push(Event{Kind: EventState, State: s, Position: a.pos, Duration: a.dur, At: a.now()})
}

func (a *EmbedAdapter) startPolling() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopPoll != nil || a.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	done := make(chan struct{})
	a.stopPoll = cancel
	a.pollDone = done
	a.wg.Add(1)
	go a.poll(ctx, done)
}

func (a *EmbedAdapter) stopPolling() {
	a.mu.Lock()
	cancel, done := a.stopPoll, a.pollDone
	a.stopPoll, a.pollDone = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *EmbedAdapter) poll(ctx context.Context, done chan struct{}) {
	defer a.wg.Done()
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sample()
		}
	}
}

func (a *EmbedAdapter) sample() {
	qctx, cancel := context.WithTimeout(a.ctx, queryTimeout)
	defer cancel()
	pos, err := a.player.CurrentTime(qctx)
	if err != nil || !validSeconds(pos) {
		return
	}
	a.mu.Lock()
	needDur := a.dur <= 0
	a.mu.Unlock()
	var dur float64
	if needDur {
		if d, err := a.player.Duration(qctx); err == nil && validSeconds(d) {
			dur = d
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if dur > 0 {
		a.dur = dur
	}
	a.pos = math.Max(0, pos)
	a.lastSample = a.now()
	a.events.push(Event{Kind: EventTime, State: a.state, Position: a.pos, Duration: a.dur, At: a.lastSample})
}

func (a *EmbedAdapter) Ready(ctx context.Context) error {
	select {
	case <-a.ready:
		return a.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *EmbedAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *EmbedAdapter) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

func (a *EmbedAdapter) Duration() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dur, a.dur > 0
}

func (a *EmbedAdapter) SeekTo(seconds float64) error {
	if a.ctx.Err() != nil {
		return ErrClosed
	}
	seconds = math.Max(0, seconds)
	qctx, cancel := context.WithTimeout(a.ctx, queryTimeout)
	defer cancel()
	if err := a.player.SeekTo(qctx, seconds); err != nil {
		return err
	}
	a.mu.Lock()
	a.pos = seconds
	a.mu.Unlock()
	return nil
}

func (a *EmbedAdapter) Events() <-chan Event { return a.events.ch }

// Close stops polling and waits for every adapter goroutine to exit.
func (a *EmbedAdapter) Close() error {
	a.cancel()
	a.stopPolling()
	a.wg.Wait()
	a.mu.Lock()
	a.events.close()
	a.mu.Unlock()
	return nil
}
