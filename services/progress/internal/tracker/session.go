package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/analytics"
	"github.com/example/learning-platform/services/progress/internal/catalog"
	"github.com/example/learning-platform/services/progress/internal/metrics"
	"github.com/example/learning-platform/services/progress/internal/playback"
	"github.com/example/learning-platform/services/progress/internal/rewards"
	"github.com/example/learning-platform/services/progress/internal/store"
)

const (
	defaultWriteTimeout = 10 * time.Second
	terminalAttempts    = 4
)

// Invalidator drops cached aggregates affected by a user's progress on one episode.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, subjectID, categoryID uuid.UUID) error
}

// Notice is pushed to the viewing client.
type Notice struct {
	Type           string  `json:"type"`
	WatchedPercent float64 `json:"watched_percent,omitempty"`
	Granted        bool    `json:"granted,omitempty"`
	Points         int     `json:"points,omitempty"`
	Message        string  `json:"message,omitempty"`
}

type Deps struct {
	Progress    store.ProgressStore
	Saver       store.Saver
	Rewards     rewards.Gateway
	Invalidator Invalidator
	Analytics   *analytics.Publisher
	Log         *zap.Logger
	Config      Config

	// WriteTimeout bounds each detached save or grant call.
	WriteTimeout time.Duration
	// RetryBase is the first backoff step between terminal save attempts.
	RetryBase time.Duration
	// Background tracks detached saves and grants across sessions. Optional.
	Background *sync.WaitGroup
	Now        func() time.Time
}

// Session is one viewing of one episode by one user. Run owns the Tracker:
// adapter events, save results and grant results are all applied on its goroutine.
type Session struct {
	deps       Deps
	log        *zap.Logger
	userID     uuid.UUID
	episode    catalog.Episode
	categoryID uuid.UUID
	adapter    playback.Adapter
	notify     func(Notice)
	tracker    *Tracker

	saves  chan saveResult
	grants chan grantResult
	done   chan struct{}
	bg     *sync.WaitGroup
}

type saveResult struct {
	cmd SaveCommand
	err error
	at  time.Time
}

type grantResult struct {
	grant    rewards.Grant
	err      error
	backfill bool
}

func NewSession(deps Deps, userID uuid.UUID, ep catalog.Episode, categoryID uuid.UUID, adapter playback.Adapter, notify func(Notice)) *Session {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = defaultWriteTimeout
	}
	if deps.RetryBase <= 0 {
		deps.RetryBase = time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Saver == nil {
		deps.Saver = store.StoreSaver{Store: deps.Progress}
	}
	if notify == nil {
		notify = func(Notice) {}
	}
	bg := deps.Background
	if bg == nil {
		bg = &sync.WaitGroup{}
	}
	return &Session{
		deps:       deps,
		log:        deps.Log.With(zap.String("user_id", userID.String()), zap.String("episode_id", ep.ID.String())),
		userID:     userID,
		episode:    ep,
		categoryID: categoryID,
		adapter:    adapter,
		notify:     notify,
		tracker:    New(deps.Config),
		saves:      make(chan saveResult, 4),
		grants:     make(chan grantResult, 2),
		done:       make(chan struct{}),
		bg:         bg,
	}
}

// WaitBackground blocks until detached saves and grants started by this
// session have finished.
func (s *Session) WaitBackground() { s.bg.Wait() }

// Run drives the session until ctx is cancelled or the adapter closes. Saves
// and grants already issued keep running after Run returns, as does the final
// flush of unsaved progress.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panic", zap.Any("panic", r))
			err = fmt.Errorf("tracker: session panic: %v", r)
		}
	}()
	defer close(s.done)
	defer s.adapter.Close()

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	metrics.SessionsTotal.WithLabelValues(string(s.episode.MediaKind)).Inc()

	if err := s.adapter.Ready(ctx); err != nil {
		var perr *playback.PlayerError
		if errors.As(err, &perr) {
			metrics.PlayerErrorsTotal.WithLabelValues(string(s.episode.MediaKind)).Inc()
			s.log.Warn("player failed to load", zap.Error(err))
			s.deps.Analytics.Publish(analytics.SubjectPlayerLoadFailed, "player_load_failed", s.userID.String(), map[string]any{
				"episode_id": s.episode.ID.String(),
				"media_kind": string(s.episode.MediaKind),
			})
			s.notify(Notice{Type: "player_error", Message: "player failed to load"})
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	prior, err := s.deps.Progress.Get(ctx, s.userID, s.episode.ID)
	if err != nil {
		s.log.Warn("load prior progress failed", zap.Error(err))
		prior = nil
	}
	if prior != nil && prior.IsComplete() {
		has, err := s.deps.Rewards.HasGrant(ctx, s.userID, s.episode.ID)
		if err != nil {
			s.log.Warn("grant lookup failed, skipping reconciliation", zap.Error(err))
		} else {
			s.exec(ctx, s.tracker.Reconcile(prior, has))
		}
	}

	dur, ok := s.adapter.Duration()
	if !ok && s.episode.DurationSeconds != nil {
		dur = *s.episode.DurationSeconds
	}
	s.exec(ctx, s.tracker.Ready(prior, dur))

	events := s.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			s.exec(ctx, s.tracker.Flush(s.deps.Now()))
			return nil
		case ev, ok := <-events:
			if !ok {
				s.exec(ctx, s.tracker.Flush(s.deps.Now()))
				return nil
			}
			s.exec(ctx, s.tracker.Handle(ev))
		case r := <-s.saves:
			s.onSaved(ctx, r)
		case r := <-s.grants:
			s.onGranted(r)
		}
	}
}

func (s *Session) exec(ctx context.Context, cmds []Command) {
	for _, c := range cmds {
		switch cmd := c.(type) {
		case SeekCommand:
			s.seek(cmd)
		case SaveCommand:
			s.startSave(ctx, cmd)
		case GrantCommand:
			s.startGrant(ctx, cmd.Backfill)
		}
	}
}

func (s *Session) seek(cmd SeekCommand) {
	var err error
	if r, ok := s.adapter.(playback.Restorer); ok && cmd.Exempt {
		err = r.RestoreTo(cmd.Position)
	} else {
		err = s.adapter.SeekTo(cmd.Position)
	}
	if err != nil {
		s.log.Debug("seek failed", zap.Float64("position", cmd.Position), zap.Error(err))
		return
	}
	if cmd.Exempt {
		return
	}
	metrics.SeekCorrectionsTotal.Inc()
	s.deps.Analytics.Publish(analytics.SubjectSeekCorrected, "seek_corrected", s.userID.String(), map[string]any{
		"episode_id": s.episode.ID.String(),
		"position":   cmd.Position,
	})
}

func (s *Session) startSave(ctx context.Context, cmd SaveCommand) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		err := s.save(context.WithoutCancel(ctx), cmd)
		metrics.ObserveSave(cmd.Terminal, err)
		if err != nil {
			s.log.Debug("progress save failed", zap.Bool("terminal", cmd.Terminal), zap.Error(err))
		}
		select {
		case s.saves <- saveResult{cmd: cmd, err: err, at: s.deps.Now()}:
		case <-s.done:
		}
	}()
}

// save writes once, or for terminal saves retries with backoff.
func (s *Session) save(ctx context.Context, cmd SaveCommand) error {
	attempts := 1
	if cmd.Terminal {
		attempts = terminalAttempts
	}
	var err error
	for i := 1; i <= attempts; i++ {
		wctx, cancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
		err = s.deps.Saver.Save(wctx, s.userID, s.episode.ID, cmd.Update)
		cancel()
		if err == nil || i == attempts {
			return err
		}
		time.Sleep(retryDelay(i, s.deps.RetryBase))
	}
	return err
}

func (s *Session) onSaved(ctx context.Context, r saveResult) {
	if r.err == nil {
		s.notify(Notice{Type: "saved", WatchedPercent: r.cmd.Update.WatchedPercent})
	}
	s.exec(ctx, s.tracker.SaveDone(r.cmd, r.err, r.at))
}

func (s *Session) startGrant(ctx context.Context, backfill bool) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.WriteTimeout)
		defer cancel()

		grant, err := s.deps.Rewards.CompleteEpisode(gctx, s.userID, s.episode.ID)
		metrics.ObserveGrant(backfill, err)
		if err != nil {
			s.log.Warn("reward grant failed", zap.Bool("backfill", backfill), zap.Error(err))
		} else {
			s.completed(gctx, grant, backfill)
		}
		select {
		case s.grants <- grantResult{grant: grant, err: err, backfill: backfill}:
		case <-s.done:
		}
	}()
}

// completed runs the side effects of a successful credit; they must happen even
// when the session has already closed.
func (s *Session) completed(ctx context.Context, grant rewards.Grant, backfill bool) {
	if s.deps.Invalidator != nil {
		if err := s.deps.Invalidator.Invalidate(ctx, s.userID, s.episode.SubjectID, s.categoryID); err != nil {
			s.log.Warn("aggregate invalidation failed", zap.Error(err))
		}
	}
	s.deps.Analytics.Publish(analytics.SubjectEpisodeCompleted, "episode_completed", s.userID.String(), map[string]any{
		"episode_id": s.episode.ID.String(),
		"subject_id": s.episode.SubjectID.String(),
		"granted":    grant.Granted,
		"points":     grant.Points(),
		"backfill":   backfill,
	})
}

func (s *Session) onGranted(r grantResult) {
	s.tracker.GrantDone(r.err)
	if r.err == nil {
		s.notify(Notice{Type: "completed", Granted: r.grant.Granted, Points: r.grant.Points()})
	}
}

// retryDelay doubles from base per attempt, capped at one minute.
func retryDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > time.Minute || d <= 0 {
		d = time.Minute
	}
	return d
}
