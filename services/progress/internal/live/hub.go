package live

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/learning-platform/internal/platform/analytics"
	"github.com/example/learning-platform/internal/platform/api"
	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/httpserver"
	"github.com/example/learning-platform/internal/platform/signing"
	"github.com/example/learning-platform/services/progress/internal/catalog"
	"github.com/example/learning-platform/services/progress/internal/playback"
	"github.com/example/learning-platform/services/progress/internal/tracker"
)

// AccessChecker gates session opening on the unlock policy.
type AccessChecker interface {
	Check(ctx context.Context, userID, episodeID uuid.UUID) (bool, error)
}

type Options struct {
	Catalog catalog.Reader
	Access  AccessChecker
	Session tracker.Deps
	// Signer signs native media URLs; nil hands out the stored URL as is.
	Signer         *signing.Signer
	MediaURLTTL    time.Duration
	EmbedScriptURL string
	PollInterval   time.Duration
	// AllowedOrigins restricts websocket origins; empty or "*" allows all.
	AllowedOrigins []string
	Log            *zap.Logger
}

// Hub opens one viewing session per websocket and tears them all down on Shutdown.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	sessions   sync.WaitGroup
	background sync.WaitGroup
}

func NewHub(opts Options) *Hub {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.MediaURLTTL <= 0 {
		opts.MediaURLTTL = 6 * time.Hour
	}
	h := &Hub{opts: opts, log: opts.Log}
	h.opts.Session.Background = &h.background
	if h.opts.Session.Log == nil {
		h.opts.Session.Log = opts.Log
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeEpisode upgrades GET /v1/sessions/{episode_id}/ws. Requires auth.RequireUser.
func (h *Hub) ServeEpisode(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	uid, _ := auth.UserIDFromContext(r.Context())
	userID, err := uuid.Parse(uid)
	if err != nil {
		api.Unauthorized(w, "UNAUTHORIZED", "user required", rid)
		return
	}
	episodeID, err := uuid.Parse(chi.URLParam(r, "episode_id"))
	if err != nil {
		api.BadRequest(w, "INVALID_ARGUMENT", "invalid episode_id", rid, nil)
		return
	}

	ep, subject, err := h.resolve(r.Context(), episodeID)
	if errors.Is(err, catalog.ErrNotFound) {
		api.NotFound(w, "NOT_FOUND", "episode not found", rid)
		return
	}
	if err != nil {
		h.log.Error("resolve episode failed", zap.String("episode_id", episodeID.String()), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	if h.opts.Access != nil {
		ok, err := h.opts.Access.Check(r.Context(), userID, episodeID)
		if err != nil {
			h.log.Error("access check failed", zap.String("episode_id", episodeID.String()), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		if !ok {
			api.Forbidden(w, "EPISODE_LOCKED", "previous episode not completed", rid)
			return
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.sessions.Add(1)
	defer h.sessions.Done()
	h.serve(ws, userID, ep, subject)
}

func (h *Hub) resolve(ctx context.Context, episodeID uuid.UUID) (catalog.Episode, catalog.Subject, error) {
	ep, err := h.opts.Catalog.GetEpisode(ctx, episodeID)
	if err != nil {
		return catalog.Episode{}, catalog.Subject{}, err
	}
	if !ep.Published {
		return catalog.Episode{}, catalog.Subject{}, catalog.ErrNotFound
	}
	subject, err := h.opts.Catalog.GetSubject(ctx, ep.SubjectID)
	if err != nil {
		return catalog.Episode{}, catalog.Subject{}, err
	}
	return ep, subject, nil
}

func (h *Hub) serve(ws *websocket.Conn, userID uuid.UUID, ep catalog.Episode, subject catalog.Subject) {
	sessionID := uuid.NewString()
	log := h.log.With(zap.String("session_id", sessionID), zap.String("episode_id", ep.ID.String()))
	conn := newConn(ws, log)
	go conn.writePump()
	defer conn.close()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	remote := newRemoteEmbed(conn, h.opts.EmbedScriptURL, ep.EmbedRef)
	backends := playback.Backends{Sink: conn, PollInterval: h.opts.PollInterval}
	if ep.MediaKind == catalog.MediaEmbed {
		backends.Embed = remote
	}
	adapter, err := playback.New(ep.MediaKind, backends)
	if err != nil {
		log.Warn("unsupported media", zap.Error(err))
		_ = conn.write(errorMessage{Type: TypeError, Message: "unsupported media"})
		return
	}
	native, _ := adapter.(*playback.NativeAdapter)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		conn.readPump(func(m Inbound) {
			if m.Type == TypeReport {
				if native != nil {
					_ = native.Push(m.report())
				}
				return
			}
			remote.handle(m)
		})
	}()

	_ = conn.write(sessionMessage{
		Type:           TypeSession,
		SessionID:      sessionID,
		EpisodeID:      ep.ID.String(),
		MediaKind:      string(ep.MediaKind),
		MediaURL:       h.mediaURL(ep, userID),
		ResumePosition: h.resumePosition(ctx, userID, ep.ID),
	})
	h.opts.Session.Analytics.Publish(analytics.SubjectSessionOpened, "session_opened", userID.String(), map[string]any{
		"episode_id": ep.ID.String(),
		"media_kind": string(ep.MediaKind),
	})

	sess := tracker.NewSession(h.opts.Session, userID, ep, subject.CategoryID, adapter, conn.Notify)
	if err := sess.Run(ctx); err != nil {
		log.Debug("session ended with error", zap.Error(err))
	}
	conn.close()
	<-readDone
}

func (h *Hub) mediaURL(ep catalog.Episode, userID uuid.UUID) string {
	if ep.MediaKind != catalog.MediaNative || ep.MediaURL == "" || h.opts.Signer == nil {
		return ep.MediaURL
	}
	signed, err := h.opts.Signer.SignURL(ep.MediaURL, userID.String(), time.Now().Add(h.opts.MediaURLTTL))
	if err != nil {
		h.log.Warn("sign media url failed", zap.Error(err))
		return ""
	}
	return signed
}

func (h *Hub) resumePosition(ctx context.Context, userID, episodeID uuid.UUID) float64 {
	if h.opts.Session.Progress == nil {
		return 0
	}
	rec, err := h.opts.Session.Progress.Get(ctx, userID, episodeID)
	if err != nil || rec == nil {
		return 0
	}
	return rec.LastPositionSeconds
}

// Shutdown closes every open session and waits for their detached saves and
// grants to finish, or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		h.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
