package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/internal/platform/signing"
	"github.com/example/learning-platform/services/progress/internal/catalog"
	"github.com/example/learning-platform/services/progress/internal/rewards"
	"github.com/example/learning-platform/services/progress/internal/store"
	"github.com/example/learning-platform/services/progress/internal/tracker"
	"github.com/example/learning-platform/services/progress/internal/unlock"
)

type testEnv struct {
	user     uuid.UUID
	cat      *catalog.InMemoryReader
	progress *store.InMemoryProgressStore
	hub      *Hub
	srv      *httptest.Server
	subject  uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		user:     uuid.New(),
		cat:      catalog.NewInMemoryReader(),
		progress: store.NewInMemoryProgressStore(),
		subject:  uuid.New(),
	}
	env.cat.PutSubject(catalog.Subject{ID: env.subject, CategoryID: uuid.New(), UnlockMode: catalog.UnlockSequential, Ordinal: 1})
	env.hub = NewHub(Options{
		Catalog: env.cat,
		Access:  unlock.Checker{Catalog: env.cat, Progress: env.progress},
		Session: tracker.Deps{
			Progress: env.progress,
			Rewards:  rewards.NewInMemoryGateway(5),
			Config:   tracker.Config{Guard: tracker.SeekGuard{Buffer: 2}},
		},
		Signer:         signing.New("media-secret"),
		EmbedScriptURL: "https://player.example.org/api.js",
		PollInterval:   10 * time.Millisecond,
	})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithUserID(req.Context(), env.user.String())))
		})
	})
	r.Get("/v1/sessions/{episode_id}/ws", env.hub.ServeEpisode)
	env.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		env.srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = env.hub.Shutdown(ctx)
	})
	return env
}

func (env *testEnv) episode(ordinal int, kind catalog.MediaKind) catalog.Episode {
	dur := 100.0
	ep := catalog.Episode{
		ID: uuid.New(), SubjectID: env.subject, Ordinal: ordinal, DurationSeconds: &dur,
		MediaKind: kind, MediaURL: "https://cdn.example.org/v/1.mp4", EmbedRef: "vid-1", Published: true,
	}
	env.cat.PutEpisode(ep)
	return ep
}

func (env *testEnv) dial(t *testing.T, episodeID uuid.UUID) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/sessions/" + episodeID.String() + "/ws"
	return websocket.DefaultDialer.Dial(u, nil)
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *client) send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		c.t.Errorf("write: %v", err)
	}
}

func (c *client) next() map[string]any {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m map[string]any
	if err := c.ws.ReadJSON(&m); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return m
}

// until reads messages until one of the given type arrives.
func (c *client) until(typ string) map[string]any {
	c.t.Helper()
	for {
		m := c.next()
		if m["type"] == typ {
			return m
		}
	}
}

func TestHub_NativeSessionSavesProgress(t *testing.T) {
	env := newTestEnv(t)
	ep := env.episode(1, catalog.MediaNative)

	ws, _, err := env.dial(t, ep.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	c := &client{t: t, ws: ws}

	hello := c.until("session")
	if hello["media_kind"] != "native" || !strings.Contains(hello["media_url"].(string), "sig=") {
		t.Fatalf("expected signed native session, got %v", hello)
	}

	c.send(Inbound{Type: TypeReport, Event: "loadedmetadata", Duration: 100})
	c.send(Inbound{Type: TypeReport, Event: "play", Duration: 100})
	c.send(Inbound{Type: TypeReport, Event: "timeupdate", Position: 0.4, Duration: 100})

	saved := c.until("saved")
	if saved["type"] != "saved" {
		t.Fatalf("expected saved notice, got %v", saved)
	}
	rec, _ := env.progress.Get(context.Background(), env.user, ep.ID)
	if rec == nil || rec.LastPositionSeconds != 0.4 {
		t.Fatalf("expected started record at 0.4s, got %+v", rec)
	}
}

func TestHub_NativeForwardSeekGetsCorrected(t *testing.T) {
	env := newTestEnv(t)
	ep := env.episode(1, catalog.MediaNative)
	ws, _, err := env.dial(t, ep.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	c := &client{t: t, ws: ws}
	c.until("session")

	c.send(Inbound{Type: TypeReport, Event: "loadedmetadata", Duration: 100})
	c.send(Inbound{Type: TypeReport, Event: "play", Duration: 100})
	for _, p := range []float64{0, 1, 2, 3} {
		c.send(Inbound{Type: TypeReport, Event: "timeupdate", Position: p, Duration: 100})
	}
	c.send(Inbound{Type: TypeReport, Event: "timeupdate", Position: 80, Duration: 100})

	seek := c.until("seek")
	if seek["position"].(float64) != 3 || seek["exempt"] == true {
		t.Fatalf("expected corrective seek to 3, got %v", seek)
	}
}

func TestHub_EmbedSessionPollsPosition(t *testing.T) {
	env := newTestEnv(t)
	ep := env.episode(1, catalog.MediaEmbed)
	ws, _, err := env.dial(t, ep.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	c := &client{t: t, ws: ws}

	load := c.until("load_embed")
	if load["embed_ref"] != "vid-1" || load["script_url"] != "https://player.example.org/api.js" {
		t.Fatalf("unexpected load_embed %v", load)
	}
	c.send(Inbound{Type: TypeReady})

	var pos float64
	sawSaved := false
	deadline := time.Now().Add(3 * time.Second)
	for !sawSaved && time.Now().Before(deadline) {
		m := c.next()
		switch m["type"] {
		case "query_time":
			c.send(Inbound{Type: TypeTime, RequestID: m["request_id"].(string), Position: pos, Duration: 100})
			if pos == 0 {
				c.send(Inbound{Type: TypeState, State: "playing"})
			}
			pos += 0.5
		case "saved":
			sawSaved = true
		}
	}
	if !sawSaved {
		t.Fatalf("expected a saved notice from polled samples")
	}
	rec, _ := env.progress.Get(context.Background(), env.user, ep.ID)
	if rec == nil {
		t.Fatalf("expected a progress record")
	}
}

func TestHub_EmbedLoadFailureReportsPlayerError(t *testing.T) {
	env := newTestEnv(t)
	ep := env.episode(1, catalog.MediaEmbed)
	ws, _, err := env.dial(t, ep.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	c := &client{t: t, ws: ws}
	c.until("load_embed")
	c.send(Inbound{Type: TypeLoadFailed, Error: "blocked by extension"})

	perr := c.until("player_error")
	if perr["message"] == "" {
		t.Fatalf("expected message in player_error, got %v", perr)
	}
}

func TestHub_LockedEpisodeIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.episode(1, catalog.MediaNative)
	second := env.episode(2, catalog.MediaNative)

	_, resp, err := env.dial(t, second.ID)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error.Code != "EPISODE_LOCKED" {
		t.Fatalf("expected EPISODE_LOCKED, got %q", body.Error.Code)
	}
}

func TestHub_UnknownEpisodeIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, resp, err := env.dial(t, uuid.New())
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v err=%v", resp, err)
	}
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://learn.example.org/"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://learn.example.org")
	if !check(req) {
		t.Fatalf("expected allowed origin")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if check(req) {
		t.Fatalf("expected foreign origin rejected")
	}
	if !checkOrigin(nil)(req) {
		t.Fatalf("expected wildcard when unconfigured")
	}
}
