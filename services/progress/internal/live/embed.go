package live

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/example/learning-platform/services/progress/internal/playback"
)

// remoteEmbed drives an embedded player living in the client. Position queries
// are request/response pairs matched by request id.
type remoteEmbed struct {
	conn      *Conn
	scriptURL string
	embedRef  string

	loaded chan error
	once   sync.Once
	states chan playback.State

	mu      sync.Mutex
	pending map[string]chan Inbound
}

func newRemoteEmbed(conn *Conn, scriptURL, embedRef string) *remoteEmbed {
	return &remoteEmbed{
		conn:      conn,
		scriptURL: scriptURL,
		embedRef:  embedRef,
		loaded:    make(chan error, 1),
		states:    make(chan playback.State, 16),
		pending:   make(map[string]chan Inbound),
	}
}

func (e *remoteEmbed) Load(ctx context.Context) error {
	if err := e.conn.write(loadEmbedMessage{Type: TypeLoadEmbed, ScriptURL: e.scriptURL, EmbedRef: e.embedRef}); err != nil {
		return err
	}
	select {
	case err := <-e.loaded:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.conn.done:
		return errConnClosed
	}
}

func (e *remoteEmbed) query(ctx context.Context) (Inbound, error) {
	id := uuid.NewString()
	ch := make(chan Inbound, 1)
	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	if err := e.conn.write(queryTimeMessage{Type: TypeQueryTime, RequestID: id}); err != nil {
		return Inbound{}, err
	}
	select {
	case m := <-ch:
		if m.Error != "" {
			return Inbound{}, errors.New(m.Error)
		}
		return m, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	case <-e.conn.done:
		return Inbound{}, errConnClosed
	}
}

func (e *remoteEmbed) CurrentTime(ctx context.Context) (float64, error) {
	m, err := e.query(ctx)
	return m.Position, err
}

func (e *remoteEmbed) Duration(ctx context.Context) (float64, error) {
	m, err := e.query(ctx)
	return m.Duration, err
}

func (e *remoteEmbed) SeekTo(ctx context.Context, seconds float64) error {
	return e.conn.write(seekMessage{Type: TypeSeek, Position: seconds})
}

func (e *remoteEmbed) StateChanges() <-chan playback.State { return e.states }

// handle routes an embed-related client message.
func (e *remoteEmbed) handle(m Inbound) {
	switch m.Type {
	case TypeReady:
		e.once.Do(func() { e.loaded <- nil })
	case TypeLoadFailed:
		msg := m.Error
		if msg == "" {
			msg = "embedded player failed to load"
		}
		e.once.Do(func() { e.loaded <- errors.New(msg) })
	case TypeState:
		if s, ok := playback.ParseState(m.State); ok {
			select {
			case e.states <- s:
			default:
			}
		}
	case TypeTime:
		e.mu.Lock()
		ch, ok := e.pending[m.RequestID]
		e.mu.Unlock()
		if ok {
			select {
			case ch <- m:
			default:
			}
		}
	}
}
