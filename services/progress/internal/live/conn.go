package live

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/learning-platform/services/progress/internal/playback"
	"github.com/example/learning-platform/services/progress/internal/tracker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

var errConnClosed = errors.New("live: connection closed")

// Conn serialises writes to one websocket through a single writer goroutine.
type Conn struct {
	ws   *websocket.Conn
	log  *zap.Logger
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newConn(ws *websocket.Conn, log *zap.Logger) *Conn {
	return &Conn{ws: ws, log: log, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func (c *Conn) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return errConnClosed
	case <-time.After(writeWait):
		return errors.New("live: send queue full")
	}
}

// SendCommand implements playback.CommandSink.
func (c *Conn) SendCommand(cmd playback.Command) error {
	return c.write(seekMessage{Type: TypeSeek, Position: cmd.Position, Exempt: cmd.Exempt})
}

// Notify forwards a session notice to the client.
func (c *Conn) Notify(n tracker.Notice) {
	if err := c.write(n); err != nil && !errors.Is(err, errConnClosed) {
		c.log.Debug("notice dropped", zap.String("type", n.Type), zap.Error(err))
	}
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump owns all writes to the socket, including pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump decodes client messages until the socket fails or closes.
func (c *Conn) readPump(handle func(Inbound)) {
	defer c.close()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("malformed client message", zap.Error(err))
			continue
		}
		handle(msg)
	}
}
