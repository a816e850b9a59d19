// Package live carries viewing sessions over a websocket: the browser relays
// media events and answers position queries, the server sends seek commands,
// player loading instructions and progress notices.
package live

import "github.com/example/learning-platform/services/progress/internal/playback"

type MessageType string

const (
	// client → server
	TypeReport     MessageType = "report"
	TypeState      MessageType = "state"
	TypeTime       MessageType = "time"
	TypeReady      MessageType = "ready"
	TypeLoadFailed MessageType = "load_failed"

	// server → client
	TypeSession   MessageType = "session"
	TypeSeek      MessageType = "seek"
	TypeLoadEmbed MessageType = "load_embed"
	TypeQueryTime MessageType = "query_time"
	TypeError     MessageType = "error"
)

// Inbound is any client message; fields are used according to Type.
type Inbound struct {
	Type      MessageType `json:"type"`
	Event     string      `json:"event,omitempty"`
	State     string      `json:"state,omitempty"`
	Position  float64     `json:"position,omitempty"`
	Duration  float64     `json:"duration,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func (m Inbound) report() playback.Report {
	return playback.Report{Event: m.Event, Position: m.Position, Duration: m.Duration}
}

type sessionMessage struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	EpisodeID      string      `json:"episode_id"`
	MediaKind      string      `json:"media_kind"`
	MediaURL       string      `json:"media_url,omitempty"`
	ResumePosition float64     `json:"resume_position"`
}

type seekMessage struct {
	Type     MessageType `json:"type"`
	Position float64     `json:"position"`
	Exempt   bool        `json:"exempt,omitempty"`
}

type loadEmbedMessage struct {
	Type      MessageType `json:"type"`
	ScriptURL string      `json:"script_url"`
	EmbedRef  string      `json:"embed_ref"`
}

type queryTimeMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

type errorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}
