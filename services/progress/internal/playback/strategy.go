package playback

import (
	"fmt"
	"time"

	"github.com/example/learning-platform/services/progress/internal/catalog"
)

// Backends carries what either variant may need; New picks the one matching
// the episode's media kind.
type Backends struct {
	Sink         CommandSink
	Embed        EmbedPlayer
	PollInterval time.Duration
}

// Restorer is implemented by adapters whose resume seek needs to be marked
// as exempt for the client.
type Restorer interface {
	RestoreTo(seconds float64) error
}

func New(kind catalog.MediaKind, b Backends) (Adapter, error) {
	switch kind {
	case catalog.MediaNative:
		if b.Sink == nil {
			return nil, fmt.Errorf("playback: native backend needs a command sink")
		}
		return NewNative(b.Sink), nil
	case catalog.MediaEmbed:
		if b.Embed == nil {
			return nil, fmt.Errorf("playback: embed backend needs a player")
		}
		return NewEmbed(b.Embed, b.PollInterval), nil
	default:
		return nil, fmt.Errorf("playback: unknown media kind %q", kind)
	}
}
