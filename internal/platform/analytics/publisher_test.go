package analytics

import "testing"

func TestPublish_NilReceiverIsNoop(t *testing.T) {
	var p *Publisher
	p.Publish(SubjectEpisodeCompleted, "episode_completed", "user-1", map[string]any{"episode_id": "ep-1"})
}

func TestPublish_NilJetStreamIsNoop(t *testing.T) {
	p := New(nil, nil)
	p.Publish(SubjectSessionOpened, "session_opened", "user-1", nil)
}
