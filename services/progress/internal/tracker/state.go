// Package tracker turns playback samples into persisted progress. The Tracker is
// deterministic: it consumes adapter events and returns commands (seek, save,
// grant) for the Session to execute.
package tracker

import "time"

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarted
	PhasePlaying
	PhasePaused
	// PhaseCompleted is terminal for the session.
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarted:
		return "started"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseCompleted:
		return "completed"
	}
	return "unknown"
}

// State is the playback state of one viewing session. A single session
// goroutine owns it; guard, gate and tracker methods take and return it by value.
type State struct {
	Phase   Phase
	Playing bool

	MaxWatchedSeconds float64
	Position          float64
	Duration          float64
	// Percent is the highest percent issued this session.
	Percent float64

	LastSavedPercent  float64
	LastSavedPosition float64
	LastSaveAt        time.Time
	SaveInFlight     bool

	CompletionTriggered bool
	GuardSuppressed     bool
}
