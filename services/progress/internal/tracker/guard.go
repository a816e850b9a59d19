package tracker

import "math"

// DefaultSeekBuffer is the forward slack in seconds tolerated past the max
// watched position.
const DefaultSeekBuffer = 2.0

// SeekGuard rejects forward seeks beyond what was actually watched.
type SeekGuard struct {
	Buffer float64
}

// Verdict is the guard's decision for one sample.
type Verdict struct {
	// Position is safe to persist: it never exceeds max watched + buffer.
	Position float64
	Correct  bool
	SeekTo   float64
}

func (g SeekGuard) buffer() float64 {
	if g.Buffer <= 0 {
		return DefaultSeekBuffer
	}
	return g.Buffer
}

// Observe validates a position sample. After a correction the next sample is
// the player's reaction to the corrective seek and is not validated again.
func (g SeekGuard) Observe(st State, pos float64) (State, Verdict) {
	limit := st.MaxWatchedSeconds + g.buffer()
	if st.GuardSuppressed {
		st.GuardSuppressed = false
		if pos > limit {
			return st, Verdict{Position: st.MaxWatchedSeconds}
		}
		st.MaxWatchedSeconds = math.Max(st.MaxWatchedSeconds, pos)
		return st, Verdict{Position: pos}
	}
	if pos > limit {
		st.GuardSuppressed = true
		return st, Verdict{Position: st.MaxWatchedSeconds, Correct: true, SeekTo: st.MaxWatchedSeconds}
	}
	st.MaxWatchedSeconds = math.Max(st.MaxWatchedSeconds, pos)
	return st, Verdict{Position: pos}
}

// Illegal reports whether pos lies beyond the tolerated window.
func (g SeekGuard) Illegal(st State, pos float64) bool {
	return pos > st.MaxWatchedSeconds+g.buffer()
}
