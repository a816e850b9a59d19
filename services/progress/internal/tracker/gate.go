package tracker

import "github.com/example/learning-platform/services/progress/internal/store"

// Gate decides when a completion credit is requested. At most one request is
// in flight or done per session; a failed request re-arms the gate.
type Gate struct {
	Threshold float64
}

func (g Gate) threshold() float64 {
	if g.Threshold <= 0 {
		return store.CompletionThreshold
	}
	return g.Threshold
}

// OnSaved is called after a successful save of percent. It reports whether a
// grant must be requested now.
func (g Gate) OnSaved(st State, percent float64) (State, bool) {
	if st.CompletionTriggered || percent < g.threshold() {
		return st, false
	}
	st.CompletionTriggered = true
	return st, true
}

func (g Gate) OnGrantResult(st State, err error) State {
	if err != nil {
		st.CompletionTriggered = false
	}
	return st
}

// Reconcile runs once when a session opens. A completed record without a
// grant (the earlier credit failed or was lost) yields exactly one backfill.
func (g Gate) Reconcile(st State, prior *store.ProgressRecord, hasGrant bool) (State, bool) {
	if prior == nil || !prior.IsComplete() {
		return st, false
	}
	if hasGrant || st.CompletionTriggered {
		st.CompletionTriggered = true
		return st, false
	}
	st.CompletionTriggered = true
	return st, true
}
