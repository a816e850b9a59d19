// Package aggregate rolls per-episode progress up into subject and category
// aggregates with a bounded number of batched reads.
package aggregate

import (
	"math"

	"github.com/google/uuid"

	"github.com/example/learning-platform/services/progress/internal/store"
)

type Level string

const (
	LevelSubject  Level = "subject"
	LevelCategory Level = "category"
)

// Aggregate is the rollup of one subject (over its published episodes) or one
// category (over its subjects). Completed+InProgress+NotStarted == Total.
type Aggregate struct {
	ID              uuid.UUID `json:"id"`
	Total           int       `json:"total"`
	Completed       int       `json:"completed"`
	InProgress      int       `json:"in_progress"`
	NotStarted      int       `json:"not_started"`
	ProgressPercent int       `json:"progress_percent"`
	HasStarted      bool      `json:"has_started"`
	IsCompleted     bool      `json:"is_completed"`
}

// Zero is the well-formed aggregate returned when nothing can be read.
func Zero(id uuid.UUID) Aggregate {
	return Aggregate{ID: id}
}

type status int

const (
	notStarted status = iota
	inProgress
	completed
)

func classify(rec *store.ProgressRecord) status {
	switch {
	case rec == nil:
		return notStarted
	case rec.IsComplete():
		return completed
	case rec.IsStarted():
		return inProgress
	}
	return notStarted
}

// classifySubject reclassifies a subject aggregate one level up.
func classifySubject(a Aggregate) status {
	switch {
	case a.IsCompleted:
		return completed
	case a.HasStarted:
		return inProgress
	}
	return notStarted
}

type tally struct {
	total, completed, inProgress int
}

func (t *tally) add(s status) {
	t.total++
	switch s {
	case completed:
		t.completed++
	case inProgress:
		t.inProgress++
	}
}

func (t tally) aggregate(id uuid.UUID) Aggregate {
	a := Aggregate{
		ID:         id,
		Total:      t.total,
		Completed:  t.completed,
		InProgress: t.inProgress,
		NotStarted: t.total - t.completed - t.inProgress,
	}
	if t.total > 0 {
		a.ProgressPercent = int(math.Round(float64(t.completed) / float64(t.total) * 100))
	}
	a.HasStarted = t.completed+t.inProgress > 0
	a.IsCompleted = t.total > 0 && t.completed == t.total
	return a
}
