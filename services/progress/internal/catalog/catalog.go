// Package catalog reads the content hierarchy (category → subject → episode).
// Content is owned by content management; this service never writes it.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("catalog: not found")

type MediaKind string

const (
	MediaNative MediaKind = "native"
	MediaEmbed  MediaKind = "embed"
)

type UnlockMode string

const (
	UnlockOpen       UnlockMode = "open"
	UnlockSequential UnlockMode = "sequential"
)

// Episode is a unit of watchable content inside a subject.
type Episode struct {
	ID              uuid.UUID
	SubjectID       uuid.UUID
	Ordinal         int
	RewardPoints    *int
	DurationSeconds *float64
	MediaKind       MediaKind
	MediaURL        string
	EmbedRef        string
	Published       bool
}

type Subject struct {
	ID         uuid.UUID
	CategoryID uuid.UUID
	UnlockMode UnlockMode
	Ordinal    int
}

type Category struct {
	ID uuid.UUID
}

// Reader is the read-only catalog contract. Batched methods must not issue
// one query per id.
type Reader interface {
	GetEpisode(ctx context.Context, id uuid.UUID) (Episode, error)
	GetSubject(ctx context.Context, id uuid.UUID) (Subject, error)
	// PublishedEpisodesBySubjects returns published episodes of all subjects, ordered by
	// subject then ordinal.
	PublishedEpisodesBySubjects(ctx context.Context, subjectIDs []uuid.UUID) ([]Episode, error)
	// SubjectsByCategories returns subjects of all categories ordered by category then ordinal.
	SubjectsByCategories(ctx context.Context, categoryIDs []uuid.UUID) ([]Subject, error)
	// PreviousPublishedEpisode returns the published episode of the same subject with the
	// greatest ordinal below ep's, or ErrNotFound when ep is the first one.
	PreviousPublishedEpisode(ctx context.Context, ep Episode) (Episode, error)
}

// GroupBySubject groups episode ids by subject id, preserving input order.
func GroupBySubject(eps []Episode) map[uuid.UUID][]uuid.UUID {
	out := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range eps {
		out[e.SubjectID] = append(out[e.SubjectID], e.ID)
	}
	return out
}
