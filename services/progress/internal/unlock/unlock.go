// Package unlock decides whether an episode may be opened.
package unlock

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/learning-platform/services/progress/internal/catalog"
	"github.com/example/learning-platform/services/progress/internal/store"
)

// Accessible is the pure unlock rule. predecessor is the published episode of
// the same subject immediately before ep (nil for the first one); progress is
// the user's record on that predecessor (nil when absent).
func Accessible(subject catalog.Subject, ep catalog.Episode, predecessor *catalog.Episode, progress *store.ProgressRecord) bool {
	if subject.UnlockMode != catalog.UnlockSequential {
		return true
	}
	if predecessor == nil {
		return true
	}
	return progress != nil && progress.IsComplete()
}

// Checker resolves the inputs of Accessible. Predecessor progress is always
// read from the store, never from cached aggregates.
type Checker struct {
	Catalog  catalog.Reader
	Progress store.ProgressStore
}

// Check returns catalog.ErrNotFound for unknown or unpublished episodes.
func (c Checker) Check(ctx context.Context, userID, episodeID uuid.UUID) (bool, error) {
	ep, err := c.Catalog.GetEpisode(ctx, episodeID)
	if err != nil {
		return false, err
	}
	if !ep.Published {
		return false, catalog.ErrNotFound
	}
	subject, err := c.Catalog.GetSubject(ctx, ep.SubjectID)
	if err != nil {
		return false, err
	}
	if subject.UnlockMode != catalog.UnlockSequential {
		return true, nil
	}

	prev, err := c.Catalog.PreviousPublishedEpisode(ctx, ep)
	if errors.Is(err, catalog.ErrNotFound) {
		return Accessible(subject, ep, nil, nil), nil
	}
	if err != nil {
		return false, err
	}
	if userID == uuid.Nil {
		return false, nil
	}
	rec, err := c.Progress.Get(ctx, userID, prev.ID)
	if err != nil {
		return false, err
	}
	return Accessible(subject, ep, &prev, rec), nil
}
