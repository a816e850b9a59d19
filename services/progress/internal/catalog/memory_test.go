package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func seed(t *testing.T) (*InMemoryReader, uuid.UUID, []Episode) {
	t.Helper()
	m := NewInMemoryReader()
	subj := Subject{ID: uuid.New(), CategoryID: uuid.New(), UnlockMode: UnlockSequential}
	m.PutSubject(subj)
	var eps []Episode
	for i := 1; i <= 4; i++ {
		e := Episode{ID: uuid.New(), SubjectID: subj.ID, Ordinal: i, Published: true, MediaKind: MediaNative}
		m.PutEpisode(e)
		eps = append(eps, e)
	}
	// unpublished draft between 2 and 3 must be invisible
	m.PutEpisode(Episode{ID: uuid.New(), SubjectID: subj.ID, Ordinal: 2, Published: false})
	return m, subj.ID, eps
}

func TestInMemoryReader_PublishedEpisodesOrdered(t *testing.T) {
	m, subjID, eps := seed(t)
	got, err := m.PublishedEpisodesBySubjects(context.Background(), []uuid.UUID{subjID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 published episodes, got %d", len(got))
	}
	for i := range got {
		if got[i].ID != eps[i].ID {
			t.Fatalf("expected episode %d at position %d", eps[i].Ordinal, i)
		}
	}
}

func TestInMemoryReader_PreviousPublishedEpisode(t *testing.T) {
	m, _, eps := seed(t)
	ctx := context.Background()

	if _, err := m.PreviousPublishedEpisode(ctx, eps[0]); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for first episode, got %v", err)
	}
	prev, err := m.PreviousPublishedEpisode(ctx, eps[2])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev.ID != eps[1].ID {
		t.Fatalf("expected ordinal 2 as predecessor, got ordinal %d", prev.Ordinal)
	}
}

func TestGroupBySubject(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	g := GroupBySubject([]Episode{{ID: uuid.New(), SubjectID: a}, {ID: uuid.New(), SubjectID: b}, {ID: uuid.New(), SubjectID: a}})
	if len(g[a]) != 2 || len(g[b]) != 1 {
		t.Fatalf("unexpected grouping: %v", g)
	}
}

// TestReaderInterface ensures both implementations satisfy the interface.
func TestReaderInterface(t *testing.T) {
	var _ Reader = (*InMemoryReader)(nil)
	var _ Reader = (*PostgresReader)(nil)
}
