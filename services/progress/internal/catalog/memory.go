package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryReader is a development and test catalog.
type InMemoryReader struct {
	mu       sync.RWMutex
	episodes map[uuid.UUID]Episode
	subjects map[uuid.UUID]Subject

	// Calls counts reader invocations per method, for batching assertions in tests.
	Calls map[string]int
}

func NewInMemoryReader() *InMemoryReader {
	return &InMemoryReader{
		episodes: make(map[uuid.UUID]Episode),
		subjects: make(map[uuid.UUID]Subject),
		Calls:    make(map[string]int),
	}
}

func (m *InMemoryReader) PutSubject(s Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
}

func (m *InMemoryReader) PutEpisode(e Episode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[e.ID] = e
}

func (m *InMemoryReader) count(method string) {
	m.mu.Lock()
	m.Calls[method]++
	m.mu.Unlock()
}

func (m *InMemoryReader) GetEpisode(_ context.Context, id uuid.UUID) (Episode, error) {
	m.count("GetEpisode")
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.episodes[id]
	if !ok {
		return Episode{}, ErrNotFound
	}
	return e, nil
}

func (m *InMemoryReader) GetSubject(_ context.Context, id uuid.UUID) (Subject, error) {
	m.count("GetSubject")
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return Subject{}, ErrNotFound
	}
	return s, nil
}

func (m *InMemoryReader) PublishedEpisodesBySubjects(_ context.Context, subjectIDs []uuid.UUID) ([]Episode, error) {
	m.count("PublishedEpisodesBySubjects")
	want := make(map[uuid.UUID]bool, len(subjectIDs))
	for _, id := range subjectIDs {
		want[id] = true
	}
	m.mu.RLock()
	var out []Episode
	for _, e := range m.episodes {
		if e.Published && want[e.SubjectID] {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID.String() < out[j].SubjectID.String()
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (m *InMemoryReader) SubjectsByCategories(_ context.Context, categoryIDs []uuid.UUID) ([]Subject, error) {
	m.count("SubjectsByCategories")
	want := make(map[uuid.UUID]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		want[id] = true
	}
	m.mu.RLock()
	var out []Subject
	for _, s := range m.subjects {
		if want[s.CategoryID] {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryID != out[j].CategoryID {
			return out[i].CategoryID.String() < out[j].CategoryID.String()
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (m *InMemoryReader) PreviousPublishedEpisode(_ context.Context, ep Episode) (Episode, error) {
	m.count("PreviousPublishedEpisode")
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Episode
	for _, e := range m.episodes {
		if e.SubjectID != ep.SubjectID || !e.Published || e.Ordinal >= ep.Ordinal {
			continue
		}
		if best == nil || e.Ordinal > best.Ordinal {
			c := e
			best = &c
		}
	}
	if best == nil {
		return Episode{}, ErrNotFound
	}
	return *best, nil
}
