// Package rewards is the progress service's side of the reward economy: it
// asks the rewards service to credit a completed episode. Point rules live there.
package rewards

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Grant is the outcome of a completion credit.
type Grant struct {
	// Granted is false when the episode was already credited.
	Granted       bool `json:"granted"`
	EpisodePoints int  `json:"episode_points"`
	SubjectPoints int  `json:"subject_points"`
	StreakPoints  int  `json:"streak_points"`
}

func (g Grant) Points() int { return g.EpisodePoints + g.SubjectPoints + g.StreakPoints }

// Gateway credits episode completions. CompleteEpisode is idempotent per
// (user, episode): a repeated call returns Granted=false.
type Gateway interface {
	CompleteEpisode(ctx context.Context, userID, episodeID uuid.UUID) (Grant, error)
	HasGrant(ctx context.Context, userID, episodeID uuid.UUID) (bool, error)
}

type grantKey struct {
	user    uuid.UUID
	episode uuid.UUID
}

// InMemoryGateway credits completions in-process (dev and tests).
type InMemoryGateway struct {
	EpisodePoints int

	mu     sync.Mutex
	grants map[grantKey]Grant
	calls  int
}

func NewInMemoryGateway(episodePoints int) *InMemoryGateway {
	return &InMemoryGateway{EpisodePoints: episodePoints, grants: make(map[grantKey]Grant)}
}

func (g *InMemoryGateway) CompleteEpisode(ctx context.Context, userID, episodeID uuid.UUID) (Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	k := grantKey{userID, episodeID}
	if _, ok := g.grants[k]; ok {
		return Grant{Granted: false}, nil
	}
	out := Grant{Granted: true, EpisodePoints: g.EpisodePoints}
	g.grants[k] = out
	return out, nil
}

func (g *InMemoryGateway) HasGrant(ctx context.Context, userID, episodeID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.grants[grantKey{userID, episodeID}]
	return ok, nil
}

// Calls reports how many CompleteEpisode calls were made.
func (g *InMemoryGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// GrantCount reports how many distinct grants exist.
func (g *InMemoryGateway) GrantCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.grants)
}
