package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/learning-platform/internal/platform/auth"
	"github.com/example/learning-platform/services/progress/internal/catalog"
)

const serviceSubject = "progress-service"

// HTTPGateway calls the rewards service with a short-lived service token.
type HTTPGateway struct {
	BaseURL    string
	HTTPClient *http.Client
	Signer     auth.Signer
	// Catalog, when set, supplies the episode's configured reward points.
	Catalog catalog.Reader
}

func NewHTTPGateway(baseURL string, signer auth.Signer, cat catalog.Reader) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Signer:     signer,
		Catalog:    cat,
	}
}

type completionRequest struct {
	UserID        string `json:"user_id"`
	EpisodeID     string `json:"episode_id"`
	EpisodePoints *int   `json:"episode_points,omitempty"`
}

type grantLookup struct {
	Exists bool `json:"exists"`
}

func (g *HTTPGateway) CompleteEpisode(ctx context.Context, userID, episodeID uuid.UUID) (Grant, error) {
	body := completionRequest{UserID: userID.String(), EpisodeID: episodeID.String()}
	if g.Catalog != nil {
		ep, err := g.Catalog.GetEpisode(ctx, episodeID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return Grant{}, fmt.Errorf("rewards: episode lookup: %w", err)
		}
		body.EpisodePoints = ep.RewardPoints
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Grant{}, err
	}
	var out Grant
	if err := g.do(ctx, http.MethodPost, g.BaseURL+"/v1/rewards/episode-completions", bytes.NewReader(b), &out); err != nil {
		return Grant{}, err
	}
	return out, nil
}

func (g *HTTPGateway) HasGrant(ctx context.Context, userID, episodeID uuid.UUID) (bool, error) {
	q := url.Values{}
	q.Set("user_id", userID.String())
	q.Set("episode_id", episodeID.String())
	var out grantLookup
	if err := g.do(ctx, http.MethodGet, g.BaseURL+"/v1/rewards/grants?"+q.Encode(), nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, rawURL string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	tok, err := g.Signer.Sign(serviceSubject, auth.RoleService)
	if err != nil {
		return fmt.Errorf("rewards: sign service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rewards: status %d body=%q", resp.StatusCode, string(b[:min(len(b), 200)]))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("rewards: decode error: %w", err)
	}
	return nil
}
