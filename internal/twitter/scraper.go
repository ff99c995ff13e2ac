package twitter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScraperClient talks to the scraper sidecar, a separate service that
// scrapes engagement from the web UI when the official API is rate limited
// or down. Medium fidelity: likes/retweets/replies but no view counts, and
// results lag real time by the scrape interval.
type ScraperClient struct {
	baseURL string
	http    *http.Client
}

// ScraperConfig holds settings for the scraper sidecar client.
type ScraperConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// NewScraperClient creates a scraper sidecar client.
func NewScraperClient(cfg ScraperConfig) *ScraperClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ScraperClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type scraperRequest struct {
	TweetURL string `json:"tweet_url"`
}

type scraperResponse struct {
	Likes     int64  `json:"likes"`
	Retweets  int64  `json:"retweets"`
	Replies   int64  `json:"replies"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// FetchByID fetches an engagement snapshot for the tweet through the
// sidecar's POST /engagement endpoint.
func (c *ScraperClient) FetchByID(ctx context.Context, id string) (*Tweet, error) {
	payload, err := json.Marshal(scraperRequest{TweetURL: "https://x.com/i/status/" + id})
	if err != nil {
		return nil, fmt.Errorf("twitter: encode scraper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/engagement", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("twitter: build scraper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter: scraper request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("twitter: scraper status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("twitter: read scraper response: %w", err)
	}

	var out scraperResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("twitter: decode scraper response: %w", err)
	}

	return &Tweet{
		ID: id,
		Engagement: Engagement{
			Likes:    out.Likes,
			Retweets: out.Retweets,
			Replies:  out.Replies,
		},
		Source: "scraper",
	}, nil
}
