package twitter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIClient fetches tweets from the authenticated v2 API. This is the
// highest-fidelity source: full engagement metrics including views.
type APIClient struct {
	baseURL string
	bearer  string
	http    *http.Client
}

// APIConfig holds settings for the v2 API client.
type APIConfig struct {
	BaseURL     string        `json:"base_url"` // default https://api.twitter.com
	BearerToken string        `json:"bearer_token"`
	Timeout     time.Duration `json:"timeout"`
}

// NewAPIClient creates a v2 API client.
func NewAPIClient(cfg APIConfig) *APIClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.twitter.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: base,
		bearer:  cfg.BearerToken,
		http:    &http.Client{Timeout: timeout},
	}
}

type apiTweet struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		RetweetCount    int64 `json:"retweet_count"`
		ReplyCount      int64 `json:"reply_count"`
		LikeCount       int64 `json:"like_count"`
		ImpressionCount int64 `json:"impression_count"`
	} `json:"public_metrics"`
}

type apiResponse struct {
	Data     *apiTweet `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// FetchByID fetches a tweet with its public metrics.
func (c *APIClient) FetchByID(ctx context.Context, id string) (*Tweet, error) {
	url := fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics,created_at,author_id&expansions=author_id&user.fields=username", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("twitter: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter: api request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("twitter: api status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("twitter: read response: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("twitter: decode response: %w", err)
	}

	// The v2 API reports a missing tweet as 200 with an errors array.
	if out.Data == nil {
		if len(out.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, out.Errors[0].Detail)
		}
		return nil, fmt.Errorf("twitter: empty response for tweet %s", id)
	}

	t := &Tweet{
		ID:        out.Data.ID,
		Text:      out.Data.Text,
		AuthorID:  out.Data.AuthorID,
		CreatedAt: out.Data.CreatedAt,
		Engagement: Engagement{
			Likes:    out.Data.PublicMetrics.LikeCount,
			Retweets: out.Data.PublicMetrics.RetweetCount,
			Replies:  out.Data.PublicMetrics.ReplyCount,
			Views:    out.Data.PublicMetrics.ImpressionCount,
		},
		Source: "twitter-api",
	}
	for _, u := range out.Includes.Users {
		if u.ID == out.Data.AuthorID {
			t.AuthorUsername = u.Username
			break
		}
	}
	return t, nil
}
