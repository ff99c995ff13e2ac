package twitter

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// SyndicationClient fetches tweets from the public syndication endpoint
// that powers embedded tweets. It needs no credentials and is effectively
// never rate limited, but fidelity is the lowest of the chain: no retweet
// or view counts, and the payload shape changes without notice.
type SyndicationClient struct {
	baseURL string
	http    *http.Client
}

// SyndicationConfig holds settings for the syndication client.
type SyndicationConfig struct {
	BaseURL string        `json:"base_url"` // default https://cdn.syndication.twimg.com
	Timeout time.Duration `json:"timeout"`
}

// NewSyndicationClient creates a syndication endpoint client.
func NewSyndicationClient(cfg SyndicationConfig) *SyndicationClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://cdn.syndication.twimg.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SyndicationClient{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
	}
}

type syndicationResponse struct {
	IDStr string `json:"id_str"`
	Text  string `json:"text"`
	User  struct {
		IDStr      string `json:"id_str"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	CreatedAt         time.Time `json:"created_at"`
	FavoriteCount     int64     `json:"favorite_count"`
	ConversationCount int64     `json:"conversation_count"`
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// syndicationToken derives the undocumented token parameter the endpoint
// requires: (id / 1e15) * pi rendered in base 36 with zeros and the radix
// point stripped.
func syndicationToken(id string) string {
	n, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return "1"
	}
	v := n / 1e15 * math.Pi

	intPart := int64(v)
	frac := v - float64(intPart)

	tok := strconv.FormatInt(intPart, 36)
	for i := 0; i < 8 && frac > 0; i++ {
		frac *= 36
		digit := int(frac)
		tok += string(base36[digit])
		frac -= float64(digit)
	}

	out := make([]byte, 0, len(tok))
	for i := 0; i < len(tok); i++ {
		if tok[i] == '0' || tok[i] == '.' {
			continue
		}
		out = append(out, tok[i])
	}
	if len(out) == 0 {
		return "1"
	}
	return string(out)
}

// FetchByID fetches a tweet from the public embed endpoint. The returned
// engagement carries likes and replies only.
func (c *SyndicationClient) FetchByID(ctx context.Context, id string) (*Tweet, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("token", syndicationToken(id))
	endpoint := c.baseURL + "/tweet-result?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("twitter: build syndication request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter: syndication request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("twitter: syndication status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("twitter: read syndication response: %w", err)
	}

	// A deleted or protected tweet returns an empty body with 200.
	if len(body) == 0 {
		return nil, ErrNotFound
	}

	var out syndicationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("twitter: decode syndication response: %w", err)
	}
	if out.IDStr == "" {
		return nil, ErrNotFound
	}

	return &Tweet{
		ID:             out.IDStr,
		Text:           out.Text,
		AuthorID:       out.User.IDStr,
		AuthorUsername: out.User.ScreenName,
		CreatedAt:      out.CreatedAt,
		Engagement: Engagement{
			Likes:   out.FavoriteCount,
			Replies: out.ConversationCount,
		},
		Source: "syndication",
	}, nil
}
