// Package twitter contains the upstream data-source clients for tweet
// engagement: the authenticated v2 API (primary), the scraper sidecar
// (secondary), and the public syndication endpoint (tertiary, partial
// fidelity). All clients classify upstream failures into the typed errors
// below so the fallback resolver can route around them.
package twitter

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Typed upstream errors. Rate limits and timeouts are transient and worth
// trying on another source; Unauthorized means the source's credentials are
// wrong and retrying per-request is pointless; NotFound is authoritative.
var (
	ErrRateLimited  = errors.New("twitter: rate limited")
	ErrUnauthorized = errors.New("twitter: unauthorized")
	ErrNotFound     = errors.New("twitter: tweet not found")
)

// Engagement holds the public metrics for a tweet.
type Engagement struct {
	Likes    int64 `json:"likes"`
	Retweets int64 `json:"retweets"`
	Replies  int64 `json:"replies"`
	Views    int64 `json:"views,omitempty"`
}

// Tweet is one resolved tweet with its engagement snapshot. Source records
// which data source satisfied the resolution, since fidelity differs: the
// syndication endpoint cannot report retweet counts.
type Tweet struct {
	ID             string     `json:"id"`
	Text           string     `json:"text,omitempty"`
	AuthorID       string     `json:"author_id,omitempty"`
	AuthorUsername string     `json:"author_username,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
	Engagement     Engagement `json:"engagement"`
	Source         string     `json:"source"`
}

var (
	statusRe   = regexp.MustCompile(`/status(?:es)?/(\d+)`)
	usernameRe = regexp.MustCompile(`(?:twitter\.com|x\.com)/(@?\w+)/status`)
)

// ParseTweetID extracts the numeric tweet ID from a tweet URL or returns
// the input unchanged when it is already a bare ID.
func ParseTweetID(raw string) (string, error) {
	if m := statusRe.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if isDigits(raw) {
		return raw, nil
	}
	return "", fmt.Errorf("twitter: invalid tweet URL or ID: %q", raw)
}

// ParseUsername extracts the author username from a tweet URL, or "" when
// the URL does not carry one.
func ParseUsername(raw string) string {
	if m := usernameRe.FindStringSubmatch(raw); m != nil {
		name := m[1]
		if name != "" && name[0] == '@' {
			name = name[1:]
		}
		return name
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
