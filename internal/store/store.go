// Package store persists resolved engagement snapshots for the points
// pipeline. The daemon runs fine without it; snapshot writes are best
// effort and never block a resolution.
package store

import (
	"context"
	"time"

	"github.com/edgequest/edgequest/internal/twitter"
)

// Snapshot is one persisted engagement observation.
type Snapshot struct {
	TweetID    string             `json:"tweet_id"`
	Author     string             `json:"author"`
	Engagement twitter.Engagement `json:"engagement"`
	Source     string             `json:"source"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// SnapshotStore records engagement snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LatestSnapshot returns the most recent snapshot for a tweet;
	// ok is false when none exists.
	LatestSnapshot(ctx context.Context, tweetID string) (snap Snapshot, ok bool, err error)
	Close() error
}

// Noop is the SnapshotStore used when persistence is not configured.
type Noop struct{}

func (Noop) SaveSnapshot(context.Context, Snapshot) error { return nil }

func (Noop) LatestSnapshot(context.Context, string) (Snapshot, bool, error) {
	return Snapshot{}, false, nil
}

func (Noop) Close() error { return nil }
