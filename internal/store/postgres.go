package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements SnapshotStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the snapshot schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS engagement_snapshots (
		id BIGSERIAL PRIMARY KEY,
		tweet_id TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		likes BIGINT NOT NULL,
		retweets BIGINT NOT NULL,
		replies BIGINT NOT NULL,
		views BIGINT NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		resolved_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	idx := `CREATE INDEX IF NOT EXISTS engagement_snapshots_tweet_idx
		ON engagement_snapshots (tweet_id, resolved_at DESC)`
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO engagement_snapshots (tweet_id, author, likes, retweets, replies, views, source, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.TweetID, snap.Author,
		snap.Engagement.Likes, snap.Engagement.Retweets, snap.Engagement.Replies, snap.Engagement.Views,
		snap.Source, snap.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, tweetID string) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT tweet_id, author, likes, retweets, replies, views, source, resolved_at
		 FROM engagement_snapshots
		 WHERE tweet_id = $1
		 ORDER BY resolved_at DESC
		 LIMIT 1`, tweetID,
	).Scan(&snap.TweetID, &snap.Author,
		&snap.Engagement.Likes, &snap.Engagement.Retweets, &snap.Engagement.Replies, &snap.Engagement.Views,
		&snap.Source, &snap.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
