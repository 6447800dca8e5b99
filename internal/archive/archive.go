// Package archive persists delivered records to Postgres. The JSONL
// sink remains the session-scoped artifact; the archive is the queryable
// long-term copy behind the ops API.
package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ifebuche/twifesh/internal/records"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

var recordColumns = []string{
	"tweet_id", "created_at", "tweet", "tweet_clean", "source",
	"quoted_id", "in_reply_to_id",
	"author_id", "author_name", "author_username", "author_description",
	"author_location", "author_image", "author_join_date",
	"author_following_count", "author_followers_count", "author_total_tweets",
	"author_verified",
}

// InsertRecords batch-inserts normalized records into stream_records.
func (s *Store) InsertRecords(ctx context.Context, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{
			r.TweetID, r.CreatedAt, r.Text, r.CleanText, r.Source,
			r.QuotedID, r.ReplyToID,
			r.AuthorID, r.AuthorName, r.AuthorUsername, r.AuthorDescription,
			r.AuthorLocation, r.AuthorImage, r.AuthorJoinDate,
			r.AuthorFollowing, r.AuthorFollowers, r.AuthorTweets,
			r.AuthorVerified,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"stream_records"},
		recordColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}

	slog.Debug("inserted records", "count", len(recs))
	return nil
}

// QueryRecent returns the most recently archived records, newest first.
func (s *Store) QueryRecent(ctx context.Context, limit int) ([]records.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT tweet_id, created_at, tweet, tweet_clean, source,
		       quoted_id, in_reply_to_id,
		       author_id, author_name, author_username, author_description,
		       author_location, author_image, author_join_date,
		       author_following_count, author_followers_count, author_total_tweets,
		       author_verified
		FROM stream_records
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []records.Record
	for rows.Next() {
		var r records.Record
		if err := rows.Scan(
			&r.TweetID, &r.CreatedAt, &r.Text, &r.CleanText, &r.Source,
			&r.QuotedID, &r.ReplyToID,
			&r.AuthorID, &r.AuthorName, &r.AuthorUsername, &r.AuthorDescription,
			&r.AuthorLocation, &r.AuthorImage, &r.AuthorJoinDate,
			&r.AuthorFollowing, &r.AuthorFollowers, &r.AuthorTweets,
			&r.AuthorVerified,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
