// Package storage implements the persistence layer over the tables defined
// in the database migrations: stories, summaries, tags, story_tags,
// scraper_state, agent_runs, tag_proposals and users.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Story mirrors the stories table.
type Story struct {
	ID                 int64
	UpstreamID         int64
	Title              string
	URL                *string
	Score              int
	Author             string
	CommentCount       int
	UpstreamCreatedAt  time.Time
	IsSummarized       bool
	IsTagged           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StoryStore persists and queries Story rows.
type StoryStore struct {
	pool *pgxpool.Pool
}

func NewStoryStore(pool *pgxpool.Pool) *StoryStore {
	return &StoryStore{pool: pool}
}

// SanitizeURL strips any URL whose scheme is not http/https (case
// insensitive), returning nil. Pure function, the URL-sanitization
// invariant from spec.md §8.
func SanitizeURL(raw string) *string {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil
	}
	return &raw
}

// UpsertInput is the mutable projection of a Story accepted by bulk upsert.
type UpsertInput struct {
	UpstreamID        int64
	Title             string
	URL               *string
	Score             int
	Author            string
	CommentCount      int
	UpstreamCreatedAt time.Time
}

// ExistingUpstreamIDs returns the subset of ids already present as
// upstream_id values, chunking the IN-clause at 1000 entries to keep query
// planning bounded regardless of input size (spec.md §4.2/§9 chunking note;
// the tests store 1001 rows and probe with 2500 ids).
func (s *StoryStore) ExistingUpstreamIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	const chunkSize = 1000
	result := make(map[int64]bool, len(ids))

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		if len(chunk) == 0 {
			continue
		}

		rows, err := s.pool.Query(ctx, `SELECT upstream_id FROM stories WHERE upstream_id = ANY($1)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("query existing upstream ids: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					return err
				}
				result[id] = true
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, fmt.Errorf("scan existing upstream ids: %w", err)
		}
	}

	return result, nil
}

// BulkUpsert inserts the given stories, updating mutable fields on
// upstream_id conflict. Each row is its own INSERT ... ON CONFLICT
// statement; all of them are sent as one pgx batch inside one transaction,
// so there is no per-row read-then-write loop, but the upsert is not a
// single multi-row statement. Returns the number of stories newly inserted
// (rows that were updated are not counted).
func (s *StoryStore) BulkUpsert(ctx context.Context, inputs []UpsertInput) (newCount int, err error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(inputs))
	for i, in := range inputs {
		rows[i] = []any{in.UpstreamID, in.Title, in.URL, in.Score, in.Author, in.CommentCount, in.UpstreamCreatedAt}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// xmax = 0 distinguishes an inserted row from an updated one in the
	// RETURNING clause, letting us report how many stories were genuinely new.
	const stmt = `
		INSERT INTO stories (upstream_id, title, url, score, author, comment_count, upstream_created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (upstream_id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			score = EXCLUDED.score,
			author = EXCLUDED.author,
			comment_count = EXCLUDED.comment_count,
			updated_at = now()
		RETURNING (xmax = 0) AS inserted`

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(stmt, r...)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("upsert story batch: %w", err)
		}
		if inserted {
			newCount++
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close upsert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert tx: %w", err)
	}
	return newCount, nil
}

// List returns stories ordered by score desc with offset/limit pagination.
func (s *StoryStore) List(ctx context.Context, offset, limit int) ([]Story, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, upstream_id, title, url, score, author, comment_count,
		       upstream_created_at, is_summarized, is_tagged, created_at, updated_at
		FROM stories
		ORDER BY score DESC, id DESC
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()
	return scanStories(rows)
}

// Get returns a single story by surrogate id.
func (s *StoryStore) Get(ctx context.Context, id int64) (*Story, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, upstream_id, title, url, score, author, comment_count,
		       upstream_created_at, is_summarized, is_tagged, created_at, updated_at
		FROM stories WHERE id = $1`, id)

	var st Story
	if err := row.Scan(&st.ID, &st.UpstreamID, &st.Title, &st.URL, &st.Score, &st.Author,
		&st.CommentCount, &st.UpstreamCreatedAt, &st.IsSummarized, &st.IsTagged, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get story: %w", err)
	}
	return &st, nil
}

// UnsummarizedOrUntagged returns stories needing enrichment, highest score
// first, used both by GenerateMissing's selection rule and the recovery job.
func (s *StoryStore) UnsummarizedOrUntagged(ctx context.Context, limit int) ([]Story, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, upstream_id, title, url, score, author, comment_count,
		       upstream_created_at, is_summarized, is_tagged, created_at, updated_at
		FROM stories
		WHERE is_summarized = FALSE OR is_tagged = FALSE
		ORDER BY score DESC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed stories: %w", err)
	}
	defer rows.Close()
	return scanStories(rows)
}

// MarkEnriched sets is_summarized and is_tagged to true.
func (s *StoryStore) MarkEnriched(ctx context.Context, storyID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE stories SET is_summarized = TRUE, is_tagged = TRUE, updated_at = now() WHERE id = $1`, storyID)
	if err != nil {
		return fmt.Errorf("mark story enriched: %w", err)
	}
	return nil
}

func scanStories(rows pgx.Rows) ([]Story, error) {
	var out []Story
	for rows.Next() {
		var st Story
		if err := rows.Scan(&st.ID, &st.UpstreamID, &st.Title, &st.URL, &st.Score, &st.Author,
			&st.CommentCount, &st.UpstreamCreatedAt, &st.IsSummarized, &st.IsTagged, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
