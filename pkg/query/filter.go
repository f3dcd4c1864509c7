// Package query implements the tag-filter engine described in spec.md
// §4.6: AND-across-levels, OR-within-level predicates over stories' tag
// sets, built from EXISTS subqueries rather than a wide join + DISTINCT.
package query

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tagrover/tagrover/pkg/storage"
)

// MaxLimit is the hard pagination ceiling; callers asking for more get
// this instead.
const MaxLimit = 100

// Filter is the structured tag-filter input. Each non-empty clause is
// AND-combined across levels; within a level, include-lists are
// OR-combined.
type Filter struct {
	L1Include []string
	L1Exclude []string
	L2Include []string
	L2Exclude []string
	L3Include []string
	Offset    int
	Limit     int
}

func (f Filter) normalizedLimit() int {
	if f.Limit <= 0 || f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

// Engine runs Filter queries against the stories table.
type Engine struct {
	pool *pgxpool.Pool
}

func NewEngine(pool *pgxpool.Pool) *Engine {
	return &Engine{pool: pool}
}

// predicate builds the shared WHERE clause and its positional args for a
// Filter, used by both List and Count to keep them in sync.
func predicate(f Filter) (string, []any) {
	var clauses []string
	var args []any

	addInclude := func(level int, names []string) {
		if len(names) == 0 {
			return
		}
		args = append(args, level, names)
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM story_tags st JOIN tags t ON t.id = st.tag_id
			WHERE st.story_id = stories.id AND t.level = $%d AND t.name = ANY($%d)
		)`, len(args)-1, len(args)))
	}
	addExclude := func(level int, names []string) {
		if len(names) == 0 {
			return
		}
		args = append(args, level, names)
		clauses = append(clauses, fmt.Sprintf(`NOT EXISTS (
			SELECT 1 FROM story_tags st JOIN tags t ON t.id = st.tag_id
			WHERE st.story_id = stories.id AND t.level = $%d AND t.name = ANY($%d)
		)`, len(args)-1, len(args)))
	}

	addInclude(1, f.L1Include)
	addExclude(1, f.L1Exclude)
	addInclude(2, f.L2Include)
	addExclude(2, f.L2Exclude)
	addInclude(3, f.L3Include)

	where := "TRUE"
	for _, c := range clauses {
		where += " AND " + c
	}
	return where, args
}

// List returns stories matching the filter, ordered score desc, with
// offset/limit pagination capped at MaxLimit.
func (e *Engine) List(ctx context.Context, f Filter) ([]storage.Story, error) {
	where, args := predicate(f)
	limit := f.normalizedLimit()
	offsetArg := len(args) + 1
	limitArg := len(args) + 2
	args = append(args, f.Offset, limit)

	sqlText := fmt.Sprintf(`
		SELECT id, upstream_id, title, url, score, author, comment_count,
		       upstream_created_at, is_summarized, is_tagged, created_at, updated_at
		FROM stories
		WHERE %s
		ORDER BY score DESC, id DESC
		OFFSET $%d LIMIT $%d`, where, offsetArg, limitArg)

	rows, err := e.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list filtered stories: %w", err)
	}
	defer rows.Close()
	return scanStories(rows)
}

// Count returns the total number of stories matching the filter,
// ignoring Offset/Limit, using the identical predicate as List.
func (e *Engine) Count(ctx context.Context, f Filter) (int, error) {
	where, args := predicate(f)
	sqlText := fmt.Sprintf(`SELECT COUNT(*) FROM stories WHERE %s`, where)

	var count int
	if err := e.pool.QueryRow(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count filtered stories: %w", err)
	}
	return count, nil
}

func scanStories(rows pgx.Rows) ([]storage.Story, error) {
	var out []storage.Story
	for rows.Next() {
		var s storage.Story
		if err := rows.Scan(&s.ID, &s.UpstreamID, &s.Title, &s.URL, &s.Score, &s.Author,
			&s.CommentCount, &s.UpstreamCreatedAt, &s.IsSummarized, &s.IsTagged, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan filtered story row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
