package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tag mirrors a row of the tags table plus its derived UsageCount, which is
// never stored — it is computed from story_tags at read time (spec.md §4.4,
// superseding the original's increment-on-attach counter).
type Tag struct {
	ID         int64
	Name       string
	Slug       string
	Level      int
	Category   *string
	IsMisc     bool
	UsageCount int
}

type TagStore struct {
	pool *pgxpool.Pool
}

func NewTagStore(pool *pgxpool.Pool) *TagStore {
	return &TagStore{pool: pool}
}

// GetOrCreateBySlug returns the tag with the given slug, creating it with
// the supplied name/level/category/isMisc if absent. The unique constraint
// on slug makes this race-safe under concurrent enrichment workers.
func (s *TagStore) GetOrCreateBySlug(ctx context.Context, slug, name string, level int, category *string, isMisc bool) (*Tag, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tags (name, slug, level, category, is_misc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, name, slug, level, category, is_misc`,
		name, slug, level, category, isMisc)

	var t Tag
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Level, &t.Category, &t.IsMisc); err != nil {
		return nil, fmt.Errorf("get or create tag %q: %w", slug, err)
	}
	return &t, nil
}

// GetBySlug returns a tag by slug, or ErrNotFound.
func (s *TagStore) GetBySlug(ctx context.Context, slug string) (*Tag, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, slug, level, category, is_misc FROM tags WHERE slug = $1`, slug)
	var t Tag
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Level, &t.Category, &t.IsMisc); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tag %q: %w", slug, err)
	}
	return &t, nil
}

// AttachToStory idempotently links a tag to a story: a second attach of the
// same (story, tag) pair is a silent no-op, never an error (spec.md §4.3
// idempotent-attachment invariant).
func (s *TagStore) AttachToStory(ctx context.Context, storyID, tagID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO story_tags (story_id, tag_id) VALUES ($1, $2)
		ON CONFLICT (story_id, tag_id) DO NOTHING`, storyID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag %d to story %d: %w", tagID, storyID, err)
	}
	return nil
}

// TagsForStory returns every tag attached to a story, each with its derived
// usage_count filled in, ordered level ascending then name.
func (s *TagStore) TagsForStory(ctx context.Context, storyID int64) ([]Tag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, t.slug, t.level, t.category, t.is_misc,
		       (SELECT COUNT(*) FROM story_tags st2 WHERE st2.tag_id = t.id) AS usage_count
		FROM tags t
		JOIN story_tags st ON st.tag_id = t.id
		WHERE st.story_id = $1
		ORDER BY t.level ASC, t.name ASC`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list tags for story %d: %w", storyID, err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// ListByLevel returns every tag at the given level with its derived
// usage_count. The grouped-tags endpoint and the taxonomy agents use ListAll
// instead.
func (s *TagStore) ListByLevel(ctx context.Context, level int) ([]Tag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, t.slug, t.level, t.category, t.is_misc,
		       (SELECT COUNT(*) FROM story_tags st WHERE st.tag_id = t.id) AS usage_count
		FROM tags t
		WHERE t.level = $1
		ORDER BY t.name ASC`, level)
	if err != nil {
		return nil, fmt.Errorf("list tags at level %d: %w", level, err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// ListAll returns every tag with its derived usage_count.
func (s *TagStore) ListAll(ctx context.Context) ([]Tag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, t.slug, t.level, t.category, t.is_misc,
		       (SELECT COUNT(*) FROM story_tags st WHERE st.tag_id = t.id) AS usage_count
		FROM tags t
		ORDER BY t.level ASC, t.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// MergeInto reassigns every story_tags row from srcTagID to dstTagID,
// de-duplicating on the (story_id, tag_id) primary key, then deletes the
// source tag. Runs in a single transaction so a crash mid-merge can never
// leave the source tag dangling with some stories repointed and some not.
func (s *TagStore) MergeInto(ctx context.Context, srcTagID, dstTagID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO story_tags (story_id, tag_id)
		SELECT story_id, $1 FROM story_tags WHERE tag_id = $2
		ON CONFLICT (story_id, tag_id) DO NOTHING`, dstTagID, srcTagID); err != nil {
		return fmt.Errorf("repoint story_tags: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tags WHERE id = $1`, srcTagID); err != nil {
		return fmt.Errorf("delete merged tag %d: %w", srcTagID, err)
	}
	return tx.Commit(ctx)
}

// Delete removes a tag outright (cascades to story_tags via FK).
func (s *TagStore) Delete(ctx context.Context, tagID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tags WHERE id = $1`, tagID)
	if err != nil {
		return fmt.Errorf("delete tag %d: %w", tagID, err)
	}
	return nil
}

func scanTags(rows pgx.Rows) ([]Tag, error) {
	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Level, &t.Category, &t.IsMisc, &t.UsageCount); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
