package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User mirrors the supplemented users table (spec.md SUPPLEMENTED FEATURES:
// HN author profiles, dropped from the distilled spec but present in
// original_source/ and worth carrying forward for the story-author view).
type User struct {
	Username  string
	Karma     int
	About     *string
	CreatedAt *time.Time
}

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Upsert writes or refreshes a user's profile fields.
func (s *UserStore) Upsert(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, karma, about, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET karma = EXCLUDED.karma, about = EXCLUDED.about`,
		u.Username, u.Karma, u.About, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", u.Username, err)
	}
	return nil
}

// Get returns a user by username, or ErrNotFound.
func (s *UserStore) Get(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT username, karma, about, created_at FROM users WHERE username = $1`, username)
	var u User
	if err := row.Scan(&u.Username, &u.Karma, &u.About, &u.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return &u, nil
}
