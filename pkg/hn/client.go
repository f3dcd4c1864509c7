// Package hn is a client for the Hacker News Firebase API
// (https://hacker-news.firebaseio.com/v0), grounded on the hn-telegram-bot
// reference clients' http.Client-wrapping shape and extended with bounded
// concurrency and backoff for the bulk item fetches the scraper needs.
package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

// Item mirrors the subset of HN item fields the system consumes. Dead and
// deleted items decode with their zero-value fields and an explicit
// Dead/Deleted flag rather than erroring, since both are common and valid
// upstream states, not failures.
type Item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// IsStory reports whether the item is a top-level story (as opposed to a
// comment, job, poll, or pollopt) and is neither dead nor deleted.
func (it *Item) IsStory() bool {
	return it != nil && it.Type == "story" && !it.Dead && !it.Deleted
}

// Config controls the client's HTTP behavior.
type Config struct {
	BaseURL        string
	MaxConcurrency int64
	MaxRetries     int
	BaseBackoff    time.Duration
	Timeout        time.Duration
}

// Client fetches story/item data from the Hacker News Firebase API through
// a single pooled *http.Client, bounding in-flight requests with a
// semaphore and retrying 429s and 5xxs with exponential backoff.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	sem         *semaphore.Weighted
	maxRetries  int
	baseBackoff time.Duration
}

// NewClient builds a Client, defaulting any zero-valued Config fields to
// the values documented in spec.md §6 (HN_MAX_CONCURRENT_REQUESTS=50,
// HN_REQUEST_TIMEOUT=30s, HN_MAX_RETRIES=3, HN_RETRY_BACKOFF_MS=50).
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://hacker-news.firebaseio.com/v0"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 50 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrency),
		maxRetries: cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
}

// Close is a no-op retained for symmetry with callers that defer Close on
// every client they construct; http.Client needs no explicit teardown.
func (c *Client) Close() {}

// MaxItemID returns the current largest item id known upstream, the
// starting cursor for continuous-mode scraping.
func (c *Client) MaxItemID(ctx context.Context) (int64, error) {
	var id int64
	if err := c.getJSON(ctx, "/maxitem.json", &id); err != nil {
		return 0, fmt.Errorf("fetch max item id: %w", err)
	}
	return id, nil
}

// TopStoryIDs returns the current top story ids, highest-ranked first.
func (c *Client) TopStoryIDs(ctx context.Context) ([]int64, error) {
	return c.idList(ctx, "/topstories.json")
}

// NewStoryIDs returns the most recently submitted story ids.
func (c *Client) NewStoryIDs(ctx context.Context) ([]int64, error) {
	return c.idList(ctx, "/newstories.json")
}

// BestStoryIDs returns the curated "best" story ids.
func (c *Client) BestStoryIDs(ctx context.Context) ([]int64, error) {
	return c.idList(ctx, "/beststories.json")
}

func (c *Client) idList(ctx context.Context, path string) ([]int64, error) {
	var ids []int64
	if err := c.getJSON(ctx, path, &ids); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return ids, nil
}

// GetItem fetches one item by id. A nil item with a nil error is returned
// for ids that no longer resolve upstream (HN returns the literal JSON
// value "null" for these), distinct from a transport or decode error.
func (c *Client) GetItem(ctx context.Context, id int64) (*Item, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire request slot: %w", err)
	}
	defer c.sem.Release(1)

	var item *Item
	err := c.getJSONWithRetry(ctx, fmt.Sprintf("/item/%d.json", id), &item)
	if err != nil {
		return nil, fmt.Errorf("fetch item %d: %w", id, err)
	}
	return item, nil
}

// User mirrors the subset of HN's user profile fields the system tracks.
type User struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Karma   int    `json:"karma"`
	About   string `json:"about"`
}

// GetUser fetches one user profile by username. As with GetItem, a nil
// user and nil error together mean the username no longer resolves
// upstream (HN returns "null" for these).
func (c *Client) GetUser(ctx context.Context, username string) (*User, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire request slot: %w", err)
	}
	defer c.sem.Release(1)

	var user *User
	if err := c.getJSONWithRetry(ctx, fmt.Sprintf("/user/%s.json", username), &user); err != nil {
		return nil, fmt.Errorf("fetch user %q: %w", username, err)
	}
	return user, nil
}

// GetItemsBatch fetches many items concurrently, bounded by the client's
// semaphore, and returns them in the same order as ids. A fetch failure for
// one id does not abort the others; it is reported in errs keyed by id so
// callers can decide whether a partial batch is acceptable.
func (c *Client) GetItemsBatch(ctx context.Context, ids []int64) ([]*Item, map[int64]error) {
	items := make([]*Item, len(ids))
	errsCh := make(chan struct {
		idx int
		id  int64
		err error
	}, len(ids))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, id := range ids {
			i, id := i, id
			go func() {
				item, err := c.GetItem(ctx, id)
				if err != nil {
					errsCh <- struct {
						idx int
						id  int64
						err error
					}{i, id, err}
					return
				}
				items[i] = item
				errsCh <- struct {
					idx int
					id  int64
					err error
				}{i, id, nil}
			}()
		}
	}()

	errs := make(map[int64]error)
	for range ids {
		res := <-errsCh
		if res.err != nil {
			errs[res.id] = res.err
		}
	}
	<-done

	return items, errs
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	return c.getJSONWithRetry(ctx, path, v)
}

// getJSONWithRetry performs the request, retrying on 429 (rate limited) and
// 5xx responses with exponential backoff: baseBackoff * 2^attempt, and twice
// that wait when the previous attempt was rejected with 429, per spec.md
// §6's HN client backoff policy.
func (c *Client) getJSONWithRetry(ctx context.Context, path string, v any) error {
	url := c.baseURL + path

	var lastErr error
	backoff := c.baseBackoff
	rateLimited := false
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if rateLimited {
				wait *= 2
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			backoff *= 2
		}
		rateLimited = false

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			rateLimited = resp.StatusCode == http.StatusTooManyRequests
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}

		decodeErr := json.NewDecoder(resp.Body).Decode(v)
		resp.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("decode response: %w", decodeErr)
		}
		return nil
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}
