// Package scraper implements the dual-mode (backfill/continuous) ingestion
// state machine described in spec.md §4.2: two independent scraper_state
// rows driving a single shared batch-processing kernel.
package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/tagrover/tagrover/pkg/hn"
	"github.com/tagrover/tagrover/pkg/storage"
)

// BatchStats summarizes one call to ProcessItemBatch.
type BatchStats struct {
	ItemsScanned      int
	StoriesFound      int
	StoriesNew        int
	ReachedTargetDate bool
}

// Kernel is the shared batch-processing core both backfill and continuous
// mode drive: given a set of candidate ids, skip the ones already stored,
// fetch the rest from upstream, filter to live stories, and bulk-upsert.
type Kernel struct {
	hn      *hn.Client
	stories *storage.StoryStore
	users   *storage.UserStore
}

func NewKernel(hnClient *hn.Client, stories *storage.StoryStore, users *storage.UserStore) *Kernel {
	return &Kernel{hn: hnClient, stories: stories, users: users}
}

// ProcessItemBatch implements the shared kernel steps from spec.md §4.2.
// targetTS, when non-nil, causes any fetched story older than it to be
// dropped and ReachedTargetDate to be set once any such story is seen —
// the signal backfill mode uses to know it has reached its horizon.
func (k *Kernel) ProcessItemBatch(ctx context.Context, ids []int64, targetTS *time.Time) (BatchStats, error) {
	var stats BatchStats
	if len(ids) == 0 {
		return stats, nil
	}

	existing, err := k.stories.ExistingUpstreamIDs(ctx, ids)
	if err != nil {
		return stats, fmt.Errorf("check existing ids: %w", err)
	}

	var novel []int64
	for _, id := range ids {
		if !existing[id] {
			novel = append(novel, id)
		}
	}
	stats.ItemsScanned = len(ids)
	if len(novel) == 0 {
		return stats, nil
	}

	items, _ := k.hn.GetItemsBatch(ctx, novel)

	var inputs []storage.UpsertInput
	for _, item := range items {
		if item == nil || !item.IsStory() {
			continue
		}
		createdAt := time.Unix(item.Time, 0).UTC()
		if targetTS != nil && createdAt.Before(*targetTS) {
			stats.ReachedTargetDate = true
			continue
		}
		inputs = append(inputs, storage.UpsertInput{
			UpstreamID:        item.ID,
			Title:             item.Title,
			URL:               storage.SanitizeURL(item.URL),
			Score:             item.Score,
			Author:            item.By,
			CommentCount:      item.Descendants,
			UpstreamCreatedAt: createdAt,
		})
	}
	stats.StoriesFound = len(inputs)

	if len(inputs) > 0 {
		newCount, err := k.stories.BulkUpsert(ctx, inputs)
		if err != nil {
			return stats, fmt.Errorf("bulk upsert batch: %w", err)
		}
		stats.StoriesNew = newCount
	}

	k.trackAuthors(ctx, inputs)

	return stats, nil
}

// trackAuthors opportunistically populates the users table for authors
// seen in this batch that aren't already tracked. A fetch failure for any
// one author is dropped silently — author tracking is a supplemental
// view, never a gate on ingestion (spec.md's users-table addendum).
func (k *Kernel) trackAuthors(ctx context.Context, inputs []storage.UpsertInput) {
	if k.users == nil {
		return
	}
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if in.Author == "" || seen[in.Author] {
			continue
		}
		seen[in.Author] = true

		if _, err := k.users.Get(ctx, in.Author); err == nil {
			continue
		}
		profile, err := k.hn.GetUser(ctx, in.Author)
		if err != nil || profile == nil {
			continue
		}
		created := time.Unix(profile.Created, 0).UTC()
		var about *string
		if profile.About != "" {
			about = &profile.About
		}
		_ = k.users.Upsert(ctx, storage.User{
			Username:  profile.ID,
			Karma:     profile.Karma,
			About:     about,
			CreatedAt: &created,
		})
	}
}
