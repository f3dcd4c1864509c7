// Package enrichment drives the per-story summarization and tagging loop
// described in spec.md §4.3.
package enrichment

import (
	"context"
	"fmt"

	"github.com/tagrover/tagrover/pkg/oracle"
	"github.com/tagrover/tagrover/pkg/storage"
	"github.com/tagrover/tagrover/pkg/taxonomy"
)

// Pipeline calls the oracle for stories missing a summary or tags,
// persists what comes back, and marks the story enriched.
//
// Processing is sequential per Pipeline instance — the oracle round trip
// and the subsequent writes are not safe for concurrent use on the same
// Pipeline. Callers that want parallelism must fan out across independent
// Pipeline instances (spec.md §4.3's correctness-over-throughput choice).
type Pipeline struct {
	oracle    oracle.Oracle
	stories   *storage.StoryStore
	summaries *storage.SummaryStore
	tags      *storage.TagStore
	taxonomy  *taxonomy.Service
	model     string
}

func NewPipeline(o oracle.Oracle, stories *storage.StoryStore, summaries *storage.SummaryStore, tags *storage.TagStore, tax *taxonomy.Service, model string) *Pipeline {
	return &Pipeline{oracle: o, stories: stories, summaries: summaries, tags: tags, taxonomy: tax, model: model}
}

// GenerateMissing selects up to limit stories lacking a summary or tags,
// highest score first, and enriches each in turn. It returns the number of
// stories actually enriched; oracle misses are skipped, not counted as
// errors, and never abort the loop.
func (p *Pipeline) GenerateMissing(ctx context.Context, limit int) (int, error) {
	pending, err := p.stories.UnsummarizedOrUntagged(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("select stories pending enrichment: %w", err)
	}

	processed := 0
	for _, story := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		ok, err := p.enrichOne(ctx, story)
		if err != nil {
			return processed, fmt.Errorf("enrich story %d: %w", story.ID, err)
		}
		if ok {
			processed++
		}
	}
	return processed, nil
}

func (p *Pipeline) enrichOne(ctx context.Context, story storage.Story) (bool, error) {
	url := ""
	if story.URL != nil {
		url = *story.URL
	}

	result, err := p.oracle.Enrich(ctx, oracle.Input{Title: story.Title, URL: url})
	if err != nil {
		return false, nil //nolint:nilerr // oracle errors are swallowed per spec.md §4.3
	}
	if result == nil {
		return false, nil
	}

	if err := p.summaries.Upsert(ctx, story.ID, result.Summary, p.model); err != nil {
		return false, fmt.Errorf("persist summary: %w", err)
	}

	resolved, err := p.taxonomy.ResolveTags(ctx, taxonomy.FlatTags{L1: result.TagsL1, L2: result.TagsL2, L3: result.TagsL3})
	if err != nil {
		return false, fmt.Errorf("resolve tags: %w", err)
	}
	for _, tag := range resolved {
		if err := p.tags.AttachToStory(ctx, story.ID, tag.ID); err != nil {
			return false, fmt.Errorf("attach tag %q: %w", tag.Slug, err)
		}
	}

	if err := p.stories.MarkEnriched(ctx, story.ID); err != nil {
		return false, fmt.Errorf("mark story enriched: %w", err)
	}
	return true, nil
}
