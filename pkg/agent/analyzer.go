// Package agent implements the three-stage taxonomy-maintenance loop
// (Analyzer, Proposer, Reorganizer) and the Orchestrator that composes
// them, per spec.md §4.5.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tagrover/tagrover/pkg/storage"
)

// AnalyzerConfig tunes the thresholds spec.md §4.5 names with defaults.
type AnalyzerConfig struct {
	WindowDays           int
	SparseUsageThreshold int
	BloatedCategorySize  int
	UnevenHighShare      float64
	UnevenLowShare       float64
	DuplicateSimilarity  float64
}

func defaultAnalyzerConfig(cfg AnalyzerConfig) AnalyzerConfig {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.SparseUsageThreshold <= 0 {
		cfg.SparseUsageThreshold = 3
	}
	if cfg.BloatedCategorySize <= 0 {
		cfg.BloatedCategorySize = 15
	}
	if cfg.UnevenHighShare <= 0 {
		cfg.UnevenHighShare = 0.30
	}
	if cfg.UnevenLowShare <= 0 {
		cfg.UnevenLowShare = 0.05
	}
	if cfg.DuplicateSimilarity <= 0 {
		cfg.DuplicateSimilarity = 0.85
	}
	return cfg
}

// UnevenDistribution is an L1 tag whose share of all L1 tag usage is too
// high or too low. The share is computed from all-time usage counts; it is
// not limited to the analysis window.
type UnevenDistribution struct {
	TagName string
	Share   float64
}

// SparseTag is a non-L1 tag whose all-time usage count (not limited to the
// analysis window) is below threshold. The same
// shape doubles as a bloated category's per-tag usage entry.
type SparseTag struct {
	TagID      int64
	TagName    string
	UsageCount int
}

// BloatedCategory is an L2 category that has accumulated too many tags,
// carrying its tags sorted by usage descending so the Proposer can take
// the top N for the review_category proposal payload.
type BloatedCategory struct {
	Category string
	TagCount int
	Tags     []SparseTag
}

// DuplicateCandidate is a pair of non-L1 tags whose names are suspiciously
// similar, ordered by the sorted name tuple.
type DuplicateCandidate struct {
	NameA, NameB   string
	TagA, TagB     int64
	UsageA, UsageB int
	Similarity     float64
}

// AnalysisResult is everything the Analyzer emits for one run.
type AnalysisResult struct {
	UnevenDistributions []UnevenDistribution
	OrphanStories       int
	BloatedCategories   []BloatedCategory
	SparseTags          []SparseTag
	DuplicateCandidates []DuplicateCandidate
}

// Analyzer reads tag statistics and flags structural problems in the
// taxonomy for the Proposer to act on. Only the orphan-story count is
// limited to the rolling window; every other check uses all-time tag usage.
type Analyzer struct {
	stories *storage.StoryStore
	tags    *storage.TagStore
	cfg     AnalyzerConfig
}

func NewAnalyzer(stories *storage.StoryStore, tags *storage.TagStore, cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{stories: stories, tags: tags, cfg: defaultAnalyzerConfig(cfg)}
}

// Run performs the full analysis pass described in spec.md §4.5. It is
// intentionally read-only: no store calls beyond the plain listing and
// counting operations that already exist in pkg/storage.
func (a *Analyzer) Run(ctx context.Context) (*AnalysisResult, error) {
	allTags, err := a.tags.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags for analysis: %w", err)
	}

	result := &AnalysisResult{}

	l1Total := 0
	l1Usage := map[string]int{}
	for _, t := range allTags {
		if t.Level == 1 {
			l1Usage[t.Name] = t.UsageCount
			l1Total += t.UsageCount
		}
	}
	if l1Total > 0 {
		for name, usage := range l1Usage {
			share := float64(usage) / float64(l1Total)
			if share > a.cfg.UnevenHighShare || (share > 0 && share < a.cfg.UnevenLowShare) {
				result.UnevenDistributions = append(result.UnevenDistributions, UnevenDistribution{TagName: name, Share: share})
			}
		}
		sort.Slice(result.UnevenDistributions, func(i, j int) bool {
			return result.UnevenDistributions[i].TagName < result.UnevenDistributions[j].TagName
		})
	}

	categoryTags := map[string][]SparseTag{}
	for _, t := range allTags {
		if t.Level == 2 && t.Category != nil {
			categoryTags[*t.Category] = append(categoryTags[*t.Category], SparseTag{TagID: t.ID, TagName: t.Name, UsageCount: t.UsageCount})
		}
	}
	for category, tags := range categoryTags {
		if len(tags) <= a.cfg.BloatedCategorySize {
			continue
		}
		sort.Slice(tags, func(i, j int) bool {
			if tags[i].UsageCount != tags[j].UsageCount {
				return tags[i].UsageCount > tags[j].UsageCount
			}
			return tags[i].TagName < tags[j].TagName
		})
		result.BloatedCategories = append(result.BloatedCategories, BloatedCategory{Category: category, TagCount: len(tags), Tags: tags})
	}
	sort.Slice(result.BloatedCategories, func(i, j int) bool {
		return result.BloatedCategories[i].Category < result.BloatedCategories[j].Category
	})

	var nonL1 []storage.Tag
	for _, t := range allTags {
		if t.Level != 1 {
			nonL1 = append(nonL1, t)
			if t.UsageCount < a.cfg.SparseUsageThreshold {
				result.SparseTags = append(result.SparseTags, SparseTag{TagID: t.ID, TagName: t.Name, UsageCount: t.UsageCount})
			}
		}
	}
	sort.Slice(result.SparseTags, func(i, j int) bool { return result.SparseTags[i].TagName < result.SparseTags[j].TagName })

	result.DuplicateCandidates = findDuplicates(nonL1, a.cfg.DuplicateSimilarity)

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.WindowDays)
	orphanCount, err := a.countOrphanStories(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	result.OrphanStories = orphanCount

	return result, nil
}

// countOrphanStories counts window stories with no L1 and no L2 tag.
// Implemented in terms of existing store operations rather than a new
// bespoke query: it lists the 5000 highest-scoring stories, skips those
// older than cutoff, and checks each remaining one's tag set. Window stories
// outside the top 5000 by score are not counted.
// This is acceptable because analyzer runs are weekly and batched, not on
// the request-serving path the chunked/EXISTS-subquery discipline targets.
func (a *Analyzer) countOrphanStories(ctx context.Context, cutoff time.Time) (int, error) {
	candidates, err := a.stories.List(ctx, 0, 5000)
	if err != nil {
		return 0, fmt.Errorf("list stories for orphan scan: %w", err)
	}

	orphans := 0
	for _, s := range candidates {
		if s.UpstreamCreatedAt.Before(cutoff) {
			continue
		}
		tags, err := a.tags.TagsForStory(ctx, s.ID)
		if err != nil {
			return 0, fmt.Errorf("list tags for story %d: %w", s.ID, err)
		}
		hasL1OrL2 := false
		for _, t := range tags {
			if t.Level == 1 || t.Level == 2 {
				hasL1OrL2 = true
				break
			}
		}
		if !hasL1OrL2 {
			orphans++
		}
	}
	return orphans, nil
}

// findDuplicates pairs non-L1 tags whose case-insensitive longest-common-
// subsequence similarity exceeds threshold, deduplicated by sorted name
// tuple and sorted by similarity descending.
func findDuplicates(tags []storage.Tag, threshold float64) []DuplicateCandidate {
	var out []DuplicateCandidate
	for i := 0; i < len(tags); i++ {
		for j := i + 1; j < len(tags); j++ {
			a, b := tags[i], tags[j]
			sim := lcsSimilarity(strings.ToLower(a.Name), strings.ToLower(b.Name))
			if sim <= threshold {
				continue
			}
			nameA, nameB := a.Name, b.Name
			tagA, tagB, usageA, usageB := a.ID, b.ID, a.UsageCount, b.UsageCount
			if nameB < nameA {
				nameA, nameB = nameB, nameA
				tagA, tagB = tagB, tagA
				usageA, usageB = usageB, usageA
			}
			out = append(out, DuplicateCandidate{
				NameA: nameA, NameB: nameB, TagA: tagA, TagB: tagB,
				UsageA: usageA, UsageB: usageB, Similarity: sim,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].NameA < out[j].NameA
	})
	return out
}

// lcsSimilarity returns the longest-common-subsequence length of a and b
// normalized by the longer string's length, in [0, 1].
func lcsSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcsLen := prev[len(rb)]

	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	return float64(lcsLen) / float64(longer)
}
