package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tagrover/tagrover/pkg/storage"
)

// ProposerConfig tunes proposal generation.
type ProposerConfig struct {
	MaxProposalsPerRun int
}

func defaultProposerConfig(cfg ProposerConfig) ProposerConfig {
	if cfg.MaxProposalsPerRun <= 0 {
		cfg.MaxProposalsPerRun = 20
	}
	return cfg
}

// MergeTagsPayload is the tagged-union payload for a merge_tags proposal.
type MergeTagsPayload struct {
	SourceTagIDs []int64 `json:"source_tag_ids"`
	TargetTagID  int64   `json:"target_tag_id"`
	TargetName   string  `json:"target_name"`
}

// CreateTagPayload is the payload for a create_tag proposal.
type CreateTagPayload struct {
	Name     string  `json:"name"`
	Category *string `json:"category,omitempty"`
}

// RetireTagPayload is the payload for a retire_tag proposal.
type RetireTagPayload struct {
	TagID         int64  `json:"tag_id"`
	TagName       string `json:"tag_name"`
	ReplacementID *int64 `json:"replacement_id,omitempty"`
}

// ReviewCategoryPayload is the payload for a review_category proposal.
type ReviewCategoryPayload struct {
	Category string   `json:"category"`
	TopTags  []string `json:"top_tags"`
}

// oracleSparseTagProposal is the shape the LLM oracle is asked to emit for
// a sparse tag: one of merge/create/retire, conservative by instruction.
type oracleSparseTagProposal struct {
	Action      string  `json:"action"` // "merge", "create", or "retire"
	TagID       int64   `json:"tag_id"`
	TargetTagID int64   `json:"target_tag_id,omitempty"`
	NewName     string  `json:"new_name,omitempty"`
	Category    *string `json:"category,omitempty"`
	Reason      string  `json:"reason"`
}

// SparseTagAdvisor is the narrow oracle capability the Proposer uses for
// sparse-tag decisions — a "be conservative" structured-output call,
// distinct from the enrichment oracle.Oracle interface.
type SparseTagAdvisor interface {
	AdviseSparseTags(ctx context.Context, tags []SparseTag) ([]oracleSparseTagProposal, error)
}

// Proposer converts Analyzer findings into bounded, prioritized proposals.
type Proposer struct {
	proposals *storage.TagProposalStore
	advisor   SparseTagAdvisor
	cfg       ProposerConfig
}

func NewProposer(proposals *storage.TagProposalStore, advisor SparseTagAdvisor, cfg ProposerConfig) *Proposer {
	return &Proposer{proposals: proposals, advisor: advisor, cfg: defaultProposerConfig(cfg)}
}

type draftProposal struct {
	proposalType string
	priority     string
	reason       string
	data         any
	affected     int
}

// Run converts analysis into a prioritized, bounded set of persisted
// pending proposals attached to agentRunID.
func (p *Proposer) Run(ctx context.Context, agentRunID uuid.UUID, analysis *AnalysisResult) ([]uuid.UUID, error) {
	var drafts []draftProposal

	for _, dup := range analysis.DuplicateCandidates {
		priority := storage.ProposalPriorityLow
		if dup.Similarity > 0.9 {
			priority = storage.ProposalPriorityMedium
		}
		target, targetName, source, affected := dup.TagB, dup.NameB, dup.TagA, dup.UsageA
		if dup.UsageA > dup.UsageB {
			target, targetName, source, affected = dup.TagA, dup.NameA, dup.TagB, dup.UsageB
		}
		drafts = append(drafts, draftProposal{
			proposalType: storage.ProposalTypeMerge,
			priority:     priority,
			reason:       fmt.Sprintf("%q and %q are %.0f%% similar", dup.NameA, dup.NameB, dup.Similarity*100),
			data: MergeTagsPayload{
				SourceTagIDs: []int64{source},
				TargetTagID:  target,
				TargetName:   targetName,
			},
			affected: affected,
		})
	}

	if len(analysis.SparseTags) > 0 && p.advisor != nil {
		advised, err := p.advisor.AdviseSparseTags(ctx, analysis.SparseTags)
		if err != nil {
			// Oracle failure on the sparse-tag path yields zero proposals
			// from this source, never an error for the whole run.
			advised = nil
		}
		for _, a := range advised {
			switch a.Action {
			case "merge":
				drafts = append(drafts, draftProposal{
					proposalType: storage.ProposalTypeMerge,
					priority:     storage.ProposalPriorityLow,
					reason:       a.Reason,
					data:         MergeTagsPayload{SourceTagIDs: []int64{a.TagID}, TargetTagID: a.TargetTagID},
					affected:     1,
				})
			case "retire":
				drafts = append(drafts, draftProposal{
					proposalType: storage.ProposalTypeRetire,
					priority:     storage.ProposalPriorityLow,
					reason:       a.Reason,
					data:         RetireTagPayload{TagID: a.TagID},
					affected:     1,
				})
			case "create":
				drafts = append(drafts, draftProposal{
					proposalType: storage.ProposalTypeNewL3,
					priority:     storage.ProposalPriorityLow,
					reason:       a.Reason,
					data:         CreateTagPayload{Name: a.NewName, Category: a.Category},
					affected:     0,
				})
			}
		}
	}

	for _, bloated := range analysis.BloatedCategories {
		top := bloated.Tags
		if len(top) > 10 {
			top = top[:10]
		}
		topNames := make([]string, 0, len(top))
		affected := 0
		for _, t := range top {
			topNames = append(topNames, t.TagName)
			affected += t.UsageCount
		}
		drafts = append(drafts, draftProposal{
			proposalType: storage.ProposalTypeRecategorize,
			priority:     storage.ProposalPriorityLow,
			reason:       fmt.Sprintf("category %q has %d tags", bloated.Category, bloated.TagCount),
			data:         ReviewCategoryPayload{Category: bloated.Category, TopTags: topNames},
			affected:     affected,
		})
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		pi, pj := priorityRank(drafts[i].priority), priorityRank(drafts[j].priority)
		if pi != pj {
			return pi < pj
		}
		return drafts[i].affected > drafts[j].affected
	})
	if len(drafts) > p.cfg.MaxProposalsPerRun {
		drafts = drafts[:p.cfg.MaxProposalsPerRun]
	}

	ids := make([]uuid.UUID, 0, len(drafts))
	for _, d := range drafts {
		id, err := p.proposals.Create(ctx, agentRunID, d.proposalType, d.priority, d.reason, d.data, d.affected)
		if err != nil {
			return nil, fmt.Errorf("create proposal: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func priorityRank(p string) int {
	switch p {
	case storage.ProposalPriorityHigh:
		return 0
	case storage.ProposalPriorityMedium:
		return 1
	default:
		return 2
	}
}

// IsLowRisk implements the auto-approval predicate from spec.md §4.5:
// type in {merge_tags, retire_tag}, affected <= maxAffected, priority in
// {low, medium}.
func IsLowRisk(p *storage.TagProposal, maxAffected int) bool {
	typeOK := p.ProposalType == storage.ProposalTypeMerge || p.ProposalType == storage.ProposalTypeRetire
	affectedOK := p.AffectedStoriesCount <= maxAffected
	priorityOK := p.Priority == storage.ProposalPriorityLow || p.Priority == storage.ProposalPriorityMedium
	return typeOK && affectedOK && priorityOK
}
