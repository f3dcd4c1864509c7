package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tagrover/tagrover/pkg/storage"
	"github.com/tagrover/tagrover/pkg/taxonomy"
)

// ExecutionError marks an invalid execution request (e.g. re-executing an
// already-executed proposal) as a programmer error rather than a runtime
// condition — grounded on the teacher's ValidationError idiom but distinct
// because this is never meant to be recovered from at the call site.
type ExecutionError struct {
	ProposalID uuid.UUID
	Reason     string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent: cannot execute proposal %s: %s", e.ProposalID, e.Reason)
}

// ExecutionResult reports what a Reorganizer.Execute call did.
type ExecutionResult struct {
	AffectedStories int
	DryRun          bool
}

// Reorganizer applies one approved proposal's effect to the taxonomy.
type Reorganizer struct {
	proposals *storage.TagProposalStore
	tags      *storage.TagStore
}

func NewReorganizer(proposals *storage.TagProposalStore, tags *storage.TagStore) *Reorganizer {
	return &Reorganizer{proposals: proposals, tags: tags}
}

// Execute applies proposal's effect. dryRun short-circuits after computing
// the affected count: no writes, no status transition. Executing a
// proposal that is not in approved status is a programmer error.
func (r *Reorganizer) Execute(ctx context.Context, proposalID uuid.UUID, dryRun bool) (*ExecutionResult, error) {
	proposal, err := r.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", proposalID, err)
	}
	if proposal.Status != storage.ProposalStatusApproved {
		return nil, &ExecutionError{ProposalID: proposalID, Reason: fmt.Sprintf("status is %q, not approved", proposal.Status)}
	}

	switch proposal.ProposalType {
	case storage.ProposalTypeMerge:
		return r.executeMerge(ctx, proposal, dryRun)
	case storage.ProposalTypeNewL3:
		return r.executeCreate(ctx, proposal, dryRun)
	case storage.ProposalTypeRetire:
		return r.executeRetire(ctx, proposal, dryRun)
	default:
		return nil, &ExecutionError{ProposalID: proposalID, Reason: fmt.Sprintf("no executor for proposal type %q", proposal.ProposalType)}
	}
}

func (r *Reorganizer) executeMerge(ctx context.Context, proposal *storage.TagProposal, dryRun bool) (*ExecutionResult, error) {
	var payload MergeTagsPayload
	if err := json.Unmarshal(proposal.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode merge_tags payload: %w", err)
	}

	affected := proposal.AffectedStoriesCount
	if dryRun {
		return &ExecutionResult{AffectedStories: affected, DryRun: true}, nil
	}

	for _, sourceID := range payload.SourceTagIDs {
		if err := r.tags.MergeInto(ctx, sourceID, payload.TargetTagID); err != nil {
			return nil, fmt.Errorf("merge tag %d into %d: %w", sourceID, payload.TargetTagID, err)
		}
	}

	if err := r.proposals.MarkExecuted(ctx, proposal.ID); err != nil {
		return nil, fmt.Errorf("mark proposal executed: %w", err)
	}
	return &ExecutionResult{AffectedStories: affected}, nil
}

func (r *Reorganizer) executeCreate(ctx context.Context, proposal *storage.TagProposal, dryRun bool) (*ExecutionResult, error) {
	var payload CreateTagPayload
	if err := json.Unmarshal(proposal.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode create_tag payload: %w", err)
	}

	if dryRun {
		return &ExecutionResult{DryRun: true}, nil
	}

	slug := taxonomy.NormalizeSlug(payload.Name)
	category := payload.Category
	if category == nil {
		category = taxonomy.CategoryFor(payload.Name)
	}
	if _, err := r.tags.GetOrCreateBySlug(ctx, slug, payload.Name, 2, category, false); err != nil {
		return nil, fmt.Errorf("create tag %q: %w", payload.Name, err)
	}

	if err := r.proposals.MarkExecuted(ctx, proposal.ID); err != nil {
		return nil, fmt.Errorf("mark proposal executed: %w", err)
	}
	return &ExecutionResult{}, nil
}

func (r *Reorganizer) executeRetire(ctx context.Context, proposal *storage.TagProposal, dryRun bool) (*ExecutionResult, error) {
	var payload RetireTagPayload
	if err := json.Unmarshal(proposal.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode retire_tag payload: %w", err)
	}

	if dryRun {
		return &ExecutionResult{AffectedStories: proposal.AffectedStoriesCount, DryRun: true}, nil
	}

	if payload.ReplacementID != nil {
		if err := r.tags.MergeInto(ctx, payload.TagID, *payload.ReplacementID); err != nil {
			return nil, fmt.Errorf("reassign retired tag %d to %d: %w", payload.TagID, *payload.ReplacementID, err)
		}
	} else {
		if err := r.tags.Delete(ctx, payload.TagID); err != nil {
			return nil, fmt.Errorf("delete retired tag %d: %w", payload.TagID, err)
		}
	}

	if err := r.proposals.MarkExecuted(ctx, proposal.ID); err != nil {
		return nil, fmt.Errorf("mark proposal executed: %w", err)
	}
	return &ExecutionResult{AffectedStories: proposal.AffectedStoriesCount}, nil
}
