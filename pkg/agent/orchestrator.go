package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tagrover/tagrover/pkg/storage"
)

// Orchestrator modes, per spec.md §4.5.
const (
	ModeAnalysis  = "analysis"
	ModeProposal  = "proposal"
	ModeAutoApply = "auto-apply"
)

// OrchestratorConfig tunes the auto-apply threshold.
type OrchestratorConfig struct {
	AutoApproveMaxAffected int
}

func defaultOrchestratorConfig(cfg OrchestratorConfig) OrchestratorConfig {
	if cfg.AutoApproveMaxAffected <= 0 {
		cfg.AutoApproveMaxAffected = 5
	}
	return cfg
}

// OrchestratorResult summarizes one orchestrator run.
type OrchestratorResult struct {
	RunID           uuid.UUID
	Analysis        *AnalysisResult
	ProposalIDs     []uuid.UUID
	AutoApprovedIDs []uuid.UUID
}

// Orchestrator drives the Analyzer and Proposer according to the requested
// mode; it holds no Reorganizer. Auto-approval in auto-apply mode never executes a
// proposal itself — execution stays an explicit, separate action
// (spec.md §4.5).
type Orchestrator struct {
	runs      *storage.AgentRunStore
	proposals *storage.TagProposalStore
	analyzer  *Analyzer
	proposer  *Proposer
	cfg       OrchestratorConfig
}

func NewOrchestrator(runs *storage.AgentRunStore, proposals *storage.TagProposalStore, analyzer *Analyzer, proposer *Proposer, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{runs: runs, proposals: proposals, analyzer: analyzer, proposer: proposer, cfg: defaultOrchestratorConfig(cfg)}
}

// Run executes one orchestrator pass in the given mode.
func (o *Orchestrator) Run(ctx context.Context, mode string) (*OrchestratorResult, error) {
	runID, err := o.runs.Start(ctx, storage.RunTypeOrchestrator)
	if err != nil {
		return nil, fmt.Errorf("start agent run: %w", err)
	}

	result, runErr := o.run(ctx, runID, mode)
	if runErr != nil {
		if err := o.runs.Fail(ctx, runID, runErr); err != nil {
			return nil, fmt.Errorf("%w (also failed to record failure: %v)", runErr, err)
		}
		return nil, runErr
	}

	if err := o.runs.Complete(ctx, runID, result); err != nil {
		return nil, fmt.Errorf("complete agent run: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, runID uuid.UUID, mode string) (*OrchestratorResult, error) {
	result := &OrchestratorResult{RunID: runID}

	analysis, err := o.analyzer.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run analyzer: %w", err)
	}
	result.Analysis = analysis

	if mode == ModeAnalysis {
		return result, nil
	}

	proposalIDs, err := o.proposer.Run(ctx, runID, analysis)
	if err != nil {
		return nil, fmt.Errorf("run proposer: %w", err)
	}
	result.ProposalIDs = proposalIDs

	if mode != ModeAutoApply {
		return result, nil
	}

	for _, id := range proposalIDs {
		proposal, err := o.proposals.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load proposal %s for auto-approval: %w", id, err)
		}
		if !IsLowRisk(proposal, o.cfg.AutoApproveMaxAffected) {
			continue
		}
		if err := o.proposals.Review(ctx, id, true, "auto-approval"); err != nil {
			return nil, fmt.Errorf("auto-approve proposal %s: %w", id, err)
		}
		result.AutoApprovedIDs = append(result.AutoApprovedIDs, id)
	}

	return result, nil
}
