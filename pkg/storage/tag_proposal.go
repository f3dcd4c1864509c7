package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Proposal statuses and priorities.
const (
	ProposalStatusPending  = "pending"
	ProposalStatusApproved = "approved"
	ProposalStatusRejected = "rejected"
	ProposalStatusExecuted = "executed"

	ProposalPriorityLow    = "low"
	ProposalPriorityMedium = "medium"
	ProposalPriorityHigh   = "high"
)

// Proposal types, one per kind of taxonomy edit the agents can suggest.
const (
	ProposalTypeMerge        = "merge_tags"
	ProposalTypeNewL3        = "create_tag"
	ProposalTypeRetire       = "retire_tag"
	ProposalTypeRecategorize = "review_category"
)

// TagProposal mirrors the tag_proposals table. Data holds the tagged-union
// payload specific to ProposalType (merge source/target ids, new tag name,
// and so on) as opaque JSON — decoded by pkg/agent into the typed payload
// structs it defines.
type TagProposal struct {
	ID                   uuid.UUID
	AgentRunID           uuid.UUID
	ProposalType         string
	Status               string
	Priority             string
	Reason               string
	Data                 json.RawMessage
	AffectedStoriesCount int
	CreatedAt            time.Time
	ReviewedAt           *time.Time
	ReviewedBy           *string
	ExecutedAt           *time.Time
}

type TagProposalStore struct {
	pool *pgxpool.Pool
}

func NewTagProposalStore(pool *pgxpool.Pool) *TagProposalStore {
	return &TagProposalStore{pool: pool}
}

// Create stores a new proposal in pending status.
func (s *TagProposalStore) Create(ctx context.Context, agentRunID uuid.UUID, proposalType, priority, reason string, data any, affectedStories int) (uuid.UUID, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal proposal data: %w", err)
	}
	id := uuid.New()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tag_proposals (id, agent_run_id, proposal_type, status, priority, reason, data, affected_stories_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, agentRunID, proposalType, ProposalStatusPending, priority, reason, payload, affectedStories)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create tag proposal: %w", err)
	}
	return id, nil
}

// Get returns a proposal by id, or ErrNotFound.
func (s *TagProposalStore) Get(ctx context.Context, id uuid.UUID) (*TagProposal, error) {
	row := s.pool.QueryRow(ctx, proposalSelect+` WHERE id = $1`, id)
	return scanProposal(row)
}

// ListByStatus returns proposals in the given status, oldest first.
func (s *TagProposalStore) ListByStatus(ctx context.Context, status string) ([]TagProposal, error) {
	rows, err := s.pool.Query(ctx, proposalSelect+` WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list proposals by status %q: %w", status, err)
	}
	defer rows.Close()

	var out []TagProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Review records a human decision (approve or reject) on a pending proposal.
func (s *TagProposalStore) Review(ctx context.Context, id uuid.UUID, approve bool, reviewer string) error {
	status := ProposalStatusRejected
	if approve {
		status = ProposalStatusApproved
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE tag_proposals SET status = $2, reviewed_at = now(), reviewed_by = $3
		WHERE id = $1 AND status = $4`, id, status, reviewer, ProposalStatusPending)
	if err != nil {
		return fmt.Errorf("review proposal %s: %w", id, err)
	}
	return nil
}

// MarkExecuted transitions an approved proposal to executed after its
// effect (merge/create/retire) has been applied.
func (s *TagProposalStore) MarkExecuted(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tag_proposals SET status = $2, executed_at = now() WHERE id = $1`,
		id, ProposalStatusExecuted)
	if err != nil {
		return fmt.Errorf("mark proposal %s executed: %w", id, err)
	}
	return nil
}

const proposalSelect = `
	SELECT id, agent_run_id, proposal_type, status, priority, reason, data,
	       affected_stories_count, created_at, reviewed_at, reviewed_by, executed_at
	FROM tag_proposals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*TagProposal, error) {
	var p TagProposal
	err := row.Scan(&p.ID, &p.AgentRunID, &p.ProposalType, &p.Status, &p.Priority, &p.Reason, &p.Data,
		&p.AffectedStoriesCount, &p.CreatedAt, &p.ReviewedAt, &p.ReviewedBy, &p.ExecutedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan tag proposal: %w", err)
	}
	return &p, nil
}
