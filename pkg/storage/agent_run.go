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

// Agent run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Agent run types. RunTypeOrchestrator covers a full analysis/proposal/
// auto-apply pass; RunTypeProposer identifies a standalone proposal-only
// run.
const (
	RunTypeProposer     = "proposer"
	RunTypeOrchestrator = "orchestrator"
)

// AgentRun mirrors the agent_runs table.
type AgentRun struct {
	ID           uuid.UUID
	RunType      string
	Status       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	ResultData   json.RawMessage
}

type AgentRunStore struct {
	pool *pgxpool.Pool
}

func NewAgentRunStore(pool *pgxpool.Pool) *AgentRunStore {
	return &AgentRunStore{pool: pool}
}

// Start records the beginning of an agent run and returns its id.
func (s *AgentRunStore) Start(ctx context.Context, runType string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_runs (id, run_type, status) VALUES ($1, $2, $3)`,
		id, runType, RunStatusRunning)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start agent run %q: %w", runType, err)
	}
	return id, nil
}

// Complete records a successful finish with the given result payload.
func (s *AgentRunStore) Complete(ctx context.Context, id uuid.UUID, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal agent run result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE agent_runs SET status = $2, completed_at = now(), result_data = $3 WHERE id = $1`,
		id, RunStatusCompleted, data)
	if err != nil {
		return fmt.Errorf("complete agent run %s: %w", id, err)
	}
	return nil
}

// Fail records a failed run, preserving the error for observability.
func (s *AgentRunStore) Fail(ctx context.Context, id uuid.UUID, runErr error) error {
	msg := runErr.Error()
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_runs SET status = $2, completed_at = now(), error_message = $3 WHERE id = $1`,
		id, RunStatusFailed, msg)
	if err != nil {
		return fmt.Errorf("fail agent run %s: %w", id, err)
	}
	return nil
}

// Get returns a run by id, or ErrNotFound.
func (s *AgentRunStore) Get(ctx context.Context, id uuid.UUID) (*AgentRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, run_type, status, started_at, completed_at, error_message, result_data
		FROM agent_runs WHERE id = $1`, id)
	var r AgentRun
	if err := row.Scan(&r.ID, &r.RunType, &r.Status, &r.StartedAt, &r.CompletedAt, &r.ErrorMessage, &r.ResultData); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent run %s: %w", id, err)
	}
	return &r, nil
}

// ListRecent returns the most recent runs, newest first.
func (s *AgentRunStore) ListRecent(ctx context.Context, limit int) ([]AgentRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_type, status, started_at, completed_at, error_message, result_data
		FROM agent_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent agent runs: %w", err)
	}
	defer rows.Close()

	var out []AgentRun
	for rows.Next() {
		var r AgentRun
		if err := rows.Scan(&r.ID, &r.RunType, &r.Status, &r.StartedAt, &r.CompletedAt, &r.ErrorMessage, &r.ResultData); err != nil {
			return nil, fmt.Errorf("scan agent run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
