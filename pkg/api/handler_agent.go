package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tagrover/tagrover/pkg/agent"
	"github.com/tagrover/tagrover/pkg/storage"
)

// setupAgentRoutes registers the taxonomy-maintenance agent's admin
// surface. Present only outside production per spec.md §6.
func (s *Server) setupAgentRoutes(r gin.IRoutes) {
	r.GET("/runs", s.listRunsHandler)
	r.GET("/runs/:id", s.getRunHandler)
	r.POST("/runs", s.triggerRunHandler)

	r.GET("/proposals", s.listProposalsHandler)
	r.GET("/proposals/:id", s.getProposalHandler)
	r.POST("/proposals/:id/approve", s.reviewProposalHandler(true))
	r.POST("/proposals/:id/reject", s.reviewProposalHandler(false))
	r.POST("/proposals/:id/execute", s.executeProposalHandler)
}

func (s *Server) listRunsHandler(c *gin.Context) {
	_, limit, ok := parsePagination(c, 20)
	if !ok {
		return
	}
	runs, err := s.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRunHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	run, err := s.runs.Get(c.Request.Context(), id)
	if err == storage.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// triggerRunHandler implements POST /agent/runs?mode=analysis|proposal|auto-apply.
func (s *Server) triggerRunHandler(c *gin.Context) {
	mode := c.DefaultQuery("mode", agent.ModeProposal)
	switch mode {
	case agent.ModeAnalysis, agent.ModeProposal, agent.ModeAutoApply:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode"})
		return
	}

	result, err := s.orchestrator.Run(c.Request.Context(), mode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "agent run failed"})
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (s *Server) listProposalsHandler(c *gin.Context) {
	status := c.DefaultQuery("status", storage.ProposalStatusPending)
	proposals, err := s.proposals.ListByStatus(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list proposals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

func (s *Server) getProposalHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}
	proposal, err := s.proposals.Get(c.Request.Context(), id)
	if err == storage.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch proposal"})
		return
	}
	c.JSON(http.StatusOK, proposal)
}

func (s *Server) reviewProposalHandler(approve bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
			return
		}
		reviewer := c.DefaultQuery("reviewer", "api")
		if err := s.proposals.Review(c.Request.Context(), id, approve, reviewer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to review proposal"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reviewed"})
	}
}

// executeProposalHandler implements POST /agent/proposals/{id}/execute?dry_run=.
// A re-execution attempt raises *agent.ExecutionError, a programmer error
// surfaced as 400 per spec.md §7.
func (s *Server) executeProposalHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return
	}
	dryRun := c.Query("dry_run") == "true"

	result, err := s.reorganizer.Execute(c.Request.Context(), id, dryRun)
	var execErr *agent.ExecutionError
	if errors.As(err, &execErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": execErr.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to execute proposal"})
		return
	}
	c.JSON(http.StatusOK, result)
}
