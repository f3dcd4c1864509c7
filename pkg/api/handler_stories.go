package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tagrover/tagrover/pkg/query"
	"github.com/tagrover/tagrover/pkg/storage"
)

const defaultListLimit = 30

// listStoriesHandler implements GET /api/v1/stories?offset=&limit=.
func (s *Server) listStoriesHandler(c *gin.Context) {
	offset, limit, ok := parsePagination(c, defaultListLimit)
	if !ok {
		return
	}

	stories, err := s.stories.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories, "offset": offset, "limit": limit})
}

// getStoryHandler implements GET /api/v1/stories/{id}.
func (s *Server) getStoryHandler(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid story id"})
		return
	}

	story, err := s.stories.Get(c.Request.Context(), id)
	if err == storage.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "story not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch story"})
		return
	}
	c.JSON(http.StatusOK, story)
}

// refreshHandler implements POST /api/v1/stories/refresh, triggering an
// out-of-band scrape tick. Guarded by requireAPIKey when an api key is
// configured.
func (s *Server) refreshHandler(c *gin.Context) {
	if s.refresh == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh not configured"})
		return
	}
	if err := s.refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh triggered"})
}

// parsePagination parses offset/limit query params, defaulting limit to
// def and rejecting out-of-range values with 400 per spec.md §6.
func parsePagination(c *gin.Context, def int) (offset, limit int, ok bool) {
	offset = 0
	limit = def

	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return 0, 0, false
		}
		offset = v
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > query.MaxLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = v
	}
	return offset, limit, true
}
