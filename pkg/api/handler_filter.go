package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tagrover/tagrover/pkg/query"
)

// advancedFilterHandler implements GET /api/stories/advanced-filter.json.
// Each *_include/*_exclude query param is a JSON-encoded array of tag
// names; a malformed or non-array value is silently treated as empty
// rather than rejected, per spec.md §6.
func (s *Server) advancedFilterHandler(c *gin.Context) {
	f := query.Filter{
		L1Include: parseJSONStringArray(c.Query("l1_include")),
		L1Exclude: parseJSONStringArray(c.Query("l1_exclude")),
		L2Include: parseJSONStringArray(c.Query("l2_include")),
		L2Exclude: parseJSONStringArray(c.Query("l2_exclude")),
		L3Include: parseJSONStringArray(c.Query("l3_include")),
	}

	offset, limit, ok := parsePagination(c, defaultListLimit)
	if !ok {
		return
	}
	f.Offset = offset
	f.Limit = limit

	stories, err := s.filterEngine.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to filter stories"})
		return
	}
	total, err := s.filterEngine.Count(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count filtered stories"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stories": stories, "total": total, "offset": offset, "limit": limit})
}

func parseJSONStringArray(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
