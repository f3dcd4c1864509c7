package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tagrover/tagrover/pkg/storage"
)

// groupedTagsHandler implements GET /api/tags/grouped, returning every tag
// split by level plus an L2 category grouping, per spec.md §6.
func (s *Server) groupedTagsHandler(c *gin.Context) {
	all, err := s.tags.ListAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tags"})
		return
	}

	l1 := []storage.Tag{}
	l2 := []storage.Tag{}
	l3 := []storage.Tag{}
	categories := map[string][]storage.Tag{}

	for _, t := range all {
		switch t.Level {
		case 1:
			l1 = append(l1, t)
		case 2:
			l2 = append(l2, t)
			if t.Category != nil {
				categories[*t.Category] = append(categories[*t.Category], t)
			}
		case 3:
			l3 = append(l3, t)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"l1":         l1,
		"l2":         l2,
		"l3":         l3,
		"categories": categories,
	})
}
