// Package api exposes the HTTP query surface over gin, versioned under
// /api/v1 per spec.md §6. The teacher's pkg/api was built on labstack/echo;
// echo is absent from go.mod (only gin-gonic/gin is a direct dependency),
// so this rebuild follows the teacher's handler/middleware/response shape
// but runs on the framework actually present in the dependency graph.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tagrover/tagrover/pkg/agent"
	"github.com/tagrover/tagrover/pkg/database"
	"github.com/tagrover/tagrover/pkg/query"
	"github.com/tagrover/tagrover/pkg/storage"
	"github.com/tagrover/tagrover/pkg/version"
)

// Server wraps a gin engine wired to the storage/query/agent layers.
type Server struct {
	engine       *gin.Engine
	logger       *slog.Logger
	pool         *pgxpool.Pool
	stories      *storage.StoryStore
	summaries    *storage.SummaryStore
	tags         *storage.TagStore
	runs         *storage.AgentRunStore
	proposals    *storage.TagProposalStore
	filterEngine *query.Engine
	reorganizer  *agent.Reorganizer
	orchestrator *agent.Orchestrator
	apiKey       string
	isProduction bool
	configStats  any
	refresh      func(context.Context) error
}

// Dependencies bundles the collaborators NewServer wires into route
// handlers.
type Dependencies struct {
	Pool         *pgxpool.Pool
	Stories      *storage.StoryStore
	Summaries    *storage.SummaryStore
	Tags         *storage.TagStore
	Runs         *storage.AgentRunStore
	Proposals    *storage.TagProposalStore
	FilterEngine *query.Engine
	Reorganizer  *agent.Reorganizer
	Orchestrator *agent.Orchestrator
	APIKey       string
	IsProduction bool
	// ConfigStats is JSON-marshaled into the /health response alongside
	// the ok/fail status, mirroring the teacher's health handler
	// enriching beyond a bare status string.
	ConfigStats any
	// Refresh triggers an out-of-band scrape; wired directly to
	// scraper.Continuous.Tick by cmd/tagrover, outside the scheduler.
	Refresh func(context.Context) error
}

// NewServer builds a Server with routes registered but not yet serving.
func NewServer(logger *slog.Logger, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		engine:       engine,
		logger:       logger,
		pool:         deps.Pool,
		stories:      deps.Stories,
		summaries:    deps.Summaries,
		tags:         deps.Tags,
		runs:         deps.Runs,
		proposals:    deps.Proposals,
		filterEngine: deps.FilterEngine,
		reorganizer:  deps.Reorganizer,
		orchestrator: deps.Orchestrator,
		apiKey:       deps.APIKey,
		isProduction: deps.IsProduction,
		configStats:  deps.ConfigStats,
		refresh:      deps.Refresh,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/stories", s.listStoriesHandler)
	v1.GET("/stories/:id", s.getStoryHandler)
	v1.POST("/stories/refresh", s.requireAPIKey(), s.refreshHandler)

	apiGroup := s.engine.Group("/api")
	apiGroup.GET("/stories/advanced-filter.json", s.advancedFilterHandler)
	apiGroup.GET("/tags/grouped", s.groupedTagsHandler)

	if !s.isProduction {
		s.setupAgentRoutes(v1.Group("/agent"))
	}
}

// Handler exposes the gin engine for http.Server / net/http/httptest use.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status, err := database.Health(ctx, s.pool)
	if err != nil || status.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full(), "config": s.configStats})
}

func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing api key"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
