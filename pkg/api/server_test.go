package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrover/tagrover/pkg/agent"
	"github.com/tagrover/tagrover/pkg/api"
	"github.com/tagrover/tagrover/pkg/query"
	"github.com/tagrover/tagrover/pkg/storage"
	testdb "github.com/tagrover/tagrover/test/database"
)

func newTestServer(t *testing.T, apiKey string) (*api.Server, *storage.StoryStore, *storage.TagStore) {
	t.Helper()
	client := testdb.NewTestClient(t)
	stories := storage.NewStoryStore(client.Pool)
	tags := storage.NewTagStore(client.Pool)
	runs := storage.NewAgentRunStore(client.Pool)
	proposals := storage.NewTagProposalStore(client.Pool)
	engine := query.NewEngine(client.Pool)
	reorganizer := agent.NewReorganizer(proposals, tags)
	analyzer := agent.NewAnalyzer(stories, tags, agent.AnalyzerConfig{})
	proposer := agent.NewProposer(proposals, nil, agent.ProposerConfig{})
	orchestrator := agent.NewOrchestrator(runs, proposals, analyzer, proposer, agent.OrchestratorConfig{})

	s := api.NewServer(slog.New(slog.DiscardHandler), api.Dependencies{
		Pool:         client.Pool,
		Stories:      stories,
		Tags:         tags,
		Runs:         runs,
		Proposals:    proposals,
		FilterEngine: engine,
		Reorganizer:  reorganizer,
		Orchestrator: orchestrator,
		APIKey:       apiKey,
		IsProduction: false,
	})
	return s, stories, tags
}

func TestHealthHandler_ReturnsHealthyForLiveDB(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListStoriesHandler_RejectsOutOfRangeLimit(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stories?limit=1000")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStoryHandler_404ForAbsentID(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stories/999999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefreshHandler_RejectsMissingAPIKeyWhenConfigured(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/stories/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdvancedFilterHandler_MalformedParamBecomesEmptyFilter(t *testing.T) {
	s, stories, tags := newTestServer(t, "")
	ctx := context.Background()
	_, err := stories.BulkUpsert(ctx, []storage.UpsertInput{
		{UpstreamID: 1, Title: "story one", Score: 10, Author: "a", UpstreamCreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	_, err = tags.GetOrCreateBySlug(ctx, "tech", "Tech", 1, nil, false)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stories/advanced-filter.json?l1_include=not-json-array")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Total, "malformed filter param should behave as unfiltered")
}

func TestGroupedTagsHandler_SplitsByLevel(t *testing.T) {
	s, _, tags := newTestServer(t, "")
	ctx := context.Background()
	_, err := tags.GetOrCreateBySlug(ctx, "tech", "Tech", 1, nil, false)
	require.NoError(t, err)
	category := "Tech Stacks"
	_, err = tags.GetOrCreateBySlug(ctx, "rust", "Rust", 2, &category, false)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tags/grouped")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		L1         []storage.Tag              `json:"l1"`
		L2         []storage.Tag              `json:"l2"`
		Categories map[string][]storage.Tag   `json:"categories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.L1, 1)
	assert.Len(t, body.L2, 1)
	assert.Len(t, body.Categories["Tech Stacks"], 1)
}
