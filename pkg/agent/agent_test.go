package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrover/tagrover/pkg/agent"
	"github.com/tagrover/tagrover/pkg/storage"
	testdb "github.com/tagrover/tagrover/test/database"
)

func seedTaggedStory(t *testing.T, ctx context.Context, stories *storage.StoryStore, tags *storage.TagStore, upstreamID int64, tagNames ...string) int64 {
	t.Helper()
	now := time.Now().UTC()
	_, err := stories.BulkUpsert(ctx, []storage.UpsertInput{
		{UpstreamID: upstreamID, Title: "story", Score: 1, Author: "a", UpstreamCreatedAt: now},
	})
	require.NoError(t, err)

	row := storage.Story{}
	all, err := stories.List(ctx, 0, 1000)
	require.NoError(t, err)
	for _, s := range all {
		if s.UpstreamID == upstreamID {
			row = s
		}
	}
	for _, name := range tagNames {
		slug := name
		tag, err := tags.GetOrCreateBySlug(ctx, slug, name, 1, nil, false)
		require.NoError(t, err)
		require.NoError(t, tags.AttachToStory(ctx, row.ID, tag.ID))
	}
	return row.ID
}

func TestAnalyzer_FindsDuplicateCandidates(t *testing.T) {
	client := testdb.NewTestClient(t)
	stories := storage.NewStoryStore(client.Pool)
	tags := storage.NewTagStore(client.Pool)
	ctx := context.Background()

	storyID := seedTaggedStory(t, ctx, stories, tags, 1)
	a, err := tags.GetOrCreateBySlug(ctx, "kubernetes", "Kubernetes", 3, nil, true)
	require.NoError(t, err)
	b, err := tags.GetOrCreateBySlug(ctx, "kubernets", "Kubernets", 3, nil, true)
	require.NoError(t, err)
	require.NoError(t, tags.AttachToStory(ctx, storyID, a.ID))
	require.NoError(t, tags.AttachToStory(ctx, storyID, b.ID))

	analyzer := agent.NewAnalyzer(stories, tags, agent.AnalyzerConfig{})
	result, err := analyzer.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, result.DuplicateCandidates)
	assert.Equal(t, "Kubernetes", result.DuplicateCandidates[0].NameA)
}

func TestAnalyzer_FindsBloatedCategory(t *testing.T) {
	client := testdb.NewTestClient(t)
	stories := storage.NewStoryStore(client.Pool)
	tags := storage.NewTagStore(client.Pool)
	ctx := context.Background()

	category := "Tech Stacks"
	for i := 0; i < 16; i++ {
		slug := fmt.Sprintf("lang-%d", i)
		_, err := tags.GetOrCreateBySlug(ctx, slug, slug, 2, &category, false)
		require.NoError(t, err)
	}

	analyzer := agent.NewAnalyzer(stories, tags, agent.AnalyzerConfig{BloatedCategorySize: 15})
	result, err := analyzer.Run(ctx)
	require.NoError(t, err)
	require.Len(t, result.BloatedCategories, 1)
	assert.Equal(t, "Tech Stacks", result.BloatedCategories[0].Category)
	assert.Equal(t, 16, result.BloatedCategories[0].TagCount)
	assert.Len(t, result.BloatedCategories[0].Tags, 16)
}

func TestProposer_DuplicatesBecomeMergeProposalsPrioritizedBySimilarity(t *testing.T) {
	client := testdb.NewTestClient(t)
	proposals := storage.NewTagProposalStore(client.Pool)
	runs := storage.NewAgentRunStore(client.Pool)
	ctx := context.Background()

	runID, err := runs.Start(ctx, storage.RunTypeProposer)
	require.NoError(t, err)

	analysis := &agent.AnalysisResult{
		DuplicateCandidates: []agent.DuplicateCandidate{
			{NameA: "go", NameB: "golang", TagA: 1, TagB: 2, UsageA: 10, UsageB: 3, Similarity: 0.95},
		},
	}

	proposer := agent.NewProposer(proposals, nil, agent.ProposerConfig{})
	ids, err := proposer.Run(ctx, runID, analysis)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	proposal, err := proposals.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, storage.ProposalTypeMerge, proposal.ProposalType)
	assert.Equal(t, storage.ProposalPriorityMedium, proposal.Priority)
}

func TestProposer_BloatedCategoryProposalCarriesTopTenTagsAndSummedUsage(t *testing.T) {
	client := testdb.NewTestClient(t)
	proposals := storage.NewTagProposalStore(client.Pool)
	runs := storage.NewAgentRunStore(client.Pool)
	ctx := context.Background()

	runID, err := runs.Start(ctx, storage.RunTypeProposer)
	require.NoError(t, err)

	var tags []agent.SparseTag
	for i := 0; i < 12; i++ {
		tags = append(tags, agent.SparseTag{TagID: int64(i), TagName: fmt.Sprintf("tag-%02d", i), UsageCount: 12 - i})
	}
	analysis := &agent.AnalysisResult{
		BloatedCategories: []agent.BloatedCategory{
			{Category: "Tech Stacks", TagCount: len(tags), Tags: tags},
		},
	}

	proposer := agent.NewProposer(proposals, nil, agent.ProposerConfig{})
	ids, err := proposer.Run(ctx, runID, analysis)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	proposal, err := proposals.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, storage.ProposalTypeRecategorize, proposal.ProposalType)

	var payload agent.ReviewCategoryPayload
	require.NoError(t, json.Unmarshal(proposal.Data, &payload))
	assert.Len(t, payload.TopTags, 10)
	assert.Equal(t, "tag-00", payload.TopTags[0])

	wantAffected := 0
	for _, t := range tags[:10] {
		wantAffected += t.UsageCount
	}
	assert.Equal(t, wantAffected, proposal.AffectedStoriesCount)
}

func TestOrchestrator_AutoApplyApprovesLowRiskProposalsOnly(t *testing.T) {
	client := testdb.NewTestClient(t)
	stories := storage.NewStoryStore(client.Pool)
	tags := storage.NewTagStore(client.Pool)
	proposals := storage.NewTagProposalStore(client.Pool)
	runs := storage.NewAgentRunStore(client.Pool)
	ctx := context.Background()

	a, err := tags.GetOrCreateBySlug(ctx, "postgres", "Postgres", 3, nil, true)
	require.NoError(t, err)
	b, err := tags.GetOrCreateBySlug(ctx, "postgress", "Postgress", 3, nil, true)
	require.NoError(t, err)
	storyID := seedTaggedStory(t, ctx, stories, tags, 99)
	require.NoError(t, tags.AttachToStory(ctx, storyID, a.ID))
	require.NoError(t, tags.AttachToStory(ctx, storyID, b.ID))

	analyzer := agent.NewAnalyzer(stories, tags, agent.AnalyzerConfig{})
	proposer := agent.NewProposer(proposals, nil, agent.ProposerConfig{})
	orchestrator := agent.NewOrchestrator(runs, proposals, analyzer, proposer, agent.OrchestratorConfig{AutoApproveMaxAffected: 5})

	result, err := orchestrator.Run(ctx, agent.ModeAutoApply)
	require.NoError(t, err)
	require.NotEmpty(t, result.ProposalIDs)
	assert.NotEmpty(t, result.AutoApprovedIDs)

	for _, id := range result.AutoApprovedIDs {
		p, err := proposals.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, storage.ProposalStatusApproved, p.Status)
	}
}

func TestReorganizer_ReExecutingAnExecutedProposalRaises(t *testing.T) {
	client := testdb.NewTestClient(t)
	tags := storage.NewTagStore(client.Pool)
	proposals := storage.NewTagProposalStore(client.Pool)
	runs := storage.NewAgentRunStore(client.Pool)
	ctx := context.Background()

	src, err := tags.GetOrCreateBySlug(ctx, "src", "Src", 3, nil, true)
	require.NoError(t, err)
	dst, err := tags.GetOrCreateBySlug(ctx, "dst", "Dst", 3, nil, true)
	require.NoError(t, err)

	runID, err := runs.Start(ctx, storage.RunTypeProposer)
	require.NoError(t, err)
	id, err := proposals.Create(ctx, runID, storage.ProposalTypeMerge, storage.ProposalPriorityLow, "test",
		agent.MergeTagsPayload{SourceTagIDs: []int64{src.ID}, TargetTagID: dst.ID}, 0)
	require.NoError(t, err)
	require.NoError(t, proposals.Review(ctx, id, true, "tester"))

	reorg := agent.NewReorganizer(proposals, tags)

	res, err := reorg.Execute(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)

	_, err = reorg.Execute(ctx, id, false)
	require.NoError(t, err)

	_, err = reorg.Execute(ctx, id, false)
	require.Error(t, err)
	var execErr *agent.ExecutionError
	assert.ErrorAs(t, err, &execErr)
}
