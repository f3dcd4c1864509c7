package taxonomy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrover/tagrover/pkg/storage"
	"github.com/tagrover/tagrover/pkg/taxonomy"
	testdb "github.com/tagrover/tagrover/test/database"
)

func TestNormalizeSlug(t *testing.T) {
	cases := map[string]string{
		"AI/ML":       "ai-ml",
		"  Go  ":      "go",
		"Open Source": "open-source",
		"C++":         "c",
		"---weird--":  "weird",
	}
	for in, want := range cases {
		assert.Equal(t, want, taxonomy.NormalizeSlug(in), "input %q", in)
	}
}

func TestLevelForAndCategoryFor(t *testing.T) {
	assert.Equal(t, 1, taxonomy.LevelFor("Tech"))
	assert.Nil(t, taxonomy.CategoryFor("Tech"))

	assert.Equal(t, 2, taxonomy.LevelFor("Rust"))
	cat := taxonomy.CategoryFor("Rust")
	require.NotNil(t, cat)
	assert.Equal(t, "Tech Stacks", *cat)

	assert.Equal(t, 3, taxonomy.LevelFor("WebAssembly"))
	assert.Nil(t, taxonomy.CategoryFor("WebAssembly"))
}

func TestService_GetOrCreateTag_DerivesLevelCategoryAndMisc(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := taxonomy.NewService(storage.NewTagStore(client.Pool))
	ctx := context.Background()

	l1, err := svc.GetOrCreateTag(ctx, "Tech")
	require.NoError(t, err)
	assert.Equal(t, 1, l1.Level)
	assert.False(t, l1.IsMisc)

	l2, err := svc.GetOrCreateTag(ctx, "Python")
	require.NoError(t, err)
	assert.Equal(t, 2, l2.Level)
	require.NotNil(t, l2.Category)
	assert.Equal(t, "Tech Stacks", *l2.Category)
	assert.False(t, l2.IsMisc)

	l3, err := svc.GetOrCreateTag(ctx, "Zig")
	require.NoError(t, err)
	assert.Equal(t, 3, l3.Level)
	assert.True(t, l3.IsMisc)

	// Re-resolving the same name must return the same row, not a duplicate.
	again, err := svc.GetOrCreateTag(ctx, "Zig")
	require.NoError(t, err)
	assert.Equal(t, l3.ID, again.ID)
}

func TestService_ResolveTags_DedupesAndPreservesOrder(t *testing.T) {
	client := testdb.NewTestClient(t)
	svc := taxonomy.NewService(storage.NewTagStore(client.Pool))
	ctx := context.Background()

	resolved, err := svc.ResolveTags(ctx, taxonomy.FlatTags{
		L1: []string{"Tech"},
		L2: []string{"Rust", "Rust"},
		L3: []string{"Zig"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	assert.Equal(t, "tech", resolved[0].Slug)
	assert.Equal(t, "rust", resolved[1].Slug)
	assert.Equal(t, "zig", resolved[2].Slug)
}
