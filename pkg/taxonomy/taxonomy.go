// Package taxonomy implements the fixed L1/L2 vocabulary plus open L3
// classification that every tag in the system is resolved against.
package taxonomy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tagrover/tagrover/pkg/storage"
)

// L1 is the closed top-level vocabulary. Must be preserved verbatim.
var L1 = []string{"Tech", "Business", "Science", "Society"}

// L2 groups the closed second-level vocabulary by category. Must be
// preserved verbatim — these are the categories the grouped-tags endpoint
// and the taxonomy-maintenance agent reason about.
var L2 = map[string][]string{
	"Region":      {"EU", "USA", "China", "Canada", "India", "Germany", "France", "Netherlands", "UK"},
	"Tech Stacks": {"Python", "Rust", "Go", "JavaScript", "Linux"},
	"Tech Topics": {"AI/ML", "Web", "Systems", "Security", "Mobile", "DevOps", "Data", "Cloud", "Open Source", "Hardware"},
	"Business":    {"Startups", "Finance", "Career", "Products", "Legal", "Marketing"},
	"Science":     {"Research", "Space", "Biology", "Physics"},
}

var (
	l1Set        map[string]bool
	l2NameToCat  map[string]string
	slugCollapse = regexp.MustCompile(`[^a-z0-9]+`)
)

func init() {
	l1Set = make(map[string]bool, len(L1))
	for _, name := range L1 {
		l1Set[name] = true
	}
	l2NameToCat = make(map[string]string)
	for category, names := range L2 {
		for _, name := range names {
			l2NameToCat[name] = category
		}
	}
}

// NormalizeSlug lowercases name, collapses every run of non-alphanumeric
// characters to a single hyphen, and trims leading/trailing hyphens. Pure.
func NormalizeSlug(name string) string {
	lower := strings.ToLower(name)
	collapsed := slugCollapse.ReplaceAllString(lower, "-")
	return strings.Trim(collapsed, "-")
}

// LevelFor classifies name by exact, case-sensitive membership against L1
// then L2; anything else is level 3 (open vocabulary).
func LevelFor(name string) int {
	if l1Set[name] {
		return 1
	}
	if _, ok := l2NameToCat[name]; ok {
		return 2
	}
	return 3
}

// CategoryFor returns the L2 category name carries, or nil for L1/L3 tags.
func CategoryFor(name string) *string {
	if cat, ok := l2NameToCat[name]; ok {
		return &cat
	}
	return nil
}

// Service resolves raw tag names into persisted Tag rows. It holds no
// cache: ResolveTags dedupes names by slug within one call, and every
// distinct name, including one that recurs across stories of a batch,
// costs a store lookup.
type Service struct {
	tags *storage.TagStore
}

func NewService(tags *storage.TagStore) *Service {
	return &Service{tags: tags}
}

// GetOrCreateTag looks up name by its normalized slug, creating it with the
// level/category/is_misc derived from LevelFor/CategoryFor if absent. Never
// touches usage_count — that is always derived at read time.
func (s *Service) GetOrCreateTag(ctx context.Context, name string) (*storage.Tag, error) {
	slug := NormalizeSlug(name)
	if slug == "" {
		return nil, fmt.Errorf("taxonomy: empty tag name %q normalizes to empty slug", name)
	}

	level := LevelFor(name)
	category := CategoryFor(name)
	isMisc := level == 3

	tag, err := s.tags.GetOrCreateBySlug(ctx, slug, name, level, category, isMisc)
	if err != nil {
		return nil, fmt.Errorf("get or create tag %q: %w", name, err)
	}
	return tag, nil
}

// FlatTags is the L1/L2/L3 name triple the oracle emits per story.
type FlatTags struct {
	L1 []string
	L2 []string
	L3 []string
}

// ResolveTags dedupes the flattened tag names by slug (preserving
// first-seen order across L1, then L2, then L3) and resolves each to a
// persisted Tag via GetOrCreateTag.
func (s *Service) ResolveTags(ctx context.Context, flat FlatTags) ([]storage.Tag, error) {
	seen := make(map[string]bool)
	var ordered []string
	for _, group := range [][]string{flat.L1, flat.L2, flat.L3} {
		for _, name := range group {
			slug := NormalizeSlug(name)
			if slug == "" || seen[slug] {
				continue
			}
			seen[slug] = true
			ordered = append(ordered, name)
		}
	}

	resolved := make([]storage.Tag, 0, len(ordered))
	for _, name := range ordered {
		tag, err := s.GetOrCreateTag(ctx, name)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, *tag)
	}
	return resolved, nil
}
