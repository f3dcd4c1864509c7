// Package oracle wraps the LLM call the enrichment pipeline uses to
// produce a story's summary and taxonomy tags in one structured-output
// round trip.
package oracle

import "context"

// Result is the structured payload the oracle returns for one story:
// {summary: string, l1: [], l2: [], l3: []}. The three tag lists are
// top-level fields; they are not nested under a tags object.
type Result struct {
	Summary string   `json:"summary"`
	TagsL1  []string `json:"l1"`
	TagsL2  []string `json:"l2"`
	TagsL3  []string `json:"l3"`
}

// Input is what the oracle needs to produce a Result for one story.
type Input struct {
	Title string
	URL   string
}

// Oracle is the capability interface the enrichment pipeline depends on.
// A nil Result with a nil error signals "skip this story for now" (missing
// API key, oracle exception, oracle timeout) — never a hard failure,
// per spec.md §4.3.
type Oracle interface {
	Enrich(ctx context.Context, in Input) (*Result, error)
}
