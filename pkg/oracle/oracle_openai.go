package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/tagrover/tagrover/pkg/taxonomy"
)

// responseSchema is the JSON schema the chat completion is constrained to,
// matching Result's shape exactly so decoding never needs defensive
// fallbacks beyond the "absent fields default to empty lists" rule in
// spec.md §4.3.
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"l1":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"l2":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"l3":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"summary", "l1", "l2", "l3"},
	"additionalProperties": false,
}

// OpenAIOracle implements Oracle against an OpenAI-compatible chat
// completions endpoint, grounded on the Tangerg-lynx openai provider's
// option.WithAPIKey client construction idiom.
type OpenAIOracle struct {
	client *openai.Client
	model  string
}

// NewOpenAIOracle builds an OpenAIOracle. baseURL is optional; when empty
// the client talks to the default OpenAI API endpoint.
func NewOpenAIOracle(apiKey, model, baseURL string) *OpenAIOracle {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIOracle{client: &client, model: model}
}

func (o *OpenAIOracle) Enrich(ctx context.Context, in Input) (*Result, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt()),
			openai.UserMessage(userPrompt(in)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "story_enrichment",
					Schema: responseSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		// A missing key, timeout, or any transport/API error is absorbed
		// here: the enrichment pipeline treats a nil result as "try this
		// story again next tick", never a hard failure.
		return nil, nil //nolint:nilerr
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var result Result
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &result, nil
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify Hacker News stories into a fixed taxonomy and write a one or two sentence summary.\n\n")
	b.WriteString("L1 categories (choose any that apply): " + strings.Join(taxonomy.L1, ", ") + "\n")
	b.WriteString("L2 categories, grouped:\n")
	for category, names := range taxonomy.L2 {
		b.WriteString(fmt.Sprintf("  %s: %s\n", category, strings.Join(names, ", ")))
	}
	b.WriteString("\nL3 is open-ended: invent a concise specific tag if nothing above fits (e.g. a library or product name).\n")
	b.WriteString("Respond only with the requested JSON object.")
	return b.String()
}

func userPrompt(in Input) string {
	return fmt.Sprintf("Title: %s\nURL: %s", in.Title, in.URL)
}
