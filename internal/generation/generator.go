// Package generation composes requests for the generation backend and parses
// its fixed JSON response shapes. The backend itself is opaque: this package
// only knows the request contract and the thread/rule shapes coming back.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nverev/threadsmith/internal/backend"
)

// Thread is one generated or refined thread of tweets.
type Thread struct {
	Title  string   `json:"title"`
	Tweets []string `json:"tweets"`
}

// EditRecord is an entry of the edit history handed to refinement.
type EditRecord struct {
	Original string `json:"original"`
	Edited   string `json:"edited"`
	Note     string `json:"note,omitempty"`
}

// RefineResult is the parsed refinement response: reworked threads plus any
// writing rules the model inferred from the edit history.
type RefineResult struct {
	UpdatedThreads []Thread `json:"updated_threads"`
	SuggestedRules []string `json:"suggested_rules"`
}

// Generator talks to the generation model.
type Generator struct {
	backend backend.Backend
	model   string
}

// NewGenerator creates a Generator using the given backend and model name.
func NewGenerator(b backend.Backend, model string) *Generator {
	return &Generator{backend: b, model: model}
}

// Generate produces threads for the given topic under the given instructions.
// Parse failures are errors: generation is user-visible, unlike capture.
func (g *Generator) Generate(ctx context.Context, instructions, topic string, count int) ([]Thread, error) {
	if count <= 0 {
		count = 1
	}

	messages := []backend.Message{
		{Role: "system", Content: instructions},
		{Role: "user", Content: fmt.Sprintf("Write %d tweet thread(s) about: %s", count, topic)},
	}

	raw, err := g.backend.Chat(ctx, g.model, messages, generateSchema())
	if err != nil {
		return nil, fmt.Errorf("generation request: %w", err)
	}

	var resp struct {
		Threads []Thread `json:"threads"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parsing generation response: %w", err)
	}
	if len(resp.Threads) == 0 {
		return nil, fmt.Errorf("generation response contained no threads")
	}
	return resp.Threads, nil
}

// Refine reworks existing threads using the editor's edit history.
func (g *Generator) Refine(ctx context.Context, instructions string, threads []Thread, history []EditRecord) (*RefineResult, error) {
	payload := struct {
		Threads []Thread     `json:"threads"`
		History []EditRecord `json:"edit_history"`
	}{Threads: threads, History: history}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling refine payload: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Rework the following threads, applying the direction shown by the edit history. ")
	sb.WriteString("Also list any general writing rules the edits imply.\n\n")
	sb.Write(body)

	messages := []backend.Message{
		{Role: "system", Content: instructions},
		{Role: "user", Content: sb.String()},
	}

	raw, err := g.backend.Chat(ctx, g.model, messages, refineSchema())
	if err != nil {
		return nil, fmt.Errorf("refinement request: %w", err)
	}

	var result RefineResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parsing refinement response: %w", err)
	}
	if len(result.UpdatedThreads) == 0 {
		return nil, fmt.Errorf("refinement response contained no threads")
	}
	return &result, nil
}

func generateSchema() *backend.Schema {
	return &backend.Schema{
		Type: "object",
		Properties: map[string]backend.SchemaProperty{
			"threads": {Type: "array", Description: "Threads, each with a title and a tweets array"},
		},
		Required: []string{"threads"},
	}
}

func refineSchema() *backend.Schema {
	return &backend.Schema{
		Type: "object",
		Properties: map[string]backend.SchemaProperty{
			"updated_threads": {Type: "array", Description: "Reworked threads, each with a title and a tweets array"},
			"suggested_rules": {Type: "array", Description: "General writing rules implied by the edits"},
		},
		Required: []string{"updated_threads", "suggested_rules"},
	}
}
