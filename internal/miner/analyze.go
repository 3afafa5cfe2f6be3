package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nverev/threadsmith/internal/backend"
	"github.com/nverev/threadsmith/internal/storage"
)

const analysisTimeout = 20 * time.Second

// Analysis is the miner's natural-language read on the captured edit
// patterns, used to decide whether the generation instructions need updating.
type Analysis struct {
	NeedsUpdate bool     `json:"needs_update"`
	Summary     string   `json:"summary"`
	FocusAreas  []string `json:"focus_areas"`
}

// Analyzer produces an Analysis from recurring patterns via the model server.
type Analyzer struct {
	backend backend.Backend
	model   string
}

// NewAnalyzer creates an Analyzer using the given backend and model name.
func NewAnalyzer(b backend.Backend, model string) *Analyzer {
	return &Analyzer{backend: b, model: model}
}

// Analyze summarizes the recurring patterns and best examples. On any failure
// (timeout, malformed JSON, backend error) it returns a zero-value Analysis
// rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, patterns []storage.RecurringPattern, best []storage.Triple) Analysis {
	if len(patterns) == 0 && len(best) == 0 {
		return Analysis{Summary: "no captured edits yet"}
	}

	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	raw, err := a.backend.Chat(ctx, a.model, buildAnalysisPrompt(patterns, best), analysisSchema())
	if err != nil {
		slog.Warn("pattern analysis chat failed", "error", err)
		return Analysis{}
	}

	var result Analysis
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("failed to unmarshal analysis from model response", "error", err, "response", raw)
		return Analysis{}
	}
	return result
}

func buildAnalysisPrompt(patterns []storage.RecurringPattern, best []storage.Triple) []backend.Message {
	var sb strings.Builder
	sb.WriteString("You review how a human editor keeps changing machine-written tweets.\n\n")

	if len(patterns) > 0 {
		sb.WriteString("Recurring edits:\n")
		for _, p := range patterns {
			fmt.Fprintf(&sb, "- %q rewritten %d times, e.g. -> %q (notes: %s)\n",
				p.Original, p.Frequency, p.BestExample.FinalEdit, strings.Join(p.Annotations, "; "))
		}
		sb.WriteString("\n")
	}

	if len(best) > 0 {
		sb.WriteString("Highest-rated rewrites:\n")
		for _, t := range best {
			fmt.Fprintf(&sb, "- %q -> %q (%s)\n", t.Original, t.FinalEdit, t.Annotation)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Decide whether the writing instructions need updating, summarize the systemic problems in two or three sentences, and list the areas to focus on.")

	return []backend.Message{
		{Role: "user", Content: sb.String()},
	}
}

// analysisSchema returns the JSON schema for structured analysis output.
func analysisSchema() *backend.Schema {
	return &backend.Schema{
		Type: "object",
		Properties: map[string]backend.SchemaProperty{
			"needs_update": {Type: "boolean", Description: "Whether the generation instructions should change"},
			"summary":      {Type: "string", Description: "Two or three sentences on the systemic edit patterns"},
			"focus_areas":  {Type: "array", Description: "Short labels for the areas needing attention"},
		},
		Required: []string{"needs_update", "summary", "focus_areas"},
	}
}
