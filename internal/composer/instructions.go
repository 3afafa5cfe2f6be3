// Package composer assembles the instruction text sent to the generation
// backend: the live configuration sections plus, when retrieval finds any, a
// delimited block of contextual examples from prior editor feedback.
package composer

import (
	"fmt"
	"strings"

	"github.com/nverev/threadsmith/internal/storage"
)

const defaultMaxExampleTokens = 2000

// Composer builds generation instructions. MaxExampleTokens bounds the size
// of the injected contextual-examples block.
type Composer struct {
	MaxExampleTokens int
}

// New creates a Composer with the given token budget for injected examples.
// If maxExampleTokens <= 0, the default (2000) is used.
func New(maxExampleTokens int) *Composer {
	if maxExampleTokens <= 0 {
		maxExampleTokens = defaultMaxExampleTokens
	}
	return &Composer{MaxExampleTokens: maxExampleTokens}
}

// Instructions joins the named sections in order, skipping empty ones. Section
// names become headers so the model sees the structure the operator edits.
func (c *Composer) Instructions(sections map[string]string, order []string) string {
	var sb strings.Builder
	for _, name := range order {
		content := strings.TrimSpace(sections[name])
		if content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s\n\n%s", name, content)
	}
	return sb.String()
}

// WithExamples appends a clearly delimited contextual-examples block to the
// instructions. With no examples the instructions are returned unchanged:
// contextualization is never a hard dependency for producing output.
func (c *Composer) WithExamples(instructions string, examples []storage.Triple) string {
	if len(examples) == 0 {
		return instructions
	}

	header := "\n\n--- Contextual Examples ---\n" +
		"Prior edits the editor made to similar content. Match the direction of these rewrites.\n"
	remaining := c.MaxExampleTokens - EstimateTokens(header)

	var entries []string
	for i, ex := range examples {
		entry := formatExample(i+1, ex)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		entries = append(entries, entry)
		remaining -= tokens
	}

	if len(entries) == 0 {
		return instructions
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString(header)
	for _, e := range entries {
		sb.WriteString(e)
	}
	sb.WriteString("--- End Contextual Examples ---")
	return sb.String()
}

func formatExample(n int, t storage.Triple) string {
	return fmt.Sprintf("\nExample %d:\nOriginal: %s\nFeedback: %s\nFinal: %s\n", n, t.Original, t.Annotation, t.FinalEdit)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
