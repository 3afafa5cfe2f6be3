// Package miner turns the triple store's aggregates into candidate
// configuration changes for operator review. Suggestions are pure data with
// full provenance; nothing here mutates the configuration.
package miner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nverev/threadsmith/internal/promptcfg"
	"github.com/nverev/threadsmith/internal/storage"
)

// Thresholds and confidence scaling for the two suggestion sources.
const (
	minPatternFrequency = 3
	minIssueFrequency   = 2

	patternConfidenceScale = 5
	issueConfidenceScale   = 3
)

// Regions inside the instruction sections that suggestions target.
const (
	qualityRegion = "quality_enhancements"
	issuesRegion  = "common_issues"
)

// Suggestion is a candidate configuration change awaiting operator review.
type Suggestion struct {
	ID              string          `json:"id"`
	Change          promptcfg.Change `json:"change"`
	Confidence      float64         `json:"confidence"`
	BasedOnPatterns []string        `json:"based_on_patterns"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RecurringIssue is an externally supplied problem report: a pattern the
// operator keeps seeing, with example remediations.
type RecurringIssue struct {
	Pattern      string   `json:"pattern"`
	Frequency    int      `json:"frequency"`
	Remediations []string `json:"remediations"`
}

// SuggestFromPatterns emits one candidate addition per recurring edit pattern
// seen at least minPatternFrequency times, targeting the quality-enhancements
// region of the examples section.
func SuggestFromPatterns(patterns []storage.RecurringPattern) []Suggestion {
	var out []Suggestion
	now := time.Now().UTC()

	for _, p := range patterns {
		if p.Frequency < minPatternFrequency {
			continue
		}

		rule := fmt.Sprintf("Instead of %q, write %q.", p.Original, p.BestExample.FinalEdit)
		if len(p.Annotations) > 0 {
			rule += fmt.Sprintf(" Editor notes: %s.", strings.Join(p.Annotations, "; "))
		}

		out = append(out, Suggestion{
			ID: uuid.New().String(),
			Change: promptcfg.Change{
				ID:             uuid.New().String(),
				Type:           promptcfg.Addition,
				TargetSection:  "examples",
				Region:         qualityRegion,
				NewContent:     rule,
				Reasoning:      fmt.Sprintf("the editor rewrote this tweet %d times across sessions", p.Frequency),
				BasedOnPattern: p.Original,
			},
			Confidence:      confidence(p.Frequency, patternConfidenceScale),
			BasedOnPatterns: []string{p.Original},
			CreatedAt:       now,
		})
	}
	return out
}

// SuggestFromIssues emits one candidate addition per recurring issue reported
// at least minIssueFrequency times, targeting the common-issues region of the
// advanced section.
func SuggestFromIssues(issues []RecurringIssue) []Suggestion {
	var out []Suggestion
	now := time.Now().UTC()

	for _, issue := range issues {
		if issue.Frequency < minIssueFrequency {
			continue
		}

		rule := fmt.Sprintf("Watch for: %s.", issue.Pattern)
		if len(issue.Remediations) > 0 {
			rule += fmt.Sprintf(" Fixes that worked: %s.", strings.Join(issue.Remediations, "; "))
		}

		out = append(out, Suggestion{
			ID: uuid.New().String(),
			Change: promptcfg.Change{
				ID:             uuid.New().String(),
				Type:           promptcfg.Addition,
				TargetSection:  "advanced",
				Region:         issuesRegion,
				NewContent:     rule,
				Reasoning:      fmt.Sprintf("reported %d times", issue.Frequency),
				BasedOnPattern: issue.Pattern,
			},
			Confidence:      confidence(issue.Frequency, issueConfidenceScale),
			BasedOnPatterns: []string{issue.Pattern},
			CreatedAt:       now,
		})
	}
	return out
}

// confidence scales frequency into [0, 1].
func confidence(frequency, scale int) float64 {
	c := float64(frequency) / float64(scale)
	if c > 1 {
		return 1
	}
	return c
}
