package promptcfg

import "time"

// ChangeType classifies how a change affects its target section.
type ChangeType string

const (
	Addition     ChangeType = "addition"
	Modification ChangeType = "modification"
	Deletion     ChangeType = "deletion"
)

// Author identifies who produced a version.
type Author string

const (
	AuthorUser       Author = "user"
	AuthorSuggestion Author = "suggestion-engine"
)

// Change is a single patch against a named section, matched by literal
// content. A change never exists outside the version that recorded it.
type Change struct {
	ID             string     `json:"id"`
	Type           ChangeType `json:"type"`
	TargetSection  string     `json:"target_section"`
	Region         string     `json:"region,omitempty"` // delimited sub-region for additions
	OldContent     string     `json:"old_content,omitempty"`
	NewContent     string     `json:"new_content"`
	Reasoning      string     `json:"reasoning"`
	BasedOnPattern string     `json:"based_on_pattern,omitempty"`
}

// Version is one immutable entry in the append-only version history. The
// snapshot always covers every section, not just the changed ones, so any
// version is a complete rollback target.
type Version struct {
	ID          string            `json:"id"`
	Version     string            `json:"version"` // "v1.0", "v1.1", ...
	Timestamp   time.Time         `json:"timestamp"`
	Changes     []Change          `json:"changes"`
	Author      Author            `json:"author"`
	Description string            `json:"description"`
	Snapshots   map[string]string `json:"file_snapshots,omitempty"`
}

// DefaultSections are the instruction sections seeded on first run. The
// store accepts additions targeting sections beyond these.
var DefaultSections = []string{"core", "style", "examples", "advanced"}
