package promptcfg

import (
	"fmt"
	"strings"
)

// Region markers delimit a named sub-region inside a section file.
// Additions targeting a region are inserted just before its end marker.
func regionStart(name string) string { return fmt.Sprintf("<!-- region:%s -->", name) }
func regionEnd(name string) string   { return fmt.Sprintf("<!-- endregion:%s -->", name) }

// applyChanges applies a change set to a copy of the sections map and returns
// the result; the input map is never mutated, so a failed persist leaves the
// live content untouched.
//
// Patching is literal: modification and deletion match OldContent as an exact
// substring and are silent no-ops when it is no longer present. That keeps
// repeated or stale change sets harmless rather than turning them into errors.
func applyChanges(sections map[string]string, changes []Change) map[string]string {
	next := make(map[string]string, len(sections))
	for k, v := range sections {
		next[k] = v
	}

	for _, c := range changes {
		content, exists := next[c.TargetSection]
		switch c.Type {
		case Addition:
			next[c.TargetSection] = applyAddition(content, c)
		case Modification:
			if exists && c.OldContent != "" {
				next[c.TargetSection] = strings.Replace(content, c.OldContent, c.NewContent, 1)
			}
		case Deletion:
			if exists && c.OldContent != "" {
				next[c.TargetSection] = strings.Replace(content, c.OldContent, "", 1)
			}
		}
	}
	return next
}

// applyAddition inserts NewContent inside the change's marked region when the
// section contains one, else appends to the end of the section. Targeting a
// section that does not exist yet creates it.
func applyAddition(content string, c Change) string {
	if c.Region != "" {
		end := regionEnd(c.Region)
		if idx := strings.Index(content, end); idx >= 0 && strings.Contains(content[:idx], regionStart(c.Region)) {
			return content[:idx] + c.NewContent + "\n" + content[idx:]
		}
	}
	if content == "" {
		return c.NewContent + "\n"
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + c.NewContent + "\n"
}
