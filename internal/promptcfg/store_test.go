package promptcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func addition(section, content string) Change {
	return Change{
		ID:            "c-" + section,
		Type:          Addition,
		TargetSection: section,
		NewContent:    content,
		Reasoning:     "test",
	}
}

func TestOpen_SeedsInitialVersion(t *testing.T) {
	s := openTestStore(t)

	versions := s.ListVersions()
	if len(versions) != 1 {
		t.Fatalf("got %d versions, want 1", len(versions))
	}
	v := versions[0]
	if v.Version != "v1.0" {
		t.Errorf("version = %q, want v1.0", v.Version)
	}
	if len(v.Changes) != 0 {
		t.Errorf("seed version has %d changes, want 0", len(v.Changes))
	}
	if v.Description != "initial" {
		t.Errorf("description = %q, want initial", v.Description)
	}
}

func TestOpen_ExistingDirNotReseeded(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.CreateVersion([]Change{addition("style", "Short sentences.")}, "style rule", AuthorUser); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	versions := reopened.ListVersions()
	if len(versions) != 2 {
		t.Fatalf("got %d versions after reopen, want 2", len(versions))
	}
	if got, _ := reopened.Section("style"); !strings.Contains(got, "Short sentences.") {
		t.Errorf("style section lost on reopen: %q", got)
	}
}

func TestVersionMonotonicity(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.CreateVersion([]Change{addition("core", fmt.Sprintf("rule %d", i))}, "step", AuthorUser); err != nil {
			t.Fatalf("CreateVersion %d: %v", i, err)
		}
	}

	versions := s.ListVersions()
	want := []string{"v1.0", "v1.1", "v1.2", "v1.3", "v1.4", "v1.5"}
	if len(versions) != len(want) {
		t.Fatalf("got %d versions, want %d", len(versions), len(want))
	}
	for i, w := range want {
		if versions[i].Version != w {
			t.Errorf("versions[%d] = %q, want %q", i, versions[i].Version, w)
		}
	}
}

func TestCreateVersion_SnapshotsAllSections(t *testing.T) {
	s := openTestStore(t)

	s.CreateVersion([]Change{addition("core", "be concise")}, "core", AuthorUser)
	v, err := s.CreateVersion([]Change{addition("style", "no emoji")}, "style", AuthorUser)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	full, err := s.GetVersion(v.ID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	// Snapshot covers every section, including ones this change set
	// did not touch.
	if !strings.Contains(full.Snapshots["core"], "be concise") {
		t.Errorf("core snapshot = %q, missing earlier content", full.Snapshots["core"])
	}
	if !strings.Contains(full.Snapshots["style"], "no emoji") {
		t.Errorf("style snapshot = %q", full.Snapshots["style"])
	}
	for _, name := range DefaultSections {
		if _, ok := full.Snapshots[name]; !ok {
			t.Errorf("snapshot missing section %q", name)
		}
	}
}

func TestModification_And_SilentNoOp(t *testing.T) {
	s := openTestStore(t)
	s.CreateVersion([]Change{addition("style", "Write short tweets.")}, "seed", AuthorUser)

	_, err := s.CreateVersion([]Change{{
		ID: "m1", Type: Modification, TargetSection: "style",
		OldContent: "short tweets", NewContent: "punchy tweets", Reasoning: "tone",
	}}, "modify", AuthorUser)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if got, _ := s.Section("style"); !strings.Contains(got, "punchy tweets") {
		t.Errorf("style = %q, want punchy tweets", got)
	}

	// Stale OldContent: applies as a silent no-op, still records a version.
	before, _ := s.Section("style")
	v, err := s.CreateVersion([]Change{{
		ID: "m2", Type: Modification, TargetSection: "style",
		OldContent: "text that is gone", NewContent: "x", Reasoning: "stale",
	}}, "stale modify", AuthorUser)
	if err != nil {
		t.Fatalf("stale modification errored: %v", err)
	}
	after, _ := s.Section("style")
	if after != before {
		t.Errorf("stale modification changed content: %q -> %q", before, after)
	}
	if v.Version != "v1.3" {
		t.Errorf("stale modification version = %q, want v1.3", v.Version)
	}
}

func TestDeletion(t *testing.T) {
	s := openTestStore(t)
	s.CreateVersion([]Change{addition("core", "keep this\nremove this")}, "seed", AuthorUser)

	s.CreateVersion([]Change{{
		ID: "d1", Type: Deletion, TargetSection: "core",
		OldContent: "remove this", Reasoning: "cleanup",
	}}, "delete", AuthorUser)

	got, _ := s.Section("core")
	if strings.Contains(got, "remove this") {
		t.Errorf("content not deleted: %q", got)
	}
	if !strings.Contains(got, "keep this") {
		t.Errorf("wrong content deleted: %q", got)
	}
}

func TestAddition_RegionTargeting(t *testing.T) {
	s := openTestStore(t)
	seed := "intro\n<!-- region:quality_enhancements -->\nexisting rule\n<!-- endregion:quality_enhancements -->\noutro\n"
	s.CreateVersion([]Change{addition("examples", seed)}, "seed", AuthorUser)

	s.CreateVersion([]Change{{
		ID: "r1", Type: Addition, TargetSection: "examples",
		Region: "quality_enhancements", NewContent: "new rule", Reasoning: "pattern",
	}}, "region add", AuthorSuggestion)

	got, _ := s.Section("examples")
	endIdx := strings.Index(got, "<!-- endregion:quality_enhancements -->")
	newIdx := strings.Index(got, "new rule")
	if newIdx == -1 || newIdx > endIdx {
		t.Errorf("new rule not inserted inside region:\n%s", got)
	}
	if !strings.HasSuffix(strings.TrimRight(got, "\n"), "outro") {
		t.Errorf("content after region disturbed:\n%s", got)
	}
}

func TestAddition_MissingRegionAppends(t *testing.T) {
	s := openTestStore(t)
	s.CreateVersion([]Change{addition("advanced", "base")}, "seed", AuthorUser)

	s.CreateVersion([]Change{{
		ID: "r1", Type: Addition, TargetSection: "advanced",
		Region: "common_issues", NewContent: "appended rule", Reasoning: "pattern",
	}}, "region add", AuthorSuggestion)

	got, _ := s.Section("advanced")
	if !strings.HasSuffix(got, "appended rule\n") {
		t.Errorf("missing region should append to section end:\n%q", got)
	}
}

func TestRollback(t *testing.T) {
	s := openTestStore(t)

	s.CreateVersion([]Change{addition("core", "first rule")}, "v1.1 content", AuthorUser)
	target := s.ListVersions()[1]

	s.CreateVersion([]Change{addition("core", "second rule"), addition("style", "style rule")}, "v1.2 content", AuthorUser)

	rb, err := s.Rollback(target.ID)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	// Rollback appends, never truncates.
	versions := s.ListVersions()
	if len(versions) != 4 {
		t.Fatalf("got %d versions after rollback, want 4", len(versions))
	}
	if rb.Version != "v1.3" {
		t.Errorf("rollback version = %q, want v1.3", rb.Version)
	}
	if len(rb.Changes) != 1 || rb.Changes[0].Type != Modification {
		t.Errorf("rollback change = %+v, want one modification", rb.Changes)
	}

	// Byte-for-byte restoration of every section.
	targetFull, err := s.GetVersion(target.ID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	for name, want := range targetFull.Snapshots {
		got, _ := s.Section(name)
		if got != want {
			t.Errorf("section %s after rollback:\n got %q\nwant %q", name, got, want)
		}
	}
}

func TestRollback_DroppedSectionStaysGoneAfterReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seed := s.ListVersions()[0]

	if _, err := s.CreateVersion([]Change{addition("extra", "ephemeral rule\n")}, "extra section", AuthorUser); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if _, err := s.Rollback(seed.ID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok := s.Section("extra"); ok {
		t.Fatal("rolled-back section still live")
	}

	// The live set after a restart is the latest snapshot, not whatever
	// section files happen to remain on disk.
	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, ok := reopened.Section("extra"); ok {
		t.Errorf("rolled-back section resurrected after reopen: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "sections", "extra.md")); !os.IsNotExist(err) {
		t.Errorf("stale section file still on disk: %v", err)
	}
}

func TestSectionFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.CreateVersion([]Change{addition("style", "tight copy")}, "style", AuthorUser)

	data, err := os.ReadFile(filepath.Join(dir, "sections", "style.md"))
	if err != nil {
		t.Fatalf("reading section file: %v", err)
	}
	if !strings.Contains(string(data), "tight copy") {
		t.Errorf("section file = %q", data)
	}
}

func TestGetVersion_Unknown(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetVersion("nope"); err == nil {
		t.Error("expected error for unknown version id")
	}
}
