// Package promptcfg holds the generation instructions as a set of named
// sections with full-snapshot version history. Every mutation appends a new
// version; rollback restores a snapshot and is itself recorded as forward
// progress, so history is never truncated.
package promptcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	sectionsDir = "sections"
	versionsDir = "versions"
	indexFile   = "index.json"

	firstVersion     = 1.0
	versionIncrement = 0.1
)

// Store is the single writer of the live section files. Mutations are
// serialized internally; reads may run concurrently with writes
// (last-write-wins visibility).
type Store struct {
	dir string

	mu       sync.Mutex
	sections map[string]string
	index    []Version // metadata only, snapshots live in per-version files
}

// Open loads (or creates) a configuration store rooted at dir. An existing
// store rebuilds its live sections from the most recent version's snapshot.
// If the version index is empty the store seeds itself with v1.0 (empty
// change set, description "initial"), guaranteeing there is always a
// rollback target.
func Open(dir string) (*Store, error) {
	s := &Store{
		dir:      dir,
		sections: make(map[string]string),
	}

	for _, d := range []string{filepath.Join(dir, sectionsDir), filepath.Join(dir, versionsDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	if len(s.index) == 0 {
		if err := s.loadSections(); err != nil {
			return nil, err
		}
		if _, err := s.record(nil, "initial", AuthorUser); err != nil {
			return nil, fmt.Errorf("seeding initial version: %w", err)
		}
		return s, nil
	}

	// The live content is whatever the most recent version snapshotted.
	// Section files are rewritten from that snapshot so stray files from an
	// interrupted write do not leak into the live set.
	latest, err := s.readVersion(s.index[len(s.index)-1].ID)
	if err != nil {
		return nil, fmt.Errorf("loading latest version: %w", err)
	}
	for name, content := range latest.Snapshots {
		s.sections[name] = content
	}
	if err := s.syncSectionFiles(s.sections); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) loadSections() error {
	for _, name := range DefaultSections {
		s.sections[name] = ""
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, sectionsDir))
	if err != nil {
		return fmt.Errorf("reading sections directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		content, err := os.ReadFile(filepath.Join(s.dir, sectionsDir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading section %s: %w", name, err)
		}
		s.sections[name] = string(content)
	}
	return nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, versionsDir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading version index: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("parsing version index: %w", err)
	}
	return nil
}

// syncSectionFiles makes the sections directory match the given set exactly:
// every section is written out and files for sections not in the set are
// removed, so a section dropped by a rollback does not resurrect on restart.
func (s *Store) syncSectionFiles(sections map[string]string) error {
	dir := filepath.Join(s.dir, sectionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading sections directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		if _, ok := sections[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("removing stale section %s: %w", name, err)
		}
	}
	for name, content := range sections {
		if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing section %s: %w", name, err)
		}
	}
	return nil
}

// Section returns the live content of a named section.
func (s *Store) Section(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.sections[name]
	return content, ok
}

// Sections returns a copy of all live section contents.
func (s *Store) Sections() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.sections))
	for k, v := range s.sections {
		out[k] = v
	}
	return out
}

// CreateVersion applies the change set to the live sections and records a new
// version snapshotting every section. All changes apply atomically: on a
// persistence failure nothing is recorded and the live content is unchanged.
func (s *Store) CreateVersion(changes []Change, description string, author Author) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := applyChanges(s.sections, changes)
	v, err := s.persist(next, changes, description, author)
	if err != nil {
		return Version{}, err
	}
	s.sections = next
	return v, nil
}

// record is CreateVersion without applying changes; used for seeding and
// rollback where the live content has already been decided.
func (s *Store) record(changes []Change, description string, author Author) (Version, error) {
	v, err := s.persist(s.sections, changes, description, author)
	if err != nil {
		return Version{}, err
	}
	return v, nil
}

// persist writes a new version (snapshot of the given sections) and all
// section files. The index write comes last: a version is not recorded until
// it appears in the index, so a partial failure leaves no live version behind.
func (s *Store) persist(sections map[string]string, changes []Change, description string, author Author) (Version, error) {
	if changes == nil {
		changes = []Change{}
	}

	v := Version{
		ID:          uuid.New().String(),
		Version:     s.nextVersionNumber(),
		Timestamp:   time.Now().UTC(),
		Changes:     changes,
		Author:      author,
		Description: description,
		Snapshots:   make(map[string]string, len(sections)),
	}
	for name, content := range sections {
		v.Snapshots[name] = content
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Version{}, fmt.Errorf("marshalling version: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, versionsDir, v.ID+".json"), data, 0o644); err != nil {
		return Version{}, fmt.Errorf("writing version snapshot: %w", err)
	}

	if err := s.syncSectionFiles(sections); err != nil {
		return Version{}, err
	}

	meta := v
	meta.Snapshots = nil
	index := append(append([]Version{}, s.index...), meta)
	indexData, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return Version{}, fmt.Errorf("marshalling version index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, versionsDir, indexFile), indexData, 0o644); err != nil {
		return Version{}, fmt.Errorf("writing version index: %w", err)
	}

	s.index = index
	return v, nil
}

// nextVersionNumber computes the strict arithmetic version sequence:
// v1.0, v1.1, v1.2, ... Version numbers carry no semantic meaning.
func (s *Store) nextVersionNumber() string {
	return fmt.Sprintf("v%.1f", firstVersion+versionIncrement*float64(len(s.index)))
}

// Rollback overwrites every section's live content with the named version's
// snapshot, then records the rollback as a new version. History only ever
// grows.
func (s *Store) Rollback(versionID string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.readVersion(versionID)
	if err != nil {
		return Version{}, err
	}

	restored := make(map[string]string, len(target.Snapshots))
	for name, content := range target.Snapshots {
		restored[name] = content
	}

	change := Change{
		ID:            uuid.New().String(),
		Type:          Modification,
		TargetSection: "*",
		Reasoning:     fmt.Sprintf("rollback to version %s", target.Version),
	}

	prev := s.sections
	s.sections = restored
	v, err := s.record([]Change{change}, fmt.Sprintf("Rollback to %s", target.Version), AuthorUser)
	if err != nil {
		s.sections = prev
		return Version{}, err
	}
	return v, nil
}

// ListVersions returns the version metadata in creation order (snapshots omitted).
func (s *Store) ListVersions() []Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Version, len(s.index))
	copy(out, s.index)
	return out
}

// GetVersion returns a full version, including its section snapshots.
func (s *Store) GetVersion(id string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readVersion(id)
}

func (s *Store) readVersion(id string) (Version, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, versionsDir, id+".json"))
	if os.IsNotExist(err) {
		return Version{}, fmt.Errorf("version %s: %w", id, os.ErrNotExist)
	}
	if err != nil {
		return Version{}, fmt.Errorf("reading version %s: %w", id, err)
	}
	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return Version{}, fmt.Errorf("parsing version %s: %w", id, err)
	}
	return v, nil
}

// SectionNames returns the live section names, sorted.
func (s *Store) SectionNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
