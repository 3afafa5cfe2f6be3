package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const tripleColumns = `id, created_at, original_tweet, annotation, final_edit, script_title, position_in_thread, quality_rating, resolved`

// GetTriple returns a single triple by id, without its embedding.
func (s *Store) GetTriple(id string) (Triple, error) {
	row := s.db.QueryRow(`SELECT `+tripleColumns+` FROM triples WHERE id = ?`, id)
	t, err := scanTriple(row)
	if err == sql.ErrNoRows {
		return Triple{}, ErrNotFound
	}
	return t, err
}

// MarkResolved flips the resolved flag on a triple. It is idempotent and
// reports whether a row with that id exists.
func (s *Store) MarkResolved(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE triples SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("marking triple %s resolved: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetQuality updates the quality rating of a triple.
func (s *Store) SetQuality(id string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("quality rating %d out of range 1..5", rating)
	}
	res, err := s.db.Exec(`UPDATE triples SET quality_rating = ? WHERE id = ?`, rating, id)
	if err != nil {
		return fmt.Errorf("setting quality for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecurringPatterns groups triples by identical original text, counts
// occurrences, and picks the highest-quality example per group as
// representative (recency as tie-break). Groups are ordered by frequency
// descending, then by most recent member.
func (s *Store) RecurringPatterns(limit int) ([]RecurringPattern, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT g.original_tweet, g.freq, `+prefixed("t", tripleColumns)+`
		FROM (
			SELECT original_tweet, COUNT(*) AS freq, MAX(created_at) AS latest
			FROM triples
			GROUP BY original_tweet
		) g
		JOIN triples t ON t.id = (
			SELECT id FROM triples
			WHERE original_tweet = g.original_tweet
			ORDER BY quality_rating DESC, created_at DESC
			LIMIT 1
		)
		ORDER BY g.freq DESC, g.latest DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recurring patterns: %w", err)
	}
	defer rows.Close()

	var patterns []RecurringPattern
	for rows.Next() {
		var p RecurringPattern
		var t Triple
		var createdAt string
		var resolved int
		if err := rows.Scan(&p.Original, &p.Frequency,
			&t.ID, &createdAt, &t.Original, &t.Annotation, &t.FinalEdit,
			&t.ScriptTitle, &t.Position, &t.Quality, &resolved); err != nil {
			return nil, fmt.Errorf("scanning pattern row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", t.ID, err)
		}
		t.CreatedAt = parsed
		t.Resolved = resolved != 0
		p.BestExample = t
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range patterns {
		anns, err := s.groupAnnotations(patterns[i].Original)
		if err != nil {
			return nil, err
		}
		patterns[i].Annotations = anns
	}

	return patterns, nil
}

// groupAnnotations returns the distinct annotations attached to a group of
// triples sharing the same original text.
func (s *Store) groupAnnotations(original string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT annotation FROM triples
		WHERE original_tweet = ?
		ORDER BY annotation`, original)
	if err != nil {
		return nil, fmt.Errorf("querying group annotations: %w", err)
	}
	defer rows.Close()

	var anns []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		anns = append(anns, a)
	}
	return anns, rows.Err()
}

// BestExamples returns the top-N triples by quality rating, newest first
// within each rating.
func (s *Store) BestExamples(limit int) ([]Triple, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT `+tripleColumns+` FROM triples
		ORDER BY quality_rating DESC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying best examples: %w", err)
	}
	defer rows.Close()

	var triples []Triple
	for rows.Next() {
		t, err := scanTriple(rows)
		if err != nil {
			return nil, err
		}
		triples = append(triples, t)
	}
	return triples, rows.Err()
}

// CountTriples returns the total number of captured triples.
func (s *Store) CountTriples() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM triples").Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTriple(row rowScanner) (Triple, error) {
	var t Triple
	var createdAt string
	var resolved int
	err := row.Scan(&t.ID, &createdAt, &t.Original, &t.Annotation, &t.FinalEdit,
		&t.ScriptTitle, &t.Position, &t.Quality, &resolved)
	if err != nil {
		return Triple{}, err
	}
	parsed, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Triple{}, fmt.Errorf("parsing created_at for %s: %w", t.ID, err)
	}
	t.CreatedAt = parsed
	t.Resolved = resolved != 0
	return t, nil
}

// prefixed qualifies each column in a comma-separated list with a table alias.
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
