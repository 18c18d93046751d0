package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Passage is one indexed chunk of the reference text.
type Passage struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Position int     `json:"position"`
	Content  string  `json:"content"`
	Rank     float64 `json:"rank,omitempty"`
}

// ReferenceIndex holds the fixed reference text behind the retrieval tool,
// searchable via SQLite FTS5.
type ReferenceIndex struct {
	db *DB
}

// NewReferenceIndex creates a reference index using the given database.
func NewReferenceIndex(db *DB) *ReferenceIndex {
	return &ReferenceIndex{db: db}
}

// LoadFile splits a reference text file into paragraph passages and indexes
// them, replacing any passages previously loaded from the same source.
func (r *ReferenceIndex) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading reference file: %w", err)
	}

	passages := splitPassages(string(data))

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reference load: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reference_passages WHERE source = ?`, path); err != nil {
		return 0, fmt.Errorf("clearing old passages: %w", err)
	}

	for i, content := range passages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reference_passages (id, source, position, content)
			 VALUES (?, ?, ?, ?)`,
			uuid.New().String(), path, i, content,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting passage %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reference load: %w", err)
	}

	r.db.log.Info().Str("source", path).Int("passages", len(passages)).Msg("reference text indexed")
	return len(passages), nil
}

// Search returns the passages best matching the query, ranked by relevance.
// A limit of 0 defaults to 5.
func (r *ReferenceIndex) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT rp.id, rp.source, rp.position, rp.content, rank
		 FROM reference_fts
		 JOIN reference_passages rp ON rp.rowid = reference_fts.rowid
		 WHERE reference_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		ftsQuery(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching reference: %w", err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.ID, &p.Source, &p.Position, &p.Content, &p.Rank); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// splitPassages breaks text on blank lines into trimmed paragraphs.
func splitPassages(text string) []string {
	var passages []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			passages = append(passages, block)
		}
	}
	return passages
}

// ftsQuery quotes each term so user input can't inject FTS5 query syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(terms, " OR ")
}
