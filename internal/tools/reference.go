package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/store"
)

// ReferenceLookup answers questions against the indexed reference text.
type ReferenceLookup struct {
	index *store.ReferenceIndex
}

// NewReferenceLookup creates the retrieval tool over the given index.
func NewReferenceLookup(index *store.ReferenceIndex) *ReferenceLookup {
	return &ReferenceLookup{index: index}
}

func (t *ReferenceLookup) Name() string { return "reference_lookup" }

func (t *ReferenceLookup) Description() string {
	return "Search the reference text for passages relevant to a question. " +
		"Use this before answering questions about the reference material."
}

func (t *ReferenceLookup) InputSchema() string {
	return `{"type":"object","properties":{"query":{"type":"string","description":"search terms"},"limit":{"type":"integer","description":"max passages, default 5"}},"required":["query"]}`
}

func (t *ReferenceLookup) Execute(ctx context.Context, input string) (string, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("parsing input: %w", err)
	}
	if in.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	passages, err := t.index.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return "", fmt.Errorf("searching reference: %w", err)
	}

	type hit struct {
		Position int    `json:"position"`
		Content  string `json:"content"`
	}
	hits := make([]hit, 0, len(passages))
	for _, p := range passages {
		hits = append(hits, hit{Position: p.Position, Content: p.Content})
	}
	out, err := json.Marshal(map[string]any{"query": in.Query, "passages": hits})
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(out), nil
}
