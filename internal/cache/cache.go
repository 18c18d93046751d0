// Package cache provides an advisory response cache for generated answers.
// The cache is never authoritative: a miss or an unavailable backend only
// costs latency, never correctness.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Cache is the response cache contract. Implementations must be safe for
// concurrent use and must never fail a request; Get simply reports a miss
// when the backend is unavailable.
type Cache interface {
	// Get returns the cached answer for key, if present and fresh.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores an answer under key. Best-effort.
	Set(ctx context.Context, key, text string)
}

// Key derives the deterministic cache key for a question within a session.
// Identical repeated questions in one session map to the same key; the
// session ID keeps answers from leaking across conversations.
func Key(sessionID, lastUserText string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + normalize(lastUserText)))
	return hex.EncodeToString(sum[:])
}

// normalize trims, lowercases, and collapses internal whitespace so
// cosmetic differences still hit the same entry.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Noop is the always-miss cache used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string) (string, bool) { return "", false }
func (Noop) Set(context.Context, string, string)        {}
