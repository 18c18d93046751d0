package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/turn"
)

// Resolver decides whether a turn continues an existing session or starts a
// new one, and owns the per-session ordering discipline: all appends to one
// session go through its lock, and the store-level version check catches
// writers in other processes.
type Resolver struct {
	store store.SessionStore
	log   *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResolver creates a session resolver over the given store.
func NewResolver(st store.SessionStore, log *logging.Logger) *Resolver {
	return &Resolver{
		store: st,
		log:   log.Sub("resolver"),
		locks: make(map[string]*sync.Mutex),
	}
}

// lock acquires the per-session ordering lock and returns its release func.
func (r *Resolver) lock(sessionID string) func() {
	r.mu.Lock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Resolve looks up the turn's session, creating it when absent, and persists
// the delta of not-yet-stored messages before any generation is attempted.
// The delta append is durable even if generation later fails.
func (r *Resolver) Resolve(ctx context.Context, t *turn.Turn, caller authz.Identity) (*domain.Session, []domain.Message, error) {
	unlock := r.lock(t.SessionID)
	defer unlock()

	sess, err := r.store.Get(ctx, t.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		if !caller.Present() {
			return nil, nil, domain.ErrUnauthenticated
		}
		created, err := r.store.Create(ctx, t.SessionID, caller.UserID, t.Messages)
		if err != nil {
			return nil, nil, err
		}
		r.log.Info().
			Str("sessionId", created.ID).
			Str("owner", created.OwnerID).
			Int("messages", len(t.Messages)).
			Msg("session created")
		return created, t.Messages, nil
	}
	if err != nil {
		return nil, nil, err
	}

	delta := missingMessages(sess, t.Messages)
	if len(delta) == 0 {
		return sess, nil, nil
	}

	updated, err := r.store.Append(ctx, sess.ID, sess.Version, delta)
	if errors.Is(err, domain.ErrVersionConflict) {
		// Another writer won the race. Re-read, recompute the delta, and
		// retry once; a second conflict surfaces to the caller.
		sess, err = r.store.Get(ctx, t.SessionID)
		if err != nil {
			return nil, nil, err
		}
		delta = missingMessages(sess, t.Messages)
		if len(delta) == 0 {
			return sess, nil, nil
		}
		updated, err = r.store.Append(ctx, sess.ID, sess.Version, delta)
	}
	if err != nil {
		return nil, nil, err
	}

	return updated, delta, nil
}

// AppendAssistant persists a generated assistant message, serialized against
// other appends on the same session, with a single retry on version conflict.
func (r *Resolver) AppendAssistant(ctx context.Context, sessionID string, msg domain.Message) (*domain.Session, error) {
	unlock := r.lock(sessionID)
	defer unlock()

	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	updated, err := r.store.Append(ctx, sessionID, sess.Version, []domain.Message{msg})
	if errors.Is(err, domain.ErrVersionConflict) {
		sess, err = r.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		updated, err = r.store.Append(ctx, sessionID, sess.Version, []domain.Message{msg})
	}
	return updated, err
}

// missingMessages returns the turn messages not already persisted, so a
// client re-sending history never double-writes it.
func missingMessages(sess *domain.Session, msgs []domain.Message) []domain.Message {
	var delta []domain.Message
	for _, m := range msgs {
		if !sess.HasMessage(m.ID) {
			delta = append(delta, m)
		}
	}
	return delta
}
