package orchestrator

import (
	"context"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/turn"
)

// Service is the conversational entry point: it validates a raw turn,
// resolves its session, consults the response cache, and either returns a
// cached answer or starts a generation run.
type Service struct {
	store    store.SessionStore
	resolver *Resolver
	guard    *authz.Guard
	cache    cache.Cache
	runner   *Runner
	log      *logging.Logger
}

// NewService wires the orchestration pipeline.
func NewService(st store.SessionStore, resolver *Resolver, guard *authz.Guard, c cache.Cache, runner *Runner, log *logging.Logger) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		guard:    guard,
		cache:    c,
		runner:   runner,
		log:      log.Sub("orchestrator"),
	}
}

// TurnResult is the outcome of submitting a turn. Exactly one of the two
// shapes is populated: a cached answer with its persisted message, or a
// live event stream.
type TurnResult struct {
	SessionID string
	Cached    bool
	Text      string          // cached answer text
	Message   *domain.Message // persisted assistant message for the cached answer
	Events    <-chan Event    // nil when Cached
}

// SubmitTurn validates and persists the incoming turn, then answers it from
// the cache or starts generation. A cache hit is indistinguishable from a
// generated answer at the persistence layer: it still appends a full
// assistant message to the session.
func (s *Service) SubmitTurn(ctx context.Context, raw turn.RawTurn, caller authz.Identity) (*TurnResult, error) {
	t, err := turn.Parse(raw)
	if err != nil {
		return nil, err
	}

	sess, delta, err := s.resolver.Resolve(ctx, t, caller)
	if err != nil {
		return nil, err
	}
	s.log.Debug().
		Str("sessionId", sess.ID).
		Int("delta", len(delta)).
		Msg("turn resolved")

	key := cache.Key(sess.ID, sess.LastUserText())
	if text, ok := s.cache.Get(ctx, key); ok {
		msg := newAssistantMessage(text, nil)
		if _, err := s.resolver.AppendAssistant(ctx, sess.ID, msg); err != nil {
			return nil, err
		}
		s.log.Info().Str("sessionId", sess.ID).Msg("answered from cache")
		return &TurnResult{
			SessionID: sess.ID,
			Cached:    true,
			Text:      text,
			Message:   &msg,
		}, nil
	}

	return &TurnResult{
		SessionID: sess.ID,
		Events:    s.runner.Generate(ctx, sess, key),
	}, nil
}

// ListSessionsForUser returns the session IDs owned by targetUserID,
// subject to the self-or-elevated access rule.
func (s *Service) ListSessionsForUser(ctx context.Context, targetUserID string, caller authz.Identity) ([]string, error) {
	if err := s.guard.Authorize(caller, targetUserID); err != nil {
		return nil, err
	}
	return s.store.ListIDsByOwner(ctx, targetUserID)
}

// GetSessionContent returns a session with its full message history,
// subject to the self-or-elevated access rule against the session owner.
func (s *Service) GetSessionContent(ctx context.Context, sessionID string, caller authz.Identity) (*domain.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(caller, sess.OwnerID); err != nil {
		return nil, err
	}
	return sess, nil
}
