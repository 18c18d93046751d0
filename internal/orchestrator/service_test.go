package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/turn"
)

func newService(t *testing.T, client llm.Client) (*Service, store.SessionStore) {
	t.Helper()
	ss := store.NewMemorySessionStore()
	resolver := NewResolver(ss, silentLog())
	c := cache.NewMemory(time.Minute)
	runner := NewRunner(client, resolver, c, tools.NewRegistry(), RunnerConfig{}, silentLog())
	svc := NewService(ss, resolver, authz.NewGuard(silentLog()), c, runner, silentLog())
	return svc, ss
}

func echoClient(answer string) *llm.MockClient {
	return &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return streamOf(
				llm.StreamEvent{Type: llm.EventDelta, Content: answer},
				doneEvent(answer),
			), nil
		},
	}
}

func rawTurn(sessionID, msgID, text string) turn.RawTurn {
	return turn.RawTurn{
		ID:      sessionID,
		Trigger: "submit-message",
		Messages: []turn.RawMessage{
			{ID: msgID, Role: "user", Parts: []turn.RawPart{{Type: "text", Text: text}}},
		},
	}
}

func TestService_SubmitTurn_GeneratesAndCaches(t *testing.T) {
	svc, ss := newService(t, echoClient("the answer"))
	ctx := context.Background()

	result, err := svc.SubmitTurn(ctx, rawTurn("sess-1", "m1", "question?"), alice)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	require.NotNil(t, result.Events)

	events := collect(t, result.Events)
	require.Equal(t, EventDone, events[len(events)-1].Type)

	sess, err := ss.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
}

func TestService_SubmitTurn_CacheHit(t *testing.T) {
	svc, ss := newService(t, echoClient("the answer"))
	ctx := context.Background()

	first, err := svc.SubmitTurn(ctx, rawTurn("sess-1", "m1", "question?"), alice)
	require.NoError(t, err)
	collect(t, first.Events)

	// Same question again: served from cache, no generation.
	second, err := svc.SubmitTurn(ctx, rawTurn("sess-1", "m2", "Question?"), alice)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "the answer", second.Text)
	assert.Nil(t, second.Events)

	// The cached reply is still a fully persisted assistant message.
	require.NotNil(t, second.Message)
	assert.Equal(t, domain.RoleAssistant, second.Message.Role)
	require.Len(t, second.Message.Parts, 1)
	assert.Equal(t, domain.PartText, second.Message.Parts[0].Type)
	assert.Equal(t, "the answer", second.Message.Text())

	sess, err := ss.Get(ctx, "sess-1")
	require.NoError(t, err)
	// m1, answer, m2, cached answer
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, second.Message.ID, sess.Messages[3].ID)
}

func TestService_SubmitTurn_DifferentQuestionMisses(t *testing.T) {
	svc, _ := newService(t, echoClient("the answer"))
	ctx := context.Background()

	first, err := svc.SubmitTurn(ctx, rawTurn("sess-1", "m1", "question one?"), alice)
	require.NoError(t, err)
	collect(t, first.Events)

	second, err := svc.SubmitTurn(ctx, rawTurn("sess-1", "m2", "question two?"), alice)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	collect(t, second.Events)
}

func TestService_SubmitTurn_ValidationError(t *testing.T) {
	svc, _ := newService(t, echoClient("x"))

	_, err := svc.SubmitTurn(context.Background(), turn.RawTurn{}, alice)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestService_ListSessionsForUser(t *testing.T) {
	svc, ss := newService(t, echoClient("x"))
	ctx := context.Background()

	_, err := ss.Create(ctx, "sess-1", "alice", []domain.Message{textMessage("m1", "user", "hi")})
	require.NoError(t, err)

	ids, err := svc.ListSessionsForUser(ctx, "alice", alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, ids)

	_, err = svc.ListSessionsForUser(ctx, "alice", authz.Identity{UserID: "bob"})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	ids, err = svc.ListSessionsForUser(ctx, "alice", authz.Identity{UserID: "bob", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestService_GetSessionContent(t *testing.T) {
	svc, ss := newService(t, echoClient("x"))
	ctx := context.Background()

	_, err := ss.Create(ctx, "sess-1", "alice", []domain.Message{textMessage("m1", "user", "hi")})
	require.NoError(t, err)

	sess, err := svc.GetSessionContent(ctx, "sess-1", alice)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 1)

	_, err = svc.GetSessionContent(ctx, "sess-1", authz.Identity{UserID: "bob"})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	// Elevated roles may read another user's session.
	sess, err = svc.GetSessionContent(ctx, "sess-1", authz.Identity{UserID: "bob", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.OwnerID)

	sess, err = svc.GetSessionContent(ctx, "sess-1", authz.Identity{UserID: "carol", Roles: []string{"moderator"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.OwnerID)

	_, err = svc.GetSessionContent(ctx, "sess-1", authz.Identity{})
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = svc.GetSessionContent(ctx, "missing", alice)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
