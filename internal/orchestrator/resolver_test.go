package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/turn"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func textMessage(id, role, text string) domain.Message {
	return domain.Message{
		ID:        id,
		Role:      domain.Role(role),
		Parts:     []domain.Part{domain.TextPart(text)},
		CreatedAt: time.Now().UTC(),
	}
}

func testTurn(sessionID string, msgs ...domain.Message) *turn.Turn {
	return &turn.Turn{SessionID: sessionID, Trigger: "submit-message", Messages: msgs}
}

var alice = authz.Identity{UserID: "alice"}

func TestResolver_CreatesSession(t *testing.T) {
	ss := store.NewMemorySessionStore()
	r := NewResolver(ss, silentLog())
	ctx := context.Background()

	sess, delta, err := r.Resolve(ctx, testTurn("sess-1", textMessage("m1", "user", "hello")), alice)
	require.NoError(t, err)

	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "alice", sess.OwnerID)
	assert.Equal(t, int64(1), sess.Version)
	assert.Len(t, delta, 1)

	got, err := ss.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestResolver_AnonymousCannotCreate(t *testing.T) {
	r := NewResolver(store.NewMemorySessionStore(), silentLog())

	_, _, err := r.Resolve(context.Background(),
		testTurn("sess-1", textMessage("m1", "user", "hello")), authz.Identity{})
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
}

func TestResolver_AppendsOnlyDelta(t *testing.T) {
	ss := store.NewMemorySessionStore()
	r := NewResolver(ss, silentLog())
	ctx := context.Background()

	m1 := textMessage("m1", "user", "hello")
	_, _, err := r.Resolve(ctx, testTurn("sess-1", m1), alice)
	require.NoError(t, err)

	// Client re-sends full history plus one new message.
	m2 := textMessage("m2", "user", "and another thing")
	sess, delta, err := r.Resolve(ctx, testTurn("sess-1", m1, m2), alice)
	require.NoError(t, err)

	require.Len(t, delta, 1)
	assert.Equal(t, "m2", delta[0].ID)
	assert.Len(t, sess.Messages, 2)
	assert.Equal(t, int64(2), sess.Version)
}

func TestResolver_NoDeltaIsNoOp(t *testing.T) {
	ss := store.NewMemorySessionStore()
	r := NewResolver(ss, silentLog())
	ctx := context.Background()

	m1 := textMessage("m1", "user", "hello")
	first, _, err := r.Resolve(ctx, testTurn("sess-1", m1), alice)
	require.NoError(t, err)

	// Retried turn with no new messages must not bump the version.
	second, delta, err := r.Resolve(ctx, testTurn("sess-1", m1), alice)
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, first.Version, second.Version)
}

func TestResolver_ContinueWithoutIdentity(t *testing.T) {
	ss := store.NewMemorySessionStore()
	r := NewResolver(ss, silentLog())
	ctx := context.Background()

	m1 := textMessage("m1", "user", "hello")
	_, _, err := r.Resolve(ctx, testTurn("sess-1", m1), alice)
	require.NoError(t, err)

	// Existing sessions accept turns regardless of caller identity; the
	// read-path guard is a separate concern.
	m2 := textMessage("m2", "user", "more")
	sess, _, err := r.Resolve(ctx, testTurn("sess-1", m1, m2), authz.Identity{})
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

// conflictStore forces Append to fail with a version conflict a set number
// of times before delegating.
type conflictStore struct {
	store.SessionStore
	conflicts int
}

func (c *conflictStore) Append(ctx context.Context, sessionID string, expectedVersion int64, msgs []domain.Message) (*domain.Session, error) {
	if c.conflicts > 0 {
		c.conflicts--
		return nil, domain.ErrVersionConflict
	}
	return c.SessionStore.Append(ctx, sessionID, expectedVersion, msgs)
}

func TestResolver_RetriesOnceOnConflict(t *testing.T) {
	ss := store.NewMemorySessionStore()
	cs := &conflictStore{SessionStore: ss, conflicts: 0}
	r := NewResolver(cs, silentLog())
	ctx := context.Background()

	m1 := textMessage("m1", "user", "hello")
	_, _, err := r.Resolve(ctx, testTurn("sess-1", m1), alice)
	require.NoError(t, err)

	cs.conflicts = 1
	m2 := textMessage("m2", "user", "more")
	sess, delta, err := r.Resolve(ctx, testTurn("sess-1", m1, m2), alice)
	require.NoError(t, err)
	assert.Len(t, delta, 1)
	assert.Len(t, sess.Messages, 2)
}

func TestResolver_SecondConflictSurfaces(t *testing.T) {
	ss := store.NewMemorySessionStore()
	cs := &conflictStore{SessionStore: ss, conflicts: 0}
	r := NewResolver(cs, silentLog())
	ctx := context.Background()

	m1 := textMessage("m1", "user", "hello")
	_, _, err := r.Resolve(ctx, testTurn("sess-1", m1), alice)
	require.NoError(t, err)

	cs.conflicts = 2
	m2 := textMessage("m2", "user", "more")
	_, _, err = r.Resolve(ctx, testTurn("sess-1", m1, m2), alice)
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))
}

func TestResolver_AppendAssistant(t *testing.T) {
	ss := store.NewMemorySessionStore()
	r := NewResolver(ss, silentLog())
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, testTurn("sess-1", textMessage("m1", "user", "hi")), alice)
	require.NoError(t, err)

	sess, err := r.AppendAssistant(ctx, "sess-1", textMessage("a1", "assistant", "hello back"))
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, domain.RoleAssistant, sess.Messages[1].Role)
}

func TestResolver_AppendAssistantRetriesOnConflict(t *testing.T) {
	ss := store.NewMemorySessionStore()
	cs := &conflictStore{SessionStore: ss, conflicts: 0}
	r := NewResolver(cs, silentLog())
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, testTurn("sess-1", textMessage("m1", "user", "hi")), alice)
	require.NoError(t, err)

	cs.conflicts = 1
	sess, err := r.AppendAssistant(ctx, "sess-1", textMessage("a1", "assistant", "hello back"))
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}
