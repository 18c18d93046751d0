package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/domain"
)

// SessionStore is the single source of truth for sessions and messages.
// Appends are guarded by an optimistic version check: callers pass the
// version they read, and a mismatch returns domain.ErrVersionConflict so
// a losing concurrent writer can re-read and retry instead of silently
// reordering history.
type SessionStore interface {
	// Create persists a new session owned by ownerID with its initial
	// messages at version 1.
	Create(ctx context.Context, id, ownerID string, initial []domain.Message) (*domain.Session, error)

	// Get returns a session with its full ordered message history, or
	// domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Append adds messages to a session if its version still matches
	// expectedVersion, bumping the version. Returns the updated session,
	// or domain.ErrVersionConflict when the check fails.
	Append(ctx context.Context, sessionID string, expectedVersion int64, msgs []domain.Message) (*domain.Session, error)

	// ListIDsByOwner returns the IDs of all sessions owned by ownerID,
	// most recently updated first.
	ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
}

// SQLiteSessionStore implements SessionStore backed by SQLite.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

func (s *SQLiteSessionStore) Create(ctx context.Context, id, ownerID string, initial []domain.Message) (*domain.Session, error) {
	now := time.Now().UTC()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, version, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)`,
		id, ownerID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	if err := insertMessages(ctx, tx, id, initial); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess := &domain.Session{ID: id}
	var createdAt, updatedAt string

	err := s.db.sql.QueryRowContext(ctx,
		`SELECT owner_id, version, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.OwnerID, &sess.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	sess.Messages, err = s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteSessionStore) Append(ctx context.Context, sessionID string, expectedVersion int64, msgs []domain.Message) (*domain.Session, error) {
	now := time.Now().UTC()

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		now.Format(time.RFC3339Nano), sessionID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("bumping session version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking version bump: %w", err)
	}
	if affected == 0 {
		// Either the session is gone or another writer won the race.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking session existence: %w", err)
		}
		if exists == 0 {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrVersionConflict
	}

	if err := insertMessages(ctx, tx, sessionID, msgs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return s.Get(ctx, sessionID)
}

func (s *SQLiteSessionStore) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id FROM sessions WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertMessages(ctx context.Context, tx *sql.Tx, sessionID string, msgs []domain.Message) error {
	for _, m := range msgs {
		parts, err := json.Marshal(m.Parts)
		if err != nil {
			return fmt.Errorf("encoding parts: %w", err)
		}
		ts := m.CreatedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, parts, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			m.ID, sessionID, string(m.Role), string(parts), ts.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}
	return nil
}

func (s *SQLiteSessionStore) loadMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, role, parts, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role, parts, ts string
		if err := rows.Scan(&m.ID, &role, &parts, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
			// Unparsed legacy rows normalize to an empty parts list.
			m.Parts = []domain.Part{}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
