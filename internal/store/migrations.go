package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				owner_id    TEXT NOT NULL,
				version     INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE INDEX idx_sessions_owner ON sessions (owner_id, updated_at DESC);

			CREATE TABLE messages (
				seq         INTEGER PRIMARY KEY AUTOINCREMENT,
				id          TEXT NOT NULL,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role        TEXT NOT NULL,
				parts       TEXT NOT NULL DEFAULT '[]',
				created_at  TEXT NOT NULL,
				UNIQUE (session_id, id)
			);

			CREATE INDEX idx_messages_session ON messages (session_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create reference passages with FTS5",
		SQL: `
			CREATE TABLE reference_passages (
				id          TEXT PRIMARY KEY,
				source      TEXT NOT NULL,
				position    INTEGER NOT NULL,
				content     TEXT NOT NULL
			);

			CREATE VIRTUAL TABLE reference_fts USING fts5(
				content,
				content='reference_passages',
				content_rowid='rowid'
			);

			CREATE TRIGGER reference_ai AFTER INSERT ON reference_passages BEGIN
				INSERT INTO reference_fts(rowid, content)
				VALUES (new.rowid, new.content);
			END;

			CREATE TRIGGER reference_ad AFTER DELETE ON reference_passages BEGIN
				INSERT INTO reference_fts(reference_fts, rowid, content)
				VALUES ('delete', old.rowid, old.content);
			END;
		`,
	},
}
