package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    name          TEXT NOT NULL,
    email         TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'manager', 'user')),
    status        TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended')),
    points        INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_active
    ON users(email) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS items (
    id           INTEGER PRIMARY KEY,
    title        TEXT NOT NULL,
    description  TEXT NOT NULL,
    category     TEXT NOT NULL,
    type         TEXT,
    size         TEXT NOT NULL,
    condition    TEXT NOT NULL DEFAULT 'good',
    brand        TEXT,
    tags         TEXT NOT NULL DEFAULT '[]',
    uploader_id  INTEGER NOT NULL REFERENCES users(id),
    availability TEXT NOT NULL DEFAULT 'available' CHECK (availability IN ('available', 'swapped', 'hidden')),
    approved     INTEGER NOT NULL DEFAULT 0,
    points       INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
    swap_count   INTEGER NOT NULL DEFAULT 0,
    views        INTEGER NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_uploader_availability
    ON items(uploader_id, availability);

CREATE TABLE IF NOT EXISTS item_images (
    id         INTEGER PRIMARY KEY,
    item_id    INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    url        TEXT NOT NULL,
    alt        TEXT NOT NULL DEFAULT '',
    is_primary INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS item_likes (
    item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    user_id INTEGER NOT NULL REFERENCES users(id),
    PRIMARY KEY (item_id, user_id)
);

CREATE TABLE IF NOT EXISTS image_blobs (
    key        TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    mime       TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS swap_requests (
    id                 INTEGER PRIMARY KEY,
    item_id            INTEGER NOT NULL REFERENCES items(id),
    requested_by       INTEGER NOT NULL REFERENCES users(id),
    item_owner         INTEGER NOT NULL REFERENCES users(id),
    mode               TEXT NOT NULL CHECK (mode IN ('swap', 'points')),
    status             TEXT NOT NULL DEFAULT 'pending'
                       CHECK (status IN ('pending', 'accepted', 'declined', 'completed', 'cancelled')),
    message            TEXT,
    offered_item_id    INTEGER REFERENCES items(id),
    points_offered     INTEGER NOT NULL DEFAULT 0,
    response_message   TEXT,
    responded_at       DATETIME,
    points_transferred INTEGER NOT NULL DEFAULT 0,
    completed_at       DATETIME,
    completion_notes   TEXT,
    meeting_date       DATETIME,
    meeting_location   TEXT,
    meeting_notes      TEXT,
    expires_at         DATETIME NOT NULL,
    is_active          INTEGER NOT NULL DEFAULT 1,
    created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (requested_by <> item_owner),
    CHECK ((mode = 'swap' AND offered_item_id IS NOT NULL)
        OR (mode = 'points' AND points_offered > 0))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_swaps_one_pending
    ON swap_requests(item_id, requested_by) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_swaps_owner_status
    ON swap_requests(item_owner, status);

CREATE INDEX IF NOT EXISTS idx_swaps_requester_status
    ON swap_requests(requested_by, status);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id              INTEGER PRIMARY KEY,
    user_id         INTEGER NOT NULL REFERENCES users(id),
    kind            TEXT NOT NULL CHECK (kind IN ('award', 'debit', 'credit')),
    amount          INTEGER NOT NULL CHECK (amount <> 0),
    reason          TEXT,
    swap_request_id INTEGER REFERENCES swap_requests(id),
    item_id         INTEGER REFERENCES items(id) ON DELETE SET NULL,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ledger_user
    ON ledger_entries(user_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
