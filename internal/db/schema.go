package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS members (
    id             TEXT PRIMARY KEY,
    email          TEXT NOT NULL,
    display_name   TEXT NOT NULL,
    location       TEXT NOT NULL DEFAULT '',
    avatar_url     TEXT NOT NULL DEFAULT '',
    password_hash  TEXT NOT NULL,
    points         INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
    created_at     DATETIME NOT NULL,
    deactivated_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_members_email ON members(email);

CREATE TABLE IF NOT EXISTS items (
    id           TEXT PRIMARY KEY,
    owner_id     TEXT NOT NULL REFERENCES members(id),
    title        TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    category     TEXT NOT NULL CHECK (category IN ('men', 'women', 'kids', 'unisex')),
    size         TEXT NOT NULL DEFAULT '',
    condition    TEXT NOT NULL CHECK (condition IN ('new', 'like_new', 'good', 'used')),
    tags         TEXT NOT NULL DEFAULT '[]',
    images       TEXT NOT NULL DEFAULT '[]',
    points_value INTEGER NOT NULL CHECK (points_value > 0),
    status       TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'reserved', 'swapped')),
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL,
    deleted_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);

CREATE TABLE IF NOT EXISTS swap_requests (
    id                TEXT PRIMARY KEY,
    requester_id      TEXT NOT NULL REFERENCES members(id),
    owner_id          TEXT NOT NULL REFERENCES members(id),
    requested_item_id TEXT NOT NULL REFERENCES items(id),
    offered_item_id   TEXT REFERENCES items(id),
    is_point_swap     INTEGER NOT NULL DEFAULT 0,
    message           TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending'
                      CHECK (status IN ('pending', 'accepted', 'declined', 'completed', 'cancelled')),
    close_reason      TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    accepted_at       DATETIME,
    closed_at         DATETIME,
    CHECK ((is_point_swap = 1 AND offered_item_id IS NULL) OR (is_point_swap = 0 AND offered_item_id IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_swaps_requested ON swap_requests(requested_item_id, status);
CREATE INDEX IF NOT EXISTS idx_swaps_offered ON swap_requests(offered_item_id, status);
CREATE INDEX IF NOT EXISTS idx_swaps_requester ON swap_requests(requester_id);
CREATE INDEX IF NOT EXISTS idx_swaps_owner ON swap_requests(owner_id);

-- At most one accepted request may hold an item as its requested target.
CREATE UNIQUE INDEX IF NOT EXISTS idx_swaps_one_accepted
    ON swap_requests(requested_item_id) WHERE status = 'accepted';

CREATE TABLE IF NOT EXISTS point_entries (
    id            INTEGER PRIMARY KEY,
    member_id     TEXT NOT NULL REFERENCES members(id),
    delta         INTEGER NOT NULL,
    balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
    reason        TEXT NOT NULL,
    swap_id       TEXT REFERENCES swap_requests(id),
    created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_point_entries_member ON point_entries(member_id);

CREATE TABLE IF NOT EXISTS notifications (
    id           TEXT PRIMARY KEY,
    recipient_id TEXT NOT NULL REFERENCES members(id),
    type         TEXT NOT NULL,
    related_id   TEXT NOT NULL,
    created_at   DATETIME NOT NULL,
    read_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);

CREATE TABLE IF NOT EXISTS media (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL REFERENCES members(id),
    data       BLOB NOT NULL,
    mime       TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{}

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Migrate ensures the schema and then runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
