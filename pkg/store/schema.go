package store

// Schema is the complete database schema, applied idempotently by
// Migrate. Email addresses and post ids are unique case-insensitively,
// matching the LIKE-based lookups used throughout the resource modules.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    email_address           TEXT    NOT NULL,
    given_name              TEXT,
    family_name             TEXT,
    password_hash           TEXT    NOT NULL DEFAULT '',
    password_reset_key_hash TEXT,
    password_reset_key_time INTEGER,
    active                  INTEGER NOT NULL DEFAULT 1,
    authorised_to_blog      INTEGER NOT NULL DEFAULT 0,
    admin                   INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_address
    ON users (email_address COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS posts (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL,
    body        TEXT    NOT NULL,
    preview     TEXT,
    author      INTEGER NOT NULL REFERENCES users (id),
    posted_time TEXT    NOT NULL,
    time_zone   TEXT    NOT NULL,
    active      INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_id_nocase
    ON posts (id COLLATE NOCASE);

CREATE INDEX IF NOT EXISTS idx_posts_author
    ON posts (author);

CREATE INDEX IF NOT EXISTS idx_posts_posted_time
    ON posts (posted_time);

CREATE TABLE IF NOT EXISTS pages (
    id    TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    body  TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_id_nocase
    ON pages (id COLLATE NOCASE);
`
