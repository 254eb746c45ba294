package store

const schema = `
CREATE TABLE IF NOT EXISTS cached_images (
    id            INTEGER PRIMARY KEY,
    preview_url   TEXT NOT NULL DEFAULT '',
    sample_url    TEXT NOT NULL DEFAULT '',
    tags          TEXT NOT NULL DEFAULT '[]',
    score         INTEGER NOT NULL DEFAULT 0,
    comment_count INTEGER NOT NULL DEFAULT 0,
    rating        TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_score ON cached_images(score);

CREATE TABLE IF NOT EXISTS tag_stats (
    tag         TEXT PRIMARY KEY,
    count       INTEGER NOT NULL DEFAULT 0,
    score       INTEGER NOT NULL DEFAULT 0,
    shared_tags TEXT NOT NULL DEFAULT '[]',
    updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tag_stats_score ON tag_stats(score);

CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS session_tags (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    tag        TEXT NOT NULL,
    weight     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, tag)
);

CREATE TABLE IF NOT EXISTS session_seen (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    image_id   INTEGER NOT NULL,
    PRIMARY KEY (session_id, image_id)
);

CREATE INDEX IF NOT EXISTS idx_session_seen_session ON session_seen(session_id);
`
