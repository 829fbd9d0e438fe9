package storage

const sqliteSchema = `
-- Catalog of questions. Timestamps are unix milliseconds.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    category_l1 TEXT NOT NULL DEFAULT '',
    category_l2 TEXT NOT NULL DEFAULT '',
    category_l3 TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    title_en TEXT NOT NULL DEFAULT '',
    question_en TEXT NOT NULL DEFAULT '',
    answer_en TEXT NOT NULL DEFAULT '',
    question_type TEXT NOT NULL DEFAULT 'technical',
    difficulty TEXT NOT NULL DEFAULT '',
    frequency TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    external_id TEXT NOT NULL DEFAULT '',
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_updated ON cards(updated_at, id);
CREATE INDEX IF NOT EXISTS idx_cards_category ON cards(category_l3);

-- The 'sources' table tracks the origin of imported cards, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    level INTEGER NOT NULL,
    name TEXT NOT NULL,
    name_en TEXT NOT NULL DEFAULT '',
    parent_id TEXT NOT NULL DEFAULT ''
);

-- Per-user overlay; one row per (user, card).
CREATE TABLE IF NOT EXISTS card_overrides (
    user_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    mastery TEXT NOT NULL DEFAULT 'new',
    review_count INTEGER NOT NULL DEFAULT 0,
    interval_days INTEGER NOT NULL DEFAULT 0,
    due_at INTEGER NOT NULL DEFAULT 0,
    last_reviewed_at INTEGER NOT NULL DEFAULT 0,
    last_submission TEXT NOT NULL DEFAULT '',
    pass_rate REAL,
    updated_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, card_id)
);

CREATE TABLE IF NOT EXISTS card_lists (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    card_ids TEXT NOT NULL DEFAULT '[]',
    is_default INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_card_lists_user ON card_lists(user_id);

CREATE TABLE IF NOT EXISTS review_sessions (
    user_id TEXT NOT NULL,
    session_key TEXT NOT NULL,
    queue TEXT NOT NULL DEFAULT '[]',
    cursor_pos INTEGER NOT NULL DEFAULT 0,
    filters TEXT NOT NULL DEFAULT '{}',
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, session_key)
);

CREATE TABLE IF NOT EXISTS review_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    previous_mastery TEXT NOT NULL,
    new_mastery TEXT NOT NULL,
    time_spent_ms INTEGER NOT NULL,
    revealed_answer INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_logs_user ON review_logs(user_id, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sources (
    id BIGSERIAL PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    category_l1 TEXT NOT NULL DEFAULT '',
    category_l2 TEXT NOT NULL DEFAULT '',
    category_l3 TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    title_en TEXT NOT NULL DEFAULT '',
    question_en TEXT NOT NULL DEFAULT '',
    answer_en TEXT NOT NULL DEFAULT '',
    question_type TEXT NOT NULL DEFAULT 'technical',
    difficulty TEXT NOT NULL DEFAULT '',
    frequency TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    external_id TEXT NOT NULL DEFAULT '',
    source_id BIGINT REFERENCES sources(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_updated ON cards(updated_at, id);
CREATE INDEX IF NOT EXISTS idx_cards_category ON cards(category_l3);

CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    level INTEGER NOT NULL,
    name TEXT NOT NULL,
    name_en TEXT NOT NULL DEFAULT '',
    parent_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS card_overrides (
    user_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    mastery TEXT NOT NULL DEFAULT 'new',
    review_count INTEGER NOT NULL DEFAULT 0,
    interval_days INTEGER NOT NULL DEFAULT 0,
    due_at BIGINT NOT NULL DEFAULT 0,
    last_reviewed_at BIGINT NOT NULL DEFAULT 0,
    last_submission TEXT NOT NULL DEFAULT '',
    pass_rate DOUBLE PRECISION,
    updated_at BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, card_id)
);

CREATE TABLE IF NOT EXISTS card_lists (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    card_ids TEXT NOT NULL DEFAULT '[]',
    is_default INTEGER NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_card_lists_user ON card_lists(user_id);

CREATE TABLE IF NOT EXISTS review_sessions (
    user_id TEXT NOT NULL,
    session_key TEXT NOT NULL,
    queue TEXT NOT NULL DEFAULT '[]',
    cursor_pos INTEGER NOT NULL DEFAULT 0,
    filters TEXT NOT NULL DEFAULT '{}',
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (user_id, session_key)
);

CREATE TABLE IF NOT EXISTS review_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    previous_mastery TEXT NOT NULL,
    new_mastery TEXT NOT NULL,
    time_spent_ms BIGINT NOT NULL,
    revealed_answer INTEGER NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_logs_user ON review_logs(user_id, created_at);
`
