package summarycache

const schema = `
CREATE TABLE IF NOT EXISTS card_summary (
    id TEXT PRIMARY KEY,
    category_l1 TEXT NOT NULL DEFAULT '',
    category_l2 TEXT NOT NULL DEFAULT '',
    category_l3 TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL DEFAULT '',
    title_en TEXT NOT NULL DEFAULT '',
    question_en TEXT NOT NULL DEFAULT '',
    question_type TEXT NOT NULL DEFAULT 'technical',
    difficulty TEXT NOT NULL DEFAULT '',
    frequency TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    sync_cursor INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_card_summary_category ON card_summary(category_l3);

CREATE TABLE IF NOT EXISTS cache_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
