package postgres

// Schema is the embedded DDL applied on every open. All statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    title      TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    metadata   JSONB
);

CREATE TABLE IF NOT EXISTS messages (
    id                TEXT PRIMARY KEY,
    conversation_id   TEXT NOT NULL REFERENCES conversations(id),
    role              TEXT NOT NULL,
    content           TEXT NOT NULL,
    parent_message_id TEXT,
    created_at        TIMESTAMPTZ NOT NULL,
    metadata          JSONB
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
    ON messages(conversation_id, created_at DESC);

CREATE TABLE IF NOT EXISTS entities (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    normalized_name   TEXT NOT NULL,
    type              TEXT NOT NULL,
    confidence_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
    mention_count     INTEGER NOT NULL DEFAULT 0,
    last_mentioned_at TIMESTAMPTZ,
    metadata          JSONB
);

CREATE INDEX IF NOT EXISTS idx_entities_normalized_name
    ON entities(normalized_name);
CREATE INDEX IF NOT EXISTS idx_entities_mention_count
    ON entities(mention_count DESC);

CREATE TABLE IF NOT EXISTS entity_mentions (
    entity_id        TEXT NOT NULL REFERENCES entities(id),
    message_id       TEXT NOT NULL REFERENCES messages(id),
    conversation_id  TEXT NOT NULL REFERENCES conversations(id),
    mention_text     TEXT NOT NULL,
    start_position   INTEGER NOT NULL DEFAULT 0,
    end_position     INTEGER NOT NULL DEFAULT 0,
    confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mentions_entity_created
    ON entity_mentions(entity_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_mentions_message
    ON entity_mentions(message_id);
CREATE INDEX IF NOT EXISTS idx_mentions_conversation
    ON entity_mentions(conversation_id);

CREATE TABLE IF NOT EXISTS relationships (
    id         TEXT PRIMARY KEY,
    from_id    TEXT NOT NULL REFERENCES entities(id),
    to_id      TEXT NOT NULL REFERENCES entities(id),
    type       TEXT NOT NULL,
    strength   DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    metadata   JSONB
);

CREATE INDEX IF NOT EXISTS idx_relationships_from
    ON relationships(from_id, type);

CREATE TABLE IF NOT EXISTS message_embeddings (
    message_id TEXT PRIMARY KEY REFERENCES messages(id),
    model      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// MigrationPgvector adds the vector column; applied only when the pgvector
// extension is available.
const MigrationPgvector = `
ALTER TABLE message_embeddings
    ADD COLUMN IF NOT EXISTS embedding vector(768);
`
