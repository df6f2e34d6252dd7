// Package sqlite implements the conversation store on SQLite. It is the
// default zero-dependency backend: a single file (or :memory:) and no server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// maxInClauseIDs bounds IN-clause size. SQLite's default variable limit is
// 999; chunking below that keeps large message windows queryable.
const maxInClauseIDs = 500

// Store implements storage.ConversationStore and storage.ConversationWriter
// on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database, configures WAL mode, and applies the
// schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: conversation ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT id, title, created_at, updated_at, metadata
		FROM conversations
		WHERE id = ?
	`

	var conv types.Conversation
	var title, metadataJSON sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &title, &conv.CreatedAt, &conv.UpdatedAt, &metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if title.Valid {
		conv.Title = title.String
	}
	if err := unmarshalMetadata(metadataJSON, &conv.Metadata); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetRecentMessages returns up to limit messages for a conversation, newest
// first.
func (s *Store) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, conversation_id, role, content, parent_message_id, created_at, metadata
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessagesByIDs resolves message IDs to full messages, chunking the ID
// list. Missing IDs are omitted.
func (s *Store) GetMessagesByIDs(ctx context.Context, ids []string) ([]types.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var all []types.Message
	for _, chunk := range chunkIDs(ids, maxInClauseIDs) {
		query := fmt.Sprintf(`
			SELECT id, conversation_id, role, content, parent_message_id, created_at, metadata
			FROM messages
			WHERE id IN (%s)
		`, placeholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, query, toArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query messages by ID: %w", err)
		}

		messages, err := scanMessages(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, messages...)
	}
	return all, nil
}

// GetEntityByID retrieves an entity by ID.
func (s *Store) GetEntityByID(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT id, name, normalized_name, type, confidence_score, mention_count, last_mentioned_at, metadata
		FROM entities
		WHERE id = ?
	`

	entity, err := scanEntityRow(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// GetMostMentionedEntities returns up to limit entities ordered by mention
// count descending.
func (s *Store) GetMostMentionedEntities(ctx context.Context, limit int) ([]types.Entity, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, name, normalized_name, type, confidence_score, mention_count, last_mentioned_at, metadata
		FROM entities
		ORDER BY mention_count DESC, id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query most mentioned entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetConversationEntities returns the entities mentioned in one conversation,
// ordered by their mention count within it.
func (s *Store) GetConversationEntities(ctx context.Context, conversationID string, limit int) ([]types.Entity, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT e.id, e.name, e.normalized_name, e.type, e.confidence_score, e.mention_count, e.last_mentioned_at, e.metadata
		FROM entities e
		JOIN entity_mentions m ON m.entity_id = e.id
		WHERE m.conversation_id = ?
		GROUP BY e.id
		ORDER BY COUNT(*) DESC, e.id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetEntityMentions returns up to limit mentions of one entity, newest first.
func (s *Store) GetEntityMentions(ctx context.Context, entityID string, limit int) ([]types.EntityMention, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT entity_id, message_id, conversation_id, mention_text, start_position, end_position, confidence_score, created_at
		FROM entity_mentions
		WHERE entity_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity mentions: %w", err)
	}
	defer rows.Close()

	return scanMentions(rows)
}

// GetEntityMentionsForMessages returns all mentions attached to the given
// messages, chunking the ID list.
func (s *Store) GetEntityMentionsForMessages(ctx context.Context, messageIDs []string) ([]types.EntityMention, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var all []types.EntityMention
	for _, chunk := range chunkIDs(messageIDs, maxInClauseIDs) {
		query := fmt.Sprintf(`
			SELECT entity_id, message_id, conversation_id, mention_text, start_position, end_position, confidence_score, created_at
			FROM entity_mentions
			WHERE message_id IN (%s)
		`, placeholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, query, toArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query mentions for messages: %w", err)
		}

		mentions, err := scanMentions(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, mentions...)
	}
	return all, nil
}

// FindConversationsSharingEntities returns other conversations mentioning the
// probe entities after the cutoff, most recently mentioned first. With two or
// more probe entities a conversation must share at least two of them; a
// single-entity probe lowers the bar to one.
func (s *Store) FindConversationsSharingEntities(ctx context.Context, entityIDs []string, excludeConversationID string, cutoff time.Time, limit int) ([]storage.SharedEntityConversation, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	minShared := 2
	if len(entityIDs) < 2 {
		minShared = 1
	}

	query := fmt.Sprintf(`
		SELECT
			conversation_id,
			COUNT(DISTINCT entity_id)  AS entity_count,
			MAX(created_at)            AS last_mentioned_at,
			COUNT(DISTINCT message_id) AS message_count
		FROM entity_mentions
		WHERE entity_id IN (%s)
		  AND conversation_id != ?
		  AND created_at > ?
		GROUP BY conversation_id
		HAVING COUNT(DISTINCT entity_id) >= ?
		ORDER BY last_mentioned_at DESC
		LIMIT ?
	`, placeholders(len(entityIDs)))

	args := toArgs(entityIDs)
	args = append(args, excludeConversationID, cutoff, minShared, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sharing conversations: %w", err)
	}
	defer rows.Close()

	var out []storage.SharedEntityConversation
	for rows.Next() {
		var c storage.SharedEntityConversation
		if err := rows.Scan(&c.ConversationID, &c.EntityCount, &c.LastMentionedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan sharing conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetRelationshipEdges aggregates relationship rows into per-(source, target,
// type) edges.
func (s *Store) GetRelationshipEdges(ctx context.Context, sourceEntityIDs []string) ([]storage.RelationshipEdge, error) {
	if len(sourceEntityIDs) == 0 {
		return nil, nil
	}

	var all []storage.RelationshipEdge
	for _, chunk := range chunkIDs(sourceEntityIDs, maxInClauseIDs) {
		query := fmt.Sprintf(`
			SELECT from_id, to_id, type, COUNT(*), AVG(strength)
			FROM relationships
			WHERE from_id IN (%s)
			GROUP BY from_id, to_id, type
		`, placeholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, query, toArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query relationship edges: %w", err)
		}

		for rows.Next() {
			var e storage.RelationshipEdge
			if err := rows.Scan(&e.SourceEntityID, &e.TargetEntityID, &e.RelationshipType, &e.RelationshipCount, &e.AvgStrength); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan relationship edge: %w", err)
			}
			all = append(all, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return all, nil
}

// CreateConversation inserts a conversation record.
func (s *Store) CreateConversation(ctx context.Context, conv *types.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("%w: conversation ID is required", storage.ErrInvalidInput)
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	metadataJSON, err := marshalMetadata(conv.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, nullString(conv.Title), conv.CreatedAt, conv.UpdatedAt, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message and advances the conversation's updated_at.
func (s *Store) AddMessage(ctx context.Context, msg *types.Message) error {
	if msg == nil || msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("%w: message ID and conversation ID are required", storage.ErrInvalidInput)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	metadataJSON, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, parent_message_id, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, nullString(msg.ParentMessageID), msg.CreatedAt, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return tx.Commit()
}

// UpsertEntity creates or updates an entity.
func (s *Store) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entity.NormalizedName == "" {
		entity.NormalizedName = strings.ToLower(strings.TrimSpace(entity.Name))
	}

	metadataJSON, err := marshalMetadata(entity.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, normalized_name, type, confidence_score, mention_count, last_mentioned_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			normalized_name = excluded.normalized_name,
			type = excluded.type,
			confidence_score = excluded.confidence_score,
			metadata = excluded.metadata
	`, entity.ID, entity.Name, entity.NormalizedName, string(entity.Type),
		entity.ConfidenceScore, entity.MentionCount, nullTime(entity.LastMentionedAt), metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// AddMention records an entity mention and bumps the entity's statistics.
func (s *Store) AddMention(ctx context.Context, mention *types.EntityMention) error {
	if mention == nil || mention.EntityID == "" || mention.MessageID == "" {
		return fmt.Errorf("%w: entity ID and message ID are required", storage.ErrInvalidInput)
	}
	if mention.CreatedAt.IsZero() {
		mention.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_mentions (entity_id, message_id, conversation_id, mention_text, start_position, end_position, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, mention.EntityID, mention.MessageID, mention.ConversationID, mention.MentionText,
		mention.StartPosition, mention.EndPosition, mention.ConfidenceScore, mention.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mention: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE entities
		SET mention_count = mention_count + 1,
		    last_mentioned_at = ?
		WHERE id = ?
	`, mention.CreatedAt, mention.EntityID)
	if err != nil {
		return fmt.Errorf("failed to bump entity mention count: %w", err)
	}

	return tx.Commit()
}

// AddRelationship records a relationship between two entities.
func (s *Store) AddRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil || rel.ID == "" || rel.FromID == "" || rel.ToID == "" {
		return fmt.Errorf("%w: relationship ID, from, and to are required", storage.ErrInvalidInput)
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	if rel.UpdatedAt.IsZero() {
		rel.UpdatedAt = rel.CreatedAt
	}

	metadataJSON, err := marshalMetadata(rel.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, type, strength, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.FromID, rel.ToID, rel.Type, rel.Strength, rel.CreatedAt, rel.UpdatedAt, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	return nil
}

// Stats reports row counts across the core tables.
func (s *Store) Stats(ctx context.Context) (storage.StoreStats, error) {
	var stats storage.StoreStats
	counts := []struct {
		table string
		dst   *int
	}{
		{"conversations", &stats.Conversations},
		{"messages", &stats.Messages},
		{"entities", &stats.Entities},
		{"entity_mentions", &stats.Mentions},
		{"relationships", &stats.Relationships},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return storage.StoreStats{}, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return stats, nil
}

func scanMessages(rows *sql.Rows) ([]types.Message, error) {
	var out []types.Message
	for rows.Next() {
		var msg types.Message
		var parent, metadataJSON sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &parent, &msg.CreatedAt, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if parent.Valid {
			msg.ParentMessageID = parent.String
		}
		if err := unmarshalMetadata(metadataJSON, &msg.Metadata); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func scanEntities(rows *sql.Rows) ([]types.Entity, error) {
	var out []types.Entity
	for rows.Next() {
		entity, err := scanEntityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, *entity)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntityRow(row rowScanner) (*types.Entity, error) {
	var entity types.Entity
	var lastMentioned sql.NullTime
	var metadataJSON sql.NullString
	if err := row.Scan(&entity.ID, &entity.Name, &entity.NormalizedName, &entity.Type,
		&entity.ConfidenceScore, &entity.MentionCount, &lastMentioned, &metadataJSON); err != nil {
		return nil, err
	}
	if lastMentioned.Valid {
		entity.LastMentionedAt = lastMentioned.Time
	}
	if err := unmarshalMetadata(metadataJSON, &entity.Metadata); err != nil {
		return nil, err
	}
	return &entity, nil
}

func scanMentions(rows *sql.Rows) ([]types.EntityMention, error) {
	var out []types.EntityMention
	for rows.Next() {
		var m types.EntityMention
		if err := rows.Scan(&m.EntityID, &m.MessageID, &m.ConversationID, &m.MentionText,
			&m.StartPosition, &m.EndPosition, &m.ConfidenceScore, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func marshalMetadata(metadata map[string]interface{}) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString, dst *map[string]interface{}) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v time.Time) sql.NullTime {
	return sql.NullTime{Time: v, Valid: !v.IsZero()}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
