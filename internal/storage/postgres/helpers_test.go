// Package postgres implements the conversation store on PostgreSQL.
// This file contains test helpers only compiled during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every table. It is defined in the
// postgres package (not the postgres_test package) so it has access to the
// unexported db field, and exported so postgres_test can call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE TABLE message_embeddings, entity_mentions, relationships,
		               messages, entities, conversations
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}

// DisableVectorSearchForTest forces the pgvector-unavailable degradation
// path regardless of the test server's installed extensions.
func (s *Store) DisableVectorSearchForTest() {
	s.pgvectorAvailable = false
}
