package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// fakeStore is an in-memory ConversationStore for engine tests.
type fakeStore struct {
	conversations map[string]types.Conversation
	messages      map[string][]types.Message // per conversation, chronological
	entities      map[string]types.Entity
	mentions      []types.EntityMention

	convEntities map[string][]types.Entity // GetConversationEntities fixture
	shared       []storage.SharedEntityConversation
	edges        []storage.RelationshipEdge

	// failWith, when set, makes every call fail. Used to verify that
	// store failures propagate instead of collapsing to empty results.
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]types.Conversation),
		messages:      make(map[string][]types.Message),
		entities:      make(map[string]types.Entity),
		convEntities:  make(map[string][]types.Entity),
	}
}

func (s *fakeStore) addConversation(id string, at time.Time) {
	s.conversations[id] = types.Conversation{ID: id, CreatedAt: at, UpdatedAt: at}
}

func (s *fakeStore) addMessage(convID, id, content string, at time.Time) types.Message {
	msg := types.Message{ID: id, ConversationID: convID, Role: types.RoleUser, Content: content, CreatedAt: at}
	s.messages[convID] = append(s.messages[convID], msg)
	return msg
}

func (s *fakeStore) addEntity(id, name string, entityType types.EntityType) types.Entity {
	e := types.Entity{ID: id, Name: name, NormalizedName: name, Type: entityType, ConfidenceScore: 0.9}
	s.entities[id] = e
	return e
}

func (s *fakeStore) addMention(entityID, messageID, convID, text string, at time.Time) {
	s.mentions = append(s.mentions, types.EntityMention{
		EntityID:        entityID,
		MessageID:       messageID,
		ConversationID:  convID,
		MentionText:     text,
		ConfidenceScore: 0.9,
		CreatedAt:       at,
	})
}

func (s *fakeStore) GetConversation(_ context.Context, id string) (*types.Conversation, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	return &conv, nil
}

func (s *fakeStore) GetRecentMessages(_ context.Context, conversationID string, limit int) ([]types.Message, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	msgs := s.messages[conversationID]
	start := len(msgs) - limit
	if start < 0 {
		start = 0
	}
	recent := msgs[start:]
	out := make([]types.Message, len(recent))
	for i := range recent {
		out[len(recent)-1-i] = recent[i] // newest first
	}
	return out, nil
}

func (s *fakeStore) GetMessagesByIDs(_ context.Context, ids []string) ([]types.Message, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []types.Message
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if _, ok := want[m.ID]; ok {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) GetEntityByID(_ context.Context, id string) (*types.Entity, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, storage.ErrNotFound)
	}
	return &e, nil
}

func (s *fakeStore) GetMostMentionedEntities(_ context.Context, limit int) ([]types.Entity, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]types.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MentionCount != out[j].MentionCount {
			return out[i].MentionCount > out[j].MentionCount
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetConversationEntities(_ context.Context, conversationID string, limit int) ([]types.Entity, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := s.convEntities[conversationID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetEntityMentions(_ context.Context, entityID string, limit int) ([]types.EntityMention, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []types.EntityMention
	for _, m := range s.mentions {
		if m.EntityID == entityID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetEntityMentionsForMessages(_ context.Context, messageIDs []string) ([]types.EntityMention, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	want := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	var out []types.EntityMention
	for _, m := range s.mentions {
		if _, ok := want[m.MessageID]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) FindConversationsSharingEntities(_ context.Context, _ []string, excludeConversationID string, _ time.Time, limit int) ([]storage.SharedEntityConversation, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []storage.SharedEntityConversation
	for _, c := range s.shared {
		if c.ConversationID == excludeConversationID {
			continue
		}
		out = append(out, c)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetRelationshipEdges(_ context.Context, sourceEntityIDs []string) ([]storage.RelationshipEdge, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	want := make(map[string]struct{}, len(sourceEntityIDs))
	for _, id := range sourceEntityIDs {
		want[id] = struct{}{}
	}
	var out []storage.RelationshipEdge
	for _, e := range s.edges {
		if _, ok := want[e.SourceEntityID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

// fakeVectorStore is a fakeStore with an in-memory vector search surface.
type fakeVectorStore struct {
	*fakeStore

	stored     map[string][]float32 // message ID -> vector
	storedWith string               // model name of the last stored vector

	similarIDs []string
	similarErr error
	queries    [][]float32
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{fakeStore: newFakeStore(), stored: make(map[string][]float32)}
}

func (s *fakeVectorStore) StoreMessageEmbedding(_ context.Context, messageID string, embedding []float32, model string) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.stored[messageID] = embedding
	s.storedWith = model
	return nil
}

func (s *fakeVectorStore) SimilarMessages(_ context.Context, query []float32, limit int) ([]string, error) {
	s.queries = append(s.queries, query)
	if s.similarErr != nil {
		return nil, s.similarErr
	}
	ids := s.similarIDs
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

var _ storage.EmbeddingStore = (*fakeVectorStore)(nil)

// tEntity builds a standalone entity fixture for tests that bypass the store.
func tEntity(id, name string) types.Entity {
	return types.Entity{ID: id, Name: name, NormalizedName: name, Type: types.EntityTypePerson, ConfidenceScore: 0.9}
}

var _ storage.ConversationStore = (*fakeStore)(nil)
