package mcp_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoscope/convoscope/internal/api/mcp"
	"github.com/convoscope/convoscope/internal/engine"
	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// stubEngine records the last call it received and returns canned results.
type stubEngine struct {
	lastMethod string

	patterns      []engine.EntityPattern
	shifts        []engine.TopicShift
	shiftOpts     engine.TopicShiftOptions
	histories     []engine.RelevantHistory
	relevanceOpts engine.RelevanceOptions
	conflicts     []engine.ConflictingInformation
	scanOpts      engine.ConflictScanOptions
	knowledge     *engine.EntityKnowledge
	entityConfs   []engine.EntityConflict
	window        *engine.ContextWindow
	windowOpts    engine.ContextWindowOptions
	validation    engine.ValidationResult
	lastSummary   types.ConversationSummary

	err error
}

func (s *stubEngine) AnalyzeMessagePatterns(ctx context.Context, conversationID string, lookback int) ([]engine.EntityPattern, error) {
	s.lastMethod = "patterns"
	return s.patterns, s.err
}

func (s *stubEngine) DetectTopicShifts(ctx context.Context, conversationID string, opts engine.TopicShiftOptions) ([]engine.TopicShift, error) {
	s.lastMethod = "shifts"
	s.shiftOpts = opts
	return s.shifts, s.err
}

func (s *stubEngine) IdentifyRelevantHistory(ctx context.Context, conversationID string, opts engine.RelevanceOptions) ([]engine.RelevantHistory, error) {
	s.lastMethod = "history"
	s.relevanceOpts = opts
	return s.histories, s.err
}

func (s *stubEngine) FindConflictingInformation(ctx context.Context, opts engine.ConflictScanOptions) ([]engine.ConflictingInformation, error) {
	s.lastMethod = "conflicts"
	s.scanOpts = opts
	return s.conflicts, s.err
}

func (s *stubEngine) SynthesizeEntityKnowledge(ctx context.Context, entityID string) (*engine.EntityKnowledge, error) {
	s.lastMethod = "synthesize"
	return s.knowledge, s.err
}

func (s *stubEngine) DetectConflictingStatements(ctx context.Context, entityID string) ([]engine.EntityConflict, error) {
	s.lastMethod = "statements"
	return s.entityConfs, s.err
}

func (s *stubEngine) AnalyzeContextWindow(ctx context.Context, conversationID string, opts engine.ContextWindowOptions) (*engine.ContextWindow, error) {
	s.lastMethod = "window"
	s.windowOpts = opts
	return s.window, s.err
}

func (s *stubEngine) ValidateSummary(summary types.ConversationSummary, messages []types.Message) engine.ValidationResult {
	s.lastMethod = "validate"
	s.lastSummary = summary
	return s.validation
}

// stubStore serves the recent messages the summary validator scores against.
type stubStore struct {
	messages []types.Message
	err      error
}

func (s *stubStore) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	return nil, nil
}

func (s *stubStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	return s.messages, s.err
}

func (s *stubStore) GetMessagesByIDs(ctx context.Context, ids []string) ([]types.Message, error) {
	return nil, nil
}

func (s *stubStore) GetEntityByID(ctx context.Context, id string) (*types.Entity, error) {
	return nil, nil
}

func (s *stubStore) GetMostMentionedEntities(ctx context.Context, limit int) ([]types.Entity, error) {
	return nil, nil
}

func (s *stubStore) GetConversationEntities(ctx context.Context, conversationID string, limit int) ([]types.Entity, error) {
	return nil, nil
}

func (s *stubStore) GetEntityMentions(ctx context.Context, entityID string, limit int) ([]types.EntityMention, error) {
	return nil, nil
}

func (s *stubStore) GetEntityMentionsForMessages(ctx context.Context, messageIDs []string) ([]types.EntityMention, error) {
	return nil, nil
}

func (s *stubStore) FindConversationsSharingEntities(ctx context.Context, entityIDs []string, excludeConversationID string, cutoff time.Time, limit int) ([]storage.SharedEntityConversation, error) {
	return nil, nil
}

func (s *stubStore) GetRelationshipEdges(ctx context.Context, sourceEntityIDs []string) ([]storage.RelationshipEdge, error) {
	return nil, nil
}

func (s *stubStore) Close() error { return nil }

func newTestServer(t *testing.T) (*mcp.Server, *stubEngine, *stubStore) {
	t.Helper()
	eng := &stubEngine{}
	store := &stubStore{}
	return mcp.NewServer(eng, store), eng, store
}

func call(t *testing.T, srv *mcp.Server, req string) map[string]interface{} {
	t.Helper()
	resp, err := srv.HandleRequest(context.Background(), []byte(req))
	require.NoError(t, err)
	require.NotNil(t, resp)

	var jsonResp map[string]interface{}
	require.NoError(t, json.Unmarshal(resp, &jsonResp))
	return jsonResp
}

func TestHandleRequest_ParseError(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{not json`)
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32700), errObj["code"])
}

func TestHandleRequest_InvalidVersion(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"1.0","method":"tools/list","id":1}`)
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32600), errObj["code"])
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"no_such_method","id":1}`)
	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32601), errObj["code"])
}

func TestHandleInitialize(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}},"id":1}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	serverInfo := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, "convoscope", serverInfo["name"])
}

func TestHandleToolsList(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"tools/list","id":1}`)
	result := resp["result"].(map[string]interface{})
	tools := result["tools"].([]interface{})
	require.Len(t, tools, 8)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.(map[string]interface{})["name"].(string))
	}
	for _, want := range []string{
		"analyze_message_patterns", "detect_topic_shifts", "identify_relevant_history",
		"find_conflicting_information", "synthesize_entity_knowledge",
		"detect_conflicting_statements", "analyze_context_window", "validate_summary",
	} {
		assert.Contains(t, names, want)
	}
}

func TestHandleAnalyzeMessagePatterns_MissingConversationID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"analyze_message_patterns","params":{},"id":1}`)
	errObj := resp["error"].(map[string]interface{})
	assert.Contains(t, errObj["message"], "conversation_id")
}

func TestHandleDetectTopicShifts_PassesOptions(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.shifts = []engine.TopicShift{{ShiftType: engine.ShiftTopicPivot, ShiftConfidence: 0.9}}

	resp := call(t, srv, `{"jsonrpc":"2.0","method":"detect_topic_shifts","params":{"conversation_id":"conv-1","lookback":30,"min_shift_confidence":0.8},"id":1}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, float64(1), result["total"])

	assert.Equal(t, "shifts", eng.lastMethod)
	assert.Equal(t, 30, eng.shiftOpts.Lookback)
	assert.Equal(t, 0.8, eng.shiftOpts.MinShiftConfidence)
}

func TestHandleIdentifyRelevantHistory_PassesOptions(t *testing.T) {
	srv, eng, _ := newTestServer(t)

	resp := call(t, srv, `{"jsonrpc":"2.0","method":"identify_relevant_history","params":{"conversation_id":"conv-1","max_history_age_days":30,"min_relevance_score":0.5,"limit":3},"id":1}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, float64(0), result["total"])

	assert.Equal(t, 30, eng.relevanceOpts.MaxHistoryAgeDays)
	assert.Equal(t, 0.5, eng.relevanceOpts.MinRelevanceScore)
	assert.Equal(t, 3, eng.relevanceOpts.Limit)
}

func TestHandleFindConflictingInformation_NoRequiredArgs(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.conflicts = []engine.ConflictingInformation{{ConflictType: engine.ConflictRelationship}}

	// All scope fields are optional; the engine falls back to the
	// most-mentioned entities.
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"find_conflicting_information","params":{},"id":1}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, float64(1), result["total"])
	assert.Empty(t, eng.scanOpts.EntityIDs)
}

func TestHandleSynthesizeEntityKnowledge_MissingEntityID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"synthesize_entity_knowledge","params":{},"id":1}`)
	errObj := resp["error"].(map[string]interface{})
	assert.Contains(t, errObj["message"], "entity_id")
}

func TestHandleAnalyzeContextWindow_DefaultsApplied(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.window = &engine.ContextWindow{}

	call(t, srv, `{"jsonrpc":"2.0","method":"analyze_context_window","params":{"conversation_id":"conv-1"},"id":1}`)
	assert.Equal(t, engine.DefaultContextWindowOptions(), eng.windowOpts)
}

func TestHandleAnalyzeContextWindow_ExplicitHistoryOff(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.window = &engine.ContextWindow{}

	call(t, srv, `{"jsonrpc":"2.0","method":"analyze_context_window","params":{"conversation_id":"conv-1","max_tokens":2000,"include_history":false},"id":1}`)
	assert.Equal(t, 2000, eng.windowOpts.MaxTokens)
	assert.False(t, eng.windowOpts.IncludeHistory)
}

func TestHandleValidateSummary_EstimatesTokens(t *testing.T) {
	srv, eng, store := newTestServer(t)
	store.messages = []types.Message{{ID: "msg-1", Content: "source text"}}

	summaryText := strings.Repeat("word ", 20) // 100 chars -> 25 tokens
	req := `{"jsonrpc":"2.0","method":"validate_summary","params":{"conversation_id":"conv-1","summary_text":"` + strings.TrimSpace(summaryText) + ` "},"id":1}`
	resp := call(t, srv, req)
	require.Contains(t, resp, "result")

	assert.Equal(t, "validate", eng.lastMethod)
	assert.Equal(t, types.SummaryStandard, eng.lastSummary.Level)
	assert.Equal(t, 25, eng.lastSummary.TokenCount)
}

func TestHandleValidateSummary_RejectsUnknownLevel(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"validate_summary","params":{"conversation_id":"conv-1","summary_text":"something","level":"verbose"},"id":1}`)
	errObj := resp["error"].(map[string]interface{})
	assert.Contains(t, errObj["message"], "unknown summary level")
}

func TestHandleToolsCall_WrapsResult(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.patterns = []engine.EntityPattern{{Frequency: 3}}

	resp := call(t, srv, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"analyze_message_patterns","arguments":{"conversation_id":"conv-1"}},"id":1}`)
	result := resp["result"].(map[string]interface{})
	content := result["content"].([]interface{})
	require.Len(t, content, 1)

	block := content[0].(map[string]interface{})
	assert.Equal(t, "text", block["type"])
	assert.Contains(t, block["text"], `"total":1`)
	assert.Nil(t, result["isError"])
}

func TestHandleToolsCall_HandlerErrorIsContent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Missing required conversation_id surfaces as an isError tool result,
	// not a JSON-RPC error.
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"detect_topic_shifts","arguments":{}},"id":1}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
}

func TestHandleToolsCall_UnknownTool(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"bogus_tool","arguments":{}},"id":1}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
	content := result["content"].([]interface{})
	block := content[0].(map[string]interface{})
	assert.Contains(t, block["text"], "unknown tool")
}
