package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/convoscope/convoscope/internal/engine"
	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// contextEngine is the subset of engine.ContextEngine used by the MCP server.
// Using an interface keeps the MCP package loosely coupled and testable.
type contextEngine interface {
	AnalyzeMessagePatterns(ctx context.Context, conversationID string, lookback int) ([]engine.EntityPattern, error)
	DetectTopicShifts(ctx context.Context, conversationID string, opts engine.TopicShiftOptions) ([]engine.TopicShift, error)
	IdentifyRelevantHistory(ctx context.Context, conversationID string, opts engine.RelevanceOptions) ([]engine.RelevantHistory, error)
	FindConflictingInformation(ctx context.Context, opts engine.ConflictScanOptions) ([]engine.ConflictingInformation, error)
	SynthesizeEntityKnowledge(ctx context.Context, entityID string) (*engine.EntityKnowledge, error)
	DetectConflictingStatements(ctx context.Context, entityID string) ([]engine.EntityConflict, error)
	AnalyzeContextWindow(ctx context.Context, conversationID string, opts engine.ContextWindowOptions) (*engine.ContextWindow, error)
	ValidateSummary(summary types.ConversationSummary, messages []types.Message) engine.ValidationResult
}

// Server implements the Model Context Protocol (MCP) for ConvoScope.
// It provides JSON-RPC 2.0 based tools for AI assistants to run the context
// intelligence analyses over stored conversations.
type Server struct {
	engine    contextEngine
	store     storage.ConversationStore
	sessionID string // unique ID generated once per MCP server lifetime
}

// NewServer creates a new MCP server instance over the given engine and
// store. The store is used only to load source messages for summary
// validation; every analysis goes through the engine.
func NewServer(eng contextEngine, store storage.ConversationStore) *Server {
	s := &Server{
		engine:    eng,
		store:     store,
		sessionID: uuid.New().String(),
	}
	log.Printf("convoscope-mcp: session ID: %s", s.sessionID)
	return s
}

// SessionID returns the ID generated for this server's lifetime.
func (s *Server) SessionID() string {
	return s.sessionID
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		// Notification; no response body required.
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods (kept for direct callers and tests)
	case "analyze_message_patterns":
		result, err = s.handleAnalyzeMessagePatterns(ctx, req.Params)
	case "detect_topic_shifts":
		result, err = s.handleDetectTopicShifts(ctx, req.Params)
	case "identify_relevant_history":
		result, err = s.handleIdentifyRelevantHistory(ctx, req.Params)
	case "find_conflicting_information":
		result, err = s.handleFindConflictingInformation(ctx, req.Params)
	case "synthesize_entity_knowledge":
		result, err = s.handleSynthesizeEntityKnowledge(ctx, req.Params)
	case "detect_conflicting_statements":
		result, err = s.handleDetectConflictingStatements(ctx, req.Params)
	case "analyze_context_window":
		result, err = s.handleAnalyzeContextWindow(ctx, req.Params)
	case "validate_summary":
		result, err = s.handleValidateSummary(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}

	return s.successResponse(req.ID, result)
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func (s *Server) handleAnalyzeMessagePatterns(ctx context.Context, params interface{}) (interface{}, error) {
	var args AnalyzeMessagePatternsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ConversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}

	patterns, err := s.engine.AnalyzeMessagePatterns(ctx, args.ConversationID, args.Lookback)
	if err != nil {
		return nil, err
	}

	return &AnalyzeMessagePatternsResult{
		ConversationID: args.ConversationID,
		Patterns:       patterns,
		Total:          len(patterns),
	}, nil
}

func (s *Server) handleDetectTopicShifts(ctx context.Context, params interface{}) (interface{}, error) {
	var args DetectTopicShiftsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ConversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}

	shifts, err := s.engine.DetectTopicShifts(ctx, args.ConversationID, engine.TopicShiftOptions{
		Lookback:           args.Lookback,
		MinShiftConfidence: args.MinShiftConfidence,
	})
	if err != nil {
		return nil, err
	}

	return &DetectTopicShiftsResult{
		ConversationID: args.ConversationID,
		Shifts:         shifts,
		Total:          len(shifts),
	}, nil
}

func (s *Server) handleIdentifyRelevantHistory(ctx context.Context, params interface{}) (interface{}, error) {
	var args IdentifyRelevantHistoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ConversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}

	histories, err := s.engine.IdentifyRelevantHistory(ctx, args.ConversationID, engine.RelevanceOptions{
		MaxHistoryAgeDays: args.MaxHistoryAgeDays,
		MinRelevanceScore: args.MinRelevanceScore,
		Limit:             args.Limit,
	})
	if err != nil {
		return nil, err
	}

	return &IdentifyRelevantHistoryResult{
		ConversationID: args.ConversationID,
		Histories:      histories,
		Total:          len(histories),
	}, nil
}

func (s *Server) handleFindConflictingInformation(ctx context.Context, params interface{}) (interface{}, error) {
	var args FindConflictingInformationArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}

	conflicts, err := s.engine.FindConflictingInformation(ctx, engine.ConflictScanOptions{
		EntityIDs:      args.EntityIDs,
		ConversationID: args.ConversationID,
		MaxEntities:    args.MaxEntities,
	})
	if err != nil {
		return nil, err
	}

	return &FindConflictingInformationResult{
		Conflicts: conflicts,
		Total:     len(conflicts),
	}, nil
}

func (s *Server) handleSynthesizeEntityKnowledge(ctx context.Context, params interface{}) (interface{}, error) {
	var args SynthesizeEntityKnowledgeArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.EntityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	return s.engine.SynthesizeEntityKnowledge(ctx, args.EntityID)
}

func (s *Server) handleDetectConflictingStatements(ctx context.Context, params interface{}) (interface{}, error) {
	var args DetectConflictingStatementsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.EntityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	conflicts, err := s.engine.DetectConflictingStatements(ctx, args.EntityID)
	if err != nil {
		return nil, err
	}

	return &DetectConflictingStatementsResult{
		EntityID:  args.EntityID,
		Conflicts: conflicts,
		Total:     len(conflicts),
	}, nil
}

func (s *Server) handleAnalyzeContextWindow(ctx context.Context, params interface{}) (interface{}, error) {
	var args AnalyzeContextWindowArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ConversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}

	opts := engine.DefaultContextWindowOptions()
	if args.MaxTokens > 0 {
		opts.MaxTokens = args.MaxTokens
	}
	if args.IncludeHistory != nil {
		opts.IncludeHistory = *args.IncludeHistory
	}

	return s.engine.AnalyzeContextWindow(ctx, args.ConversationID, opts)
}

func (s *Server) handleValidateSummary(ctx context.Context, params interface{}) (interface{}, error) {
	var args ValidateSummaryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if args.ConversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}
	if strings.TrimSpace(args.SummaryText) == "" {
		return nil, fmt.Errorf("summary_text is required")
	}

	level, err := parseSummaryLevel(args.Level)
	if err != nil {
		return nil, err
	}

	lookback := args.Lookback
	if lookback <= 0 {
		lookback = 50
	}
	messages, err := s.store.GetRecentMessages(ctx, args.ConversationID, lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch source messages: %w", err)
	}

	tokenCount := args.TokenCount
	if tokenCount <= 0 {
		// Same 4-chars-per-token heuristic the assembler uses.
		tokenCount = (len(args.SummaryText) + 3) / 4
	}

	summary := types.ConversationSummary{
		ConversationID: args.ConversationID,
		Level:          level,
		SummaryText:    args.SummaryText,
		TokenCount:     tokenCount,
	}

	return &ValidateSummaryResult{
		ConversationID: args.ConversationID,
		Level:          level,
		Result:         s.engine.ValidateSummary(summary, messages),
	}, nil
}

// parseSummaryLevel maps the wire level string to a SummaryLevel. Empty
// defaults to standard; unknown values are rejected at the API boundary even
// though the validator itself falls back to the standard profile.
func parseSummaryLevel(level string) (types.SummaryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return types.SummaryStandard, nil
	case string(types.SummaryBrief):
		return types.SummaryBrief, nil
	case string(types.SummaryStandard):
		return types.SummaryStandard, nil
	case string(types.SummaryDetailed):
		return types.SummaryDetailed, nil
	default:
		return "", fmt.Errorf("unknown summary level %q (expected brief, standard, or detailed)", level)
	}
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "convoscope",
			Version: "1.0.0",
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	// Re-marshal arguments so they can be passed to the native handlers
	// which expect an interface{} produced by JSON unmarshal.
	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "analyze_message_patterns":
		result, handlerErr = s.handleAnalyzeMessagePatterns(ctx, rawParams)
	case "detect_topic_shifts":
		result, handlerErr = s.handleDetectTopicShifts(ctx, rawParams)
	case "identify_relevant_history":
		result, handlerErr = s.handleIdentifyRelevantHistory(ctx, rawParams)
	case "find_conflicting_information":
		result, handlerErr = s.handleFindConflictingInformation(ctx, rawParams)
	case "synthesize_entity_knowledge":
		result, handlerErr = s.handleSynthesizeEntityKnowledge(ctx, rawParams)
	case "detect_conflicting_statements":
		result, handlerErr = s.handleDetectConflictingStatements(ctx, rawParams)
	case "analyze_context_window":
		result, handlerErr = s.handleAnalyzeContextWindow(ctx, rawParams)
	case "validate_summary":
		result, handlerErr = s.handleValidateSummary(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "analyze_message_patterns",
			Description: "Analyze entity mention patterns across a conversation's recent messages: frequency, first/last mention, trend (increasing, decreasing, stable, sporadic), and average gap between mentions.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"conversation_id"},
				"properties": map[string]interface{}{
					"conversation_id": map[string]interface{}{"type": "string", "description": "Conversation to analyze (required)"},
					"lookback":        map[string]interface{}{"type": "integer", "description": "How many recent messages to consider (default: 50)"},
				},
			},
		},
		{
			Name:        "detect_topic_shifts",
			Description: "Detect topic shifts inside a conversation using sliding-window entity overlap. Each shift carries a confidence, a classification (topic_pivot, context_expansion, entity_replacement, entity_addition), and the entities that triggered it.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"conversation_id"},
				"properties": map[string]interface{}{
					"conversation_id":      map[string]interface{}{"type": "string", "description": "Conversation to analyze (required)"},
					"lookback":             map[string]interface{}{"type": "integer", "description": "How many recent messages to consider (default: 50)"},
					"min_shift_confidence": map[string]interface{}{"type": "number", "description": "Minimum confidence for a shift to be reported (default: 0.6)"},
				},
			},
		},
		{
			Name:        "identify_relevant_history",
			Description: "Rank past conversations by relevance to the current one, blending entity overlap, recency, and mention density. Each result carries connecting entities and up to ten relevant messages.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"conversation_id"},
				"properties": map[string]interface{}{
					"conversation_id":      map[string]interface{}{"type": "string", "description": "Current conversation (required)"},
					"max_history_age_days": map[string]interface{}{"type": "integer", "description": "Ignore candidates older than this many days (default: 90)"},
					"min_relevance_score":  map[string]interface{}{"type": "number", "description": "Discard candidates scoring below this (default: 0.4)"},
					"limit":                map[string]interface{}{"type": "integer", "description": "Maximum histories to return (default: 10)"},
				},
			},
		},
		{
			Name:        "find_conflicting_information",
			Description: "Scan for conflicting claims about entities across conversations (e.g. two different employers stated for the same person). Pass entity_ids for a targeted scan, conversation_id to scan one conversation's entities, or neither to scan the most-mentioned entities.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"entity_ids":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Restrict the scan to these entity IDs"},
					"conversation_id": map[string]interface{}{"type": "string", "description": "Scan the entities mentioned in this conversation"},
					"max_entities":    map[string]interface{}{"type": "integer", "description": "Bound for the most-mentioned fallback scan (default: 50)"},
				},
			},
		},
		{
			Name:        "synthesize_entity_knowledge",
			Description: "Build a synthesized knowledge view of one entity from its full mention history: extracted attributes with provenance, plus aggregated relationship-graph edges.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity_id"},
				"properties": map[string]interface{}{
					"entity_id": map[string]interface{}{"type": "string", "description": "Entity to synthesize (required)"},
				},
			},
		},
		{
			Name:        "detect_conflicting_statements",
			Description: "Run the entity-level conflict checks over one entity's synthesized knowledge: property contradictions, status inconsistencies, temporal impossibilities, and exclusive-relationship conflicts.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity_id"},
				"properties": map[string]interface{}{
					"entity_id": map[string]interface{}{"type": "string", "description": "Entity to check (required)"},
				},
			},
		},
		{
			Name:        "analyze_context_window",
			Description: "Assemble a token-budgeted context window for a conversation: the recent message base plus greedily admitted relevant history blocks, with core entities, relevance, freshness, and potential related entities.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"conversation_id"},
				"properties": map[string]interface{}{
					"conversation_id": map[string]interface{}{"type": "string", "description": "Conversation to assemble for (required)"},
					"max_tokens":      map[string]interface{}{"type": "integer", "description": "Token budget (default: 4000)"},
					"include_history": map[string]interface{}{"type": "boolean", "description": "Admit historical context blocks (default: true)"},
				},
			},
		},
		{
			Name:        "validate_summary",
			Description: "Score a generated conversation summary against the source messages on information coverage, entity preservation, consistency, token compliance, and factual accuracy. Returns warnings and errors when thresholds are breached.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"conversation_id", "summary_text"},
				"properties": map[string]interface{}{
					"conversation_id": map[string]interface{}{"type": "string", "description": "Source conversation (required)"},
					"summary_text":    map[string]interface{}{"type": "string", "description": "Summary text to validate (required)"},
					"level":           map[string]interface{}{"type": "string", "description": "Summary detail level: brief, standard, or detailed (default: standard)"},
					"token_count":     map[string]interface{}{"type": "integer", "description": "Summary token count; estimated from the text when omitted"},
					"lookback":        map[string]interface{}{"type": "integer", "description": "How many recent source messages to score against (default: 50)"},
				},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// JSON-RPC plumbing
// ---------------------------------------------------------------------------

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}

	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
