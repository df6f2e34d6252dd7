// Package mcp implements the Model Context Protocol (MCP) server for
// ConvoScope. It provides JSON-RPC 2.0 based tools exposing the context
// intelligence analyses to AI assistants.
package mcp

import (
	"github.com/convoscope/convoscope/internal/engine"
	"github.com/convoscope/convoscope/pkg/types"
)

// AnalyzeMessagePatternsArgs contains arguments for the
// analyze_message_patterns tool.
type AnalyzeMessagePatternsArgs struct {
	ConversationID string `json:"conversation_id"`    // Conversation to analyze (required)
	Lookback       int    `json:"lookback,omitempty"` // Recent messages to consider (default: 50)
}

// AnalyzeMessagePatternsResult contains per-entity mention patterns.
type AnalyzeMessagePatternsResult struct {
	ConversationID string                 `json:"conversation_id"`
	Patterns       []engine.EntityPattern `json:"patterns"`
	Total          int                    `json:"total"`
}

// DetectTopicShiftsArgs contains arguments for the detect_topic_shifts tool.
type DetectTopicShiftsArgs struct {
	ConversationID     string  `json:"conversation_id"`                // Conversation to analyze (required)
	Lookback           int     `json:"lookback,omitempty"`             // Recent messages to consider (default: 50)
	MinShiftConfidence float64 `json:"min_shift_confidence,omitempty"` // Emission threshold (default: 0.6)
}

// DetectTopicShiftsResult contains the detected topic shifts.
type DetectTopicShiftsResult struct {
	ConversationID string              `json:"conversation_id"`
	Shifts         []engine.TopicShift `json:"shifts"`
	Total          int                 `json:"total"`
}

// IdentifyRelevantHistoryArgs contains arguments for the
// identify_relevant_history tool.
type IdentifyRelevantHistoryArgs struct {
	ConversationID    string  `json:"conversation_id"`                 // Current conversation (required)
	MaxHistoryAgeDays int     `json:"max_history_age_days,omitempty"`  // Candidate age bound (default: 90)
	MinRelevanceScore float64 `json:"min_relevance_score,omitempty"`   // Score floor (default: 0.4)
	Limit             int     `json:"limit,omitempty"`                 // Max histories returned (default: 10)
}

// IdentifyRelevantHistoryResult contains the ranked historical conversations.
type IdentifyRelevantHistoryResult struct {
	ConversationID string                   `json:"conversation_id"`
	Histories      []engine.RelevantHistory `json:"histories"`
	Total          int                      `json:"total"`
}

// FindConflictingInformationArgs contains arguments for the
// find_conflicting_information tool. Scope resolution: explicit entity_ids
// win over conversation_id; with neither, the most-mentioned entities are
// scanned.
type FindConflictingInformationArgs struct {
	EntityIDs      []string `json:"entity_ids,omitempty"`      // Restrict the scan to these entities
	ConversationID string   `json:"conversation_id,omitempty"` // Scan the entities of one conversation
	MaxEntities    int      `json:"max_entities,omitempty"`    // Bound for the most-mentioned fallback (default: 50)
}

// FindConflictingInformationResult contains the detected conflicts, most
// severe first.
type FindConflictingInformationResult struct {
	Conflicts []engine.ConflictingInformation `json:"conflicts"`
	Total     int                             `json:"total"`
}

// SynthesizeEntityKnowledgeArgs contains arguments for the
// synthesize_entity_knowledge tool.
type SynthesizeEntityKnowledgeArgs struct {
	EntityID string `json:"entity_id"` // Entity to synthesize (required)
}

// DetectConflictingStatementsArgs contains arguments for the
// detect_conflicting_statements tool.
type DetectConflictingStatementsArgs struct {
	EntityID string `json:"entity_id"` // Entity to check (required)
}

// DetectConflictingStatementsResult contains the entity-level conflicts.
type DetectConflictingStatementsResult struct {
	EntityID  string                  `json:"entity_id"`
	Conflicts []engine.EntityConflict `json:"conflicts"`
	Total     int                     `json:"total"`
}

// AnalyzeContextWindowArgs contains arguments for the analyze_context_window
// tool.
type AnalyzeContextWindowArgs struct {
	ConversationID string `json:"conversation_id"`      // Conversation to assemble for (required)
	MaxTokens      int    `json:"max_tokens,omitempty"` // Token budget (default: 4000)

	// IncludeHistory enables historical context admission. Defaults to true
	// when omitted; a pointer distinguishes an explicit false from absence.
	IncludeHistory *bool `json:"include_history,omitempty"`
}

// ValidateSummaryArgs contains arguments for the validate_summary tool. The
// summary is scored against the conversation's recent messages.
type ValidateSummaryArgs struct {
	ConversationID string `json:"conversation_id"`        // Source conversation (required)
	SummaryText    string `json:"summary_text"`           // Summary to validate (required)
	Level          string `json:"level,omitempty"`        // brief, standard, or detailed (default: standard)
	TokenCount     int    `json:"token_count,omitempty"`  // Summary token count; estimated from the text when omitted
	Lookback       int    `json:"lookback,omitempty"`     // Source messages to score against (default: 50)
}

// ValidateSummaryResult contains the validation outcome.
type ValidateSummaryResult struct {
	ConversationID string                  `json:"conversation_id"`
	Level          types.SummaryLevel      `json:"level"`
	Result         engine.ValidationResult `json:"result"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
