package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// ContextEngine is the facade over the context intelligence core. It wires
// the analyzers over a single ConversationStore and exposes the seven
// analysis operations consumed by the MCP tool layer and the web feed.
//
// All operations are read-only and stateless; callers may invoke them
// concurrently for the same conversation.
type ContextEngine struct {
	store storage.ConversationStore

	analyzer    *PatternAnalyzer
	detector    *TopicShiftDetector
	ranker      *RelevanceRanker
	conflicts   *ConflictDetector
	synthesizer *KnowledgeSynthesizer
	assembler   *ContextAssembler
	validator   *SummaryValidator

	// Callbacks fire after analyses that produced signal; the web event
	// feed subscribes here.
	mu           sync.RWMutex
	onTopicShift func(conversationID string, shifts []TopicShift)
	onConflict   func(conflicts []ConflictingInformation)
}

// EngineOption is a functional option for configuring a ContextEngine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	claimRules        []ClaimRule
	attributePatterns AttributePatternSet
	validationWeights ValidationWeights
	estimator         TokenEstimator
	scorer            RelevanceScorer
}

// WithClaimRules overrides the default claim extraction rule set.
func WithClaimRules(rules []ClaimRule) EngineOption {
	return func(c *engineConfig) { c.claimRules = rules }
}

// WithAttributePatterns overrides the default attribute extraction
// vocabulary.
func WithAttributePatterns(vocab AttributePatternSet) EngineOption {
	return func(c *engineConfig) { c.attributePatterns = vocab }
}

// WithValidationWeights overrides the default summary validation weights.
func WithValidationWeights(w ValidationWeights) EngineOption {
	return func(c *engineConfig) { c.validationWeights = w }
}

// WithTokenEstimator substitutes a real tokenizer for the default
// 4-chars-per-token heuristic.
func WithTokenEstimator(e TokenEstimator) EngineOption {
	return func(c *engineConfig) { c.estimator = e }
}

// WithRelevanceScorer attaches an embedding-based relevance signal to the
// historical ranker.
func WithRelevanceScorer(s RelevanceScorer) EngineOption {
	return func(c *engineConfig) { c.scorer = s }
}

// NewContextEngine creates the engine facade over the given store.
func NewContextEngine(store storage.ConversationStore, opts ...EngineOption) (*ContextEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}

	var cfg engineConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	extractor, err := NewRegexClaimExtractor(cfg.claimRules)
	if err != nil {
		return nil, fmt.Errorf("build claim extractor: %w", err)
	}
	synthesizer, err := NewKnowledgeSynthesizer(store, cfg.attributePatterns)
	if err != nil {
		return nil, fmt.Errorf("build knowledge synthesizer: %w", err)
	}

	analyzer := NewPatternAnalyzer(store)
	ranker := NewRelevanceRanker(store)
	if cfg.scorer != nil {
		ranker = ranker.WithScorer(cfg.scorer)
	}

	return &ContextEngine{
		store:       store,
		analyzer:    analyzer,
		detector:    NewTopicShiftDetector(store, analyzer),
		ranker:      ranker,
		conflicts:   NewConflictDetector(store, extractor),
		synthesizer: synthesizer,
		assembler:   NewContextAssembler(store, ranker, cfg.estimator),
		validator:   NewSummaryValidator(cfg.validationWeights),
	}, nil
}

// OnTopicShift registers a callback fired whenever DetectTopicShifts
// produces at least one shift.
func (e *ContextEngine) OnTopicShift(fn func(conversationID string, shifts []TopicShift)) {
	e.mu.Lock()
	e.onTopicShift = fn
	e.mu.Unlock()
}

// OnConflict registers a callback fired whenever FindConflictingInformation
// produces at least one conflict.
func (e *ContextEngine) OnConflict(fn func(conflicts []ConflictingInformation)) {
	e.mu.Lock()
	e.onConflict = fn
	e.mu.Unlock()
}

// AnalyzeMessagePatterns computes per-entity mention patterns for a
// conversation's recent messages, chronological.
func (e *ContextEngine) AnalyzeMessagePatterns(ctx context.Context, conversationID string, lookback int) ([]EntityPattern, error) {
	if lookback <= 0 {
		lookback = 50
	}
	recent, err := e.store.GetRecentMessages(ctx, conversationID, lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}
	return e.analyzer.AnalyzeMessages(ctx, chronological(recent))
}

// DetectTopicShifts runs sliding-window topic shift detection over the
// conversation.
func (e *ContextEngine) DetectTopicShifts(ctx context.Context, conversationID string, opts TopicShiftOptions) ([]TopicShift, error) {
	shifts, err := e.detector.DetectTopicShifts(ctx, conversationID, opts)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	cb := e.onTopicShift
	e.mu.RUnlock()
	if cb != nil && len(shifts) > 0 {
		cb(conversationID, shifts)
	}
	return shifts, nil
}

// IdentifyRelevantHistory ranks other conversations by relevance to this
// one.
func (e *ContextEngine) IdentifyRelevantHistory(ctx context.Context, conversationID string, opts RelevanceOptions) ([]RelevantHistory, error) {
	return e.ranker.IdentifyRelevantHistory(ctx, conversationID, opts)
}

// FindConflictingInformation runs the context-level conflict scan.
func (e *ContextEngine) FindConflictingInformation(ctx context.Context, opts ConflictScanOptions) ([]ConflictingInformation, error) {
	conflicts, err := e.conflicts.FindConflictingInformation(ctx, opts)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	cb := e.onConflict
	e.mu.RUnlock()
	if cb != nil && len(conflicts) > 0 {
		cb(conflicts)
	}
	return conflicts, nil
}

// SynthesizeEntityKnowledge builds the attribute/edge view of one entity.
func (e *ContextEngine) SynthesizeEntityKnowledge(ctx context.Context, entityID string) (*EntityKnowledge, error) {
	return e.synthesizer.SynthesizeEntityKnowledge(ctx, entityID)
}

// DetectConflictingStatements runs the entity-level conflict checks.
func (e *ContextEngine) DetectConflictingStatements(ctx context.Context, entityID string) ([]EntityConflict, error) {
	return e.synthesizer.DetectConflictingStatements(ctx, entityID)
}

// AnalyzeContextWindow assembles a token-budgeted context window.
func (e *ContextEngine) AnalyzeContextWindow(ctx context.Context, conversationID string, opts ContextWindowOptions) (*ContextWindow, error) {
	return e.assembler.AnalyzeContextWindow(ctx, conversationID, opts)
}

// ValidateSummary scores a generated summary against its source messages.
func (e *ContextEngine) ValidateSummary(summary types.ConversationSummary, messages []types.Message) ValidationResult {
	return e.validator.ValidateSummary(summary, messages)
}
