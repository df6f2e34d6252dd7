package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// TokenEstimator estimates the token cost of a text. The default is a fixed
// chars-per-token heuristic; callers needing exact tokenization substitute a
// real tokenizer here.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// CharTokenEstimator estimates ceil(len(text)/CharsPerToken) tokens.
type CharTokenEstimator struct {
	CharsPerToken int
}

// EstimateTokens implements TokenEstimator.
func (e CharTokenEstimator) EstimateTokens(text string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return (len(text) + per - 1) / per
}

// ContextWindowOptions configures context window assembly. Use
// DefaultContextWindowOptions for the standard budget; a zero MaxTokens
// means no history block can ever be admitted.
type ContextWindowOptions struct {
	// MaxTokens is the assembly budget. History blocks are admitted only
	// while the running estimate stays within it.
	MaxTokens int

	// IncludeHistory enables historical context admission.
	IncludeHistory bool
}

// DefaultContextWindowOptions returns the standard 4000-token budget with
// history inclusion enabled.
func DefaultContextWindowOptions() ContextWindowOptions {
	return ContextWindowOptions{MaxTokens: 4000, IncludeHistory: true}
}

// Assembly tuning constants.
const (
	// assemblerRecentMessages is the size of the base recent-message set.
	assemblerRecentMessages = 20

	// assemblerCoreEntities caps the core entity set.
	assemblerCoreEntities = 10

	// assemblerHistoryCandidates is how many ranked histories are offered
	// to the greedy admission loop.
	assemblerHistoryCandidates = 5

	// historyHeadroom: history admission only starts while current usage
	// is below this fraction of the budget.
	historyHeadroom = 0.7

	// freshnessHalfLifeDays drives the exponential freshness decay.
	freshnessHalfLifeDays = 7

	// potentialStrengthFloor filters weak relationship-graph neighbours.
	potentialStrengthFloor = 0.4

	// maxPotentialEntities caps the neighbour list.
	maxPotentialEntities = 10
)

// ContextAssembler greedily fills a token budget with the highest-value
// candidate snippets: the recent base context first, then ranked historical
// blocks admitted whole or not at all.
type ContextAssembler struct {
	store     storage.ConversationStore
	ranker    *RelevanceRanker
	estimator TokenEstimator
}

// NewContextAssembler creates an assembler. A nil estimator falls back to
// the 4-chars-per-token heuristic.
func NewContextAssembler(store storage.ConversationStore, ranker *RelevanceRanker, estimator TokenEstimator) *ContextAssembler {
	if estimator == nil {
		estimator = CharTokenEstimator{CharsPerToken: 4}
	}
	return &ContextAssembler{store: store, ranker: ranker, estimator: estimator}
}

// AnalyzeContextWindow assembles a token-budgeted context window for the
// conversation. The base recent-message set is always included (its cost may
// alone exceed the budget); history blocks are admitted greedily and never
// partially.
func (a *ContextAssembler) AnalyzeContextWindow(ctx context.Context, conversationID string, opts ContextWindowOptions) (*ContextWindow, error) {
	coreEntities, err := a.store.GetConversationEntities(ctx, conversationID, assemblerCoreEntities)
	if err != nil {
		return nil, fmt.Errorf("fetch core entities: %w", err)
	}

	recent, err := a.store.GetRecentMessages(ctx, conversationID, assemblerRecentMessages)
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}
	recommended := chronological(recent)

	estimated := a.messageSetTokens(recommended)

	if opts.IncludeHistory && float64(estimated) < historyHeadroom*float64(opts.MaxTokens) {
		histories, err := a.ranker.IdentifyRelevantHistory(ctx, conversationID, RelevanceOptions{Limit: assemblerHistoryCandidates})
		if err != nil {
			return nil, fmt.Errorf("rank history: %w", err)
		}

		for _, history := range histories {
			if len(history.RelevantMessages) == 0 {
				continue
			}
			blockTokens := a.messageSetTokens(history.RelevantMessages)

			// Strict greedy admission: a block that would overflow the
			// budget is rejected whole, and the next candidate is tried.
			if estimated+blockTokens > opts.MaxTokens {
				continue
			}

			recommended = append(append([]types.Message{}, history.RelevantMessages...), recommended...)
			estimated += blockTokens
		}
	}

	potential, err := a.potentialEntities(ctx, coreEntities)
	if err != nil {
		return nil, err
	}

	return &ContextWindow{
		CoreEntities:        coreEntities,
		RecommendedMessages: recommended,
		ContextRelevance:    contextRelevance(recommended, coreEntities),
		EstimatedTokens:     estimated,
		Freshness:           freshness(recommended, time.Now()),
		PotentialEntities:   potential,
	}, nil
}

func (a *ContextAssembler) messageSetTokens(messages []types.Message) int {
	total := 0
	for i := range messages {
		total += a.estimator.EstimateTokens(messages[i].Content)
	}
	return total
}

// contextRelevance is the fraction of (message, core entity) pairs where the
// entity name occurs as a substring of the message content.
func contextRelevance(messages []types.Message, entities []types.Entity) float64 {
	if len(messages) == 0 || len(entities) == 0 {
		return 0
	}

	matched := 0
	for i := range messages {
		content := strings.ToLower(messages[i].Content)
		for j := range entities {
			if strings.Contains(content, strings.ToLower(entities[j].Name)) {
				matched++
			}
		}
	}
	return clamp01(float64(matched) / float64(len(messages)*len(entities)))
}

// freshness decays exponentially with the average message age: a window of
// week-old messages scores 1/e.
func freshness(messages []types.Message, now time.Time) float64 {
	if len(messages) == 0 {
		return 0
	}

	totalDays := 0.0
	for i := range messages {
		age := now.Sub(messages[i].CreatedAt).Hours() / 24
		if age < 0 {
			age = 0
		}
		totalDays += age
	}
	avg := totalDays / float64(len(messages))
	return clamp01(math.Exp(-avg / freshnessHalfLifeDays))
}

// potentialEntities walks one hop of the relationship graph from the core
// set and returns strong neighbours not already in the core, ranked by edge
// count then strength.
func (a *ContextAssembler) potentialEntities(ctx context.Context, core []types.Entity) ([]types.Entity, error) {
	if len(core) == 0 {
		return nil, nil
	}

	coreIDs := make([]string, len(core))
	coreSet := make(map[string]struct{}, len(core))
	for i, e := range core {
		coreIDs[i] = e.ID
		coreSet[e.ID] = struct{}{}
	}

	edges, err := a.store.GetRelationshipEdges(ctx, coreIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch relationship edges: %w", err)
	}

	type neighbour struct {
		id       string
		count    int
		strength float64 // weighted by edge counts
	}
	byTarget := make(map[string]*neighbour)
	for _, edge := range edges {
		if _, inCore := coreSet[edge.TargetEntityID]; inCore {
			continue
		}
		n := byTarget[edge.TargetEntityID]
		if n == nil {
			n = &neighbour{id: edge.TargetEntityID}
			byTarget[edge.TargetEntityID] = n
		}
		n.strength = (n.strength*float64(n.count) + edge.AvgStrength*float64(edge.RelationshipCount)) /
			float64(n.count+edge.RelationshipCount)
		n.count += edge.RelationshipCount
	}

	candidates := make([]*neighbour, 0, len(byTarget))
	for _, n := range byTarget {
		if n.strength > potentialStrengthFloor {
			candidates = append(candidates, n)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].strength > candidates[j].strength
	})
	if len(candidates) > maxPotentialEntities {
		candidates = candidates[:maxPotentialEntities]
	}

	entities := make([]types.Entity, 0, len(candidates))
	for _, n := range candidates {
		entity, err := a.store.GetEntityByID(ctx, n.id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // dangling edge target
			}
			return nil, fmt.Errorf("resolve potential entity %s: %w", n.id, err)
		}
		entities = append(entities, *entity)
	}
	return entities, nil
}
