package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// RelevanceScorer is an optional extra relevance signal, e.g. an
// embedding-based similarity backend. The ranker works without one; when
// configured, its score is blended into the lexical formula.
type RelevanceScorer interface {
	// ScoreRelevance returns a similarity score in [0,1] between two texts.
	ScoreRelevance(ctx context.Context, currentText, candidateText string) (float64, error)
}

// queryEmbedder is implemented by scorers that can expose a raw query
// vector. Together with a storage.EmbeddingStore backend it enables
// store-side similarity search as a pre-rank signal.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RelevanceOptions configures historical relevance ranking.
type RelevanceOptions struct {
	// MaxHistoryAgeDays bounds how far back candidates are considered
	// (default: 90).
	MaxHistoryAgeDays int

	// MinRelevanceScore discards weak candidates (default: 0.4).
	MinRelevanceScore float64

	// Limit caps the number of returned histories (default: 10).
	Limit int
}

func (o RelevanceOptions) withDefaults() RelevanceOptions {
	if o.MaxHistoryAgeDays <= 0 {
		o.MaxHistoryAgeDays = 90
	}
	if o.MinRelevanceScore <= 0 {
		o.MinRelevanceScore = 0.4
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return o
}

// Relevance weights: entity overlap dominates, recency and message density
// split the remainder.
const (
	relevanceWeightOverlap = 0.4
	relevanceWeightRecency = 0.3
	relevanceWeightDensity = 0.3

	// embeddingBlend is how much of the final score the optional embedding
	// signal contributes when a RelevanceScorer is configured.
	embeddingBlend = 0.25

	// vectorBlend is the share contributed by store-side similarity search
	// when the backend implements storage.EmbeddingStore.
	vectorBlend = 0.15

	// vectorProbeLimit bounds the SimilarMessages pre-rank query.
	vectorProbeLimit = 50

	// maxCurrentEntities caps the probe entity set for the current
	// conversation.
	maxCurrentEntities = 20

	// maxConnectingMessages caps the messages carried per history.
	maxConnectingMessages = 10

	// mentionProbeLimit bounds the per-entity mention prefetch.
	mentionProbeLimit = 100
)

// RelevanceRanker finds other conversations sharing entities with the
// current one and scores each by overlap, recency, and message density.
type RelevanceRanker struct {
	store  storage.ConversationStore
	scorer RelevanceScorer // nil unless an embedding backend is wired
}

// NewRelevanceRanker creates a ranker over the given store.
func NewRelevanceRanker(store storage.ConversationStore) *RelevanceRanker {
	return &RelevanceRanker{store: store}
}

// WithScorer attaches an optional embedding-based relevance signal.
func (r *RelevanceRanker) WithScorer(scorer RelevanceScorer) *RelevanceRanker {
	r.scorer = scorer
	return r
}

// IdentifyRelevantHistory returns historical conversations ranked by
// relevance to the current one, sorted descending, truncated to the limit.
// A conversation with no entities yields an empty result, not an error.
func (r *RelevanceRanker) IdentifyRelevantHistory(ctx context.Context, conversationID string, opts RelevanceOptions) ([]RelevantHistory, error) {
	opts = opts.withDefaults()

	current, err := r.store.GetConversationEntities(ctx, conversationID, maxCurrentEntities)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation entities: %w", err)
	}
	if len(current) == 0 {
		return nil, nil
	}

	entityByID := make(map[string]types.Entity, len(current))
	entityIDs := make([]string, len(current))
	for i, e := range current {
		entityByID[e.ID] = e
		entityIDs[i] = e.ID
	}

	cutoff := time.Now().AddDate(0, 0, -opts.MaxHistoryAgeDays)

	// Over-fetch so post-scoring filtering still fills the limit.
	candidates, err := r.store.FindConversationsSharingEntities(ctx, entityIDs, conversationID, cutoff, 2*opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("find sharing conversations: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	candidateSet := make(map[string]storage.SharedEntityConversation, len(candidates))
	for _, c := range candidates {
		candidateSet[c.ConversationID] = c
	}

	// One mention prefetch per probe entity, indexed by candidate
	// conversation, so scoring each candidate needs no further queries.
	mentionsByConv := make(map[string][]types.EntityMention)
	for _, id := range entityIDs {
		mentions, err := r.store.GetEntityMentions(ctx, id, mentionProbeLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch mentions for entity %s: %w", id, err)
		}
		for i := range mentions {
			if _, ok := candidateSet[mentions[i].ConversationID]; ok {
				mentionsByConv[mentions[i].ConversationID] = append(mentionsByConv[mentions[i].ConversationID], mentions[i])
			}
		}
	}

	var currentText string
	var similar map[string]struct{}
	if r.scorer != nil {
		currentText = r.conversationText(ctx, conversationID)
		similar = r.similarMessageSet(ctx, currentText)
	}

	now := time.Now()
	var results []RelevantHistory
	for _, cand := range candidates {
		history, ok, err := r.scoreCandidate(ctx, cand, mentionsByConv[cand.ConversationID], entityByID, len(current), currentText, similar, now, opts)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		results = append(results, history)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// scoreCandidate turns one candidate conversation into a RelevantHistory.
// The bool is false when the candidate was filtered out.
func (r *RelevanceRanker) scoreCandidate(ctx context.Context, cand storage.SharedEntityConversation, mentions []types.EntityMention, entityByID map[string]types.Entity, currentEntityCount int, currentText string, similar map[string]struct{}, now time.Time, opts RelevanceOptions) (RelevantHistory, bool, error) {
	connectingIDs := make(map[string]struct{})
	messageIDs := make([]string, 0, maxConnectingMessages)
	seenMessages := make(map[string]struct{})
	for i := range mentions {
		connectingIDs[mentions[i].EntityID] = struct{}{}
		if _, ok := seenMessages[mentions[i].MessageID]; ok {
			continue
		}
		seenMessages[mentions[i].MessageID] = struct{}{}
		if len(messageIDs) < maxConnectingMessages {
			messageIDs = append(messageIDs, mentions[i].MessageID)
		}
	}

	days := int(now.Sub(cand.LastMentionedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}

	overlap := minFloat(1, float64(len(connectingIDs))/float64(currentEntityCount))
	recency := maxFloat(0, 1-float64(days)/float64(opts.MaxHistoryAgeDays))
	density := minFloat(1, float64(len(seenMessages))/5)

	score := relevanceWeightOverlap*overlap +
		relevanceWeightRecency*recency +
		relevanceWeightDensity*density

	relevantMessages, err := r.store.GetMessagesByIDs(ctx, messageIDs)
	if err != nil {
		return RelevantHistory{}, false, fmt.Errorf("fetch connecting messages: %w", err)
	}
	sort.Slice(relevantMessages, func(i, j int) bool {
		return relevantMessages[i].CreatedAt.Before(relevantMessages[j].CreatedAt)
	})

	if r.scorer != nil && currentText != "" {
		candidateText := messagesText(relevantMessages)
		if embScore, embErr := r.scorer.ScoreRelevance(ctx, currentText, candidateText); embErr == nil {
			score = (1-embeddingBlend)*score + embeddingBlend*clamp01(embScore)
		} else {
			// Degraded embedding backend: keep the lexical score.
			log.Printf("relevance ranker: embedding scorer unavailable: %v", embErr)
		}
	}

	if len(similar) > 0 {
		hits := 0
		for id := range seenMessages {
			if _, ok := similar[id]; ok {
				hits++
			}
		}
		proximity := minFloat(1, float64(hits)/3)
		score = (1-vectorBlend)*score + vectorBlend*proximity
	}

	score = clamp01(score)
	if score < opts.MinRelevanceScore {
		return RelevantHistory{}, false, nil
	}

	conv, err := r.store.GetConversation(ctx, cand.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RelevantHistory{}, false, nil // conversation vanished; skip
		}
		return RelevantHistory{}, false, fmt.Errorf("fetch conversation %s: %w", cand.ConversationID, err)
	}

	connecting := make([]types.Entity, 0, len(connectingIDs))
	for id := range connectingIDs {
		if e, ok := entityByID[id]; ok {
			connecting = append(connecting, e)
		}
	}
	sortEntities(connecting)

	return RelevantHistory{
		Conversation:         *conv,
		RelevantMessages:     relevantMessages,
		ConnectingEntities:   connecting,
		RelevanceScore:       score,
		RelevanceType:        classifyRelevance(float64(len(connectingIDs)) / float64(currentEntityCount)),
		DaysSinceLastMention: days,
	}, true, nil
}

// classifyRelevance maps the entity overlap ratio onto a relevance type.
// relationship_chain is an approximate catch-all, not a derived graph path.
func classifyRelevance(overlapRatio float64) RelevanceType {
	switch {
	case overlapRatio > 0.7:
		return RelevanceEntityOverlap
	case overlapRatio > 0.3:
		return RelevanceTopicContinuation
	default:
		return RelevanceRelationshipChain
	}
}

// similarMessageSet asks a vector-capable backend for the messages nearest
// the current conversation text. Returns nil whenever the signal is
// unavailable: a backend without vector search, a scorer without a query
// embedder, or a degraded embedding service.
func (r *RelevanceRanker) similarMessageSet(ctx context.Context, currentText string) map[string]struct{} {
	if currentText == "" {
		return nil
	}
	vs, ok := r.store.(storage.EmbeddingStore)
	if !ok {
		return nil
	}
	qe, ok := r.scorer.(queryEmbedder)
	if !ok {
		return nil
	}
	query, err := qe.EmbedQuery(ctx, currentText)
	if err != nil {
		log.Printf("relevance ranker: query embedding unavailable: %v", err)
		return nil
	}
	ids, err := vs.SimilarMessages(ctx, query, vectorProbeLimit)
	if err != nil {
		if !errors.Is(err, storage.ErrStoreUnavailable) {
			log.Printf("relevance ranker: similarity search failed: %v", err)
		}
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// conversationText concatenates the current conversation's recent content
// for the optional embedding scorer. Failures degrade to lexical-only
// scoring rather than aborting the ranking.
func (r *RelevanceRanker) conversationText(ctx context.Context, conversationID string) string {
	recent, err := r.store.GetRecentMessages(ctx, conversationID, 20)
	if err != nil {
		log.Printf("relevance ranker: could not fetch current text: %v", err)
		return ""
	}
	return messagesText(recent)
}

func messagesText(messages []types.Message) string {
	var b strings.Builder
	for i := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(messages[i].Content)
	}
	return b.String()
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
