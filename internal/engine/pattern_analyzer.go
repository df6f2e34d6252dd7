package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/time/rate"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// mentionBatchSize caps each GetEntityMentionsForMessages query. Backing
// stores limit IN-clause size, so large message sets are chunked.
const mentionBatchSize = 100

// PatternAnalyzer computes per-entity mention frequency, recency, and trend
// over an ordered message window.
type PatternAnalyzer struct {
	store storage.ConversationStore

	// limiter throttles chunked mention-batch queries so a large window
	// cannot flood the backing store.
	limiter *rate.Limiter

	batchSize int
}

// NewPatternAnalyzer creates a pattern analyzer over the given store.
func NewPatternAnalyzer(store storage.ConversationStore) *PatternAnalyzer {
	return &PatternAnalyzer{
		store:     store,
		limiter:   rate.NewLimiter(rate.Limit(50), 10),
		batchSize: mentionBatchSize,
	}
}

// AnalyzeMessages produces one EntityPattern per entity mentioned at least
// once in the given chronological message list. A mention whose entity can
// no longer be resolved is skipped, not fatal.
func (a *PatternAnalyzer) AnalyzeMessages(ctx context.Context, messages []types.Message) ([]EntityPattern, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	mentions, err := a.fetchMentions(ctx, messages)
	if err != nil {
		return nil, err
	}

	entities, err := a.resolveEntities(ctx, mentions)
	if err != nil {
		return nil, err
	}

	return a.patternsFromMentions(messages, mentions, entities), nil
}

// fetchMentions loads all mentions attached to the messages, chunking the ID
// list to respect backing-store query-size limits.
func (a *PatternAnalyzer) fetchMentions(ctx context.Context, messages []types.Message) ([]types.EntityMention, error) {
	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
	}

	var all []types.EntityMention
	for start := 0; start < len(ids); start += a.batchSize {
		end := start + a.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := a.store.GetEntityMentionsForMessages(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("fetch mentions for message batch: %w", err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// resolveEntities looks up every distinct entity referenced by the mentions.
// Unresolvable entities are dropped so one dangling reference never aborts
// the whole analysis.
func (a *PatternAnalyzer) resolveEntities(ctx context.Context, mentions []types.EntityMention) (map[string]types.Entity, error) {
	entities := make(map[string]types.Entity)
	for i := range mentions {
		id := mentions[i].EntityID
		if _, seen := entities[id]; seen {
			continue
		}

		entity, err := a.store.GetEntityByID(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolve entity %s: %w", id, err)
		}
		entities[id] = *entity
	}
	return entities, nil
}

// patternsFromMentions is the pure half of the analyzer: given prefetched
// mentions and resolved entities, compute the mention patterns. The topic
// shift detector reuses this to evaluate many sliding windows from a single
// mention prefetch.
func (a *PatternAnalyzer) patternsFromMentions(messages []types.Message, mentions []types.EntityMention, entities map[string]types.Entity) []EntityPattern {
	positionByMessage := make(map[string]int, len(messages))
	for i := range messages {
		positionByMessage[messages[i].ID] = i
	}

	// Zero-based message positions for each entity's mentions.
	positions := make(map[string][]int)
	for i := range mentions {
		pos, ok := positionByMessage[mentions[i].MessageID]
		if !ok {
			continue // mention references a message outside the window
		}
		if _, ok := entities[mentions[i].EntityID]; !ok {
			continue
		}
		positions[mentions[i].EntityID] = append(positions[mentions[i].EntityID], pos)
	}

	patterns := make([]EntityPattern, 0, len(positions))
	for entityID, pos := range positions {
		sort.Ints(pos)

		pattern := EntityPattern{
			Entity:       entities[entityID],
			Frequency:    len(pos),
			FirstMention: messages[pos[0]].CreatedAt,
			LastMention:  messages[pos[len(pos)-1]].CreatedAt,
			MentionTrend: classifyTrend(pos, len(messages)),
			AverageGapBetweenMentions: averageGap(pos),
		}
		patterns = append(patterns, pattern)
	}

	// Stable output order: most frequent first, then by entity ID.
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		return patterns[i].Entity.ID < patterns[j].Entity.ID
	})
	return patterns
}

// classifyTrend compares mention density between the first and second half
// of the conversation index range. Fewer than three mention positions is too
// small a sample to call anything but stable.
func classifyTrend(positions []int, messageCount int) MentionTrend {
	if len(positions) < 3 || messageCount < 2 {
		return TrendStable
	}

	half := messageCount / 2
	firstCount, secondCount := 0, 0
	for _, p := range positions {
		if p < half {
			firstCount++
		} else {
			secondCount++
		}
	}

	firstDensity := float64(firstCount) / float64(half)
	secondDensity := float64(secondCount) / float64(messageCount-half)

	switch {
	case firstDensity == 0 && secondDensity > 0:
		return TrendIncreasing
	case secondDensity == 0 && firstDensity > 0:
		return TrendDecreasing
	}

	ratio := secondDensity / firstDensity
	if ratio > 1.5 {
		return TrendIncreasing
	}
	if ratio < 0.67 {
		return TrendDecreasing
	}

	// Densities are balanced; inspect gap variance to separate steady
	// mentions from bursty ones.
	avg := averageGap(positions)
	if avg > 0 && float64(maxGap(positions)) > 3*avg {
		return TrendSporadic
	}
	return TrendStable
}

// averageGap returns the mean distance between consecutive mention
// positions, or 0 when there are fewer than two.
func averageGap(positions []int) float64 {
	if len(positions) < 2 {
		return 0
	}
	total := 0
	for i := 1; i < len(positions); i++ {
		total += positions[i] - positions[i-1]
	}
	return float64(total) / float64(len(positions)-1)
}

func maxGap(positions []int) int {
	maxG := 0
	for i := 1; i < len(positions); i++ {
		if g := positions[i] - positions[i-1]; g > maxG {
			maxG = g
		}
	}
	return maxG
}
