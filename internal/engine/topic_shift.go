package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// TopicShiftOptions configures topic shift detection.
type TopicShiftOptions struct {
	// Lookback bounds how many recent messages are analyzed (default: 50).
	Lookback int

	// MinShiftConfidence is the minimum confidence for a shift to be
	// emitted (default: 0.6).
	MinShiftConfidence float64
}

// withDefaults fills unset option fields.
func (o TopicShiftOptions) withDefaults() TopicShiftOptions {
	if o.Lookback <= 0 {
		o.Lookback = 50
	}
	if o.MinShiftConfidence <= 0 {
		o.MinShiftConfidence = 0.6
	}
	return o
}

// TopicShiftDetector slides two equal-size windows across a conversation's
// messages and flags a shift when entity-set overlap drops below threshold.
type TopicShiftDetector struct {
	store    storage.ConversationStore
	analyzer *PatternAnalyzer
}

// NewTopicShiftDetector creates a topic shift detector sharing the given
// pattern analyzer.
func NewTopicShiftDetector(store storage.ConversationStore, analyzer *PatternAnalyzer) *TopicShiftDetector {
	return &TopicShiftDetector{store: store, analyzer: analyzer}
}

// DetectTopicShifts analyzes the conversation's recent messages and returns
// detected shifts ordered by descending confidence. Fewer than four messages
// is too small a sample; the result is empty, not an error.
func (d *TopicShiftDetector) DetectTopicShifts(ctx context.Context, conversationID string, opts TopicShiftOptions) ([]TopicShift, error) {
	opts = opts.withDefaults()

	recent, err := d.store.GetRecentMessages(ctx, conversationID, opts.Lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}
	messages := chronological(recent)
	if len(messages) < 4 {
		return nil, nil
	}

	// One mention prefetch serves every window evaluation.
	mentions, err := d.analyzer.fetchMentions(ctx, messages)
	if err != nil {
		return nil, err
	}
	entities, err := d.analyzer.resolveEntities(ctx, mentions)
	if err != nil {
		return nil, err
	}

	windowSize := len(messages) / 3
	if windowSize > 6 {
		windowSize = 6
	}
	if windowSize < 1 {
		windowSize = 1
	}

	var shifts []TopicShift
	for i := windowSize; i < len(messages)-windowSize; i++ {
		prevWindow := messages[i-windowSize : i]
		currWindow := messages[i : i+windowSize]

		prevSet := d.windowEntities(prevWindow, mentions, entities)
		currSet := d.windowEntities(currWindow, mentions, entities)

		intersection := 0
		for id := range currSet {
			if _, ok := prevSet[id]; ok {
				intersection++
			}
		}
		union := len(prevSet) + len(currSet) - intersection
		if union == 0 {
			continue // no entity signal at this boundary
		}

		overlapRatio := float64(intersection) / float64(union)
		confidence := clamp01(1 - overlapRatio)
		if confidence < opts.MinShiftConfidence {
			continue
		}

		var trigger []types.Entity
		for id, e := range currSet {
			if _, ok := prevSet[id]; !ok {
				trigger = append(trigger, e)
			}
		}
		sortEntities(trigger)

		shifts = append(shifts, TopicShift{
			ShiftMessage:     messages[i],
			PreviousEntities: entityValues(prevSet),
			NewEntities:      entityValues(currSet),
			ShiftConfidence:  confidence,
			ShiftType:        classifyShift(len(prevSet), len(currSet), intersection, len(trigger)),
			TriggerEntities:  trigger,
			DetectedAt:       time.Now(),
		})
	}

	sort.SliceStable(shifts, func(i, j int) bool {
		return shifts[i].ShiftConfidence > shifts[j].ShiftConfidence
	})
	return shifts, nil
}

// windowEntities returns the entity set mentioned inside one window.
func (d *TopicShiftDetector) windowEntities(window []types.Message, mentions []types.EntityMention, entities map[string]types.Entity) map[string]types.Entity {
	set := make(map[string]types.Entity)
	for _, p := range d.analyzer.patternsFromMentions(window, mentions, entities) {
		set[p.Entity.ID] = p.Entity
	}
	return set
}

// classifyShift maps the window set statistics onto a shift type. The checks
// form a fixed priority cascade; ties resolve to the first matching rule.
func classifyShift(prevCount, currCount, intersectionCount, newEntityCount int) ShiftType {
	replacementRatio := 0.0
	if prevCount > 0 {
		replacementRatio = float64(intersectionCount) / float64(prevCount)
	}
	additionRatio := 0.0
	if currCount > 0 {
		additionRatio = float64(newEntityCount) / float64(currCount)
	}

	switch {
	case replacementRatio < 0.3 && float64(newEntityCount) > float64(prevCount)*0.5:
		return ShiftTopicPivot
	case additionRatio > 0.6 && intersectionCount > 0:
		return ShiftContextExpansion
	case replacementRatio < 0.5:
		return ShiftEntityReplacement
	default:
		return ShiftEntityAddition
	}
}

// chronological reverses a newest-first message slice into chronological
// order without mutating the input.
func chronological(desc []types.Message) []types.Message {
	out := make([]types.Message, len(desc))
	for i := range desc {
		out[len(desc)-1-i] = desc[i]
	}
	return out
}

func entityValues(set map[string]types.Entity) []types.Entity {
	out := make([]types.Entity, 0, len(set))
	for _, e := range set {
		out = append(out, e)
	}
	sortEntities(out)
	return out
}

func sortEntities(entities []types.Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
}
