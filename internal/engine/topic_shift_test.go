package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShiftFixture() *fakeStore {
	store := newFakeStore()
	store.addConversation("conv-1", time.Now().Add(-time.Hour))
	store.addEntity("ent-pg", "PostgreSQL", "technical")
	store.addEntity("ent-react", "React", "technical")
	return store
}

func TestDetectTopicShiftsPivot(t *testing.T) {
	store := newShiftFixture()

	// Three messages about the database, then an abrupt pivot to the
	// frontend for the last three.
	base := time.Now().Add(-30 * time.Minute)
	contents := []string{
		"We should index the users table in PostgreSQL",
		"PostgreSQL vacuum settings need tuning",
		"Let's also partition the events table in PostgreSQL",
		"Actually, the React rendering bug is more urgent",
		"The React component re-renders on every keystroke",
		"Memoizing the React list fixes it",
	}
	for i, content := range contents {
		at := base.Add(time.Duration(i) * time.Minute)
		store.addMessage("conv-1", msgID(i), content, at)
		entity := "ent-pg"
		if i >= 3 {
			entity = "ent-react"
		}
		store.addMention(entity, msgID(i), "conv-1", content, at)
	}

	detector := NewTopicShiftDetector(store, NewPatternAnalyzer(store))
	shifts, err := detector.DetectTopicShifts(context.Background(), "conv-1", TopicShiftOptions{})
	require.NoError(t, err)
	require.Len(t, shifts, 1)

	shift := shifts[0]
	assert.Equal(t, msgID(3), shift.ShiftMessage.ID)
	assert.Equal(t, ShiftTopicPivot, shift.ShiftType)
	assert.InDelta(t, 1.0, shift.ShiftConfidence, 1e-9)
	require.Len(t, shift.TriggerEntities, 1)
	assert.Equal(t, "ent-react", shift.TriggerEntities[0].ID)
	require.Len(t, shift.PreviousEntities, 1)
	assert.Equal(t, "ent-pg", shift.PreviousEntities[0].ID)
}

func TestDetectTopicShiftsTooFewMessages(t *testing.T) {
	store := newShiftFixture()
	base := time.Now()
	for i := 0; i < 3; i++ {
		store.addMessage("conv-1", msgID(i), "short exchange", base.Add(time.Duration(i)*time.Minute))
	}

	detector := NewTopicShiftDetector(store, NewPatternAnalyzer(store))
	shifts, err := detector.DetectTopicShifts(context.Background(), "conv-1", TopicShiftOptions{})
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestDetectTopicShiftsStableTopic(t *testing.T) {
	store := newShiftFixture()

	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.addMessage("conv-1", msgID(i), "still tuning PostgreSQL", at)
		store.addMention("ent-pg", msgID(i), "conv-1", "PostgreSQL", at)
	}

	detector := NewTopicShiftDetector(store, NewPatternAnalyzer(store))
	shifts, err := detector.DetectTopicShifts(context.Background(), "conv-1", TopicShiftOptions{})
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestDetectTopicShiftsRespectsMinConfidence(t *testing.T) {
	store := newShiftFixture()

	// Half the entities carry over at each boundary, so confidence never
	// exceeds 0.5.
	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.addMessage("conv-1", msgID(i), "mixed topics", at)
		store.addMention("ent-pg", msgID(i), "conv-1", "PostgreSQL", at)
		if i >= 3 {
			store.addMention("ent-react", msgID(i), "conv-1", "React", at)
		}
	}

	detector := NewTopicShiftDetector(store, NewPatternAnalyzer(store))
	shifts, err := detector.DetectTopicShifts(context.Background(), "conv-1", TopicShiftOptions{MinShiftConfidence: 0.6})
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestClassifyShift(t *testing.T) {
	tests := []struct {
		name                           string
		prev, curr, intersection, newN int
		want                           ShiftType
	}{
		{"full replacement", 3, 3, 0, 3, ShiftTopicPivot},
		{"growth on retained core", 1, 4, 1, 3, ShiftContextExpansion},
		{"majority replaced", 5, 3, 2, 1, ShiftEntityReplacement},
		{"mild addition", 2, 3, 2, 1, ShiftEntityAddition},
		{"empty previous window", 0, 2, 0, 2, ShiftTopicPivot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyShift(tt.prev, tt.curr, tt.intersection, tt.newN))
		})
	}
}

func TestChronological(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	store.addMessage("conv-1", "msg-a", "first", base)
	store.addMessage("conv-1", "msg-b", "second", base.Add(time.Minute))

	recent, err := store.GetRecentMessages(context.Background(), "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg-b", recent[0].ID) // newest first from the store

	ordered := chronological(recent)
	assert.Equal(t, "msg-a", ordered[0].ID)
	assert.Equal(t, "msg-b", ordered[1].ID)
	assert.Equal(t, "msg-b", recent[0].ID) // input not mutated
}
