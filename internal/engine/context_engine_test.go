package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoscope/convoscope/pkg/types"
)

func TestNewContextEngineRequiresStore(t *testing.T) {
	_, err := NewContextEngine(nil)
	require.Error(t, err)
}

func TestNewContextEngineRejectsBadClaimRules(t *testing.T) {
	_, err := NewContextEngine(newFakeStore(), WithClaimRules([]ClaimRule{
		{ClaimType: "broken", Pattern: `([`},
	}))
	require.Error(t, err)
}

func TestContextEngineTopicShiftCallback(t *testing.T) {
	store := newShiftFixture()
	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.addMessage("conv-1", msgID(i), "content", at)
		entity := "ent-pg"
		if i >= 3 {
			entity = "ent-react"
		}
		store.addMention(entity, msgID(i), "conv-1", "mention", at)
	}

	eng, err := NewContextEngine(store)
	require.NoError(t, err)

	var gotConv string
	var gotShifts []TopicShift
	eng.OnTopicShift(func(conversationID string, shifts []TopicShift) {
		gotConv = conversationID
		gotShifts = shifts
	})

	shifts, err := eng.DetectTopicShifts(context.Background(), "conv-1", TopicShiftOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, shifts)
	assert.Equal(t, "conv-1", gotConv)
	assert.Equal(t, shifts, gotShifts)
}

func TestContextEngineCallbackSkippedWithoutSignal(t *testing.T) {
	store := newShiftFixture()
	base := time.Now()
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.addMessage("conv-1", msgID(i), "steady topic", at)
		store.addMention("ent-pg", msgID(i), "conv-1", "PostgreSQL", at)
	}

	eng, err := NewContextEngine(store)
	require.NoError(t, err)

	fired := false
	eng.OnTopicShift(func(string, []TopicShift) { fired = true })

	shifts, err := eng.DetectTopicShifts(context.Background(), "conv-1", TopicShiftOptions{})
	require.NoError(t, err)
	assert.Empty(t, shifts)
	assert.False(t, fired)
}

func TestContextEngineConflictCallback(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.addEntity("ent-sarah", "Sarah", "person")
	store.addMention("ent-sarah", "msg-1", "conv-a", "Sarah works at InitechCorp", now.AddDate(0, 0, -3))
	store.addMention("ent-sarah", "msg-2", "conv-b", "Sarah works at GloboCorp", now.AddDate(0, 0, -1))

	eng, err := NewContextEngine(store)
	require.NoError(t, err)

	var got []ConflictingInformation
	eng.OnConflict(func(conflicts []ConflictingInformation) { got = conflicts })

	conflicts, err := eng.FindConflictingInformation(context.Background(), ConflictScanOptions{
		EntityIDs: []string{"ent-sarah"},
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflicts, got)
}

func TestContextEngineAnalyzeMessagePatterns(t *testing.T) {
	store := newFakeStore()
	at := time.Now()
	store.addMessage("conv-1", "msg-a", "Redis caching", at)
	store.addEntity("ent-redis", "Redis", "technical")
	store.addMention("ent-redis", "msg-a", "conv-1", "Redis", at)

	eng, err := NewContextEngine(store)
	require.NoError(t, err)

	patterns, err := eng.AnalyzeMessagePatterns(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "ent-redis", patterns[0].Entity.ID)
}

func TestContextEngineValidateSummaryUsesConfiguredWeights(t *testing.T) {
	eng, err := NewContextEngine(newFakeStore(), WithValidationWeights(ValidationWeights{Token: 1}))
	require.NoError(t, err)

	result := eng.ValidateSummary(
		types.ConversationSummary{Level: types.SummaryStandard, SummaryText: "on target", TokenCount: 250},
		sourceMessages(),
	)
	assert.InDelta(t, result.Metrics.TokenCompliance, result.Score, 1e-9)
}
