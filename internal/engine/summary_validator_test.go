package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoscope/convoscope/pkg/types"
)

func sourceMessages() []types.Message {
	at := time.Now().Add(-time.Hour)
	return []types.Message{
		{ID: "m1", Content: "Alice reviewed the deployment pipeline for Project Atlas", CreatedAt: at},
		{ID: "m2", Content: "The deployment failed because the database migration scripts were outdated", CreatedAt: at.Add(time.Minute)},
		{ID: "m3", Content: "Alice fixed the migration scripts and restarted the pipeline", CreatedAt: at.Add(2 * time.Minute)},
	}
}

func TestValidateSummaryFaithful(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})

	summary := types.ConversationSummary{
		Level:       types.SummaryStandard,
		SummaryText: "Alice fixed the outdated database migration scripts and restarted the deployment pipeline for Project Atlas.",
		TokenCount:  250,
	}

	result := validator.ValidateSummary(summary, sourceMessages())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Greater(t, result.Score, 0.85)

	assert.InDelta(t, 1.0, result.Metrics.TokenCompliance, 1e-9)
	assert.InDelta(t, 1.0, result.Metrics.FactualAccuracy, 1e-9)
	assert.GreaterOrEqual(t, result.Metrics.EntityPreservation, 0.7)
	assert.GreaterOrEqual(t, result.Metrics.InformationCoverage, 0.9)
}

func TestValidateSummaryHallucination(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})

	// Nothing in this summary comes from the source messages.
	summary := types.ConversationSummary{
		Level:       types.SummaryStandard,
		SummaryText: "Quarterly revenue exceeded projections thanks to strong enterprise demand across overseas regions.",
		TokenCount:  250,
	}

	result := validator.ValidateSummary(summary, sourceMessages())
	assert.Less(t, result.Metrics.FactualAccuracy, 0.8)
	assert.NotEmpty(t, result.Errors)
	assert.Less(t, result.Score, 0.5)
}

func TestValidateSummaryEmptySummary(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})

	result := validator.ValidateSummary(types.ConversationSummary{Level: types.SummaryBrief}, sourceMessages())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "empty")
	assert.Zero(t, result.Score)
}

func TestValidateSummaryNoMessages(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})

	summary := types.ConversationSummary{Level: types.SummaryBrief, SummaryText: "something", TokenCount: 75}
	result := validator.ValidateSummary(summary, nil)
	require.NotEmpty(t, result.Errors)
	assert.Zero(t, result.Score)
}

func TestValidateSummaryUnknownLevelFallsBackToStandard(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})

	summary := types.ConversationSummary{
		Level:       types.SummaryLevel("exhaustive"),
		SummaryText: "Alice fixed the migration scripts and restarted the deployment pipeline.",
		TokenCount:  250,
	}
	result := validator.ValidateSummary(summary, sourceMessages())
	assert.InDelta(t, 1.0, result.Metrics.TokenCompliance, 1e-9)
}

func TestTokenCompliance(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})
	brief := levelProfiles[types.SummaryBrief]

	assert.InDelta(t, 1.0, validator.tokenCompliance(75, brief), 1e-9)
	assert.InDelta(t, 1.0, validator.tokenCompliance(90, brief), 1e-9)  // inside the 20% band
	assert.InDelta(t, 1.0, validator.tokenCompliance(60, brief), 1e-9)  // band is symmetric
	assert.InDelta(t, 0.2, validator.tokenCompliance(150, brief), 1e-9) // (75-15)/75 overshoot
	assert.Zero(t, validator.tokenCompliance(300, brief))
}

func TestTokenComplianceDecreasesWithDistance(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})
	profile := levelProfiles[types.SummaryStandard]

	prev := 1.0
	for _, count := range []int{250, 320, 400, 500, 600} {
		score := validator.tokenCompliance(count, profile)
		assert.LessOrEqual(t, score, prev, "compliance must not rise as counts drift from the target (count=%d)", count)
		prev = score
	}
}

func TestValidateSummaryTokenWarning(t *testing.T) {
	validator := NewSummaryValidator(ValidationWeights{})

	summary := types.ConversationSummary{
		Level:       types.SummaryStandard,
		SummaryText: "Alice fixed the outdated database migration scripts and restarted the deployment pipeline for Project Atlas.",
		TokenCount:  500, // double the standard target
	}
	result := validator.ValidateSummary(summary, sourceMessages())
	require.NotEmpty(t, result.Warnings)
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "500") && strings.Contains(w, "250") {
			found = true
		}
	}
	assert.True(t, found, "expected an off-target token warning, got %v", result.Warnings)
}

func TestRedundancyPenalty(t *testing.T) {
	assert.Zero(t, redundancyPenalty("Single sentence only."))
	assert.InDelta(t, 1.0, redundancyPenalty("The cache stores results. The cache stores results."), 1e-9)
	assert.Zero(t, redundancyPenalty("The cache stores results. Authentication uses signed tokens."))
}

func TestTemporalSanity(t *testing.T) {
	original := "We deployed yesterday and it worked."

	assert.InDelta(t, 1.0, temporalSanity(original, "The deployment happened yesterday."), 1e-9)
	assert.InDelta(t, 1.0, temporalSanity(original, "The deployment succeeded."), 1e-9)
	// "tomorrow" never appears in the original.
	assert.Zero(t, temporalSanity(original, "The deployment happens tomorrow."))
}

func TestExtractLexicalEntities(t *testing.T) {
	entities := extractLexicalEntities("Alice shipped ConvoScope v2 on 2024-03-15 using the parse_tree API for Project Atlas")

	for _, want := range []string{"alice", "2024-03-15", "parse_tree", "api", "project atlas"} {
		_, ok := entities[want]
		assert.True(t, ok, "expected lexical entity %q", want)
	}
}

func TestValidationWeightDefaults(t *testing.T) {
	w := DefaultValidationWeights()
	assert.InDelta(t, 1.0, w.Coverage+w.Entity+w.Consistency+w.Token+w.Factual, 1e-9)

	// Custom weights are respected.
	custom := NewSummaryValidator(ValidationWeights{Coverage: 1})
	summary := types.ConversationSummary{
		Level:       types.SummaryStandard,
		SummaryText: "Alice fixed the outdated database migration scripts and restarted the deployment pipeline for Project Atlas.",
		TokenCount:  250,
	}
	result := custom.ValidateSummary(summary, sourceMessages())
	assert.InDelta(t, result.Metrics.InformationCoverage, result.Score, 1e-9)
}
