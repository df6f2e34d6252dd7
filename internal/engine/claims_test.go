package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoscope/convoscope/pkg/types"
)

func extractFrom(t *testing.T, text string) []Claim {
	t.Helper()
	extractor, err := NewRegexClaimExtractor(nil)
	require.NoError(t, err)
	return extractor.ExtractClaims(types.EntityMention{
		EntityID:       "ent-1",
		MessageID:      "msg-1",
		ConversationID: "conv-1",
		MentionText:    text,
	})
}

func claimValues(claims []Claim, claimType string) []string {
	var out []string
	for _, c := range claims {
		if c.ClaimType == claimType {
			out = append(out, c.Value)
		}
	}
	return out
}

func TestExtractClaims(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		claimType string
		want      string
	}{
		{"employment works at", "Marcus works at Initech", ClaimTypeEmployment, "Initech"},
		{"employment works for", "she works for Globo Dynamics", ClaimTypeEmployment, "Globo Dynamics"},
		{"type assertion", "Marcus is a backend developer", ClaimTypeAssertion, "backend developer"},
		{"location", "Initech is headquartered in Austin", ClaimTypeLocation, "Austin"},
		{"price verb", "the upgrade costs 499", ClaimTypePrice, "499"},
		{"price symbol", "they quoted $1,250 for it", ClaimTypePrice, "1,250"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := extractFrom(t, tt.text)
			values := claimValues(claims, tt.claimType)
			assert.Contains(t, values, tt.want)
		})
	}
}

func TestExtractClaimsCarriesProvenance(t *testing.T) {
	claims := extractFrom(t, "Marcus works at Initech")
	require.NotEmpty(t, claims)
	c := claims[0]
	assert.Equal(t, "ent-1", c.EntityID)
	assert.Equal(t, "msg-1", c.MessageID)
	assert.Equal(t, "conv-1", c.ConversationID)
	assert.InDelta(t, 0.8, c.Confidence, 1e-9)
}

func TestExtractClaimsEmptyText(t *testing.T) {
	assert.Nil(t, extractFrom(t, "   "))
}

func TestExtractClaimsNoMatches(t *testing.T) {
	assert.Empty(t, extractFrom(t, "we talked about the weather"))
}

func TestNewRegexClaimExtractorRejectsInvalidPattern(t *testing.T) {
	_, err := NewRegexClaimExtractor([]ClaimRule{
		{ClaimType: "broken", Pattern: `([`, Confidence: 0.8},
	})
	require.Error(t, err)
}

func TestNewRegexClaimExtractorRequiresCaptureGroup(t *testing.T) {
	_, err := NewRegexClaimExtractor([]ClaimRule{
		{ClaimType: "nogroup", Pattern: `works at \w+`, Confidence: 0.8},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture group")
}

func TestNewRegexClaimExtractorClampsConfidence(t *testing.T) {
	extractor, err := NewRegexClaimExtractor([]ClaimRule{
		{ClaimType: "custom", Pattern: `built with (\w+)`, Confidence: 7},
	})
	require.NoError(t, err)

	claims := extractor.ExtractClaims(types.EntityMention{MentionText: "built with Rust"})
	require.Len(t, claims, 1)
	assert.InDelta(t, 0.8, claims[0].Confidence, 1e-9)
}
