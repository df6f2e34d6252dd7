package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/convoscope/convoscope/pkg/types"
)

// ClaimExtractor turns mention text into typed key→value claims. The
// default implementation is regex-based; abstracting it lets a future NLP
// backend replace the heuristics without touching the conflict scoring.
type ClaimExtractor interface {
	// ExtractClaims returns every claim the mention text asserts about the
	// mentioned entity. The order is the order of the configured rules.
	ExtractClaims(mention types.EntityMention) []Claim
}

// Claim type constants used by the default rule set.
const (
	ClaimTypeAssertion  = "type_assertion"
	ClaimTypeEmployment = "employment"
	ClaimTypeLocation   = "location"
	ClaimTypePrice      = "price"
)

// ClaimRule is one data-driven extraction rule: a claim type, a pattern
// whose first capture group is the claim value, and the confidence assigned
// to matches. Rules are configuration, not global state, so deployments can
// substitute vocabularies.
type ClaimRule struct {
	ClaimType  string  `yaml:"claim_type"`
	Pattern    string  `yaml:"pattern"`
	Confidence float64 `yaml:"confidence"`
}

// DefaultClaimRules returns the built-in rule set. Matches carry a fixed
// confidence of 0.8.
func DefaultClaimRules() []ClaimRule {
	return []ClaimRule{
		{
			ClaimType:  ClaimTypeAssertion,
			Pattern:    `(?i)\bis\s+an?\s+([a-z][a-z-]+(?:\s+[a-z-]+){0,3})`,
			Confidence: 0.8,
		},
		{
			ClaimType:  ClaimTypeEmployment,
			Pattern:    `(?i)\bworks?\s+(?:for|at)\s+([A-Z][A-Za-z0-9&._-]*(?:\s+[A-Z][A-Za-z0-9&._-]*)*)`,
			Confidence: 0.8,
		},
		{
			ClaimType:  ClaimTypeLocation,
			Pattern:    `(?i)\b(?:located|based|headquartered)\s+in\s+([A-Z][A-Za-z]+(?:[\s,]+[A-Z][A-Za-z]+)*)`,
			Confidence: 0.8,
		},
		{
			ClaimType:  ClaimTypePrice,
			Pattern:    `(?i)\b(?:costs?|priced\s+at|price\s+(?:is|of))\s*\$?(\d[\d.,]*)`,
			Confidence: 0.8,
		},
		{
			ClaimType:  ClaimTypePrice,
			Pattern:    `\$(\d[\d.,]*)`,
			Confidence: 0.8,
		},
	}
}

// compiledClaimRule pairs a rule with its compiled pattern.
type compiledClaimRule struct {
	claimType  string
	pattern    *regexp.Regexp
	confidence float64
}

// RegexClaimExtractor is the default ClaimExtractor: fixed regex patterns
// applied to mention text. It is a lexical approximation, not language
// understanding.
type RegexClaimExtractor struct {
	rules []compiledClaimRule
}

// NewRegexClaimExtractor compiles the given rules. A rule with an invalid
// pattern fails construction rather than being dropped silently.
func NewRegexClaimExtractor(rules []ClaimRule) (*RegexClaimExtractor, error) {
	if len(rules) == 0 {
		rules = DefaultClaimRules()
	}

	compiled := make([]compiledClaimRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("claim rule %q: %w", r.ClaimType, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("claim rule %q: pattern must have one capture group", r.ClaimType)
		}
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.8
		}
		compiled = append(compiled, compiledClaimRule{
			claimType:  r.ClaimType,
			pattern:    re,
			confidence: conf,
		})
	}
	return &RegexClaimExtractor{rules: compiled}, nil
}

// ExtractClaims applies every rule to the mention text.
func (e *RegexClaimExtractor) ExtractClaims(mention types.EntityMention) []Claim {
	text := mention.MentionText
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var claims []Claim
	for _, rule := range e.rules {
		for _, match := range rule.pattern.FindAllStringSubmatch(text, -1) {
			value := strings.TrimSpace(match[1])
			if value == "" {
				continue
			}
			claims = append(claims, Claim{
				ClaimType:      rule.claimType,
				Value:          value,
				EntityID:       mention.EntityID,
				MessageID:      mention.MessageID,
				ConversationID: mention.ConversationID,
				Confidence:     rule.confidence,
			})
		}
	}
	return claims
}
