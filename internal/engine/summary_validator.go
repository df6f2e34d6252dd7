package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/convoscope/convoscope/pkg/types"
)

// ValidationWeights configures the blend of the five validation metrics.
type ValidationWeights struct {
	Coverage    float64 `yaml:"coverage"`
	Entity      float64 `yaml:"entity"`
	Consistency float64 `yaml:"consistency"`
	Token       float64 `yaml:"token"`
	Factual     float64 `yaml:"factual"`
}

// DefaultValidationWeights returns the standard metric blend.
func DefaultValidationWeights() ValidationWeights {
	return ValidationWeights{
		Coverage:    0.3,
		Entity:      0.25,
		Consistency: 0.25,
		Token:       0.1,
		Factual:     0.1,
	}
}

// levelProfile holds the per-level token target and expected word coverage.
type levelProfile struct {
	targetTokens     int
	expectedCoverage float64
}

var levelProfiles = map[types.SummaryLevel]levelProfile{
	types.SummaryBrief:    {targetTokens: 75, expectedCoverage: 0.3},
	types.SummaryStandard: {targetTokens: 250, expectedCoverage: 0.6},
	types.SummaryDetailed: {targetTokens: 750, expectedCoverage: 0.8},
}

// Validation thresholds.
const (
	// tokenToleranceBand: compliance is perfect within ±20% of the target.
	tokenToleranceBand = 0.2

	// redundancyJaccard: sentence pairs above this similarity count as
	// redundant.
	redundancyJaccard = 0.7

	// hallucinationTolerance: up to 30% of summary words may be absent
	// from the original before factual accuracy is penalized.
	hallucinationTolerance = 0.3
)

// SummaryValidator scores a generated summary against its source messages
// on coverage, entity preservation, consistency, token compliance, and
// factual-accuracy proxies.
type SummaryValidator struct {
	weights ValidationWeights
}

// NewSummaryValidator creates a validator. Zero weights fall back to the
// defaults.
func NewSummaryValidator(weights ValidationWeights) *SummaryValidator {
	if weights == (ValidationWeights{}) {
		weights = DefaultValidationWeights()
	}
	return &SummaryValidator{weights: weights}
}

// ValidateSummary scores the summary. Failures are reported in the returned
// Errors slice, never as a Go error: an unscorable summary is a result, not
// a fault.
func (v *SummaryValidator) ValidateSummary(summary types.ConversationSummary, messages []types.Message) ValidationResult {
	result := ValidationResult{Warnings: []string{}, Errors: []string{}}

	if strings.TrimSpace(summary.SummaryText) == "" {
		result.Errors = append(result.Errors, "summary text is empty")
	}
	if len(messages) == 0 {
		result.Errors = append(result.Errors, "source message set is empty")
	}
	if len(result.Errors) > 0 {
		return result
	}

	profile, ok := levelProfiles[summary.Level]
	if !ok {
		profile = levelProfiles[types.SummaryStandard]
	}

	original := messagesText(messages)

	result.Metrics = ValidationMetrics{
		InformationCoverage: v.informationCoverage(original, summary.SummaryText, profile),
		EntityPreservation:  v.entityPreservation(original, summary.SummaryText),
		Consistency:         v.consistency(original, summary.SummaryText),
		TokenCompliance:     v.tokenCompliance(summary.TokenCount, profile),
		FactualAccuracy:     v.factualAccuracy(original, summary.SummaryText),
	}

	m := result.Metrics
	result.Score = clamp01(v.weights.Coverage*m.InformationCoverage +
		v.weights.Entity*m.EntityPreservation +
		v.weights.Consistency*m.Consistency +
		v.weights.Token*m.TokenCompliance +
		v.weights.Factual*m.FactualAccuracy)

	if m.Consistency < 0.7 {
		result.Errors = append(result.Errors, fmt.Sprintf("consistency %.2f below 0.70", m.Consistency))
	}
	if m.FactualAccuracy < 0.8 {
		result.Errors = append(result.Errors, fmt.Sprintf("factual accuracy %.2f below 0.80", m.FactualAccuracy))
	}
	if m.InformationCoverage < 0.6 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("information coverage %.2f below 0.60", m.InformationCoverage))
	}
	if m.EntityPreservation < 0.7 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("entity preservation %.2f below 0.70", m.EntityPreservation))
	}
	if offTarget := absInt(summary.TokenCount - profile.targetTokens); offTarget > profile.targetTokens/2 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("token count %d is more than 50%% off the %d target", summary.TokenCount, profile.targetTokens))
	}

	return result
}

// tokenCompliance is 1.0 inside the ±20% band around the level target and
// decays linearly, proportional to the overshoot relative to the target,
// outside it.
func (v *SummaryValidator) tokenCompliance(tokenCount int, profile levelProfile) float64 {
	target := float64(profile.targetTokens)
	tolerance := tokenToleranceBand * target
	diff := float64(absInt(tokenCount - profile.targetTokens))
	if diff <= tolerance {
		return 1.0
	}
	return clamp01(1 - (diff-tolerance)/target)
}

// entityPreservation is the fraction of lexical entities in the original
// that survive into the summary. No entities to preserve scores 1.0.
func (v *SummaryValidator) entityPreservation(original, summaryText string) float64 {
	origEntities := extractLexicalEntities(original)
	if len(origEntities) == 0 {
		return 1.0
	}
	sumEntities := extractLexicalEntities(summaryText)

	preserved := 0
	for e := range origEntities {
		if _, ok := sumEntities[e]; ok {
			preserved++
		}
	}
	return clamp01(float64(preserved) / float64(len(origEntities)))
}

// informationCoverage blends word-overlap completeness against the level's
// expected coverage ratio, with a redundancy penalty for near-duplicate
// summary sentences.
func (v *SummaryValidator) informationCoverage(original, summaryText string, profile levelProfile) float64 {
	origWords := significantWords(original)
	if len(origWords) == 0 {
		return 1.0
	}
	sumWords := significantWords(summaryText)

	covered := 0
	for w := range origWords {
		if _, ok := sumWords[w]; ok {
			covered++
		}
	}
	actual := float64(covered) / float64(len(origWords))
	completeness := minFloat(1, actual/profile.expectedCoverage)

	return clamp01(completeness * (1 - 0.5*redundancyPenalty(summaryText)))
}

// redundancyPenalty is the fraction of summary sentence pairs whose word
// sets overlap above the redundancy threshold.
func redundancyPenalty(summaryText string) float64 {
	sentences := splitSentences(summaryText)
	if len(sentences) < 2 {
		return 0
	}

	wordSets := make([]map[string]struct{}, len(sentences))
	for i, s := range sentences {
		wordSets[i] = significantWords(s)
	}

	redundant, total := 0, 0
	for i := 0; i < len(wordSets); i++ {
		for j := i + 1; j < len(wordSets); j++ {
			total++
			if jaccard(wordSets[i], wordSets[j]) > redundancyJaccard {
				redundant++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(redundant) / float64(total)
}

// consistency combines a contradiction check (currently a stub that always
// passes), a temporal-marker sanity check, and factual-keyword overlap.
func (v *SummaryValidator) consistency(original, summaryText string) float64 {
	contradiction := 1.0 // stub: no lexical contradiction detection yet

	temporal := temporalSanity(original, summaryText)

	sumWords := significantWords(summaryText)
	keywordOverlap := 1.0
	if len(sumWords) > 0 {
		origWords := significantWords(original)
		shared := 0
		for w := range sumWords {
			if _, ok := origWords[w]; ok {
				shared++
			}
		}
		keywordOverlap = float64(shared) / float64(len(sumWords))
	}

	return clamp01((contradiction + temporal + keywordOverlap) / 3)
}

// temporalSanity penalizes temporal markers that appear in the summary but
// never in the original: a summary has no business inventing a timeline.
func temporalSanity(original, summaryText string) float64 {
	markers := []string{
		"yesterday", "today", "tomorrow",
		"last week", "next week", "last month", "next month",
		"before", "after", "earlier", "later", "previously",
	}

	origLower := strings.ToLower(original)
	sumLower := strings.ToLower(summaryText)

	present, invented := 0, 0
	for _, marker := range markers {
		if !strings.Contains(sumLower, marker) {
			continue
		}
		present++
		if !strings.Contains(origLower, marker) {
			invented++
		}
	}
	if present == 0 {
		return 1.0
	}
	return clamp01(1 - float64(invented)/float64(present))
}

// factualAccuracy penalizes summary words absent from the original beyond a
// 30% tolerance: some paraphrasing is expected, wholesale invention is not.
func (v *SummaryValidator) factualAccuracy(original, summaryText string) float64 {
	sumWords := significantWords(summaryText)
	if len(sumWords) == 0 {
		return 1.0
	}
	origWords := significantWords(original)

	hallucinated := 0
	for w := range sumWords {
		if _, ok := origWords[w]; !ok {
			hallucinated++
		}
	}
	ratio := float64(hallucinated) / float64(len(sumWords))
	if ratio <= hallucinationTolerance {
		return 1.0
	}
	return clamp01(1 - (ratio-hallucinationTolerance)/(1-hallucinationTolerance))
}

// Lexical entity extraction patterns: five classes extracted from both the
// original and the summary.
var (
	capitalizedWordRe = regexp.MustCompile(`\b[A-Z][a-z]{1,}\b`)
	datePatterns      = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
		regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?\b`),
		regexp.MustCompile(`\b(?:19|20)\d{2}\b`),
	}
	numberRe    = regexp.MustCompile(`\b\d+(?:[.,]\d+)*\b`)
	camelCaseRe = regexp.MustCompile(`\b[a-z]+[A-Z][A-Za-z]*\b`)
	snakeCaseRe = regexp.MustCompile(`\b[a-z]+(?:_[a-z0-9]+)+\b`)
	acronymRe   = regexp.MustCompile(`\b[A-Z]{2,}\b`)
	projectRe   = regexp.MustCompile(`\b(?:[A-Z][A-Za-z]*\s+[Pp]roject|[Pp]roject\s+[A-Z][A-Za-z]*)\b`)
	wordRe      = regexp.MustCompile(`[a-z]{4,}`)
)

// extractLexicalEntities pulls the five heuristic entity classes out of a
// text: capitalized names, dates, numbers, technical terms, and
// project-suffixed phrases. Purely lexical; no language understanding.
func extractLexicalEntities(text string) map[string]struct{} {
	entities := make(map[string]struct{})
	add := func(matches []string) {
		for _, m := range matches {
			entities[strings.ToLower(m)] = struct{}{}
		}
	}

	add(capitalizedWordRe.FindAllString(text, -1))
	for _, re := range datePatterns {
		add(re.FindAllString(text, -1))
	}
	add(numberRe.FindAllString(text, -1))
	add(camelCaseRe.FindAllString(text, -1))
	add(snakeCaseRe.FindAllString(text, -1))
	add(acronymRe.FindAllString(text, -1))
	add(projectRe.FindAllString(text, -1))
	return entities
}

// stopWords are excluded from significant-word comparisons.
var stopWords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "been": {},
	"they": {}, "them": {}, "then": {}, "than": {}, "there": {}, "their": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "will": {}, "would": {},
	"about": {}, "into": {}, "some": {}, "were": {}, "your": {}, "just": {},
	"also": {}, "like": {}, "over": {}, "very": {}, "more": {}, "most": {},
}

// significantWords lowercases the text and keeps words of four or more
// letters that are not stop words.
func significantWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}

func splitSentences(text string) []string {
	raw := regexp.MustCompile(`[.!?]+`).Split(text, -1)
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
