package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// AttributePattern is one data-driven attribute extraction rule: the
// attribute it populates, a pattern whose first capture group is the value,
// and the confidence assigned to matches.
type AttributePattern struct {
	Attribute  string  `yaml:"attribute"`
	Pattern    string  `yaml:"pattern"`
	Confidence float64 `yaml:"confidence"`
}

// AttributePatternSet carries the full vocabulary the synthesizer works
// with: per-entity-type extraction patterns plus the status and date
// vocabularies the conflict checks compare against. Passed in at
// construction so deployments can substitute vocabularies.
type AttributePatternSet struct {
	// ByType holds patterns applied only to entities of a given type.
	ByType map[types.EntityType][]AttributePattern `yaml:"by_type"`

	// Common patterns apply to every entity type.
	Common []AttributePattern `yaml:"common"`

	// ActiveStatuses and InactiveStatuses are the status vocabularies whose
	// simultaneous presence signals a status inconsistency.
	ActiveStatuses   []string `yaml:"active_statuses"`
	InactiveStatuses []string `yaml:"inactive_statuses"`

	// StartAttributes and EndAttributes name the date-bearing attributes
	// checked for temporal impossibilities.
	StartAttributes []string `yaml:"start_attributes"`
	EndAttributes   []string `yaml:"end_attributes"`
}

// DefaultAttributePatterns returns the built-in extraction vocabulary.
func DefaultAttributePatterns() AttributePatternSet {
	return AttributePatternSet{
		ByType: map[types.EntityType][]AttributePattern{
			types.EntityTypePerson: {
				{Attribute: "role", Pattern: `(?i)\b(?:is|works as)\s+(?:a|an|the)\s+([a-z][a-z/ -]{2,40}?)(?:\s+(?:at|for|in)\b|[.,;]|$)`, Confidence: 0.75},
				{Attribute: "employer", Pattern: `(?i)\bworks?\s+(?:for|at)\s+([A-Z][A-Za-z0-9&._-]*(?:\s+[A-Z][A-Za-z0-9&._-]*)*)`, Confidence: 0.8},
			},
			types.EntityTypeOrganization: {
				{Attribute: "founded", Pattern: `(?i)\bfounded\s+(?:in\s+)?(\d{4})`, Confidence: 0.85},
				{Attribute: "dissolved", Pattern: `(?i)\b(?:dissolved|shut\s+down|closed)\s+(?:in\s+)?(\d{4})`, Confidence: 0.85},
				{Attribute: "location", Pattern: `(?i)\b(?:located|based|headquartered)\s+in\s+([A-Z][A-Za-z]+(?:[\s,]+[A-Z][A-Za-z]+)*)`, Confidence: 0.8},
			},
			types.EntityTypeProduct: {
				{Attribute: "technology", Pattern: `(?i)\b(?:built\s+(?:on|with)|uses)\s+([A-Za-z][\w.+#-]*)`, Confidence: 0.7},
				{Attribute: "price", Pattern: `(?i)\b(?:costs?|priced\s+at)\s*\$?(\d[\d.,]*)`, Confidence: 0.8},
			},
			types.EntityTypeTechnical: {
				{Attribute: "version", Pattern: `(?i)\bversion\s+(\d[\w.]*)`, Confidence: 0.8},
			},
		},
		Common: []AttributePattern{
			{Attribute: "status", Pattern: `(?i)\bstatus\s*(?:is|:)\s*([a-z][a-z -]+)`, Confidence: 0.8},
			{Attribute: "status", Pattern: `(?i)\bis\s+(active|inactive|operational|running|live|closed|defunct|discontinued|dissolved|terminated)\b`, Confidence: 0.75},
		},
		ActiveStatuses:   []string{"active", "operational", "running", "live", "ongoing", "open"},
		InactiveStatuses: []string{"inactive", "closed", "defunct", "discontinued", "dissolved", "terminated", "shut down"},
		StartAttributes:  []string{"founded", "started", "start_date"},
		EndAttributes:    []string{"dissolved", "ended", "end_date"},
	}
}

// compiledAttribute pairs an attribute pattern with its compiled regexp.
type compiledAttribute struct {
	attribute  string
	pattern    *regexp.Regexp
	confidence float64
}

// KnowledgeSynthesizer is the entity-level conflict tier: it synthesizes an
// entity's full attribute knowledge from its mention history, then runs four
// independent conflict checks over it.
type KnowledgeSynthesizer struct {
	store  storage.ConversationStore
	vocab  AttributePatternSet
	byType map[types.EntityType][]compiledAttribute
	common []compiledAttribute
}

// NewKnowledgeSynthesizer compiles the pattern set. Invalid patterns fail
// construction.
func NewKnowledgeSynthesizer(store storage.ConversationStore, vocab AttributePatternSet) (*KnowledgeSynthesizer, error) {
	if vocab.ByType == nil && len(vocab.Common) == 0 {
		vocab = DefaultAttributePatterns()
	}

	s := &KnowledgeSynthesizer{
		store:  store,
		vocab:  vocab,
		byType: make(map[types.EntityType][]compiledAttribute),
	}

	for entityType, patterns := range vocab.ByType {
		compiled, err := compileAttributes(patterns)
		if err != nil {
			return nil, err
		}
		s.byType[entityType] = compiled
	}

	common, err := compileAttributes(vocab.Common)
	if err != nil {
		return nil, err
	}
	s.common = common
	return s, nil
}

func compileAttributes(patterns []AttributePattern) ([]compiledAttribute, error) {
	compiled := make([]compiledAttribute, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("attribute pattern %q: %w", p.Attribute, err)
		}
		conf := p.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.7
		}
		compiled = append(compiled, compiledAttribute{attribute: p.Attribute, pattern: re, confidence: conf})
	}
	return compiled, nil
}

// SynthesizeEntityKnowledge builds the full attribute and edge view of one
// entity. A nonexistent entity is a NotFound condition: the error wraps
// storage.ErrNotFound.
func (s *KnowledgeSynthesizer) SynthesizeEntityKnowledge(ctx context.Context, entityID string) (*EntityKnowledge, error) {
	entity, err := s.store.GetEntityByID(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("synthesize knowledge for %s: %w", entityID, err)
	}

	mentions, err := s.store.GetEntityMentions(ctx, entityID, conflictMentionLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch mentions for %s: %w", entityID, err)
	}

	attributes := make(map[string][]AttributeValue)
	typed := s.byType[entity.Type]
	rules := make([]compiledAttribute, 0, len(typed)+len(s.common))
	rules = append(rules, typed...)
	rules = append(rules, s.common...)
	for i := range mentions {
		for _, rule := range rules {
			for _, match := range rule.pattern.FindAllStringSubmatch(mentions[i].MentionText, -1) {
				value := strings.TrimSpace(match[1])
				if value == "" {
					continue
				}
				attributes[rule.attribute] = append(attributes[rule.attribute], AttributeValue{
					Value:      value,
					Confidence: rule.confidence,
					MessageID:  mentions[i].MessageID,
					ObservedAt: mentions[i].CreatedAt,
				})
			}
		}
	}

	rawEdges, err := s.store.GetRelationshipEdges(ctx, []string{entityID})
	if err != nil {
		return nil, fmt.Errorf("fetch relationship edges for %s: %w", entityID, err)
	}
	edges := make([]KnowledgeEdge, 0, len(rawEdges))
	for _, e := range rawEdges {
		edges = append(edges, KnowledgeEdge{
			TargetEntityID:    e.TargetEntityID,
			RelationshipType:  e.RelationshipType,
			RelationshipCount: e.RelationshipCount,
			AvgStrength:       e.AvgStrength,
		})
	}

	return &EntityKnowledge{
		Entity:        *entity,
		Attributes:    attributes,
		Edges:         edges,
		MentionCount:  len(mentions),
		SynthesizedAt: time.Now(),
	}, nil
}

// DetectConflictingStatements synthesizes entity knowledge and runs four
// independent conflict checks: property contradictions, status
// inconsistencies, temporal impossibilities, and exclusive-relationship
// conflicts.
func (s *KnowledgeSynthesizer) DetectConflictingStatements(ctx context.Context, entityID string) ([]EntityConflict, error) {
	knowledge, err := s.SynthesizeEntityKnowledge(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var conflicts []EntityConflict
	conflicts = append(conflicts, s.propertyContradictions(knowledge)...)
	conflicts = append(conflicts, s.statusInconsistencies(knowledge)...)
	conflicts = append(conflicts, s.temporalImpossibilities(knowledge)...)
	conflicts = append(conflicts, s.relationshipConflicts(knowledge)...)
	return conflicts, nil
}

// propertyContradictions flags attributes with at least two distinct values
// backed by at least two high-confidence sources.
func (s *KnowledgeSynthesizer) propertyContradictions(k *EntityKnowledge) []EntityConflict {
	var conflicts []EntityConflict
	for attribute, values := range k.Attributes {
		distinct := make(map[string]struct{})
		highConfidence := 0
		for _, v := range values {
			distinct[strings.ToLower(v.Value)] = struct{}{}
			if v.Confidence > 0.7 {
				highConfidence++
			}
		}
		if len(distinct) < 2 || highConfidence < 2 {
			continue
		}

		conflicts = append(conflicts, EntityConflict{
			Entity:       k.Entity,
			ConflictType: ConflictPropertyContradiction,
			Attribute:    attribute,
			Values:       values,
			Description:  fmt.Sprintf("attribute %q has %d distinct values", attribute, len(distinct)),
			Severity:     severityFromConfidence(meanConfidence(values)),
			ResolutionSuggestion: resolutionSuggestion(values),
			DetectedAt:   time.Now(),
		})
	}
	return conflicts
}

// statusInconsistencies flags simultaneous presence of active-like and
// inactive-like status values.
func (s *KnowledgeSynthesizer) statusInconsistencies(k *EntityKnowledge) []EntityConflict {
	values := k.Attributes["status"]
	if len(values) < 2 {
		return nil
	}

	var active, inactive []AttributeValue
	for _, v := range values {
		normalized := strings.ToLower(strings.TrimSpace(v.Value))
		if containsString(s.vocab.ActiveStatuses, normalized) {
			active = append(active, v)
		}
		if containsString(s.vocab.InactiveStatuses, normalized) {
			inactive = append(inactive, v)
		}
	}
	if len(active) == 0 || len(inactive) == 0 {
		return nil
	}

	all := append(append([]AttributeValue{}, active...), inactive...)
	return []EntityConflict{{
		Entity:       k.Entity,
		ConflictType: ConflictStatusInconsistency,
		Attribute:    "status",
		Values:       all,
		Description:  fmt.Sprintf("entity is described as both %q and %q", active[0].Value, inactive[0].Value),
		Severity:     severityFromConfidence(meanConfidence(all)),
		ResolutionSuggestion: resolutionSuggestion(all),
		DetectedAt:   time.Now(),
	}}
}

// temporalImpossibilities flags an end-date attribute earlier than a
// start-date attribute.
func (s *KnowledgeSynthesizer) temporalImpossibilities(k *EntityKnowledge) []EntityConflict {
	var conflicts []EntityConflict
	for _, startAttr := range s.vocab.StartAttributes {
		startValues := k.Attributes[startAttr]
		if len(startValues) == 0 {
			continue
		}
		for _, endAttr := range s.vocab.EndAttributes {
			for _, endValue := range k.Attributes[endAttr] {
				endDate, ok := parseAttributeDate(endValue.Value)
				if !ok {
					continue
				}
				for _, startValue := range startValues {
					startDate, ok := parseAttributeDate(startValue.Value)
					if !ok || !endDate.Before(startDate) {
						continue
					}

					values := []AttributeValue{startValue, endValue}
					conflicts = append(conflicts, EntityConflict{
						Entity:       k.Entity,
						ConflictType: ConflictTemporalImpossibility,
						Attribute:    endAttr,
						Values:       values,
						Description: fmt.Sprintf("%s (%s) predates %s (%s)",
							endAttr, endValue.Value, startAttr, startValue.Value),
						Severity:     severityFromConfidence(meanConfidence(values)),
						ResolutionSuggestion: resolutionSuggestion(values),
						DetectedAt:   time.Now(),
					})
				}
			}
		}
	}
	return conflicts
}

// relationshipConflicts flags an entity linked to more than one target via
// the same exclusive relationship type.
func (s *KnowledgeSynthesizer) relationshipConflicts(k *EntityKnowledge) []EntityConflict {
	targetsByType := make(map[string]map[string]struct{})
	strengthByType := make(map[string]float64)
	countByType := make(map[string]int)
	for _, edge := range k.Edges {
		if !types.IsExclusive(edge.RelationshipType) {
			continue
		}
		if targetsByType[edge.RelationshipType] == nil {
			targetsByType[edge.RelationshipType] = make(map[string]struct{})
		}
		targetsByType[edge.RelationshipType][edge.TargetEntityID] = struct{}{}
		strengthByType[edge.RelationshipType] += edge.AvgStrength
		countByType[edge.RelationshipType]++
	}

	var conflicts []EntityConflict
	for relType, targets := range targetsByType {
		if len(targets) < 2 {
			continue
		}

		names := make([]string, 0, len(targets))
		for t := range targets {
			names = append(names, t)
		}
		sort.Strings(names)

		meanStrength := strengthByType[relType] / float64(countByType[relType])
		conflicts = append(conflicts, EntityConflict{
			Entity:       k.Entity,
			ConflictType: ConflictRelationship,
			Attribute:    relType,
			Description: fmt.Sprintf("exclusive relationship %q has %d simultaneous targets: %s",
				relType, len(targets), strings.Join(names, ", ")),
			Severity:             severityFromConfidence(meanStrength),
			ResolutionSuggestion: "manual verification needed",
			DetectedAt:           time.Now(),
		})
	}
	return conflicts
}

// severityFromConfidence maps mean confidence onto the categorical scale: a
// well-evidenced conflict is more urgent than a weakly-evidenced one.
func severityFromConfidence(mean float64) ConflictSeverityLevel {
	switch {
	case mean >= 0.9:
		return SeverityCritical
	case mean >= 0.75:
		return SeverityHigh
	case mean >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// resolutionSuggestion prefers the highest-confidence value when it is
// strong, then the most recent value when it is fresh, and otherwise asks
// for manual verification.
func resolutionSuggestion(values []AttributeValue) string {
	if len(values) == 0 {
		return "manual verification needed"
	}

	best := values[0]
	newest := values[0]
	for _, v := range values[1:] {
		if v.Confidence > best.Confidence {
			best = v
		}
		if v.ObservedAt.After(newest.ObservedAt) {
			newest = v
		}
	}

	if best.Confidence > 0.8 {
		return fmt.Sprintf("prefer %q (highest confidence %.2f)", best.Value, best.Confidence)
	}
	if time.Since(newest.ObservedAt) < 7*24*time.Hour {
		return fmt.Sprintf("prefer %q (most recent observation)", newest.Value)
	}
	return "manual verification needed"
}

func meanConfidence(values []AttributeValue) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v.Confidence
	}
	return sum / float64(len(values))
}

// attributeDateFormats are tried in order when parsing date-bearing
// attribute values.
var attributeDateFormats = []string{
	"2006-01-02",
	"January 2, 2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

func parseAttributeDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, format := range attributeDateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
