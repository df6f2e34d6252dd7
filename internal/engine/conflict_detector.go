package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/convoscope/convoscope/internal/storage"
	"github.com/convoscope/convoscope/pkg/types"
)

// ConflictScanOptions selects which entities a context-level conflict scan
// covers. Priority: explicit EntityIDs, then the entities of ConversationID,
// then the globally most-mentioned entities.
type ConflictScanOptions struct {
	// EntityIDs restricts the scan to specific entities.
	EntityIDs []string

	// ConversationID scans the entities of one conversation.
	ConversationID string

	// MaxEntities bounds the most-mentioned fallback (default: 50).
	MaxEntities int
}

func (o ConflictScanOptions) withDefaults() ConflictScanOptions {
	if o.MaxEntities <= 0 {
		o.MaxEntities = 50
	}
	return o
}

// Conflict scan tuning constants.
const (
	// conflictMentionLimit caps mentions fetched per entity.
	conflictMentionLimit = 100

	// conflictMinClaimConfidence filters weak claims out of the distinct
	// value comparison.
	conflictMinClaimConfidence = 0.7

	// conflictRecencyWindowDays is the window in which fresh conflicts get
	// a severity bonus.
	conflictRecencyWindowDays = 30
)

// ConflictDetector is the context-level conflict tier: it extracts typed
// claims about an entity across conversations and flags divergent claims of
// the same type. It is a best-effort heuristic signal, not a proof system.
//
// Callers combining this with the entity-level tier
// (KnowledgeSynthesizer.DetectConflictingStatements) must de-duplicate by
// entity and claim type themselves; no automatic dedup is performed.
type ConflictDetector struct {
	store     storage.ConversationStore
	extractor ClaimExtractor
}

// NewConflictDetector creates a context-level conflict detector.
func NewConflictDetector(store storage.ConversationStore, extractor ClaimExtractor) *ConflictDetector {
	return &ConflictDetector{store: store, extractor: extractor}
}

// FindConflictingInformation scans candidate entities for claim-type values
// that diverge across conversations. Entities with fewer than two mentions
// are skipped: too small a sample to conflict.
func (d *ConflictDetector) FindConflictingInformation(ctx context.Context, opts ConflictScanOptions) ([]ConflictingInformation, error) {
	opts = opts.withDefaults()

	entities, err := d.candidateEntities(ctx, opts)
	if err != nil {
		return nil, err
	}

	var conflicts []ConflictingInformation
	for i := range entities {
		found, err := d.scanEntity(ctx, entities[i])
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, found...)
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].ConflictSeverity > conflicts[j].ConflictSeverity
	})
	return conflicts, nil
}

// candidateEntities resolves the scan target set per the option priority.
// An explicit ID that no longer resolves is skipped, not fatal.
func (d *ConflictDetector) candidateEntities(ctx context.Context, opts ConflictScanOptions) ([]types.Entity, error) {
	if len(opts.EntityIDs) > 0 {
		entities := make([]types.Entity, 0, len(opts.EntityIDs))
		for _, id := range opts.EntityIDs {
			entity, err := d.store.GetEntityByID(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("resolve entity %s: %w", id, err)
			}
			entities = append(entities, *entity)
		}
		return entities, nil
	}

	if opts.ConversationID != "" {
		entities, err := d.store.GetConversationEntities(ctx, opts.ConversationID, maxCurrentEntities)
		if err != nil {
			return nil, fmt.Errorf("fetch conversation entities: %w", err)
		}
		return entities, nil
	}

	entities, err := d.store.GetMostMentionedEntities(ctx, opts.MaxEntities)
	if err != nil {
		return nil, fmt.Errorf("fetch most mentioned entities: %w", err)
	}
	return entities, nil
}

// claimObservation is one extracted claim plus its mention timestamp.
type claimObservation struct {
	claim    Claim
	statedAt time.Time
}

// scanEntity extracts claims from one entity's mention history and emits a
// conflict for every claim type carrying at least two distinct values.
func (d *ConflictDetector) scanEntity(ctx context.Context, entity types.Entity) ([]ConflictingInformation, error) {
	mentions, err := d.store.GetEntityMentions(ctx, entity.ID, conflictMentionLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch mentions for entity %s: %w", entity.ID, err)
	}
	if len(mentions) < 2 {
		return nil, nil
	}

	byType := make(map[string][]claimObservation)
	for i := range mentions {
		for _, claim := range d.extractor.ExtractClaims(mentions[i]) {
			byType[claim.ClaimType] = append(byType[claim.ClaimType], claimObservation{
				claim:    claim,
				statedAt: mentions[i].CreatedAt,
			})
		}
	}

	var conflicts []ConflictingInformation
	for claimType, observations := range byType {
		if conflict, ok := buildConflict(entity, claimType, observations); ok {
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts, nil
}

// buildConflict checks one claim-type group for divergent values and scores
// the resulting conflict.
func buildConflict(entity types.Entity, claimType string, observations []claimObservation) (ConflictingInformation, bool) {
	// Highest-confidence observation per distinct lowercase value.
	byValue := make(map[string]claimObservation)
	messages := make(map[string]struct{})
	confidenceSum := 0.0
	counted := 0
	var newest time.Time

	for _, obs := range observations {
		if obs.claim.Confidence < conflictMinClaimConfidence {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(obs.claim.Value))
		if key == "" {
			continue
		}

		best, seen := byValue[key]
		if !seen || obs.claim.Confidence > best.claim.Confidence ||
			(obs.claim.Confidence == best.claim.Confidence && obs.statedAt.After(best.statedAt)) {
			byValue[key] = obs
		}

		messages[obs.claim.MessageID] = struct{}{}
		confidenceSum += obs.claim.Confidence
		counted++
		if obs.statedAt.After(newest) {
			newest = obs.statedAt
		}
	}

	if len(byValue) < 2 {
		return ConflictingInformation{}, false
	}

	avgConfidence := confidenceSum / float64(counted)
	daysSinceNewest := time.Since(newest).Hours() / 24
	if daysSinceNewest < 0 {
		daysSinceNewest = 0
	}

	severity := 0.3 +
		minFloat(0.3, 0.1*float64(len(messages))) +
		0.2*avgConfidence +
		0.2*maxFloat(0, (conflictRecencyWindowDays-daysSinceNewest)/conflictRecencyWindowDays)

	statements := make([]ConflictingStatement, 0, len(byValue))
	for _, obs := range byValue {
		statements = append(statements, ConflictingStatement{
			Value:          obs.claim.Value,
			MessageID:      obs.claim.MessageID,
			ConversationID: obs.claim.ConversationID,
			Confidence:     obs.claim.Confidence,
			StatedAt:       obs.statedAt,
		})
	}
	sort.Slice(statements, func(i, j int) bool {
		return statements[i].StatedAt.After(statements[j].StatedAt)
	})

	return ConflictingInformation{
		Entity:                entity,
		ConflictType:          conflictTypeForClaim(claimType),
		ClaimType:             claimType,
		ConflictingStatements: statements,
		ConflictSeverity:      clamp01(severity),
		SuggestedResolution:   fmt.Sprintf("verify which value is current; most recent statement: %q", statements[0].Value),
		DetectedAt:            time.Now(),
	}, true
}

// conflictTypeForClaim maps claim types onto conflict categories.
// Employment claims describe an exclusive relationship; everything else is a
// property of the entity.
func conflictTypeForClaim(claimType string) string {
	if claimType == ClaimTypeEmployment {
		return ConflictRelationship
	}
	return ConflictPropertyContradiction
}
