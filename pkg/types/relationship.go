package types

import "time"

// Relationship represents a directed connection between two entities in the
// relationship graph maintained by the upstream extraction pipeline. The
// analytics core reads aggregated edges only (see storage.RelationshipEdge);
// the full record is defined here for the write paths and importers.
type Relationship struct {
	ID     string `json:"id"`
	FromID string `json:"from_id"` // Source entity ID
	ToID   string `json:"to_id"`   // Target entity ID
	Type   string `json:"type"`    // Relationship type (e.g., "works_for", "uses")

	// Strength scores how well-evidenced the relationship is (0.0-1.0).
	Strength  float64   `json:"strength,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Exclusive relationship types may link a source entity to at most one
// target at a time. Multiple simultaneous targets are a conflict signal.
const (
	RelWorksFor  = "works_for"
	RelLocatedIn = "located_in"
	RelOwnedBy   = "owned_by"
	RelReportsTo = "reports_to"
)

// IsExclusive reports whether a relationship type admits only one target.
func IsExclusive(relType string) bool {
	switch relType {
	case RelWorksFor, RelLocatedIn, RelOwnedBy, RelReportsTo:
		return true
	}
	return false
}
