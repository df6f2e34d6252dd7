// Package types defines the core data structures for the Convoscope
// conversational-memory analytics system. These types represent
// conversations, messages, entities, and entity mentions as read by the
// context intelligence core. The core never creates entities; the upstream
// extraction pipeline owns their lifecycle.
package types

// EntityType classifies an entity extracted from conversation text.
type EntityType string

// Entity type constants.
const (
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeProduct      EntityType = "product"
	EntityTypeConcept      EntityType = "concept"
	EntityTypeLocation     EntityType = "location"
	EntityTypeTechnical    EntityType = "technical"
	EntityTypeEvent        EntityType = "event"
	EntityTypeDecision     EntityType = "decision"
)

// MessageRole identifies the author side of a message.
type MessageRole string

// Message role constants.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ValidEntityTypes returns the set of recognized entity types.
func ValidEntityTypes() []EntityType {
	return []EntityType{
		EntityTypePerson,
		EntityTypeOrganization,
		EntityTypeProduct,
		EntityTypeConcept,
		EntityTypeLocation,
		EntityTypeTechnical,
		EntityTypeEvent,
		EntityTypeDecision,
	}
}
