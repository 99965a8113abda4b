// Package store persists GovFlow entities. Every implementation hands out
// deep copies so callers can never alias stored state, and every update is
// checked against the stored revision.
package store

import (
	"context"

	"github.com/govflow/govflow/model"
)

// Record constrains the pointer type of a stored entity: it exposes the
// embedded Meta and its value type can deep-copy itself.
type Record[E any] interface {
	*E
	Metadata() *model.Meta
	Clone() E
}

// Collection persists one kind of entity.
type Collection[E any] interface {
	// Kind names the entity kind, e.g. "subjects".
	Kind() string

	// List returns all entities in insertion order.
	List(ctx context.Context) ([]E, error)

	// Get returns the entity with the given ID or NOT_FOUND.
	Get(ctx context.Context, id string) (E, error)

	// Create stores a new entity at revision 1. Returns CONFLICT if the ID
	// is already taken.
	Create(ctx context.Context, item E) (E, error)

	// Update replaces an entity. The entity's revision must equal the stored
	// revision; on success the stored revision is incremented. Returns
	// NOT_FOUND or CONFLICT.
	Update(ctx context.Context, item E) (E, error)

	// Delete removes the entity or returns NOT_FOUND.
	Delete(ctx context.Context, id string) error
}

// Entity kinds.
const (
	KindOffices       = "offices"
	KindSections      = "sections"
	KindSubjects      = "subjects"
	KindUsers         = "users"
	KindTemplates     = "templates"
	KindNotifications = "notifications"
	KindTasks         = "tasks"
	KindDefinitions   = "workflow-definitions"
	KindRequests      = "service-requests"
)

// Stores bundles every collection used by the application.
type Stores struct {
	Offices       Collection[model.Office]
	Sections      Collection[model.Section]
	Subjects      Collection[model.Subject]
	Users         Collection[model.User]
	Templates     Collection[model.Template]
	Notifications Collection[model.Notification]
	Tasks         Collection[model.Task]
	Definitions   Collection[model.WorkflowDefinition]
	Requests      Collection[model.ServiceRequest]

	driver string
	health func(ctx context.Context) error
	close  func()
}

// Driver names the backing storage, "memory" or "postgres".
func (s *Stores) Driver() string { return s.driver }

// HealthCheck verifies the backing storage is reachable.
func (s *Stores) HealthCheck(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}

// Close releases the backing storage.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// Filter returns the items for which keep returns true.
func Filter[E any](items []E, keep func(E) bool) []E {
	out := make([]E, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Any reports whether any item matches.
func Any[E any](items []E, match func(E) bool) bool {
	for _, it := range items {
		if match(it) {
			return true
		}
	}
	return false
}
