package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/govflow/govflow/model"
)

// MemoryCollection is an in-memory Collection used in development and tests.
type MemoryCollection[E any, P Record[E]] struct {
	kind  string
	mu    sync.RWMutex
	order []string
	items map[string]E
}

// NewMemoryCollection creates an empty in-memory collection.
func NewMemoryCollection[E any, P Record[E]](kind string) *MemoryCollection[E, P] {
	return &MemoryCollection[E, P]{
		kind:  kind,
		items: make(map[string]E),
	}
}

// Kind names the entity kind.
func (c *MemoryCollection[E, P]) Kind() string { return c.kind }

// List returns copies of all entities in insertion order.
func (c *MemoryCollection[E, P]) List(_ context.Context) ([]E, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]E, 0, len(c.order))
	for _, id := range c.order {
		item := c.items[id]
		result = append(result, P(&item).Clone())
	}
	return result, nil
}

// Get returns a copy of the entity with the given ID.
func (c *MemoryCollection[E, P]) Get(_ context.Context, id string) (E, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[id]
	if !exists {
		var zero E
		return zero, c.notFound(id)
	}
	return P(&item).Clone(), nil
}

// Create stores a copy of item at revision 1.
func (c *MemoryCollection[E, P]) Create(_ context.Context, item E) (E, error) {
	var zero E
	meta := P(&item).Metadata()
	if meta.ID == "" {
		return zero, model.NewValidationError(fmt.Sprintf("%s: id is required", c.kind))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[meta.ID]; exists {
		return zero, model.NewConflictError(
			fmt.Sprintf("%s %q already exists", c.kind, meta.ID),
		)
	}

	meta.Revision = 1
	c.items[meta.ID] = P(&item).Clone()
	c.order = append(c.order, meta.ID)
	return P(&item).Clone(), nil
}

// Update replaces the entity with optimistic locking.
func (c *MemoryCollection[E, P]) Update(_ context.Context, item E) (E, error) {
	var zero E
	meta := P(&item).Metadata()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.items[meta.ID]
	if !exists {
		return zero, c.notFound(meta.ID)
	}

	current := P(&existing).Metadata().Revision
	if current != meta.Revision {
		return zero, model.NewConflictError(
			fmt.Sprintf("%s %q revision conflict (expected %d, got %d)", c.kind, meta.ID, meta.Revision, current),
		)
	}

	meta.Revision = current + 1
	c.items[meta.ID] = P(&item).Clone()
	return P(&item).Clone(), nil
}

// Delete removes the entity.
func (c *MemoryCollection[E, P]) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[id]; !exists {
		return c.notFound(id)
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored entities. For testing.
func (c *MemoryCollection[E, P]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCollection[E, P]) notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("%s %q not found", c.kind, id))
}

// NewMemoryStores returns a Stores backed entirely by memory.
func NewMemoryStores() *Stores {
	return &Stores{
		Offices:       NewMemoryCollection[model.Office](KindOffices),
		Sections:      NewMemoryCollection[model.Section](KindSections),
		Subjects:      NewMemoryCollection[model.Subject](KindSubjects),
		Users:         NewMemoryCollection[model.User](KindUsers),
		Templates:     NewMemoryCollection[model.Template](KindTemplates),
		Notifications: NewMemoryCollection[model.Notification](KindNotifications),
		Tasks:         NewMemoryCollection[model.Task](KindTasks),
		Definitions:   NewMemoryCollection[model.WorkflowDefinition](KindDefinitions),
		Requests:      NewMemoryCollection[model.ServiceRequest](KindRequests),
		driver:        "memory",
	}
}
