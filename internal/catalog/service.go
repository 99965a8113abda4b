// Package catalog implements the CRUD services for the reference data
// around workflows: offices, sections, subjects, users, templates,
// notifications and tasks.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// Options customises a Service for one resource.
type Options[E any] struct {
	// Normalize fills defaults and trims input before validation.
	Normalize func(item *E)

	// Validate rejects invalid entities, usually with a field error.
	Validate func(ctx context.Context, item *E) error

	// OnCreate stamps creation-only fields, such as the creator, before
	// normalisation.
	OnCreate func(ctx context.Context, item *E)

	// Protect restores fields callers may not change through a patch.
	Protect func(stored E, patched *E)

	// BeforeDelete can refuse a delete, e.g. while the entity is referenced.
	BeforeDelete func(ctx context.Context, item E) error
}

// Service is a generic CRUD service over one collection.
type Service[E any, P store.Record[E]] struct {
	coll store.Collection[E]
	opts Options[E]
	now  func() time.Time
}

// NewService creates a CRUD service over coll.
func NewService[E any, P store.Record[E]](coll store.Collection[E], opts Options[E]) *Service[E, P] {
	return &Service[E, P]{coll: coll, opts: opts, now: time.Now}
}

// Kind names the resource.
func (s *Service[E, P]) Kind() string { return s.coll.Kind() }

// List returns every entity.
func (s *Service[E, P]) List(ctx context.Context) ([]E, error) {
	return s.coll.List(ctx)
}

// Get returns one entity or NOT_FOUND.
func (s *Service[E, P]) Get(ctx context.Context, id string) (E, error) {
	return s.coll.Get(ctx, id)
}

// Create stores item, assigning an ID when absent and stamping both
// timestamps.
func (s *Service[E, P]) Create(ctx context.Context, item E) (E, error) {
	var zero E
	meta := P(&item).Metadata()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	now := s.now().UTC()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	if s.opts.OnCreate != nil {
		s.opts.OnCreate(ctx, &item)
	}

	if err := s.prepare(ctx, &item); err != nil {
		return zero, err
	}
	return s.coll.Create(ctx, item)
}

// Update merges a JSON object patch over the stored entity. Fields present
// in the patch replace stored values, absent fields are kept. id and
// createdAt cannot change; a revision in the patch must match the stored
// revision.
func (s *Service[E, P]) Update(ctx context.Context, id string, patch []byte) (E, error) {
	var zero E
	stored, err := s.coll.Get(ctx, id)
	if err != nil {
		return zero, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil || fields == nil {
		return zero, model.NewValidationError("Request body must be a JSON object")
	}

	storedMeta := *P(&stored).Metadata()
	if raw, ok := fields["revision"]; ok {
		var rev int
		if err := json.Unmarshal(raw, &rev); err != nil {
			return zero, model.NewFieldValidationError([]model.FieldError{
				{Field: "revision", Code: model.CodeInvalidType, Message: "revision must be an integer"},
			})
		}
		if rev != storedMeta.Revision {
			return zero, model.NewConflictError(fmt.Sprintf(
				"%s %q revision conflict (expected %d, got %d)", s.coll.Kind(), id, rev, storedMeta.Revision))
		}
	}

	merged, err := mergeTopLevel(stored, fields)
	if err != nil {
		return zero, err
	}

	meta := P(&merged).Metadata()
	meta.ID = storedMeta.ID
	meta.Revision = storedMeta.Revision
	meta.CreatedAt = storedMeta.CreatedAt
	meta.UpdatedAt = s.now().UTC()

	if s.opts.Protect != nil {
		s.opts.Protect(stored, &merged)
	}
	if err := s.prepare(ctx, &merged); err != nil {
		return zero, err
	}
	return s.coll.Update(ctx, merged)
}

// Delete removes an entity after the resource's delete guard allows it.
func (s *Service[E, P]) Delete(ctx context.Context, id string) error {
	item, err := s.coll.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.opts.BeforeDelete != nil {
		if err := s.opts.BeforeDelete(ctx, item); err != nil {
			return err
		}
	}
	return s.coll.Delete(ctx, id)
}

func (s *Service[E, P]) prepare(ctx context.Context, item *E) error {
	if s.opts.Normalize != nil {
		s.opts.Normalize(item)
	}
	if s.opts.Validate != nil {
		return s.opts.Validate(ctx, item)
	}
	return nil
}

// mergeTopLevel overlays patch keys onto the JSON form of stored and decodes
// the result into a fresh value, so a patched slice or object replaces the
// stored one wholesale.
func mergeTopLevel[E any](stored E, patch map[string]json.RawMessage) (E, error) {
	var zero E
	raw, err := json.Marshal(stored)
	if err != nil {
		return zero, fmt.Errorf("catalog: encoding stored entity: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return zero, fmt.Errorf("catalog: decoding stored entity: %w", err)
	}
	for k, v := range patch {
		fields[k] = v
	}
	raw, err = json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("catalog: encoding merged entity: %w", err)
	}

	var merged E
	if err := json.Unmarshal(raw, &merged); err != nil {
		return zero, model.NewValidationError(fmt.Sprintf("Invalid body: %v", err))
	}
	return merged, nil
}
