package workflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/govflow/govflow/internal/catalog"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// Definitions is the CRUD service for workflow definitions. It validates
// every write and refuses changes that would strand in-flight requests.
type Definitions struct {
	*catalog.Service[model.WorkflowDefinition, *model.WorkflowDefinition]
	stores *store.Stores
}

// NewDefinitions creates the definition service.
func NewDefinitions(stores *store.Stores) *Definitions {
	d := &Definitions{stores: stores}
	validator := NewDefinitionValidator(stores)
	d.Service = catalog.NewService[model.WorkflowDefinition](stores.Definitions, catalog.Options[model.WorkflowDefinition]{
		Normalize: NormalizeDefinition,
		OnCreate: func(ctx context.Context, def *model.WorkflowDefinition) {
			if rctx := model.RequestContextFrom(ctx); rctx != nil {
				def.CreatedBy = rctx.UserID
			}
		},
		Validate: func(ctx context.Context, def *model.WorkflowDefinition) error {
			if err := validator.Validate(ctx, def); err != nil {
				return err
			}
			return d.keepsInFlightSteps(ctx, def)
		},
		Protect: func(stored model.WorkflowDefinition, patched *model.WorkflowDefinition) {
			patched.CreatedBy = stored.CreatedBy
		},
		BeforeDelete: d.unreferenced,
	})
	return d
}

// ListForSubject returns definitions bound to subjectID, or all of them when
// subjectID is empty.
func (d *Definitions) ListForSubject(ctx context.Context, subjectID string) ([]model.WorkflowDefinition, error) {
	defs, err := d.List(ctx)
	if err != nil || subjectID == "" {
		return defs, err
	}
	return store.Filter(defs, func(def model.WorkflowDefinition) bool { return def.SubjectID == subjectID }), nil
}

// ActiveFor returns the active definition for subjectID with at least one
// step. When several are active, the most recently updated wins.
func (d *Definitions) ActiveFor(ctx context.Context, subjectID string) (model.WorkflowDefinition, error) {
	defs, err := d.List(ctx)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}

	var best *model.WorkflowDefinition
	for i := range defs {
		def := &defs[i]
		if def.SubjectID != subjectID || !def.IsActive || len(def.Steps) == 0 {
			continue
		}
		if best == nil || def.UpdatedAt.After(best.UpdatedAt) {
			best = def
		}
	}
	if best == nil {
		return model.WorkflowDefinition{}, model.NewFieldValidationError([]model.FieldError{{
			Field:   "serviceRequestData.subjectId",
			Code:    model.CodeReference,
			Message: fmt.Sprintf("subject %q has no active workflow", subjectID),
		}})
	}
	return *best, nil
}

// keepsInFlightSteps rejects an update that would change how an open
// request's history replays. For a request at step i, the ids and approval
// types of steps 0..i+1 are frozen, and a last step stays last. Fields,
// documents and later steps may still change.
func (d *Definitions) keepsInFlightSteps(ctx context.Context, def *model.WorkflowDefinition) error {
	stored, err := d.stores.Definitions.Get(ctx, def.ID)
	if model.IsKind(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	reqs, err := d.openRequests(ctx, def.ID)
	if err != nil {
		return err
	}
	for _, r := range reqs {
		if err := frozenPrefix(stored, *def, r); err != nil {
			return err
		}
	}
	return nil
}

func frozenPrefix(stored, updated model.WorkflowDefinition, r model.ServiceRequest) error {
	cur := stored.StepIndex(r.CurrentStepID)
	if cur < 0 {
		// The request is already stranded; leave it to the engine to report.
		return nil
	}
	if updated.StepIndex(r.CurrentStepID) < 0 {
		return model.NewConflictError(fmt.Sprintf(
			"step %q is the current step of open request %q and cannot be removed", r.CurrentStepID, r.ID))
	}
	for i := 0; i <= cur+1; i++ {
		switch {
		case i >= len(stored.Steps):
			if i < len(updated.Steps) {
				return model.NewConflictError(fmt.Sprintf(
					"open request %q is at the last step %q; steps cannot be appended after it", r.ID, r.CurrentStepID))
			}
		case i >= len(updated.Steps),
			updated.Steps[i].ID != stored.Steps[i].ID,
			updated.Steps[i].ApprovalType != stored.Steps[i].ApprovalType:
			return model.NewConflictError(fmt.Sprintf(
				"step %q (position %d) is part of the path of open request %q; its position and approval type cannot change",
				stored.Steps[i].ID, i, r.ID))
		}
	}
	return nil
}

func (d *Definitions) unreferenced(ctx context.Context, def model.WorkflowDefinition) error {
	reqs, err := d.openRequests(ctx, def.ID)
	if err != nil {
		return err
	}
	if len(reqs) > 0 {
		return model.NewConflictError(fmt.Sprintf(
			"workflow definition %q is used by %d open service request(s)", def.ID, len(reqs)))
	}
	return nil
}

func (d *Definitions) openRequests(ctx context.Context, defID string) ([]model.ServiceRequest, error) {
	reqs, err := d.stores.Requests.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(reqs, func(r model.ServiceRequest) bool {
		return r.WorkflowDefinitionID != defID || r.Status.Terminal()
	}), nil
}
