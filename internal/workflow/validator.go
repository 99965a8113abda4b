package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// NormalizeDefinition trims names, generates missing step and field IDs and
// defaults empty approval types to None. Step order is never changed.
func NormalizeDefinition(def *model.WorkflowDefinition) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Steps == nil {
		def.Steps = []model.WorkflowStepDefinition{}
	}
	for i := range def.Steps {
		st := &def.Steps[i]
		st.Name = strings.TrimSpace(st.Name)
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		if st.ApprovalType == "" {
			st.ApprovalType = model.ApprovalNone
		}
		if st.FormFields == nil {
			st.FormFields = []model.FieldDefinition{}
		}
		for j := range st.FormFields {
			f := &st.FormFields[j]
			f.Name = strings.TrimSpace(f.Name)
			if f.ID == "" {
				f.ID = uuid.NewString()
			}
		}
	}
}

// DefinitionValidator checks workflow definitions structurally and against
// the offices, sections and subjects they reference.
type DefinitionValidator struct {
	stores *store.Stores
}

// NewDefinitionValidator creates a validator over stores.
func NewDefinitionValidator(stores *store.Stores) *DefinitionValidator {
	return &DefinitionValidator{stores: stores}
}

// Validate returns a VALIDATION_FAILURE listing every problem in def, or nil.
func (v *DefinitionValidator) Validate(ctx context.Context, def *model.WorkflowDefinition) error {
	errs := ValidateStructure(*def)

	refErrs, err := v.validateReferences(ctx, *def)
	if err != nil {
		return err
	}
	errs = append(errs, refErrs...)

	if len(errs) > 0 {
		return model.NewFieldValidationError(errs)
	}
	return nil
}

// ValidateStructure checks a definition without looking anything up.
func ValidateStructure(def model.WorkflowDefinition) []model.FieldError {
	var errs []model.FieldError
	add := func(path, code, msg string) {
		errs = append(errs, model.FieldError{Field: path, Code: code, Message: msg})
	}

	if def.Name == "" {
		add("name", model.CodeRequired, "name is required")
	}
	if def.SubjectID == "" {
		add("subjectId", model.CodeRequired, "subjectId is required")
	}
	if def.IsActive && len(def.Steps) == 0 {
		add("steps", model.CodeRequired, "an active workflow needs at least one step")
	}

	stepIDs := make(map[string]bool, len(def.Steps))
	for i, st := range def.Steps {
		sp := fmt.Sprintf("steps[%d]", i)
		if stepIDs[st.ID] {
			add(sp+".id", model.CodeDuplicate, fmt.Sprintf("duplicate step id %q", st.ID))
		}
		stepIDs[st.ID] = true

		if st.Name == "" {
			add(sp+".name", model.CodeRequired, "step name is required")
		}
		if !st.ApprovalType.Valid() {
			add(sp+".approvalType", model.CodeInvalidValue,
				fmt.Sprintf("approvalType must be one of %s, %s, %s", model.ApprovalNone, model.ApprovalSectionHead, model.ApprovalDepartmentHead))
		}

		names := make(map[string]bool, len(st.FormFields))
		for j, f := range st.FormFields {
			fp := fmt.Sprintf("%s.formFields[%d]", sp, j)
			switch {
			case f.Name == "":
				add(fp+".name", model.CodeRequired, "field name is required")
			case names[f.Name]:
				add(fp+".name", model.CodeDuplicate, fmt.Sprintf("duplicate field name %q", f.Name))
			}
			names[f.Name] = true

			if !f.Type.Valid() {
				add(fp+".type", model.CodeInvalidValue, fmt.Sprintf("unknown field type %q", f.Type))
			}
			if (f.Type == model.FieldSelect || f.Type == model.FieldRadio) && len(f.Options) == 0 {
				add(fp+".options", model.CodeRequired, fmt.Sprintf("%s fields need options", f.Type))
			}
		}
	}
	return errs
}

func (v *DefinitionValidator) validateReferences(ctx context.Context, def model.WorkflowDefinition) ([]model.FieldError, error) {
	var errs []model.FieldError
	missing := func(path, kind, id string) {
		errs = append(errs, model.FieldError{
			Field:   path,
			Code:    model.CodeReference,
			Message: fmt.Sprintf("%s %q does not exist", kind, id),
		})
	}

	if def.SubjectID != "" {
		ok, err := found(ctx, v.stores.Subjects, def.SubjectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing("subjectId", "subject", def.SubjectID)
		}
	}
	for i, st := range def.Steps {
		if st.OfficeID != "" {
			ok, err := found(ctx, v.stores.Offices, st.OfficeID)
			if err != nil {
				return nil, err
			}
			if !ok {
				missing(fmt.Sprintf("steps[%d].officeId", i), "office", st.OfficeID)
			}
		}
		if st.SectionID != "" {
			ok, err := found(ctx, v.stores.Sections, st.SectionID)
			if err != nil {
				return nil, err
			}
			if !ok {
				missing(fmt.Sprintf("steps[%d].sectionId", i), "section", st.SectionID)
			}
		}
	}
	return errs, nil
}

func found[E any](ctx context.Context, coll store.Collection[E], id string) (bool, error) {
	_, err := coll.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case model.IsKind(err, model.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
