package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// Catalog bundles the CRUD services. Validation and delete guards consult
// the other collections in Stores.
type Catalog struct {
	Offices       *Service[model.Office, *model.Office]
	Sections      *Service[model.Section, *model.Section]
	Subjects      *Service[model.Subject, *model.Subject]
	Users         *Service[model.User, *model.User]
	Templates     *Service[model.Template, *model.Template]
	Notifications *Service[model.Notification, *model.Notification]
	Tasks         *Service[model.Task, *model.Task]
}

// New builds the catalog services over stores.
func New(stores *store.Stores) *Catalog {
	r := refs{stores: stores}
	return &Catalog{
		Offices: NewService[model.Office](stores.Offices, Options[model.Office]{
			Normalize: func(o *model.Office) {
				o.Name = strings.TrimSpace(o.Name)
				o.Code = strings.TrimSpace(o.Code)
			},
			Validate: func(_ context.Context, o *model.Office) error {
				return required(field{"name", o.Name})
			},
			BeforeDelete: r.officeUnreferenced,
		}),
		Sections: NewService[model.Section](stores.Sections, Options[model.Section]{
			Normalize: func(s *model.Section) { s.Name = strings.TrimSpace(s.Name) },
			Validate: func(ctx context.Context, s *model.Section) error {
				if err := required(field{"name", s.Name}, field{"officeId", s.OfficeID}); err != nil {
					return err
				}
				return exists(ctx, "officeId", s.OfficeID, stores.Offices)
			},
			BeforeDelete: r.sectionUnreferenced,
		}),
		Subjects: NewService[model.Subject](stores.Subjects, Options[model.Subject]{
			Normalize: func(s *model.Subject) { s.Name = strings.TrimSpace(s.Name) },
			Validate: func(ctx context.Context, s *model.Subject) error {
				if err := required(field{"name", s.Name}); err != nil {
					return err
				}
				return exists(ctx, "sectionId", s.SectionID, stores.Sections)
			},
			BeforeDelete: r.subjectUnreferenced,
		}),
		Users: NewService[model.User](stores.Users, Options[model.User]{
			Normalize: func(u *model.User) {
				u.Name = strings.TrimSpace(u.Name)
				u.Email = strings.TrimSpace(u.Email)
			},
			Validate: r.validateUser,
			Protect: func(stored model.User, patched *model.User) {
				patched.PasswordHash = stored.PasswordHash
				patched.Role = stored.Role
			},
			BeforeDelete: r.userUnreferenced,
		}),
		Templates: NewService[model.Template](stores.Templates, Options[model.Template]{
			Normalize: func(t *model.Template) { t.Name = strings.TrimSpace(t.Name) },
			Validate: func(_ context.Context, t *model.Template) error {
				return required(field{"name", t.Name})
			},
		}),
		Notifications: NewService[model.Notification](stores.Notifications, Options[model.Notification]{
			Normalize: func(n *model.Notification) {
				if n.Type == "" {
					n.Type = "info"
				}
			},
			Validate: func(ctx context.Context, n *model.Notification) error {
				if err := required(field{"userId", n.UserID}, field{"title", n.Title}); err != nil {
					return err
				}
				return exists(ctx, "userId", n.UserID, stores.Users)
			},
		}),
		Tasks: NewService[model.Task](stores.Tasks, Options[model.Task]{
			Normalize: func(t *model.Task) {
				t.Title = strings.TrimSpace(t.Title)
				if t.Status == "" {
					t.Status = model.TaskOpen
				}
			},
			Validate: r.validateTask,
		}),
	}
}

// MarkNotificationRead flags a notification as read.
func (c *Catalog) MarkNotificationRead(ctx context.Context, id string) (model.Notification, error) {
	return c.Notifications.Update(ctx, id, []byte(`{"read":true}`))
}

type field struct {
	name, value string
}

func required(fields ...field) error {
	var details []model.FieldError
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			details = append(details, model.FieldError{
				Field:   f.name,
				Code:    model.CodeRequired,
				Message: f.name + " is required",
			})
		}
	}
	if len(details) > 0 {
		return model.NewFieldValidationError(details)
	}
	return nil
}

// exists checks that id names an entity in coll. An empty id passes.
func exists[E any](ctx context.Context, fieldName, id string, coll store.Collection[E]) error {
	if id == "" {
		return nil
	}
	_, err := coll.Get(ctx, id)
	if model.IsKind(err, model.ErrNotFound) {
		return model.NewFieldValidationError([]model.FieldError{{
			Field:   fieldName,
			Code:    model.CodeReference,
			Message: fmt.Sprintf("%s %q does not exist", fieldName, id),
		}})
	}
	return err
}

func referenced(kind, id, by string) error {
	return model.NewConflictError(fmt.Sprintf("%s %q is referenced by %s", kind, id, by))
}

type refs struct {
	stores *store.Stores
}

func (r refs) officeUnreferenced(ctx context.Context, o model.Office) error {
	sections, err := r.stores.Sections.List(ctx)
	if err != nil {
		return err
	}
	if store.Any(sections, func(s model.Section) bool { return s.OfficeID == o.ID }) {
		return referenced("office", o.ID, "a section")
	}
	if hit, err := r.stepReferences(ctx, func(st model.WorkflowStepDefinition) bool { return st.OfficeID == o.ID }); err != nil || hit {
		return orReferenced(err, "office", o.ID, "a workflow step")
	}
	users, err := r.stores.Users.List(ctx)
	if err != nil {
		return err
	}
	if store.Any(users, func(u model.User) bool { return u.OfficeID == o.ID }) {
		return referenced("office", o.ID, "a user")
	}
	return nil
}

func (r refs) sectionUnreferenced(ctx context.Context, s model.Section) error {
	subjects, err := r.stores.Subjects.List(ctx)
	if err != nil {
		return err
	}
	if store.Any(subjects, func(sub model.Subject) bool { return sub.SectionID == s.ID }) {
		return referenced("section", s.ID, "a subject")
	}
	if hit, err := r.stepReferences(ctx, func(st model.WorkflowStepDefinition) bool { return st.SectionID == s.ID }); err != nil || hit {
		return orReferenced(err, "section", s.ID, "a workflow step")
	}
	users, err := r.stores.Users.List(ctx)
	if err != nil {
		return err
	}
	if store.Any(users, func(u model.User) bool { return u.SectionID == s.ID }) {
		return referenced("section", s.ID, "a user")
	}
	return nil
}

func (r refs) subjectUnreferenced(ctx context.Context, s model.Subject) error {
	defs, err := r.stores.Definitions.List(ctx)
	if err != nil {
		return err
	}
	if store.Any(defs, func(d model.WorkflowDefinition) bool { return d.SubjectID == s.ID }) {
		return referenced("subject", s.ID, "a workflow definition")
	}
	return nil
}

func (r refs) userUnreferenced(ctx context.Context, u model.User) error {
	reqs, err := r.stores.Requests.List(ctx)
	if err != nil {
		return err
	}
	if store.Any(reqs, func(sr model.ServiceRequest) bool {
		return sr.AssignedToUserID == u.ID && !sr.Status.Terminal()
	}) {
		return referenced("user", u.ID, "an open service request")
	}
	return nil
}

func (r refs) stepReferences(ctx context.Context, match func(model.WorkflowStepDefinition) bool) (bool, error) {
	defs, err := r.stores.Definitions.List(ctx)
	if err != nil {
		return false, err
	}
	return store.Any(defs, func(d model.WorkflowDefinition) bool {
		return store.Any(d.Steps, match)
	}), nil
}

func orReferenced(err error, kind, id, by string) error {
	if err != nil {
		return err
	}
	return referenced(kind, id, by)
}

func (r refs) validateUser(ctx context.Context, u *model.User) error {
	var details []model.FieldError
	if u.Name == "" {
		details = append(details, model.FieldError{Field: "name", Code: model.CodeRequired, Message: "name is required"})
	}
	if u.Email == "" {
		details = append(details, model.FieldError{Field: "email", Code: model.CodeRequired, Message: "email is required"})
	}
	if !u.Role.Valid() {
		details = append(details, model.FieldError{Field: "role", Code: model.CodeInvalidValue, Message: "role is not recognised"})
	}
	if len(details) > 0 {
		return model.NewFieldValidationError(details)
	}

	users, err := r.stores.Users.List(ctx)
	if err != nil {
		return err
	}
	if store.Any(users, func(other model.User) bool {
		return other.ID != u.ID && (strings.EqualFold(other.Email, u.Email) ||
			(u.Username != "" && other.Username == u.Username))
	}) {
		return model.NewValidationError("User already exists")
	}

	if err := exists(ctx, "officeId", u.OfficeID, r.stores.Offices); err != nil {
		return err
	}
	return exists(ctx, "sectionId", u.SectionID, r.stores.Sections)
}

var taskStatuses = map[string]bool{
	model.TaskOpen:       true,
	model.TaskInProgress: true,
	model.TaskDone:       true,
}

func (r refs) validateTask(ctx context.Context, t *model.Task) error {
	if err := required(field{"title", t.Title}); err != nil {
		return err
	}
	if !taskStatuses[t.Status] {
		return model.NewFieldValidationError([]model.FieldError{{
			Field:   "status",
			Code:    model.CodeInvalidValue,
			Message: fmt.Sprintf("status must be one of %s, %s, %s", model.TaskOpen, model.TaskInProgress, model.TaskDone),
		}})
	}
	if err := exists(ctx, "assignedToUserId", t.AssignedToUserID, r.stores.Users); err != nil {
		return err
	}
	if err := exists(ctx, "officeId", t.OfficeID, r.stores.Offices); err != nil {
		return err
	}
	return exists(ctx, "serviceRequestId", t.ServiceRequestID, r.stores.Requests)
}
