package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

func setup(t *testing.T) (*Catalog, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	return New(stores), stores
}

func mustCreateOffice(t *testing.T, c *Catalog, id string) model.Office {
	t.Helper()
	o, err := c.Offices.Create(context.Background(), model.Office{Meta: model.Meta{ID: id}, Name: "Colombo DS"})
	require.NoError(t, err)
	return o
}

func TestCreate_assignsIDAndTimestamps(t *testing.T) {
	c, _ := setup(t)

	o, err := c.Offices.Create(context.Background(), model.Office{Name: "  Kandy DS  "})
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, 1, o.Revision)
	assert.Equal(t, "Kandy DS", o.Name)
	assert.False(t, o.CreatedAt.IsZero())
	assert.Equal(t, o.CreatedAt, o.UpdatedAt)
}

func TestCreate_keepsProvidedID(t *testing.T) {
	c, _ := setup(t)
	o := mustCreateOffice(t, c, "office-1")
	assert.Equal(t, "office-1", o.ID)

	_, err := c.Offices.Create(context.Background(), model.Office{Meta: model.Meta{ID: "office-1"}, Name: "dup"})
	assert.True(t, model.IsKind(err, model.ErrConflict))
}

func TestCreate_validation(t *testing.T) {
	c, _ := setup(t)

	_, err := c.Offices.Create(context.Background(), model.Office{})
	require.Error(t, err)
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.ErrValidationFailure, ee.Kind)
	require.Len(t, ee.Details, 1)
	assert.Equal(t, "name", ee.Details[0].Field)
}

func TestCreate_unknownReference(t *testing.T) {
	c, _ := setup(t)

	_, err := c.Sections.Create(context.Background(), model.Section{Name: "Land", OfficeID: "ghost"})
	require.Error(t, err)
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	require.Len(t, ee.Details, 1)
	assert.Equal(t, model.CodeReference, ee.Details[0].Code)
}

func TestUpdate_shallowMerge(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	o, err := c.Offices.Create(ctx, model.Office{Name: "Galle DS", Code: "GAL", Phone: "0912222222"})
	require.NoError(t, err)

	updated, err := c.Offices.Update(ctx, o.ID, []byte(`{"phone":"0913333333","id":"hijack","createdAt":"2001-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, o.ID, updated.ID, "id is immutable")
	assert.Equal(t, o.CreatedAt, updated.CreatedAt, "createdAt is immutable")
	assert.Equal(t, "Galle DS", updated.Name, "absent fields are retained")
	assert.Equal(t, "GAL", updated.Code)
	assert.Equal(t, "0913333333", updated.Phone)
	assert.Equal(t, 2, updated.Revision)
	assert.False(t, updated.UpdatedAt.Before(o.UpdatedAt))
}

func TestUpdate_revisionPrecondition(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	o := mustCreateOffice(t, c, "o1")

	_, err := c.Offices.Update(ctx, o.ID, []byte(`{"name":"A","revision":1}`))
	require.NoError(t, err)

	_, err = c.Offices.Update(ctx, o.ID, []byte(`{"name":"B","revision":1}`))
	assert.True(t, model.IsKind(err, model.ErrConflict), "stale revision must conflict")

	_, err = c.Offices.Update(ctx, o.ID, []byte(`{"revision":"two"}`))
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))
}

func TestUpdate_rejectsNonObject(t *testing.T) {
	c, _ := setup(t)
	o := mustCreateOffice(t, c, "o1")

	for _, body := range []string{`[]`, `null`, `"x"`, `{`} {
		_, err := c.Offices.Update(context.Background(), o.ID, []byte(body))
		assert.True(t, model.IsKind(err, model.ErrValidationFailure), "body %s", body)
	}
}

func TestNotFoundForEveryResource(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	patch := []byte(`{"name":"x"}`)

	type ops struct {
		get    func() error
		update func() error
		delete func() error
	}
	resources := map[string]ops{
		"offices": {
			func() error { _, err := c.Offices.Get(ctx, "nope"); return err },
			func() error { _, err := c.Offices.Update(ctx, "nope", patch); return err },
			func() error { return c.Offices.Delete(ctx, "nope") },
		},
		"sections": {
			func() error { _, err := c.Sections.Get(ctx, "nope"); return err },
			func() error { _, err := c.Sections.Update(ctx, "nope", patch); return err },
			func() error { return c.Sections.Delete(ctx, "nope") },
		},
		"subjects": {
			func() error { _, err := c.Subjects.Get(ctx, "nope"); return err },
			func() error { _, err := c.Subjects.Update(ctx, "nope", patch); return err },
			func() error { return c.Subjects.Delete(ctx, "nope") },
		},
		"users": {
			func() error { _, err := c.Users.Get(ctx, "nope"); return err },
			func() error { _, err := c.Users.Update(ctx, "nope", patch); return err },
			func() error { return c.Users.Delete(ctx, "nope") },
		},
		"templates": {
			func() error { _, err := c.Templates.Get(ctx, "nope"); return err },
			func() error { _, err := c.Templates.Update(ctx, "nope", patch); return err },
			func() error { return c.Templates.Delete(ctx, "nope") },
		},
		"notifications": {
			func() error { _, err := c.Notifications.Get(ctx, "nope"); return err },
			func() error { _, err := c.Notifications.Update(ctx, "nope", patch); return err },
			func() error { return c.Notifications.Delete(ctx, "nope") },
		},
		"tasks": {
			func() error { _, err := c.Tasks.Get(ctx, "nope"); return err },
			func() error { _, err := c.Tasks.Update(ctx, "nope", patch); return err },
			func() error { return c.Tasks.Delete(ctx, "nope") },
		},
	}
	for name, r := range resources {
		assert.True(t, model.IsKind(r.get(), model.ErrNotFound), name+" get")
		assert.True(t, model.IsKind(r.update(), model.ErrNotFound), name+" update")
		assert.True(t, model.IsKind(r.delete(), model.ErrNotFound), name+" delete")
	}
}

func TestDeleteThenGet(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	office := mustCreateOffice(t, c, "o1")
	user, err := c.Users.Create(ctx, model.User{Name: "Ruwan Jayasuriya", Email: "ruwan@gov.lk", Role: model.RoleOfficer})
	require.NoError(t, err)

	// Each case creates an unreferenced entity and returns its ID with the
	// delete and get calls for its resource.
	type entity struct {
		id     string
		delete func(string) error
		get    func(string) error
	}
	create := map[string]func(t *testing.T) entity{
		"offices": func(t *testing.T) entity {
			o, err := c.Offices.Create(ctx, model.Office{Name: "Galle DS"})
			require.NoError(t, err)
			return entity{o.ID, func(id string) error { return c.Offices.Delete(ctx, id) },
				func(id string) error { _, err := c.Offices.Get(ctx, id); return err }}
		},
		"sections": func(t *testing.T) entity {
			s, err := c.Sections.Create(ctx, model.Section{Name: "Licensing", OfficeID: office.ID})
			require.NoError(t, err)
			return entity{s.ID, func(id string) error { return c.Sections.Delete(ctx, id) },
				func(id string) error { _, err := c.Sections.Get(ctx, id); return err }}
		},
		"subjects": func(t *testing.T) entity {
			s, err := c.Subjects.Create(ctx, model.Subject{Name: "Trade licence"})
			require.NoError(t, err)
			return entity{s.ID, func(id string) error { return c.Subjects.Delete(ctx, id) },
				func(id string) error { _, err := c.Subjects.Get(ctx, id); return err }}
		},
		"users": func(t *testing.T) entity {
			u, err := c.Users.Create(ctx, model.User{Name: "Temp", Email: "temp@gov.lk", Role: model.RoleOfficer})
			require.NoError(t, err)
			return entity{u.ID, func(id string) error { return c.Users.Delete(ctx, id) },
				func(id string) error { _, err := c.Users.Get(ctx, id); return err }}
		},
		"templates": func(t *testing.T) entity {
			tpl, err := c.Templates.Create(ctx, model.Template{Name: "Approval letter", Content: "Dear {{name}}"})
			require.NoError(t, err)
			return entity{tpl.ID, func(id string) error { return c.Templates.Delete(ctx, id) },
				func(id string) error { _, err := c.Templates.Get(ctx, id); return err }}
		},
		"notifications": func(t *testing.T) entity {
			n, err := c.Notifications.Create(ctx, model.Notification{UserID: user.ID, Title: "Welcome"})
			require.NoError(t, err)
			return entity{n.ID, func(id string) error { return c.Notifications.Delete(ctx, id) },
				func(id string) error { _, err := c.Notifications.Get(ctx, id); return err }}
		},
		"tasks": func(t *testing.T) entity {
			task, err := c.Tasks.Create(ctx, model.Task{Title: "Verify deed"})
			require.NoError(t, err)
			return entity{task.ID, func(id string) error { return c.Tasks.Delete(ctx, id) },
				func(id string) error { _, err := c.Tasks.Get(ctx, id); return err }}
		},
	}
	for name, mk := range create {
		t.Run(name, func(t *testing.T) {
			e := mk(t)
			require.NoError(t, e.get(e.id))
			require.NoError(t, e.delete(e.id))
			assert.True(t, model.IsKind(e.get(e.id), model.ErrNotFound))
			assert.True(t, model.IsKind(e.delete(e.id), model.ErrNotFound))
		})
	}
}

func TestDeleteGuards(t *testing.T) {
	c, stores := setup(t)
	ctx := context.Background()

	office := mustCreateOffice(t, c, "o1")
	section, err := c.Sections.Create(ctx, model.Section{Name: "Business", OfficeID: office.ID})
	require.NoError(t, err)
	subject, err := c.Subjects.Create(ctx, model.Subject{Name: "Biz Reg", SectionID: section.ID})
	require.NoError(t, err)
	_, err = stores.Definitions.Create(ctx, model.WorkflowDefinition{
		Meta:      model.Meta{ID: "wf1"},
		Name:      "Biz Reg",
		SubjectID: subject.ID,
	})
	require.NoError(t, err)

	assert.True(t, model.IsKind(c.Offices.Delete(ctx, office.ID), model.ErrConflict), "office referenced by section")
	assert.True(t, model.IsKind(c.Sections.Delete(ctx, section.ID), model.ErrConflict), "section referenced by subject")
	assert.True(t, model.IsKind(c.Subjects.Delete(ctx, subject.ID), model.ErrConflict), "subject referenced by workflow")

	require.NoError(t, stores.Definitions.Delete(ctx, "wf1"))
	require.NoError(t, c.Subjects.Delete(ctx, subject.ID))
	require.NoError(t, c.Sections.Delete(ctx, section.ID))
	require.NoError(t, c.Offices.Delete(ctx, office.ID))
}

func TestDeleteGuard_officeReferencedByStep(t *testing.T) {
	c, stores := setup(t)
	ctx := context.Background()
	office := mustCreateOffice(t, c, "o1")
	_, err := stores.Definitions.Create(ctx, model.WorkflowDefinition{
		Meta:  model.Meta{ID: "wf1"},
		Steps: []model.WorkflowStepDefinition{{ID: "s1", Name: "Intake", OfficeID: office.ID}},
	})
	require.NoError(t, err)

	err = c.Offices.Delete(ctx, office.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow step")
}

func TestUsers_protectPasswordAndRole(t *testing.T) {
	c, stores := setup(t)
	ctx := context.Background()
	_, err := stores.Users.Create(ctx, model.User{
		Meta:         model.Meta{ID: "u1"},
		Name:         "Nimal",
		Email:        "nimal@gov.lk",
		PasswordHash: "hash",
		Role:         model.RoleOfficer,
	})
	require.NoError(t, err)

	u, err := c.Users.Update(ctx, "u1", []byte(`{"name":"Nimal P","role":"ADMIN","passwordHash":"evil"}`))
	require.NoError(t, err)
	assert.Equal(t, "Nimal P", u.Name)
	assert.Equal(t, model.RoleOfficer, u.Role)
	assert.Equal(t, "hash", u.PasswordHash)
}

func TestUsers_duplicateEmailOnUpdate(t *testing.T) {
	c, stores := setup(t)
	ctx := context.Background()
	for _, u := range []model.User{
		{Meta: model.Meta{ID: "u1"}, Name: "A", Email: "a@gov.lk", Role: model.RoleOfficer},
		{Meta: model.Meta{ID: "u2"}, Name: "B", Email: "b@gov.lk", Role: model.RoleOfficer},
	} {
		_, err := stores.Users.Create(ctx, u)
		require.NoError(t, err)
	}

	_, err := c.Users.Update(ctx, "u2", []byte(`{"email":"A@gov.lk"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "User already exists")
}

func TestUsers_deleteBlockedByOpenRequest(t *testing.T) {
	c, stores := setup(t)
	ctx := context.Background()
	_, err := stores.Users.Create(ctx, model.User{Meta: model.Meta{ID: "u1"}, Name: "A", Email: "a@gov.lk", Role: model.RoleOfficer})
	require.NoError(t, err)
	_, err = stores.Requests.Create(ctx, model.ServiceRequest{
		Meta:             model.Meta{ID: "sr1"},
		Status:           model.StatusInProgress,
		AssignedToUserID: "u1",
	})
	require.NoError(t, err)

	assert.True(t, model.IsKind(c.Users.Delete(ctx, "u1"), model.ErrConflict))
}

func TestTasks_defaultsAndFilter(t *testing.T) {
	c, stores := setup(t)
	ctx := context.Background()
	_, err := stores.Users.Create(ctx, model.User{Meta: model.Meta{ID: "u1"}, Name: "A", Email: "a@gov.lk", Role: model.RoleOfficer})
	require.NoError(t, err)

	t1, err := c.Tasks.Create(ctx, model.Task{Title: "Verify NIC", AssignedToUserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.TaskOpen, t1.Status)
	_, err = c.Tasks.Create(ctx, model.Task{Title: "Archive", Status: model.TaskDone})
	require.NoError(t, err)

	_, err = c.Tasks.Create(ctx, model.Task{Title: "Bad", Status: "Paused"})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))
	_, err = c.Tasks.Create(ctx, model.Task{Title: "Bad", AssignedToUserID: "ghost"})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))

	all, err := c.Tasks.List(ctx)
	require.NoError(t, err)
	mine := TaskFilter{AssignedToUserID: "u1"}.Apply(all)
	require.Len(t, mine, 1)
	assert.Equal(t, t1.ID, mine[0].ID)
	assert.Len(t, TaskFilter{Status: model.TaskDone}.Apply(all), 1)
	assert.Len(t, TaskFilter{}.Apply(all), 2)
}

func TestNotifications_markRead(t *testing.T) {
	c, stores := setup(t)
	ctx := context.Background()
	_, err := stores.Users.Create(ctx, model.User{Meta: model.Meta{ID: "u1"}, Name: "A", Email: "a@gov.lk", Role: model.RoleOfficer})
	require.NoError(t, err)

	n, err := c.Notifications.Create(ctx, model.Notification{UserID: "u1", Title: "Assigned", Message: "Request sr1"})
	require.NoError(t, err)
	assert.Equal(t, "info", n.Type)
	assert.False(t, n.Read)

	all, _ := c.Notifications.List(ctx)
	assert.Len(t, NotificationFilter{UserID: "u1", UnreadOnly: true}.Apply(all), 1)

	read, err := c.MarkNotificationRead(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	all, _ = c.Notifications.List(ctx)
	assert.Empty(t, NotificationFilter{UserID: "u1", UnreadOnly: true}.Apply(all))
}

func TestUpdate_replacesSlicesWholesale(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	tpl, err := c.Templates.Create(ctx, model.Template{Name: "Letter", Tags: []string{"a", "b", "c"}})
	require.NoError(t, err)

	updated, err := c.Templates.Update(ctx, tpl.ID, []byte(`{"tags":["z"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, updated.Tags)
	assert.Equal(t, "Letter", updated.Name)
}
