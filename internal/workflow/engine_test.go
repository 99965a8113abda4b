package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

type recordingObserver struct {
	mu          sync.Mutex
	created     int
	transitions []string
	rejected    []string
	invalid     int
}

func (o *recordingObserver) RecordRequestCreated(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *recordingObserver) RecordTransition(_, action, toStatus string, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, action+"->"+toStatus)
}

func (o *recordingObserver) RecordTransitionRejected(_, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *recordingObserver) RecordValidationFailure(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalid++
}

var (
	officer = &model.RequestContext{UserID: "u-officer", Email: "officer@gov.lk", Role: model.RoleOfficer}
	head    = &model.RequestContext{UserID: "u-head", Email: "head@gov.lk", Role: model.RoleSectionHead}
)

type engineFixture struct {
	engine   *Engine
	stores   *store.Stores
	observer *recordingObserver
	def      model.WorkflowDefinition
}

// newEngineFixture creates a Biz Reg workflow for subject "1" whose second
// step uses the given approval type.
func newEngineFixture(t *testing.T, second model.ApprovalType) *engineFixture {
	t.Helper()
	ctx := context.Background()
	stores := store.NewMemoryStores()
	seedReferenceData(t, stores)
	for _, u := range []model.User{
		{Meta: model.Meta{ID: "u-officer"}, Name: "Nimal Perera", Email: "officer@gov.lk", Role: model.RoleOfficer},
		{Meta: model.Meta{ID: "u-head"}, Name: "Kamala Silva", Email: "head@gov.lk", Role: model.RoleSectionHead},
	} {
		_, err := stores.Users.Create(ctx, u)
		require.NoError(t, err)
	}

	defs := NewDefinitions(stores)
	wf := twoStepDefinition(second)
	wf.Steps[0].FormFields = []model.FieldDefinition{
		{Name: "businessName", Label: "Business name", Type: model.FieldText, Required: true},
		{Name: "registrationForm", Type: model.FieldFile},
	}
	def, err := defs.Create(ctx, wf)
	require.NoError(t, err)

	obs := &recordingObserver{}
	return &engineFixture{
		engine:   NewEngine(stores, defs, zap.NewNop(), WithObserver(obs)),
		stores:   stores,
		observer: obs,
		def:      def,
	}
}

func (f *engineFixture) create(t *testing.T) model.ServiceRequest {
	t.Helper()
	req, err := f.engine.Create(context.Background(), officer, CreateInput{
		ServiceRequestData: model.ServiceRequestData{SubjectID: "1", CitizenName: "A. Fernando", NICNumber: "199012345678"},
	})
	require.NoError(t, err)
	return req
}

func (f *engineFixture) submitA(t *testing.T, id string) model.ServiceRequest {
	t.Helper()
	req, err := f.engine.Act(context.Background(), officer, id, ActInput{
		Action: model.ActionSubmit,
		Data:   map[string]any{"businessName": "Acme Traders"},
	})
	require.NoError(t, err)
	return req
}

func TestEngine_bizRegWithApproval(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalSectionHead)
	ctx := context.Background()

	req := f.create(t)
	assert.Equal(t, "stepA", req.CurrentStepID)
	assert.Equal(t, model.StatusNew, req.Status)
	assert.Equal(t, f.def.ID, req.WorkflowDefinitionID)
	assert.Equal(t, 1, req.Revision)
	assert.NotNil(t, req.History)
	assert.Empty(t, req.History)

	req = f.submitA(t, req.ID)
	require.Len(t, req.History, 1)
	ev := req.History[0]
	assert.Equal(t, "stepA", ev.StepID)
	assert.Equal(t, "Application", ev.StepName)
	assert.Equal(t, model.ActionSubmit, ev.Action)
	assert.Equal(t, "Nimal Perera", ev.UserName)
	assert.Equal(t, model.RoleOfficer, ev.Role)
	assert.Equal(t, "Acme Traders", ev.Data["businessName"])
	assert.Equal(t, model.StatusNew, ev.FromStatus)
	assert.Equal(t, model.StatusPendingApproval, ev.ToStatus)
	assert.Equal(t, "stepB", req.CurrentStepID)
	assert.Equal(t, model.StatusPendingApproval, req.Status)

	req, err := f.engine.Act(ctx, head, req.ID, ActInput{Action: model.ActionApprove, Comment: "Looks good"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, req.Status)
	assert.Equal(t, "stepB", req.CurrentStepID)
	assert.Len(t, req.History, 2)
	assert.NoError(t, Verify(f.def, req))

	assert.Equal(t, 1, f.observer.created)
	assert.Equal(t, []string{"Submit->PendingApproval", "Approve->Completed"}, f.observer.transitions)

	_, err = f.engine.Act(ctx, head, req.ID, ActInput{Action: model.ActionApprove})
	assert.True(t, model.IsKind(err, model.ErrInvalidTransition))
	_, err = f.engine.Assign(ctx, head, req.ID, AssignInput{AssignedToUserID: "u-officer"})
	assert.True(t, model.IsKind(err, model.ErrInvalidTransition))
}

func TestEngine_bizRegWithoutApproval(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()

	req := f.submitA(t, f.create(t).ID)
	assert.Equal(t, "stepB", req.CurrentStepID)
	assert.Equal(t, model.StatusNew, req.Status)

	req, err := f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionSubmit})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, req.Status)
	assert.Len(t, req.History, 2)
	assert.NoError(t, Verify(f.def, req))
}

func TestEngine_createErrors(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, officer, CreateInput{})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))

	_, err = f.engine.Create(ctx, officer, CreateInput{ServiceRequestData: model.ServiceRequestData{SubjectID: "404"}})
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	require.Len(t, ee.Details, 1)
	assert.Equal(t, model.CodeReference, ee.Details[0].Code)

	_, err = f.stores.Subjects.Create(ctx, model.Subject{Meta: model.Meta{ID: "2"}, Name: "Land", SectionID: "sec1"})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, officer, CreateInput{ServiceRequestData: model.ServiceRequestData{SubjectID: "2"}})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))

	_, err = f.engine.Create(ctx, officer, CreateInput{
		ServiceRequestData: model.ServiceRequestData{SubjectID: "1"},
		AssignedToOfficeID: "nowhere",
	})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))
	assert.Zero(t, f.observer.created)
}

func TestEngine_submitValidation(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()
	req := f.create(t)

	_, err := f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionSubmit})
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.ErrValidationFailure, ee.Kind)
	require.Len(t, ee.Details, 1)
	assert.Equal(t, "businessName", ee.Details[0].Field)
	assert.Equal(t, 1, f.observer.invalid)

	stored, err := f.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.History)
	assert.Equal(t, 1, stored.Revision)

	_, err = f.engine.Act(ctx, officer, req.ID, ActInput{Action: "Escalate"})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))
	_, err = f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionAssign})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))
}

func TestEngine_approverRole(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalSectionHead)
	ctx := context.Background()
	req := f.submitA(t, f.create(t).ID)

	_, err := f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionApprove})
	assert.True(t, model.IsKind(err, model.ErrAuthorizationFailure))

	admin := &model.RequestContext{UserID: "admin", Role: model.RoleAdmin}
	_, err = f.engine.Act(ctx, admin, req.ID, ActInput{Action: model.ActionApprove})
	assert.True(t, model.IsKind(err, model.ErrAuthorizationFailure))

	assert.Equal(t, []string{model.ErrAuthorizationFailure, model.ErrAuthorizationFailure}, f.observer.rejected)
}

func TestEngine_correctionCycle(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalSectionHead)
	ctx := context.Background()
	req := f.submitA(t, f.create(t).ID)

	_, err := f.engine.Act(ctx, head, req.ID, ActInput{Action: model.ActionRequestCorrection})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure), "comment is required")

	req, err = f.engine.Act(ctx, head, req.ID, ActInput{Action: model.ActionRequestCorrection, Comment: "Attach the deed"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCorrectionRequested, req.Status)
	assert.Equal(t, "stepB", req.CurrentStepID)
	assert.Equal(t, "Attach the deed", req.History[1].Comment)

	req, err = f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionSubmit})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, req.Status)

	req, err = f.engine.Act(ctx, head, req.ID, ActInput{Action: model.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, req.Status)
	assert.Len(t, req.History, 4)
	assert.NoError(t, Verify(f.def, req))
}

func TestEngine_reject(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()
	req := f.create(t)

	req, err := f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionReject, Comment: "  Duplicate application "})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, req.Status)
	assert.Equal(t, "stepA", req.CurrentStepID)
	assert.Equal(t, "Duplicate application", req.History[0].Comment)

	_, err = f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionSubmit, Data: map[string]any{"businessName": "x"}})
	assert.True(t, model.IsKind(err, model.ErrInvalidTransition))
}

func TestEngine_revisionPrecondition(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()
	req := f.create(t)

	stale := req.Revision
	f.submitA(t, req.ID)

	_, err := f.engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionSubmit, Revision: &stale})
	assert.True(t, model.IsKind(err, model.ErrConflict))
}

func TestEngine_concurrentActionsOnlyOneWins(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	req := f.create(t)
	rev := req.Revision

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Act(context.Background(), officer, req.ID, ActInput{
				Action:   model.ActionSubmit,
				Data:     map[string]any{"businessName": "Acme"},
				Revision: &rev,
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, model.IsKind(err, model.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	stored, err := f.engine.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 1)
}

func TestEngine_assign(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()
	req := f.create(t)

	_, err := f.engine.Assign(ctx, head, req.ID, AssignInput{})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))
	_, err = f.engine.Assign(ctx, head, req.ID, AssignInput{AssignedToUserID: "ghost"})
	assert.True(t, model.IsKind(err, model.ErrValidationFailure))

	req, err = f.engine.Assign(ctx, head, req.ID, AssignInput{AssignedToUserID: "u-officer", AssignedToOfficeID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, "u-officer", req.AssignedToUserID)
	assert.Equal(t, "o1", req.AssignedToOfficeID)
	assert.Equal(t, model.StatusNew, req.Status)
	require.Len(t, req.History, 1)
	assert.Equal(t, model.ActionAssign, req.History[0].Action)

	notes, err := f.stores.Notifications.List(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "u-officer", notes[0].UserID)
	assert.Equal(t, req.ID, notes[0].ServiceRequestID)

	// Assign events never shadow submitted step data.
	data, err := f.engine.StepData(ctx, req.ID, "stepA")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEngine_attachDocument(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()
	req := f.create(t)

	require.NoError(t, f.engine.CheckUpload(ctx, officer, req.ID, "registrationForm"))
	assert.True(t, model.IsKind(f.engine.CheckUpload(ctx, officer, req.ID, "businessName"), model.ErrValidationFailure))

	req, err := f.engine.AttachDocument(ctx, officer, req.ID, model.UploadedDocument{
		Name: "form.pdf", URL: "/api/documents/d1", MimeType: "application/pdf", Size: 42, FieldName: "registrationForm",
	})
	require.NoError(t, err)
	require.Len(t, req.History, 1)
	ev := req.History[0]
	assert.Equal(t, model.ActionUploadDocument, ev.Action)
	require.Len(t, ev.Documents, 1)
	assert.NotEmpty(t, ev.Documents[0].ID)
	assert.Equal(t, "u-officer", ev.Documents[0].UploadedBy)
	assert.False(t, ev.Documents[0].UploadedAt.IsZero())
	assert.Equal(t, model.StatusNew, req.Status)
	assert.NoError(t, Verify(f.def, req))
}

func TestEngine_queries(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalSectionHead)
	ctx := context.Background()
	first := f.submitA(t, f.create(t).ID)
	second := f.create(t)

	all, err := f.engine.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.engine.List(ctx, ListFilter{Status: model.StatusPendingApproval, SubjectID: "1"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	history, err := f.engine.History(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	data, err := f.engine.StepData(ctx, first.ID, "stepA")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"businessName": "Acme Traders"}, data)

	data, err = f.engine.StepData(ctx, first.ID, "stepB")
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = f.engine.StepData(ctx, first.ID, "stepZ")
	assert.True(t, model.IsKind(err, model.ErrNotFound))

	form, err := f.engine.Form(ctx, head, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "stepB", form.StepID)
	assert.Contains(t, form.Actions, model.ActionApprove)

	require.NoError(t, f.engine.Delete(ctx, second.ID))
	_, err = f.engine.Get(ctx, second.ID)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
}

// newSingleStepEngine creates a one-step workflow gated on SectionHead whose
// form requires fields a and b and a deed upload when withDeed is set.
func newSingleStepEngine(t *testing.T, withDeed bool) *Engine {
	t.Helper()
	stores := store.NewMemoryStores()
	seedReferenceData(t, stores)
	defs := NewDefinitions(stores)
	fields := []model.FieldDefinition{
		{Name: "a", Type: model.FieldText, Required: true},
		{Name: "b", Type: model.FieldText, Required: true},
	}
	if withDeed {
		fields = append(fields, model.FieldDefinition{Name: "deed", Type: model.FieldFile, Required: true})
	}
	_, err := defs.Create(context.Background(), model.WorkflowDefinition{
		Name:      "Single review",
		SubjectID: "1",
		IsActive:  true,
		Steps: []model.WorkflowStepDefinition{
			{ID: "review", Name: "Review", ApprovalType: model.ApprovalSectionHead, FormFields: fields},
		},
	})
	require.NoError(t, err)
	return NewEngine(stores, defs, zap.NewNop())
}

func TestEngine_partialResubmitKeepsEarlierFields(t *testing.T) {
	engine := newSingleStepEngine(t, false)
	ctx := context.Background()
	req, err := engine.Create(ctx, officer, CreateInput{ServiceRequestData: model.ServiceRequestData{SubjectID: "1"}})
	require.NoError(t, err)

	req, err = engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionSubmit, Data: map[string]any{"a": "x", "b": "y"}})
	require.NoError(t, err)
	req, err = engine.Act(ctx, head, req.ID, ActInput{Action: model.ActionRequestCorrection, Comment: "Fix b"})
	require.NoError(t, err)
	assert.Nil(t, req.History[1].Data)

	req, err = engine.Act(ctx, officer, req.ID, ActInput{Action: model.ActionSubmit, Data: map[string]any{"b": "z"}})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, req.Status)

	data, err := engine.StepData(ctx, req.ID, "review")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "x", "b": "z"}, data)

	req, err = engine.Act(ctx, head, req.ID, ActInput{Action: model.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, req.Status)
	assert.Equal(t, map[string]any{"a": "x", "b": "z"}, req.History[3].Data)
}

func TestEngine_actIgnoresClientDocuments(t *testing.T) {
	engine := newSingleStepEngine(t, true)
	ctx := context.Background()
	req, err := engine.Create(ctx, officer, CreateInput{ServiceRequestData: model.ServiceRequestData{SubjectID: "1"}})
	require.NoError(t, err)

	var in ActInput
	require.NoError(t, json.Unmarshal([]byte(`{
		"action": "Submit",
		"data": {"a": "x", "b": "y"},
		"documents": [{"name": "deed.exe", "fieldName": "deed", "url": "http://evil.example/x",
			"mimeType": "application/x-msdownload", "size": 999999999}]
	}`), &in))

	_, err = engine.Act(ctx, officer, req.ID, in)
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.ErrValidationFailure, ee.Kind)
	assert.Equal(t, map[string]string{"deed": model.CodeRequired}, codesByField(ee.Details))

	stored, err := engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.History)
	assert.Equal(t, model.StatusNew, stored.Status)

	// A server-side upload satisfies the field.
	_, err = engine.AttachDocument(ctx, officer, req.ID, model.UploadedDocument{
		Name: "deed.pdf", URL: "/api/documents/d1", MimeType: "application/pdf", Size: 42, FieldName: "deed",
	})
	require.NoError(t, err)
	req, err = engine.Act(ctx, officer, req.ID, in)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, req.Status)
	require.Len(t, req.History, 2)
	assert.Empty(t, req.History[1].Documents)
}

func TestNotFoundForDefinitionsAndRequests(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()
	defs := f.engine.defs

	checks := map[string]func() error{
		"definition get":    func() error { _, err := defs.Get(ctx, "nope"); return err },
		"definition update": func() error { _, err := defs.Update(ctx, "nope", []byte(`{"name":"x"}`)); return err },
		"definition delete": func() error { return defs.Delete(ctx, "nope") },
		"request get":       func() error { _, err := f.engine.Get(ctx, "nope"); return err },
		"request act":       func() error { _, err := f.engine.Act(ctx, officer, "nope", ActInput{Action: model.ActionSubmit}); return err },
		"request assign": func() error {
			_, err := f.engine.Assign(ctx, head, "nope", AssignInput{AssignedToUserID: "u-officer"})
			return err
		},
		"request history":   func() error { _, err := f.engine.History(ctx, "nope"); return err },
		"request step data": func() error { _, err := f.engine.StepData(ctx, "nope", "stepA"); return err },
		"request form":      func() error { _, err := f.engine.Form(ctx, officer, "nope"); return err },
		"request delete":    func() error { return f.engine.Delete(ctx, "nope") },
	}
	for name, fn := range checks {
		assert.True(t, model.IsKind(fn(), model.ErrNotFound), name)
	}
}

func TestDeleteThenGet_definitionsAndRequests(t *testing.T) {
	f := newEngineFixture(t, model.ApprovalNone)
	ctx := context.Background()

	req := f.create(t)
	require.NoError(t, f.engine.Delete(ctx, req.ID))
	_, err := f.engine.Get(ctx, req.ID)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
	assert.True(t, model.IsKind(f.engine.Delete(ctx, req.ID), model.ErrNotFound))

	require.NoError(t, f.engine.defs.Delete(ctx, f.def.ID))
	_, err = f.engine.defs.Get(ctx, f.def.ID)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
	assert.True(t, model.IsKind(f.engine.defs.Delete(ctx, f.def.ID), model.ErrNotFound))
}
