package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/observability"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// Observer receives lifecycle outcomes. *observability.Metrics satisfies it.
type Observer interface {
	RecordRequestCreated(workflowID string)
	RecordTransition(workflowID, action, toStatus string, terminal bool)
	RecordTransitionRejected(action, reason string)
	RecordValidationFailure(workflowID, stepID string)
}

type nopObserver struct{}

func (nopObserver) RecordRequestCreated(string)                   {}
func (nopObserver) RecordTransition(string, string, string, bool) {}
func (nopObserver) RecordTransitionRejected(string, string)       {}
func (nopObserver) RecordValidationFailure(string, string)        {}

// Engine manages the lifecycle of service requests. Every mutation goes
// through the state machine and is persisted with the request's revision, so
// concurrent stale writes fail with CONFLICT.
type Engine struct {
	stores      *store.Stores
	defs        *Definitions
	observer    Observer
	logger      *zap.Logger
	maxDocBytes int64
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithMaxDocumentBytes sets the per-document size cap reported in forms.
func WithMaxDocumentBytes(n int64) EngineOption {
	return func(e *Engine) { e.maxDocBytes = n }
}

// NewEngine creates a new service-request engine.
func NewEngine(stores *store.Stores, defs *Definitions, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		stores:      stores,
		defs:        defs,
		observer:    nopObserver{},
		logger:      logger,
		maxDocBytes: DefaultMaxDocumentBytes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateInput is the body of a new service request.
type CreateInput struct {
	ServiceRequestData model.ServiceRequestData `json:"serviceRequestData"`
	AssignedToUserID   string                   `json:"assignedToUserId,omitempty"`
	AssignedToOfficeID string                   `json:"assignedToOfficeId,omitempty"`
}

// Create opens a request against the active workflow of its subject. The
// request starts at the first step with status New and an empty history.
func (e *Engine) Create(ctx context.Context, rctx *model.RequestContext, in CreateInput) (model.ServiceRequest, error) {
	ctx, span := observability.StartRequestSpan(ctx, "workflow.create", "", rctx)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	subjectID := strings.TrimSpace(in.ServiceRequestData.SubjectID)
	if subjectID == "" {
		err = model.NewFieldValidationError([]model.FieldError{{
			Field: "serviceRequestData.subjectId", Code: model.CodeRequired, Message: "subjectId is required",
		}})
		return model.ServiceRequest{}, err
	}
	if err = requireRef(ctx, "serviceRequestData.subjectId", subjectID, e.stores.Subjects); err != nil {
		return model.ServiceRequest{}, err
	}
	if err = e.checkAssignment(ctx, in.AssignedToUserID, in.AssignedToOfficeID); err != nil {
		return model.ServiceRequest{}, err
	}

	var def model.WorkflowDefinition
	def, err = e.defs.ActiveFor(ctx, subjectID)
	if err != nil {
		return model.ServiceRequest{}, err
	}

	now := e.now().UTC()
	data := in.ServiceRequestData
	data.SubjectID = subjectID
	req := model.ServiceRequest{
		Meta:                 model.Meta{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		WorkflowDefinitionID: def.ID,
		ServiceRequestData:   data,
		CurrentStepID:        def.Steps[0].ID,
		Status:               model.StatusNew,
		AssignedToUserID:     in.AssignedToUserID,
		AssignedToOfficeID:   in.AssignedToOfficeID,
		History:              []model.HistoryEvent{},
	}

	var created model.ServiceRequest
	created, err = e.stores.Requests.Create(ctx, req)
	if err != nil {
		return model.ServiceRequest{}, err
	}
	observability.AnnotateRequest(span, created)
	e.observer.RecordRequestCreated(def.ID)
	e.log(ctx).Info("service request created", observability.ServiceRequestFields(created)...)
	if created.AssignedToUserID != "" {
		e.notifyAssignee(ctx, created)
	}
	return created, nil
}

// ActInput is the body of a lifecycle action. Documents are not part of it;
// they reach a request only through AttachDocument.
type ActInput struct {
	Action   model.Action   `json:"action"`
	Comment  string         `json:"comment,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Revision *int           `json:"revision,omitempty"`
}

// Act applies a Submit, Approve, Reject or RequestCorrection action. It
// appends exactly one history event and moves the step pointer and status as
// the state machine dictates.
func (e *Engine) Act(ctx context.Context, rctx *model.RequestContext, id string, in ActInput) (model.ServiceRequest, error) {
	ctx, span := observability.StartRequestSpan(ctx, "workflow.act", id, rctx,
		observability.AttrAction.String(string(in.Action)))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if !in.Action.Transitional() {
		err = model.NewFieldValidationError([]model.FieldError{{
			Field:   "action",
			Code:    model.CodeInvalidValue,
			Message: "action must be one of Submit, Approve, Reject, RequestCorrection",
		}})
		return model.ServiceRequest{}, err
	}

	var (
		req  model.ServiceRequest
		def  model.WorkflowDefinition
		step model.WorkflowStepDefinition
	)
	req, def, step, err = e.load(ctx, id, in.Revision)
	if err != nil {
		return model.ServiceRequest{}, err
	}
	observability.AnnotateRequest(span, req)

	next, hasNext := def.NextStep(step.ID)
	var out Outcome
	out, err = Transition(Input{
		Status:       req.Status,
		Approval:     step.ApprovalType,
		Action:       in.Action,
		Role:         rctx.Role,
		HasNext:      hasNext,
		NextApproval: next.ApprovalType,
	})
	if err != nil {
		e.observer.RecordTransitionRejected(string(in.Action), model.KindOf(err))
		return model.ServiceRequest{}, err
	}

	comment := strings.TrimSpace(in.Comment)
	// data is the step's full snapshot after this action. Reject and
	// RequestCorrection record none, so the last validated snapshot stays
	// the step's latest data.
	var data map[string]any
	switch in.Action {
	case model.ActionReject, model.ActionRequestCorrection:
		if comment == "" {
			err = model.NewFieldValidationError([]model.FieldError{{
				Field: "comment", Code: model.CodeRequired, Message: "a comment is required to " + actionVerb(in.Action),
			}})
			return model.ServiceRequest{}, err
		}
	case model.ActionSubmit, model.ActionApprove:
		data = LatestStepData(req.History, step.ID)
		if data == nil {
			data = map[string]any{}
		}
		for k, v := range in.Data {
			data[k] = v
		}
		if errs := ValidateSubmission(step, data, req.History); len(errs) > 0 {
			e.observer.RecordValidationFailure(def.ID, step.ID)
			err = model.NewFieldValidationError(errs)
			return model.ServiceRequest{}, err
		}
	}

	now := e.now().UTC()
	from := req.Status
	req.Status = out.Status
	if out.Advance && hasNext {
		req.CurrentStepID = next.ID
	}
	req.History = append(req.History, model.HistoryEvent{
		ID:         uuid.NewString(),
		StepID:     step.ID,
		StepName:   step.Name,
		UserID:     rctx.UserID,
		UserName:   e.userName(ctx, rctx),
		Role:       rctx.Role,
		Timestamp:  now,
		Action:     in.Action,
		Comment:    comment,
		Data:       data,
		FromStatus: from,
		ToStatus:   req.Status,
		ToStepID:   req.CurrentStepID,
	})
	req.UpdatedAt = now

	var updated model.ServiceRequest
	updated, err = e.stores.Requests.Update(ctx, req)
	if err != nil {
		return model.ServiceRequest{}, err
	}

	e.observer.RecordTransition(def.ID, string(in.Action), string(updated.Status), updated.Status.Terminal())
	e.log(ctx).Info("service request transitioned", append(observability.ServiceRequestFields(updated),
		zap.String("action", string(in.Action)),
		zap.String("from_status", string(from)),
	)...)
	return updated, nil
}

// AssignInput is the body of an assignment.
type AssignInput struct {
	AssignedToUserID   string `json:"assignedToUserId"`
	AssignedToOfficeID string `json:"assignedToOfficeId"`
	Revision           *int   `json:"revision,omitempty"`
}

// Assign overwrites the request's assignment and records an Assign event.
// The status is unchanged; reassigning to the same target is allowed.
func (e *Engine) Assign(ctx context.Context, rctx *model.RequestContext, id string, in AssignInput) (model.ServiceRequest, error) {
	ctx, span := observability.StartRequestSpan(ctx, "workflow.assign", id, rctx)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if in.AssignedToUserID == "" && in.AssignedToOfficeID == "" {
		err = model.NewFieldValidationError([]model.FieldError{{
			Field: "assignedToUserId", Code: model.CodeRequired, Message: "assign to a user or an office",
		}})
		return model.ServiceRequest{}, err
	}
	if err = e.checkAssignment(ctx, in.AssignedToUserID, in.AssignedToOfficeID); err != nil {
		return model.ServiceRequest{}, err
	}

	var (
		req  model.ServiceRequest
		step model.WorkflowStepDefinition
	)
	req, _, step, err = e.load(ctx, id, in.Revision)
	if err != nil {
		return model.ServiceRequest{}, err
	}
	if _, err = Transition(Input{Status: req.Status, Action: model.ActionAssign, Role: rctx.Role}); err != nil {
		e.observer.RecordTransitionRejected(string(model.ActionAssign), model.KindOf(err))
		return model.ServiceRequest{}, err
	}

	now := e.now().UTC()
	req.AssignedToUserID = in.AssignedToUserID
	req.AssignedToOfficeID = in.AssignedToOfficeID
	req.History = append(req.History, model.HistoryEvent{
		ID:        uuid.NewString(),
		StepID:    step.ID,
		StepName:  step.Name,
		UserID:    rctx.UserID,
		UserName:  e.userName(ctx, rctx),
		Role:      rctx.Role,
		Timestamp: now,
		Action:    model.ActionAssign,
		Data: map[string]any{
			"assignedToUserId":   in.AssignedToUserID,
			"assignedToOfficeId": in.AssignedToOfficeID,
		},
		FromStatus: req.Status,
		ToStatus:   req.Status,
		ToStepID:   req.CurrentStepID,
	})
	req.UpdatedAt = now

	var updated model.ServiceRequest
	updated, err = e.stores.Requests.Update(ctx, req)
	if err != nil {
		return model.ServiceRequest{}, err
	}
	e.log(ctx).Info("service request assigned",
		zap.String("request_id", updated.ID),
		zap.String("assigned_user_id", updated.AssignedToUserID),
		zap.String("assigned_office_id", updated.AssignedToOfficeID),
	)
	if updated.AssignedToUserID != "" {
		e.notifyAssignee(ctx, updated)
	}
	return updated, nil
}

// CheckUpload verifies that a document can be attached to field on the
// request's current step, without changing anything.
func (e *Engine) CheckUpload(ctx context.Context, rctx *model.RequestContext, id, field string) error {
	req, _, step, err := e.load(ctx, id, nil)
	if err != nil {
		return err
	}
	return checkUpload(req, step, rctx, field)
}

// AttachDocument records an uploaded document against a file field or
// required document of the current step.
func (e *Engine) AttachDocument(ctx context.Context, rctx *model.RequestContext, id string, doc model.UploadedDocument) (model.ServiceRequest, error) {
	ctx, span := observability.StartRequestSpan(ctx, "workflow.attach_document", id, rctx)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	var (
		req  model.ServiceRequest
		step model.WorkflowStepDefinition
	)
	req, _, step, err = e.load(ctx, id, nil)
	if err != nil {
		return model.ServiceRequest{}, err
	}
	if err = checkUpload(req, step, rctx, doc.FieldName); err != nil {
		return model.ServiceRequest{}, err
	}

	now := e.now().UTC()
	doc = stampDocument(rctx, doc, now)
	req.History = append(req.History, model.HistoryEvent{
		ID:         uuid.NewString(),
		StepID:     step.ID,
		StepName:   step.Name,
		UserID:     rctx.UserID,
		UserName:   e.userName(ctx, rctx),
		Role:       rctx.Role,
		Timestamp:  now,
		Action:     model.ActionUploadDocument,
		Documents:  []model.UploadedDocument{doc},
		FromStatus: req.Status,
		ToStatus:   req.Status,
		ToStepID:   req.CurrentStepID,
	})
	req.UpdatedAt = now

	var updated model.ServiceRequest
	updated, err = e.stores.Requests.Update(ctx, req)
	return updated, err
}

func checkUpload(req model.ServiceRequest, step model.WorkflowStepDefinition, rctx *model.RequestContext, field string) error {
	if _, err := Transition(Input{Status: req.Status, Action: model.ActionUploadDocument, Role: rctx.Role}); err != nil {
		return err
	}
	if !UploadTarget(step, field) {
		return model.NewFieldValidationError([]model.FieldError{{
			Field:   "field",
			Code:    model.CodeUnknownField,
			Message: fmt.Sprintf("%q is not a document slot of step %q", field, step.Name),
		}})
	}
	return nil
}

// Get returns a request.
func (e *Engine) Get(ctx context.Context, id string) (model.ServiceRequest, error) {
	return e.stores.Requests.Get(ctx, id)
}

// ListFilter narrows a request list. Empty fields match everything.
type ListFilter struct {
	Status               model.RequestStatus
	SubjectID            string
	AssignedToUserID     string
	AssignedToOfficeID   string
	WorkflowDefinitionID string
}

// Match reports whether r passes every set criterion.
func (f ListFilter) Match(r model.ServiceRequest) bool {
	return (f.Status == "" || r.Status == f.Status) &&
		(f.SubjectID == "" || r.ServiceRequestData.SubjectID == f.SubjectID) &&
		(f.AssignedToUserID == "" || r.AssignedToUserID == f.AssignedToUserID) &&
		(f.AssignedToOfficeID == "" || r.AssignedToOfficeID == f.AssignedToOfficeID) &&
		(f.WorkflowDefinitionID == "" || r.WorkflowDefinitionID == f.WorkflowDefinitionID)
}

// List returns the requests matching filter in creation order.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]model.ServiceRequest, error) {
	all, err := e.stores.Requests.List(ctx)
	if err != nil {
		return nil, err
	}
	return store.Filter(all, filter.Match), nil
}

// History returns the request's audit trail, oldest first.
func (e *Engine) History(ctx context.Context, id string) ([]model.HistoryEvent, error) {
	req, err := e.stores.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return req.History, nil
}

// StepData returns the latest data saved at stepID. The step must belong to
// the request's workflow.
func (e *Engine) StepData(ctx context.Context, id, stepID string) (map[string]any, error) {
	req, err := e.stores.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := e.definition(ctx, req)
	if err != nil {
		return nil, err
	}
	if def.StepIndex(stepID) < 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("step %q not found in workflow %q", stepID, def.ID))
	}
	data := LatestStepData(req.History, stepID)
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Form returns the descriptor of the request's current step for the caller.
func (e *Engine) Form(ctx context.Context, rctx *model.RequestContext, id string) (FormDescriptor, error) {
	req, err := e.stores.Requests.Get(ctx, id)
	if err != nil {
		return FormDescriptor{}, err
	}
	def, err := e.definition(ctx, req)
	if err != nil {
		return FormDescriptor{}, err
	}
	return BuildForm(req, def, rctx.Role, e.maxDocBytes)
}

// Delete removes a request.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.stores.Requests.Delete(ctx, id)
}

// load fetches a request with its workflow and current step, checking the
// optional revision precondition.
func (e *Engine) load(ctx context.Context, id string, revision *int) (model.ServiceRequest, model.WorkflowDefinition, model.WorkflowStepDefinition, error) {
	req, err := e.stores.Requests.Get(ctx, id)
	if err != nil {
		return model.ServiceRequest{}, model.WorkflowDefinition{}, model.WorkflowStepDefinition{}, err
	}
	if revision != nil && *revision != req.Revision {
		return model.ServiceRequest{}, model.WorkflowDefinition{}, model.WorkflowStepDefinition{}, model.NewConflictError(
			fmt.Sprintf("service request %q revision conflict (expected %d, got %d)", id, *revision, req.Revision))
	}
	def, err := e.definition(ctx, req)
	if err != nil {
		return model.ServiceRequest{}, model.WorkflowDefinition{}, model.WorkflowStepDefinition{}, err
	}
	step, ok := def.Step(req.CurrentStepID)
	if !ok {
		return model.ServiceRequest{}, model.WorkflowDefinition{}, model.WorkflowStepDefinition{}, model.NewConflictError(
			fmt.Sprintf("current step %q of request %q is not part of workflow %q", req.CurrentStepID, id, def.ID))
	}
	return req, def, step, nil
}

func (e *Engine) definition(ctx context.Context, req model.ServiceRequest) (model.WorkflowDefinition, error) {
	def, err := e.stores.Definitions.Get(ctx, req.WorkflowDefinitionID)
	if model.IsKind(err, model.ErrNotFound) {
		return def, model.NewConflictError(
			fmt.Sprintf("workflow definition %q of request %q no longer exists", req.WorkflowDefinitionID, req.ID))
	}
	return def, err
}

func (e *Engine) checkAssignment(ctx context.Context, userID, officeID string) error {
	if userID != "" {
		if err := requireRef(ctx, "assignedToUserId", userID, e.stores.Users); err != nil {
			return err
		}
	}
	if officeID != "" {
		return requireRef(ctx, "assignedToOfficeId", officeID, e.stores.Offices)
	}
	return nil
}

// requireRef reports a reference field error when id is not in coll.
func requireRef[E any](ctx context.Context, fieldName, id string, coll store.Collection[E]) error {
	ok, err := found(ctx, coll, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewFieldValidationError([]model.FieldError{{
			Field: fieldName, Code: model.CodeReference, Message: fmt.Sprintf("%s %q does not exist", coll.Kind(), id),
		}})
	}
	return nil
}

func stampDocument(rctx *model.RequestContext, d model.UploadedDocument, now time.Time) model.UploadedDocument {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = now
	}
	if d.UploadedBy == "" {
		d.UploadedBy = rctx.UserID
	}
	return d
}

func (e *Engine) userName(ctx context.Context, rctx *model.RequestContext) string {
	if u, err := e.stores.Users.Get(ctx, rctx.UserID); err == nil && u.Name != "" {
		return u.Name
	}
	return rctx.Email
}

// notifyAssignee drops a notification in the assignee's inbox. Failures are
// logged and do not undo the assignment.
func (e *Engine) notifyAssignee(ctx context.Context, req model.ServiceRequest) {
	now := e.now().UTC()
	_, err := e.stores.Notifications.Create(ctx, model.Notification{
		Meta:             model.Meta{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		UserID:           req.AssignedToUserID,
		Title:            "Service request assigned",
		Message:          fmt.Sprintf("Service request %s has been assigned to you", req.ID),
		Type:             "assignment",
		ServiceRequestID: req.ID,
	})
	if err != nil {
		e.log(ctx).Warn("assignment notification failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return observability.RequestLogger(ctx, e.logger)
}

func actionVerb(a model.Action) string {
	if a == model.ActionReject {
		return "reject"
	}
	return "request a correction"
}
