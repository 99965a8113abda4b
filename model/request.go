package model

import (
	"encoding/json"
	"time"
)

// RequestStatus is the lifecycle status of a ServiceRequest.
type RequestStatus string

// Request statuses.
const (
	StatusNew                 RequestStatus = "New"
	StatusInProgress          RequestStatus = "InProgress"
	StatusPendingReview       RequestStatus = "PendingReview"
	StatusPendingApproval     RequestStatus = "PendingApproval"
	StatusCorrectionRequested RequestStatus = "CorrectionRequested"
	StatusCompleted           RequestStatus = "Completed"
	StatusRejected            RequestStatus = "Rejected"
)

// Terminal reports whether no further mutation is allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Action is the tag carried by a history event.
type Action string

// Transitional actions drive the state machine; Assign and UploadDocument
// are recorded in history but never move the step pointer.
const (
	ActionSubmit            Action = "Submit"
	ActionApprove           Action = "Approve"
	ActionReject            Action = "Reject"
	ActionRequestCorrection Action = "RequestCorrection"
	ActionAssign            Action = "Assign"
	ActionUploadDocument    Action = "UploadDocument"
)

// Transitional reports whether the action is evaluated by the state machine.
func (a Action) Transitional() bool {
	switch a {
	case ActionSubmit, ActionApprove, ActionReject, ActionRequestCorrection:
		return true
	}
	return false
}

// UploadedDocument is a file attached to a history event.
type UploadedDocument struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	MimeType   string    `json:"mimeType,omitempty"`
	Size       int64     `json:"size,omitempty"`
	FieldName  string    `json:"fieldName,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
	UploadedBy string    `json:"uploadedBy"`
}

// HistoryEvent is one immutable audit record on a ServiceRequest.
type HistoryEvent struct {
	ID         string             `json:"id"`
	StepID     string             `json:"stepId"`
	StepName   string             `json:"stepName"`
	UserID     string             `json:"userId"`
	UserName   string             `json:"userName"`
	Role       Role               `json:"role,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Action     Action             `json:"action"`
	Comment    string             `json:"comment,omitempty"`
	Documents  []UploadedDocument `json:"documents,omitempty"`
	Data       map[string]any     `json:"data,omitempty"`
	FromStatus RequestStatus      `json:"fromStatus,omitempty"`
	ToStatus   RequestStatus      `json:"toStatus,omitempty"`
	ToStepID   string             `json:"toStepId,omitempty"`
}

// Clone returns a deep copy.
func (e HistoryEvent) Clone() HistoryEvent {
	e.Documents = append([]UploadedDocument(nil), e.Documents...)
	e.Data = CloneMap(e.Data)
	return e
}

// ServiceRequestData is the citizen-supplied intake record. Keys other than
// the named ones are preserved in Extra and flattened on the wire.
type ServiceRequestData struct {
	SubjectID         string
	CitizenName       string
	NICNumber         string
	ServiceCategoryID string
	Extra             map[string]any
}

var requestDataKeys = map[string]bool{
	"subjectId": true, "citizenName": true, "nicNumber": true, "serviceCategoryId": true,
}

// MarshalJSON flattens Extra alongside the named keys.
func (d ServiceRequestData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+4)
	for k, v := range d.Extra {
		if !requestDataKeys[k] {
			out[k] = v
		}
	}
	out["subjectId"] = d.SubjectID
	if d.CitizenName != "" {
		out["citizenName"] = d.CitizenName
	}
	if d.NICNumber != "" {
		out["nicNumber"] = d.NICNumber
	}
	if d.ServiceCategoryID != "" {
		out["serviceCategoryId"] = d.ServiceCategoryID
	}
	return json.Marshal(out)
}

// UnmarshalJSON merges into the receiver so partial updates keep already-set
// keys.
func (d *ServiceRequestData) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		s, _ := v.(string)
		switch k {
		case "subjectId":
			d.SubjectID = s
		case "citizenName":
			d.CitizenName = s
		case "nicNumber":
			d.NICNumber = s
		case "serviceCategoryId":
			d.ServiceCategoryID = s
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[k] = v
		}
	}
	return nil
}

// ServiceRequest is one citizen submission moving through a workflow.
type ServiceRequest struct {
	Meta
	WorkflowDefinitionID string             `json:"workflowDefinitionId"`
	ServiceRequestData   ServiceRequestData `json:"serviceRequestData"`
	CurrentStepID        string             `json:"currentStepId"`
	Status               RequestStatus      `json:"status"`
	AssignedToUserID     string             `json:"assignedToUserId,omitempty"`
	AssignedToOfficeID   string             `json:"assignedToOfficeId,omitempty"`
	History              []HistoryEvent     `json:"history"`
}

// Clone returns a deep copy.
func (r ServiceRequest) Clone() ServiceRequest {
	r.ServiceRequestData.Extra = CloneMap(r.ServiceRequestData.Extra)
	if r.History != nil {
		history := make([]HistoryEvent, len(r.History))
		for i, e := range r.History {
			history[i] = e.Clone()
		}
		r.History = history
	}
	return r
}
