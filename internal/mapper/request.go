package mapper

import (
	"time"

	"github.com/govflow/govflow/model"
)

// RequestSummaryVM is the list-row projection of a service request. History
// is reduced to its length so queue views stay small.
type RequestSummaryVM struct {
	ID                   string              `json:"id"`
	Revision             int                 `json:"revision"`
	WorkflowDefinitionID string              `json:"workflowDefinitionId"`
	SubjectID            string              `json:"subjectId"`
	CitizenName          string              `json:"citizenName,omitempty"`
	CurrentStepID        string              `json:"currentStepId"`
	Status               model.RequestStatus `json:"status"`
	AssignedToUserID     string              `json:"assignedToUserId,omitempty"`
	AssignedToOfficeID   string              `json:"assignedToOfficeId,omitempty"`
	HistoryCount         int                 `json:"historyCount"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

// ToRequestSummaryVM maps a service request to its summary.
func ToRequestSummaryVM(r model.ServiceRequest) RequestSummaryVM {
	return RequestSummaryVM{
		ID:                   r.ID,
		Revision:             r.Revision,
		WorkflowDefinitionID: r.WorkflowDefinitionID,
		SubjectID:            r.ServiceRequestData.SubjectID,
		CitizenName:          r.ServiceRequestData.CitizenName,
		CurrentStepID:        r.CurrentStepID,
		Status:               r.Status,
		AssignedToUserID:     r.AssignedToUserID,
		AssignedToOfficeID:   r.AssignedToOfficeID,
		HistoryCount:         len(r.History),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
