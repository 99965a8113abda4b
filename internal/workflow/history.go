package workflow

import (
	"fmt"

	"github.com/govflow/govflow/model"
)

// LatestStepData returns a copy of the data snapshot of the last event at
// stepID that carried data. Earlier snapshots are not merged in.
func LatestStepData(history []model.HistoryEvent, stepID string) map[string]any {
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		if e.StepID == stepID && len(e.Data) > 0 && e.Action.Transitional() {
			return model.CloneMap(e.Data)
		}
	}
	return nil
}

// StepDocuments collects every document uploaded at stepID, oldest first.
func StepDocuments(history []model.HistoryEvent, stepID string) []model.UploadedDocument {
	var docs []model.UploadedDocument
	for _, e := range history {
		if e.StepID == stepID {
			docs = append(docs, e.Documents...)
		}
	}
	return docs
}

// Replay re-applies the transitional events of history to def, starting at
// the first step with status New, and returns the resulting step pointer
// and status.
func Replay(def model.WorkflowDefinition, history []model.HistoryEvent) (string, model.RequestStatus, error) {
	if len(def.Steps) == 0 {
		return "", "", fmt.Errorf("workflow %q has no steps", def.ID)
	}
	stepID := def.Steps[0].ID
	status := model.StatusNew

	for i, e := range history {
		if !e.Action.Transitional() {
			continue
		}
		if e.StepID != stepID {
			return "", "", fmt.Errorf("history[%d]: event at step %q but request was at %q", i, e.StepID, stepID)
		}
		step, _ := def.Step(stepID)
		next, hasNext := def.NextStep(stepID)

		role := e.Role
		if role == "" {
			role = step.ApprovalType.Approver()
		}
		if role == "" {
			role = model.RoleOfficer
		}

		out, err := Transition(Input{
			Status:       status,
			Approval:     step.ApprovalType,
			Action:       e.Action,
			Role:         role,
			HasNext:      hasNext,
			NextApproval: next.ApprovalType,
		})
		if err != nil {
			return "", "", fmt.Errorf("history[%d]: %w", i, err)
		}
		status = out.Status
		if out.Advance && hasNext {
			stepID = next.ID
		}
	}
	return stepID, status, nil
}

// Verify checks that replaying req's history reproduces its stored step
// pointer and status.
func Verify(def model.WorkflowDefinition, req model.ServiceRequest) error {
	stepID, status, err := Replay(def, req.History)
	if err != nil {
		return err
	}
	if stepID != req.CurrentStepID || status != req.Status {
		return fmt.Errorf("replay gives (%s, %s) but request %q is at (%s, %s)",
			stepID, status, req.ID, req.CurrentStepID, req.Status)
	}
	return nil
}
