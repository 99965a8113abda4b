// Package workflow drives service requests through their workflow
// definitions: definition validation, the lifecycle state machine, form
// validation, history replay and the request engine.
package workflow

import (
	"fmt"

	"github.com/govflow/govflow/model"
)

// Input is everything the state machine needs to evaluate one action.
type Input struct {
	Status       model.RequestStatus
	Approval     model.ApprovalType
	Action       model.Action
	Role         model.Role
	HasNext      bool
	NextApproval model.ApprovalType
}

// Outcome is the result of a permitted action. Advance means the step
// pointer moves to the next step, if there is one.
type Outcome struct {
	Status  model.RequestStatus
	Advance bool
}

// Transition evaluates an action against the current state. Completed and
// Rejected are absorbing: every action on them is an INVALID_TRANSITION.
// Non-transitional actions (Assign, UploadDocument) leave the status alone.
func Transition(in Input) (Outcome, error) {
	if in.Status.Terminal() {
		return Outcome{}, model.NewInvalidTransitionError(
			fmt.Sprintf("request is %s; no further actions are allowed", in.Status))
	}
	if !in.Role.Valid() {
		return Outcome{}, model.NewForbiddenError(fmt.Sprintf("role %q may not act on service requests", in.Role))
	}

	switch in.Action {
	case model.ActionAssign, model.ActionUploadDocument:
		return Outcome{Status: in.Status}, nil
	case model.ActionSubmit, model.ActionApprove, model.ActionReject, model.ActionRequestCorrection:
	default:
		return Outcome{}, model.NewValidationError(fmt.Sprintf("unknown action %q", in.Action))
	}

	if in.Approval.Gated() {
		return approvalStep(in)
	}
	return workStep(in)
}

func workStep(in Input) (Outcome, error) {
	switch in.Action {
	case model.ActionSubmit:
		switch in.Status {
		case model.StatusNew, model.StatusInProgress, model.StatusCorrectionRequested:
			return advance(in, submittedStatus(in)), nil
		}
	case model.ActionReject:
		return Outcome{Status: model.StatusRejected}, nil
	}
	return Outcome{}, invalid(in)
}

func approvalStep(in Input) (Outcome, error) {
	if in.Action != model.ActionSubmit && in.Role != in.Approval.Approver() {
		return Outcome{}, model.NewForbiddenError(
			fmt.Sprintf("%s requires role %s", in.Action, in.Approval.Approver()))
	}

	switch in.Action {
	case model.ActionSubmit:
		switch in.Status {
		case model.StatusNew, model.StatusInProgress:
			return Outcome{Status: model.StatusPendingApproval}, nil
		case model.StatusCorrectionRequested:
			return Outcome{Status: model.StatusPendingReview}, nil
		}
	case model.ActionApprove:
		switch in.Status {
		case model.StatusNew, model.StatusInProgress, model.StatusPendingApproval, model.StatusPendingReview:
			return advance(in, model.StatusInProgress), nil
		}
	case model.ActionReject:
		return Outcome{Status: model.StatusRejected}, nil
	case model.ActionRequestCorrection:
		if in.Status != model.StatusCorrectionRequested {
			return Outcome{Status: model.StatusCorrectionRequested}, nil
		}
	}
	return Outcome{}, invalid(in)
}

// advance moves past the current step. otherwise is the status used when
// the next step is an ungated work step.
func advance(in Input, otherwise model.RequestStatus) Outcome {
	switch {
	case !in.HasNext:
		return Outcome{Status: model.StatusCompleted, Advance: true}
	case in.NextApproval.Gated():
		return Outcome{Status: model.StatusPendingApproval, Advance: true}
	default:
		return Outcome{Status: otherwise, Advance: true}
	}
}

// submittedStatus keeps the status after a work-step submission, except that
// answering a correction request puts the request back in progress.
func submittedStatus(in Input) model.RequestStatus {
	if in.Status == model.StatusCorrectionRequested {
		return model.StatusInProgress
	}
	return in.Status
}

func invalid(in Input) error {
	return model.NewInvalidTransitionError(
		fmt.Sprintf("%s is not allowed while the request is %s", in.Action, in.Status))
}

// AvailableActions lists the transitional actions role may take now.
func AvailableActions(in Input) []model.Action {
	var actions []model.Action
	for _, a := range []model.Action{
		model.ActionSubmit, model.ActionApprove, model.ActionReject, model.ActionRequestCorrection,
	} {
		in.Action = a
		if _, err := Transition(in); err == nil {
			actions = append(actions, a)
		}
	}
	return actions
}
