package workflow

import (
	"slices"

	"github.com/govflow/govflow/model"
)

// FormDescriptor describes what a caller should render for a request's
// current step.
type FormDescriptor struct {
	RequestID    string              `json:"requestId"`
	Revision     int                 `json:"revision"`
	Status       model.RequestStatus `json:"status"`
	StepID       string              `json:"stepId"`
	StepName     string              `json:"stepName"`
	StepIndex    int                 `json:"stepIndex"`
	StepCount    int                 `json:"stepCount"`
	ApprovalType model.ApprovalType  `json:"approvalType"`
	Approver     model.Role          `json:"approver,omitempty"`
	Fields       []FormField         `json:"fields"`
	Uploads      []UploadSlot        `json:"uploads"`
	Checklist    []ChecklistItem     `json:"checklist"`
	Actions      []model.Action      `json:"actions"`
}

// FormField is a renderable input with its last saved value.
type FormField struct {
	model.FieldDefinition
	Value any `json:"value,omitempty"`
}

// UploadSlot is one document the step collects.
type UploadSlot struct {
	FieldName string                   `json:"fieldName"`
	Label     string                   `json:"label"`
	Required  bool                     `json:"required"`
	Accept    []string                 `json:"accept"`
	MaxBytes  int64                    `json:"maxBytes"`
	Documents []model.UploadedDocument `json:"documents"`
}

// ChecklistItem is one requirement of the step and whether it is met.
type ChecklistItem struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Kind     string `json:"kind"`
	Complete bool   `json:"complete"`
}

// BuildForm assembles the descriptor for req's current step as seen by role.
func BuildForm(req model.ServiceRequest, def model.WorkflowDefinition, role model.Role, maxBytes int64) (FormDescriptor, error) {
	idx := def.StepIndex(req.CurrentStepID)
	if idx < 0 {
		return FormDescriptor{}, model.NewNotFoundError("current step is not part of the workflow")
	}
	step := def.Steps[idx]
	next, hasNext := def.NextStep(step.ID)
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}

	saved := LatestStepData(req.History, step.ID)
	docs := StepDocuments(req.History, step.ID)

	desc := FormDescriptor{
		RequestID:    req.ID,
		Revision:     req.Revision,
		Status:       req.Status,
		StepID:       step.ID,
		StepName:     step.Name,
		StepIndex:    idx,
		StepCount:    len(def.Steps),
		ApprovalType: step.ApprovalType,
		Approver:     step.ApprovalType.Approver(),
		Fields:       []FormField{},
		Uploads:      []UploadSlot{},
		Checklist:    []ChecklistItem{},
		Actions:      []model.Action{},
	}

	for _, f := range step.FormFields {
		if f.Type == model.FieldFile {
			slotDocs := docsFor(docs, f.Name)
			desc.Uploads = append(desc.Uploads, UploadSlot{
				FieldName: f.Name,
				Label:     labelOf(f),
				Required:  f.Required,
				Accept:    AcceptedMimeTypes,
				MaxBytes:  maxBytes,
				Documents: slotDocs,
			})
			if f.Required {
				desc.Checklist = append(desc.Checklist, ChecklistItem{
					Name: f.Name, Label: labelOf(f), Kind: "document", Complete: len(slotDocs) > 0,
				})
			}
			continue
		}

		value := saved[f.Name]
		desc.Fields = append(desc.Fields, FormField{FieldDefinition: f, Value: value})
		if f.Required {
			desc.Checklist = append(desc.Checklist, ChecklistItem{
				Name: f.Name, Label: labelOf(f), Kind: "field", Complete: value != nil && !isEmpty(value),
			})
		}
	}

	for _, name := range step.RequiredDocuments {
		if _, isField := step.Field(name); isField {
			continue
		}
		slotDocs := docsFor(docs, name)
		desc.Uploads = append(desc.Uploads, UploadSlot{
			FieldName: name,
			Label:     name,
			Required:  true,
			Accept:    AcceptedMimeTypes,
			MaxBytes:  maxBytes,
			Documents: slotDocs,
		})
		desc.Checklist = append(desc.Checklist, ChecklistItem{
			Name: name, Label: name, Kind: "document", Complete: len(slotDocs) > 0,
		})
	}

	in := Input{
		Status:       req.Status,
		Approval:     step.ApprovalType,
		Role:         role,
		HasNext:      hasNext,
		NextApproval: next.ApprovalType,
	}
	desc.Actions = append(desc.Actions, AvailableActions(in)...)
	if !req.Status.Terminal() {
		desc.Actions = append(desc.Actions, model.ActionUploadDocument)
	}
	return desc, nil
}

func docsFor(docs []model.UploadedDocument, name string) []model.UploadedDocument {
	out := []model.UploadedDocument{}
	for _, d := range docs {
		if d.FieldName == name || d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// UploadTarget reports whether name is a document slot of step: a file field
// or a required document.
func UploadTarget(step model.WorkflowStepDefinition, name string) bool {
	if f, ok := step.Field(name); ok {
		return f.Type == model.FieldFile
	}
	return slices.Contains(step.RequiredDocuments, name)
}
