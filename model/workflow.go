package model

// ApprovalType gates a workflow step on a role.
type ApprovalType string

// Approval types.
const (
	ApprovalNone           ApprovalType = "None"
	ApprovalSectionHead    ApprovalType = "SectionHead"
	ApprovalDepartmentHead ApprovalType = "DepartmentHead"
)

// Gated reports whether the step requires an approver.
func (a ApprovalType) Gated() bool {
	return a == ApprovalSectionHead || a == ApprovalDepartmentHead
}

// Valid reports whether a is a recognised approval type. The empty value is
// treated as None.
func (a ApprovalType) Valid() bool {
	switch a {
	case "", ApprovalNone, ApprovalSectionHead, ApprovalDepartmentHead:
		return true
	}
	return false
}

// Approver returns the role that may act on a gated step.
func (a ApprovalType) Approver() Role {
	switch a {
	case ApprovalSectionHead:
		return RoleSectionHead
	case ApprovalDepartmentHead:
		return RoleDepartmentHead
	}
	return ""
}

// FieldType is the input type of a form field.
type FieldType string

// Field types.
const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
	FieldFile     FieldType = "file"
)

// FieldTypes lists every recognised field type.
var FieldTypes = []FieldType{
	FieldText, FieldNumber, FieldDate, FieldEmail, FieldPhone,
	FieldTextarea, FieldSelect, FieldCheckbox, FieldRadio, FieldFile,
}

// Valid reports whether t is a recognised field type.
func (t FieldType) Valid() bool {
	for _, known := range FieldTypes {
		if t == known {
			return true
		}
	}
	return false
}

// FieldDefinition describes one input on a step form.
type FieldDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []string  `json:"options,omitempty"`
}

// WorkflowStepDefinition is one step of a workflow.
type WorkflowStepDefinition struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	OfficeID          string            `json:"officeId,omitempty"`
	SectionID         string            `json:"sectionId,omitempty"`
	ApprovalType      ApprovalType      `json:"approvalType"`
	FormFields        []FieldDefinition `json:"formFields"`
	RequiredDocuments []string          `json:"requiredDocuments,omitempty"`
	EstimatedDuration string            `json:"estimatedDuration,omitempty"`
}

// WorkflowDefinition is an ordered list of steps bound to a subject.
// Version is a free-text label; Meta.Revision is the concurrency token.
type WorkflowDefinition struct {
	Meta
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	SubjectID   string                   `json:"subjectId"`
	Version     string                   `json:"version,omitempty"`
	IsActive    bool                     `json:"isActive"`
	Steps       []WorkflowStepDefinition `json:"steps"`
	CreatedBy   string                   `json:"createdBy,omitempty"`
}

// Clone returns a deep copy.
func (d WorkflowDefinition) Clone() WorkflowDefinition {
	if d.Steps == nil {
		return d
	}
	steps := make([]WorkflowStepDefinition, len(d.Steps))
	for i, s := range d.Steps {
		s.RequiredDocuments = append([]string(nil), s.RequiredDocuments...)
		if s.FormFields != nil {
			fields := make([]FieldDefinition, len(s.FormFields))
			for j, f := range s.FormFields {
				f.Options = append([]string(nil), f.Options...)
				fields[j] = f
			}
			s.FormFields = fields
		}
		steps[i] = s
	}
	d.Steps = steps
	return d
}

// StepIndex returns the position of the step with the given ID, or -1.
func (d *WorkflowDefinition) StepIndex(stepID string) int {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// Step returns the step with the given ID.
func (d *WorkflowDefinition) Step(stepID string) (WorkflowStepDefinition, bool) {
	if i := d.StepIndex(stepID); i >= 0 {
		return d.Steps[i], true
	}
	return WorkflowStepDefinition{}, false
}

// NextStep returns the step after stepID, if any.
func (d *WorkflowDefinition) NextStep(stepID string) (WorkflowStepDefinition, bool) {
	i := d.StepIndex(stepID)
	if i < 0 || i+1 >= len(d.Steps) {
		return WorkflowStepDefinition{}, false
	}
	return d.Steps[i+1], true
}

// Field returns the field with the given name on a step.
func (s WorkflowStepDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.FormFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}
