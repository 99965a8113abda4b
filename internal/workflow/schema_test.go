package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govflow/govflow/model"
)

func intakeStep() model.WorkflowStepDefinition {
	return model.WorkflowStepDefinition{
		ID:   "intake",
		Name: "Intake",
		FormFields: []model.FieldDefinition{
			{Name: "businessName", Label: "Business name", Type: model.FieldText, Required: true},
			{Name: "employees", Type: model.FieldNumber},
			{Name: "contactEmail", Type: model.FieldEmail},
			{Name: "phone", Type: model.FieldPhone},
			{Name: "startDate", Type: model.FieldDate},
			{Name: "category", Type: model.FieldSelect, Options: []string{"retail", "services"}},
			{Name: "agree", Type: model.FieldCheckbox, Required: true},
			{Name: "deed", Type: model.FieldFile, Required: true},
		},
		RequiredDocuments: []string{"deed", "NIC copy"},
	}
}

func codesByField(errs []model.FieldError) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field] = e.Code
	}
	return out
}

func TestValidateSubmission_valid(t *testing.T) {
	data := map[string]any{
		"businessName": "Acme Traders",
		"employees":    float64(12),
		"contactEmail": "owner@acme.lk",
		"phone":        "+94 77 123 4567",
		"startDate":    "2024-01-15",
		"category":     "retail",
		"agree":        true,
	}
	history := []model.HistoryEvent{
		{StepID: "intake", Action: model.ActionUploadDocument, Documents: []model.UploadedDocument{{Name: "deed.pdf", FieldName: "deed"}}},
		{StepID: "intake", Action: model.ActionUploadDocument, Documents: []model.UploadedDocument{{Name: "nic.png", FieldName: "NIC copy"}}},
	}

	assert.Empty(t, ValidateSubmission(intakeStep(), data, history))
}

func TestValidateSubmission_errors(t *testing.T) {
	data := map[string]any{
		"employees":    "a dozen",
		"contactEmail": "not-an-email",
		"phone":        "12",
		"startDate":    "15/01/2024",
		"category":     "farming",
		"agree":        false,
		"deed":         "deed.pdf",
		"nickname":     "acme",
	}

	errs := ValidateSubmission(intakeStep(), data, nil)
	assert.Equal(t, map[string]string{
		"nickname":     model.CodeUnknownField,
		"deed":         model.CodeRequired,
		"businessName": model.CodeRequired,
		"employees":    model.CodeInvalidType,
		"contactEmail": model.CodeInvalidValue,
		"phone":        model.CodeInvalidValue,
		"startDate":    model.CodeInvalidValue,
		"category":     model.CodeInvalidValue,
		"agree":        model.CodeInvalidValue,
		"NIC copy":     model.CodeRequired,
	}, codesByField(errs))

	// The file field supplied as data is reported before its missing upload.
	require.NotEmpty(t, errs)
	assert.Equal(t, "deed", errs[0].Field)
	assert.Equal(t, model.CodeInvalidType, errs[0].Code)
}

func TestValidateSubmission_optionalFieldsMayBeOmitted(t *testing.T) {
	step := model.WorkflowStepDefinition{
		ID:         "s",
		FormFields: []model.FieldDefinition{{Name: "note", Type: model.FieldTextarea}},
	}
	assert.Empty(t, ValidateSubmission(step, nil, nil))
	assert.Empty(t, ValidateSubmission(step, map[string]any{"note": ""}, nil))
}

func TestValidateSubmission_checkboxOptions(t *testing.T) {
	step := model.WorkflowStepDefinition{
		ID: "s",
		FormFields: []model.FieldDefinition{
			{Name: "services", Type: model.FieldCheckbox, Options: []string{"water", "power"}},
		},
	}
	assert.Empty(t, ValidateSubmission(step, map[string]any{"services": []any{"water"}}, nil))

	errs := ValidateSubmission(step, map[string]any{"services": []any{"gas"}}, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, model.CodeInvalidValue, errs[0].Code)
}

func TestValidateSubmission_numericStrings(t *testing.T) {
	step := model.WorkflowStepDefinition{
		ID:         "s",
		FormFields: []model.FieldDefinition{{Name: "fee", Type: model.FieldNumber, Required: true}},
	}
	assert.Empty(t, ValidateSubmission(step, map[string]any{"fee": "2500.50"}, nil))
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		mime    string
		size    int64
		errKind string
	}{
		{"pdf", "application/pdf", 1024, ""},
		{"image wildcard", "image/png", 1024, ""},
		{"charset parameter", "text/plain; charset=utf-8", 10, ""},
		{"unsupported", "application/zip", 1024, model.ErrValidationFailure},
		{"empty", "application/pdf", 0, model.ErrValidationFailure},
		{"too large", "application/pdf", DefaultMaxDocumentBytes + 1, model.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument("file", tt.mime, tt.size, 0)
			if tt.errKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.errKind, model.KindOf(err))
		})
	}
}

func TestValidateDocument_customLimit(t *testing.T) {
	assert.NoError(t, ValidateDocument("a.pdf", "application/pdf", 100, 100))
	assert.True(t, model.IsKind(ValidateDocument("a.pdf", "application/pdf", 101, 100), model.ErrPayloadTooLarge))
}
