package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRequestData_JSON_keeps_unknown_keys(t *testing.T) {
	in := []byte(`{"subjectId":"1","citizenName":"Nimal","nicNumber":"901234567V","businessName":"Nimal Stores"}`)

	var d ServiceRequestData
	require.NoError(t, json.Unmarshal(in, &d))
	assert.Equal(t, "1", d.SubjectID)
	assert.Equal(t, "Nimal", d.CitizenName)
	assert.Equal(t, "901234567V", d.NICNumber)
	assert.Equal(t, "Nimal Stores", d.Extra["businessName"])

	out, err := json.Marshal(d)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "Nimal Stores", back["businessName"])
	assert.Equal(t, "1", back["subjectId"])
	assert.NotContains(t, back, "serviceCategoryId")
}

func TestServiceRequestData_Unmarshal_merges(t *testing.T) {
	d := ServiceRequestData{SubjectID: "1", CitizenName: "Nimal"}
	require.NoError(t, json.Unmarshal([]byte(`{"nicNumber":"X"}`), &d))
	assert.Equal(t, "Nimal", d.CitizenName)
	assert.Equal(t, "X", d.NICNumber)
}

func TestServiceRequest_Clone_isolates_history(t *testing.T) {
	orig := ServiceRequest{
		History: []HistoryEvent{{
			StepID: "a",
			Data:   map[string]any{"nested": map[string]any{"k": "v"}},
		}},
	}
	c := orig.Clone()
	c.History[0].StepID = "b"
	c.History[0].Data["nested"].(map[string]any)["k"] = "changed"
	c.History = append(c.History, HistoryEvent{StepID: "z"})

	assert.Equal(t, "a", orig.History[0].StepID)
	assert.Equal(t, "v", orig.History[0].Data["nested"].(map[string]any)["k"])
	assert.Len(t, orig.History, 1)
}

func TestWorkflowDefinition_navigation(t *testing.T) {
	def := WorkflowDefinition{Steps: []WorkflowStepDefinition{{ID: "a"}, {ID: "b"}}}

	assert.Equal(t, 1, def.StepIndex("b"))
	assert.Equal(t, -1, def.StepIndex("missing"))

	next, ok := def.NextStep("a")
	require.True(t, ok)
	assert.Equal(t, "b", next.ID)

	_, ok = def.NextStep("b")
	assert.False(t, ok)
}

func TestWorkflowDefinition_Clone_isolates_steps(t *testing.T) {
	def := WorkflowDefinition{Steps: []WorkflowStepDefinition{{
		ID:         "a",
		FormFields: []FieldDefinition{{Name: "f", Options: []string{"x"}}},
	}}}
	c := def.Clone()
	c.Steps[0].FormFields[0].Options[0] = "y"
	c.Steps[0].ID = "changed"

	assert.Equal(t, "a", def.Steps[0].ID)
	assert.Equal(t, "x", def.Steps[0].FormFields[0].Options[0])
}

func TestApprovalType(t *testing.T) {
	assert.False(t, ApprovalNone.Gated())
	assert.True(t, ApprovalSectionHead.Gated())
	assert.Equal(t, RoleDepartmentHead, ApprovalDepartmentHead.Approver())
	assert.True(t, ApprovalType("").Valid())
	assert.False(t, ApprovalType("Mayor").Valid())
}

func TestRequestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusPendingApproval.Terminal())
}
