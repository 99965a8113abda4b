package workflow

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/mail"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/govflow/govflow/model"
)

// DefaultMaxDocumentBytes caps a single uploaded document.
const DefaultMaxDocumentBytes int64 = 10 << 20

// AcceptedMimeTypes lists the document types accepted for upload. Entries
// ending in "/*" match any subtype.
var AcceptedMimeTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/*",
	"text/plain",
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]*$`)

// ValidateSubmission checks data submitted at step. File fields and required
// documents are satisfied only by uploads recorded in history at the step.
// Returns nil when the submission is acceptable.
func ValidateSubmission(step model.WorkflowStepDefinition, data map[string]any, history []model.HistoryEvent) []model.FieldError {
	var errs []model.FieldError

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		f, ok := step.Field(k)
		if !ok {
			errs = append(errs, model.FieldError{Field: k, Code: model.CodeUnknownField, Message: fmt.Sprintf("%s is not a field of step %q", k, step.Name)})
			continue
		}
		if f.Type == model.FieldFile {
			errs = append(errs, model.FieldError{Field: k, Code: model.CodeInvalidType, Message: k + " is a file field; upload it as a document"})
		}
	}

	uploaded := StepDocuments(history, step.ID)
	for _, f := range step.FormFields {
		if f.Type == model.FieldFile {
			if f.Required && !hasDocument(uploaded, f.Name) {
				errs = append(errs, model.FieldError{Field: f.Name, Code: model.CodeRequired, Message: labelOf(f) + " must be uploaded"})
			}
			continue
		}

		v, present := data[f.Name]
		if !present || isEmpty(v) {
			if f.Required {
				errs = append(errs, model.FieldError{Field: f.Name, Code: model.CodeRequired, Message: labelOf(f) + " is required"})
			}
			continue
		}
		if msg := checkValue(f, v); msg != "" {
			errs = append(errs, model.FieldError{Field: f.Name, Code: codeFor(f, v), Message: msg})
		}
	}

	for _, name := range step.RequiredDocuments {
		if _, isField := step.Field(name); isField {
			continue
		}
		if !hasDocument(uploaded, name) {
			errs = append(errs, model.FieldError{Field: name, Code: model.CodeRequired, Message: name + " must be uploaded"})
		}
	}
	return errs
}

// ValidateDocument checks an upload's MIME type and size. Oversized files are
// a PAYLOAD_TOO_LARGE error.
func ValidateDocument(name, mimeType string, size, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	if size > maxBytes {
		return model.NewPayloadTooLargeError(fmt.Sprintf("%s exceeds the %d byte limit", name, maxBytes))
	}
	if size == 0 {
		return model.NewFieldValidationError([]model.FieldError{{Field: "file", Code: model.CodeRequired, Message: "file is empty"}})
	}
	if !AcceptedMime(mimeType) {
		return model.NewFieldValidationError([]model.FieldError{{
			Field:   "file",
			Code:    model.CodeInvalidType,
			Message: fmt.Sprintf("%s has unsupported type %q", name, mimeType),
		}})
	}
	return nil
}

// AcceptedMime reports whether mimeType is in AcceptedMimeTypes. Parameters
// such as charset are ignored.
func AcceptedMime(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	for _, accepted := range AcceptedMimeTypes {
		if prefix, ok := strings.CutSuffix(accepted, "/*"); ok {
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
			continue
		}
		if mediaType == accepted {
			return true
		}
	}
	return false
}

func hasDocument(docs []model.UploadedDocument, name string) bool {
	return slices.ContainsFunc(docs, func(d model.UploadedDocument) bool {
		return d.FieldName == name || d.Name == name
	})
}

func labelOf(f model.FieldDefinition) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

// codeFor distinguishes a value of the right JSON type that fails a content
// rule (INVALID_VALUE) from a value of the wrong type (INVALID_TYPE).
func codeFor(f model.FieldDefinition, v any) string {
	switch v.(type) {
	case string:
		switch f.Type {
		case model.FieldDate, model.FieldEmail, model.FieldPhone, model.FieldSelect, model.FieldRadio:
			return model.CodeInvalidValue
		}
	case []any:
		if f.Type == model.FieldCheckbox && len(f.Options) > 0 {
			return model.CodeInvalidValue
		}
	case bool:
		if f.Type == model.FieldCheckbox {
			return model.CodeInvalidValue
		}
	}
	return model.CodeInvalidType
}

// checkValue returns a message describing why v is not acceptable for f, or
// "" when it is.
func checkValue(f model.FieldDefinition, v any) string {
	label := labelOf(f)
	switch f.Type {
	case model.FieldText, model.FieldTextarea:
		if _, ok := v.(string); !ok {
			return label + " must be text"
		}
	case model.FieldNumber:
		if !isNumber(v) {
			return label + " must be a number"
		}
	case model.FieldDate:
		s, ok := v.(string)
		if !ok || !isDate(s) {
			return label + " must be a date (YYYY-MM-DD)"
		}
	case model.FieldEmail:
		s, ok := v.(string)
		if !ok {
			return label + " must be an email address"
		}
		if addr, err := mail.ParseAddress(s); err != nil || addr.Address != s {
			return label + " must be an email address"
		}
	case model.FieldPhone:
		s, ok := v.(string)
		if !ok || !isPhone(s) {
			return label + " must be a phone number"
		}
	case model.FieldSelect, model.FieldRadio:
		s, ok := v.(string)
		if !ok {
			return label + " must be one of the listed options"
		}
		if !slices.Contains(f.Options, s) {
			return fmt.Sprintf("%s must be one of %s", label, strings.Join(f.Options, ", "))
		}
	case model.FieldCheckbox:
		switch t := v.(type) {
		case bool:
			if f.Required && !t {
				return label + " must be checked"
			}
		case []any:
			if len(f.Options) == 0 {
				return label + " must be true or false"
			}
			for _, item := range t {
				s, ok := item.(string)
				if !ok || !slices.Contains(f.Options, s) {
					return fmt.Sprintf("%s must only contain %s", label, strings.Join(f.Options, ", "))
				}
			}
		default:
			return label + " must be true or false"
		}
	}
	return ""
}

func isNumber(v any) bool {
	switch t := v.(type) {
	case float64, float32, int, int64, int32:
		return true
	case json.Number:
		_, err := t.Float64()
		return err == nil
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil
	}
	return false
}

func isDate(s string) bool {
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

func isPhone(s string) bool {
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}
