// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the GovFlow API.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/observability"
	"github.com/govflow/govflow/model"
)

// statusForKind maps ErrorEnvelope kinds to HTTP status codes.
var statusForKind = map[string]int{
	model.ErrNotFound:             http.StatusNotFound,
	model.ErrValidationFailure:    http.StatusBadRequest,
	model.ErrAuthFailure:          http.StatusUnauthorized,
	model.ErrAuthorizationFailure: http.StatusForbidden,
	model.ErrConflict:             http.StatusConflict,
	model.ErrInvalidTransition:    http.StatusConflict,
	model.ErrPayloadTooLarge:      http.StatusRequestEntityTooLarge,
	model.ErrInternal:             http.StatusInternalServerError,
}

// errorResponse is the wire form of an error. "error" repeats the message
// for clients that only read that key.
type errorResponse struct {
	Error   string             `json:"error"`
	Kind    string             `json:"errorKind"`
	Message string             `json:"message"`
	Details []model.FieldError `json:"details,omitempty"`
	TraceID string             `json:"traceId,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}

	status := statusForKind[ee.Kind]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	WriteJSON(w, status, errorResponse{
		Error:   ee.Message,
		Kind:    ee.Kind,
		Message: ee.Message,
		Details: ee.Details,
		TraceID: ee.TraceID,
	})
}

// writeError stamps the trace ID on the envelope and logs anything that is
// not a domain error before writing it.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		observability.RequestLogger(r.Context(), logger).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		ee = model.NewInternalError()
	}
	if traceID := observability.TraceIDFromContext(r.Context()); traceID != "" {
		copied := *ee
		copied.TraceID = traceID
		ee = &copied
	}
	WriteError(w, ee)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// WriteValidationError writes a 400 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewFieldValidationError(details))
}

// readBody reads the whole request body, mapping the body limit to 413.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, model.NewPayloadTooLargeError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, model.NewValidationError("could not read request body")
	}
	return body, nil
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return model.NewValidationError("Request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return model.NewValidationError("Request body must be valid JSON")
	}
	return nil
}

// Page limits.
const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// paginate applies the optional page and page_size query parameters. The
// full count is always reported in X-Total-Count; without either parameter
// every item is returned.
func paginate[E any](w http.ResponseWriter, r *http.Request, items []E) ([]E, error) {
	if items == nil {
		items = []E{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(items)))

	q := r.URL.Query()
	if !q.Has("page") && !q.Has("page_size") {
		return items, nil
	}

	var errs []model.FieldError
	page, err := queryInt(q.Get("page"), 1)
	if err != nil || page < 1 {
		errs = append(errs, model.FieldError{Field: "page", Code: model.CodeInvalidValue, Message: "page must be a positive integer"})
	}
	size, err := queryInt(q.Get("page_size"), defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		errs = append(errs, model.FieldError{
			Field: "page_size", Code: model.CodeInvalidValue,
			Message: fmt.Sprintf("page_size must be between 1 and %d", maxPageSize),
		})
	}
	if len(errs) > 0 {
		return nil, model.NewFieldValidationError(errs)
	}

	start := (page - 1) * size
	if start >= len(items) {
		return []E{}, nil
	}
	end := min(start+size, len(items))
	return items[start:end], nil
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
