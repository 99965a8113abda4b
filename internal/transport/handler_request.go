package transport

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/document"
	"github.com/govflow/govflow/internal/mapper"
	"github.com/govflow/govflow/internal/observability"
	"github.com/govflow/govflow/internal/workflow"
	"github.com/govflow/govflow/model"
)

// UploadObserver records document upload outcomes.
type UploadObserver interface {
	RecordDocumentUpload(result string, size int64)
}

type nopUploadObserver struct{}

func (nopUploadObserver) RecordDocumentUpload(string, int64) {}

// requestHandlers serves /api/service-requests and /api/documents.
type requestHandlers struct {
	engine   *workflow.Engine
	docs     *document.FSStore
	observer UploadObserver
	logger   *zap.Logger
}

func listFilterFromQuery(r *http.Request) workflow.ListFilter {
	q := r.URL.Query()
	return workflow.ListFilter{
		Status:               model.RequestStatus(q.Get("status")),
		SubjectID:            q.Get("subjectId"),
		AssignedToUserID:     q.Get("assignedToUserId"),
		AssignedToOfficeID:   q.Get("assignedToOfficeId"),
		WorkflowDefinitionID: q.Get("workflowDefinitionId"),
	}
}

func (h requestHandlers) list(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.engine.List(r.Context(), listFilterFromQuery(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := paginate(w, r, reqs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if r.URL.Query().Get("view") == "summary" {
		rows := make([]mapper.RequestSummaryVM, len(page))
		for i, req := range page {
			rows[i] = mapper.ToRequestSummaryVM(req)
		}
		WriteJSON(w, http.StatusOK, rows)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h requestHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in workflow.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req, err := h.engine.Create(r.Context(), model.RequestContextFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, req)
}

func (h requestHandlers) get(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h requestHandlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h requestHandlers) assign(w http.ResponseWriter, r *http.Request) {
	var in workflow.AssignInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req, err := h.engine.Assign(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h requestHandlers) act(w http.ResponseWriter, r *http.Request) {
	var in workflow.ActInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	observability.DebugPayload(observability.RequestLogger(r.Context(), h.logger), "action payload",
		map[string]any{"action": string(in.Action), "comment": in.Comment, "data": in.Data})
	req, err := h.engine.Act(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h requestHandlers) history(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, events)
}

func (h requestHandlers) form(w http.ResponseWriter, r *http.Request) {
	desc, err := h.engine.Form(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

func (h requestHandlers) stepData(w http.ResponseWriter, r *http.Request) {
	data, err := h.engine.StepData(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stepId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, data)
}

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 1 << 20

// upload accepts a multipart body with a "field" naming the document slot
// and a "file" part. The slot is checked before the blob is written, and
// the blob is removed again if the history append fails.
func (h requestHandlers) upload(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	id := chi.URLParam(r, "id")

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		err = uploadError(err)
		if !model.IsKind(err, model.ErrPayloadTooLarge) {
			err = model.NewValidationError("Request body must be multipart/form-data")
		}
		h.observer.RecordDocumentUpload("rejected", 0)
		writeError(w, r, h.logger, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	field := strings.TrimSpace(r.FormValue("field"))
	file, header, fileErr := r.FormFile("file")
	var details []model.FieldError
	if field == "" {
		details = append(details, model.FieldError{Field: "field", Code: model.CodeRequired, Message: "field is required"})
	}
	if fileErr != nil {
		details = append(details, model.FieldError{Field: "file", Code: model.CodeRequired, Message: "file is required"})
	}
	if len(details) > 0 {
		if file != nil {
			_ = file.Close()
		}
		h.observer.RecordDocumentUpload("rejected", 0)
		WriteValidationError(w, details)
		return
	}
	defer func() { _ = file.Close() }()

	if err := h.engine.CheckUpload(r.Context(), rctx, id, field); err != nil {
		h.observer.RecordDocumentUpload("rejected", 0)
		writeError(w, r, h.logger, err)
		return
	}

	meta, err := h.docs.Save(r.Context(), document.Upload{
		RequestID:  id,
		FieldName:  field,
		Name:       header.Filename,
		UploadedBy: rctx.UserID,
		Body:       file,
	})
	if err != nil {
		h.observer.RecordDocumentUpload("rejected", 0)
		writeError(w, r, h.logger, uploadError(err))
		return
	}

	updated, err := h.engine.AttachDocument(r.Context(), rctx, id, meta.Uploaded())
	if err != nil {
		if delErr := h.docs.Delete(r.Context(), meta.ID); delErr != nil {
			h.logger.Warn("orphaned document", zap.String("document_id", meta.ID), zap.Error(delErr))
		}
		h.observer.RecordDocumentUpload("rejected", 0)
		writeError(w, r, h.logger, err)
		return
	}
	h.observer.RecordDocumentUpload("accepted", meta.Size)

	uploaded := meta.Uploaded()
	if n := len(updated.History); n > 0 && len(updated.History[n-1].Documents) > 0 {
		uploaded = updated.History[n-1].Documents[0]
	}
	WriteJSON(w, http.StatusCreated, uploaded)
}

// download streams a stored document with its sniffed content type.
func (h requestHandlers) download(w http.ResponseWriter, r *http.Request) {
	f, meta, err := h.docs.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": meta.Name}))
	w.Header().Set("X-Checksum-Sha256", meta.Checksum)
	http.ServeContent(w, r, meta.Name, meta.UploadedAt, f)
}

// uploadError maps body limit failures to PAYLOAD_TOO_LARGE.
func uploadError(err error) error {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.NewPayloadTooLargeError("document exceeds the upload limit")
	}
	return err
}
