package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/access"
	"github.com/govflow/govflow/internal/catalog"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// resource wires the CRUD routes of one catalog service. Reads need only
// authentication; writes need perm.
type resource[E any, P store.Record[E]] struct {
	svc    *catalog.Service[E, P]
	perm   string
	logger *zap.Logger

	// lister replaces svc.List when the query string selects a subset.
	lister func(r *http.Request) ([]E, error)

	// filter, when set, narrows list results using the query string.
	filter func(r *http.Request, items []E) []E
}

func (res resource[E, P]) mount(r chi.Router, policy *access.Policy) {
	write := RequirePermission(policy, res.perm)
	r.Get("/", res.list)
	r.With(write).Post("/", res.create)
	r.Get("/{id}", res.get)
	r.With(write).Put("/{id}", res.update)
	r.With(write).Delete("/{id}", res.remove)
}

func (res resource[E, P]) list(w http.ResponseWriter, r *http.Request) {
	var (
		items []E
		err   error
	)
	if res.lister != nil {
		items, err = res.lister(r)
	} else {
		items, err = res.svc.List(r.Context())
	}
	if err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	if res.filter != nil {
		items = res.filter(r, items)
	}
	page, err := paginate(w, r, items)
	if err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (res resource[E, P]) get(w http.ResponseWriter, r *http.Request) {
	item, err := res.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

func (res resource[E, P]) create(w http.ResponseWriter, r *http.Request) {
	var item E
	if err := decodeJSON(r, &item); err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	created, err := res.svc.Create(r.Context(), item)
	if err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (res resource[E, P]) update(w http.ResponseWriter, r *http.Request) {
	patch, err := readPatch(r)
	if err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	updated, err := res.svc.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (res resource[E, P]) remove(w http.ResponseWriter, r *http.Request) {
	if err := res.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, res.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readPatch reads a JSON object body for a partial update.
func readPatch(r *http.Request) ([]byte, error) {
	var patch map[string]json.RawMessage
	if err := decodeJSON(r, &patch); err != nil {
		return nil, err
	}
	if patch == nil {
		return nil, model.NewValidationError("Request body must be a JSON object")
	}
	return json.Marshal(patch)
}

// markNotificationRead lets the recipient, or anyone who may write
// notifications, flag a notification as read.
func markNotificationRead(c *catalog.Catalog, policy *access.Policy, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		id := chi.URLParam(r, "id")

		n, err := c.Notifications.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		if n.UserID != rctx.UserID && !policy.Allowed(rctx.Role, model.PermNotificationsWrite) {
			WriteForbidden(w, "Forbidden: not your notification")
			return
		}
		updated, err := c.MarkNotificationRead(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}
