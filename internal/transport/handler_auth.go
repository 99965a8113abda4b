package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/auth"
	"github.com/govflow/govflow/internal/catalog"
	"github.com/govflow/govflow/internal/mapper"
	"github.com/govflow/govflow/model"
)

type loginBody struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// id prefers identifier, then email, then username.
func (b loginBody) id() string {
	switch {
	case b.Identifier != "":
		return b.Identifier
	case b.Email != "":
		return b.Email
	default:
		return b.Username
	}
}

func handleLogin(svc *auth.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, logger, err)
			return
		}
		res, err := svc.Login(r.Context(), body.id(), body.Password)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleMe(svc *auth.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		vm, err := svc.Me(r.Context(), rctx.UserID)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, vm)
	}
}

func handleRegister(svc *auth.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in auth.RegisterInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, logger, err)
			return
		}
		vm, err := svc.Register(r.Context(), in)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, vm)
	}
}

func handleForgotPassword(svc *auth.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, logger, err)
			return
		}
		res, err := svc.ForgotPassword(r.Context(), body.Email)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleResetPassword(svc *auth.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email       string `json:"email"`
			Token       string `json:"token"`
			NewPassword string `json:"newPassword"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, logger, err)
			return
		}
		if err := svc.ResetPassword(r.Context(), body.Email, body.Token, body.NewPassword); err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
	}
}

// Tokens are stateless, so logout only acknowledges the call.
func handleLogout(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// --- users ---

func handleUserList(c *catalog.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := c.Users.List(r.Context())
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		page, err := paginate(w, r, mapper.ToUserVMs(users))
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, page)
	}
}

func handleUserGet(c *catalog.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := c.Users.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, mapper.ToUserVM(u))
	}
}

func handleUserUpdate(c *catalog.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patch, err := readPatch(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		u, err := c.Users.Update(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, mapper.ToUserVM(u))
	}
}

func handleUserDelete(c *catalog.Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Users.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUserRole(svc *auth.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role model.Role `json:"role"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, logger, err)
			return
		}
		vm, err := svc.ChangeRole(r.Context(), chi.URLParam(r, "id"), body.Role)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, vm)
	}
}
