package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/chapterhub/internal/http/response"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/pkg/logger"
	"github.com/diagnosis/chapterhub/pkg/validator"
)

type AuthHandler struct {
	Session *session.Session
	Gateway session.Poster
}

func NewAuthHandler(sess *session.Session, gw session.Poster) *AuthHandler {
	return &AuthHandler{Session: sess, Gateway: gw}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
	return r
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, "invalid input")
		return
	}
	in.Email = strings.TrimSpace(in.Email)
	if errs := validator.Validate(in); errs != nil {
		response.WriteErrorWithDetails(w, http.StatusBadRequest, "invalid input", response.CodeInvalidInput, describe(errs))
		return
	}

	user, err := h.Session.Login(r.Context(), h.Gateway, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidLogin) {
			response.BadRequest(w, err.Error())
			return
		}
		logger.WarnContext(r.Context(), "Login failed", "error", err)
		response.FromGateway(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Logout(r.Context()); err != nil {
		logger.ErrorContext(r.Context(), "Failed to clear session", "error", err)
		response.InternalError(w, "failed to log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Session.User(r.Context())
	if errors.Is(err, session.ErrNotAuthenticated) {
		response.LoginRequired(w, session.LoginRedirect(r.URL.Query().Get("return")))
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to read session", "error", err)
		response.InternalError(w, "failed to read session")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"user": user})
}

// describe flattens validator output into "field: tag" pairs.
func describe(errs map[string]string) string {
	parts := make([]string, 0, len(errs))
	for field, tag := range errs {
		parts = append(parts, field+": "+tag)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
