package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/chapterhub/internal/catalog"
	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/http/response"
	"github.com/diagnosis/chapterhub/internal/session"
)

type sessionChecker interface {
	Authenticated(ctx context.Context) bool
}

type CatalogHandler struct {
	Catalog *catalog.Catalog
	Creds   sessionChecker
}

func NewCatalogHandler(c *catalog.Catalog, creds sessionChecker) *CatalogHandler {
	return &CatalogHandler{Catalog: c, Creds: creds}
}

// Routes are mounted at /v1.
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/colleges", h.colleges)
	r.Get("/events", h.events)
	r.Get("/projects", h.projects)
	r.Get("/clubs", h.clubs)
	r.Post("/projects/{id}/like", h.like)
	return r
}

func pageQuery(r *http.Request) catalog.PageQuery {
	q := r.URL.Query()
	return catalog.PageQuery{
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
		Search: strings.TrimSpace(q.Get("search")),
		Sort:   strings.TrimSpace(q.Get("sort")),
	}
}

func (h *CatalogHandler) colleges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.Catalog.Colleges(r.Context(), catalog.CollegeQuery{
		PageQuery: pageQuery(r),
		City:      q.Get("city"),
		State:     q.Get("state"),
		Verified:  queryBool(r, "verified"),
	})
	if err != nil {
		response.FromGateway(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandler) events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	upcoming := queryBool(r, "upcoming")
	page, err := h.Catalog.Events(r.Context(), catalog.EventQuery{
		PageQuery: pageQuery(r),
		College:   q.Get("college"),
		Club:      q.Get("club"),
		Category:  q.Get("category"),
		Upcoming:  upcoming != nil && *upcoming,
	})
	if err != nil {
		response.FromGateway(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandler) projects(w http.ResponseWriter, r *http.Request) {
	page, err := h.Catalog.Projects(r.Context(), catalog.ProjectQuery{
		PageQuery: pageQuery(r),
		College:   r.URL.Query().Get("college"),
		Tags:      queryList(r, "tags"),
	})
	if err != nil {
		response.FromGateway(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandler) clubs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.Catalog.Clubs(r.Context(), catalog.ClubQuery{
		PageQuery: pageQuery(r),
		College:   q.Get("college"),
		Category:  q.Get("category"),
	})
	if err != nil {
		response.FromGateway(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

// like takes the project as the browser currently shows it and returns the
// state after the toggle, rolled back when the API refused.
func (h *CatalogHandler) like(w http.ResponseWriter, r *http.Request) {
	if !h.Creds.Authenticated(r.Context()) {
		response.LoginRequired(w, session.LoginRedirect("/projects"))
		return
	}
	var in struct {
		Liked bool `json:"isLiked"`
		Likes int  `json:"likes"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			response.BadRequest(w, "invalid input")
			return
		}
	}

	p := domain.Project{ID: chi.URLParam(r, "id"), Liked: in.Liked, Likes: in.Likes}
	if err := h.Catalog.ToggleLike(r.Context(), &p); err != nil {
		response.FromGateway(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, p)
}
