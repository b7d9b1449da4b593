package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	mw "github.com/diagnosis/chapterhub/pkg/middleware"
)

type RouterConfig struct {
	AllowedOrigins []string
	Auth           *AuthHandler
	CheckIn        *CheckInHandler
	Register       *RegisterHandler
	Catalog        *CatalogHandler
}

// NewRouter assembles the /v1 surface the browser talks to.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("chapterhub"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Mount("/auth", cfg.Auth.Routes())
		}
		if cfg.CheckIn != nil {
			r.Mount("/checkin", cfg.CheckIn.Routes())
		}
		if cfg.Register != nil {
			r.Mount("/register", cfg.Register.Routes())
		}
		if cfg.Catalog != nil {
			r.Mount("/", cfg.Catalog.Routes())
		}
	})
	return r
}
