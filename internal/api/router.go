package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// RequestTimeout bounds every route except batch runs.
	RequestTimeout time.Duration
}

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// A batch holds the request until every row is terminal.
		r.Post("/batches", h.RunBatch)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			r.Post("/rows", h.LoadRows)
			r.Get("/rows", h.GetRows)

			r.Get("/results", h.GetResults)
			r.Delete("/results", h.ClearResults)
			r.Get("/results/export", h.ExportResults)

			r.Get("/rules", h.GetRules)
			r.Put("/rules", h.PutRules)
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.PutSettings)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", h.DownloadSession)
				r.Put("/", h.UploadSession)
				r.Post("/new", h.NewSession)
				r.Post("/save", h.SaveSession)
				r.Post("/load", h.LoadSession)
			})

			r.Get("/template", h.Template)
		})
	})

	return r
}
