package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	custommiddleware "github.com/mmeshcher/doorprize-api/internal/middleware"
)

const defaultRequestTimeout = 2 * time.Minute

// SetupRouter настраивает HTTP-маршруты и middleware сервиса doorprize.
func (h *Handler) SetupRouter() *chi.Mux {
	timeout := defaultRequestTimeout
	origins := []string{"*"}
	if h.cfg != nil {
		if h.cfg.RequestTimeout > 0 {
			timeout = h.cfg.RequestTimeout
		}
		if len(h.cfg.AllowedOrigins) > 0 {
			origins = h.cfg.AllowedOrigins
		}
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Recoverer(h.logger))
	r.Use(chimiddleware.Timeout(timeout))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", custommiddleware.APIKeyHeader},
	}).Handler)
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/", h.Index)

	r.Route("/api", func(r chi.Router) {
		r.Get("/vouchers", h.ListVouchers)
		r.With(h.apiKey.Middleware).Post("/vouchers", h.CreateVoucher)

		r.Get("/source", h.Source)
		r.Get("/live-url", h.LiveURL)
		r.Get("/health", h.Health)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
