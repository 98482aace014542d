/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/uploads/*   Contribution file ingestion
  /api/pods/*      Pod Lead allocation workflow
  /api/metrics/*   Org/department/pod/employee breakdowns
  /api/reports/*   Final master list generation and download

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", h.ListUploads)
			r.Post("/", h.UploadContributions)
			r.Post("/initial", h.UploadInitial)
			r.Get("/{id}", h.GetUpload)
			r.Post("/{id}/reparse", h.Reparse)
			r.Get("/{id}/errors.csv", h.UploadErrorsCSV)
		})

		r.Route("/pods/{podID}", func(r chi.Router) {
			r.Post("/allocations/submit", h.SubmitAllocations)
			r.Post("/allocations/process", h.ProcessAllocations)
			r.Get("/allocation-sheet", h.AllocationSheet)
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/org", h.OrgMetrics)
			r.Get("/departments/{id}", h.DepartmentMetrics)
			r.Get("/pods/{id}", h.PodMetrics)
			r.Get("/employees/{id}", h.EmployeeMetrics)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Post("/final-master-list", h.GenerateMasterList)
			r.Get("/final-master-list", h.DownloadMasterList)
		})
	})

	return r
}
