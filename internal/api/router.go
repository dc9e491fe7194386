package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/lognexus/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(s.log, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.log))
	r.Use(middleware.PrometheusMiddleware)

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/servers", func(r chi.Router) {
			r.Get("/", s.listServers)
			r.Post("/{name}/heartbeat", s.heartbeat)
			r.Put("/{name}/maintenance", s.setMaintenance)
		})

		r.Get("/logs", s.queryLogs)
		r.Post("/logs", s.ingestLogs)
		r.Get("/jobs", s.listJobs)
		r.Post("/jobs", s.registerJob)
		r.Put("/jobs/{id}/active", s.setJobActive)
		r.Get("/executions/running", s.listRunningExecutions)
		r.Post("/executions", s.startExecution)
		r.Post("/executions/{id}/complete", s.completeExecution)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.listAlerts)
			r.Post("/evaluate", s.evaluateAlerts)
			r.Get("/{id}", s.getAlert)
			r.Post("/{id}/trigger", s.triggerAlert)
		})

		r.Route("/alert-instances", func(r chi.Router) {
			r.Get("/", s.listInstances)
			r.Post("/bulk/acknowledge", s.bulkAcknowledge)
			r.Post("/bulk/resolve", s.bulkResolve)
			r.Get("/{id}", s.getInstance)
			r.Post("/{id}/acknowledge", s.acknowledgeInstance)
			r.Post("/{id}/resolve", s.resolveInstance)
			r.Post("/{id}/suppress", s.suppressInstance)
		})

		r.Get("/events", s.streamEvents)
	})

	return r
}
