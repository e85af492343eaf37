package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/eventlog"
	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Services are the components the HTTP API exposes.
type Services struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Ledger       *conflict.Ledger
	Events       *eventlog.Log
	Scorer       *scoring.Scorer
}

func NewRouter(svc Services, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	tasks := NewTasksHandler(svc.Store, svc.Orchestrator)
	deps := NewDependenciesHandler(svc.Orchestrator)
	conflicts := NewConflictsHandler(svc.Orchestrator, svc.Ledger)
	events := NewEventsHandler(svc.Events)
	agents := NewAgentsHandler(svc.Store, svc.Orchestrator, svc.Scorer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", tasks.Create)
		r.Get("/tasks", tasks.List)
		r.Get("/tasks/{id}", tasks.Get)
		r.Get("/tasks/{id}/dependencies", deps.ListForTask)
		r.Get("/tasks/{id}/candidates", tasks.Candidates)
		r.Post("/dependencies", deps.Create)
		r.Get("/projects/{project}/ready", tasks.Ready)

		r.Get("/conflicts", conflicts.List)
		r.Get("/conflicts/{id}", conflicts.Get)
		r.Get("/conflicts/{id}/decisions", conflicts.Decisions)
		r.Post("/conflicts", conflicts.Raise)

		r.Get("/events", events.List)
		r.Get("/events/{id}", events.Get)
		r.Get("/events/{id}/deliveries", events.Deliveries)
		r.Post("/events", events.Append)

		// Agent reports
		r.Group(func(r chi.Router) {
			r.Use(AgentIDMiddleware)
			r.Post("/tasks/{id}/start", tasks.Start)
			r.Post("/tasks/{id}/complete", tasks.Complete)
			r.Post("/tasks/{id}/fail", tasks.Fail)
		})

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Delete("/tasks/{id}", tasks.Delete)
			r.Post("/tasks/{id}/reopen", tasks.Reopen)
			r.Post("/tasks/{id}/assign", tasks.Assign)
			r.Delete("/projects/{project}/dependencies/{id}", deps.Delete)

			r.Post("/conflicts/{id}/ignore", conflicts.Ignore)
			r.Post("/conflicts/{id}/assign", conflicts.Assign)
			r.Post("/conflicts/{id}/decisions", conflicts.Decide)
			r.Patch("/decisions/{id}", conflicts.Annotate)

			r.Get("/deliveries", events.Deliveries)
			r.Post("/deliveries/{id}/requeue", events.Requeue)

			r.Get("/agents", agents.List)
			r.Get("/agents/{id}", agents.Get)
			r.Put("/agents/{id}", agents.Upsert)
			r.Get("/agents/{id}/history", agents.History)
			r.Post("/agents/{id}/stopped", agents.Stopped)
		})
	})

	return r
}

func NewMetricsRouter(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}
