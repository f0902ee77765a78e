package cacheworker

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Admin routes live under this prefix; everything else is intercepted.
const AdminPrefix = "/__worker"

type statusResponse struct {
	State  State    `json:"state"`
	Caches []string `json:"caches"`
}

// NewRouter mounts the worker's admin routes and sends every other request
// through the worker. metricsHandler may be nil.
func NewRouter(worker *Worker, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Get("/status", statusHandler(worker))
		if metricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", metricsHandler)
		}
	})
	r.Handle("/*", worker)
	return r
}

func statusHandler(worker *Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := worker.CacheNames(r.Context())
		if err != nil {
			http.Error(w, "could not list caches", http.StatusInternalServerError)
			return
		}
		if names == nil {
			names = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResponse{State: worker.State(), Caches: names})
	}
}
