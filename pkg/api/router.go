package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"chatloom/pkg/api/handlers"
	"chatloom/pkg/auth"
	"chatloom/pkg/store"
)

// Deps carries the per-process dependencies the handlers need.
type Deps struct {
	Chat handlers.ChatDeps
	// Version is reported by /readyz to help ops verify the active binary.
	Version string
}

// NewRouter assembles the HTTP surface: health/ops endpoints at the root
// and the service API under /v1.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyzHandler(deps.Version)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.RequireSignedIdentity)
	handlers.RegisterChat(v1, deps.Chat)
	handlers.RegisterThreads(v1)
	handlers.RegisterVotes(v1)
	handlers.RegisterWorkspace(v1)

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyzHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		if version == "" {
			version = "dev"
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version + `"}`))
	}
}
