package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v1 "github.com/tinoosan/vodcache/api/v1"
	"github.com/tinoosan/vodcache/internal/auth"
	"github.com/tinoosan/vodcache/internal/repo"
	"github.com/tinoosan/vodcache/internal/service"
)

// Pinger is a readiness dependency such as the storage directory or the
// ledger database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, svc service.Downloads, ledger repo.AssetReader, token string, ready ...Pinger) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, p := range ready {
			if err := p.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", "err", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h := v1.NewVideoHandler(logger, svc, ledger)

	r.Use(v1.RequestID)
	r.Use(h.Log)
	r.Use(auth.Middleware(token))

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/videos", h.ListVideos)
	get.HandleFunc("/videos/{id}", h.GetVideo)
	get.HandleFunc("/downloads/active", h.GetActive)
	get.HandleFunc("/events", h.Events)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/videos/{id}/download", h.StartDownload)
	post.Use(v1.MiddlewareStartValidation)

	// DELETEs
	del := api.Methods("DELETE").Subrouter()
	del.HandleFunc("/videos/{id}", h.DeleteVideo)
	del.HandleFunc("/downloads/active", h.CancelActive)

	return r
}
