package app

import (
	"net/http"
	"time"

	"humaniq/cmd/internal/accessapi"
	"humaniq/cmd/internal/metrics"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	be *backend,
	m *metrics.Metrics,
	api *accessapi.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && (be == nil || be.kind == "memory") {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if be != nil {
			if err := be.Ping(r.Context(), 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "backend", be.kind, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", m.Handler())

	if api != nil {
		api.Register(mux)
	}
}
