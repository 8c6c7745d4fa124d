package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && !a.backend.persistent() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if err := a.backend.ping(r.Context()); err != nil {
			a.log.Info("readyz.db.not_ready", "backend", a.backend.kind, "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if a.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	}

	a.auth.Register(mux)
	a.sessions.Register(mux)

	mux.HandleFunc("GET /ws", a.ws.HandleWS)
}
