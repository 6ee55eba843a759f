package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/coordinator"
)

type statusSource interface {
	Status() coordinator.Status
}

type memberLister interface {
	Members() []cluster.Member
}

// newRouter builds the coordinator's HTTP surface:
//
//	GET /health   liveness probe
//	GET /members  this coordinator followed by every connected worker
//	GET /status   master progress as JSON
//	GET /metrics  Prometheus exposition
//	GET /ws       worker websocket endpoint
func newRouter(self cluster.Member, status statusSource, members memberLister, ws http.Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/members", func(w http.ResponseWriter, _ *http.Request) {
		all := append([]cluster.Member{self}, members.Members()...)
		writeJSON(w, cluster.MembersResponse{Members: all})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status.Status())
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, "/ws", ws)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
