package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dreamware/hashcrack/internal/worker"
)

type workerState interface {
	Info() worker.Info
	MayContain(word string) bool
}

// containsResponse is the body of GET /welcome/contains.
type containsResponse struct {
	Word       string `json:"word"`
	MayContain bool   `json:"may_contain"`
}

func newRouter(w workerState) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	r.Get("/info", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, w.Info())
	})
	r.Get("/welcome/contains", func(rw http.ResponseWriter, req *http.Request) {
		word := req.URL.Query().Get("word")
		if word == "" {
			http.Error(rw, "missing word", http.StatusBadRequest)
			return
		}
		writeJSON(rw, containsResponse{Word: word, MayContain: w.MayContain(word)})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
