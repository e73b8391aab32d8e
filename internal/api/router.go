package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/v1/health", h.Health)

	r.Route("/v1/scheduler", func(sr chi.Router) {
		sr.Get("/status", h.SchedulerStatus)
		sr.Post("/start", h.SchedulerStart)
		sr.Post("/stop", h.SchedulerStop)
	})

	r.Route("/v1/sessions", func(sr chi.Router) {
		sr.Get("/", h.ListSessions)
		sr.Post("/{id}/start", h.StartSession)
		sr.Post("/{id}/stop", h.StopSession)
		sr.Get("/{id}/messages", h.ListMessages)
		sr.Post("/{id}/messages", h.SendMessage)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("chat-delivery"))
	})

	return r
}
