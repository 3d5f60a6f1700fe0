package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest/{channel}", h.Ingest)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Get("/tasks/{id}/export", h.ExportTask)

		r.Get("/member/confirm/{token}", h.MemberView)
		r.Post("/member/confirm/{token}", h.MemberConfirm)
	})

	// Public confirmation page, linked from outbound messages.
	r.Get("/confirm/{token}", h.ConfirmPage)
	r.Post("/confirm/{token}", h.ConfirmPageSubmit)

	return r
}
