package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/snapshot", func(r chi.Router) {
		r.Get("/", h.HandleGetSnapshot)
		r.Post("/refresh", h.HandleRefresh)
		r.Get("/expected-returns", h.HandleGetExpectedReturns)
		r.Get("/forecasts/{id}", h.HandleGetForecast)
	})
}
