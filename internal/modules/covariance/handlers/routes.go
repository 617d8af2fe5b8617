package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all covariance routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/covariance", func(r chi.Router) {
		r.Get("/", h.HandleGetCovariance)
		r.Get("/correlations", h.HandleGetCorrelations)
	})
}
