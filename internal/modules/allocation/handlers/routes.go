package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all allocation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/allocate", h.HandleAllocate)

	r.Route("/recommendations", func(r chi.Router) {
		r.Post("/allocate", h.HandleAllocateRecommendation)
	})
}
