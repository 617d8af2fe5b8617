package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all universe routes
func (h *UniverseHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/assets", func(r chi.Router) {
		r.Get("/", h.HandleListAssets)
		r.Post("/", h.HandleUpsertAsset)
		r.Post("/import", h.HandleImportPrices)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetAsset)
			r.Get("/prices", h.HandleGetPrices)
			r.Get("/forecast", h.HandleGetForecast)
			r.Get("/sharpe", h.HandleGetSharpe)
		})
	})

	r.Post("/sharpe/rank", h.HandleRankSharpe)
}
