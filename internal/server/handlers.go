package server

import (
	"net/http"

	"github.com/aristath/frontier/internal/utils"
)

// Version is the service version reported by the health endpoint
var Version = "dev"

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"service": "frontier",
	}

	utils.WriteJSON(w, http.StatusOK, response, s.log)
}
