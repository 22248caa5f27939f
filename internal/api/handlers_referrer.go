package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// handleGetCommission handles GET /api/referrers/{address}/commission
func (s *Server) handleGetCommission(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.commissionService.GetCommissionSnapshot(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// handleGetRanking handles GET /api/referrers/ranking?limit=N
func (s *Server) handleGetRanking(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", map[string]interface{}{
				"limit": raw,
			})
			return
		}
		limit = n
	}

	ranking, err := s.commissionService.Ranking(r.Context(), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ranking": ranking,
		"count":   len(ranking),
	})
}
