package api

import (
	"net/http"

	"github.com/gorilla/mux"
	apperrors "github.com/mint-scanner/internal/errors"
)

// handleSyncAll handles POST /api/admin/sync-all. The run continues in the
// background after the response; only one run is allowed at a time.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	force, ok := parseForce(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "force must be true or false", nil)
		return
	}

	if !s.syncingAll.CompareAndSwap(false, true) {
		respondServiceError(w, apperrors.NewConflictError(ErrCodeSyncAllRunning, "a sync-all run is already in progress"))
		return
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		defer s.syncingAll.Store(false)

		summary, err := s.syncService.SyncAllWallets(s.bgCtx, force)
		if err != nil {
			s.logger.WithError(err).Warn("Background sync-all ended early")
			return
		}
		s.logger.WithFields(map[string]interface{}{
			"total":   summary.Total,
			"success": summary.Success,
			"partial": summary.Partial,
			"errors":  summary.Errors,
		}).Info("Background sync-all finished")
	}()

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
		"force":  force,
	})
}

// handleResetWallet handles POST /api/admin/wallets/{address}/reset
func (s *Server) handleResetWallet(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	deleted, err := s.syncService.ResetWallet(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address":        address,
		"deletedRecords": deleted,
	})
}

// handleGetStats handles GET /api/admin/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.syncService.GetStats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats":   stats,
		"syncAll": s.syncingAll.Load(),
	})
}
