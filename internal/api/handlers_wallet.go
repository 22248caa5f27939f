package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mint-scanner/internal/logging"
)

// parseForce reads the optional force query flag.
func parseForce(r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("force")
	if raw == "" {
		return false, true
	}
	force, err := strconv.ParseBool(raw)
	return force, err == nil
}

// handleSyncWallet handles POST /api/wallets/{address}/sync
func (s *Server) handleSyncWallet(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	force, ok := parseForce(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "force must be true or false", nil)
		return
	}

	result, err := s.syncService.SyncWallet(r.Context(), address, force)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("address", address).Warn("Wallet sync failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetInventory handles GET /api/wallets/{address}/nfts
func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	inventory, err := s.inventoryService.GetInventory(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inventory)
}

// handleGetSyncStatus handles GET /api/wallets/{address}/sync-status
func (s *Server) handleGetSyncStatus(w http.ResponseWriter, r *http.Request) {
	checkpoint, err := s.syncService.GetSyncStatus(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, checkpoint)
}

// handleListTiers handles GET /api/tiers
func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.inventoryService.ListTiers(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": tiers,
		"count": len(tiers),
	})
}
