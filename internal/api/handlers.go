/**
 * @description
 * This file contains the HTTP handlers for the registry-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the lifecycle /
 * ledger logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/assetvault/registry-service/internal/app"
	"github.com/assetvault/registry-service/internal/domain"
	"github.com/assetvault/registry-service/internal/store"
)

// RegistryHandlers holds the application service that handlers will use.
type RegistryHandlers struct {
	service *app.Service
}

// NewRegistryHandlers creates a new instance of RegistryHandlers.
func NewRegistryHandlers(service *app.Service) *RegistryHandlers {
	return &RegistryHandlers{service: service}
}

// transferResponse mirrors the transfer history record for API clients.
type transferResponse struct {
	AssetID string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
	Seq     int64  `json:"seq"`
}

// tokenizeResponse is the success shape for tokenization requests.
type tokenizeResponse struct {
	AssetID     string             `json:"id"`
	TotalSupply uint64             `json:"total_supply"`
	Decimals    uint32             `json:"decimals"`
	Owner       string             `json:"owner"`
	Status      domain.AssetStatus `json:"status"`
}

// RegisterAssetHandler handles asset registration requests.
func (h *RegistryHandlers) RegisterAssetHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}

	var req domain.RegisterAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=register_asset outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	asset, err := h.service.RegisterAsset(r.Context(), principal, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=register_asset outcome=failed principal=%s asset_id=%s err=%v", principal, req.ID, err)
		if errors.Is(err, store.ErrAssetAlreadyExists) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, app.ErrInvalidAssetID) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=register_asset outcome=created principal=%s asset_id=%s", principal, asset.ID)
	h.writeJSON(w, http.StatusCreated, asset)
}

// GetAssetHandler returns the full asset record.
func (h *RegistryHandlers) GetAssetHandler(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	asset, err := h.service.GetAsset(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			h.writeError(w, http.StatusNotFound, "Asset not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_asset asset_id=%s err=%v", assetID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, asset)
}

// UpdateMetadataHandler replaces an asset's metadata reference.
func (h *RegistryHandlers) UpdateMetadataHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}
	assetID := chi.URLParam(r, "assetID")

	var req domain.UpdateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if _, err := h.service.UpdateMetadata(r.Context(), principal, assetID, req.MetadataRef); err != nil {
		log.Printf("level=warn component=api endpoint=update_metadata outcome=failed principal=%s asset_id=%s err=%v", principal, assetID, err)
		h.writeAssetError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "updated": true})
}

// VerifyAssetHandler records a verifier decision on a pending asset.
func (h *RegistryHandlers) VerifyAssetHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}
	assetID := chi.URLParam(r, "assetID")

	var req domain.VerifyAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	asset, err := h.service.VerifyAsset(r.Context(), principal, assetID, req.Approve)
	if err != nil {
		log.Printf("level=warn component=api endpoint=verify_asset outcome=failed principal=%s asset_id=%s err=%v", principal, assetID, err)
		if errors.Is(err, app.ErrUnauthorizedVerifier) {
			h.writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if errors.Is(err, app.ErrVerificationClosed) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeAssetError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=verify_asset outcome=recorded principal=%s asset_id=%s approved=%t", principal, assetID, req.Approve)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "approved": req.Approve, "status": asset.Status})
}

// TokenizeAssetHandler creates the fixed-supply token ledger for a verified asset.
func (h *RegistryHandlers) TokenizeAssetHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}
	assetID := chi.URLParam(r, "assetID")

	var req domain.TokenizeAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	asset, info, err := h.service.TokenizeAsset(r.Context(), principal, assetID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=tokenize_asset outcome=failed principal=%s asset_id=%s err=%v", principal, assetID, err)
		if errors.Is(err, store.ErrAlreadyTokenized) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, app.ErrInvalidAmount) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeAssetError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=tokenize_asset outcome=tokenized principal=%s asset_id=%s total_supply=%d", principal, assetID, info.TotalSupply)
	h.writeJSON(w, http.StatusCreated, tokenizeResponse{
		AssetID:     asset.ID,
		TotalSupply: info.TotalSupply,
		Decimals:    info.Decimals,
		Owner:       asset.Owner,
		Status:      asset.Status,
	})
}

// TransferTokensHandler moves fractional ownership from the caller to a recipient.
func (h *RegistryHandlers) TransferTokensHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}
	assetID := chi.URLParam(r, "assetID")

	var req domain.TransferTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	record, err := h.service.TransferTokens(r.Context(), principal, assetID, req.Recipient, req.Amount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=transfer_tokens outcome=failed principal=%s asset_id=%s err=%v", principal, assetID, err)
		if errors.Is(err, app.ErrTransferRateLimited) {
			h.writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		if errors.Is(err, store.ErrInsufficientTokens) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if errors.Is(err, app.ErrInvalidAmount) || errors.Is(err, app.ErrInvalidIdentity) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, app.ErrComplianceCheckFailed) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.writeAssetError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=transfer_tokens outcome=transferred principal=%s asset_id=%s recipient=%s amount=%d seq=%d",
		principal, assetID, record.To, record.Amount, record.Seq)
	h.writeJSON(w, http.StatusCreated, transferResponse{
		AssetID: record.AssetID,
		From:    record.From,
		To:      record.To,
		Amount:  record.Amount,
		Seq:     record.Seq,
	})
}

// RetireAssetHandler moves an asset to its terminal retired state.
func (h *RegistryHandlers) RetireAssetHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}
	assetID := chi.URLParam(r, "assetID")

	if _, err := h.service.RetireAsset(r.Context(), principal, assetID); err != nil {
		log.Printf("level=warn component=api endpoint=retire_asset outcome=failed principal=%s asset_id=%s err=%v", principal, assetID, err)
		h.writeAssetError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=retire_asset outcome=retired principal=%s asset_id=%s", principal, assetID)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "retired": true})
}

// EmergencyTransferHandler reassigns asset ownership. Administrator only.
func (h *RegistryHandlers) EmergencyTransferHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}
	assetID := chi.URLParam(r, "assetID")

	var req domain.EmergencyTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	asset, err := h.service.EmergencyTransferOwnership(r.Context(), principal, assetID, req.NewOwner)
	if err != nil {
		log.Printf("level=warn component=api endpoint=emergency_transfer outcome=failed principal=%s asset_id=%s err=%v", principal, assetID, err)
		if errors.Is(err, app.ErrInvalidIdentity) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeAssetError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=emergency_transfer outcome=reassigned principal=%s asset_id=%s new_owner=%s", principal, assetID, asset.Owner)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "owner": asset.Owner})
}

// GetBalanceHandler returns a holder's balance for an asset, zero by default.
func (h *RegistryHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	holder := chi.URLParam(r, "holder")

	balance, err := h.service.BalanceOf(r.Context(), assetID, holder)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_balance asset_id=%s holder=%s err=%v", assetID, holder, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "holder": holder, "balance": balance})
}

// ListBalancesHandler returns every non-zero holder balance for an asset.
func (h *RegistryHandlers) ListBalancesHandler(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	balances, err := h.service.ListBalances(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			h.writeError(w, http.StatusNotFound, "Asset not found")
			return
		}
		log.Printf("level=error component=api endpoint=list_balances asset_id=%s err=%v", assetID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "balances": balances})
}

// CheckComplianceHandler evaluates the transfer compliance predicate.
// Query parameters: sender, recipient, amount.
func (h *RegistryHandlers) CheckComplianceHandler(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	sender := r.URL.Query().Get("sender")
	recipient := r.URL.Query().Get("recipient")
	amountStr := r.URL.Query().Get("amount")

	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid amount parameter", http.StatusBadRequest)
		return
	}

	compliant, err := h.service.CheckCompliance(r.Context(), assetID, sender, recipient, amount)
	if err != nil {
		log.Printf("level=error component=api endpoint=check_compliance asset_id=%s err=%v", assetID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "compliant": compliant})
}

// ListTransfersHandler returns the asset's slice of the transfer history log.
// Query parameters: limit, offset.
func (h *RegistryHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.service.ListTransfers(r.Context(), assetID, limit, offset)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			h.writeError(w, http.StatusNotFound, "Asset not found")
			return
		}
		log.Printf("level=error component=api endpoint=list_transfers asset_id=%s err=%v", assetID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "transfers": records})
}

// AddVerifierHandler activates a verifier directory entry. Administrator only.
func (h *RegistryHandlers) AddVerifierHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}

	var req domain.AddVerifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	entry, err := h.service.AddVerifier(r.Context(), principal, req.Identity)
	if err != nil {
		log.Printf("level=warn component=api endpoint=add_verifier outcome=failed principal=%s identity=%s err=%v", principal, req.Identity, err)
		if errors.Is(err, app.ErrNotAuthorized) {
			h.writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if errors.Is(err, app.ErrInvalidIdentity) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=add_verifier outcome=added principal=%s identity=%s", principal, entry.Identity)
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"identity": entry.Identity, "added": true})
}

// RemoveVerifierHandler deactivates a verifier directory entry. Administrator only.
func (h *RegistryHandlers) RemoveVerifierHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get principal from context", http.StatusInternalServerError)
		return
	}
	identity := chi.URLParam(r, "identity")

	if err := h.service.RemoveVerifier(r.Context(), principal, identity); err != nil {
		log.Printf("level=warn component=api endpoint=remove_verifier outcome=failed principal=%s identity=%s err=%v", principal, identity, err)
		if errors.Is(err, app.ErrNotAuthorized) {
			h.writeError(w, http.StatusForbidden, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=remove_verifier outcome=removed principal=%s identity=%s", principal, identity)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"identity": identity, "removed": true})
}

// GetVerifierHandler returns a verifier directory entry.
func (h *RegistryHandlers) GetVerifierHandler(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	entry, err := h.service.GetVerifier(r.Context(), identity)
	if err != nil {
		if errors.Is(err, store.ErrVerifierNotFound) {
			h.writeError(w, http.StatusNotFound, "Verifier not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_verifier identity=%s err=%v", identity, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// StatsHandler reports the registry-wide counters.
func (h *RegistryHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=stats err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// writeAssetError maps the shared asset-level failure kinds to HTTP statuses.
func (h *RegistryHandlers) writeAssetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAssetNotFound):
		h.writeError(w, http.StatusNotFound, "Asset not found")
	case errors.Is(err, app.ErrNotAuthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrAssetRetired):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrAssetNotVerified):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *RegistryHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *RegistryHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
