/**
 * @description
 * This file sets up the HTTP router for the registry-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies the shared middleware for logging, panic recovery, CORS, and
 * authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for chi.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegistryRoutes creates and returns a new router for the registry service.
func RegistryRoutes(h *RegistryHandlers, jwtSecret, jwtIssuer, jwtAudience string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret, jwtIssuer, jwtAudience))

		// Asset lifecycle endpoints
		r.Post("/assets", h.RegisterAssetHandler)
		r.Get("/assets/{assetID}", h.GetAssetHandler)
		r.Put("/assets/{assetID}/metadata", h.UpdateMetadataHandler)
		r.Post("/assets/{assetID}/verify", h.VerifyAssetHandler)
		r.Post("/assets/{assetID}/tokenize", h.TokenizeAssetHandler)
		r.Post("/assets/{assetID}/retire", h.RetireAssetHandler)
		r.Post("/assets/{assetID}/owner", h.EmergencyTransferHandler)

		// Token ledger endpoints
		r.Post("/assets/{assetID}/transfers", h.TransferTokensHandler)
		r.Get("/assets/{assetID}/transfers", h.ListTransfersHandler)
		r.Get("/assets/{assetID}/balances", h.ListBalancesHandler)
		r.Get("/assets/{assetID}/balances/{holder}", h.GetBalanceHandler)
		r.Get("/assets/{assetID}/compliance", h.CheckComplianceHandler)

		// Verifier directory endpoints
		r.Post("/verifiers", h.AddVerifierHandler)
		r.Delete("/verifiers/{identity}", h.RemoveVerifierHandler)
		r.Get("/verifiers/{identity}", h.GetVerifierHandler)

		// Registry counters
		r.Get("/stats", h.StatsHandler)
	})

	return r
}
