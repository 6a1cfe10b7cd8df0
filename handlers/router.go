package handlers

import (
	"net/http"

	"github.com/ferreirogomes/tiquin-streams/observability"
	"github.com/ferreirogomes/tiquin-streams/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/yasserelgammal/rate-limiter/limiter"
)

// NewRouter monta todas as rotas HTTP do serviço.
func NewRouter(service *services.StreamingService, transfers TransferLister, access *limiter.TokenBucket, logger zerolog.Logger) http.Handler {
	streamHandler := NewStreamHandler(service, transfers)
	adminHandler := NewAdminHandler(service)
	assetHandler := NewAssetHandler(service, access)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/streams", func(r chi.Router) {
		r.Post("/", streamHandler.CreateStream)
		r.Get("/{id}", streamHandler.GetStream)
		r.Get("/{id}/status", streamHandler.GetStatus)
		r.Get("/{id}/transfers", streamHandler.GetTransfers)
		r.Post("/{id}/claim", streamHandler.Claim)
		r.Post("/{id}/cancel", streamHandler.Cancel)
		r.Post("/{id}/advance", streamHandler.FlashAdvance)
	})

	r.Route("/admin/streams", func(r chi.Router) {
		r.Post("/{id}/freeze", adminHandler.Freeze)
		r.Post("/{id}/unfreeze", adminHandler.Unfreeze)
		r.Post("/{id}/terminate", adminHandler.Terminate)
	})

	r.Route("/assets/{assetID}", func(r chi.Router) {
		r.Get("/", assetHandler.GetAsset)
		r.Post("/yield", assetHandler.RegisterYieldStream)
		r.Post("/owner", assetHandler.TransferOwnership)
		r.Post("/rentals", assetHandler.StartRental)
		r.Delete("/rentals", assetHandler.EndRental)
		r.Get("/rental", assetHandler.GetActiveRental)
		r.Get("/access/{streamID}", assetHandler.CheckAccess)
	})

	return r
}
