package handlers

import (
	"net/http"
	"time"

	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/services"

	"github.com/go-chi/chi/v5"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// AssetHandler lida com requisições HTTP relacionadas a ativos e aluguéis.
type AssetHandler struct {
	Service *services.StreamingService
	Access  *limiter.TokenBucket
}

// NewAssetHandler cria uma nova instância do handler de ativos.
func NewAssetHandler(s *services.StreamingService, access *limiter.TokenBucket) *AssetHandler {
	return &AssetHandler{Service: s, Access: access}
}

// NewAccessLimiter limita as consultas de acesso por ativo (fechaduras e veículos
// consultam em polling).
func NewAccessLimiter(ratePerMinute, burst int64) (*limiter.TokenBucket, error) {
	return limiter.NewTokenBucket(
		limiter.Config{
			Rate:     ratePerMinute,
			Duration: time.Minute,
			Burst:    burst,
		},
		store.NewMemoryStore(time.Minute),
	)
}

// RegisterYieldStream vincula o stream de rendimento ao ativo.
// POST /assets/{assetID}/yield
func (h *AssetHandler) RegisterYieldStream(w http.ResponseWriter, r *http.Request) {
	caller, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var requestBody struct {
		StreamID    uint64 `json:"stream_id"`
		AssetType   string `json:"asset_type"`
		MetadataURI string `json:"metadata_uri"`
	}
	if err := decodeBody(r, &requestBody); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.Service.RegisterYieldStream(r.Context(), caller, chi.URLParam(r, "assetID"),
		requestBody.StreamID, requestBody.AssetType, requestBody.MetadataURI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GetAsset obtém a entrada do índice de um ativo.
// GET /assets/{assetID}
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Service.GetAsset(chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// TransferOwnership troca o dono do ativo.
// POST /assets/{assetID}/owner
func (h *AssetHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var requestBody struct {
		Owner string `json:"owner"`
	}
	if err := decodeBody(r, &requestBody); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.Service.TransferOwnership(r.Context(), caller, chi.URLParam(r, "assetID"), requestBody.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// StartRental abre um aluguel com o chamador como inquilino.
// POST /assets/{assetID}/rentals
func (h *AssetHandler) StartRental(w http.ResponseWriter, r *http.Request) {
	tenant, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var requestBody struct {
		PaymentAmount int64 `json:"payment_amount"`
		Duration      int64 `json:"duration"`
	}
	if err := decodeBody(r, &requestBody); err != nil {
		writeError(w, err)
		return
	}

	entry, stream, err := h.Service.StartRental(r.Context(), chi.URLParam(r, "assetID"), tenant,
		requestBody.PaymentAmount, requestBody.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Asset  models.TokenIndexEntry `json:"asset"`
		Stream streamResponse         `json:"stream"`
	}{Asset: entry, Stream: newStreamResponse(stream)})
}

// EndRental encerra o aluguel corrente.
// DELETE /assets/{assetID}/rentals
func (h *AssetHandler) EndRental(w http.ResponseWriter, r *http.Request) {
	caller, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := h.Service.EndRental(r.Context(), chi.URLParam(r, "assetID"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// GetActiveRental informa se o ativo está alugado agora.
// GET /assets/{assetID}/rental
func (h *AssetHandler) GetActiveRental(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	if _, err := h.Service.GetAsset(assetID); err != nil {
		writeError(w, err)
		return
	}
	rented, streamID := h.Service.GetActiveRental(assetID)

	response := struct {
		AssetID  string          `json:"asset_id"`
		Rented   bool            `json:"rented"`
		StreamID uint64          `json:"stream_id,omitempty"`
		Status   *statusResponse `json:"status,omitempty"`
	}{AssetID: assetID, Rented: rented, StreamID: streamID}

	if streamID != 0 {
		if view, err := h.Service.GetStreamStatus(streamID); err == nil {
			status := newStatusResponse(view)
			response.Status = &status
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// CheckAccess responde à consulta de acesso físico. Ids desconhecidos respondem false.
// GET /assets/{assetID}/access/{streamID}
func (h *AssetHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	if h.Access != nil && !h.Access.Allow(assetID) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited", Message: "muitas consultas de acesso para " + assetID})
		return
	}
	streamID, err := uintParam(r, "streamID")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		AssetID  string `json:"asset_id"`
		StreamID uint64 `json:"stream_id"`
		Access   bool   `json:"access"`
	}{AssetID: assetID, StreamID: streamID, Access: h.Service.CheckAccess(streamID, assetID)})
}
