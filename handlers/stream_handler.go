package handlers

import (
	"context"
	"net/http"

	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/services"
)

// TransferLister expõe o histórico de pagamentos de um stream.
type TransferLister interface {
	TransfersByStream(ctx context.Context, streamID uint64) ([]models.Transfer, error)
}

// StreamHandler lida com requisições HTTP relacionadas a streams.
type StreamHandler struct {
	Service   *services.StreamingService
	Transfers TransferLister
}

// NewStreamHandler cria uma nova instância do handler de streams.
func NewStreamHandler(s *services.StreamingService, transfers TransferLister) *StreamHandler {
	return &StreamHandler{Service: s, Transfers: transfers}
}

// CreateStream abre um stream com o chamador como sender.
// POST /streams
func (h *StreamHandler) CreateStream(w http.ResponseWriter, r *http.Request) {
	sender, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var requestBody struct {
		Recipient   string `json:"recipient"`
		TotalAmount int64  `json:"total_amount"`
		Duration    int64  `json:"duration"`
	}
	if err := decodeBody(r, &requestBody); err != nil {
		writeError(w, err)
		return
	}

	stream, err := h.Service.CreateStream(r.Context(), sender, requestBody.Recipient, requestBody.TotalAmount, requestBody.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newStreamResponse(stream))
}

// GetStream retorna o registro do stream.
// GET /streams/{id}
func (h *StreamHandler) GetStream(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	stream, err := h.Service.GetStreamInfo(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStreamResponse(stream))
}

// GetStatus retorna os saldos calculados agora.
// GET /streams/{id}/status
func (h *StreamHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.Service.GetStreamStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(view))
}

// GetTransfers lista os pagamentos do stream e o estado da entrega on-chain.
// GET /streams/{id}/transfers
func (h *StreamHandler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Service.GetStreamInfo(id); err != nil {
		writeError(w, err)
		return
	}
	transfers, err := h.Transfers.TransfersByStream(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferResponses(transfers))
}

// Claim saca o acumulado.
// POST /streams/{id}/claim
func (h *StreamHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := streamCall(w, r)
	if !ok {
		return
	}
	receipt, err := h.Service.Claim(r.Context(), id, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// Cancel liquida o stream.
// POST /streams/{id}/cancel
func (h *StreamHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := streamCall(w, r)
	if !ok {
		return
	}
	receipt, err := h.Service.Cancel(r.Context(), id, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// FlashAdvance adianta parte do acúmulo futuro ao recipient.
// POST /streams/{id}/advance
func (h *StreamHandler) FlashAdvance(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := streamCall(w, r)
	if !ok {
		return
	}
	var requestBody struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeBody(r, &requestBody); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := h.Service.FlashAdvance(r.Context(), id, caller, requestBody.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

func streamCall(w http.ResponseWriter, r *http.Request) (uint64, string, bool) {
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, err)
		return 0, "", false
	}
	caller, err := principal(r)
	if err != nil {
		writeError(w, err)
		return 0, "", false
	}
	return id, caller, true
}
