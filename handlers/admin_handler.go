package handlers

import (
	"net/http"

	"github.com/ferreirogomes/tiquin-streams/services"
)

// AdminHandler expõe as operações administrativas sobre streams.
type AdminHandler struct {
	Service *services.StreamingService
}

// NewAdminHandler cria uma nova instância do handler administrativo.
func NewAdminHandler(s *services.StreamingService) *AdminHandler {
	return &AdminHandler{Service: s}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Freeze congela o stream.
// POST /admin/streams/{id}/freeze
func (h *AdminHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := streamCall(w, r)
	if !ok {
		return
	}
	var requestBody reasonRequest
	if err := decodeBody(r, &requestBody); err != nil {
		writeError(w, err)
		return
	}
	stream, err := h.Service.Freeze(r.Context(), caller, id, requestBody.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStreamResponse(stream))
}

// Unfreeze reativa o stream.
// POST /admin/streams/{id}/unfreeze
func (h *AdminHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := streamCall(w, r)
	if !ok {
		return
	}
	stream, err := h.Service.Unfreeze(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStreamResponse(stream))
}

// Terminate liquida o stream por decisão administrativa.
// POST /admin/streams/{id}/terminate
func (h *AdminHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := streamCall(w, r)
	if !ok {
		return
	}
	var requestBody reasonRequest
	if err := decodeBody(r, &requestBody); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := h.Service.Terminate(r.Context(), caller, id, requestBody.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}
