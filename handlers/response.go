package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ferreirogomes/tiquin-streams/ledger"
	"github.com/ferreirogomes/tiquin-streams/models"
	"github.com/ferreirogomes/tiquin-streams/registry"
	"github.com/ferreirogomes/tiquin-streams/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PrincipalHeader carrega a identidade do chamador. A verificação da assinatura da
// carteira acontece antes, no gateway.
const PrincipalHeader = "X-Principal"

var errMissingPrincipal = fmt.Errorf("%w: cabeçalho %s ausente", ledger.ErrUnauthorized, PrincipalHeader)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type streamResponse struct {
	models.Stream
	TotalAmountDisplay     string `json:"total_amount_display"`
	FlowRateDisplay        string `json:"flow_rate_display"`
	AmountWithdrawnDisplay string `json:"amount_withdrawn_display"`
	AmountRefundedDisplay  string `json:"amount_refunded_display"`
}

func newStreamResponse(s models.Stream) streamResponse {
	return streamResponse{
		Stream:                 s,
		TotalAmountDisplay:     models.FormatOctas(s.TotalAmount),
		FlowRateDisplay:        models.FormatOctas(s.FlowRate),
		AmountWithdrawnDisplay: models.FormatOctas(s.AmountWithdrawn),
		AmountRefundedDisplay:  models.FormatOctas(s.AmountRefunded),
	}
}

type statusResponse struct {
	models.StreamStatusView
	AccruedDisplay       string `json:"accrued_display"`
	ClaimableDisplay     string `json:"claimable_display"`
	EscrowBalanceDisplay string `json:"escrow_balance_display"`
	RemainingDisplay     string `json:"remaining_display"`
}

func newStatusResponse(v models.StreamStatusView) statusResponse {
	return statusResponse{
		StreamStatusView:     v,
		AccruedDisplay:       models.FormatOctas(v.Accrued),
		ClaimableDisplay:     models.FormatOctas(v.Claimable),
		EscrowBalanceDisplay: models.FormatOctas(v.EscrowBalance),
		RemainingDisplay:     models.FormatOctas(v.Remaining),
	}
}

type transferResponse struct {
	models.Transfer
	AmountDisplay string `json:"amount_display"`
}

func newTransferResponses(ts []models.Transfer) []transferResponse {
	out := make([]transferResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, transferResponse{Transfer: t, AmountDisplay: models.FormatOctas(t.Amount)})
	}
	return out
}

type receiptResponse struct {
	Stream    streamResponse     `json:"stream"`
	Transfers []transferResponse `json:"transfers"`
}

func newReceiptResponse(r ledger.Receipt) receiptResponse {
	return receiptResponse{Stream: newStreamResponse(r.Stream), Transfers: newTransferResponses(r.Transfers)}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("falha ao escrever resposta")
	}
}

// writeError traduz os erros de domínio para status HTTP.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("erro interno")
	}
	writeJSON(w, status, errorResponse{Error: kind, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrStreamNotFound):
		return http.StatusNotFound, "stream_not_found"
	case errors.Is(err, registry.ErrAssetNotFound):
		return http.StatusNotFound, "asset_not_found"
	case errors.Is(err, services.ErrComplianceDenied):
		return http.StatusForbidden, "compliance_denied"
	case errors.Is(err, services.ErrComplianceUnavailable):
		return http.StatusServiceUnavailable, "compliance_unavailable"
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidDuration):
		return http.StatusBadRequest, "invalid_duration"
	case errors.Is(err, ledger.ErrInvalidPrincipal):
		return http.StatusBadRequest, "invalid_principal"
	case errors.Is(err, registry.ErrInvalidAsset), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ledger.ErrStreamFrozen):
		return http.StatusConflict, "stream_frozen"
	case errors.Is(err, ledger.ErrStreamNotFrozen):
		return http.StatusConflict, "stream_not_frozen"
	case errors.Is(err, ledger.ErrStreamNotActive):
		return http.StatusConflict, "stream_not_active"
	case errors.Is(err, registry.ErrAlreadyRented):
		return http.StatusConflict, "already_rented"
	case errors.Is(err, registry.ErrNoActiveRental):
		return http.StatusConflict, "no_active_rental"
	case errors.Is(err, registry.ErrYieldStreamExists):
		return http.StatusConflict, "yield_stream_exists"
	case errors.Is(err, registry.ErrStreamAlreadyUsed):
		return http.StatusConflict, "stream_already_used"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

var errBadRequest = errors.New("requisição inválida")

// decodeBody aceita corpo vazio: os campos ficam com o valor zero.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func principal(r *http.Request) (string, error) {
	p := strings.TrimSpace(r.Header.Get(PrincipalHeader))
	if p == "" {
		return "", errMissingPrincipal
	}
	return p, nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s inválido: %q", errBadRequest, name, raw)
	}
	return id, nil
}
