package models

import "time"

// StreamStatus é o estado de um stream na máquina de estados do ledger.
type StreamStatus string

const (
	StreamActive    StreamStatus = "active"
	StreamCancelled StreamStatus = "cancelled"
	StreamFrozen    StreamStatus = "frozen"
)

// Stream representa um fluxo contínuo de pagamento de um pagador (Sender) para um
// recebedor (Recipient), com o valor total mantido em custódia (escrow).
// Todas as quantias estão em octas (10^-8 da unidade de exibição).
type Stream struct {
	ID              uint64       `json:"id" db:"id"`
	Sender          string       `json:"sender" db:"sender"`
	Recipient       string       `json:"recipient" db:"recipient"`
	TotalAmount     int64        `json:"total_amount" db:"total_amount"`
	FlowRate        int64        `json:"flow_rate" db:"flow_rate"` // octas por segundo
	StartTime       int64        `json:"start_time" db:"start_time"`
	StopTime        int64        `json:"stop_time" db:"stop_time"`
	AmountWithdrawn int64        `json:"amount_withdrawn" db:"amount_withdrawn"` // saques + adiantamentos
	AmountRefunded  int64        `json:"amount_refunded" db:"amount_refunded"`   // devolvido ao Sender no cancelamento
	Status          StreamStatus `json:"status" db:"status"`
	FreezeReason    string       `json:"freeze_reason,omitempty" db:"freeze_reason"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// Duration retorna a duração total do stream em segundos.
func (s Stream) Duration() int64 {
	return s.StopTime - s.StartTime
}

// StreamStatusView é a visão calculada de um stream em um instante (getStreamStatus).
type StreamStatusView struct {
	StreamID      uint64       `json:"stream_id"`
	Status        StreamStatus `json:"status"`
	Accrued       int64        `json:"accrued"`
	Claimable     int64        `json:"claimable"`
	EscrowBalance int64        `json:"escrow_balance"`
	Remaining     int64        `json:"remaining"`
	IsActive      bool         `json:"is_active"`
	IsFrozen      bool         `json:"is_frozen"`
	AsOf          int64        `json:"as_of"`
}
